package deploy

import (
	"context"
	"fmt"

	"github.com/cuemby/flotilla/pkg/events"
	"github.com/cuemby/flotilla/pkg/types"
)

// RollbackRequest asks for the previous successful version of a
// service to be redeployed.
type RollbackRequest struct {
	ServiceID   string
	Env         string
	TriggeredBy string
}

// Rollback redeploys the image of the success before the current one.
// It is an ordinary forward deploy: a new version is allocated, the
// old image and env are reused, and the pipeline runs end to end with
// is_rollback marked on the row.
func (o *Orchestrator) Rollback(ctx context.Context, req *RollbackRequest, stream *events.Stream) (*types.Deployment, error) {
	current, err := o.store.GetLatestSuccess(req.ServiceID, req.Env)
	if err != nil {
		return o.reject(stream, fmt.Errorf("nothing to roll back: %w", err))
	}
	previous, err := o.store.GetPreviousSuccess(req.ServiceID, req.Env, current.Version)
	if err != nil {
		return o.reject(stream, fmt.Errorf("no earlier version to roll back to: %w", err))
	}

	p, err := o.buildPlan(&Request{
		ServiceID:       req.ServiceID,
		Env:             req.Env,
		ImageName:       previous.ImageName,
		EnvVariables:    previous.EnvVariables,
		ExistingNodeIDs: current.NodeIDs,
		TriggeredBy:     req.TriggeredBy,
	})
	if err != nil {
		return o.reject(stream, err)
	}
	p.isRollback = true

	lockID, err := o.locks.Acquire(p.service.ID, p.env, o.cfg.RollbackTimeout)
	if err != nil {
		return o.reject(stream, fmt.Errorf("%s/%s in %s: %w", p.project.Name, p.service.Name, p.env, err))
	}
	defer o.locks.Release(p.service.ID, p.env, lockID)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RollbackTimeout)
	defer cancel()

	stream.Info("Rolling back %s/%s to the version %d image", p.project.Name, p.service.Name, previous.Version)
	return o.run(ctx, p, stream)
}
