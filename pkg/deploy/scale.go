package deploy

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/flotilla/pkg/events"
	"github.com/cuemby/flotilla/pkg/log"
	"github.com/cuemby/flotilla/pkg/naming"
	"github.com/cuemby/flotilla/pkg/types"
)

// ScaleRequest changes how many nodes run the current version of a
// service. Region, Size, and SnapshotID only matter when scaling up.
type ScaleRequest struct {
	ServiceID   string
	Env         string
	TargetCount int
	Region      string
	Size        string
	SnapshotID  string
	TriggeredBy string
}

// Scale grows or shrinks the node set of the latest successful
// deployment. Scaling up provisions nodes and starts the current
// version on them only; scaling down removes nodes LIFO, so the most
// recently added go first. The deploy lock is held for the whole
// operation.
func (o *Orchestrator) Scale(ctx context.Context, req *ScaleRequest, stream *events.Stream) (*types.Deployment, error) {
	if req.TargetCount < 1 {
		return o.reject(stream, fmt.Errorf("%w: target count must be at least 1", ErrValidation))
	}

	service, err := o.store.GetService(req.ServiceID)
	if err != nil {
		return o.reject(stream, err)
	}
	project, err := o.store.GetProject(service.ProjectID)
	if err != nil {
		return o.reject(stream, err)
	}

	lockID, err := o.locks.Acquire(service.ID, req.Env, o.cfg.RollbackTimeout)
	if err != nil {
		return o.reject(stream, fmt.Errorf("%s/%s in %s: %w", project.Name, service.Name, req.Env, err))
	}
	defer o.locks.Release(service.ID, req.Env, lockID)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RollbackTimeout)
	defer cancel()

	current, err := o.store.GetLatestSuccess(req.ServiceID, req.Env)
	if err != nil {
		return o.reject(stream, fmt.Errorf("nothing to scale: %w", err))
	}

	count := len(current.NodeIDs)
	switch {
	case req.TargetCount == count:
		stream.Info("Service %s/%s already at %d node(s)", project.Name, service.Name, count)
		stream.Complete(true, current.ID, nil)
		return current, nil

	case req.TargetCount > count:
		p, err := o.buildPlan(&Request{
			ServiceID:       req.ServiceID,
			Env:             req.Env,
			ImageName:       current.ImageName,
			EnvVariables:    current.EnvVariables,
			ExistingNodeIDs: current.NodeIDs,
			NewNodes: &NodeSpec{
				Count:      req.TargetCount - count,
				Region:     req.Region,
				Size:       req.Size,
				SnapshotID: req.SnapshotID,
			},
			TriggeredBy: req.TriggeredBy,
		})
		if err != nil {
			return o.reject(stream, err)
		}
		p.scaleUp = true
		p.deployment = current
		p.mergedEnv = current.EnvVariables
		p.version = current.Version
		p.containerName = current.ContainerName
		p.imageName = current.ImageName
		p.hport = naming.HostPort(project.WorkspaceID, project.Name, service.Name, req.Env, current.Version, service.Type)

		stream.Info("Scaling %s/%s from %d to %d node(s)", project.Name, service.Name, count, req.TargetCount)
		return o.run(ctx, p, stream)

	default:
		return o.scaleDown(ctx, service, project, current, req.TargetCount, stream)
	}
}

// scaleDown trims the node list LIFO: containers on the released nodes
// are removed best-effort, the deployment row shrinks, and for
// webservices nginx and DNS are rebuilt around the kept nodes.
func (o *Orchestrator) scaleDown(ctx context.Context, service *types.Service, project *types.Project, current *types.Deployment, target int, stream *events.Stream) (*types.Deployment, error) {
	keep := current.NodeIDs[:target]
	removed := current.NodeIDs[target:]
	stream.Info("Scaling %s/%s from %d to %d node(s)", project.Name, service.Name, len(current.NodeIDs), target)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.DeployFanout)
	for _, nodeID := range removed {
		nodeID := nodeID
		g.Go(func() error {
			node, err := o.store.GetNode(nodeID)
			if err == nil && !node.Deleted() && node.PublicIP != "" {
				if err := o.agents.Get(node.PublicIP).RemoveContainer(gctx, current.ContainerName, true, drainTimeout); err != nil {
					stream.Warn("Failed to remove %s from node %s: %v", current.ContainerName, nodeID, err)
				}
			}
			if err := o.store.DeleteContainerBy(nodeID, current.ContainerName); err != nil {
				log.Warn().Err(err).Str("node_id", nodeID).Msg("Failed to delete released container row")
			}
			stream.Info("Node %s released", nodeID)
			return nil
		})
	}
	_ = g.Wait()

	current.NodeIDs = keep
	if err := o.store.UpdateDeployment(current); err != nil {
		stream.Error("Scale failed: %v", err)
		stream.Complete(false, current.ID, err)
		return current, err
	}

	if service.Type.Webservice() {
		kept, err := o.store.ListNodesForDeployment(current)
		if err != nil {
			stream.Error("Scale failed: %v", err)
			stream.Complete(false, current.ID, err)
			return current, err
		}

		domain := current.Domain
		if domain == "" {
			domain = naming.Domain(project.WorkspaceID, project.Name, service.Name, current.Env, o.cfg.RootDomain)
		}
		hport := naming.HostPort(project.WorkspaceID, project.Name, service.Name, current.Env, current.Version, service.Type)

		upstreams := upstreamIPs(kept)
		err = o.forEachNode(ctx, kept, func(ctx context.Context, node *types.Node) error {
			if err := o.agents.Get(node.PublicIP).ConfigureNginx(ctx, upstreams, hport, domain); err != nil {
				return fmt.Errorf("node %s: %w", node.ID, err)
			}
			return nil
		})
		if err != nil {
			stream.Error("Scale failed: %v", err)
			stream.Complete(false, current.ID, err)
			return current, err
		}
		if err := o.dns.SetupMultiServer(ctx, domain, publicIPs(kept)); err != nil {
			stream.Error("Scale failed: %v", err)
			stream.Complete(false, current.ID, err)
			return current, err
		}
		stream.Info("Domain %s points at %d node(s)", domain, len(kept))
	}

	log.Info().
		Str("service", service.Name).
		Str("env", current.Env).
		Int("nodes", len(keep)).
		Int("released", len(removed)).
		Msg("Scaled down")
	stream.Info("Scale complete: %d node(s)", len(keep))
	stream.Complete(true, current.ID, nil)
	return current, nil
}
