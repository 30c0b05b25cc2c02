package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/flotilla/pkg/deploy"
	"github.com/cuemby/flotilla/pkg/events"
)

// DeployBody is the wire form of a deploy request. ImageBlob rides as
// base64 in the JSON, which is what encoding/json does for []byte.
type DeployBody struct {
	ServiceID       string            `json:"service_id"`
	Env             string            `json:"env"`
	ImageName       string            `json:"image_name"`
	ImageBlob       []byte            `json:"image_blob,omitempty"`
	EnvVariables    map[string]string `json:"env_variables,omitempty"`
	ExistingNodeIDs []string          `json:"existing_node_ids,omitempty"`
	NewNodes        *NodeSpecBody     `json:"new_nodes,omitempty"`
	TriggeredBy     string            `json:"triggered_by,omitempty"`
}

// NodeSpecBody asks for droplets to be provisioned as part of the
// deploy. An empty snapshot_id falls back to the base snapshot.
type NodeSpecBody struct {
	Count      int    `json:"count"`
	Region     string `json:"region"`
	Size       string `json:"size"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// RollbackBody is the wire form of a rollback request. The service
// rides in the URL.
type RollbackBody struct {
	Env         string `json:"env"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// ScaleBody is the wire form of a scale request. Region and size are
// only needed when scaling up.
type ScaleBody struct {
	Env         string `json:"env"`
	TargetCount int    `json:"target_count"`
	Region      string `json:"region,omitempty"`
	Size        string `json:"size,omitempty"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var body DeployBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := &deploy.Request{
		ServiceID:       body.ServiceID,
		Env:             body.Env,
		ImageBlob:       body.ImageBlob,
		ImageName:       body.ImageName,
		EnvVariables:    body.EnvVariables,
		ExistingNodeIDs: body.ExistingNodeIDs,
		TriggeredBy:     body.TriggeredBy,
	}
	if body.NewNodes != nil {
		req.NewNodes = &deploy.NodeSpec{
			Count:      body.NewNodes.Count,
			Region:     body.NewNodes.Region,
			Size:       body.NewNodes.Size,
			SnapshotID: body.NewNodes.SnapshotID,
		}
	}

	s.stream(w, r, func(ctx context.Context, stream *events.Stream) {
		_, _ = s.orch.Deploy(ctx, req, stream)
	})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var body RollbackBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := &deploy.RollbackRequest{
		ServiceID:   chi.URLParam(r, "service"),
		Env:         body.Env,
		TriggeredBy: body.TriggeredBy,
	}

	s.stream(w, r, func(ctx context.Context, stream *events.Stream) {
		_, _ = s.orch.Rollback(ctx, req, stream)
	})
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	var body ScaleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := &deploy.ScaleRequest{
		ServiceID:   chi.URLParam(r, "service"),
		Env:         body.Env,
		TargetCount: body.TargetCount,
		Region:      body.Region,
		Size:        body.Size,
		SnapshotID:  body.SnapshotID,
		TriggeredBy: body.TriggeredBy,
	}

	s.stream(w, r, func(ctx context.Context, stream *events.Stream) {
		_, _ = s.orch.Scale(ctx, req, stream)
	})
}
