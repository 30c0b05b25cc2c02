package inject

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/cuemby/flotilla/pkg/log"
	"github.com/cuemby/flotilla/pkg/naming"
	"github.com/cuemby/flotilla/pkg/storage"
	"github.com/cuemby/flotilla/pkg/types"
)

// Result carries the connection variables to merge into a deploy's
// environment, plus warnings for siblings that could not be wired.
type Result struct {
	Env      map[string]string
	Warnings []string
}

// Injector resolves a project's stateful siblings into connection URL
// environment variables.
type Injector struct {
	store storage.Store
}

// New creates an injector over the control-plane store.
func New(store storage.Store) *Injector {
	return &Injector{store: store}
}

// Inject builds the env map for deploying selfServiceID into env.
// Every live stateful sibling that has a successful deployment in the
// same env contributes one variable (REDIS_URL, DATABASE_URL, ...)
// pointing at the sibling's first node. A sibling without a success
// yields a warning instead; warnings never fail a deploy.
//
// targetNodeID, when set, names the single node the deploy lands on;
// a sibling living on that same node is wired as localhost.
func (i *Injector) Inject(project *types.Project, env, selfServiceID, targetNodeID string) (*Result, error) {
	services, err := i.store.ListServicesForProject(project.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list services for project %s: %w", project.ID, err)
	}

	siblings := lo.Filter(services, func(svc *types.Service, _ int) bool {
		return svc.ID != selfServiceID && !svc.Deleted() && !svc.Type.Stateless()
	})
	sort.Slice(siblings, func(a, b int) bool { return siblings[a].Name < siblings[b].Name })

	result := &Result{Env: make(map[string]string)}
	for _, svc := range siblings {
		varName := naming.EnvVarName(svc.Type, svc.Name)
		if varName == "" {
			continue
		}

		deployment, err := i.store.GetLatestSuccess(svc.ID, env)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				result.Warnings = append(result.Warnings, notInjected(svc, varName))
				continue
			}
			return nil, err
		}

		host, ok := i.resolveHost(deployment, targetNodeID)
		if !ok {
			result.Warnings = append(result.Warnings, notInjected(svc, varName))
			continue
		}

		port := naming.HostPort(project.WorkspaceID, project.Name, svc.Name, env, deployment.Version, svc.Type)
		result.Env[varName] = naming.BuildURL(svc.Type, host, port, svc.Name)
	}
	return result, nil
}

// resolveHost picks the address a sibling is reached at: localhost
// when colocated with the target node, else the first node's private
// IP, falling back to its public IP, then localhost.
func (i *Injector) resolveHost(deployment *types.Deployment, targetNodeID string) (string, bool) {
	if len(deployment.NodeIDs) == 0 {
		return "", false
	}
	nodeID := deployment.NodeIDs[0]
	if targetNodeID != "" && targetNodeID == nodeID {
		return "localhost", true
	}

	node, err := i.store.GetNode(nodeID)
	if err != nil {
		log.Debug().Str("node_id", nodeID).Err(err).Msg("Sibling node missing, skipping injection")
		return "", false
	}
	switch {
	case node.PrivateIP != "":
		return node.PrivateIP, true
	case node.PublicIP != "":
		return node.PublicIP, true
	default:
		return "localhost", true
	}
}

func notInjected(svc *types.Service, varName string) string {
	return fmt.Sprintf("%s (%s) not deployed - %s not injected", svc.Name, svc.Type, varName)
}
