package storage

import (
	"errors"
	"time"

	"github.com/cuemby/flotilla/pkg/types"
)

// ErrNotFound is wrapped by every lookup that misses, so callers can
// distinguish a missing entity from an I/O failure with errors.Is.
var ErrNotFound = errors.New("not found")

// Store defines the interface for control-plane state storage.
// Implemented by BoltDB-backed storage; the orchestrator, injector,
// and monitor consume it, never the bolt handle directly.
type Store interface {
	// Projects
	CreateProject(project *types.Project) error
	GetProject(id string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)
	UpdateProject(project *types.Project) error

	// Services
	CreateService(service *types.Service) error
	GetService(id string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	ListServicesForProject(projectID string) ([]*types.Service, error)
	UpdateService(service *types.Service) error

	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	ListNodesForWorkspace(workspaceID string) ([]*types.Node, error)
	ListNodesForDeployment(deployment *types.Deployment) ([]*types.Node, error)
	ListActiveWorkspaceIDs() ([]string, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Deployments
	CreateDeployment(deployment *types.Deployment) error
	GetDeployment(id string) (*types.Deployment, error)
	ListDeployments() ([]*types.Deployment, error)
	UpdateDeployment(deployment *types.Deployment) error
	NextVersion(serviceID, env string) (int, error)
	GetLatestSuccess(serviceID, env string) (*types.Deployment, error)
	GetPreviousSuccess(serviceID, env string, beforeVersion int) (*types.Deployment, error)

	// Containers, keyed by (node_id, container_name)
	UpsertContainer(container *types.Container) error
	GetContainer(nodeID, name string) (*types.Container, error)
	ListContainers() ([]*types.Container, error)
	ListContainersForDeployment(deploymentID string) ([]*types.Container, error)
	ListContainersForNode(nodeID string) ([]*types.Container, error)
	DeleteContainerBy(nodeID, name string) error

	// Snapshots
	CreateSnapshot(snapshot *types.Snapshot) error
	GetSnapshot(id string) (*types.Snapshot, error)
	GetBaseSnapshot(workspaceID, region string) (*types.Snapshot, error)
	DeleteSnapshot(id string) error

	// Health-check history
	RecordCheck(record *types.CheckRecord) error
	ListChecksForTarget(targetID string) ([]*types.CheckRecord, error)
	PruneChecksBefore(cutoff time.Time) (int, error)

	// Utility
	Close() error
}
