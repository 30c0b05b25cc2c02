package types

import (
	"time"
)

// Project is a tenant-scoped grouping of services.
type Project struct {
	ID          string
	WorkspaceID string
	Name        string // unique within the workspace
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Deleted reports whether the project has been soft-deleted.
func (p *Project) Deleted() bool {
	return p.DeletedAt != nil
}

// Service is a deployable unit inside a project.
type Service struct {
	ID        string
	ProjectID string
	Name      string // unique within the project
	Type      ServiceType
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the service has been soft-deleted.
func (s *Service) Deleted() bool {
	return s.DeletedAt != nil
}

// ServiceType classifies what a service runs and how it is deployed.
type ServiceType string

const (
	ServiceTypeWebservice ServiceType = "webservice"
	ServiceTypeWorker     ServiceType = "worker"
	ServiceTypeSchedule   ServiceType = "schedule"
	ServiceTypeRedis      ServiceType = "redis"
	ServiceTypePostgres   ServiceType = "postgres"
	ServiceTypeMySQL      ServiceType = "mysql"
	ServiceTypeMongoDB    ServiceType = "mongodb"
)

// Stateless reports whether the type is deployed blue/green.
// Stateful types keep a version-stable host port and are replaced in place.
func (t ServiceType) Stateless() bool {
	switch t {
	case ServiceTypeWebservice, ServiceTypeWorker, ServiceTypeSchedule:
		return true
	}
	return false
}

// Webservice reports whether the type fronts nginx and DNS.
func (t ServiceType) Webservice() bool {
	return t == ServiceTypeWebservice
}

// Node is a cloud VM under control-plane management.
type Node struct {
	ID          string
	WorkspaceID string
	ProviderID  string // cloud provider droplet id
	PublicIP    string
	PrivateIP   string
	Region      string
	Size        string
	VPCID       string
	SnapshotID  string
	Status      NodeStatus

	// Health fields, written by the monitor.
	HealthStatus      HealthState
	FailureCount      int
	LastRebootAt      time.Time
	ProblematicReason string
	FlaggedAt         time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the node has been soft-deleted.
func (n *Node) Deleted() bool {
	return n.DeletedAt != nil
}

// NodeStatus represents the provisioning state of a node.
type NodeStatus string

const (
	NodeStatusActive       NodeStatus = "active"
	NodeStatusInactive     NodeStatus = "inactive"
	NodeStatusProvisioning NodeStatus = "provisioning"
	NodeStatusError        NodeStatus = "error"
)

// HealthState is the monitor's verdict on a node or container.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"

	// HealthProblematic means the automatic restart/reboot budget is
	// exhausted; the target waits for operator intervention.
	HealthProblematic HealthState = "problematic"
)

// Deployment is one attempt to place a version of a service in an env.
type Deployment struct {
	ID            string
	ServiceID     string
	Env           string
	Version       int // monotonic per (service_id, env)
	ImageName     string
	ContainerName string
	Domain        string
	EnvVariables  map[string]string
	NodeIDs       []string // ordered; scale-down trims LIFO
	IsRollback    bool
	Status        DeploymentStatus
	Error         string
	Log           string
	TriggeredBy   string
	TriggeredAt   time.Time
	CompletedAt   time.Time
}

// DeploymentStatus represents the lifecycle state of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusPending    DeploymentStatus = "pending"
	DeploymentStatusInProgress DeploymentStatus = "in_progress"
	DeploymentStatusSuccess    DeploymentStatus = "success"
	DeploymentStatusFailed     DeploymentStatus = "failed"
	DeploymentStatusCancelled  DeploymentStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case DeploymentStatusSuccess, DeploymentStatusFailed, DeploymentStatusCancelled:
		return true
	}
	return false
}

// Container is the runtime incarnation of a deployment on one node.
// (node_id, name) is unique.
type Container struct {
	ID            string
	Name          string
	NodeID        string
	DeploymentID  string
	ServiceID     string
	Image         string
	ContainerPort int
	HostPort      int
	Status        ContainerStatus

	// Health fields, written by the monitor (and reset by deploys).
	HealthStatus      HealthState
	FailureCount      int
	LastFailureAt     time.Time
	LastFailureReason string
	LastHealthyAt     time.Time
	LastRestartAt     time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContainerStatus represents the runtime state of a container.
type ContainerStatus string

const (
	ContainerStatusPending ContainerStatus = "pending"
	ContainerStatusRunning ContainerStatus = "running"
	ContainerStatusStopped ContainerStatus = "stopped"
	ContainerStatusFailed  ContainerStatus = "failed"
)

// Snapshot is a provider image of a provisioned node, used as the base
// for new nodes. At most one base snapshot per (workspace, region).
type Snapshot struct {
	ID                 string
	WorkspaceID        string
	Region             string
	ProviderSnapshotID string
	IsBase             bool
	IsManaged          bool
	CreatedAt          time.Time
}

// CheckKind distinguishes what a health-check row probed.
type CheckKind string

const (
	CheckKindNode      CheckKind = "node"
	CheckKindContainer CheckKind = "container"
)

// CheckRecord is one health probe result, kept for operator triage and
// pruned on a long interval.
type CheckRecord struct {
	ID        string
	Kind      CheckKind
	TargetID  string // node id or container id
	NodeID    string
	Healthy   bool
	Reason    string
	CheckedAt time.Time
}
