/*
Package types defines the core data structures used throughout Flotilla.

This package contains the domain model of the control plane: projects,
services, nodes, deployments, containers, snapshots, and health-check
records. These types are used by all other packages for state management
and orchestration logic.

# Core Types

Tenancy and workloads:
  - Project: Tenant-scoped grouping of services
  - Service: Deployable unit with a ServiceType
  - ServiceType: webservice, worker, schedule, redis, postgres, mysql, mongodb

Fleet:
  - Node: Cloud VM (a droplet) running the node agent
  - NodeStatus: active, inactive, provisioning, error
  - Snapshot: Provider image used as the base for new nodes

Deployment state:
  - Deployment: One versioned placement of a service in an environment
  - DeploymentStatus: pending, in_progress, success, failed, cancelled
  - Container: Runtime incarnation of a deployment on one node
  - HealthState: healthy, unhealthy, unknown, problematic

# Classification

ServiceType drives two orthogonal decisions:

	Stateless()  — blue/green deploys, version-suffixed host port
	Webservice() — fronts nginx on the nodes and an edge-CDN domain

Stateful types (redis, postgres, mysql, mongodb) keep a version-stable
host port so sibling services can be wired to them by URL; they are
replaced in place with a brief outage.

# Deployment State Machine

	pending → in_progress → success
	                      ↘ failed
	                      ↘ cancelled (caller abort before traffic switch)

Version numbers are allocated monotonically per (service, env) under the
deploy lock; a rollback is a forward deploy of a past image with a new
version and IsRollback set.

# Ownership

The deploy orchestrator owns writes to Deployment and Container rows
during an active deploy. The health monitor is the only other writer to
Container and Node health fields; the two touch disjoint field sets, so
last-write-wins on the row is acceptable.

# Design Patterns

All enums use typed string constants:

	type DeploymentStatus string
	const (
	    DeploymentStatusPending DeploymentStatus = "pending"
	    ...
	)

Soft deletion uses *time.Time (nil = live). Dynamic fields that persist
as opaque JSON columns (EnvVariables, NodeIDs) are typed maps and slices
in memory; the storage layer serializes them at the boundary.

# See Also

  - pkg/storage for persistence
  - pkg/deploy for the orchestrator that drives these states
  - pkg/monitor for the health fields' writer
*/
package types
