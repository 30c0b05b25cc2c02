/*
Package storage provides BoltDB-backed state persistence for Flotilla's control-plane data.

Everything the control plane knows lives in one bolt file: projects,
services, deployments, nodes, containers, snapshots, and health-check
history, each in its own bucket as JSON keyed by entity ID. The Store
interface is the only way the rest of the codebase touches it.

# Architecture

Flotilla uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            BoltStore                       │           │
	│  │  - File: <dataDir>/flotilla.db             │           │
	│  │  - Format: B+tree with MVCC                │           │
	│  │  - Transactions: ACID with fsync           │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │              Bucket Structure              │           │
	│  │  ┌──────────────────────────────────────┐  │           │
	│  │  │ projects       (Project ID)          │  │           │
	│  │  │ services       (Service ID)          │  │           │
	│  │  │ deployments    (Deployment ID)       │  │           │
	│  │  │ droplets       (Node ID)             │  │           │
	│  │  │ containers     (node_id/name)        │  │           │
	│  │  │ snapshots      (Snapshot ID)         │  │           │
	│  │  │ health_checks  (unixnano/check id)   │  │           │
	│  │  └──────────────────────────────────────┘  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │        Transaction Management              │           │
	│  │  - Read: db.View() - Concurrent reads      │           │
	│  │  - Write: db.Update() - Serialized writes  │           │
	│  │  - Rollback: Automatic on error            │           │
	│  │  - Commit: Automatic on success + fsync    │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - The one Store implementation; everything lives in flotilla.db
  - One file per control-plane process, exclusive flock
  - Buckets are created up front when the file is opened
  - Safe for concurrent use through bolt's transactions

Buckets:
  - projects: Tenant-scoped project records (soft-deleted via DeletedAt)
  - services: Deployable units within projects
  - deployments: Full deployment history, one row per attempt
  - droplets: Node records, keyed by internal ID, named for the
    provider resource they wrap
  - containers: Runtime containers, keyed by (node_id, name)
  - snapshots: Provider image records, one base per workspace/region
  - health_checks: Monitor probe results, keyed chronologically

Transaction Model:
  - Reads run in db.View: any number in parallel, each on a
    consistent snapshot
  - Writes run in db.Update: one at a time, atomic, fsynced on
    commit, rolled back on error

# Deployment Queries

The deployment bucket is append-mostly and drives three scans:

NextVersion:
  - Highest version for (service, env) plus one
  - Counts every attempt, including failures and cancellations,
    so version numbers are never reused

GetLatestSuccess:
  - Newest successful deployment for (service, env)
  - The blue side of a blue/green deploy; its containers are what
    RETIRE_OLD stops

GetPreviousSuccess:
  - Newest success strictly below a given version
  - Rollback target resolution

All three are full-bucket scans. Deployment history for a single
control plane stays in the low thousands, so a scan is a few
milliseconds at worst and avoids secondary-index bookkeeping.

# Container Identity

Containers are keyed by the composite (node_id, name). The same
container name exists on every node a deployment lands on, but only
once per node. Upserts preserve the row's ID and CreatedAt so health
history survives a redeploy that reuses a name (stateful services do
this on every deploy).

# Check History

Health-check records are keyed by zero-padded UnixNano plus the record
ID. The bucket is therefore chronologically ordered, which makes the
daily prune a cursor walk that stops at the first young key instead of
a full scan.

# Usage

Creating a Store:

	store, err := storage.NewBoltStore("/var/lib/flotilla")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Deployment history:

	version, err := store.NextVersion(service.ID, "production")

	deployment := &types.Deployment{
		ID:        uuid.New().String(),
		ServiceID: service.ID,
		Env:       "production",
		Version:   version,
		Status:    types.DeploymentStatusPending,
	}
	err = store.CreateDeployment(deployment)

	// After the pipeline finishes
	deployment.Status = types.DeploymentStatusSuccess
	err = store.UpdateDeployment(deployment)

	// What is live right now?
	current, err := store.GetLatestSuccess(service.ID, "production")

Containers:

	container := &types.Container{
		ID:       uuid.New().String(),
		Name:     "cust12_shop_api_prod_v3",
		NodeID:   node.ID,
		HostPort: 23817,
		Status:   types.ContainerStatusRunning,
	}
	err := store.UpsertContainer(container)

	running, err := store.ListContainersForNode(node.ID)

Check history:

	err := store.RecordCheck(&types.CheckRecord{
		ID:        uuid.New().String(),
		Kind:      types.CheckKindContainer,
		TargetID:  container.ID,
		NodeID:    node.ID,
		Healthy:   false,
		Reason:    "connection refused",
		CheckedAt: time.Now(),
	})

	pruned, err := store.PruneChecksBefore(time.Now().Add(-24 * time.Hour))

# Integration Points

This package integrates with:

  - pkg/deploy: Deployment rows, version allocation, container records
  - pkg/monitor: Node/container health fields, check history
  - pkg/inject: Reads sibling services and containers for env injection
  - pkg/api: Read paths for status endpoints
  - pkg/types: All entity definitions

# Design Patterns

Upsert Pattern:
  - Create and Update are both a bucket Put, so writers never need
    an exists-check round trip

ErrNotFound Sentinel:
  - Every missed lookup wraps storage.ErrNotFound
  - Callers branch with errors.Is (first deploy has no previous
    success; that is not a failure)

Guarded Writes:
  - CreateNode refuses an active node without a public IP
  - CreateSnapshot refuses a second base snapshot per workspace/region
  - Both checks run inside the write transaction

Filter Pattern:
  - Small buckets are scanned and filtered in memory
    (ListContainersForNode); entity counts here never justify a
    secondary index

Idempotent Deletes:
  - Deleting a missing key is a no-op, so cleanup paths can retry
    freely

# Performance Characteristics

Point reads land in bolt's B+tree and come back in well under a
millisecond; scans are linear and cost roughly a millisecond per
thousand rows. Writes pay the fsync, a few milliseconds each, and
serialize behind bolt's single writer. The monitor's per-check writes
are the hottest path; at the default 60s interval this is far below
the write ceiling.

# Troubleshooting

Database Locked:
  - Symptom: "timeout" opening the database
  - Cause: Another flotilla process holds the exclusive lock
  - Solution: One control-plane process per data directory

Large Database File:
  - Symptom: flotilla.db grows over time
  - Cause: Deployment and check history accumulate
  - Check: Check pruning is running (flotilla_health_checks metrics)
  - Note: Deleted pages are reused; the file does not shrink

# See Also

  - pkg/types for all entity definitions
  - pkg/deploy for the deployment pipeline that writes most of this
  - pkg/monitor for health fields and check history
  - bbolt: https://github.com/etcd-io/bbolt
*/
package storage
