/*
Package deploy orchestrates deployments, rollbacks, and scaling across
the fleet.

The orchestrator drives a fixed pipeline per deploy, serialized per
(service, env) by the lock registry, with bounded fan-out to nodes and
progress streamed as typed events.

# Architecture

	┌──────────────── DEPLOY PIPELINE ─────────────────────────┐
	│                                                           │
	│  Deploy(req) ──► validate ──► acquire lock ──► PLAN       │
	│                                                │          │
	│  PLAN:       names, ports, domain, stateful    │          │
	│              injection, env merge              ▼          │
	│  ALLOCATE:   next version, deployment row   pending       │
	│  PROVISION:  droplets from snapshot, ≤60s   in_progress   │
	│              public IP wait                    │          │
	│  UPLOAD:     image blob to every target        │          │
	│              node (bounded fan-out)            │          │
	│  START_NEW:  containers with computed          │          │
	│              name/ports, /data volume          │          │
	│  HEALTH_GATE: 10 probes, 2s apart, per node    │          │
	│                                                ▼          │
	│  webservice only:                                         │
	│    SWITCH_NGINX: all nodes get the full upstream set      │
	│    UPDATE_DNS:   domain A records = target public IPs     │
	│                                                           │
	│  RETIRE_OLD:    drain previous version     best-effort    │
	│  PRUNE_IMAGES:  keep last N per service    best-effort    │
	│                                                ▼          │
	│  SUCCESS ──► release lock ──► complete event              │
	│                                                           │
	│  any step ──► FAILED: row marked, containers flagged      │
	│              unhealthy, provisioned nodes retained        │
	└───────────────────────────────────────────────────────────┘

# Blue/Green for Stateless Services

Stateless versions get a version-salted host port, so the new
container runs next to the old one until the health gate passes and
nginx switches upstreams. The old container is only drained after
traffic moved (RETIRE_OLD). A failed gate leaves the previous version
serving untouched.

Stateful services (redis, postgres, mysql, mongodb) keep a
version-stable port instead: the prior container is removed right
before the new one starts, trading a brief outage for a stable
connection address. They never touch nginx or DNS.

# Rollback and Scale

Rollback is a forward deploy of the previous success's image and env
onto the current nodes, under a new version number with is_rollback
set. Scale-up provisions nodes and starts the current version only on
the new ones, then rebuilds nginx/DNS across all. Scale-down releases
nodes LIFO and shrinks the deployment row in place; neither allocates
a version.

# Failure Semantics

The orchestrator never retries a step; retries live inside the node
agent, DNS, and provider clients. A failing step marks the row failed
(or cancelled, when the caller aborted before RETIRE_OLD), flags any
containers this deploy started as unhealthy for the monitor, keeps
provisioned droplets for triage, releases the lock, and emits exactly
one terminal event. Best-effort steps log and continue.

# Usage

	orch := deploy.New(store, deploy.Pool{Pool: agents}, dns, cloud, locks, cfg)

	stream := events.NewStream()
	go func() {
		for event := range stream.Events() {
			events.WriteSSE(w, event)
		}
	}()

	deployment, err := orch.Deploy(ctx, &deploy.Request{
		ServiceID:       "svc-1",
		Env:             "prod",
		ImageBlob:       blob,
		ExistingNodeIDs: []string{"node-1"},
		TriggeredBy:     "ci@example.com",
	}, stream)
*/
package deploy
