/*
Package monitor implements the periodic health checker for nodes and
containers.

Every check interval (default 60s) the monitor enumerates workspaces
with at least one active node and runs one pass per workspace. Passes
across workspaces are concurrent and unbounded; nodes inside a
workspace are probed with a bounded fan-out. A second, much slower
ticker (default 24h) prunes old check rows.

	         ┌──────────────── ONE PASS ────────────────┐
	         │                                           │
	 tick ──▶│  workspaces with active nodes             │
	         │        │ one goroutine each               │
	         │        ▼                                  │
	         │  ┌─ node ping ────────────────────────┐   │
	         │  │ ok   → healthy, reset failures     │   │
	         │  │ fail → reboot (≤2), then flag      │   │
	         │  │        problematic for an operator │   │
	         │  └──────────┬─────────────────────────┘   │
	         │             │ only on reachable nodes     │
	         │             ▼                             │
	         │  ┌─ container probes ─────────────────┐   │
	         │  │ ok   → healthy, last_healthy_at    │   │
	         │  │ fail → restart (≤3), then flag     │   │
	         │  │        problematic, no restarts    │   │
	         │  └────────────────────────────────────┘   │
	         └───────────────────────────────────────────┘

Node checks precede container checks: a dead node fails every probe on
it for the node's reason, so its containers are skipped that pass.
Targets flagged problematic get no further automatic action until an
operator clears the flag.

The monitor runs independently of deploys. Both write Container rows,
but the monitor touches only health fields and the orchestrator only
status fields, so last-write-wins between them is safe.

Every probe appends a CheckRecord for operator triage; Stop waits for
the in-flight pass with a 30s grace before cancelling it.
*/
package monitor
