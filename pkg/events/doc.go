/*
Package events provides the typed progress stream for Flotilla deployments.

The events package implements the per-deployment event sequence that callers
watch while a deploy, scale, or rollback runs. Each orchestration owns one
Stream; the API server drains it into a Server-Sent Events response, and the
CLI prints it line by line. The stream doubles as the transcript recorder for
the deployment row's log column.

# Architecture

One stream per deployment attempt, single producer, single consumer:

	┌──────────────────── EVENT STREAM ────────────────────────┐
	│                                                          │
	│  Orchestrator                                            │
	│    │  Info/Warn/Error("...")      Complete(ok, id, err)  │
	│    ▼                              ▼                      │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Stream                        │          │
	│  │  - buffered channel (256)                  │          │
	│  │  - [HH:MM:SS] prefix on every log line     │          │
	│  │  - capped transcript for the log column    │          │
	│  │  - terminal event exactly once, then close │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│    ┌────────────────┴────────────────┐                   │
	│    ▼                                 ▼                   │
	│  API server                        CLI                   │
	│  WriteSSE per event                print per event       │
	└──────────────────────────────────────────────────────────┘

# Guarantees

Ordering:
  - Events arrive in emit order; a single mutex serializes producers

Termination:
  - Exactly one CompleteEvent per stream
  - The channel closes right after it; nothing follows
  - Log calls after Complete are silently dropped

Liveness:
  - Producers never block. If the consumer falls more than the buffer
    behind, log events are dropped (counted via Dropped) but the
    terminal event keeps a reserved slot
  - The transcript keeps every line regardless of channel drops, up
    to a 64KB cap

# Event Types

log:
  - Message: human-readable line, prefixed "[HH:MM:SS] "
  - Level: info, warn, or error

complete:
  - Success: whether the operation reached SUCCESS
  - DeploymentID: the deployment row, empty if none was created
  - Error: failure reason, null on success

# Usage

Producing:

	stream := events.NewStream()
	go func() {
		stream.Info("deploying %s v%d to %d node(s)", name, version, len(nodes))
		if err := run(); err != nil {
			stream.Error("%v", err)
			stream.Complete(false, deploymentID, err)
			return
		}
		stream.Complete(true, deploymentID, nil)
	}()

Consuming over SSE:

	for event := range stream.Events() {
		if err := events.WriteSSE(w, event); err != nil {
			break // client went away; the deploy keeps running
		}
		flusher.Flush()
	}

Persisting the transcript:

	deployment.Log = stream.Transcript()

# Wire Format

	event: log
	data: {"message":"[10:32:01] uploading image to 2 node(s)","level":"info"}

	event: complete
	data: {"success":true,"deployment_id":"dep-123","error":null}

# Integration Points

  - pkg/deploy: produces every stream
  - pkg/api: drains streams into SSE responses
  - cmd/flotilla: drains streams into terminal output

# See Also

  - pkg/deploy for what emits into streams
  - pkg/api for the SSE endpoints
*/
package events
