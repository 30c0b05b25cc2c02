/*
Package api implements the Flotilla HTTP API server.

The api package is the thin HTTP face of the control plane. It decodes
requests, hands them to the deploy orchestrator and relays the event
stream back to the caller as Server-Sent Events. Every decision about
what a deploy, rollback or scale means lives in pkg/deploy; the server
adds nothing beyond wire handling.

# Architecture

	┌──────────────────── CLIENT (CLI/CI) ───────────────────────┐
	│                                                             │
	│   POST /v1/deploys                {json body}               │
	│   POST /v1/services/{id}/rollback {json body}               │
	│   POST /v1/services/{id}/scale    {json body}               │
	└─────────────────────┬───────────────────────────────────────┘
	                      │ HTTP
	┌─────────────────────▼──── CONTROL PLANE ────────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐           │
	│  │           HTTP Server (pkg/api)              │           │
	│  │  - chi router + metrics middleware           │           │
	│  │  - JSON decode, nothing more                 │           │
	│  │  - SSE relay of the event stream             │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │        Orchestrator (pkg/deploy)             │           │
	│  │  - validation, locking, pipeline             │           │
	│  │  - emits events.Stream                       │           │
	│  └──────────────────────────────────────────────┘           │
	└─────────────────────────────────────────────────────────────┘

# Streaming

Operation endpoints answer 200 immediately and then write one SSE
frame per event:

	event: log
	data: {"message":"[14:03:22] Deploying shop/api...","level":"info"}

	event: complete
	data: {"success":true,"deployment_id":"dep-1","error":null}

The complete frame is always last. Closing the connection cancels the
request context; the pipeline notices at its next checkpoint and winds
the deployment down as cancelled. A deploy that has already switched
traffic finishes regardless.

# Operational Endpoints

  - GET /health: component health from the registry in pkg/metrics
  - GET /ready: registered components plus a live store read; 503 until ready
  - GET /live: process liveness
  - GET /metrics: Prometheus exposition

# Usage

	srv := api.New(store, orchestrator, cfg)
	go srv.Start()
	...
	srv.Shutdown(ctx)
*/
package api
