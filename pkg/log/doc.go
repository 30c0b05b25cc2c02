/*
Package log provides structured logging for Flotilla using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Flotilla's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                   │           │
	│  │  - Zerolog instance                        │           │
	│  │  - Initialized via log.Init()              │           │
	│  │  - Thread-safe for concurrent use          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                    │           │
	│  │  - Level: debug/info/warn/error            │           │
	│  │  - Format: JSON or console (human)         │           │
	│  │  - Output: stdout, file, or custom writer  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Component Loggers                  │           │
	│  │  - WithComponent("deploy")                 │           │
	│  │  - WithComponent("monitor")                │           │
	│  │  - per-entity fields chained at call sites │           │
	│  │    (.Str("node_id", …), .Str("service_id"))│           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Log Output                      │           │
	│  │                                            │           │
	│  │  JSON Format:                              │           │
	│  │  {                                         │           │
	│  │    "level": "info",                        │           │
	│  │    "component": "deploy",                  │           │
	│  │    "time": "2026-03-02T10:30:00Z",         │           │
	│  │    "message": "health gate passed"         │           │
	│  │  }                                         │           │
	│  │                                            │           │
	│  │  Console Format:                           │           │
	│  │  10:30AM INF health gate passed component=deploy │     │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - One zerolog.Logger at package level, built by log.Init()
  - Reachable from every Flotilla package without plumbing
  - zerolog handles concurrent writers

Log Levels:
  - Debug: per-request and per-probe detail
  - Info: state changes worth keeping (deploys, reboots, switches)
  - Warn: something degraded but the operation continued
  - Error: an operation failed
  - Fatal: the process cannot continue and exits

Context Loggers:
  - WithComponent: Add component name to all logs
  - Entity context (node_id, service_id, deployment_id, workspace_id)
    rides as chained fields on individual events

# Usage

Initializing the Logger:

	import "github.com/cuemby/flotilla/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info().Msg("control plane started")
	log.Warn().Msg("node heartbeat missed")
	log.Error().Err(err).Msg("failed to reach node agent")
	log.Fatal().Msg("cannot open state store") // Exits process

Structured Logging:

	log.Info().
		Str("deployment_id", "deploy-123").
		Int("version", 3).
		Msg("deployment succeeded")

	log.Error().
		Err(err).
		Str("node_id", "node-abc").
		Msg("node ping failed")

Component Loggers:

	deployLog := log.WithComponent("deploy")
	deployLog.Info().Msg("starting health gate")

	monitorLog := log.WithComponent("monitor").
		With().Str("workspace_id", "ws-1").Logger()
	monitorLog.Info().Msg("workspace pass complete")

# Integration Points

This package integrates with:

  - pkg/deploy: Logs pipeline step transitions and failures
  - pkg/monitor: Logs probe results, restarts, reboots, quarantines
  - pkg/nodeagent: Logs retries and circuit breaker transitions
  - pkg/dnsclient: Logs record reconciliation
  - pkg/provider: Logs droplet and VPC operations
  - pkg/api: Logs request handling

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"deploy","deployment_id":"d-123","time":"2026-03-02T10:30:00Z","message":"image uploaded"}
	{"level":"error","component":"monitor","node_id":"node-abc","error":"connect refused","time":"2026-03-02T10:30:02Z","message":"node ping failed"}

Console Format (Development):

	10:30:00 INF image uploaded component=deploy deployment_id=d-123
	10:30:02 ERR node ping failed component=monitor node_id=node-abc error="connect refused"

# Design Patterns

The logger is deliberately global: a control plane has exactly one
output stream, and threading a logger through every constructor buys
nothing here. Subsystems take a child via WithComponent at startup;
per-entity context (node_id, deployment_id) is chained onto individual
events where it is known. Errors always travel as .Err(err), never
formatted into the message.

# Best Practices

Run production at info with JSON output; queries against these logs
key on the structured fields, so ids and counts belong in .Str/.Int
fields, not in message text. Never log credentials (agent tokens, DNS
tokens). Probe loops log at debug, except for state transitions, which
are info.

# See Also

  - zerolog: https://github.com/rs/zerolog
*/
package log
