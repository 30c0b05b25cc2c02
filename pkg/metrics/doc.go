/*
Package metrics provides Prometheus metrics collection and exposition for
Flotilla.

The metrics package defines and registers all Flotilla metrics using the
Prometheus client library, providing observability into fleet health, deploy
outcomes, node-agent traffic, and system performance. Metrics are exposed via
HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry               │          │
	│  │  - Global DefaultRegistry                  │          │
	│  │  - MustRegister at package init            │          │
	│  │  - Automatic Go runtime metrics            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                │          │
	│  │                                            │          │
	│  │  Fleet: Nodes, services, containers        │          │
	│  │  Deploys: Count, duration, lock rejections │          │
	│  │  Monitor: Probes, restarts, reboots,       │          │
	│  │           quarantines                      │          │
	│  │  Agent: Request count, duration            │          │
	│  │  DNS: Record-set updates                   │          │
	│  │  API: Request count, duration              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint             │          │
	│  │  - Path: /metrics                          │          │
	│  │  - Format: Prometheus text exposition      │          │
	│  │  - Handler: promhttp.Handler()             │          │
	│  └────────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────────┘

# Metrics Catalog

Fleet:

flotilla_nodes_total{status, health}:
  - Type: Gauge
  - Total nodes by provisioning status and monitor health
  - Example: flotilla_nodes_total{status="active",health="healthy"} 5

flotilla_services_total:
  - Type: Gauge
  - Total live (non-deleted) services

flotilla_containers_total{health}:
  - Type: Gauge
  - Total containers by health state

Deploys:

flotilla_deploys_total{status}:
  - Type: Counter
  - Finished deploys by terminal status (success/failed/cancelled)

flotilla_deploy_duration_seconds{status}:
  - Type: Histogram
  - End-to-end deploy duration, bucketed up to the 30 min deadline

flotilla_deployments_in_progress:
  - Type: Gauge
  - Deployments currently in progress (inc/dec around the pipeline)

flotilla_deploy_lock_busy_total:
  - Type: Counter
  - Deploy requests rejected because the (service, env) lock was held

Monitor:

flotilla_health_checks_total{kind, result}:
  - Type: Counter
  - Probes by kind (node/container) and result (healthy/unhealthy)

flotilla_container_restarts_total, flotilla_node_reboots_total:
  - Type: Counter
  - Auto-heal actions issued by the monitor

flotilla_quarantines_total{kind}:
  - Type: Counter
  - Targets flagged problematic after exhausting their budget

Node agent:

flotilla_agent_requests_total{op, result}:
  - Type: Counter
  - Node-agent calls by operation (ping/upload_image/...) and result

flotilla_agent_request_duration_seconds{op}:
  - Type: Histogram
  - Node-agent call latency

# Usage

Recording a deploy outcome:

	timer := metrics.NewTimer()
	// ... run the pipeline ...
	metrics.DeploysTotal.WithLabelValues("success").Inc()
	timer.ObserveDurationVec(metrics.DeployDuration, "success")

Fleet gauges (nodes, services, containers) are republished by the
monitor at the end of every sweep; nothing else writes them.

Exposing metrics:

	mux.Handle("/metrics", metrics.Handler())

# Health Endpoints

The package also hosts the component health registry backing /health,
/ready and /live. Components report in via RegisterComponent and
UpdateComponent; readiness requires every critical component (store,
monitor, api) to be healthy.

# Useful Queries

Deploy failure ratio over 1h:

	sum(rate(flotilla_deploys_total{status="failed"}[1h]))
	  / sum(rate(flotilla_deploys_total[1h]))

Nodes stuck in quarantine:

	flotilla_nodes_total{health="problematic"} > 0

Agent p99 latency by operation:

	histogram_quantile(0.99,
	  rate(flotilla_agent_request_duration_seconds_bucket[5m]))

# Integration Points

This package integrates with:

  - pkg/deploy: deploy counters, durations, lock rejections
  - pkg/monitor: probe, restart, reboot, quarantine counters
  - pkg/nodeagent: per-operation request metrics
  - pkg/dnsclient: record update counters
  - pkg/api: request metrics and the health/ready/live handlers
  - pkg/provider: droplet request counters and provision latency
  - cmd/flotilla: registers components and stamps the build version

# See Also

  - Prometheus client: https://github.com/prometheus/client_golang
  - Exposition formats: https://prometheus.io/docs/instrumenting/exposition_formats/
*/
package metrics
