/*
Package nodeagent is the HTTP client for the node-agent daemon running
on every managed node.

Each node runs an agent on a fixed port (default 9999) that owns the
node's local Docker, nginx, and image store. The control plane never
shells into nodes; everything goes through this client. One Client per
(node IP, port); a Pool hands them out per orchestration or monitor
sweep and closes them together.

# Request Path

	caller
	  │  ctx with operation deadline
	  ▼
	retry.Do ──────────────── bounded exponential backoff
	  │                        (500ms base, 8s cap, transient only)
	  ▼
	circuit breaker ────────── per node, transport failures only,
	  │                        opens after 15 straight, 60s cooldown
	  ▼
	http.Client ────────────── pooled connections, per-attempt timeout
	  │
	  ▼
	node agent (http://<node_ip>:9999)

Retriable failures are connect errors, timeouts, 5xx, 408, and 429.
Any other agent answer is semantic and surfaces immediately as *Error.
When every attempt fails at the transport level the error wraps
ErrUnreachable, which the health monitor treats as a node failure.

The breaker counts only transport failures, so a reachable agent
refusing an operation never opens it, and one operation's retry
budget (at most 3 attempts) cannot trip it alone. A node that stays
dead across monitor sweeps does, and then fails fast for the cooldown
instead of burning a connect timeout per call.

# Authentication

Every request carries X-API-Key, the lowercase hex HMAC-SHA256 of the
fixed message "node-agent:" keyed with the cloud provider token. The
agent derives the same value on boot; no key exchange or state.

# Operations

	Ping                liveness
	UploadImage         stream an image blob (seekable, rewound on retry)
	StartContainer      create + start with env, ports, volumes
	RemoveContainer     graceful drain, then stop and remove
	RestartContainer    restart with original arguments
	Health              TCP probe on the container port, plus HTTP 2xx
	                    on a path for webservices
	ConfigureNginx      rewrite upstreams for a domain and reload
	CleanupImages       prune old image versions beyond keep-latest

An unhealthy verdict from Health is a successful call; the deploy
health gate and the monitor interpret the verdict, not this package.

# Usage

	pool := nodeagent.NewPool(cfg.NodeAgentPort, cfg.DOToken)
	defer pool.Close()

	client := pool.Get(node.PublicIP)
	if err := client.Ping(ctx); err != nil {
		if errors.Is(err, nodeagent.ErrUnreachable) {
			// count against the node, maybe reboot
		}
	}

# Integration Points

  - pkg/deploy: upload, start, nginx, retire, prune during pipelines
  - pkg/monitor: ping and health probes every sweep
  - pkg/metrics: flotilla_agent_requests_total and request duration

# See Also

  - pkg/deploy for how operations compose into a pipeline
  - pkg/monitor for the probe loops
*/
package nodeagent
