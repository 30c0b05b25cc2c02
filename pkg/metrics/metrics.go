package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flotilla_nodes_total",
			Help: "Total number of nodes by status and health",
		},
		[]string{"status", "health"},
	)

	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flotilla_services_total",
			Help: "Total number of services",
		},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flotilla_containers_total",
			Help: "Total number of containers by health",
		},
		[]string{"health"},
	)

	// Deploy metrics
	DeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_deploys_total",
			Help: "Total number of finished deploys by terminal status",
		},
		[]string{"status"},
	)

	DeployDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flotilla_deploy_duration_seconds",
			Help:    "Deploy duration in seconds by terminal status",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	DeploymentsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flotilla_deployments_in_progress",
			Help: "Number of deployments currently in progress",
		},
	)

	DeployLockBusy = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flotilla_deploy_lock_busy_total",
			Help: "Total number of deploys rejected because the lock was held",
		},
	)

	// Monitor metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_health_checks_total",
			Help: "Total number of health probes by kind and result",
		},
		[]string{"kind", "result"},
	)

	ContainerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flotilla_container_restarts_total",
			Help: "Total number of container restarts issued by the monitor",
		},
	)

	NodeRebootsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flotilla_node_reboots_total",
			Help: "Total number of node reboots issued by the monitor",
		},
	)

	QuarantinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_quarantines_total",
			Help: "Total number of targets flagged problematic by kind",
		},
		[]string{"kind"},
	)

	// Node-agent client metrics
	AgentRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_agent_requests_total",
			Help: "Total number of node-agent requests by operation and result",
		},
		[]string{"op", "result"},
	)

	AgentRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flotilla_agent_request_duration_seconds",
			Help:    "Node-agent request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// DNS metrics
	DNSUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_dns_updates_total",
			Help: "Total number of DNS record-set updates by result",
		},
		[]string{"result"},
	)

	// Cloud provider metrics
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_provider_requests_total",
			Help: "Total number of cloud provider API requests by operation and result",
		},
		[]string{"op", "result"},
	)

	ProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flotilla_provision_duration_seconds",
			Help:    "Time from droplet create to public IP assignment",
			Buckets: []float64{5, 10, 20, 30, 45, 60, 90, 120},
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flotilla_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(DeploysTotal)
	prometheus.MustRegister(DeployDuration)
	prometheus.MustRegister(DeploymentsInProgress)
	prometheus.MustRegister(DeployLockBusy)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(ContainerRestartsTotal)
	prometheus.MustRegister(NodeRebootsTotal)
	prometheus.MustRegister(QuarantinesTotal)
	prometheus.MustRegister(AgentRequestsTotal)
	prometheus.MustRegister(AgentRequestDuration)
	prometheus.MustRegister(DNSUpdatesTotal)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(ProvisionDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
