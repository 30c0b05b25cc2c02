package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/flotilla/pkg/config"
	"github.com/cuemby/flotilla/pkg/log"
	"github.com/cuemby/flotilla/pkg/metrics"
	"github.com/cuemby/flotilla/pkg/nodeagent"
	"github.com/cuemby/flotilla/pkg/storage"
	"github.com/cuemby/flotilla/pkg/types"
)

const (
	// maxNodeReboots is how many times an unreachable node is rebooted
	// before it is flagged problematic.
	maxNodeReboots = 2

	// maxContainerRestarts is how many times a failing container is
	// restarted before it is flagged problematic.
	maxContainerRestarts = 3

	containerProbeTimeout = 10 * time.Second

	// stopGrace bounds how long Stop waits for in-flight checks.
	stopGrace = 30 * time.Second

	defaultInterval        = time.Minute
	defaultCleanupInterval = 24 * time.Hour
	defaultFanout          = 4
)

// Agent is the probe surface the monitor drives on each node.
// *nodeagent.Client implements it.
type Agent interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context, name string, containerPort int, httpPath string, timeout time.Duration) (*nodeagent.HealthResult, error)
	RestartContainer(ctx context.Context, name string) error
}

// AgentPool hands out one agent per node address.
type AgentPool interface {
	Get(nodeIP string) Agent
}

// Pool adapts a nodeagent.Pool to AgentPool.
type Pool struct {
	*nodeagent.Pool
}

func (p Pool) Get(nodeIP string) Agent {
	return p.Pool.Get(nodeIP)
}

// Rebooter is the single provider call the monitor makes.
// provider.Provider implements it.
type Rebooter interface {
	RebootNode(ctx context.Context, providerID string) error
}

// Monitor is the periodic health checker: one pass per interval, one
// concurrent job per workspace, bounded node fan-out inside each. It
// runs independently of deploys; its writes touch only health fields.
type Monitor struct {
	store  storage.Store
	agents AgentPool
	cloud  Rebooter

	interval time.Duration
	cleanup  time.Duration
	fanout   int

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New creates a monitor over the given dependencies. Zero config
// values fall back to the defaults (60s checks, 24h cleanup, fan-out 4).
func New(store storage.Store, agents AgentPool, cloud Rebooter, cfg *config.Config) *Monitor {
	m := &Monitor{
		store:    store,
		agents:   agents,
		cloud:    cloud,
		interval: defaultInterval,
		cleanup:  defaultCleanupInterval,
		fanout:   defaultFanout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		m.interval = cfg.HealthCheckInterval
	}
	if cfg.HealthCheckCleanupInterval > 0 {
		m.cleanup = cfg.HealthCheckCleanupInterval
	}
	if cfg.DeployFanout > 0 {
		m.fanout = cfg.DeployFanout
	}
	return m
}

// Start begins the check and cleanup loops.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
}

// Stop halts the loops and waits for in-flight checks to finish,
// bounded by a 30s grace before they are cancelled. Call after Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	select {
	case <-m.done:
	case <-time.After(stopGrace):
		log.Warn().Msg("Health checks still running after stop grace, cancelling")
		m.cancel()
		<-m.done
	}
	m.cancel()
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	log.Info().
		Dur("interval", m.interval).
		Dur("cleanup", m.cleanup).
		Msg("Health monitor started")

	checks := time.NewTicker(m.interval)
	defer checks.Stop()
	cleanup := time.NewTicker(m.cleanup)
	defer cleanup.Stop()

	for {
		select {
		case <-checks.C:
			m.sweep(ctx)
		case <-cleanup.C:
			m.prune()
		case <-m.stop:
			log.Info().Msg("Health monitor stopped")
			return
		}
	}
}

// sweep runs one full pass. Workspaces are checked concurrently
// without a bound; the fan-out limit applies to nodes within one.
func (m *Monitor) sweep(ctx context.Context) {
	workspaceIDs, err := m.store.ListActiveWorkspaceIDs()
	if err != nil {
		log.Error().Err(err).Msg("Failed to enumerate workspaces")
		metrics.UpdateComponent("monitor", false, "cannot enumerate workspaces: "+err.Error())
		return
	}
	metrics.UpdateComponent("monitor", true, "")

	var wg sync.WaitGroup
	for _, workspaceID := range workspaceIDs {
		workspaceID := workspaceID
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.checkWorkspace(ctx, workspaceID)
		}()
	}
	wg.Wait()
	m.refreshGauges()
}

func (m *Monitor) checkWorkspace(ctx context.Context, workspaceID string) {
	nodes, err := m.store.ListNodesForWorkspace(workspaceID)
	if err != nil {
		log.Error().Err(err).Str("workspace_id", workspaceID).Msg("Failed to list nodes")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.fanout)
	for _, node := range nodes {
		node := node
		if node.Deleted() || node.Status != types.NodeStatusActive {
			continue
		}
		g.Go(func() error {
			m.checkNode(gctx, node)
			return nil
		})
	}
	_ = g.Wait()
}

// checkNode pings the node agent, then probes the node's containers.
// An unreachable node earns a reboot up to the budget, after that the
// problematic flag; its containers are not probed either way, since
// every probe would fail for the node's reason, not their own.
func (m *Monitor) checkNode(ctx context.Context, node *types.Node) {
	// A flagged node waits for an operator; automatic action stops.
	if node.HealthStatus == types.HealthProblematic {
		return
	}

	agent := m.agents.Get(node.PublicIP)
	err := agent.Ping(ctx)
	m.record(types.CheckKindNode, node.ID, node.ID, err == nil, errText(err))

	if err == nil {
		metrics.HealthChecksTotal.WithLabelValues("node", "healthy").Inc()
		if node.HealthStatus != types.HealthHealthy || node.FailureCount != 0 {
			node.HealthStatus = types.HealthHealthy
			node.FailureCount = 0
			if uerr := m.store.UpdateNode(node); uerr != nil {
				log.Warn().Err(uerr).Str("node_id", node.ID).Msg("Failed to update node health")
			}
		}
		m.checkContainers(ctx, node, agent)
		return
	}

	metrics.HealthChecksTotal.WithLabelValues("node", "unhealthy").Inc()
	node.FailureCount++
	if node.FailureCount <= maxNodeReboots {
		node.HealthStatus = types.HealthUnhealthy
		log.Warn().
			Err(err).
			Str("node_id", node.ID).
			Int("failures", node.FailureCount).
			Msg("Node unreachable, rebooting")
		if node.ProviderID != "" {
			if rerr := m.cloud.RebootNode(ctx, node.ProviderID); rerr != nil {
				log.Error().Err(rerr).Str("node_id", node.ID).Msg("Reboot failed")
			} else {
				node.LastRebootAt = time.Now()
				metrics.NodeRebootsTotal.Inc()
			}
		}
	} else {
		node.HealthStatus = types.HealthProblematic
		node.ProblematicReason = fmt.Sprintf("unreachable after %d reboot(s): %v", maxNodeReboots, err)
		node.FlaggedAt = time.Now()
		metrics.QuarantinesTotal.WithLabelValues("node").Inc()
		log.Error().Err(err).Str("node_id", node.ID).Msg("Node flagged problematic")
	}
	if uerr := m.store.UpdateNode(node); uerr != nil {
		log.Warn().Err(uerr).Str("node_id", node.ID).Msg("Failed to update node health")
	}
}

func (m *Monitor) checkContainers(ctx context.Context, node *types.Node, agent Agent) {
	containers, err := m.store.ListContainersForNode(node.ID)
	if err != nil {
		log.Error().Err(err).Str("node_id", node.ID).Msg("Failed to list containers")
		return
	}
	for _, container := range containers {
		if container.HealthStatus == types.HealthProblematic {
			continue
		}
		m.checkContainer(ctx, node, agent, container)
	}
}

func (m *Monitor) checkContainer(ctx context.Context, node *types.Node, agent Agent, container *types.Container) {
	httpPath := ""
	if service, err := m.store.GetService(container.ServiceID); err == nil && service.Type.Webservice() {
		httpPath = "/health"
	}

	result, err := agent.Health(ctx, container.Name, container.ContainerPort, httpPath, containerProbeTimeout)
	healthy := err == nil && result.Healthy()
	reason := ""
	switch {
	case err != nil:
		reason = err.Error()
	case !healthy:
		reason = result.Reason
		if reason == "" {
			reason = result.Status
		}
	}
	m.record(types.CheckKindContainer, container.ID, node.ID, healthy, reason)

	if healthy {
		metrics.HealthChecksTotal.WithLabelValues("container", "healthy").Inc()
		container.HealthStatus = types.HealthHealthy
		container.FailureCount = 0
		container.LastHealthyAt = time.Now()
		if uerr := m.store.UpsertContainer(container); uerr != nil {
			log.Warn().Err(uerr).Str("container", container.Name).Msg("Failed to update container health")
		}
		return
	}

	metrics.HealthChecksTotal.WithLabelValues("container", "unhealthy").Inc()
	container.FailureCount++
	container.LastFailureAt = time.Now()
	container.LastFailureReason = reason
	if container.FailureCount <= maxContainerRestarts {
		container.HealthStatus = types.HealthUnhealthy
		log.Warn().
			Str("container", container.Name).
			Str("node_id", node.ID).
			Int("failures", container.FailureCount).
			Str("reason", reason).
			Msg("Container unhealthy, restarting")
		if rerr := agent.RestartContainer(ctx, container.Name); rerr != nil {
			log.Error().Err(rerr).Str("container", container.Name).Msg("Restart failed")
		} else {
			container.LastRestartAt = time.Now()
			metrics.ContainerRestartsTotal.Inc()
		}
	} else {
		container.HealthStatus = types.HealthProblematic
		metrics.QuarantinesTotal.WithLabelValues("container").Inc()
		log.Error().
			Str("container", container.Name).
			Str("node_id", node.ID).
			Msg("Container flagged problematic")
	}
	if uerr := m.store.UpsertContainer(container); uerr != nil {
		log.Warn().Err(uerr).Str("container", container.Name).Msg("Failed to update container health")
	}
}

func (m *Monitor) record(kind types.CheckKind, targetID, nodeID string, healthy bool, reason string) {
	check := &types.CheckRecord{
		ID:        uuid.New().String(),
		Kind:      kind,
		TargetID:  targetID,
		NodeID:    nodeID,
		Healthy:   healthy,
		Reason:    reason,
		CheckedAt: time.Now(),
	}
	if err := m.store.RecordCheck(check); err != nil {
		log.Warn().Err(err).Msg("Failed to record health check")
	}
}

// prune drops check rows older than one cleanup interval.
func (m *Monitor) prune() {
	pruned, err := m.store.PruneChecksBefore(time.Now().Add(-m.cleanup))
	if err != nil {
		log.Error().Err(err).Msg("Check prune failed")
		return
	}
	if pruned > 0 {
		log.Info().Int("pruned", pruned).Msg("Pruned old health checks")
	}
}

// refreshGauges republishes fleet totals after a pass.
func (m *Monitor) refreshGauges() {
	if nodes, err := m.store.ListNodes(); err == nil {
		metrics.NodesTotal.Reset()
		for _, node := range nodes {
			if node.Deleted() {
				continue
			}
			metrics.NodesTotal.WithLabelValues(string(node.Status), string(node.HealthStatus)).Inc()
		}
	}
	if services, err := m.store.ListServices(); err == nil {
		active := 0
		for _, service := range services {
			if !service.Deleted() {
				active++
			}
		}
		metrics.ServicesTotal.Set(float64(active))
	}
	if containers, err := m.store.ListContainers(); err == nil {
		metrics.ContainersTotal.Reset()
		for _, container := range containers {
			metrics.ContainersTotal.WithLabelValues(string(container.HealthStatus)).Inc()
		}
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
