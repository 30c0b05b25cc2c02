package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/flotilla/pkg/config"
	"github.com/cuemby/flotilla/pkg/nodeagent"
	"github.com/cuemby/flotilla/pkg/storage"
	"github.com/cuemby/flotilla/pkg/types"
)

const testWorkspace = "1234567890abcdef"

type fakeAgent struct {
	mu          sync.Mutex
	pings       int
	pingErr     error
	healthCalls []string
	healthPaths map[string]string
	unhealthy   map[string]string // container name -> reason
	restarts    []string
	restartErr  error
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		healthPaths: map[string]string{},
		unhealthy:   map[string]string{},
	}
}

func (a *fakeAgent) Ping(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pings++
	return a.pingErr
}

func (a *fakeAgent) Health(_ context.Context, name string, _ int, httpPath string, _ time.Duration) (*nodeagent.HealthResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthCalls = append(a.healthCalls, name)
	a.healthPaths[name] = httpPath
	if reason, bad := a.unhealthy[name]; bad {
		return &nodeagent.HealthResult{Status: "unhealthy", Reason: reason}, nil
	}
	return &nodeagent.HealthResult{Status: "healthy"}, nil
}

func (a *fakeAgent) RestartContainer(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.restartErr != nil {
		return a.restartErr
	}
	a.restarts = append(a.restarts, name)
	return nil
}

func (a *fakeAgent) pingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pings
}

type fakePool struct {
	mu     sync.Mutex
	agents map[string]*fakeAgent
}

func newFakePool() *fakePool {
	return &fakePool{agents: map[string]*fakeAgent{}}
}

func (p *fakePool) Get(nodeIP string) Agent {
	return p.agent(nodeIP)
}

func (p *fakePool) agent(nodeIP string) *fakeAgent {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[nodeIP]
	if !ok {
		a = newFakeAgent()
		p.agents[nodeIP] = a
	}
	return a
}

type fakeRebooter struct {
	mu      sync.Mutex
	reboots []string
	err     error
}

func (r *fakeRebooter) RebootNode(_ context.Context, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reboots = append(r.reboots, providerID)
	return nil
}

type harness struct {
	t        *testing.T
	store    storage.Store
	pool     *fakePool
	rebooter *fakeRebooter
	mon      *Monitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		t:        t,
		store:    store,
		pool:     newFakePool(),
		rebooter: &fakeRebooter{},
	}
	h.mon = New(store, h.pool, h.rebooter, &config.Config{
		HealthCheckInterval:        time.Minute,
		HealthCheckCleanupInterval: 24 * time.Hour,
		DeployFanout:               4,
	})
	return h
}

func (h *harness) addNode(id, publicIP string, health types.HealthState, failures int) *types.Node {
	h.t.Helper()
	node := &types.Node{
		ID:           id,
		WorkspaceID:  testWorkspace,
		ProviderID:   "777",
		PublicIP:     publicIP,
		PrivateIP:    "10.0.0.9",
		Region:       "nyc3",
		Status:       types.NodeStatusActive,
		HealthStatus: health,
		FailureCount: failures,
	}
	if err := h.store.CreateNode(node); err != nil {
		h.t.Fatalf("CreateNode() error = %v", err)
	}
	return node
}

func (h *harness) addService(id string, svcType types.ServiceType) {
	h.t.Helper()
	if err := h.store.CreateProject(&types.Project{ID: "proj-" + id, WorkspaceID: testWorkspace, Name: "shop"}); err != nil {
		h.t.Fatalf("CreateProject() error = %v", err)
	}
	if err := h.store.CreateService(&types.Service{ID: id, ProjectID: "proj-" + id, Name: "api", Type: svcType}); err != nil {
		h.t.Fatalf("CreateService() error = %v", err)
	}
}

func (h *harness) addContainer(nodeID, name, serviceID string, health types.HealthState, failures int) *types.Container {
	h.t.Helper()
	c := &types.Container{
		ID:            "ctr-" + name,
		Name:          name,
		NodeID:        nodeID,
		ServiceID:     serviceID,
		ContainerPort: 8000,
		HostPort:      31000,
		Status:        types.ContainerStatusRunning,
		HealthStatus:  health,
		FailureCount:  failures,
	}
	if err := h.store.UpsertContainer(c); err != nil {
		h.t.Fatalf("UpsertContainer() error = %v", err)
	}
	return c
}

func TestHealthyPassResetsCounters(t *testing.T) {
	h := newHarness(t)
	h.addNode("node-1", "203.0.113.2", types.HealthUnhealthy, 1)
	h.addService("svc-1", types.ServiceTypeWorker)
	h.addContainer("node-1", "web_v1", "svc-1", types.HealthUnhealthy, 2)

	h.mon.sweep(context.Background())

	node, err := h.store.GetNode("node-1")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.HealthStatus != types.HealthHealthy || node.FailureCount != 0 {
		t.Errorf("node = %s/%d, want healthy/0", node.HealthStatus, node.FailureCount)
	}

	c, err := h.store.GetContainer("node-1", "web_v1")
	if err != nil {
		t.Fatalf("GetContainer() error = %v", err)
	}
	if c.HealthStatus != types.HealthHealthy || c.FailureCount != 0 {
		t.Errorf("container = %s/%d, want healthy/0", c.HealthStatus, c.FailureCount)
	}
	if c.LastHealthyAt.IsZero() {
		t.Error("LastHealthyAt not set")
	}

	nodeChecks, err := h.store.ListChecksForTarget("node-1")
	if err != nil || len(nodeChecks) != 1 {
		t.Fatalf("node checks = %d/%v, want 1", len(nodeChecks), err)
	}
	if !nodeChecks[0].Healthy || nodeChecks[0].Kind != types.CheckKindNode {
		t.Errorf("node check = %+v", nodeChecks[0])
	}
	ctrChecks, err := h.store.ListChecksForTarget("ctr-web_v1")
	if err != nil || len(ctrChecks) != 1 {
		t.Fatalf("container checks = %d/%v, want 1", len(ctrChecks), err)
	}
	if !ctrChecks[0].Healthy || ctrChecks[0].Kind != types.CheckKindContainer {
		t.Errorf("container check = %+v", ctrChecks[0])
	}
}

func TestNodeRebootOnPingFailure(t *testing.T) {
	h := newHarness(t)
	h.addNode("node-1", "203.0.113.2", types.HealthHealthy, 0)
	h.addService("svc-1", types.ServiceTypeWorker)
	h.addContainer("node-1", "web_v1", "svc-1", types.HealthHealthy, 0)
	agent := h.pool.agent("203.0.113.2")
	agent.pingErr = errors.New("dial tcp: i/o timeout")

	h.mon.sweep(context.Background())

	node, err := h.store.GetNode("node-1")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.HealthStatus != types.HealthUnhealthy {
		t.Errorf("health = %q, want unhealthy", node.HealthStatus)
	}
	if node.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", node.FailureCount)
	}
	if node.LastRebootAt.IsZero() {
		t.Error("LastRebootAt not set")
	}
	if len(h.rebooter.reboots) != 1 || h.rebooter.reboots[0] != "777" {
		t.Errorf("reboots = %v, want [777]", h.rebooter.reboots)
	}

	// Containers are not probed through an unreachable node.
	if len(agent.healthCalls) != 0 {
		t.Errorf("health calls = %v, want none", agent.healthCalls)
	}

	checks, err := h.store.ListChecksForTarget("node-1")
	if err != nil || len(checks) != 1 {
		t.Fatalf("checks = %d/%v", len(checks), err)
	}
	if checks[0].Healthy || !strings.Contains(checks[0].Reason, "timeout") {
		t.Errorf("check = %+v", checks[0])
	}
}

func TestNodeFlaggedAfterRebootBudget(t *testing.T) {
	h := newHarness(t)
	h.addNode("node-1", "203.0.113.2", types.HealthUnhealthy, maxNodeReboots)
	h.pool.agent("203.0.113.2").pingErr = errors.New("connection refused")

	h.mon.sweep(context.Background())

	node, err := h.store.GetNode("node-1")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.HealthStatus != types.HealthProblematic {
		t.Errorf("health = %q, want problematic", node.HealthStatus)
	}
	if node.FailureCount != maxNodeReboots+1 {
		t.Errorf("FailureCount = %d, want %d", node.FailureCount, maxNodeReboots+1)
	}
	if !strings.Contains(node.ProblematicReason, "after 2 reboot(s)") {
		t.Errorf("ProblematicReason = %q", node.ProblematicReason)
	}
	if node.FlaggedAt.IsZero() {
		t.Error("FlaggedAt not set")
	}
	if len(h.rebooter.reboots) != 0 {
		t.Errorf("reboots = %v, want none past the budget", h.rebooter.reboots)
	}
}

func TestFlaggedNodeLeftAlone(t *testing.T) {
	h := newHarness(t)
	h.addNode("node-1", "203.0.113.2", types.HealthProblematic, 3)

	h.mon.sweep(context.Background())

	if got := h.pool.agent("203.0.113.2").pingCount(); got != 0 {
		t.Errorf("pings = %d, a flagged node gets no automatic action", got)
	}
}

func TestRebootFailureStillCounts(t *testing.T) {
	h := newHarness(t)
	h.addNode("node-1", "203.0.113.2", types.HealthHealthy, 0)
	h.pool.agent("203.0.113.2").pingErr = errors.New("connection refused")
	h.rebooter.err = errors.New("droplet is locked")

	h.mon.sweep(context.Background())

	node, err := h.store.GetNode("node-1")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.FailureCount != 1 || node.HealthStatus != types.HealthUnhealthy {
		t.Errorf("node = %s/%d, want unhealthy/1", node.HealthStatus, node.FailureCount)
	}
	if !node.LastRebootAt.IsZero() {
		t.Error("LastRebootAt set although the reboot failed")
	}
}

func TestContainerRestartedWhenUnhealthy(t *testing.T) {
	h := newHarness(t)
	h.addNode("node-1", "203.0.113.2", types.HealthHealthy, 0)
	h.addService("svc-1", types.ServiceTypeWorker)
	h.addContainer("node-1", "web_v1", "svc-1", types.HealthHealthy, 0)
	agent := h.pool.agent("203.0.113.2")
	agent.unhealthy["web_v1"] = "process exited"

	h.mon.sweep(context.Background())

	c, err := h.store.GetContainer("node-1", "web_v1")
	if err != nil {
		t.Fatalf("GetContainer() error = %v", err)
	}
	if c.HealthStatus != types.HealthUnhealthy || c.FailureCount != 1 {
		t.Errorf("container = %s/%d, want unhealthy/1", c.HealthStatus, c.FailureCount)
	}
	if c.LastFailureReason != "process exited" {
		t.Errorf("LastFailureReason = %q", c.LastFailureReason)
	}
	if c.LastRestartAt.IsZero() {
		t.Error("LastRestartAt not set")
	}
	if len(agent.restarts) != 1 || agent.restarts[0] != "web_v1" {
		t.Errorf("restarts = %v, want [web_v1]", agent.restarts)
	}
}

func TestContainerFlaggedAfterRestartBudget(t *testing.T) {
	h := newHarness(t)
	h.addNode("node-1", "203.0.113.2", types.HealthHealthy, 0)
	h.addService("svc-1", types.ServiceTypeWorker)
	h.addContainer("node-1", "web_v1", "svc-1", types.HealthUnhealthy, maxContainerRestarts)
	agent := h.pool.agent("203.0.113.2")
	agent.unhealthy["web_v1"] = "process exited"

	h.mon.sweep(context.Background())

	c, err := h.store.GetContainer("node-1", "web_v1")
	if err != nil {
		t.Fatalf("GetContainer() error = %v", err)
	}
	if c.HealthStatus != types.HealthProblematic {
		t.Errorf("health = %q, want problematic", c.HealthStatus)
	}
	if len(agent.restarts) != 0 {
		t.Errorf("restarts = %v, want none past the budget", agent.restarts)
	}

	// Once flagged, the next pass skips the container entirely.
	before := len(agent.healthCalls)
	h.mon.sweep(context.Background())
	if len(agent.healthCalls) != before {
		t.Errorf("flagged container probed again: %v", agent.healthCalls)
	}
}

func TestWebserviceProbedOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.addNode("node-1", "203.0.113.2", types.HealthHealthy, 0)
	h.addService("svc-web", types.ServiceTypeWebservice)
	h.addService("svc-redis", types.ServiceTypeRedis)
	h.addContainer("node-1", "web_v1", "svc-web", types.HealthHealthy, 0)
	h.addContainer("node-1", "cache_v1", "svc-redis", types.HealthHealthy, 0)

	h.mon.sweep(context.Background())

	agent := h.pool.agent("203.0.113.2")
	if got := agent.healthPaths["web_v1"]; got != "/health" {
		t.Errorf("webservice path = %q, want /health", got)
	}
	if got := agent.healthPaths["cache_v1"]; got != "" {
		t.Errorf("redis path = %q, want TCP-only probe", got)
	}
}

func TestInactiveNodesSkipped(t *testing.T) {
	h := newHarness(t)
	h.addNode("node-1", "203.0.113.2", types.HealthHealthy, 0)
	provisioning := &types.Node{
		ID:          "node-2",
		WorkspaceID: testWorkspace,
		PublicIP:    "203.0.113.3",
		Status:      types.NodeStatusProvisioning,
	}
	if err := h.store.CreateNode(provisioning); err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}

	h.mon.sweep(context.Background())

	if got := h.pool.agent("203.0.113.2").pingCount(); got != 1 {
		t.Errorf("active node pings = %d, want 1", got)
	}
	if got := h.pool.agent("203.0.113.3").pingCount(); got != 0 {
		t.Errorf("provisioning node pings = %d, want 0", got)
	}
}

func TestPruneDropsOldChecks(t *testing.T) {
	h := newHarness(t)
	old := &types.CheckRecord{
		ID:        "check-old",
		Kind:      types.CheckKindNode,
		TargetID:  "node-old",
		NodeID:    "node-old",
		Healthy:   true,
		CheckedAt: time.Now().Add(-25 * time.Hour),
	}
	fresh := &types.CheckRecord{
		ID:        "check-fresh",
		Kind:      types.CheckKindNode,
		TargetID:  "node-fresh",
		NodeID:    "node-fresh",
		Healthy:   true,
		CheckedAt: time.Now(),
	}
	for _, rec := range []*types.CheckRecord{old, fresh} {
		if err := h.store.RecordCheck(rec); err != nil {
			t.Fatalf("RecordCheck() error = %v", err)
		}
	}

	h.mon.prune()

	gone, err := h.store.ListChecksForTarget("node-old")
	if err != nil {
		t.Fatalf("ListChecksForTarget() error = %v", err)
	}
	if len(gone) != 0 {
		t.Errorf("old checks = %d, want 0", len(gone))
	}
	kept, err := h.store.ListChecksForTarget("node-fresh")
	if err != nil {
		t.Fatalf("ListChecksForTarget() error = %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("fresh checks = %d, want 1", len(kept))
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	h.addNode("node-1", "203.0.113.2", types.HealthHealthy, 0)
	h.mon.interval = 5 * time.Millisecond

	h.mon.Start()
	deadline := time.After(2 * time.Second)
	for h.pool.agent("203.0.113.2").pingCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no ping within 2s")
		case <-time.After(time.Millisecond):
		}
	}
	h.mon.Stop()
}
