package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/flotilla/pkg/config"
	"github.com/cuemby/flotilla/pkg/deploylock"
	"github.com/cuemby/flotilla/pkg/events"
	"github.com/cuemby/flotilla/pkg/inject"
	"github.com/cuemby/flotilla/pkg/log"
	"github.com/cuemby/flotilla/pkg/metrics"
	"github.com/cuemby/flotilla/pkg/naming"
	"github.com/cuemby/flotilla/pkg/nodeagent"
	"github.com/cuemby/flotilla/pkg/provider"
	"github.com/cuemby/flotilla/pkg/storage"
	"github.com/cuemby/flotilla/pkg/types"
)

const (
	healthGateAttempts = 10
	healthGateInterval = 2 * time.Second
	healthProbeTimeout = 10 * time.Second
	drainTimeout       = 30 * time.Second

	// dataVolume is mounted into every managed container.
	dataVolume = "/data:/app/data"
)

var (
	// ErrValidation marks requests rejected before any side effect.
	ErrValidation = errors.New("validation failed")

	// ErrNoTargetNodes is returned when a deploy names neither existing
	// nodes nor nodes to provision.
	ErrNoTargetNodes = errors.New("no target nodes")

	// ErrHealthGate is returned when new containers never pass their
	// health checks within the gate budget.
	ErrHealthGate = errors.New("health gate failed")
)

// Agent is the node-agent surface the orchestrator drives on each node.
// *nodeagent.Client implements it.
type Agent interface {
	UploadImage(ctx context.Context, name string, blob io.ReadSeeker) error
	StartContainer(ctx context.Context, req *nodeagent.StartRequest) (string, error)
	RemoveContainer(ctx context.Context, name string, drain bool, drainTimeout time.Duration) error
	Health(ctx context.Context, name string, containerPort int, httpPath string, timeout time.Duration) (*nodeagent.HealthResult, error)
	ConfigureNginx(ctx context.Context, privateIPs []string, hostPort int, domain string) error
	CleanupImages(ctx context.Context, prefix string, keepLatest int) (int, error)
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

// DNS is the record surface webservice deploys need. *dnsclient.Client
// implements it.
type DNS interface {
	SetupMultiServer(ctx context.Context, domain string, ips []string) error
}

// Request describes one deploy: which service, into which env, and
// either a new image blob to upload or the name of an image already
// present on the nodes.
type Request struct {
	ServiceID       string
	Env             string
	ImageBlob       []byte
	ImageName       string
	EnvVariables    map[string]string
	ExistingNodeIDs []string
	NewNodes        *NodeSpec
	TriggeredBy     string
}

// NodeSpec asks for nodes to be provisioned as part of the deploy.
// An empty SnapshotID falls back to the workspace base snapshot for
// the region.
type NodeSpec struct {
	Count      int
	Region     string
	Size       string
	SnapshotID string
}

// Orchestrator runs deploys, rollbacks, and scale operations. One
// instance serves the whole control plane; per-(service, env)
// serialization comes from the lock registry.
type Orchestrator struct {
	store    storage.Store
	agents   AgentPool
	dns      DNS
	cloud    provider.Provider
	injector *inject.Injector
	locks    *deploylock.Registry
	cfg      *config.Config

	gateAttempts int
	gateInterval time.Duration
}

// New creates an orchestrator over the given dependencies. dns may be
// nil when no root domain is configured; webservice deploys are then
// rejected at validation.
func New(store storage.Store, agents AgentPool, dns DNS, cloud provider.Provider, locks *deploylock.Registry, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:        store,
		agents:       agents,
		dns:          dns,
		cloud:        cloud,
		injector:     inject.New(store),
		locks:        locks,
		cfg:          cfg,
		gateAttempts: healthGateAttempts,
		gateInterval: healthGateInterval,
	}
}

// plan carries everything a single orchestration computes and touches.
type plan struct {
	req     *Request
	service *types.Service
	project *types.Project

	env           string
	domain        string
	cport         int
	hport         int
	version       int
	containerName string
	imageName     string
	mergedEnv     map[string]string

	existingNodes []*types.Node
	newNodes      []*types.Node
	targets       []*types.Node

	previous   *types.Deployment
	deployment *types.Deployment
	scaleUp    bool
	isRollback bool
	startedAt  time.Time

	mu      sync.Mutex
	started []*types.Container
}

func (p *plan) workspaceID() string {
	return p.project.WorkspaceID
}

// startNodes is the set START_NEW and the health gate operate on:
// every target normally, only the freshly provisioned ones during
// a scale-up (the rest already run this version).
func (p *plan) startNodes() []*types.Node {
	if p.scaleUp {
		return p.newNodes
	}
	return p.targets
}

func (p *plan) newCount() int {
	if p.req.NewNodes == nil {
		return 0
	}
	return p.req.NewNodes.Count
}

func (p *plan) recordStarted(c *types.Container) {
	p.mu.Lock()
	p.started = append(p.started, c)
	p.mu.Unlock()
}

func (p *plan) startedContainers() []*types.Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.Container{}, p.started...)
}

// Deploy runs the full pipeline for req, emitting progress and exactly
// one terminal event on stream. The returned deployment is the row the
// deploy drove, nil when the request was rejected before allocation.
func (o *Orchestrator) Deploy(ctx context.Context, req *Request, stream *events.Stream) (*types.Deployment, error) {
	p, err := o.buildPlan(req)
	if err != nil {
		return o.reject(stream, err)
	}

	lockID, err := o.locks.Acquire(p.service.ID, p.env, o.cfg.DeployTimeout)
	if err != nil {
		metrics.DeployLockBusy.Inc()
		return o.reject(stream, fmt.Errorf("%s/%s in %s: %w", p.project.Name, p.service.Name, p.env, err))
	}
	defer o.locks.Release(p.service.ID, p.env, lockID)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.DeployTimeout)
	defer cancel()

	return o.run(ctx, p, stream)
}

// buildPlan validates the request and resolves every entity it names.
// Nothing here has side effects; a bad request leaves no trace.
func (o *Orchestrator) buildPlan(req *Request) (*plan, error) {
	if req.Env == "" || naming.Slug(req.Env) == "" {
		return nil, fmt.Errorf("%w: invalid env name %q", ErrValidation, req.Env)
	}
	if req.ImageBlob == nil && req.ImageName == "" {
		return nil, fmt.Errorf("%w: an image blob or image name is required", ErrValidation)
	}

	service, err := o.store.GetService(req.ServiceID)
	if err != nil {
		return nil, err
	}
	if service.Deleted() {
		return nil, fmt.Errorf("service %s is deleted: %w", req.ServiceID, storage.ErrNotFound)
	}
	project, err := o.store.GetProject(service.ProjectID)
	if err != nil {
		return nil, err
	}

	p := &plan{
		req:     req,
		service: service,
		project: project,
		env:     req.Env,
		cport:   naming.ContainerPort(service.Type),
	}

	if spec := req.NewNodes; spec != nil && spec.Count > 0 {
		if spec.Region == "" || spec.Size == "" {
			return nil, fmt.Errorf("%w: new nodes need a region and size", ErrValidation)
		}
	}
	if len(req.ExistingNodeIDs)+p.newCount() == 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrNoTargetNodes)
	}

	for _, nodeID := range req.ExistingNodeIDs {
		node, err := o.store.GetNode(nodeID)
		if err != nil {
			return nil, err
		}
		if node.Deleted() {
			return nil, fmt.Errorf("node %s is deleted: %w", nodeID, storage.ErrNotFound)
		}
		if node.Status != types.NodeStatusActive {
			return nil, fmt.Errorf("%w: node %s is %s, not active", ErrValidation, nodeID, node.Status)
		}
		p.existingNodes = append(p.existingNodes, node)
	}

	if service.Type.Webservice() {
		if o.dns == nil || o.cfg.RootDomain == "" {
			return nil, fmt.Errorf("%w: webservice deploys need a DNS credential and root domain", ErrValidation)
		}
		p.domain = naming.Domain(project.WorkspaceID, project.Name, service.Name, req.Env, o.cfg.RootDomain)
	}
	return p, nil
}

// run executes the pipeline against a validated plan. The deploy lock
// is already held.
func (o *Orchestrator) run(ctx context.Context, p *plan, stream *events.Stream) (*types.Deployment, error) {
	p.startedAt = time.Now()

	if !p.scaleUp {
		if err := o.planAndAllocate(p, stream); err != nil {
			if p.deployment == nil {
				return o.reject(stream, err)
			}
			return o.finish(p, stream, err)
		}
	}
	metrics.DeploymentsInProgress.Inc()
	defer metrics.DeploymentsInProgress.Dec()

	if err := o.provisionNodes(ctx, p, stream); err != nil {
		return o.finish(p, stream, err)
	}
	p.targets = append(append([]*types.Node{}, p.existingNodes...), p.newNodes...)
	if !p.scaleUp {
		p.deployment.NodeIDs = nodeIDs(p.targets)
		if err := o.store.UpdateDeployment(p.deployment); err != nil {
			return o.finish(p, stream, err)
		}
	}

	if p.req.ImageBlob != nil {
		if err := o.checkpoint(ctx); err != nil {
			return o.finish(p, stream, err)
		}
		if err := o.uploadImage(ctx, p, stream); err != nil {
			return o.finish(p, stream, err)
		}
	}

	if err := o.checkpoint(ctx); err != nil {
		return o.finish(p, stream, err)
	}
	if err := o.startContainers(ctx, p, stream); err != nil {
		return o.finish(p, stream, err)
	}

	if err := o.checkpoint(ctx); err != nil {
		return o.finish(p, stream, err)
	}
	if err := o.healthGate(ctx, p, stream); err != nil {
		return o.finish(p, stream, err)
	}

	if p.service.Type.Webservice() {
		if err := o.checkpoint(ctx); err != nil {
			return o.finish(p, stream, err)
		}
		if err := o.switchNginx(ctx, p, stream); err != nil {
			return o.finish(p, stream, err)
		}
		if err := o.updateDNS(ctx, p, stream); err != nil {
			return o.finish(p, stream, err)
		}
	}

	// Last cancellation window. Traffic is on the new version now;
	// what remains is best-effort cleanup.
	if err := o.checkpoint(ctx); err != nil {
		return o.finish(p, stream, err)
	}
	if !p.scaleUp {
		o.retireOld(ctx, p, stream)
	}
	o.pruneImages(ctx, p, stream)

	return o.succeed(p, stream)
}

// planAndAllocate covers the PLAN and ALLOCATE_VERSION steps: stateful
// injection, env merge, version allocation, and the deployment row.
func (o *Orchestrator) planAndAllocate(p *plan, stream *events.Stream) error {
	stream.Info("Starting deployment of %s/%s to %s", p.project.Name, p.service.Name, p.env)

	// Localhost wiring only makes sense when the deploy lands on
	// exactly one known node.
	targetNode := ""
	if len(p.existingNodes) == 1 && p.newCount() == 0 {
		targetNode = p.existingNodes[0].ID
	}
	injected, err := o.injector.Inject(p.project, p.env, p.service.ID, targetNode)
	if err != nil {
		return err
	}
	for _, warning := range injected.Warnings {
		stream.Warn("%s", warning)
	}
	// Injected variables win over user ones so an app cannot clobber
	// its own wiring.
	p.mergedEnv = lo.Assign(p.req.EnvVariables, injected.Env)

	previous, err := o.store.GetLatestSuccess(p.service.ID, p.env)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	p.previous = previous

	version, err := o.store.NextVersion(p.service.ID, p.env)
	if err != nil {
		return err
	}
	p.version = version
	p.containerName = naming.ContainerName(p.workspaceID(), p.project.Name, p.service.Name, p.env, version)
	p.hport = naming.HostPort(p.workspaceID(), p.project.Name, p.service.Name, p.env, version, p.service.Type)
	if p.req.ImageBlob != nil {
		p.imageName = naming.ImageName(p.workspaceID(), p.project.Name, p.service.Name, p.env, version)
	} else {
		p.imageName = p.req.ImageName
	}

	d := &types.Deployment{
		ID:            uuid.New().String(),
		ServiceID:     p.service.ID,
		Env:           p.env,
		Version:       version,
		ImageName:     p.imageName,
		ContainerName: p.containerName,
		Domain:        p.domain,
		EnvVariables:  p.mergedEnv,
		NodeIDs:       []string{},
		IsRollback:    p.isRollback,
		Status:        types.DeploymentStatusPending,
		TriggeredBy:   p.req.TriggeredBy,
		TriggeredAt:   time.Now(),
	}
	if err := o.store.CreateDeployment(d); err != nil {
		return err
	}
	p.deployment = d

	d.Status = types.DeploymentStatusInProgress
	if err := o.store.UpdateDeployment(d); err != nil {
		return err
	}

	log.Info().
		Str("deployment_id", d.ID).
		Str("service", p.service.Name).
		Str("env", p.env).
		Int("version", version).
		Bool("rollback", p.isRollback).
		Msg("Deployment started")
	stream.Info("Deploying version %d as %s", version, p.containerName)
	return nil
}

// provisionNodes creates the requested droplets in the workspace VPC
// and waits for their public IPs. Droplets that came up broken are
// persisted with status error and kept for triage.
func (o *Orchestrator) provisionNodes(ctx context.Context, p *plan, stream *events.Stream) error {
	spec := p.req.NewNodes
	if spec == nil || spec.Count == 0 {
		return nil
	}

	snapshotID := spec.SnapshotID
	if snapshotID == "" {
		base, err := o.store.GetBaseSnapshot(p.workspaceID(), spec.Region)
		if err != nil {
			return fmt.Errorf("no base snapshot for region %s: %w", spec.Region, err)
		}
		snapshotID = base.ProviderSnapshotID
	}

	stream.Info("Provisioning %d node(s) in %s", spec.Count, spec.Region)
	vpcID, err := o.cloud.EnsureVPC(ctx, p.workspaceID(), spec.Region)
	if err != nil {
		return fmt.Errorf("failed to ensure VPC: %w", err)
	}

	created := make([]*types.Node, spec.Count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.DeployFanout)
	var mu sync.Mutex
	var errs *multierror.Error
	for i := 0; i < spec.Count; i++ {
		i := i
		g.Go(func() error {
			name := fmt.Sprintf("%s-%s-%s", naming.User6(p.workspaceID()), spec.Region, uuid.New().String()[:8])
			node := &types.Node{
				ID:           uuid.New().String(),
				WorkspaceID:  p.workspaceID(),
				Region:       spec.Region,
				Size:         spec.Size,
				VPCID:        vpcID,
				SnapshotID:   snapshotID,
				Status:       types.NodeStatusProvisioning,
				HealthStatus: types.HealthUnknown,
			}

			instance, err := o.cloud.CreateNode(gctx, provider.CreateNodeRequest{
				Name:       name,
				Region:     spec.Region,
				Size:       spec.Size,
				SnapshotID: snapshotID,
				VPCID:      vpcID,
				Tags:       []string{"flotilla", naming.User6(p.workspaceID())},
			})
			if err != nil {
				// Keep whatever the provider created so an operator
				// can find and reclaim it.
				if instance != nil && instance.ProviderID != "" {
					node.ProviderID = instance.ProviderID
					node.Status = types.NodeStatusError
					if createErr := o.store.CreateNode(node); createErr != nil {
						log.Warn().Err(createErr).Str("provider_id", instance.ProviderID).Msg("Failed to record failed node")
					}
					stream.Warn("Node %s provisioned but unusable: %v", node.ID, err)
				}
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return err
			}

			node.ProviderID = instance.ProviderID
			node.PublicIP = instance.PublicIP
			node.PrivateIP = instance.PrivateIP
			node.Status = types.NodeStatusActive
			if err := o.store.CreateNode(node); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return err
			}
			mu.Lock()
			created[i] = node
			mu.Unlock()
			stream.Info("Node %s ready at %s", node.ID, node.PublicIP)
			return nil
		})
	}
	_ = g.Wait()
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}

	p.newNodes = created
	return nil
}

// uploadImage streams the blob to every target node with bounded
// fan-out. Any node failing fails the step.
func (o *Orchestrator) uploadImage(ctx context.Context, p *plan, stream *events.Stream) error {
	stream.Info("Uploading image %s to %d node(s)", p.imageName, len(p.targets))
	err := o.forEachNode(ctx, p.targets, func(ctx context.Context, node *types.Node) error {
		if err := o.agents.Get(node.PublicIP).UploadImage(ctx, p.imageName, bytes.NewReader(p.req.ImageBlob)); err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}
		stream.Info("Image uploaded to node %s", node.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("image upload failed: %w", err)
	}
	return nil
}

// startContainers launches the new version on each start node. For
// stateful services the prior container is removed first: its host
// port is version-stable and must be free before the new one binds.
func (o *Orchestrator) startContainers(ctx context.Context, p *plan, stream *events.Stream) error {
	envList := envList(p.mergedEnv)
	err := o.forEachNode(ctx, p.startNodes(), func(ctx context.Context, node *types.Node) error {
		agent := o.agents.Get(node.PublicIP)

		if !p.service.Type.Stateless() && p.previous != nil {
			if _, err := o.store.GetContainer(node.ID, p.previous.ContainerName); err == nil {
				stream.Info("Stopping previous %s on node %s to free its port", p.previous.ContainerName, node.ID)
				if err := agent.RemoveContainer(ctx, p.previous.ContainerName, true, drainTimeout); err != nil {
					stream.Warn("Failed to stop previous container on node %s: %v", node.ID, err)
				}
				if err := o.store.DeleteContainerBy(node.ID, p.previous.ContainerName); err != nil {
					log.Warn().Err(err).Str("node_id", node.ID).Msg("Failed to delete replaced container row")
				}
			}
		}

		containerID, err := agent.StartContainer(ctx, &nodeagent.StartRequest{
			Name:          p.containerName,
			Image:         p.imageName,
			Env:           envList,
			ContainerPort: p.cport,
			HostPort:      p.hport,
			Volumes:       []string{dataVolume},
		})
		if err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}

		c := &types.Container{
			ID:            containerID,
			Name:          p.containerName,
			NodeID:        node.ID,
			DeploymentID:  p.deployment.ID,
			ServiceID:     p.service.ID,
			Image:         p.imageName,
			ContainerPort: p.cport,
			HostPort:      p.hport,
			Status:        types.ContainerStatusPending,
			HealthStatus:  types.HealthUnknown,
		}
		if err := o.store.UpsertContainer(c); err != nil {
			return fmt.Errorf("node %s: failed to record container: %w", node.ID, err)
		}
		p.recordStarted(c)
		stream.Info("Container %s started on node %s", p.containerName, node.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("container start failed: %w", err)
	}
	return nil
}

// healthGate polls each new container until it reports healthy, with a
// fixed per-node attempt budget. The first success marks the container
// running; exhausting the budget on any node fails the deploy.
func (o *Orchestrator) healthGate(ctx context.Context, p *plan, stream *events.Stream) error {
	stream.Info("Waiting for containers to pass health checks")
	httpPath := ""
	if p.service.Type.Webservice() {
		httpPath = "/health"
	}

	return o.forEachNode(ctx, p.startNodes(), func(ctx context.Context, node *types.Node) error {
		agent := o.agents.Get(node.PublicIP)
		var lastReason string
		for attempt := 1; attempt <= o.gateAttempts; attempt++ {
			result, err := agent.Health(ctx, p.containerName, p.cport, httpPath, healthProbeTimeout)
			if err == nil && result.Healthy() {
				o.markRunning(p, node.ID)
				stream.Info("Container healthy on node %s", node.ID)
				return nil
			}
			switch {
			case err != nil:
				lastReason = err.Error()
			case result.Reason != "":
				lastReason = result.Reason
			default:
				lastReason = result.Status
			}
			if attempt < o.gateAttempts {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(o.gateInterval):
				}
			}
		}
		return fmt.Errorf("container %s on node %s: %w: %s", p.containerName, node.ID, ErrHealthGate, lastReason)
	})
}

func (o *Orchestrator) markRunning(p *plan, nodeID string) {
	for _, c := range p.startedContainers() {
		if c.NodeID != nodeID {
			continue
		}
		c.Status = types.ContainerStatusRunning
		c.HealthStatus = types.HealthHealthy
		c.LastHealthyAt = time.Now()
		if err := o.store.UpsertContainer(c); err != nil {
			log.Warn().Err(err).Str("node_id", nodeID).Msg("Failed to mark container running")
		}
		return
	}
}

// switchNginx points every target node's nginx at the full upstream
// set on the new host port.
func (o *Orchestrator) switchNginx(ctx context.Context, p *plan, stream *events.Stream) error {
	upstreams := upstreamIPs(p.targets)
	stream.Info("Configuring nginx on %d node(s)", len(p.targets))
	err := o.forEachNode(ctx, p.targets, func(ctx context.Context, node *types.Node) error {
		if err := o.agents.Get(node.PublicIP).ConfigureNginx(ctx, upstreams, p.hport, p.domain); err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("nginx switch failed: %w", err)
	}
	return nil
}

// updateDNS replaces the domain's A records with the target public IPs.
func (o *Orchestrator) updateDNS(ctx context.Context, p *plan, stream *events.Stream) error {
	ips := publicIPs(p.targets)
	if err := o.dns.SetupMultiServer(ctx, p.domain, ips); err != nil {
		return fmt.Errorf("DNS update failed: %w", err)
	}
	stream.Info("Domain %s points at %s", p.domain, strings.Join(ips, ", "))
	return nil
}

// retireOld drains containers of the previous success that are either
// on nodes outside the target set or superseded by the new container
// name. Best-effort: failures are logged, never fatal.
func (o *Orchestrator) retireOld(ctx context.Context, p *plan, stream *events.Stream) {
	if p.previous == nil {
		return
	}
	containers, err := o.store.ListContainersForDeployment(p.previous.ID)
	if err != nil {
		stream.Warn("Could not list previous containers: %v", err)
		return
	}

	targetSet := make(map[string]bool, len(p.targets))
	for _, node := range p.targets {
		targetSet[node.ID] = true
	}
	victims := lo.Filter(containers, func(c *types.Container, _ int) bool {
		return !targetSet[c.NodeID] || c.Name != p.containerName
	})
	if len(victims) == 0 {
		return
	}

	stream.Info("Retiring %d container(s) from version %d", len(victims), p.previous.Version)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.DeployFanout)
	for _, victim := range victims {
		victim := victim
		g.Go(func() error {
			node, err := o.store.GetNode(victim.NodeID)
			if err == nil && !node.Deleted() && node.PublicIP != "" {
				if err := o.agents.Get(node.PublicIP).RemoveContainer(gctx, victim.Name, true, drainTimeout); err != nil {
					stream.Warn("Failed to remove %s from node %s: %v", victim.Name, victim.NodeID, err)
					return nil
				}
			}
			if err := o.store.DeleteContainerBy(victim.NodeID, victim.Name); err != nil {
				log.Warn().Err(err).Str("node_id", victim.NodeID).Str("container", victim.Name).Msg("Failed to delete retired container row")
			}
			stream.Info("Removed %s from node %s", victim.Name, victim.NodeID)
			return nil
		})
	}
	_ = g.Wait()
}

// pruneImages trims old image versions on every target node.
// Best-effort.
func (o *Orchestrator) pruneImages(ctx context.Context, p *plan, stream *events.Stream) {
	prefix := naming.ImagePrefix(p.workspaceID(), p.project.Name, p.service.Name, p.env)
	_ = o.forEachNode(ctx, p.targets, func(ctx context.Context, node *types.Node) error {
		removed, err := o.agents.Get(node.PublicIP).CleanupImages(ctx, prefix, o.cfg.ImageKeepLatest)
		if err != nil {
			stream.Warn("Image cleanup on node %s: %v", node.ID, err)
			return nil
		}
		if removed > 0 {
			stream.Info("Pruned %d old image(s) on node %s", removed, node.ID)
		}
		return nil
	})
}

// succeed finalizes the deployment row and emits the terminal event.
func (o *Orchestrator) succeed(p *plan, stream *events.Stream) (*types.Deployment, error) {
	d := p.deployment
	d.NodeIDs = nodeIDs(p.targets)
	if p.scaleUp {
		stream.Info("Scale complete: %d node(s)", len(p.targets))
	} else {
		d.Status = types.DeploymentStatusSuccess
		d.CompletedAt = time.Now()
		stream.Info("Deployment v%d complete", p.version)
		d.Log = stream.Transcript()
	}
	if err := o.store.UpdateDeployment(d); err != nil {
		return o.finish(p, stream, fmt.Errorf("failed to record deployment result: %w", err))
	}

	metrics.DeploysTotal.WithLabelValues(string(types.DeploymentStatusSuccess)).Inc()
	metrics.DeployDuration.WithLabelValues(string(types.DeploymentStatusSuccess)).Observe(time.Since(p.startedAt).Seconds())
	log.Info().
		Str("deployment_id", d.ID).
		Str("service", p.service.Name).
		Str("env", p.env).
		Int("version", d.Version).
		Int("nodes", len(d.NodeIDs)).
		Dur("took", time.Since(p.startedAt)).
		Msg("Deployment succeeded")

	stream.Complete(true, d.ID, nil)
	return d, nil
}

// finish handles every failure past allocation: it marks the row, tags
// new containers unhealthy for the monitor, and emits the terminal
// event. Cancellation becomes status cancelled, a blown deadline
// becomes "deadline exceeded".
func (o *Orchestrator) finish(p *plan, stream *events.Stream, err error) (*types.Deployment, error) {
	status := types.DeploymentStatusFailed
	msg := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		status = types.DeploymentStatusCancelled
		msg = "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		msg = "deadline exceeded"
	}

	if status == types.DeploymentStatusCancelled {
		stream.Error("Deployment cancelled")
	} else {
		stream.Error("Deployment failed: %s", msg)
	}

	d := p.deployment
	if d != nil && !p.scaleUp {
		d.Status = status
		d.Error = msg
		d.CompletedAt = time.Now()
		d.Log = stream.Transcript()
		if updateErr := o.store.UpdateDeployment(d); updateErr != nil {
			log.Error().Err(updateErr).Str("deployment_id", d.ID).Msg("Failed to record deployment failure")
		}
	}

	// New containers stay up but flagged, so the monitor surfaces
	// them instead of a failed version serving silently.
	for _, c := range p.startedContainers() {
		c.HealthStatus = types.HealthUnhealthy
		if upErr := o.store.UpsertContainer(c); upErr != nil {
			log.Warn().Err(upErr).Str("container", c.Name).Msg("Failed to flag container after failed deploy")
		}
	}

	metrics.DeploysTotal.WithLabelValues(string(status)).Inc()
	metrics.DeployDuration.WithLabelValues(string(status)).Observe(time.Since(p.startedAt).Seconds())
	log.Error().
		Err(err).
		Str("service", p.service.Name).
		Str("env", p.env).
		Str("status", string(status)).
		Msg("Deployment did not complete")

	deploymentID := ""
	if d != nil {
		deploymentID = d.ID
	}
	stream.Complete(false, deploymentID, errors.New(msg))
	return d, err
}

// reject handles failures before anything was written: no row, no
// containers, just the terminal event.
func (o *Orchestrator) reject(stream *events.Stream, err error) (*types.Deployment, error) {
	stream.Error("Deploy rejected: %v", err)
	stream.Complete(false, "", err)
	return nil, err
}

// checkpoint enforces cancellation and deadline at step boundaries.
// The orchestrator never retries a step; it only decides whether to
// begin the next one.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	return ctx.Err()
}

// forEachNode runs fn against the nodes with bounded concurrency and
// reports every failure, not just the first.
func (o *Orchestrator) forEachNode(ctx context.Context, nodes []*types.Node, fn func(ctx context.Context, node *types.Node) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.DeployFanout)
	var mu sync.Mutex
	var errs *multierror.Error
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			if err := fn(gctx, node); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs.ErrorOrNil()
}

func nodeIDs(nodes []*types.Node) []string {
	return lo.Map(nodes, func(n *types.Node, _ int) string { return n.ID })
}

func publicIPs(nodes []*types.Node) []string {
	return lo.Map(nodes, func(n *types.Node, _ int) string { return n.PublicIP })
}

// upstreamIPs prefers the private address for node-to-node traffic.
func upstreamIPs(nodes []*types.Node) []string {
	return lo.Map(nodes, func(n *types.Node, _ int) string {
		if n.PrivateIP != "" {
			return n.PrivateIP
		}
		return n.PublicIP
	})
}

// envList renders the merged env as sorted KEY=value pairs.
func envList(env map[string]string) []string {
	keys := lo.Keys(env)
	sort.Strings(keys)
	list := make([]string, 0, len(keys))
	for _, key := range keys {
		list = append(list, fmt.Sprintf("%s=%s", key, env[key]))
	}
	return list
}
