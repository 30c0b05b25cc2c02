package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/flotilla/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewBoltStore(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewBoltStore(tmpDir)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	defer store.Close()

	// Verify database file was created
	dbPath := filepath.Join(tmpDir, "flotilla.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestProjectCRUD(t *testing.T) {
	store := newTestStore(t)

	project := &types.Project{
		ID:          "proj-1",
		WorkspaceID: "ws-1",
		Name:        "shop",
		CreatedAt:   time.Now(),
	}

	if err := store.CreateProject(project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	got, err := store.GetProject("proj-1")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Name != "shop" || got.WorkspaceID != "ws-1" {
		t.Errorf("GetProject() = %+v, want name shop in ws-1", got)
	}

	// Soft delete via update
	now := time.Now()
	got.DeletedAt = &now
	if err := store.UpdateProject(got); err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}

	got, err = store.GetProject("proj-1")
	if err != nil {
		t.Fatalf("GetProject() after update error = %v", err)
	}
	if !got.Deleted() {
		t.Error("Project should be soft-deleted after update")
	}

	projects, err := store.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 1 {
		t.Errorf("ListProjects() returned %d projects, want 1", len(projects))
	}
}

func TestGetProject_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetProject("missing")
	if err == nil {
		t.Fatal("GetProject() on missing id should return error")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject() error = %v, want ErrNotFound", err)
	}
}

func TestListServicesForProject(t *testing.T) {
	store := newTestStore(t)

	services := []*types.Service{
		{ID: "svc-1", ProjectID: "proj-1", Name: "api", Type: types.ServiceTypeWebservice},
		{ID: "svc-2", ProjectID: "proj-1", Name: "cache", Type: types.ServiceTypeRedis},
		{ID: "svc-3", ProjectID: "proj-2", Name: "other", Type: types.ServiceTypeWorker},
	}
	for _, svc := range services {
		if err := store.CreateService(svc); err != nil {
			t.Fatalf("CreateService(%s) error = %v", svc.ID, err)
		}
	}

	got, err := store.ListServicesForProject("proj-1")
	if err != nil {
		t.Fatalf("ListServicesForProject() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListServicesForProject() returned %d services, want 2", len(got))
	}
	for _, svc := range got {
		if svc.ProjectID != "proj-1" {
			t.Errorf("Service %s belongs to %s, want proj-1", svc.ID, svc.ProjectID)
		}
	}
}

func TestCreateNode_ActiveRequiresPublicIP(t *testing.T) {
	store := newTestStore(t)

	node := &types.Node{
		ID:          "node-1",
		WorkspaceID: "ws-1",
		Status:      types.NodeStatusActive,
	}
	if err := store.CreateNode(node); err == nil {
		t.Error("CreateNode() with active status and no public IP should return error")
	}

	// Provisioning nodes have no address yet; that is fine
	node.Status = types.NodeStatusProvisioning
	if err := store.CreateNode(node); err != nil {
		t.Fatalf("CreateNode() provisioning error = %v", err)
	}

	// Activation without an address is still rejected
	node.Status = types.NodeStatusActive
	if err := store.UpdateNode(node); err == nil {
		t.Error("UpdateNode() to active without public IP should return error")
	}

	node.PublicIP = "203.0.113.10"
	if err := store.UpdateNode(node); err != nil {
		t.Fatalf("UpdateNode() with public IP error = %v", err)
	}

	got, err := store.GetNode("node-1")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if got.Status != types.NodeStatusActive || got.PublicIP != "203.0.113.10" {
		t.Errorf("GetNode() = %+v, want active with public IP", got)
	}
}

func TestListNodesForDeployment(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"node-a", "node-b", "node-c"} {
		node := &types.Node{ID: id, WorkspaceID: "ws-1", Status: types.NodeStatusActive, PublicIP: "203.0.113.1"}
		if err := store.CreateNode(node); err != nil {
			t.Fatalf("CreateNode(%s) error = %v", id, err)
		}
	}

	deployment := &types.Deployment{
		ID:      "dep-1",
		NodeIDs: []string{"node-c", "node-a"},
	}

	nodes, err := store.ListNodesForDeployment(deployment)
	if err != nil {
		t.Fatalf("ListNodesForDeployment() error = %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("ListNodesForDeployment() returned %d nodes, want 2", len(nodes))
	}
	// Placement order must be preserved
	if nodes[0].ID != "node-c" || nodes[1].ID != "node-a" {
		t.Errorf("ListNodesForDeployment() order = [%s %s], want [node-c node-a]", nodes[0].ID, nodes[1].ID)
	}

	deployment.NodeIDs = append(deployment.NodeIDs, "node-gone")
	if _, err := store.ListNodesForDeployment(deployment); err == nil {
		t.Error("ListNodesForDeployment() with missing node should return error")
	}
}

func TestListActiveWorkspaceIDs(t *testing.T) {
	store := newTestStore(t)

	deleted := time.Now()
	nodes := []*types.Node{
		{ID: "n1", WorkspaceID: "ws-b", Status: types.NodeStatusActive, PublicIP: "203.0.113.1"},
		{ID: "n2", WorkspaceID: "ws-a", Status: types.NodeStatusActive, PublicIP: "203.0.113.2"},
		{ID: "n3", WorkspaceID: "ws-a", Status: types.NodeStatusActive, PublicIP: "203.0.113.3"},
		{ID: "n4", WorkspaceID: "ws-c", Status: types.NodeStatusProvisioning},
		{ID: "n5", WorkspaceID: "ws-d", Status: types.NodeStatusActive, PublicIP: "203.0.113.5", DeletedAt: &deleted},
	}
	for _, node := range nodes {
		if err := store.CreateNode(node); err != nil {
			t.Fatalf("CreateNode(%s) error = %v", node.ID, err)
		}
	}

	ids, err := store.ListActiveWorkspaceIDs()
	if err != nil {
		t.Fatalf("ListActiveWorkspaceIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "ws-a" || ids[1] != "ws-b" {
		t.Errorf("ListActiveWorkspaceIDs() = %v, want [ws-a ws-b]", ids)
	}
}

func TestNextVersion(t *testing.T) {
	store := newTestStore(t)

	v, err := store.NextVersion("svc-1", "production")
	if err != nil {
		t.Fatalf("NextVersion() error = %v", err)
	}
	if v != 1 {
		t.Errorf("NextVersion() on empty history = %d, want 1", v)
	}

	deployments := []*types.Deployment{
		{ID: "d1", ServiceID: "svc-1", Env: "production", Version: 1, Status: types.DeploymentStatusSuccess},
		{ID: "d2", ServiceID: "svc-1", Env: "production", Version: 2, Status: types.DeploymentStatusFailed},
		{ID: "d3", ServiceID: "svc-1", Env: "staging", Version: 7, Status: types.DeploymentStatusSuccess},
		{ID: "d4", ServiceID: "svc-2", Env: "production", Version: 9, Status: types.DeploymentStatusSuccess},
	}
	for _, d := range deployments {
		if err := store.CreateDeployment(d); err != nil {
			t.Fatalf("CreateDeployment(%s) error = %v", d.ID, err)
		}
	}

	// Failed attempts burn versions too
	v, err = store.NextVersion("svc-1", "production")
	if err != nil {
		t.Fatalf("NextVersion() error = %v", err)
	}
	if v != 3 {
		t.Errorf("NextVersion() = %d, want 3", v)
	}

	v, err = store.NextVersion("svc-1", "staging")
	if err != nil {
		t.Fatalf("NextVersion() error = %v", err)
	}
	if v != 8 {
		t.Errorf("NextVersion() for staging = %d, want 8", v)
	}
}

func TestLatestAndPreviousSuccess(t *testing.T) {
	store := newTestStore(t)

	deployments := []*types.Deployment{
		{ID: "d1", ServiceID: "svc-1", Env: "production", Version: 1, Status: types.DeploymentStatusSuccess},
		{ID: "d2", ServiceID: "svc-1", Env: "production", Version: 2, Status: types.DeploymentStatusSuccess},
		{ID: "d3", ServiceID: "svc-1", Env: "production", Version: 3, Status: types.DeploymentStatusFailed},
		{ID: "d4", ServiceID: "svc-1", Env: "production", Version: 4, Status: types.DeploymentStatusInProgress},
		{ID: "d5", ServiceID: "svc-1", Env: "staging", Version: 5, Status: types.DeploymentStatusSuccess},
	}
	for _, d := range deployments {
		if err := store.CreateDeployment(d); err != nil {
			t.Fatalf("CreateDeployment(%s) error = %v", d.ID, err)
		}
	}

	latest, err := store.GetLatestSuccess("svc-1", "production")
	if err != nil {
		t.Fatalf("GetLatestSuccess() error = %v", err)
	}
	if latest.ID != "d2" {
		t.Errorf("GetLatestSuccess() = %s, want d2", latest.ID)
	}

	previous, err := store.GetPreviousSuccess("svc-1", "production", latest.Version)
	if err != nil {
		t.Fatalf("GetPreviousSuccess() error = %v", err)
	}
	if previous.ID != "d1" {
		t.Errorf("GetPreviousSuccess() = %s, want d1", previous.ID)
	}

	if _, err := store.GetPreviousSuccess("svc-1", "production", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPreviousSuccess() below first version error = %v, want ErrNotFound", err)
	}

	if _, err := store.GetLatestSuccess("svc-9", "production"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLatestSuccess() for unknown service error = %v, want ErrNotFound", err)
	}
}

func TestContainerUpsert(t *testing.T) {
	store := newTestStore(t)

	created := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	container := &types.Container{
		ID:           "ctr-1",
		Name:         "w1_shop_api_prod_v1",
		NodeID:       "node-a",
		DeploymentID: "dep-1",
		Image:        "w1_shop_api_prod_v1.tar.gz",
		HostPort:     12345,
		Status:       types.ContainerStatusRunning,
		CreatedAt:    created,
	}
	if err := store.UpsertContainer(container); err != nil {
		t.Fatalf("UpsertContainer() error = %v", err)
	}

	// Redeploy to the same (node, name) keeps identity and CreatedAt
	update := &types.Container{
		ID:           "ctr-other",
		Name:         "w1_shop_api_prod_v1",
		NodeID:       "node-a",
		DeploymentID: "dep-2",
		Image:        "w1_shop_api_prod_v1.tar.gz",
		HostPort:     12345,
		Status:       types.ContainerStatusRunning,
		CreatedAt:    time.Now(),
	}
	if err := store.UpsertContainer(update); err != nil {
		t.Fatalf("UpsertContainer() update error = %v", err)
	}

	got, err := store.GetContainer("node-a", "w1_shop_api_prod_v1")
	if err != nil {
		t.Fatalf("GetContainer() error = %v", err)
	}
	if got.ID != "ctr-1" {
		t.Errorf("Upsert replaced ID = %s, want ctr-1", got.ID)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("Upsert replaced CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.DeploymentID != "dep-2" {
		t.Errorf("Upsert kept stale DeploymentID = %s, want dep-2", got.DeploymentID)
	}

	// Same name on another node is a distinct row
	other := &types.Container{
		ID:     "ctr-2",
		Name:   "w1_shop_api_prod_v1",
		NodeID: "node-b",
		Status: types.ContainerStatusRunning,
	}
	if err := store.UpsertContainer(other); err != nil {
		t.Fatalf("UpsertContainer() on second node error = %v", err)
	}

	containers, err := store.ListContainers()
	if err != nil {
		t.Fatalf("ListContainers() error = %v", err)
	}
	if len(containers) != 2 {
		t.Errorf("ListContainers() returned %d containers, want 2", len(containers))
	}

	if err := store.DeleteContainerBy("node-a", "w1_shop_api_prod_v1"); err != nil {
		t.Fatalf("DeleteContainerBy() error = %v", err)
	}
	if _, err := store.GetContainer("node-a", "w1_shop_api_prod_v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetContainer() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetContainer("node-b", "w1_shop_api_prod_v1"); err != nil {
		t.Errorf("GetContainer() on node-b should survive delete on node-a, error = %v", err)
	}
}

func TestListContainersForDeployment(t *testing.T) {
	store := newTestStore(t)

	containers := []*types.Container{
		{ID: "c1", Name: "a_v1", NodeID: "n1", DeploymentID: "dep-1"},
		{ID: "c2", Name: "a_v1", NodeID: "n2", DeploymentID: "dep-1"},
		{ID: "c3", Name: "b_v2", NodeID: "n1", DeploymentID: "dep-2"},
	}
	for _, c := range containers {
		if err := store.UpsertContainer(c); err != nil {
			t.Fatalf("UpsertContainer(%s) error = %v", c.ID, err)
		}
	}

	got, err := store.ListContainersForDeployment("dep-1")
	if err != nil {
		t.Fatalf("ListContainersForDeployment() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListContainersForDeployment() returned %d, want 2", len(got))
	}

	got, err = store.ListContainersForNode("n1")
	if err != nil {
		t.Fatalf("ListContainersForNode() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListContainersForNode() returned %d, want 2", len(got))
	}
}

func TestSnapshotBaseInvariant(t *testing.T) {
	store := newTestStore(t)

	base := &types.Snapshot{
		ID:          "snap-1",
		WorkspaceID: "ws-1",
		Region:      "nyc3",
		IsBase:      true,
	}
	if err := store.CreateSnapshot(base); err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}

	// Second base in the same workspace/region is rejected
	dup := &types.Snapshot{ID: "snap-2", WorkspaceID: "ws-1", Region: "nyc3", IsBase: true}
	if err := store.CreateSnapshot(dup); err == nil {
		t.Error("CreateSnapshot() second base for same workspace/region should return error")
	}

	// Same workspace, different region is fine
	other := &types.Snapshot{ID: "snap-3", WorkspaceID: "ws-1", Region: "sfo2", IsBase: true}
	if err := store.CreateSnapshot(other); err != nil {
		t.Errorf("CreateSnapshot() base in other region error = %v", err)
	}

	// Non-base snapshots are unconstrained
	extra := &types.Snapshot{ID: "snap-4", WorkspaceID: "ws-1", Region: "nyc3"}
	if err := store.CreateSnapshot(extra); err != nil {
		t.Errorf("CreateSnapshot() non-base error = %v", err)
	}

	// Re-writing the same base is an update, not a conflict
	base.ProviderSnapshotID = "123456"
	if err := store.CreateSnapshot(base); err != nil {
		t.Errorf("CreateSnapshot() rewrite of same base error = %v", err)
	}

	got, err := store.GetBaseSnapshot("ws-1", "nyc3")
	if err != nil {
		t.Fatalf("GetBaseSnapshot() error = %v", err)
	}
	if got.ID != "snap-1" {
		t.Errorf("GetBaseSnapshot() = %s, want snap-1", got.ID)
	}

	if _, err := store.GetBaseSnapshot("ws-1", "ams3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBaseSnapshot() for empty region error = %v, want ErrNotFound", err)
	}

	// Deleting the base frees the slot for a replacement
	if err := store.DeleteSnapshot("snap-1"); err != nil {
		t.Fatalf("DeleteSnapshot() error = %v", err)
	}
	replacement := &types.Snapshot{ID: "snap-5", WorkspaceID: "ws-1", Region: "nyc3", IsBase: true}
	if err := store.CreateSnapshot(replacement); err != nil {
		t.Errorf("CreateSnapshot() after base deletion error = %v", err)
	}
}

func TestCheckHistory(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	records := []*types.CheckRecord{
		{ID: "chk-1", Kind: types.CheckKindNode, TargetID: "node-1", Healthy: false, Reason: "timeout", CheckedAt: now.Add(-48 * time.Hour)},
		{ID: "chk-2", Kind: types.CheckKindContainer, TargetID: "ctr-1", NodeID: "node-1", Healthy: true, CheckedAt: now.Add(-30 * time.Hour)},
		{ID: "chk-3", Kind: types.CheckKindNode, TargetID: "node-1", Healthy: true, CheckedAt: now.Add(-1 * time.Hour)},
	}
	for _, r := range records {
		if err := store.RecordCheck(r); err != nil {
			t.Fatalf("RecordCheck(%s) error = %v", r.ID, err)
		}
	}

	checks, err := store.ListChecksForTarget("node-1")
	if err != nil {
		t.Fatalf("ListChecksForTarget() error = %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("ListChecksForTarget() returned %d records, want 2", len(checks))
	}
	// Oldest first
	if checks[0].ID != "chk-1" || checks[1].ID != "chk-3" {
		t.Errorf("ListChecksForTarget() order = [%s %s], want [chk-1 chk-3]", checks[0].ID, checks[1].ID)
	}

	pruned, err := store.PruneChecksBefore(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneChecksBefore() error = %v", err)
	}
	if pruned != 2 {
		t.Errorf("PruneChecksBefore() removed %d records, want 2", pruned)
	}

	checks, err = store.ListChecksForTarget("node-1")
	if err != nil {
		t.Fatalf("ListChecksForTarget() after prune error = %v", err)
	}
	if len(checks) != 1 || checks[0].ID != "chk-3" {
		t.Errorf("ListChecksForTarget() after prune = %v, want only chk-3", checks)
	}
}

func TestDataSurvivesReopen(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewBoltStore(tmpDir)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}

	project := &types.Project{ID: "proj-1", WorkspaceID: "ws-1", Name: "shop"}
	if err := store.CreateProject(project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewBoltStore(tmpDir)
	if err != nil {
		t.Fatalf("NewBoltStore() reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetProject("proj-1")
	if err != nil {
		t.Fatalf("GetProject() after reopen error = %v", err)
	}
	if got.Name != "shop" {
		t.Errorf("GetProject() after reopen = %+v, want name shop", got)
	}
}
