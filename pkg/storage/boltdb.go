package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/flotilla/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketProjects    = []byte("projects")
	bucketServices    = []byte("services")
	bucketDeployments = []byte("deployments")
	bucketNodes       = []byte("droplets") // nodes persist under the provider resource name
	bucketContainers  = []byte("containers")
	bucketSnapshots   = []byte("snapshots")
	bucketChecks      = []byte("health_checks")
)

// BoltStore keeps the control plane's state in a single bolt file,
// one bucket per entity, JSON values keyed by entity ID.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) flotilla.db under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "flotilla.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProjects,
			bucketServices,
			bucketDeployments,
			bucketNodes,
			bucketContainers,
			bucketSnapshots,
			bucketChecks,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Project operations
func (s *BoltStore) CreateProject(project *types.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		data, err := json.Marshal(project)
		if err != nil {
			return err
		}
		return b.Put([]byte(project.ID), data)
	})
}

func (s *BoltStore) GetProject(id string) (*types.Project, error) {
	var project types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &project)
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var projects []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		return b.ForEach(func(k, v []byte) error {
			var project types.Project
			if err := json.Unmarshal(v, &project); err != nil {
				return err
			}
			projects = append(projects, &project)
			return nil
		})
	})
	return projects, err
}

func (s *BoltStore) UpdateProject(project *types.Project) error {
	return s.CreateProject(project) // create is already an upsert
}

// Service operations
func (s *BoltStore) CreateService(service *types.Service) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		data, err := json.Marshal(service)
		if err != nil {
			return err
		}
		return b.Put([]byte(service.ID), data)
	})
}

func (s *BoltStore) GetService(id string) (*types.Service, error) {
	var service types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("service %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &service)
	})
	if err != nil {
		return nil, err
	}
	return &service, nil
}

func (s *BoltStore) ListServices() ([]*types.Service, error) {
	var services []*types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.ForEach(func(k, v []byte) error {
			var service types.Service
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			services = append(services, &service)
			return nil
		})
	})
	return services, err
}

func (s *BoltStore) ListServicesForProject(projectID string) ([]*types.Service, error) {
	services, err := s.ListServices()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Service
	for _, service := range services {
		if service.ProjectID == projectID {
			filtered = append(filtered, service)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateService(service *types.Service) error {
	return s.CreateService(service)
}

// Node operations
func (s *BoltStore) CreateNode(node *types.Node) error {
	// An active node must be reachable; refuse to persist one without an address.
	if node.Status == types.NodeStatusActive && node.PublicIP == "" {
		return fmt.Errorf("active node %s has no public IP", node.ID)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("node %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) ListNodesForWorkspace(workspaceID string) ([]*types.Node, error) {
	nodes, err := s.ListNodes()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Node
	for _, node := range nodes {
		if node.WorkspaceID == workspaceID && !node.Deleted() {
			filtered = append(filtered, node)
		}
	}
	return filtered, nil
}

// ListNodesForDeployment resolves a deployment's node IDs in placement
// order. A missing node is an error: deployments only reference nodes
// they still own.
func (s *BoltStore) ListNodesForDeployment(deployment *types.Deployment) ([]*types.Node, error) {
	nodes := make([]*types.Node, 0, len(deployment.NodeIDs))
	for _, id := range deployment.NodeIDs {
		node, err := s.GetNode(id)
		if err != nil {
			return nil, fmt.Errorf("deployment %s: %w", deployment.ID, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// ListActiveWorkspaceIDs returns the sorted, distinct workspace IDs
// that own at least one active node. The monitor fans out over this.
func (s *BoltStore) ListActiveWorkspaceIDs() ([]string, error) {
	nodes, err := s.ListNodes()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, node := range nodes {
		if node.Status != types.NodeStatusActive || node.Deleted() {
			continue
		}
		if !seen[node.WorkspaceID] {
			seen[node.WorkspaceID] = true
			ids = append(ids, node.WorkspaceID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node) // create is already an upsert
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.Delete([]byte(id))
	})
}

// Deployment operations
func (s *BoltStore) CreateDeployment(deployment *types.Deployment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data, err := json.Marshal(deployment)
		if err != nil {
			return err
		}
		return b.Put([]byte(deployment.ID), data)
	})
}

func (s *BoltStore) GetDeployment(id string) (*types.Deployment, error) {
	var deployment types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("deployment %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &deployment)
	})
	if err != nil {
		return nil, err
	}
	return &deployment, nil
}

func (s *BoltStore) ListDeployments() ([]*types.Deployment, error) {
	var deployments []*types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		return b.ForEach(func(k, v []byte) error {
			var deployment types.Deployment
			if err := json.Unmarshal(v, &deployment); err != nil {
				return err
			}
			deployments = append(deployments, &deployment)
			return nil
		})
	})
	return deployments, err
}

func (s *BoltStore) UpdateDeployment(deployment *types.Deployment) error {
	return s.CreateDeployment(deployment)
}

// NextVersion returns one past the highest version ever recorded for
// (serviceID, env), regardless of deployment outcome. Versions are never
// reused, so a failed v3 is followed by v4.
func (s *BoltStore) NextVersion(serviceID, env string) (int, error) {
	max := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				continue
			}
			if d.ServiceID == serviceID && d.Env == env && d.Version > max {
				max = d.Version
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// GetLatestSuccess returns the successful deployment with the highest
// version for (serviceID, env), or ErrNotFound if none succeeded yet.
func (s *BoltStore) GetLatestSuccess(serviceID, env string) (*types.Deployment, error) {
	return s.successBefore(serviceID, env, 0)
}

// GetPreviousSuccess returns the successful deployment with the highest
// version strictly below beforeVersion. Rollback uses this to find its
// target.
func (s *BoltStore) GetPreviousSuccess(serviceID, env string, beforeVersion int) (*types.Deployment, error) {
	return s.successBefore(serviceID, env, beforeVersion)
}

// successBefore scans for the newest success below beforeVersion;
// beforeVersion 0 means no upper bound.
func (s *BoltStore) successBefore(serviceID, env string, beforeVersion int) (*types.Deployment, error) {
	var best *types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				continue
			}
			if d.ServiceID != serviceID || d.Env != env {
				continue
			}
			if d.Status != types.DeploymentStatusSuccess {
				continue
			}
			if beforeVersion > 0 && d.Version >= beforeVersion {
				continue
			}
			if best == nil || d.Version > best.Version {
				dd := d
				best = &dd
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, fmt.Errorf("no successful deployment for service %s env %s: %w", serviceID, env, ErrNotFound)
	}
	return best, nil
}

// Container operations
//
// Containers are keyed by (node_id, name): the same name can exist on
// many nodes, but only once per node. The row's ID and CreatedAt are
// stable across upserts so health history survives redeploys.

func containerKey(nodeID, name string) []byte {
	return []byte(nodeID + "/" + name)
}

func (s *BoltStore) UpsertContainer(container *types.Container) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		key := containerKey(container.NodeID, container.Name)

		if data := b.Get(key); data != nil {
			var existing types.Container
			if err := json.Unmarshal(data, &existing); err == nil {
				container.ID = existing.ID
				container.CreatedAt = existing.CreatedAt
			}
		}

		data, err := json.Marshal(container)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) GetContainer(nodeID, name string) (*types.Container, error) {
	var container types.Container
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		data := b.Get(containerKey(nodeID, name))
		if data == nil {
			return fmt.Errorf("container %s on node %s: %w", name, nodeID, ErrNotFound)
		}
		return json.Unmarshal(data, &container)
	})
	if err != nil {
		return nil, err
	}
	return &container, nil
}

func (s *BoltStore) ListContainers() ([]*types.Container, error) {
	var containers []*types.Container
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		return b.ForEach(func(k, v []byte) error {
			var container types.Container
			if err := json.Unmarshal(v, &container); err != nil {
				return err
			}
			containers = append(containers, &container)
			return nil
		})
	})
	return containers, err
}

func (s *BoltStore) ListContainersForDeployment(deploymentID string) ([]*types.Container, error) {
	containers, err := s.ListContainers()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Container
	for _, container := range containers {
		if container.DeploymentID == deploymentID {
			filtered = append(filtered, container)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListContainersForNode(nodeID string) ([]*types.Container, error) {
	containers, err := s.ListContainers()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Container
	for _, container := range containers {
		if container.NodeID == nodeID {
			filtered = append(filtered, container)
		}
	}
	return filtered, nil
}

func (s *BoltStore) DeleteContainerBy(nodeID, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		return b.Delete(containerKey(nodeID, name))
	})
}

// --- Snapshot Operations ---

// CreateSnapshot persists a snapshot. At most one base snapshot may
// exist per (workspace, region); a second is rejected in the same
// transaction that would write it.
func (s *BoltStore) CreateSnapshot(snapshot *types.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)

		if snapshot.IsBase {
			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var existing types.Snapshot
				if err := json.Unmarshal(v, &existing); err != nil {
					continue
				}
				if existing.IsBase && existing.WorkspaceID == snapshot.WorkspaceID &&
					existing.Region == snapshot.Region && existing.ID != snapshot.ID {
					return fmt.Errorf("base snapshot already exists for workspace %s in %s: %s",
						snapshot.WorkspaceID, snapshot.Region, existing.ID)
				}
			}
		}

		data, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		return b.Put([]byte(snapshot.ID), data)
	})
}

// GetSnapshot retrieves a snapshot by ID
func (s *BoltStore) GetSnapshot(id string) (*types.Snapshot, error) {
	var snapshot types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// GetBaseSnapshot returns the base snapshot for a workspace/region pair.
// New nodes boot from this when no snapshot is named explicitly.
func (s *BoltStore) GetBaseSnapshot(workspaceID, region string) (*types.Snapshot, error) {
	var base *types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var snapshot types.Snapshot
			if err := json.Unmarshal(v, &snapshot); err != nil {
				continue
			}
			if snapshot.IsBase && snapshot.WorkspaceID == workspaceID && snapshot.Region == region {
				base = &snapshot
				return nil
			}
		}
		return fmt.Errorf("base snapshot for workspace %s in %s: %w", workspaceID, region, ErrNotFound)
	})
	if err != nil {
		return nil, err
	}
	return base, nil
}

// DeleteSnapshot deletes a snapshot record
func (s *BoltStore) DeleteSnapshot(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		return b.Delete([]byte(id))
	})
}

// --- Check History ---
//
// Check records are keyed by zero-padded UnixNano so the bucket orders
// them chronologically and pruning can stop at the first young key.

func checkKey(record *types.CheckRecord) []byte {
	return []byte(fmt.Sprintf("%020d/%s", record.CheckedAt.UnixNano(), record.ID))
}

// RecordCheck appends one health probe result to the history.
func (s *BoltStore) RecordCheck(record *types.CheckRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChecks)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put(checkKey(record), data)
	})
}

// ListChecksForTarget returns the stored probe results for one node or
// container, oldest first.
func (s *BoltStore) ListChecksForTarget(targetID string) ([]*types.CheckRecord, error) {
	var records []*types.CheckRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChecks)
		return b.ForEach(func(k, v []byte) error {
			var record types.CheckRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.TargetID == targetID {
				records = append(records, &record)
			}
			return nil
		})
	})
	return records, err
}

// PruneChecksBefore deletes every check record older than cutoff and
// returns how many were removed.
func (s *BoltStore) PruneChecksBefore(cutoff time.Time) (int, error) {
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChecks)
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			nanos, err := parseCheckKey(k)
			if err != nil {
				continue
			}
			if nanos >= cutoff.UnixNano() {
				break // keys are time-ordered; the rest are younger
			}
			if err := c.Delete(); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

func parseCheckKey(k []byte) (int64, error) {
	key := string(k)
	idx := strings.IndexByte(key, '/')
	if idx < 0 {
		return 0, fmt.Errorf("malformed check key: %s", key)
	}
	return strconv.ParseInt(key[:idx], 10, 64)
}
