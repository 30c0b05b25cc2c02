package provider

import (
	"context"
	"errors"
)

// ErrNoPublicIP indicates a created droplet never reported a public
// address within the provisioning wait budget.
var ErrNoPublicIP = errors.New("no public IP assigned")

// CreateNodeRequest describes a droplet to provision.
type CreateNodeRequest struct {
	Name       string
	Region     string
	Size       string
	SnapshotID string
	VPCID      string
	Tags       []string
}

// Instance is the provider-side identity of a provisioned droplet.
type Instance struct {
	ProviderID string
	PublicIP   string
	PrivateIP  string
}

// Snapshot describes a droplet image usable as a node base.
type Snapshot struct {
	ID          string
	Name        string
	Regions     []string
	MinDiskSize int
}

// Provider is the cloud surface the control plane needs: droplet
// lifecycle, reboots for the health monitor, and the per-workspace
// VPC the droplets live in.
type Provider interface {
	// CreateNode provisions a droplet from a snapshot and waits for
	// its public IP. On a wait timeout the returned Instance still
	// carries the provider id so the caller can record the droplet
	// for operator triage.
	CreateNode(ctx context.Context, req CreateNodeRequest) (*Instance, error)

	// DeleteNode destroys a droplet. Deleting a droplet that is
	// already gone is not an error.
	DeleteNode(ctx context.Context, providerID string) error

	// RebootNode power-cycles a droplet.
	RebootNode(ctx context.Context, providerID string) error

	// EnsureVPC returns the id of the workspace VPC in region,
	// creating it if it does not exist yet.
	EnsureVPC(ctx context.Context, workspaceID, region string) (string, error)

	// GetSnapshot resolves a snapshot id to its metadata.
	GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error)
}
