package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/digitalocean/godo"

	"github.com/cuemby/flotilla/pkg/log"
	"github.com/cuemby/flotilla/pkg/metrics"
	"github.com/cuemby/flotilla/pkg/naming"
)

const (
	// ipWaitTimeout bounds how long a created droplet may take to
	// report a public address before the provision counts as failed.
	ipWaitTimeout  = 60 * time.Second
	ipPollInterval = 3 * time.Second

	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 5 * time.Second

	listPageSize = 200
)

var errIPPending = errors.New("droplet has no public IP yet")

// DigitalOcean implements Provider against the DigitalOcean API.
type DigitalOcean struct {
	client *godo.Client
	ipWait time.Duration
	poll   time.Duration
}

// NewDigitalOcean creates a provider using the given API token.
func NewDigitalOcean(token string) *DigitalOcean {
	return &DigitalOcean{
		client: godo.NewFromToken(token),
		ipWait: ipWaitTimeout,
		poll:   ipPollInterval,
	}
}

// WithBaseURL overrides the API endpoint. Used in tests.
func (d *DigitalOcean) WithBaseURL(raw string) *DigitalOcean {
	if u, err := url.Parse(raw); err == nil {
		d.client.BaseURL = u
	}
	return d
}

// CreateNode provisions a droplet from the request's snapshot inside
// the given VPC and waits for its public IP.
//
// Droplet creation is not idempotent, so the create call itself is
// never retried; only the IP polling afterwards is. When the wait
// budget runs out the droplet is NOT destroyed and its provider id is
// returned alongside ErrNoPublicIP.
func (d *DigitalOcean) CreateNode(ctx context.Context, req CreateNodeRequest) (*Instance, error) {
	imageID, err := strconv.Atoi(req.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("snapshot id %q is not a provider image id: %w", req.SnapshotID, err)
	}

	createReq := &godo.DropletCreateRequest{
		Name:    req.Name,
		Region:  req.Region,
		Size:    req.Size,
		Image:   godo.DropletCreateImage{ID: imageID},
		VPCUUID: req.VPCID,
		Tags:    req.Tags,
	}

	droplet, _, err := d.client.Droplets.Create(ctx, createReq)
	d.observe("create_droplet", err)
	if err != nil {
		return nil, fmt.Errorf("failed to create droplet %s: %w", req.Name, err)
	}

	log.Info().
		Str("droplet", req.Name).
		Int("provider_id", droplet.ID).
		Str("region", req.Region).
		Str("size", req.Size).
		Msg("Droplet created, waiting for public IP")

	instance := &Instance{ProviderID: strconv.Itoa(droplet.ID)}
	timer := metrics.NewTimer()
	public, private, err := d.waitForPublicIP(ctx, droplet.ID)
	if err != nil {
		return instance, fmt.Errorf("droplet %s (%s): %w", req.Name, instance.ProviderID, err)
	}
	timer.ObserveDuration(metrics.ProvisionDuration)

	instance.PublicIP = public
	instance.PrivateIP = private
	return instance, nil
}

// waitForPublicIP polls the droplet until a public v4 address shows
// up, bounded by the ipWait budget.
func (d *DigitalOcean) waitForPublicIP(ctx context.Context, dropletID int) (string, string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.ipWait)
	defer cancel()

	var public, private string
	err := retry.Do(
		func() error {
			droplet, _, err := d.client.Droplets.Get(waitCtx, dropletID)
			if err != nil {
				return err
			}
			public, private = dropletIPs(droplet)
			if public == "" {
				return errIPPending
			}
			return nil
		},
		retry.Context(waitCtx),
		retry.Attempts(0),
		retry.Delay(d.poll),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w after %s: %v", ErrNoPublicIP, d.ipWait, err)
	}
	return public, private, nil
}

// DeleteNode destroys a droplet. A 404 from the API means the droplet
// is already gone and is treated as success.
func (d *DigitalOcean) DeleteNode(ctx context.Context, providerID string) error {
	dropletID, err := strconv.Atoi(providerID)
	if err != nil {
		return fmt.Errorf("provider id %q is not a droplet id: %w", providerID, err)
	}

	err = d.retry(ctx, func() error {
		_, err := d.client.Droplets.Delete(ctx, dropletID)
		return err
	})
	if isNotFound(err) {
		err = nil
	}
	d.observe("delete_droplet", err)
	if err != nil {
		return fmt.Errorf("failed to delete droplet %s: %w", providerID, err)
	}
	return nil
}

// RebootNode power-cycles a droplet.
func (d *DigitalOcean) RebootNode(ctx context.Context, providerID string) error {
	dropletID, err := strconv.Atoi(providerID)
	if err != nil {
		return fmt.Errorf("provider id %q is not a droplet id: %w", providerID, err)
	}

	err = d.retry(ctx, func() error {
		_, _, err := d.client.DropletActions.Reboot(ctx, dropletID)
		return err
	})
	d.observe("reboot_droplet", err)
	if err != nil {
		return fmt.Errorf("failed to reboot droplet %s: %w", providerID, err)
	}
	return nil
}

// EnsureVPC finds the workspace VPC for region by its deterministic
// name, creating it when absent. The returned id is what droplet
// creates take as VPCUUID.
func (d *DigitalOcean) EnsureVPC(ctx context.Context, workspaceID, region string) (string, error) {
	name := naming.VPCName(workspaceID, region)

	vpcID, err := d.findVPC(ctx, name, region)
	d.observe("list_vpcs", err)
	if err != nil {
		return "", fmt.Errorf("failed to list VPCs: %w", err)
	}
	if vpcID != "" {
		return vpcID, nil
	}

	vpc, _, err := d.client.VPCs.Create(ctx, &godo.VPCCreateRequest{
		Name:       name,
		RegionSlug: region,
	})
	if err != nil {
		// A concurrent deploy may have created it since the list.
		vpcID, listErr := d.findVPC(ctx, name, region)
		if listErr == nil && vpcID != "" {
			d.observe("create_vpc", nil)
			return vpcID, nil
		}
		d.observe("create_vpc", err)
		return "", fmt.Errorf("failed to create VPC %s: %w", name, err)
	}
	d.observe("create_vpc", nil)

	log.Info().Str("vpc", name).Str("vpc_id", vpc.ID).Str("region", region).Msg("VPC created")
	return vpc.ID, nil
}

func (d *DigitalOcean) findVPC(ctx context.Context, name, region string) (string, error) {
	opt := &godo.ListOptions{PerPage: listPageSize}
	for {
		var vpcs []*godo.VPC
		var resp *godo.Response
		err := d.retry(ctx, func() error {
			var err error
			vpcs, resp, err = d.client.VPCs.List(ctx, opt)
			return err
		})
		if err != nil {
			return "", err
		}
		for _, vpc := range vpcs {
			if vpc.Name == name && vpc.RegionSlug == region {
				return vpc.ID, nil
			}
		}
		if resp.Links == nil || resp.Links.IsLastPage() {
			return "", nil
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			return "", err
		}
		opt.Page = page + 1
	}
}

// GetSnapshot resolves a snapshot id to its metadata.
func (d *DigitalOcean) GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error) {
	var snapshot *godo.Snapshot
	err := d.retry(ctx, func() error {
		var err error
		snapshot, _, err = d.client.Snapshots.Get(ctx, snapshotID)
		return err
	})
	d.observe("get_snapshot", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", snapshotID, err)
	}
	return &Snapshot{
		ID:          snapshot.ID,
		Name:        snapshot.Name,
		Regions:     snapshot.Regions,
		MinDiskSize: snapshot.MinDiskSize,
	}, nil
}

// retry wraps an API call with bounded backoff on transient failures.
func (d *DigitalOcean) retry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(transient),
	)
}

// transient reports whether an API error is worth another attempt:
// network failures, 5xx, and rate limits. Contexts ended by the
// caller are not.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *godo.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		code := apiErr.Response.StatusCode
		return code >= 500 || code == 429 || code == 408
	}
	return true
}

func isNotFound(err error) bool {
	var apiErr *godo.ErrorResponse
	return errors.As(err, &apiErr) && apiErr.Response != nil && apiErr.Response.StatusCode == 404
}

func (d *DigitalOcean) observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(op, result).Inc()
}

func dropletIPs(droplet *godo.Droplet) (public, private string) {
	if droplet.Networks == nil {
		return "", ""
	}
	for _, network := range droplet.Networks.V4 {
		switch network.Type {
		case "public":
			public = network.IPAddress
		case "private":
			private = network.IPAddress
		}
	}
	return public, private
}
