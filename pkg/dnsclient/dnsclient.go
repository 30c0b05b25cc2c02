package dnsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	retry "github.com/avast/retry-go/v4"
	cache "github.com/patrickmn/go-cache"

	"github.com/cuemby/flotilla/pkg/metrics"
)

const (
	defaultBaseURL = "https://api.cloudflare.com/client/v4"

	// Zone IDs never change for a root domain; cache generously
	zoneCacheTTL     = 12 * time.Hour
	zoneCacheCleanup = 24 * time.Hour

	retryAttempts  = 4
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// ErrZoneNotFound means the root domain has no zone at the provider.
var ErrZoneNotFound = errors.New("zone not found")

// Client manages proxied A records at the edge CDN. All operations are
// scoped to one root domain whose zone id is resolved once and cached.
type Client struct {
	baseURL string
	token   string
	root    string
	http    *http.Client
	cache   *cache.Cache
}

// NewClient creates a DNS client for one root domain.
func NewClient(token, rootDomain string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		root:    rootDomain,
		http:    &http.Client{Timeout: 30 * time.Second},
		cache:   cache.New(zoneCacheTTL, zoneCacheCleanup),
	}
}

// WithBaseURL points the client at a different API endpoint.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// SetupMultiServer replaces the full A record set for domain with the
// given IPs, proxied. The provider has no atomic replace, so this
// enumerates, deletes, then creates; callers tolerate the brief
// partial interval. Calling it again with the same IPs converges to
// the same record set.
func (c *Client) SetupMultiServer(ctx context.Context, domain string, ips []string) error {
	err := c.replaceRecords(ctx, domain, ips)
	c.observe(err)
	if err != nil {
		return fmt.Errorf("failed to point %s at %d ip(s): %w", domain, len(ips), err)
	}
	return nil
}

// RemoveDomain deletes every A record for domain.
func (c *Client) RemoveDomain(ctx context.Context, domain string) error {
	err := c.replaceRecords(ctx, domain, nil)
	c.observe(err)
	if err != nil {
		return fmt.Errorf("failed to remove records for %s: %w", domain, err)
	}
	return nil
}

func (c *Client) replaceRecords(ctx context.Context, domain string, ips []string) error {
	zone, err := c.zoneID(ctx)
	if err != nil {
		return err
	}

	current, err := c.listARecords(ctx, zone, domain)
	if err != nil {
		return err
	}
	for _, rec := range current {
		if err := c.deleteRecord(ctx, zone, rec.ID); err != nil {
			return err
		}
	}
	for _, ip := range ips {
		if err := c.createARecord(ctx, zone, domain, ip); err != nil {
			return err
		}
	}
	return nil
}

// record is one DNS record at the provider.
type record struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl"`
}

// zoneID resolves and caches the zone id for the root domain.
func (c *Client) zoneID(ctx context.Context) (string, error) {
	if id, ok := c.cache.Get(c.root); ok {
		return id.(string), nil
	}

	var result []struct {
		ID string `json:"id"`
	}
	path := "/zones?name=" + url.QueryEscape(c.root)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return "", err
	}
	if len(result) == 0 {
		return "", fmt.Errorf("%w: %s", ErrZoneNotFound, c.root)
	}

	c.cache.Set(c.root, result[0].ID, cache.DefaultExpiration)
	return result[0].ID, nil
}

func (c *Client) listARecords(ctx context.Context, zone, domain string) ([]record, error) {
	var result []record
	path := fmt.Sprintf("/zones/%s/dns_records?type=A&name=%s", zone, url.QueryEscape(domain))
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) createARecord(ctx context.Context, zone, domain, ip string) error {
	body := record{
		Type:    "A",
		Name:    domain,
		Content: ip,
		Proxied: true,
		TTL:     1, // provider-managed
	}
	path := fmt.Sprintf("/zones/%s/dns_records", zone)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) deleteRecord(ctx context.Context, zone, id string) error {
	path := fmt.Sprintf("/zones/%s/dns_records/%s", zone, id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// envelope is the provider's standard response wrapper.
type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result json.RawMessage `json:"result"`
}

// do runs one API exchange with retries on transient failures.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal dns request: %w", err)
		}
	}

	return retry.Do(
		func() error {
			var reader io.Reader
			if payload != nil {
				reader = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Authorization", "Bearer "+c.token)
			if payload != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("dns api returned %d", resp.StatusCode)
			}

			var env envelope
			if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to decode dns response: %w", err))
			}
			if !env.Success {
				msg := "unknown error"
				if len(env.Errors) > 0 {
					msg = env.Errors[0].Message
				}
				return retry.Unrecoverable(fmt.Errorf("dns api error: %s", msg))
			}
			if out != nil {
				if err := json.Unmarshal(env.Result, out); err != nil {
					return retry.Unrecoverable(fmt.Errorf("failed to decode dns result: %w", err))
				}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) observe(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.DNSUpdatesTotal.WithLabelValues(result).Inc()
}
