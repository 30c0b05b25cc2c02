package dnsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// fakeProvider is an in-memory edge-CDN API: one zone, A records only.
type fakeProvider struct {
	mu          sync.Mutex
	zoneLookups int
	failures    int // pending 500s to serve before behaving
	nextID      int
	records     map[string]record
	lastAuth    string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{records: make(map[string]record)}
}

func (f *fakeProvider) recordsFor(domain string) []record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []record
	for _, r := range f.records {
		if r.Name == domain {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastAuth = r.Header.Get("Authorization")
	if f.failures > 0 {
		f.failures--
		http.Error(w, "upstream error", http.StatusInternalServerError)
		return
	}

	write := func(result interface{}) {
		data, _ := json.Marshal(result)
		fmt.Fprintf(w, `{"success":true,"errors":[],"result":%s}`, data)
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/zones":
		f.zoneLookups++
		if r.URL.Query().Get("name") == "example.com" {
			write([]map[string]string{{"id": "zone-1"}})
			return
		}
		write([]map[string]string{})

	case r.Method == http.MethodGet && r.URL.Path == "/zones/zone-1/dns_records":
		name := r.URL.Query().Get("name")
		out := []record{}
		for _, rec := range f.records {
			if rec.Name == name {
				out = append(out, rec)
			}
		}
		write(out)

	case r.Method == http.MethodPost && r.URL.Path == "/zones/zone-1/dns_records":
		var rec record
		json.NewDecoder(r.Body).Decode(&rec)
		f.nextID++
		rec.ID = fmt.Sprintf("rec-%d", f.nextID)
		f.records[rec.ID] = rec
		write(rec)

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/zones/zone-1/dns_records/"):
		id := strings.TrimPrefix(r.URL.Path, "/zones/zone-1/dns_records/")
		delete(f.records, id)
		write(map[string]string{"id": id})

	default:
		http.Error(w, `{"success":false,"errors":[{"code":404,"message":"not found"}]}`, http.StatusNotFound)
	}
}

func testSetup(t *testing.T) (*Client, *fakeProvider) {
	t.Helper()
	provider := newFakeProvider()
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)
	client := NewClient("test-dns-token", "example.com").WithBaseURL(srv.URL)
	return client, provider
}

func contents(records []record) []string {
	var ips []string
	for _, r := range records {
		ips = append(ips, r.Content)
	}
	sort.Strings(ips)
	return ips
}

func TestSetupMultiServerReplaces(t *testing.T) {
	client, provider := testSetup(t)
	ctx := context.Background()
	domain := "w1-p-s-prod.example.com"

	if err := client.SetupMultiServer(ctx, domain, []string{"203.0.113.1", "203.0.113.2"}); err != nil {
		t.Fatalf("SetupMultiServer() error = %v", err)
	}

	got := provider.recordsFor(domain)
	if len(got) != 2 {
		t.Fatalf("provider has %d records, want 2", len(got))
	}
	for _, rec := range got {
		if !rec.Proxied {
			t.Errorf("record %s not proxied", rec.Content)
		}
		if rec.Type != "A" {
			t.Errorf("record type = %s, want A", rec.Type)
		}
	}

	// Full replacement: the old set is gone, not merged
	if err := client.SetupMultiServer(ctx, domain, []string{"203.0.113.2", "203.0.113.3"}); err != nil {
		t.Fatalf("SetupMultiServer() replace error = %v", err)
	}
	want := []string{"203.0.113.2", "203.0.113.3"}
	if ips := contents(provider.recordsFor(domain)); !equalStrings(ips, want) {
		t.Errorf("records after replace = %v, want %v", ips, want)
	}
}

func TestSetupMultiServerIdempotent(t *testing.T) {
	client, provider := testSetup(t)
	ctx := context.Background()
	domain := "w1-p-s-prod.example.com"
	ips := []string{"203.0.113.1", "203.0.113.2"}

	if err := client.SetupMultiServer(ctx, domain, ips); err != nil {
		t.Fatalf("SetupMultiServer() error = %v", err)
	}
	first := contents(provider.recordsFor(domain))

	if err := client.SetupMultiServer(ctx, domain, ips); err != nil {
		t.Fatalf("SetupMultiServer() second call error = %v", err)
	}
	second := contents(provider.recordsFor(domain))

	if !equalStrings(first, second) {
		t.Errorf("record set changed across identical calls: %v vs %v", first, second)
	}
}

func TestRemoveDomain(t *testing.T) {
	client, provider := testSetup(t)
	ctx := context.Background()

	if err := client.SetupMultiServer(ctx, "a.example.com", []string{"203.0.113.1"}); err != nil {
		t.Fatalf("SetupMultiServer() error = %v", err)
	}
	if err := client.SetupMultiServer(ctx, "b.example.com", []string{"203.0.113.2"}); err != nil {
		t.Fatalf("SetupMultiServer() error = %v", err)
	}

	if err := client.RemoveDomain(ctx, "a.example.com"); err != nil {
		t.Fatalf("RemoveDomain() error = %v", err)
	}

	if got := provider.recordsFor("a.example.com"); len(got) != 0 {
		t.Errorf("a.example.com still has %d records", len(got))
	}
	// Unrelated domains untouched
	if got := provider.recordsFor("b.example.com"); len(got) != 1 {
		t.Errorf("b.example.com has %d records, want 1", len(got))
	}
}

func TestZoneLookupCached(t *testing.T) {
	client, provider := testSetup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		domain := fmt.Sprintf("svc%d.example.com", i)
		if err := client.SetupMultiServer(ctx, domain, []string{"203.0.113.1"}); err != nil {
			t.Fatalf("SetupMultiServer() error = %v", err)
		}
	}

	provider.mu.Lock()
	lookups := provider.zoneLookups
	provider.mu.Unlock()
	if lookups != 1 {
		t.Errorf("zone looked up %d times, want 1 (cached)", lookups)
	}
}

func TestRetryOnServerError(t *testing.T) {
	client, provider := testSetup(t)
	provider.mu.Lock()
	provider.failures = 2
	provider.mu.Unlock()

	err := client.SetupMultiServer(context.Background(), "w1-p-s-prod.example.com", []string{"203.0.113.1"})
	if err != nil {
		t.Fatalf("SetupMultiServer() error = %v, want success after retries", err)
	}
}

func TestZoneNotFound(t *testing.T) {
	provider := newFakeProvider()
	srv := httptest.NewServer(provider)
	defer srv.Close()

	client := NewClient("test-dns-token", "missing.net").WithBaseURL(srv.URL)
	err := client.SetupMultiServer(context.Background(), "a.missing.net", []string{"203.0.113.1"})
	if !errors.Is(err, ErrZoneNotFound) {
		t.Errorf("error = %v, want ErrZoneNotFound", err)
	}
}

func TestAuthHeader(t *testing.T) {
	client, provider := testSetup(t)

	client.SetupMultiServer(context.Background(), "a.example.com", nil)

	provider.mu.Lock()
	auth := provider.lastAuth
	provider.mu.Unlock()
	if auth != "Bearer test-dns-token" {
		t.Errorf("Authorization = %q, want Bearer test-dns-token", auth)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
