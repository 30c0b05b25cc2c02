package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func freshRegistry(t *testing.T) {
	t.Helper()
	old := health
	health = &registry{started: time.Now(), state: map[string]report{}}
	t.Cleanup(func() { health = old })
}

func registerGates(healthy bool) {
	for _, name := range readinessGates {
		RegisterComponent(name, healthy, "")
	}
}

func TestReadinessWaitsForBoot(t *testing.T) {
	freshRegistry(t)

	snap := GetReadiness()
	if snap.Status != "not_ready" {
		t.Fatalf("Status = %q before any component registered", snap.Status)
	}
	if snap.Message != "waiting for store to start" {
		t.Errorf("Message = %q", snap.Message)
	}
	for _, name := range readinessGates {
		if snap.Components[name] != "not registered" {
			t.Errorf("Components[%s] = %q", name, snap.Components[name])
		}
	}

	registerGates(true)
	snap = GetReadiness()
	if snap.Status != "ready" || snap.Message != "" {
		t.Errorf("after boot: Status = %q, Message = %q", snap.Status, snap.Message)
	}
}

func TestReadinessBlocksOnCriticalFailure(t *testing.T) {
	freshRegistry(t)
	registerGates(true)
	UpdateComponent("monitor", false, "sweep cannot list workspaces")

	snap := GetReadiness()
	if snap.Status != "not_ready" {
		t.Fatalf("Status = %q", snap.Status)
	}
	if snap.Components["monitor"] != "not ready: sweep cannot list workspaces" {
		t.Errorf("Components[monitor] = %q", snap.Components["monitor"])
	}
	if snap.Message != "waiting for monitor" {
		t.Errorf("Message = %q", snap.Message)
	}
}

func TestReadinessIgnoresExtraComponents(t *testing.T) {
	freshRegistry(t)
	registerGates(true)
	RegisterComponent("dns", false, "token rejected")

	snap := GetReadiness()
	if snap.Status != "ready" {
		t.Errorf("Status = %q, non-critical components must not gate readiness", snap.Status)
	}
	if _, listed := snap.Components["dns"]; listed {
		t.Error("readiness listed a non-critical component")
	}
}

func TestHealthListsFailuresSorted(t *testing.T) {
	freshRegistry(t)
	registerGates(true)
	UpdateComponent("store", false, "bolt file locked")
	RegisterComponent("dns", false, "token rejected")

	snap := GetHealth()
	if snap.Status != "unhealthy" {
		t.Fatalf("Status = %q", snap.Status)
	}
	if snap.Message != "dns, store failing" {
		t.Errorf("Message = %q", snap.Message)
	}
	if snap.Components["store"] != "unhealthy: bolt file locked" {
		t.Errorf("Components[store] = %q", snap.Components["store"])
	}
	if snap.Components["monitor"] != "healthy" {
		t.Errorf("Components[monitor] = %q", snap.Components["monitor"])
	}
}

func TestUpdateOverwritesReport(t *testing.T) {
	freshRegistry(t)
	RegisterComponent("store", false, "opening")
	UpdateComponent("store", true, "")

	snap := GetHealth()
	if snap.Status != "healthy" || snap.Components["store"] != "healthy" {
		t.Errorf("after recovery: %q / %q", snap.Status, snap.Components["store"])
	}
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	freshRegistry(t)
	SetVersion("1.2.3")
	registerGates(true)

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy code = %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if snap.Version != "1.2.3" || snap.Uptime == "" {
		t.Errorf("snapshot = %+v", snap)
	}

	UpdateComponent("api", false, "listener gone")
	rec = httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy code = %d", rec.Code)
	}
}

func TestLivenessNeverConsultsComponents(t *testing.T) {
	freshRegistry(t)
	registerGates(false)

	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if snap.Status != "alive" || len(snap.Components) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}
