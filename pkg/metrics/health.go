package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Snapshot is the wire form of a health or readiness report.
type Snapshot struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// registry holds per-subsystem reports posted by the rest of the
// process. An empty registry reads as healthy: reports arrive as
// subsystems come up during boot, and readiness gates on the ones that
// matter.
type registry struct {
	mu      sync.RWMutex
	started time.Time
	version string
	state   map[string]report
}

type report struct {
	healthy bool
	detail  string
	since   time.Time
}

var health = &registry{started: time.Now(), state: map[string]report{}}

// readinessGates are the subsystems that must have reported healthy
// before the control plane advertises itself ready for traffic.
var readinessGates = [...]string{"store", "monitor", "api"}

// SetVersion stamps health responses with the build version.
func SetVersion(v string) {
	health.mu.Lock()
	health.version = v
	health.mu.Unlock()
}

// RegisterComponent records the state of one subsystem. Registering a
// name again overwrites the previous report.
func RegisterComponent(name string, healthy bool, detail string) {
	health.mu.Lock()
	health.state[name] = report{healthy: healthy, detail: detail, since: time.Now()}
	health.mu.Unlock()
}

// UpdateComponent is RegisterComponent under the name callers reach
// for after boot, when a subsystem changes its mind about itself.
func UpdateComponent(name string, healthy bool, detail string) {
	RegisterComponent(name, healthy, detail)
}

// base seeds the fields every report shares. Callers hold at least a
// read lock.
func (r *registry) base() Snapshot {
	return Snapshot{
		Version:    r.version,
		Uptime:     time.Since(r.started).Round(time.Second).String(),
		Components: map[string]string{},
		CheckedAt:  time.Now(),
	}
}

// GetHealth reports every registered component. One failing component
// makes the whole report unhealthy.
func GetHealth() Snapshot {
	health.mu.RLock()
	defer health.mu.RUnlock()

	snap := health.base()
	snap.Status = "healthy"

	var failing []string
	for name, rep := range health.state {
		if rep.healthy {
			snap.Components[name] = "healthy"
			continue
		}
		snap.Components[name] = "unhealthy: " + rep.detail
		failing = append(failing, name)
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		snap.Status = "unhealthy"
		snap.Message = strings.Join(failing, ", ") + " failing"
	}
	return snap
}

// GetReadiness gates on the critical subsystems: each must have
// registered and be healthy. Anything else in the registry is
// informational and does not block readiness.
func GetReadiness() Snapshot {
	health.mu.RLock()
	defer health.mu.RUnlock()

	snap := health.base()
	snap.Status = "ready"

	for _, name := range readinessGates {
		rep, ok := health.state[name]
		switch {
		case !ok:
			snap.Status = "not_ready"
			snap.Components[name] = "not registered"
			if snap.Message == "" {
				snap.Message = "waiting for " + name + " to start"
			}
		case !rep.healthy:
			snap.Status = "not_ready"
			snap.Components[name] = "not ready: " + rep.detail
			if snap.Message == "" {
				snap.Message = "waiting for " + name
			}
		default:
			snap.Components[name] = "ready"
		}
	}
	return snap
}

func writeSnapshot(w http.ResponseWriter, code int, snap Snapshot) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(snap)
}

// HealthHandler serves the component registry as GET /health.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := GetHealth()
		code := http.StatusOK
		if snap.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeSnapshot(w, code, snap)
	}
}

// LivenessHandler answers 200 for as long as the process runs; it
// consults nothing, so a wedged store cannot fail it.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		health.mu.RLock()
		snap := health.base()
		health.mu.RUnlock()
		snap.Status = "alive"
		snap.Components = nil
		writeSnapshot(w, http.StatusOK, snap)
	}
}
