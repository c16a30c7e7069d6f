package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// The worker cannot serve jobs without its bolt store, the redis
// keystore and the queue runtime; /readyz stays 503 until all three
// have reported healthy.
var criticalComponents = []string{"store", "keystore", "queue"}

// ComponentStatus is one collaborator's latest health verdict.
type ComponentStatus struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HealthReport is the response body of the health endpoints.
type HealthReport struct {
	Status     string                     `json:"status"`
	Time       time.Time                  `json:"time"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
	WaitingFor []string                   `json:"waiting_for,omitempty"`
}

type componentRegistry struct {
	mu         sync.RWMutex
	components map[string]ComponentStatus
	startTime  time.Time
	version    string
}

var registry = &componentRegistry{
	components: make(map[string]ComponentStatus),
	startTime:  time.Now(),
}

func (r *componentRegistry) baseReport() HealthReport {
	return HealthReport{
		Time:       time.Now(),
		Version:    r.version,
		Uptime:     time.Since(r.startTime).String(),
		Components: make(map[string]ComponentStatus),
	}
}

// SetVersion sets the version string reported by the health endpoints.
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// RegisterComponent records a component's health verdict.
func RegisterComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.components[name] = ComponentStatus{
		Healthy:   healthy,
		Message:   message,
		UpdatedAt: time.Now(),
	}
}

// UpdateComponent replaces a component's health verdict.
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth reports on everything registered: unhealthy as soon as any
// component is.
func GetHealth() HealthReport {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	report := registry.baseReport()
	report.Status = "healthy"
	for name, comp := range registry.components {
		report.Components[name] = comp
		if !comp.Healthy {
			report.Status = "unhealthy"
		}
	}
	return report
}

// GetReadiness reports whether every critical component has registered
// and is healthy. Missing or unhealthy ones are listed in WaitingFor.
func GetReadiness() HealthReport {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	report := registry.baseReport()
	report.Status = "ready"
	for _, name := range criticalComponents {
		comp, ok := registry.components[name]
		if !ok {
			report.Status = "not_ready"
			report.WaitingFor = append(report.WaitingFor, name)
			continue
		}
		report.Components[name] = comp
		if !comp.Healthy {
			report.Status = "not_ready"
			report.WaitingFor = append(report.WaitingFor, name)
		}
	}
	return report
}

func writeReport(w http.ResponseWriter, report HealthReport, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// HealthHandler serves /healthz.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := GetHealth()
		writeReport(w, report, report.Status == "healthy")
	}
}

// ReadyHandler serves /readyz: 503 until every critical component has
// reported healthy.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := GetReadiness()
		writeReport(w, report, report.Status == "ready")
	}
}

// LivenessHandler serves /livez: 200 whenever the process responds.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(registry.startTime).String(),
		})
	}
}
