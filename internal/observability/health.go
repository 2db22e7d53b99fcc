package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Readiness gates used by the vesselledger binary.
const (
	GateRecovery = "recovery"
	GateIntake   = "intake"
)

// HealthChecker backs /healthz (liveness) and /readyz (readiness). The
// process is ready once every gate it was built with has passed.
type HealthChecker struct {
	mu      sync.RWMutex
	gates   map[string]bool
	started time.Time
}

func NewHealthChecker(gates ...string) *HealthChecker {
	h := &HealthChecker{gates: make(map[string]bool, len(gates)), started: time.Now()}
	for _, g := range gates {
		h.gates[g] = false
	}
	return h
}

// Mark opens or closes one gate.
func (h *HealthChecker) Mark(gate string, ok bool) {
	h.mu.Lock()
	h.gates[gate] = ok
	h.mu.Unlock()
}

// Ready reports whether every gate is open, plus a copy of the gates.
func (h *HealthChecker) Ready() (bool, map[string]bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ready := true
	gates := make(map[string]bool, len(h.gates))
	for g, ok := range h.gates {
		gates[g] = ok
		ready = ready && ok
	}
	return ready, gates
}

func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.started).Truncate(time.Second).String(),
	})
}

// ReadinessHandler answers 503 with the closed gates listed until all pass.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	ready, gates := h.Ready()
	if ready {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
		return
	}
	var waiting []string
	for g, ok := range gates {
		if !ok {
			waiting = append(waiting, g)
		}
	}
	sort.Strings(waiting)
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status":     "not_ready",
		"waiting_on": waiting,
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
