package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker backs /healthz and /readyz and records the last block applied per chain.
type HealthChecker struct {
	ready   atomic.Bool
	started time.Time

	mu       sync.RWMutex
	blocks   map[string]uint64
	lastSeen time.Time
}

type livenessBody struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type readinessBody struct {
	Status      string            `json:"status"`
	LastBlocks  map[string]uint64 `json:"last_blocks"`
	LastEventAt *time.Time        `json:"last_event_at,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now(), blocks: make(map[string]uint64)}
}

func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

// MarkBlock records chainID reaching block. Lower blocks are ignored.
func (h *HealthChecker) MarkBlock(chainID string, block uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSeen = time.Now()
	if block > h.blocks[chainID] {
		h.blocks[chainID] = block
	}
}

// LastBlocks returns a copy of the per-chain last processed blocks.
func (h *HealthChecker) LastBlocks() map[string]uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]uint64, len(h.blocks))
	for k, v := range h.blocks {
		out[k] = v
	}
	return out
}

func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, livenessBody{Status: "alive", Uptime: time.Since(h.started).Round(time.Second).String()})
}

// ReadinessHandler answers 503 until SetReady(true).
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	body := readinessBody{Status: "not_ready", LastBlocks: h.LastBlocks()}
	h.mu.RLock()
	if !h.lastSeen.IsZero() {
		seen := h.lastSeen
		body.LastEventAt = &seen
	}
	h.mu.RUnlock()

	code := http.StatusServiceUnavailable
	if h.IsReady() {
		code, body.Status = http.StatusOK, "ready"
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
