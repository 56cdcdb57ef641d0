package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/event"
	"predict_go/internal/infra"
)

// HealthStatus is served on GET /health.
type HealthStatus struct {
	Status      string                `json:"status"`
	KillState   string                `json:"kill_state"`
	KillPhase   string                `json:"kill_switch"`
	Agents      int                   `json:"agents"`
	Subscribers map[string]int        `json:"subscribers"`
	Session     string                `json:"session,omitempty"`
	Vault       domain.VaultState     `json:"vault"`
	Balance     string                `json:"balance"`
	Queue       map[string]int64      `json:"queue"`
	DeadLetters map[string]int64      `json:"dead_letters"`
	Metrics     infra.MetricsSnapshot `json:"metrics"`
}

// Status reports liveness of the run and its storage.
func (b *Bootstrap) Status(ctx context.Context) HealthStatus {
	vault := b.Treasury.Snapshot()
	h := HealthStatus{
		Status:      "ok",
		KillState:   b.Kill.Load().String(),
		KillPhase:   b.Ragnarok.Phase().String(),
		Agents:      b.Runtime.Agents(),
		Subscribers: make(map[string]int, len(event.ArchivalTopics)),
		Session:     b.Treasury.Session(),
		Vault:       vault,
		Balance:     vault.Balance.String(),
		Queue:       make(map[string]int64, 2),
		DeadLetters: make(map[string]int64, 2),
		Metrics:     b.Metrics.Snapshot(),
	}
	for _, topic := range event.ArchivalTopics {
		h.Subscribers[topic] = b.Bus.Subscribers(topic)
	}

	if !b.Kill.Running() {
		h.Status = "shutting_down"
	}
	if err := b.Storage.Ping(ctx); err != nil {
		h.Status = "degraded"
		return h
	}
	for _, lane := range []domain.Lane{domain.LaneOpportunities, domain.LaneExecutions} {
		if n, err := b.Queue.Size(ctx, lane); err == nil {
			h.Queue[string(lane)] = n
		}
		if n, err := b.Queue.DeadLetters(ctx, lane); err == nil {
			h.DeadLetters[string(lane)] = n
		}
	}
	return h
}

// HealthHandler serves GET /health and POST /kill.
func (b *Bootstrap) HealthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := b.Status(ctx)
		code := http.StatusOK
		if status.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})
	mux.HandleFunc("POST /kill", func(w http.ResponseWriter, r *http.Request) {
		reason := r.URL.Query().Get("reason")
		if reason == "" {
			reason = "operator_request"
		}
		if !b.Config.KillSwitch.Enabled {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "kill switch disabled"})
			return
		}
		go b.RaiseKill(context.Background(), reason)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "kill requested", "reason": reason})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
