// Package trigger exposes the dispatch engine to external schedulers over
// HTTP. An invocation authenticates with a shared secret, runs one
// claim+dispatch cycle, and reports the aggregate counts. Several trigger
// endpoints (e.g. a primary cron and an ops fallback) may point at the same
// dispatcher; overlapping invocations are safe because the store's claim
// protocol, not endpoint uniqueness, prevents double-sending.
package trigger

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/carevia/mailout"
)

// SecretHeader carries the shared scheduler secret.
const SecretHeader = "X-Dispatch-Secret"

// Stats response headers for lightweight HEAD polling.
const (
	HeaderPendingEmails    = "X-Pending-Emails"
	HeaderClaimedEmails    = "X-Claimed-Emails"
	HeaderExhaustedEmails  = "X-Exhausted-Emails"
	HeaderOldestPendingAge = "X-Oldest-Pending-Age"
)

// Cycler runs one claim+dispatch cycle. *mailout.Dispatcher implements it.
type Cycler interface {
	ProcessOnce(ctx context.Context) (mailout.DispatchResult, error)
}

// StatsProvider reads outbox statistics. mailout.Store implementations satisfy it.
type StatsProvider interface {
	Stats(ctx context.Context) (mailout.Stats, error)
}

type dispatchResponse struct {
	Success   bool   `json:"success"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// DispatchHandler invokes one dispatch cycle per authenticated request.
type DispatchHandler struct {
	cycler Cycler
	secret string
	name   string
	logger mailout.Logger
}

// NewDispatchHandler constructs a trigger endpoint. The name distinguishes
// multiple adapters (e.g. "cron", "ops") in logs.
func NewDispatchHandler(cycler Cycler, secret, name string, logger mailout.Logger) *DispatchHandler {
	if cycler == nil {
		panic("trigger: nil Cycler")
	}
	if logger == nil {
		logger = mailout.NopLogger{}
	}

	return &DispatchHandler{
		cycler: cycler,
		secret: secret,
		name:   name,
		logger: logger,
	}
}

// ServeHTTP implements http.Handler. GET and POST are accepted because cron
// services differ in what they emit.
func (h *DispatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}
	if !authenticate(w, r, h.secret, h.logger) {
		return
	}

	result, err := h.cycler.ProcessOnce(r.Context())
	if err != nil {
		h.logger.Error("trigger dispatch cycle failed", "adapter", h.name, "err", err)
		writeJSON(w, http.StatusInternalServerError, dispatchResponse{
			Success: false,
			Error:   "dispatch cycle failed",
		})

		return
	}

	h.logger.Info("trigger dispatch cycle complete",
		"adapter", h.name,
		"processed", result.Processed,
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	writeJSON(w, http.StatusOK, dispatchResponse{
		Success:   true,
		Processed: result.Processed,
		Sent:      result.Sent,
		Failed:    result.Failed,
		Skipped:   result.Skipped,
	})
}

// StatsHandler serves read-only outbox statistics for dashboards and probes.
type StatsHandler struct {
	stats  StatsProvider
	secret string
	logger mailout.Logger
}

// NewStatsHandler constructs the stats endpoint.
func NewStatsHandler(stats StatsProvider, secret string, logger mailout.Logger) *StatsHandler {
	if stats == nil {
		panic("trigger: nil StatsProvider")
	}
	if logger == nil {
		logger = mailout.NopLogger{}
	}

	return &StatsHandler{
		stats:  stats,
		secret: secret,
		logger: logger,
	}
}

// ServeHTTP implements http.Handler. HEAD returns only the X-*-Emails
// headers, GET additionally returns the JSON body.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}
	if !authenticate(w, r, h.secret, h.logger) {
		return
	}

	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("trigger stats query failed", "err", err)
		http.Error(w, "stats query failed", http.StatusInternalServerError)

		return
	}

	w.Header().Set(HeaderPendingEmails, fmt.Sprint(stats.Pending))
	w.Header().Set(HeaderClaimedEmails, fmt.Sprint(stats.Claimed))
	w.Header().Set(HeaderExhaustedEmails, fmt.Sprint(stats.Exhausted))
	w.Header().Set(HeaderOldestPendingAge, fmt.Sprint(stats.OldestPendingAgeSeconds))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// authenticate verifies the shared secret before any store access. The
// comparison is constant-time to avoid leaking the secret through timing. A
// missing server-side secret is a deployment fault, not an auth failure, and
// reports 500.
func authenticate(w http.ResponseWriter, r *http.Request, secret string, logger mailout.Logger) bool {
	if secret == "" {
		logger.Error("trigger secret is not configured")
		http.Error(w, "trigger secret not configured", http.StatusInternalServerError)

		return false
	}

	provided := r.Header.Get(SecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)

		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
