package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/bdobrica/l2r/common/version"
)

// HealthServer exposes /health and /status. It is optional; l2r runs
// without it when the HTTP address is empty.
type HealthServer struct {
	addr      string
	source    statusSource
	startedAt time.Time
	server    *http.Server
	mux       *chi.Mux
}

// statusSource is what the health server needs from the application.
type statusSource interface {
	RuntimeStatus() RuntimeStatus
}

// RuntimeStatus is the live state reported by GET /status.
type RuntimeStatus struct {
	Linked    bool   `json:"linked"`
	Approve   bool   `json:"approve_before_send"`
	Busy      bool   `json:"busy"`
	Turns     int    `json:"turns"`
	MaxTurns  int    `json:"max_turns"`
	Provider  string `json:"provider"`
	Pending   int    `json:"pending_approvals"`
	Images    int    `json:"images"`
	Chess     string `json:"chess"`
	ChessTurn string `json:"chess_turn,omitempty"`
	FEN       string `json:"fen,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string        `json:"status"`
	Version    string        `json:"version"`
	Commit     string        `json:"commit"`
	StartedAt  time.Time     `json:"started_at"`
	UptimeSecs float64       `json:"uptime_seconds"`
	Runtime    RuntimeStatus `json:"runtime"`
}

// NewHealthServer creates and configures the HTTP server (does not start it).
func NewHealthServer(addr string, src statusSource) *HealthServer {
	mux := chi.NewRouter()
	mux.Use(chiMiddleware.RequestID)
	mux.Use(chiMiddleware.Recoverer)
	hs := &HealthServer{
		addr:      addr,
		source:    src,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.Get("/health", hs.handleHealth)
	mux.Get("/status", hs.handleStatus)
	return hs
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. It returns once the listener is
// established.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
	}
	if h.source != nil {
		resp.Runtime = h.source.RuntimeStatus()
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
