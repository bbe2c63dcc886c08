package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
	"github.com/SmitUplenchwar2687/ratekit/internal/metrics"
	"github.com/SmitUplenchwar2687/ratekit/internal/recorder"
	"github.com/SmitUplenchwar2687/ratekit/internal/storage"
)

// Options configures optional server features. Only Store is required.
type Options struct {
	Store     storage.Store
	Algorithm limiter.Algorithm // reported in responses and events
	Clock     clock.Clock

	Hub         *Hub               // broadcasts decisions over /ws when set
	Recorder    *recorder.Recorder // records every checked request when set
	Metrics     *metrics.Collector // serves MetricsPath when set
	MetricsPath string             // defaults to /metrics
	Logger      *slog.Logger
}

// Server is the ratekit HTTP server. It answers admission checks with one
// limiter per key.
type Server struct {
	opts       Options
	logger     *slog.Logger
	httpServer *http.Server
	mux        *http.ServeMux
}

// CheckResponse is the JSON body of an admission check.
type CheckResponse struct {
	Key       string    `json:"key"`
	Allowed   bool      `json:"allowed"`
	Units     uint64    `json:"units"`
	Algorithm string    `json:"algorithm,omitempty"`
	Time      time.Time `json:"time"`
}

// New creates a server listening on addr.
func New(addr string, opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           logRequests(s.mux, s.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/check", s.handleCheck)
	s.mux.HandleFunc("GET /api/check/{key...}", s.handleCheckKey)
	if s.opts.Metrics != nil {
		s.mux.Handle("GET "+s.opts.MetricsPath, s.opts.Metrics.Handler())
	}
	if s.opts.Hub != nil {
		s.mux.HandleFunc("GET /ws", s.opts.Hub.HandleWebSocket)
	}
}

// Handler returns the server's root handler, including request logging.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service":   "ratekit",
		"status":    "running",
		"algorithm": string(s.opts.Algorithm),
		"time":      s.opts.Clock.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCheck uses the client address as the key.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.check(w, r, clientIP(r))
}

// handleCheckKey serves /api/check/{key}.
func (s *Server) handleCheckKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	s.check(w, r, key)
}

func (s *Server) check(w http.ResponseWriter, r *http.Request, key string) {
	n, err := parseUnits(r.URL.Query().Get("n"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lim, err := s.opts.Store.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrClosed) {
			s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		s.logger.Error("resolving limiter", "key", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	allowed, err := limiter.AllowN(lim, n)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s admits one unit per request", s.opts.Algorithm))
		return
	}

	now := s.opts.Clock.Now()
	s.publish(r, key, n, allowed, now)

	status := http.StatusOK
	if !allowed {
		status = http.StatusTooManyRequests
	}
	s.writeJSON(w, status, CheckResponse{
		Key:       key,
		Allowed:   allowed,
		Units:     n,
		Algorithm: string(s.opts.Algorithm),
		Time:      now,
	})
}

// publish records the request and broadcasts the decision.
func (s *Server) publish(r *http.Request, key string, n uint64, allowed bool, now time.Time) {
	if s.opts.Recorder == nil && s.opts.Hub == nil {
		return
	}

	rec := recorder.NewRecord(now, key, r.Method+" "+r.URL.Path)
	rec.Units = n
	if ua := r.UserAgent(); ua != "" {
		rec.Metadata = map[string]string{"user_agent": ua}
	}

	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.Record(rec); err != nil {
			s.logger.Warn("recording request", "key", key, "error", err)
		}
	}
	if s.opts.Hub != nil {
		s.opts.Hub.Broadcast(&recorder.DecisionEvent{
			Record:    rec,
			Algorithm: string(s.opts.Algorithm),
			Allowed:   allowed,
			Time:      now,
		})
	}
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info("ratekit server listening", "addr", ln.Addr().String(), "algorithm", s.opts.Algorithm)
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, waits for in-flight ones, then closes
// websocket clients and the limiter store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.opts.Hub != nil {
		s.opts.Hub.Close()
	}
	return errors.Join(err, s.opts.Store.Close())
}

func parseUnits(raw string) (uint64, error) {
	if raw == "" {
		return 1, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("n must be a non-negative integer, got %q", raw)
	}
	return n, nil
}

// clientIP returns the first X-Forwarded-For hop, or the remote host.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response failed", "status", status, "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
