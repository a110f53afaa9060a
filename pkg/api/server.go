package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Custodia-Systems/timevault/pkg/archive"
	"github.com/Custodia-Systems/timevault/pkg/auth"
	"github.com/Custodia-Systems/timevault/pkg/directory"
	"github.com/Custodia-Systems/timevault/pkg/observability"
	"github.com/Custodia-Systems/timevault/pkg/ratelimit"
	"github.com/Custodia-Systems/timevault/pkg/scheduler"
	"github.com/Custodia-Systems/timevault/pkg/store"
)

// Server fronts the timelock directory over HTTP. Every mutating route
// resolves the caller from the authenticated principal and an instance
// from the `instance` query parameter (or the configured default), then
// delegates to the core; the core's error taxonomy maps to problem
// responses in WriteDomainError.
type Server struct {
	dir       *directory.Directory
	journals  *store.JournalStore
	blobs     archive.Store
	obs       *observability.Provider
	logger    *slog.Logger
	version   string
	defaultID string
}

// NewServer creates a server over the given directory.
func NewServer(dir *directory.Directory) *Server {
	return &Server{
		dir:     dir,
		logger:  slog.Default(),
		version: "dev",
	}
}

// WithJournalStore attaches the durable journal store. Readiness then
// includes a database ping, and journal reads can fall back to it.
func (s *Server) WithJournalStore(js *store.JournalStore) *Server {
	s.journals = js
	return s
}

// WithArchive attaches the export blob store.
func (s *Server) WithArchive(blobs archive.Store) *Server {
	s.blobs = blobs
	return s
}

// WithObservability attaches the telemetry provider. Core operations are
// then traced and counted, and queue mutations move the depth gauge.
func (s *Server) WithObservability(p *observability.Provider) *Server {
	s.obs = p
	return s
}

// WithLogger overrides the default logger.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	s.logger = logger
	return s
}

// WithVersion sets the version string reported by /version.
func (s *Server) WithVersion(v string) *Server {
	s.version = v
	return s
}

// WithDefaultInstance sets the instance addressed when a request carries
// no `instance` query parameter.
func (s *Server) WithDefaultInstance(id string) *Server {
	s.defaultID = id
	return s
}

// Routes builds the route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/readiness", s.handleReadiness)
	mux.HandleFunc("/version", s.handleVersion)

	mux.HandleFunc("/v1/instances", s.handleInstancesRouter)
	mux.HandleFunc("/v1/instances/", s.handleInstancesRouter)

	mux.HandleFunc("/v1/deposits", s.handleDepositsRouter)
	mux.HandleFunc("/v1/deposits/", s.handleDepositsRouter)

	mux.HandleFunc("/v1/queue", s.handleQueue)
	mux.HandleFunc("/v1/queued", s.handleQueuedRouter)
	mux.HandleFunc("/v1/queued/", s.handleQueuedRouter)
	mux.HandleFunc("/v1/execute", s.handleExecute)
	mux.HandleFunc("/v1/cancel", s.handleCancel)
	mux.HandleFunc("/v1/claim", s.handleClaim)
	mux.HandleFunc("/v1/route", s.handleRoute)

	mux.HandleFunc("/v1/journal", s.handleJournal)
	mux.HandleFunc("/v1/journal/verify", s.handleJournalVerify)
	mux.HandleFunc("/v1/export", s.handleExport)

	return mux
}

// Chain holds the middleware stack configuration. Nil members disable
// the corresponding layer; the JWT validator is always installed and a
// nil validator fails closed.
type Chain struct {
	Validator   *auth.JWTValidator
	PerIP       *GlobalRateLimiter
	Idempotency IdempotencyStorer
	ActorLimits ratelimit.Store
	ActorPolicy ratelimit.Policy
	CORSOrigins []string
}

// Handler assembles the middleware chain around the routes. Outermost
// first: request id, CORS, per-IP limit, JWT auth, per-actor limit,
// idempotency replay.
func (s *Server) Handler(c Chain) http.Handler {
	var h http.Handler = s.Routes()

	if c.Idempotency != nil {
		h = IdempotencyMiddleware(c.Idempotency)(h)
	}
	if c.ActorLimits != nil {
		h = auth.RateLimitMiddleware(c.ActorLimits, c.ActorPolicy)(h)
	}
	h = auth.NewMiddleware(c.Validator)(h)
	if c.PerIP != nil {
		h = c.PerIP.Middleware(h)
	}
	h = auth.CORSMiddleware(c.CORSOrigins)(h)
	h = auth.RequestIDMiddleware(h)

	return h
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// pathSuffix returns the path segment(s) after prefix, with surrounding
// slashes trimmed. Empty when the path is exactly the prefix.
func pathSuffix(path, prefix string) string {
	trimmed := strings.TrimPrefix(path, prefix)
	return strings.Trim(trimmed, "/")
}

// track starts an instrumented span for a core operation. Without a
// provider it degrades to a no-op finish func.
func (s *Server) track(ctx context.Context, op, instanceID string) (context.Context, func(error)) {
	if s.obs == nil {
		return ctx, func(error) {}
	}
	attrs := []attribute.KeyValue{observability.AttrOperation.String(op)}
	if instanceID != "" {
		attrs = append(attrs, observability.AttrInstanceID.String(instanceID))
	}
	return s.obs.TrackOperation(ctx, "vault."+op, attrs...)
}

// queueDelta moves the queue depth gauge.
func (s *Server) queueDelta(ctx context.Context, delta int64) {
	if s.obs != nil {
		s.obs.RecordQueueDepth(ctx, delta)
	}
}

// instance resolves the addressed timelock, writing the error response
// on failure.
func (s *Server) instance(w http.ResponseWriter, r *http.Request) (*scheduler.Timelock, bool) {
	id := r.URL.Query().Get("instance")
	if id == "" {
		id = s.defaultID
	}
	if id == "" {
		WriteBadRequest(w, "Missing instance: pass ?instance=<id> or configure a default")
		return nil, false
	}
	tl, err := s.dir.Get(id)
	if err != nil {
		WriteDomainError(w, err)
		return nil, false
	}
	return tl, true
}
