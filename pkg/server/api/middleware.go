package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/macwilam/netwatch/pkg/errkind"
	"github.com/macwilam/netwatch/pkg/wire"
)

// statusRecorder captures the status code a handler wrote, so the logging
// middleware can report it after the handler has already returned.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// tagRequest assigns every inbound request a correlation id, echoed back in
// the X-Request-ID response header and stashed in the context so handler
// logging can tie a failure report back to a specific request, then logs
// the completed request's outcome.
func (s *Server) tagRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(withRequestID(r.Context(), id)))

		s.logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// writeErr renders err as the JSON error envelope the handler tests expect,
// using errkind to pick the status code.
func writeErr(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errkind.StatusFor(err))
	_, _ = w.Write([]byte(`{"error":"` + err.Error() + `"}`))
}

// requireAPIKey rejects requests whose X-API-Key header doesn't match the
// configured key, using a constant-time comparison per spec.md §4.4. This
// is the stdlib crypto/subtle primitive the whole ecosystem reaches for
// here; no third-party package does a timing-safe compare any better.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIKey)) != 1 {
			writeErr(w, errkind.New(errkind.Auth, "invalid or missing api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireValidAgentID extracts X-Agent-ID, validates its shape, and stashes
// it in the request context for downstream handlers and middleware.
func (s *Server) requireValidAgentID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := r.Header.Get("X-Agent-ID")
		if !wire.ValidAgentID(agentID) {
			writeErr(w, errkind.New(errkind.Validation, "missing or malformed X-Agent-ID header"))
			return
		}
		next.ServeHTTP(w, r.WithContext(withAgentID(r.Context(), agentID)))
	})
}

// requireWhitelisted enforces the server's agent_id_whitelist.
func (s *Server) requireWhitelisted(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := agentIDFromContext(r.Context())
		if !s.cfg.WhitelistAllows(agentID) {
			writeErr(w, errkind.New(errkind.Forbidden, "agent is not on the whitelist"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimited enforces the per-agent sliding window.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := agentIDFromContext(r.Context())
		if !s.limiter.Allow(agentID, time.Now()) {
			writeErr(w, errkind.New(errkind.RateLimited, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody caps the request body at the configured max, per spec.md §4.4's
// 10 MiB limit.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

const maxBodyBytes = 10 * 1024 * 1024
