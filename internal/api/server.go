package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/metrics"
	"github.com/TomaszPielecki/Snaply/internal/registry"
)

// JobService submits and tracks capture jobs.
type JobService interface {
	Submit(ctx context.Context, rawURL, device string, budget int) (string, error)
	Cancel(ctx context.Context, id string) bool
	Status(ctx context.Context, id string) capture.JobRecord
	List(ctx context.Context) ([]capture.JobRecord, error)
}

// DomainService manages the tracked domain list.
type DomainService interface {
	Add(ctx context.Context, raw string) (registry.Domain, error)
	Get(ctx context.Context, name string) (registry.Domain, error)
	Remove(ctx context.Context, name string) error
	Rename(ctx context.Context, oldName, raw string) (registry.Domain, error)
	List(ctx context.Context) ([]registry.Domain, error)
}

// Subscriber delivers live job records; the channel closes after a terminal
// record.
type Subscriber interface {
	Subscribe(jobID string) (<-chan capture.JobRecord, func())
}

// Options configures the server.
type Options struct {
	// ScreenshotDir is the gallery root.
	ScreenshotDir string
	// LinkBudget applies when a submission omits linkBudget.
	LinkBudget int
	// APIKey, when non-empty, is required in X-API-Key or ?api_key=.
	APIKey string
	// RequestTimeout bounds non-streaming requests.
	RequestTimeout time.Duration
	// StreamPoll is how often a stream re-reads the store.
	StreamPoll time.Duration
	// Ready reports dependency health for /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the job runner, registry and gallery.
type Server struct {
	router   chi.Router
	jobs     JobService
	domains  DomainService
	subs     Subscriber
	opts     Options
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. domains and subs
// may be nil; the matching routes then answer 503 or fall back to polling.
func NewServer(jobs JobService, domains DomainService, subs Subscriber, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.StreamPoll <= 0 {
		opts.StreamPoll = 2 * time.Second
	}
	s := &Server{
		jobs:     jobs,
		domains:  domains,
		subs:     subs,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			// Websocket upgrades need the raw connection, so the stream
			// skips the timeout handler.
			r.Get("/{job_id}/stream", s.streamJob)
			r.Group(func(r chi.Router) {
				r.Use(timeoutMiddleware(opts.RequestTimeout))
				r.Post("/", s.submitJob)
				r.Get("/", s.listJobs)
				r.Get("/{job_id}", s.getJob)
				r.Post("/{job_id}/cancel", s.cancelJob)
			})
		})
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Route("/screenshots", func(r chi.Router) {
				r.Get("/", s.searchScreenshots)
				r.Get("/index", s.screenshotIndex)
				r.Delete("/*", s.deleteScreenshot)
			})
			r.Route("/domains", func(r chi.Router) {
				r.Get("/", s.listDomains)
				r.Post("/", s.addDomain)
				r.Get("/{name}", s.getDomain)
				r.Put("/{name}", s.renameDomain)
				r.Delete("/{name}", s.removeDomain)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decodeJSON reads a JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

// RequestID returns the id assigned by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
					zap.Stack("stack"),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		rw.status = http.StatusSwitchingProtocols
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
