package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/fetch"
	"github.com/JakeFAU/unfurl/internal/metrics"
	"github.com/JakeFAU/unfurl/internal/service"
)

// MaxRequestBytes caps the document accepted by POST /v1/unfurl.
const MaxRequestBytes = 1 << 20

// Unfurler rewrites a document.
type Unfurler interface {
	Unfurl(ctx context.Context, text string) (string, error)
}

// DomainLister exposes the routing table for introspection.
type DomainLister interface {
	Domains() []*service.Domain
}

// Server wires HTTP handlers to the unfurl pipeline.
type Server struct {
	router   chi.Router
	unfurler Unfurler
	domains  DomainLister
	logger   *zap.Logger
}

type unfurlRequest struct {
	Text string `json:"text"`
}

type unfurlResponse struct {
	Text string `json:"text"`
}

type endpointView struct {
	Name  string `json:"name"`
	Route string `json:"route"`
	URL   string `json:"url"`
}

type domainView struct {
	Domain        string         `json:"domain"`
	Authenticated bool           `json:"authenticated"`
	Endpoints     []endpointView `json:"endpoints"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(unfurler Unfurler, domains DomainLister, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		unfurler: unfurler,
		domains:  domains,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/unfurl", s.unfurl)
		r.Get("/routes", s.routes)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) unfurl(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "read body failed")
		return
	}

	asJSON := isJSON(r.Header.Get("Content-Type"))
	text := string(body)
	if asJSON {
		var req unfurlRequest
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		text = req.Text
	}

	out, err := s.unfurler.Unfurl(r.Context(), text)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, fetch.ErrDispatcherClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		s.logger.Error("unfurl failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		s.writeError(w, status, err.Error())
		return
	}

	if asJSON {
		s.writeJSON(w, http.StatusOK, unfurlResponse{Text: out})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, out); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}

func (s *Server) routes(w http.ResponseWriter, _ *http.Request) {
	domains := s.domains.Domains()
	views := make([]domainView, 0, len(domains))
	for _, d := range domains {
		v := domainView{Domain: d.Name, Authenticated: d.AuthValue != ""}
		for _, ep := range d.Endpoints {
			v.Endpoints = append(v.Endpoints, endpointView{Name: ep.Name, Route: ep.Route.String(), URL: ep.URL})
		}
		views = append(views, v)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domains": views})
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

type requestIDKey struct{}

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

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("error", rec),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
