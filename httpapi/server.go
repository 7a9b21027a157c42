// Package httpapi exposes the signing workflow over HTTP.
//
// Owner routes live under /documents and identify the caller through the
// X-Actor-ID and X-Tenant-ID headers set by the authenticating proxy in
// front of the service. Signer routes live under /links/{token}; the share
// link token is the signer's credential.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/digitorus/signflow"
	"github.com/digitorus/signflow/pages"
)

const (
	HeaderActor  = "X-Actor-ID"
	HeaderTenant = "X-Tenant-ID"
)

// Server serves the HTTP API of one Workflow.
type Server struct {
	wf        *signflow.Workflow
	log       zerolog.Logger
	linkBase  string
	maxUpload int64
	limiter   *linkLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithLinkBase sets the prefix that turns a share link token into a URL.
func WithLinkBase(base string) Option {
	return func(s *Server) { s.linkBase = base }
}

// WithMaxUploadBytes sets the upload ceiling. It must match the workflow's.
// Zero keeps the default.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithLinkRateLimit limits requests to the share link routes to rps per
// client address, with bursts of up to burst. A zero rps disables the limit.
func WithLinkRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newLinkLimiter(rps, burst)
		}
	}
}

// New returns a Server for wf.
func New(wf *signflow.Workflow, opts ...Option) *Server {
	s := &Server{
		wf:        wf,
		log:       zerolog.Nop(),
		maxUpload: pages.DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	docs := router.PathPrefix("/documents").Subrouter()
	docs.Use(actorFromHeaders)
	docs.HandleFunc("", s.handleCreate).Methods("POST")
	docs.HandleFunc("/{id}", s.handleGet).Methods("GET")
	docs.HandleFunc("/{id}/send", s.handleSend).Methods("POST")
	docs.HandleFunc("/{id}/signers/{signer}/placeholders", s.handleGetPlaceholders).Methods("GET")
	docs.HandleFunc("/{id}/signers/{signer}/placeholders", s.handleSetPlaceholders).Methods("PUT")
	docs.HandleFunc("/{id}/signers/{signer}", s.handleRemoveSigner).Methods("DELETE")
	docs.HandleFunc("/{id}/signers/{signer}/link", s.handleLink).Methods("GET")
	docs.HandleFunc("/{id}/expiry", s.handleExpiry).Methods("POST")
	docs.HandleFunc("/{id}/pages", s.handleMerge).Methods("POST")
	docs.HandleFunc("/{id}/pages/{page:[0-9]+}", s.handleDeletePage).Methods("DELETE")
	docs.HandleFunc("/{id}/pages/{page:[0-9]+}/rotate", s.handleRotate).Methods("POST")
	docs.HandleFunc("/{id}/audit", s.handleAudit).Methods("GET")
	docs.HandleFunc("/{id}/file", s.handleFile).Methods("GET")
	docs.HandleFunc("/{id}/seal", s.handleSeal).Methods("GET")

	links := router.PathPrefix("/links/{token}").Subrouter()
	if s.limiter != nil {
		links.Use(s.limiter.middleware)
	}
	links.HandleFunc("", s.handleResolve).Methods("GET")
	links.HandleFunc("/placeholders", s.handleSignerPlaceholders).Methods("GET")
	links.HandleFunc("/placeholders", s.handleSignerSetPlaceholders).Methods("PUT")
	links.HandleFunc("/view", s.handleView).Methods("POST")
	links.HandleFunc("/sign", s.handleSign).Methods("POST")
	links.HandleFunc("/decline", s.handleDecline).Methods("POST")

	return router
}

// Run serves the API on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	s.log.Info().Str("addr", addr).Msg("serving")

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// actorFromHeaders attaches the authenticated owner to the request context.
func actorFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(HeaderActor)); id != "" {
			ctx := signflow.WithActor(r.Context(), signflow.Actor{
				ID:       id,
				TenantID: strings.TrimSpace(r.Header.Get(HeaderTenant)),
			})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		ev := s.log.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("method", r.Method).
			Str("path", redactToken(r.URL.Path)).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// redactToken hides share link tokens, which are bearer credentials.
func redactToken(path string) string {
	rest, ok := strings.CutPrefix(path, "/links/")
	if !ok {
		return path
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return "/links/{token}" + rest[i:]
	}
	return "/links/{token}"
}

// clientIP returns the first address of X-Forwarded-For, or the remote
// address of the connection.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
