package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"revdash/internal/core"
	"revdash/internal/log"
	"revdash/internal/services"
)

// Dashboard is the service the handlers drive.
type Dashboard interface {
	Load(ctx context.Context) (services.View, error)
	Refresh(ctx context.Context) (services.View, error)
	View() services.View
	ChangeGranularity(ctx context.Context, g core.Granularity) (services.View, error)
	Select(ctx context.Context, key time.Time) (services.View, error)
	Back(ctx context.Context) (services.View, error)
	Detail(ctx context.Context) (services.DetailView, error)
	ResolveLines(ctx context.Context, drafts []services.LineDraft) ([]core.LineItem, error)
	CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, string, error)
	ListInvoices(ctx context.Context, page, perPage int) ([]core.Invoice, int, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]core.Product, error)
	CanWrite() bool
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures optional server behaviour.
type Options struct {
	Logger *log.Logger
	// Pinger backs /readyz; nil means always ready.
	Pinger Pinger
	// RateLimit caps POST requests per client and minute; zero means 60.
	RateLimit int
	Headers   *HeadersConfig
	// Now is used for invoices created without a timestamp.
	Now func() time.Time
}

type Server struct {
	http.Server
	dash    Dashboard
	pinger  Pinger
	logger  *log.Logger
	events  *log.StructuredLogger
	headers HeadersConfig
	now     func() time.Time

	rateLimiter *rateLimiter
	metrics     securityMetrics
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, dash Dashboard, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	limit := opts.RateLimit
	if limit <= 0 {
		limit = 60
	}
	headers := DefaultHeadersConfig()
	if opts.Headers != nil {
		headers = *opts.Headers
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		dash:        dash,
		pinger:      opts.Pinger,
		logger:      logger,
		events:      log.NewStructuredLogger(logger),
		headers:     headers,
		now:         now,
		rateLimiter: newRateLimiter(limit, 5*time.Minute),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/series", s.handleSeries)
	mux.HandleFunc("POST /api/granularity", s.handleGranularity)
	mux.HandleFunc("POST /api/select", s.handleSelect)
	mux.HandleFunc("POST /api/back", s.handleBack)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/detail", s.handleDetail)
	mux.HandleFunc("GET /api/invoices", s.handleListInvoices)
	mux.HandleFunc("POST /api/invoices", s.handleCreateInvoice)
	mux.HandleFunc("GET /api/products", s.handleProducts)

	var handler http.Handler = s.withSecurity(mux)
	handler = log.RequestIDMiddleware(requestIDFromRequest)(handler)
	handler = log.Middleware(logger)(handler)
	handler = withRequestID(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops background work and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.stop()
	return s.Server.Shutdown(ctx)
}

// SecurityStats returns counters for rate-limited and suspicious requests.
func (s *Server) SecurityStats() SecurityStats {
	return s.metrics.snapshot()
}

// withSecurity adds security headers, rate limiting of writes and request
// completion logging.
func (s *Server) withSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		clientIP := extractClientIP(r)

		s.headers.apply(w, r)

		if detectSuspiciousRequest(r, &s.metrics) {
			log.FromContext(ctx).WarnContext(ctx, "Suspicious request",
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP, &s.metrics) {
			ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").
				Header("Retry-After", "60").
				Write(rw)
		} else {
			next.ServeHTTP(rw, r)
		}

		s.events.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

// withRequestID assigns the request id, reusing a well-formed
// X-Request-ID from the caller, and echoes it in the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = generateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFromRequest(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
