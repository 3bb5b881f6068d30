package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eppraise/eppraise/internal/telemetry"
)

// Handler is implemented by every route group mounted on the router.
type Handler interface {
	RegisterRoutes(router *mux.Router, logger *zap.Logger)
}

// Router is the HTTP entry point of the read-only API.
type Router struct {
	mux      *mux.Router
	limiter  *rate.Limiter
	logger   *zap.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewRouter mounts handlers behind rate limiting, request metrics and
// cache headers. tel may be nil, in which case /metrics is not served.
func NewRouter(limiter *rate.Limiter, tel *telemetry.Telemetry, logger *zap.Logger, handlers []Handler) *Router {
	meter := telemetry.MeterOf(tel)
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("router")
	}
	requests, err := meter.Int64Counter("http_requests_total",
		metric.WithDescription("HTTP requests served, by route and status"))
	if err != nil {
		logger.Warn("failed to create request counter", zap.Error(err))
	}
	latency, err := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("failed to create latency histogram", zap.Error(err))
	}

	r := &Router{
		mux:      mux.NewRouter(),
		limiter:  limiter,
		logger:   logger.Named("router"),
		requests: requests,
		latency:  latency,
	}

	r.mux.HandleFunc("/health", handleHealth).Methods("GET")
	if tel != nil {
		r.mux.Handle("/metrics", promhttp.HandlerFor(tel.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	for _, h := range handlers {
		h.RegisterRoutes(r.mux, logger)
	}
	r.mux.Use(r.instrument, r.rateLimit)
	return r
}

// CreateServer wraps the router in an http.Server listening on addr.
func (r *Router) CreateServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ServeHTTP implements the http.Handler interface. Every response, including
// rate-limited and unmatched requests, is marked uncacheable.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	r.mux.ServeHTTP(w, req)
}

func (r *Router) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.limiter != nil && !r.limiter.Allow() {
			r.logger.Debug("rate limit exceeded", zap.String("path", req.URL.Path))
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		route := req.URL.Path
		if cur := mux.CurrentRoute(req); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		attrs := metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("route", route),
			attribute.String("status", strconv.Itoa(rec.status)),
		)
		if r.requests != nil {
			r.requests.Add(req.Context(), 1, attrs)
		}
		if r.latency != nil {
			r.latency.Record(req.Context(), time.Since(start).Seconds(), attrs)
		}
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
