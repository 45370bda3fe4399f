// Package api exposes the station over HTTP for the operator dashboard.
//
// Routes are registered on a net/http ServeMux and wrapped with
// gorilla/handlers for panic recovery, gzip and access logging. The
// Prometheus registry of the engine is served at /metrics and, when the
// engine has a stream broker, lifecycle events at /v1/stream as
// server-sent events.
package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/kegsync/engine"
)

// API wires the HTTP handlers of the station together.
type API struct {
	eng       *engine.Engine
	logger    *slog.Logger
	accessLog io.Writer
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for handler errors and recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithAccessLog writes Apache combined-format access lines to w.
func WithAccessLog(w io.Writer) Option {
	return func(a *API) { a.accessLog = w }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: eng.Station().Logger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)

	// Streaming and metrics bypass gzip; promhttp negotiates its own.
	root := http.NewServeMux()
	root.Handle("GET /metrics", promhttp.HandlerFor(a.eng.Metrics(), promhttp.HandlerOpts{}))
	root.HandleFunc("GET /v1/stream", a.streamEvents)
	root.Handle("/", handlers.CompressHandler(mux))

	var h http.Handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{a.logger}),
		handlers.PrintRecoveryStack(false),
	)(root)
	if a.accessLog != nil {
		h = handlers.CombinedLoggingHandler(a.accessLog, h)
	}
	return h
}

// RegisterRoutes registers the /v1 request-response routes into mux. The
// metrics and stream endpoints are only mounted by Handler.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	a.registerBatchRoutes(mux)
	a.registerRetryRoutes(mux)
	a.registerAlertRoutes(mux)
	a.registerPalletRoutes(mux)
	a.registerSystemRoutes(mux)
}

func (a *API) registerBatchRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/captures", a.submitCapture)
	mux.HandleFunc("GET /v1/batches", a.listBatches)
	mux.HandleFunc("GET /v1/batches/attention", a.listAttention)
	mux.HandleFunc("GET /v1/batches/{sessionId}", a.getBatch)
	mux.HandleFunc("POST /v1/batches/{sessionId}/resolve", a.resolveBatch)
	mux.HandleFunc("POST /v1/batches/{sessionId}/retry", a.retryBatch)
}

func (a *API) registerRetryRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/retries", a.listRetries)
}

func (a *API) registerAlertRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/alerts", a.listAlerts)
	mux.HandleFunc("POST /v1/alerts/{alertId}/resolve", a.resolveAlert)
}

func (a *API) registerPalletRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/pallets", a.listPallets)
	mux.HandleFunc("POST /v1/pallets/{palletId}/status", a.advancePallet)
}

func (a *API) registerSystemRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/events", a.listEvents)
	mux.HandleFunc("GET /v1/stats", a.stats)
	mux.HandleFunc("GET /v1/beer-types", a.beerTypes)
	mux.HandleFunc("GET /v1/network", a.network)
}

type recoveryLogger struct{ logger *slog.Logger }

func (r recoveryLogger) Println(v ...any) {
	for _, x := range v {
		if err, ok := x.(error); ok {
			r.logger.Error("http handler panic", slog.String("error", err.Error()))
			return
		}
	}
	r.logger.Error("http handler panic", slog.Any("value", v))
}
