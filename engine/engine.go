package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/backoff"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/delivery"
	"github.com/xraph/kegsync/detect"
	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/ext"
	"github.com/xraph/kegsync/id"
	"github.com/xraph/kegsync/lifecycle"
	mw "github.com/xraph/kegsync/middleware"
	"github.com/xraph/kegsync/observability"
	"github.com/xraph/kegsync/pallet"
	"github.com/xraph/kegsync/recovery"
	"github.com/xraph/kegsync/retryq"
	"github.com/xraph/kegsync/scheduler"
	"github.com/xraph/kegsync/store"
	"github.com/xraph/kegsync/stream"
	"github.com/xraph/kegsync/worker"
)

// Capture is the input that opens a batch.
type Capture = lifecycle.Capture

// Client is the delivery surface the engine depends on. *delivery.Client
// implements it.
type Client interface {
	Submit(ctx context.Context, payload json.RawMessage) delivery.Result
	Probe(ctx context.Context) bool
	BeerTypes(ctx context.Context) ([]delivery.BeerType, error)
}

// Engine wires the station subsystems together.
// Use Build() to create one from a Station.
type Engine struct {
	st     *kegsync.Station
	store  store.Store
	logger *slog.Logger

	extensions *ext.Registry
	alerts     *alert.Service
	events     *event.Log
	lifecycle  *lifecycle.Service
	pallets    *pallet.Registry
	retries    *retryq.Service
	client     Client
	detector   detect.Detector
	pool       *worker.Pool
	scheduler  *scheduler.Scheduler
	recovery   *recovery.Manager
	metrics    *observability.MetricsExtension
	broker     *stream.Broker

	mws          []mw.Middleware
	withBroker   bool
	brokerOpts   []stream.BrokerOption
	deliveryCfg  *delivery.Config
	deliveryOpts []delivery.Option
	registry     *prometheus.Registry

	// ready is set once recovery has completed and workers run.
	ready atomic.Bool

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithStreamBroker registers a stream.Broker that publishes lifecycle
// events to live subscribers.
func WithStreamBroker(opts ...stream.BrokerOption) Option {
	return func(eng *Engine) {
		eng.withBroker = true
		eng.brokerOpts = opts
	}
}

// WithMiddleware adds middleware to the processing chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithDetector sets the QR detector. Required.
func WithDetector(d detect.Detector) Option {
	return func(eng *Engine) {
		eng.detector = d
	}
}

// WithDelivery builds a delivery.Client from cfg.
func WithDelivery(cfg delivery.Config, opts ...delivery.Option) Option {
	return func(eng *Engine) {
		eng.deliveryCfg = &cfg
		eng.deliveryOpts = opts
	}
}

// WithClient sets a ready delivery client, replacing WithDelivery.
func WithClient(c Client) Option {
	return func(eng *Engine) {
		eng.client = c
	}
}

// WithPrometheus registers the station metrics on reg instead of a
// private registry.
func WithPrometheus(reg *prometheus.Registry) Option {
	return func(eng *Engine) {
		eng.registry = reg
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the processing
// span middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the processing
// metrics middleware. If not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Station. The Station's store must
// implement store.Store.
func Build(st *kegsync.Station, opts ...Option) (*Engine, error) {
	logger := st.Logger()
	if st.Store() == nil {
		return nil, kegsync.ErrNoStore
	}
	s, ok := st.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("kegsync: store does not implement store.Store")
	}

	eng := &Engine{
		st:         st,
		store:      s,
		logger:     logger,
		extensions: ext.NewRegistry(logger),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.detector == nil {
		return nil, kegsync.ErrNoDetector
	}
	if eng.client == nil {
		if eng.deliveryCfg == nil || eng.deliveryCfg.Endpoint == "" {
			return nil, fmt.Errorf("kegsync: delivery endpoint is required")
		}
		dopts := append([]delivery.Option{delivery.WithLogger(logger)}, eng.deliveryOpts...)
		eng.client = delivery.New(*eng.deliveryCfg, dopts...)
	}
	if eng.registry == nil {
		eng.registry = prometheus.NewRegistry()
	}

	eng.metrics = observability.NewMetricsExtension(eng.registry)
	eng.extensions.Register(eng.metrics)
	if eng.withBroker {
		eng.broker = stream.NewBroker(logger, eng.brokerOpts...)
		eng.extensions.Register(eng.broker)
	}

	config := st.Config()
	guard := st.Guard()

	eng.alerts = alert.NewService(s)
	eng.events = event.NewLog(s, logger)
	eng.lifecycle = lifecycle.NewService(s, guard, eng.alerts, eng.events,
		lifecycle.WithExtensions(eng.extensions),
		lifecycle.WithLogger(logger),
	)
	eng.pallets = pallet.NewRegistry(s, guard)
	eng.retries = retryq.NewService(s, guard,
		retryq.WithMaxAttempts(config.RetryMaxAttempts),
		retryq.WithDrainBackoff(backoff.Queued(config.RetryBaseDelay, config.RetryMaxDelay)),
	)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/kegsync"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/kegsync"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(config.ProcessTimeout, logger),
	}
	allMws = append(allMws, eng.mws...)

	processor := worker.NewProcessor(eng.lifecycle, eng.pallets, eng.retries, eng.detector, eng.client,
		worker.ProcessorConfig{
			MacID:           macID(eng.client),
			DuplicatePolicy: config.DuplicatePolicy,
			PurgeImages:     config.PurgeImages,
		},
		logger,
	)
	executor := worker.NewExecutor(processor, eng.lifecycle, eng.retries, logger, allMws...)
	eng.pool = worker.NewPool(eng.lifecycle, executor, logger,
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
	)

	eng.scheduler = scheduler.New(eng.lifecycle, eng.retries, eng.alerts, eng.events, eng.client,
		scheduler.WithInterval(config.RetryInterval),
		scheduler.WithBatchSize(config.RetryBatchSize),
		scheduler.WithRate(config.RetryRate),
		scheduler.WithNetworkCheck(config.NetworkCheckInterval),
		scheduler.WithRetention(config.RetryRetention),
		scheduler.WithNetworkAlertTTL(config.NetworkAlertTTL),
		scheduler.WithExtensions(eng.extensions),
		scheduler.WithLogger(logger),
	)

	eng.recovery = recovery.NewManager(eng.lifecycle, s, eng.retries, eng.alerts, eng.events,
		recovery.WithStaleAfter(config.StaleAfter),
		recovery.WithRequeueWindow(config.RequeueWindow),
		recovery.WithRetention(config.RetryRetention),
		recovery.WithNetworkAlertTTL(config.NetworkAlertTTL),
		recovery.WithLogger(logger),
	)

	// Runners start in order and stop in reverse: the scheduler stops
	// before the pool.
	st.AddRunner(eng.pool)
	st.AddRunner(eng.scheduler)
	st.SetExtensions(eng.extensions)

	return eng, nil
}

// Start runs crash recovery, then starts the worker pool and the retry
// scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	report, err := eng.recovery.Run(ctx)
	if err != nil {
		return fmt.Errorf("kegsync: recovery: %w", err)
	}
	eng.logger.Info("recovery complete",
		slog.Int("stuck", report.Stuck),
		slog.Int("interrupted", report.Interrupted),
		slog.Int("requeued", report.Requeued),
		slog.Int("incomplete", report.Incomplete),
	)

	if err := eng.st.Start(ctx); err != nil {
		return err
	}
	eng.ready.Store(true)
	eng.events.Record(ctx, event.TypeStartup, "station started", map[string]int{
		"concurrency": eng.st.Config().Concurrency,
	})
	return nil
}

// Stop stops the scheduler, then the pool (bounded by ShutdownTimeout),
// emits the shutdown hook and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	if timeout := eng.st.Config().ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	eng.ready.Store(false)
	eng.events.Record(context.WithoutCancel(ctx), event.TypeShutdown, "station stopping", nil)
	return eng.st.Stop(ctx)
}

// Submit opens a CAPTURED batch and wakes the worker pool. It returns as
// soon as the batch is durable. Captures are refused with
// kegsync.ErrNotStarted until Start has finished recovery.
func (eng *Engine) Submit(ctx context.Context, c Capture) (string, error) {
	if !eng.ready.Load() {
		return "", kegsync.ErrNotStarted
	}
	if eng.st.Config().RejectSentLabels && c.Label != "" {
		sent, err := eng.store.FindSentByLabel(ctx, c.Label)
		switch {
		case err == nil:
			return "", fmt.Errorf("%w: %q (%s)", kegsync.ErrLabelAlreadySent, c.Label, sent.SessionID)
		case !errors.Is(err, kegsync.ErrBatchNotFound):
			return "", err
		}
	}

	b, err := eng.lifecycle.Open(ctx, c)
	if err != nil {
		return "", err
	}
	eng.pool.Notify()
	return b.SessionID, nil
}

// Status returns the full record of a batch.
func (eng *Engine) Status(ctx context.Context, sessionID string) (*batch.Batch, error) {
	return eng.lifecycle.Get(ctx, sessionID)
}

// ListAttention returns the batches awaiting operator review, newest first.
func (eng *Engine) ListAttention(ctx context.Context) ([]*batch.Batch, error) {
	return eng.store.ListBatches(ctx, batch.ListOpts{Attention: true, Newest: true})
}

// ListBatches returns batches matching opts.
func (eng *Engine) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	return eng.store.ListBatches(ctx, opts)
}

// Resolve closes a batch by operator decision and drops its retry entry.
func (eng *Engine) Resolve(ctx context.Context, sessionID, note string) (*batch.Batch, error) {
	b, err := eng.lifecycle.Resolve(ctx, sessionID, note)
	if err != nil {
		return nil, err
	}
	if err := eng.retries.Remove(ctx, sessionID); err != nil && !errors.Is(err, kegsync.ErrRetryNotFound) {
		eng.logger.Warn("failed to drop retry entry of resolved batch",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	return b, nil
}

// Retry delivers a batch's stored payload immediately. It reports whether
// the endpoint accepted it.
func (eng *Engine) Retry(ctx context.Context, sessionID string) (bool, error) {
	return eng.scheduler.RetryNow(ctx, sessionID)
}

// ListRetries returns the retry queue ordered by next attempt.
func (eng *Engine) ListRetries(ctx context.Context, opts retryq.ListOpts) ([]*retryq.Entry, error) {
	return eng.store.ListRetries(ctx, opts)
}

// ListAlerts returns alerts newest first.
func (eng *Engine) ListAlerts(ctx context.Context, opts alert.ListOpts) ([]*alert.Alert, error) {
	return eng.store.ListAlerts(ctx, opts)
}

// ResolveAlert marks one alert resolved.
func (eng *Engine) ResolveAlert(ctx context.Context, alertID id.AlertID) error {
	return eng.alerts.Resolve(ctx, alertID)
}

// ListPallets returns pallet records newest first.
func (eng *Engine) ListPallets(ctx context.Context, opts pallet.ListOpts) ([]*pallet.Pallet, error) {
	return eng.store.ListPallets(ctx, opts)
}

// AdvancePallet moves a pallet to status.
func (eng *Engine) AdvancePallet(ctx context.Context, palletID id.PalletID, status pallet.Status) (*pallet.Pallet, error) {
	return eng.pallets.Advance(ctx, palletID, status)
}

// ListEvents returns system events newest first.
func (eng *Engine) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	return eng.store.ListEvents(ctx, opts)
}

// BeerTypes fetches the beer-type catalogue from the cloud.
func (eng *Engine) BeerTypes(ctx context.Context) ([]delivery.BeerType, error) {
	return eng.client.BeerTypes(ctx)
}

// Network probes the endpoint now and reports whether it is reachable.
// An offline/online transition is recorded as usual.
func (eng *Engine) Network(ctx context.Context) bool {
	return eng.scheduler.CheckNetwork(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Station returns the underlying Station.
func (eng *Engine) Station() *kegsync.Station { return eng.st }

// Store returns the aggregate store.
func (eng *Engine) Store() store.Store { return eng.store }

// Lifecycle returns the batch lifecycle service.
func (eng *Engine) Lifecycle() *lifecycle.Service { return eng.lifecycle }

// Scheduler returns the retry scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Recovery returns the recovery manager.
func (eng *Engine) Recovery() *recovery.Manager { return eng.recovery }

// Broker returns the stream broker, or nil without WithStreamBroker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Metrics returns the registry the station metrics are registered on.
func (eng *Engine) Metrics() *prometheus.Registry { return eng.registry }

func macID(c Client) string {
	if dc, ok := c.(interface{ Config() delivery.Config }); ok {
		return dc.Config().MacID
	}
	return ""
}
