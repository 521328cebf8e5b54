// Package app wires all cratequiet subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API until its context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithPublisher, ...) and register mock providers in the [config.Registry].
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cratequiet/internal/config"
	"github.com/MrWong99/cratequiet/internal/eventlog"
	"github.com/MrWong99/cratequiet/internal/health"
	"github.com/MrWong99/cratequiet/internal/httpapi"
	"github.com/MrWong99/cratequiet/internal/monitor"
	"github.com/MrWong99/cratequiet/internal/mqttconn"
	"github.com/MrWong99/cratequiet/internal/notify"
	"github.com/MrWong99/cratequiet/internal/observe"
	"github.com/MrWong99/cratequiet/internal/resilience"
	"github.com/MrWong99/cratequiet/internal/response"
	"github.com/MrWong99/cratequiet/pkg/audio"
	"github.com/MrWong99/cratequiet/pkg/feedback"
	mqttsink "github.com/MrWong99/cratequiet/pkg/feedback/mqtt"
	"github.com/MrWong99/cratequiet/pkg/store"
	"github.com/MrWong99/cratequiet/pkg/store/clickhouse"
	"github.com/MrWong99/cratequiet/pkg/store/filestore"
	"github.com/MrWong99/cratequiet/pkg/store/memstore"
	"github.com/MrWong99/cratequiet/pkg/store/postgres"
)

// notifyBuffer is the subscription buffer of the MQTT notifier.
const notifyBuffer = 64

// Publisher is an MQTT-style publish function shared by the mqtt feedback
// sink and the notifier. [*mqttconn.Conn] implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, retained bool, payload []byte) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store      store.Store
	archive    store.Archive
	publisher  Publisher
	source     audio.Source
	sink       *resilience.SinkFallback
	dispatcher *response.Dispatcher
	events     *eventlog.Log
	ctrl       *monitor.Controller
	notifier   *notify.Notifier
	checkers   []health.Checker
	server     *http.Server
	listener   net.Listener
	clock      func() time.Time

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithArchive injects an archive instead of connecting to ClickHouse.
func WithArchive(ar store.Archive) Option {
	return func(a *App) { a.archive = ar }
}

// WithPublisher injects an MQTT publisher instead of connecting to the
// configured broker.
func WithPublisher(p Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithClock overrides the wall clock of the controller and the API.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.clock = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Providers are
// created through reg; a nil reg gets a fresh registry with
// [RegisterBuiltins].
//
// New performs all initialisation synchronously: store and archive
// connection, MQTT connection, provider construction, and controller
// assembly. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	if reg == nil {
		reg = config.NewRegistry()
		RegisterBuiltins(reg)
	}
	a := &App{cfg: cfg, reg: reg, clock: time.Now}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		a.drainWorkers(ctx)
		a.runClosers()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return fmt.Errorf("app: init archive: %w", err)
	}

	// ── 3. MQTT ──────────────────────────────────────────────────────────
	if err := a.initMQTT(ctx); err != nil {
		return fmt.Errorf("app: init mqtt: %w", err)
	}

	// ── 4. Event log ─────────────────────────────────────────────────────
	logOpts := []eventlog.Option{
		eventlog.WithMetrics(a.metrics),
		eventlog.WithDefaults(a.cfg.DefaultSettings()),
	}
	if a.archive != nil {
		logOpts = append(logOpts, eventlog.WithArchive(a.archive))
	}
	a.events = eventlog.New(a.store, a.cfg.Store.Config, logOpts...)

	// ── 5. Feedback sinks + dispatcher ───────────────────────────────────
	if err := a.initFeedback(); err != nil {
		return fmt.Errorf("app: init feedback: %w", err)
	}
	a.dispatcher = response.New(a.sink, a.cfg.Response.Config, response.WithMetrics(a.metrics))

	// ── 6. Audio source, classifier, controller ──────────────────────────
	if err := a.initController(); err != nil {
		return fmt.Errorf("app: init controller: %w", err)
	}

	// ── 7. Notifier ──────────────────────────────────────────────────────
	if a.cfg.MQTT.Notify && a.publisher != nil {
		a.notifier = notify.New(a.publisher, a.cfg.MQTT.TopicPrefix, 0)
	}

	// ── 8. HTTP surface ──────────────────────────────────────────────────
	a.initServer()
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.Store.Backend {
		case config.BackendFile:
			keep := a.cfg.Store.Retention
			if keep <= 0 {
				keep = store.RetentionLimit
			}
			fs, err := filestore.Open(a.cfg.Store.Path, filestore.WithRetention(keep))
			if err != nil {
				return err
			}
			a.store = fs
		case config.BackendPostgres:
			pg, err := postgres.NewStore(ctx, a.cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			a.store = pg
		default:
			a.store = memstore.New()
		}
		a.closers = append(a.closers, a.store.Close)
		slog.Info("store opened", "backend", a.cfg.Store.Backend)
	}
	if p, ok := a.store.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("store", p))
	}
	return nil
}

// initArchive connects the ClickHouse archive when configured.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive == nil {
		ch := a.cfg.Archive.ClickHouse
		if ch == nil {
			return nil
		}
		ar, err := clickhouse.Open(ctx, clickhouse.Options{
			Addr:        ch.Addr,
			Database:    ch.Database,
			Username:    ch.Username,
			Password:    ch.Password,
			DeviceID:    ch.DeviceID,
			DialTimeout: ch.DialTimeout,
		})
		if err != nil {
			return err
		}
		a.archive = ar
		a.closers = append(a.closers, ar.Close)
		slog.Info("archive connected", "addr", ch.Addr)
	}
	if p, ok := a.archive.(health.Pinger); ok {
		c := health.Ping("archive", p)
		c.Optional = true
		a.checkers = append(a.checkers, c)
	}
	return nil
}

// initMQTT connects to the broker when configured and registers the "mqtt"
// feedback sink on top of the connection.
func (a *App) initMQTT(ctx context.Context) error {
	if a.publisher == nil && a.cfg.MQTT.Enabled() {
		m := a.cfg.MQTT
		conn, err := mqttconn.Connect(ctx, mqttconn.Config{
			Broker:      m.Broker,
			ClientID:    m.ClientID,
			Username:    m.Username,
			Password:    m.Password,
			QoS:         m.QoS,
			WillTopic:   m.TopicPrefix + "/state",
			WillPayload: `{"state":"offline"}`,
		})
		if err != nil {
			return err
		}
		a.publisher = conn
		a.closers = append(a.closers, conn.Close)
		a.checkers = append(a.checkers, health.Checker{Name: "mqtt", Check: conn.Check, Optional: true})
	}
	if a.publisher != nil {
		prefix := a.cfg.MQTT.TopicPrefix
		a.reg.RegisterFeedback("mqtt", func(config.ProviderEntry) (feedback.Sink, error) {
			return mqttsink.New(a.publisher, prefix), nil
		})
	}
	return nil
}

// initFeedback builds the configured sinks in failover order, each behind its
// own circuit breaker.
func (a *App) initFeedback() error {
	b := a.cfg.Response.Breaker
	fcfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		HalfOpenMax:  b.HalfOpenMax,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("feedback sink breaker changed", "sink", name, "from", from, "to", to)
		},
	}}

	for _, entry := range a.cfg.Providers.Feedback {
		sink, err := a.reg.CreateFeedback(entry)
		if err != nil {
			return fmt.Errorf("sink %q: %w", entry.Name, err)
		}
		if c, ok := sink.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		if a.sink == nil {
			a.sink = resilience.NewSinkFallback(sink, entry.Name, fcfg)
		} else {
			a.sink.AddFallback(entry.Name, sink)
		}
		slog.Info("feedback sink ready", "name", entry.Name)
	}
	if a.sink == nil {
		return errors.New("no feedback sink configured")
	}
	a.checkers = append(a.checkers, health.Flag("feedback", func() bool { return !a.sink.Healthy() }))
	return nil
}

// initController creates the audio source and classifier and assembles the
// monitor controller.
func (a *App) initController() error {
	src, err := a.reg.CreateAudio(a.cfg.Providers.Audio)
	if err != nil {
		return fmt.Errorf("audio %q: %w", a.cfg.Providers.Audio.Name, err)
	}
	a.source = src
	if c, ok := src.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	cl, err := a.reg.CreateClassifier(a.cfg.Classifier)
	if err != nil {
		return fmt.Errorf("classifier %q: %w", a.cfg.Classifier.Name, err)
	}

	a.ctrl = monitor.New(src, a.events, a.dispatcher,
		monitor.WithConfig(a.cfg.Monitor),
		monitor.WithClassifier(cl),
		monitor.WithClock(a.clock),
		monitor.WithMetrics(a.metrics),
	)
	degraded := health.Flag("eventlog", a.events.Degraded)
	degraded.Optional = true
	a.checkers = append(a.checkers, degraded)
	slog.Info("controller ready",
		"audio", a.cfg.Providers.Audio.Name,
		"classifier", a.cfg.Classifier.Name,
		"interval", a.ctrl.Config().SampleInterval,
	)
	return nil
}

// initServer builds the HTTP server. It starts serving in Run.
func (a *App) initServer() {
	api := httpapi.New(a.ctrl, a.events,
		httpapi.WithHealth(health.New(a.checkers...)),
		httpapi.WithMetrics(a.metrics),
		httpapi.WithClock(a.clock),
	)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Controller returns the monitor controller.
func (a *App) Controller() *monitor.Controller { return a.ctrl }

// EventLog returns the event log.
func (a *App) EventLog() *eventlog.Log { return a.events }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API and, when enabled, the MQTT notifier. It blocks
// until ctx is cancelled or serving fails, then stops the HTTP server within
// server.shutdown_timeout. A cancelled ctx yields a nil error.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})
	if a.notifier != nil {
		sub := a.ctrl.Subscribe(notifyBuffer)
		defer sub.Close()
		g.Go(func() error { return a.notifier.Run(gctx, sub) })
	}

	slog.Info("app running", "addr", ln.Addr().String(), "notify", a.notifier != nil)
	return g.Wait()
}

// ApplyConfig applies the live-reloadable parts of d. Sections listed in
// d.RestartRequired are only logged.
func (a *App) ApplyConfig(cfg *config.Config, d config.ConfigDiff) error {
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
	if d.DefaultsChanged {
		slog.Info("default settings changed; they apply after a restart while the store holds no settings")
	}
	if !d.ClassifierChanged {
		return nil
	}
	cl, err := a.reg.CreateClassifier(d.NewClassifier)
	if err != nil {
		return fmt.Errorf("app: reload classifier: %w", err)
	}
	a.ctrl.SetClassifier(cl)
	a.cfg.Classifier = cfg.Classifier
	slog.Info("classifier reloaded", "name", d.NewClassifier.Name)
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops a running session (recording it), drains pending feedback
// and event writes, and closes every subsystem. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if ts, ok, err := a.ctrl.Stop(ctx); err != nil {
			slog.Warn("stop session error", "err", err)
		} else if ok {
			slog.Info("recorded running session on shutdown", "session_id", ts.ID)
		}
		a.drainWorkers(ctx)

		if ctx.Err() != nil {
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers))
			shutdownErr = ctx.Err()
			return
		}
		a.runClosers()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// drainWorkers stops the response dispatcher and flushes the event log
// writer. Either may be nil when init failed before creating it.
func (a *App) drainWorkers(ctx context.Context) {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			slog.Warn("dispatcher close error", "err", err)
		}
	}
	if a.events != nil {
		if err := a.events.Close(ctx); err != nil {
			slog.Warn("event log close error", "err", err)
		}
	}
}

// runClosers closes subsystems in reverse-open order.
func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
