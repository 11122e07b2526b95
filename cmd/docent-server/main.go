package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rheeghang/docent/internal/config"
	"github.com/rheeghang/docent/internal/httpapi"
	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/observability"
	"github.com/rheeghang/docent/internal/realtime"
	"github.com/rheeghang/docent/internal/rpc"
	"github.com/rheeghang/docent/internal/session"
	"github.com/rheeghang/docent/internal/settings"
	"github.com/rheeghang/docent/kb"
	"github.com/rheeghang/docent/timectrl"
)

// probeVisitor is looked up by the settings health check. A miss is healthy.
const probeVisitor = "__health__"

func main() {
	contentDir := flag.String("content", "", "Exhibit directory (pages.json + content/); overrides DOCENT_CONTENT_DIR")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *contentDir != "" {
		cfg.ContentDir = *contentDir
	}

	log := logging.New(cfg.LoggingConfig())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, listeners{}); err != nil {
		log.Error(context.Background(), "docent server exited", logging.Err(err))
		os.Exit(1)
	}
}

// listeners lets tests hand in pre-bound sockets. Nil entries are bound
// from the configured addresses.
type listeners struct {
	http    net.Listener
	grpc    net.Listener
	metrics net.Listener
}

// app holds the wired engine.
type app struct {
	cfg      config.Config
	log      logging.Logger
	metrics  *observability.DocentCollector
	pages    *kb.KnowledgeBase
	settings settings.Store
	bus      realtime.Bus
	sessions *session.Manager
	visitors *realtime.VisitorHandler
	monitor  *realtime.Room
	unwatch  func()
}

func newApp(ctx context.Context, cfg config.Config, log logging.Logger, reg prometheus.Registerer) (*app, error) {
	collector, err := observability.NewDocentCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics collector: %w", err)
	}

	pages := kb.NewKnowledgeBase(cfg.DefaultLanguage)
	summary, err := kb.LoadDir(pages, os.DirFS(cfg.ContentDir))
	if err != nil {
		return nil, fmt.Errorf("load exhibit from %s: %w", cfg.ContentDir, err)
	}
	for _, skipped := range summary.Skipped {
		log.Warn(ctx, "skipping invalid page", logging.String("page_id", skipped.ID), logging.String("reason", skipped.Reason))
	}
	log.Info(ctx, "loaded exhibit",
		logging.String("dir", cfg.ContentDir),
		logging.Int("pages", len(summary.PageIDs)),
		logging.String("languages", strings.Join(summary.Languages, ",")),
	)

	store, err := openSettings(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bus, err := openBus(ctx, cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sessions := session.NewManager(pages, log,
		session.WithMetricsRecorder(collector),
		session.WithShakeConfig(cfg.ShakeDetectorConfig()),
		session.WithGuideTiming(cfg.Guide.Delay, cfg.Guide.Display),
		session.WithTTL(cfg.SessionTTL),
		session.WithSink(bus),
	)
	visitors := realtime.NewVisitorHandler(sessions, log, collector)
	sessions.AddSink(visitors)
	unwatch := sessions.WatchPages(ctx)

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  collector,
		pages:    pages,
		settings: store,
		bus:      bus,
		sessions: sessions,
		visitors: visitors,
		monitor:  realtime.NewRoom(log, collector),
		unwatch:  unwatch,
	}, nil
}

func openSettings(ctx context.Context, cfg config.Config) (settings.Store, error) {
	switch strings.ToLower(cfg.Settings.Backend) {
	case config.BackendMemory:
		return settings.NewMemoryStore(), nil
	case config.BackendRedis:
		store, err := settings.OpenRedis(ctx, settings.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis settings: %w", err)
		}
		return store, nil
	default:
		if dir := filepath.Dir(cfg.Settings.BoltPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create settings dir: %w", err)
			}
		}
		store, err := settings.OpenBolt(cfg.Settings.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt settings: %w", err)
		}
		return store, nil
	}
}

func openBus(ctx context.Context, cfg config.Config, log logging.Logger) (realtime.Bus, error) {
	if strings.ToLower(cfg.Bus) != config.BusRedis {
		return realtime.NewLocalBus(), nil
	}
	bus, err := realtime.NewRedisBus(ctx, realtime.RedisBusOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Channel:  cfg.Redis.Channel,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open redis bus: %w", err)
	}
	return bus, nil
}

func (a *app) close() {
	if a.unwatch != nil {
		a.unwatch()
	}
	if err := a.bus.Close(); err != nil {
		a.log.Warn(context.Background(), "close event bus", logging.Err(err))
	}
	if err := a.settings.Close(); err != nil {
		a.log.Warn(context.Background(), "close settings store", logging.Err(err))
	}
}

// reloadExhibit re-reads the content directory into the live knowledge
// base. Sessions on a page whose target moved are relocked.
func (a *app) reloadExhibit(ctx context.Context) error {
	summary, err := kb.ReloadDir(a.pages, os.DirFS(a.cfg.ContentDir))
	if err != nil {
		return fmt.Errorf("reload exhibit from %s: %w", a.cfg.ContentDir, err)
	}
	for _, skipped := range summary.Skipped {
		a.log.Warn(ctx, "skipping invalid page", logging.String("page_id", skipped.ID), logging.String("reason", skipped.Reason))
	}
	a.log.Info(ctx, "reloaded exhibit",
		logging.String("dir", a.cfg.ContentDir),
		logging.Int("pages", len(summary.PageIDs)),
		logging.String("updated", strings.Join(summary.Updated, ",")),
	)
	return nil
}

// reloadOnSignal reloads the exhibit each time sig fires. A failed reload
// keeps the pages already served.
func (a *app) reloadOnSignal(ctx context.Context, sig <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if err := a.reloadExhibit(ctx); err != nil {
				a.log.Warn(ctx, "exhibit reload failed", logging.Err(err))
			}
		}
	}
}

func (a *app) settingsCheck(ctx context.Context) error {
	_, err := a.settings.Load(ctx, probeVisitor)
	if err == nil || errors.Is(err, settings.ErrNotFound) {
		return nil
	}
	return err
}

// run serves until ctx is cancelled, then shuts everything down.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis listeners) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.ObservabilityTracing(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	a, err := newApp(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.close()
	return a.serve(ctx, lis)
}

func (a *app) serve(ctx context.Context, lis listeners) error {
	var err error
	if lis.http == nil {
		if lis.http, err = net.Listen("tcp", a.cfg.HTTPAddr); err != nil {
			return fmt.Errorf("listen http %s: %w", a.cfg.HTTPAddr, err)
		}
	}
	if lis.grpc == nil {
		if lis.grpc, err = net.Listen("tcp", a.cfg.GRPCAddr); err != nil {
			lis.http.Close()
			return fmt.Errorf("listen grpc %s: %w", a.cfg.GRPCAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := a.bus.StartForwarder(gctx, a.monitor.Broadcast); err != nil {
		lis.http.Close()
		lis.grpc.Close()
		return fmt.Errorf("start event forwarder: %w", err)
	}
	g.Go(func() error {
		a.monitor.Run(gctx)
		return nil
	})
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		a.reloadOnSignal(gctx, hup)
		return nil
	})
	g.Go(func() error {
		runSessionLoop(gctx, a.sessions, a.visitors, timectrl.WallClock{}, a.cfg.TickInterval)
		return nil
	})

	api := httpapi.NewServer(httpapi.Deps{
		Sessions: a.sessions,
		Pages:    a.pages,
		Settings: a.settings,
		Log:      a.log,
		Metrics:  a.metrics,
		Visitors: a.visitors,
		Monitor:  a.monitor,
	})
	httpSrv := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}

	health := rpc.NewServer(a.log, a.metrics, map[string]rpc.Check{"docent.settings": a.settingsCheck})
	g.Go(func() error {
		health.Watch(gctx, 15*time.Second)
		return nil
	})

	metricsSrv := serveMetrics(a.cfg.MetricsAddr, lis.metrics, a.metrics, a.log)

	g.Go(func() error {
		a.log.Info(gctx, "starting HTTP server", logging.String("addr", lis.http.Addr().String()))
		if err := httpSrv.Serve(lis.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.log.Info(gctx, "starting gRPC health server", logging.String("addr", lis.grpc.Addr().String()))
		if err := health.GRPC.Serve(lis.grpc); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info(context.Background(), "shutting down docent server")
		health.Stop(5 * time.Second)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn(shutdownCtx, "http shutdown", logging.Err(err))
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

// runSessionLoop drives guide timers and idle expiry off the wall clock
// and pushes the resulting events to visitor sockets.
func runSessionLoop(ctx context.Context, sessions *session.Manager, visitors *realtime.VisitorHandler, clock timectrl.SimClock, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-clock.After(interval):
			if events := sessions.Advance(ctx, clock.Now()); len(events) > 0 {
				visitors.Deliver(ctx, events)
			}
		}
	}
}

func serveMetrics(addr string, lis net.Listener, collector *observability.DocentCollector, log logging.Logger) *http.Server {
	if collector == nil || (addr == "" && lis == nil) {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if lis != nil {
			err = srv.Serve(lis)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
