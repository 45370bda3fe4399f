// Command kegsync runs a keg-pallet station: it accepts captures over
// HTTP, decodes them, delivers batches to the cloud endpoint and keeps the
// retry queue draining until it is stopped.
//
// Usage:
//
//	KEGSYNC_ENDPOINT=https://cloud.example.com/api/batches \
//	KEGSYNC_MAC_ID=AA:BB:CC:DD:EE:FF \
//	kegsync -dsn /var/lib/kegsync/kegsync.db
//
// Captures are decoded from <image>.codes.json sidecars written by the
// camera pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/api"
	"github.com/xraph/kegsync/detect"
	"github.com/xraph/kegsync/engine"
	bunstore "github.com/xraph/kegsync/store/bun"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.logLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("kegsync stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, logger *slog.Logger) error {
	st, err := bunstore.Open(ctx, cfg.dsn, bunstore.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return err
	}

	station, err := kegsync.New(
		kegsync.WithStore(st),
		kegsync.WithConfig(cfg.station),
		kegsync.WithLogger(logger),
	)
	if err != nil {
		_ = st.Close()
		return err
	}

	eng, err := engine.Build(station,
		engine.WithDetector(detect.Static{}),
		engine.WithDelivery(cfg.delivery),
	)
	if err != nil {
		_ = st.Close()
		return err
	}
	if err := eng.Start(ctx); err != nil {
		_ = st.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.addr != "" {
		opts := []api.Option{api.WithLogger(logger)}
		if cfg.accessLog {
			opts = append(opts, api.WithAccessLog(os.Stdout))
		}
		srv = &http.Server{
			Addr:              cfg.addr,
			Handler:           api.New(eng, opts...).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http api listening", slog.String("addr", cfg.addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.station.ShutdownTimeout)
		defer cancel()

		var errs []error
		if srv != nil {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		errs = append(errs, eng.Stop(shutdownCtx))
		return errors.Join(errs...)
	})

	return g.Wait()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
