package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "FinFactor/internal/domain/repository"
	fileloader "FinFactor/internal/loader"
	"FinFactor/internal/usecase"
	"FinFactor/pkg/config"
	xhttp "FinFactor/pkg/http"
	applogger "FinFactor/pkg/logger"
)

// App owns the pipeline runner, the query API and every client they share.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	storage    domrepo.Storage
	runner     *usecase.Runner
	httpServer *xhttp.Server
	closers    []io.Closer
	invalidate domrepo.Invalidator
}

// New creates an App. closers are closed in reverse order on shutdown, after
// the HTTP server and before storage.
func New(cfg *config.Config, l *applogger.Logger, storage domrepo.Storage, runner *usecase.Runner, httpServer *xhttp.Server, closers ...io.Closer) *App {
	return &App{
		cfg:        cfg,
		l:          l,
		storage:    storage,
		runner:     runner,
		httpServer: httpServer,
		closers:    closers,
	}
}

// WithInvalidator registers a cache to drop after fundamentals are loaded.
func (a *App) WithInvalidator(inv domrepo.Invalidator) *App {
	a.invalidate = inv
	return a
}

// Logger returns the application logger.
func (a *App) Logger() *applogger.Logger { return a.l }

// Init creates the storage schema.
func (a *App) Init(ctx context.Context) error {
	if err := a.storage.Init(ctx); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	a.l.Info("storage schema ready", applogger.String("backend", a.cfg.Storage.Backend))
	return nil
}

// RunPipeline runs the named stages, or the configured ones when stages is
// empty, over the configured window.
func (a *App) RunPipeline(ctx context.Context, stages []string) ([]usecase.Report, error) {
	if len(stages) == 0 {
		stages = a.cfg.Pipeline.Stages
	}
	from, to, err := a.cfg.Pipeline.Window()
	if err != nil {
		return nil, err
	}
	if err := a.Init(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	reports, err := a.runner.Run(ctx, stages, from, to)
	for _, r := range reports {
		a.l.Info("stage summary",
			applogger.String("stage", r.Stage),
			applogger.Int("succeeded", r.Succeeded),
			applogger.Int("failed", r.Failed),
			applogger.Int("skipped", r.Skipped),
		)
	}
	if err != nil {
		return reports, err
	}
	a.l.Info("pipeline finished", applogger.Duration("duration_ms", time.Since(start)))
	return reports, nil
}

// Input tables accepted by Load.
const (
	LoadPrices       = "prices"
	LoadFundamentals = "fundamentals"
)

const loadChunk = 50000

// Load parses a CSV or TSV export at path and bulk-writes it into the prices
// or fundamentals table. Rows are written in chunks, in file order.
func (a *App) Load(ctx context.Context, table, path string) (int64, error) {
	loader, ok := a.storage.(domrepo.Loader)
	if !ok {
		return 0, fmt.Errorf("backend %s cannot bulk-load", a.cfg.Storage.Backend)
	}
	if err := a.Init(ctx); err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	start := time.Now()
	var n int64
	switch table {
	case LoadPrices:
		bars, err := fileloader.ReadPrices(f)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		n, err = loadChunks(ctx, bars, loader.LoadPrices)
		if err != nil {
			return n, err
		}
	case LoadFundamentals:
		snaps, err := fileloader.ReadSnapshots(f)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		n, err = loadChunks(ctx, snaps, loader.LoadSnapshots)
		if err != nil {
			return n, err
		}
		if a.invalidate != nil {
			if err := a.invalidate.Invalidate(ctx); err != nil {
				return n, fmt.Errorf("invalidate fundamentals: %w", err)
			}
		}
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}

	a.l.Info("input loaded",
		applogger.String("table", table),
		applogger.String("path", path),
		applogger.Int64("rows", n),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return n, nil
}

func loadChunks[T any](ctx context.Context, rows []T, load func(context.Context, []T) (int64, error)) (int64, error) {
	var total int64
	for lo := 0; lo < len(rows); lo += loadChunk {
		hi := min(lo+loadChunk, len(rows))
		n, err := load(ctx, rows[lo:hi])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Serve starts the query API and blocks until ctx is done or a termination
// signal arrives.
func (a *App) Serve(ctx context.Context) error {
	if a.httpServer == nil {
		return errors.New("http server is disabled")
	}
	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	a.l.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		return err
	}
	return nil
}

// Close releases clients. It is safe to call once after Run or Serve.
func (a *App) Close() error {
	// flush the digest while its producer is still open
	a.l.DetachCollector()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if a.closers[i] == nil {
			continue
		}
		if err := a.closers[i].Close(); err != nil {
			a.l.Warn("close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if err := a.storage.Close(); err != nil {
		a.l.Warn("storage close error", applogger.Error(err))
		errs = append(errs, err)
	}
	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
