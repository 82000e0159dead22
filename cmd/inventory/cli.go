// cmd/inventory/cli.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"libinventory/internal/chaos"
	"libinventory/internal/clients"
	"libinventory/internal/config"
	"libinventory/internal/inventory"
	"libinventory/internal/logging"
	"libinventory/internal/observability"
	"libinventory/internal/store"
)

// CLI is the command tree of the inventory binary
type CLI struct {
	Globals

	Serve ServeCmd `cmd:"" default:"1" help:"Run the HTTP API"`
	Seed  SeedCmd  `cmd:"" help:"Load books into the configured store or a running server"`
	Chaos ChaosCmd `cmd:"" help:"Run the borrow/return chaos game day"`
}

// Globals are flags shared by every command
type Globals struct {
	Config   string `short:"c" help:"Path to a YAML config file" type:"path"`
	LogLevel string `help:"Override log.level (debug, info, warn, error)"`
}

type ServeCmd struct{}

type SeedCmd struct {
	File   string `short:"f" help:"YAML file of books to load (defaults to the built-in catalog)" type:"existingfile"`
	Target string `help:"Base URL of a running inventory server to seed instead of the local store"`
}

type ChaosCmd struct {
	Target    string `help:"Base URL of a running inventory server (defaults to an in-process service)"`
	Copies    int    `help:"Copies stocked per experiment" default:"2"`
	Borrowers int    `help:"Concurrent borrowers per experiment" default:"10"`
	ISBN      string `help:"ISBN prefix for experiment books (defaults to a random one)"`
}

func (g *Globals) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// openService wires the configured store behind a local service. The
// returned function closes the store.
func openService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (inventory.Service, func() error, error) {
	repo, closeStore, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	svc, err := inventory.NewService(repo)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	return svc, closeStore, nil
}

func newLimiter(cfg config.RateLimit) *rate.Limiter {
	if cfg.RPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
}

// startTelemetry installs the OTLP providers; the returned func flushes them.
func startTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (func(), error) {
	shutdown, err := observability.SetupTelemetry(ctx, cfg.Otel)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}, nil
}

func (s *ServeCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopTelemetry, err := startTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	svc, closeStore, err := openService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("Store close failed", "error", err)
		}
	}()

	if cfg.Seed.OnStart {
		books, err := inventory.DefaultSeed()
		if err != nil {
			return err
		}
		added, err := inventory.Seed(ctx, svc, books)
		if err != nil {
			return fmt.Errorf("failed to seed on start: %w", err)
		}
		logger.Info("Seeded inventory", "added", added, "catalog", len(books))
	}

	handler := inventory.NewHandler(svc, logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      inventory.NewRouter(handler, newLimiter(cfg.RateLimit), logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting inventory service", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down inventory service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *SeedCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	ctx := context.Background()

	stopTelemetry, err := startTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	books, err := s.books()
	if err != nil {
		return err
	}

	var svc inventory.Service
	if s.Target != "" {
		svc = clients.NewInventoryClient(s.Target, nil)
	} else {
		local, closeStore, err := openService(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		svc = local
	}

	added, err := inventory.Seed(ctx, svc, books)
	if err != nil {
		return err
	}

	logger.Info("Seeded inventory", "added", added, "skipped", len(books)-added)
	return nil
}

func (s *SeedCmd) books() ([]inventory.Book, error) {
	if s.File == "" {
		return inventory.DefaultSeed()
	}

	f, err := os.Open(s.File)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return inventory.LoadSeed(f)
}

func (c *ChaosCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopTelemetry, err := startTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	var target inventory.Service
	if c.Target != "" {
		target = clients.NewInventoryClient(c.Target, nil)
	} else {
		local, closeStore, err := openService(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		target = local
	}

	prefix := c.ISBN
	if prefix == "" {
		prefix = "chaos-" + uuid.NewString()[:8]
	}

	engine := chaos.NewEngine(logger)
	engine.RegisterExperiments(target, prefix, c.Copies, c.Borrowers)

	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Inventory Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	})
	if err != nil {
		return err
	}
	if !held {
		return errors.New("chaos game day: at least one hypothesis was violated")
	}
	return nil
}
