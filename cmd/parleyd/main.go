// Command parleyd serves the conversational flow engine over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	parley "github.com/novandi/parley"
	"github.com/novandi/parley/fetch"
	"github.com/novandi/parley/internal/config"
	"github.com/novandi/parley/internal/server"
	"github.com/novandi/parley/observer"
	"github.com/novandi/parley/provider/resolve"
	"github.com/novandi/parley/sandbox"
	"github.com/novandi/parley/store/postgres"
	"github.com/novandi/parley/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("parleyd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg := config.Load(os.Getenv("PARLEY_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Providers
	mainLLM, err := resolve.Provider(resolve.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
	})
	if err != nil {
		return err
	}
	clarityLLM, err := resolve.Provider(resolve.Config{
		Provider: cfg.Clarity.Provider,
		APIKey:   cfg.Clarity.APIKey,
		Model:    cfg.Clarity.Model,
		BaseURL:  cfg.Clarity.BaseURL,
	})
	if err != nil {
		return err
	}

	if cfg.LLM.MaxRetries > 0 {
		retryOpts := []parley.RetryOption{
			parley.RetryMaxAttempts(cfg.LLM.MaxRetries),
			parley.RetryLogger(logger),
		}
		mainLLM = parley.WithRetry(mainLLM, retryOpts...)
		clarityLLM = parley.WithRetry(clarityLLM, retryOpts...)
	}
	if cfg.LLM.RPM > 0 || cfg.LLM.TPM > 0 {
		mainLLM = parley.WithRateLimit(mainLLM, parley.RPM(cfg.LLM.RPM), parley.TPM(cfg.LLM.TPM))
	}

	// Observability
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()

		mainLLM = observer.WrapProvider(mainLLM, cfg.LLM.Model, inst)
		clarityLLM = observer.WrapProvider(clarityLLM, cfg.Clarity.Model, inst)
	}

	// Store
	var store parley.Store
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.New(pool)
	default:
		store = sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	// Sandbox runner for FUNCTIONAL handlers
	var runnerOpts []sandbox.Option
	if cfg.Sandbox.TimeoutSeconds > 0 {
		runnerOpts = append(runnerOpts, sandbox.WithTimeout(time.Duration(cfg.Sandbox.TimeoutSeconds)*time.Second))
	}
	if cfg.Sandbox.Workspace != "" {
		runnerOpts = append(runnerOpts, sandbox.WithWorkspace(cfg.Sandbox.Workspace))
	}
	var runner parley.HandlerRunner = sandbox.NewSubprocessRunner(cfg.Sandbox.NodeBin, runnerOpts...)
	if inst != nil {
		runner = observer.WrapRunner(runner, inst)
	}

	// Outbound fetch capability
	var fetchOpts []fetch.Option
	if cfg.Fetch.TimeoutSeconds > 0 {
		fetchOpts = append(fetchOpts, fetch.WithTimeout(time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second))
	}
	fetcher := fetch.New(fetchOpts...)

	// Engine
	engineOpts := []parley.EngineOption{
		parley.WithClarityProvider(clarityLLM),
		parley.WithHandlerRunner(runner),
		parley.WithFetch(fetcher.Do),
		parley.WithInjectionGuard(parley.NewInjectionGuard()),
		parley.WithLogger(logger),
	}
	if cfg.Server.HandlerErrorDetail {
		engineOpts = append(engineOpts, parley.WithHandlerErrorDetail())
	}
	engine := parley.NewEngine(store, mainLLM, engineOpts...)

	// HTTP server
	serverOpts := []server.Option{server.WithLogger(logger)}
	if inst != nil {
		serverOpts = append(serverOpts, server.WithInstruments(inst))
	}
	srv := server.NewServer(engine, store, serverOpts...)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("parleyd listening", "addr", cfg.Server.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
