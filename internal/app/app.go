// Package app wires the data store, engines and API server from a loaded
// configuration. Both command line entry points build on it.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/api"
	"github.com/atlas-desktop/simulation-engine/internal/backtester"
	"github.com/atlas-desktop/simulation-engine/internal/bootstrap"
	"github.com/atlas-desktop/simulation-engine/internal/config"
	"github.com/atlas-desktop/simulation-engine/internal/data"
	"github.com/atlas-desktop/simulation-engine/internal/engine"
	"github.com/atlas-desktop/simulation-engine/internal/montecarlo"
	"github.com/atlas-desktop/simulation-engine/internal/strategy"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ShutdownTimeout bounds a graceful server shutdown
const ShutdownTimeout = 30 * time.Second

// App holds the long-lived components of the process
type App struct {
	Logger     *zap.Logger
	Config     *config.Config
	Strategies *strategy.Registry
	Runner     *backtester.Runner

	engines map[string]engine.Engine
}

// New builds the strategy registry, trial runner and both engines
func New(logger *zap.Logger, cfg *config.Config) *App {
	strategies := strategy.NewRegistry(logger)
	runner := backtester.NewRunner(logger, strategies)

	a := &App{
		Logger:     logger,
		Config:     cfg,
		Strategies: strategies,
		Runner:     runner,
		engines:    make(map[string]engine.Engine),
	}
	for _, e := range []engine.Engine{
		montecarlo.NewEngine(logger, runner),
		bootstrap.NewEngine(logger, runner),
	} {
		a.engines[e.Name()] = e
	}

	names := a.Strategies.List()
	sort.Strings(names)
	logger.Debug("Registered strategies", zap.Strings("strategies", names))

	return a
}

// Engine returns the engine registered under name
func (a *App) Engine(name string) (engine.Engine, error) {
	e, ok := a.engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", name)
	}
	return e, nil
}

// Engines returns every engine, sorted by name
func (a *App) Engines() []engine.Engine {
	names := make([]string, 0, len(a.engines))
	for name := range a.engines {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]engine.Engine, len(names))
	for i, name := range names {
		out[i] = a.engines[name]
	}
	return out
}

// Store opens the configured data directory
func (a *App) Store() (*data.Store, error) {
	return data.NewStore(a.Logger, a.Config.Data)
}

// MarketData reads price series from sources of the form SYMBOL=path or
// path, where a bare path is named after its file. With no sources every
// symbol in the data store is loaded.
func (a *App) MarketData(ctx context.Context, sources []string, start, end time.Time) (map[string][]types.MarketDataPoint, error) {
	if len(sources) == 0 {
		store, err := a.Store()
		if err != nil {
			return nil, err
		}
		symbols := store.Symbols()
		if len(symbols) == 0 {
			return nil, fmt.Errorf("%w: no data files given and %s is empty", engine.ErrNoMarketData, a.Config.Data.DataDir)
		}
		return store.LoadAll(ctx, symbols, start, end)
	}

	out := make(map[string][]types.MarketDataPoint, len(sources))
	for _, source := range sources {
		symbol, path, ok := strings.Cut(source, "=")
		if !ok {
			path = source
			symbol = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		points, err := data.ReadFile(path, symbol)
		if err != nil {
			return nil, err
		}
		out[symbol] = points
	}
	return out, nil
}

// Simulate fills cfg from the configured defaults and runs the named engine
func (a *App) Simulate(ctx context.Context, name string, def types.StrategyDefinition, marketData map[string][]types.MarketDataPoint, cfg *types.BacktestConfig, progress engine.ProgressFunc) (*types.EngineResult, error) {
	e, err := a.Engine(name)
	if err != nil {
		return nil, err
	}
	a.Config.Apply(cfg)
	return e.BacktestWithProgress(ctx, def, marketData, cfg, progress)
}

// Server builds the API server over a fresh data store
func (a *App) Server() (*api.Server, error) {
	store, err := a.Store()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize data store: %w", err)
	}
	return api.NewServer(a.Logger, &a.Config.Server, a.Config, store, a.Engines()...), nil
}

// Serve runs the API server until ctx is done, then shuts it down
// gracefully.
func (a *App) Serve(ctx context.Context) error {
	server, err := a.Server()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	host, port := a.Config.Server.Host, a.Config.Server.Port
	a.Logger.Info("Server started successfully",
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", host, port, a.Config.Server.WebSocketPath)),
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", host, port)),
		zap.Bool("metrics", a.Config.Server.EnableMetrics),
	)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		a.Logger.Info("Shutdown signal received")
	}

	// Graceful server shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}

	a.Logger.Info("Server stopped")
	return nil
}

// NewLogger builds the console logger used by the command line tools
func NewLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
