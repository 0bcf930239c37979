package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_dsl/internal/usecase"
	"github.com/vitos/crypto_trade_dsl/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config/config.yaml"

const usage = `usage: dsl <command> [flags]

commands:
  run         evaluate one position once and print the cycle result as JSON
  watch       evaluate every stored position on an interval and serve /status
  init        register a new position from a YAML spec
  deactivate  stop monitoring a position without closing it
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = cmdRun(args, os.Stdout)
	case "watch":
		err = cmdWatch(args)
	case "init":
		err = cmdInit(args, os.Stdout)
	case "deactivate":
		err = cmdDeactivate(args, os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// setup loads config and logger. A missing default config file falls back
// to built-in defaults so a bare `dsl run` works from cron.
func setup(configPath string) (*Config, *zap.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		if configPath == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
			cfg = &Config{}
			cfg.applyDefaults()
		} else {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
	}

	log, err := logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func cmdRun(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	statePath := fs.String("state", "", "path to a position state file")
	strategy := fs.String("strategy", "", "strategy id")
	asset := fs.String("asset", "", "asset, e.g. BTC")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *statePath == "" && (*strategy == "" || *asset == "") {
		return fmt.Errorf("run needs --state or both --strategy and --asset")
	}

	// Failures before the cycle starts are still reported as one result.
	configFailure := func(err error) error {
		res := &domain.CycleResult{
			StrategyID:       *strategy,
			Asset:            *asset,
			CurrentTierIndex: -1,
			Status:           domain.StatusError,
			ErrorKind:        domain.ErrorKindConfig,
			Error:            err.Error(),
			Summary:          err.Error(),
			CheckedAt:        time.Now().UTC(),
		}
		return writeJSON(stdout, res)
	}

	cfg, log, err := setup(*configPath)
	if err != nil {
		return configFailure(err)
	}
	defer log.Sync()

	key := domain.PositionKey{StrategyID: *strategy, Asset: *asset}
	if *statePath != "" {
		// The record's directory becomes the store so locks and the
		// atomic rename live next to it.
		cfg.Storage.StateDir = filepath.Dir(*statePath)
		key, err = storage.KeyFromFile(*statePath)
		if err != nil {
			return configFailure(err)
		}
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return configFailure(err)
	}
	defer a.Close()

	if *statePath != "" && filepath.Clean(a.store.Path(key)) != filepath.Clean(*statePath) {
		*strategy, *asset = key.StrategyID, key.Asset
		return configFailure(fmt.Errorf("%w: %s does not match the file name for %s (expected %s)",
			domain.ErrInvalidState, *statePath, key, filepath.Base(a.store.Path(key))))
	}

	res := a.controller.RunCycle(context.Background(), key)
	return writeJSON(stdout, res)
}

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := usecase.NewWatcher(a.controller, a.store, cfg.Watch.Interval, cfg.Watch.Concurrency, log)
	server := web.NewServer(cfg.Server.Port, watcher, a.store, a.setup, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server exited")
	return nil
}

func cmdInit(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	specPath := fs.String("f", "", "position spec YAML")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *specPath == "" {
		return fmt.Errorf("init needs -f <spec.yaml>")
	}

	spec, err := loadPositionSpec(*specPath)
	if err != nil {
		return err
	}

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.setup.Create(context.Background(), spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✅ Registered %s at %s\n", state.Key(), a.store.Path(state.Key()))
	return writeJSON(stdout, state)
}

func cmdDeactivate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("deactivate", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	strategy := fs.String("strategy", "", "strategy id")
	asset := fs.String("asset", "", "asset, e.g. BTC")
	reason := fs.String("reason", "manual", "reason recorded on the position")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *strategy == "" || *asset == "" {
		return fmt.Errorf("deactivate needs --strategy and --asset")
	}

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.setup.Deactivate(context.Background(), domain.PositionKey{StrategyID: *strategy, Asset: *asset}, *reason)
	if err != nil {
		return err
	}
	return writeJSON(stdout, state)
}

func loadPositionSpec(path string) (usecase.PositionSpec, error) {
	var spec usecase.PositionSpec
	raw, err := os.ReadFile(path)
	if err != nil {
		return spec, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return spec, fmt.Errorf("parse %s: %w", path, err)
	}
	return spec, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
