package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/metrics"
	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_dsl/internal/usecase"
	"go.uber.org/zap"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg        *Config
	log        *zap.Logger
	store      *storage.FileStore
	locker     domain.Locker
	adapter    *exchange.BybitAdapter
	journal    *storage.SQLiteJournal
	redis      *redis.Client
	controller *usecase.RunController
	setup      *usecase.PositionSetup
}

func newApp(cfg *Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	// 1. State store
	store, err := storage.NewFileStore(cfg.Storage.StateDir)
	if err != nil {
		return nil, err
	}
	a.store = store

	// 2. Lock backend
	switch cfg.Lock.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		a.locker = storage.NewRedisLocker(a.redis, cfg.Lock.TTL, log)
	default:
		a.locker = storage.NewFileLocker(store)
	}

	// 3. Exchange (single exchange, Bybit)
	ex := cfg.Exchanges[0]
	a.adapter = exchange.NewBybitAdapter(ex.APIKey, ex.APISecret, ex.RESTEndpoint, ex.WSEndpoint, ex.Quote, log)
	var feed domain.PriceFeed = a.adapter
	if cfg.Price.Source == "ws" {
		feed = a.adapter.StreamFeed()
	}

	// 4. Journal (optional)
	observers := []domain.CycleObserver{metrics.NewObserver()}
	opts := []usecase.Option{usecase.WithPriceTimeout(cfg.Price.Timeout)}
	if cfg.Storage.JournalPath != "" {
		journal, err := storage.NewSQLiteJournal(cfg.Storage.JournalPath, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.journal = journal
		observers = append(observers, journal)
		opts = append(opts, usecase.WithHistory(journal))
	}
	opts = append(opts, usecase.WithObservers(observers...))

	// 5. Services
	executor := usecase.NewCloseExecutor(a.adapter, usecase.CloseConfig{
		Attempts: cfg.Close.Attempts,
		Backoff:  cfg.Close.Backoff,
		Timeout:  cfg.Close.Timeout,
	}, log)
	a.controller = usecase.NewRunController(store, a.locker, feed, executor, log, opts...)
	a.setup = usecase.NewPositionSetup(store, a.locker, log)
	return a, nil
}

func (a *app) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("Failed to close journal", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
