package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/reflex/internal/config"
	"github.com/ShayCichocki/reflex/internal/cost"
	"github.com/ShayCichocki/reflex/internal/interrupt"
	"github.com/ShayCichocki/reflex/internal/pubsub"
	"github.com/ShayCichocki/reflex/internal/state"
)

// openStore opens the sqlite database named by cache.path.
func openStore(cfg *config.Config) (*state.DB, error) {
	path := cfg.Cache.Path
	if path == "" {
		path = state.DefaultPath()
	}
	db, err := state.OpenAndMigrate(path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return db, nil
}

func newCache(cfg *config.Config, db *state.DB, logger zerolog.Logger) *cost.Cache {
	return cost.NewCache(cfg.Cache.MemoryEntries,
		cost.WithTTL(cfg.Cache.TTL),
		cost.WithDurable(db),
		cost.WithCacheLogger(logger),
	)
}

// newGovernor builds a governor whose ledger is seeded with this week's
// persisted records, so limits hold across runs.
func newGovernor(cfg *config.Config, db *state.DB, logger zerolog.Logger, now time.Time) (*cost.Governor, error) {
	weekStart, _ := cost.WeekWindow(now)
	persisted, err := db.ListCallRecords(weekStart, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	return cost.NewGovernor(
		cost.WithDailyLimit(cfg.Budget.Daily),
		cost.WithWeeklyLimit(cfg.Budget.Weekly),
		cost.WithWarningThreshold(cfg.Budget.WarningThreshold),
		cost.WithEnforcement(cfg.Budget.Enforce),
		cost.WithCache(newCache(cfg, db, logger)),
		cost.WithLedger(cost.NewLedger(persisted...)),
		cost.WithLedgerSink(db),
		cost.WithLogger(logger),
	), nil
}

// signalSource is an opened interrupt source.
type signalSource struct {
	src   interrupt.Source
	queue *interrupt.QueueSource
	close func()
}

// openSource opens the configured interrupt source. A nil src means none.
func openSource(ctx context.Context, cfg *config.Config, kind string) (*signalSource, error) {
	switch kind {
	case config.SourceNone:
		return &signalSource{close: func() {}}, nil

	case config.SourceStdin:
		return &signalSource{src: interrupt.NewReaderSource(os.Stdin), close: func() {}}, nil

	case config.SourceFile:
		fs, err := interrupt.NewFileSource(cfg.Interrupts.SignalDir)
		if err != nil {
			return nil, err
		}
		return &signalSource{src: fs, close: func() { _ = fs.Close() }}, nil

	case config.SourceRedis:
		ps, err := pubsub.New(ctx, pubsub.Options{
			Addr:     cfg.Interrupts.Redis.Addr,
			Password: cfg.Interrupts.Redis.Password,
			DB:       cfg.Interrupts.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		rs := interrupt.NewRedisSource(ps, cfg.Interrupts.Redis.Channel)
		return &signalSource{src: rs, close: func() {
			_ = rs.Close()
			_ = ps.Close()
		}}, nil

	case config.SourceHTTP:
		q := interrupt.NewQueueSource(16)
		return &signalSource{src: q, queue: q, close: q.Close}, nil

	default:
		return nil, fmt.Errorf("unknown interrupt source %q", kind)
	}
}
