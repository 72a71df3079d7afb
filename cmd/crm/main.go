package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gartstein/crm/internal/crm/analytics"
	"github.com/gartstein/crm/internal/crm/config"
	"github.com/gartstein/crm/internal/crm/controller"
	"github.com/gartstein/crm/internal/crm/db"
	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/gartstein/crm/internal/crm/events"
	"github.com/gartstein/crm/internal/crm/segments"
	"github.com/gartstein/crm/internal/crm/snapshot"
	"go.uber.org/zap"
)

const (
	exitOK      = 0
	exitError   = 1
	exitInvalid = 2

	dbRetries = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(nil)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, e.ErrInvalidInput) || errors.Is(err, e.ErrNotFound) || errors.Is(err, e.ErrDuplicateEmail) {
			return exitInvalid
		}
		return exitError
	}
	return exitOK
}

// initLogger builds a production logger, or a development one at debug level.
func initLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL %q", e.ErrInvalidInput, level)
	}
	return cfg.Build()
}

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	service    *controller.CustomerService
	engine     *segments.Engine
	aggregator *analytics.Aggregator
	loc        *time.Location
	closers    []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	persister, err := a.initPersister(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	var producer controller.EventProducer = events.NopProducer{}
	if len(cfg.KafkaBrokers) > 0 {
		p, err := events.NewProducer(cfg.KafkaBrokers, logger, cfg.Topic)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize Kafka producer: %w", err)
		}
		producer = p
		a.closers = append(a.closers, p.Close)
	}

	a.service = controller.NewCustomerService(ctx, persister, producer, logger)

	segCfg, err := cfg.Segments()
	if err != nil {
		a.close()
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine, err = segments.NewEngine(segments.BuiltIn(segCfg))
	if err != nil {
		a.close()
		return nil, err
	}
	vip, _ := a.engine.Matcher(segments.VIP)
	a.aggregator = analytics.NewAggregator(vip, analytics.WithLocation(loc))
	a.loc = loc
	return a, nil
}

// initPersister picks the snapshot backend named by BACKEND.
func (a *app) initPersister(ctx context.Context) (controller.Persister, error) {
	switch a.cfg.Backend {
	case config.BackendSQLite, config.BackendPostgres:
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = 30 * time.Second
		store, err := db.NewStoreWithRetry(ctx, a.cfg.Database(), a.logger, backoff.WithMaxRetries(eb, dbRetries))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Error("Failed to close database", zap.Error(err))
			}
		})
		return store, nil
	default:
		return snapshot.NewFileStore(a.cfg.DataFile, a.logger), nil
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
