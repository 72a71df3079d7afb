// Package db is a relational snapshot backend for the customer store. It
// keeps the same replace-everything semantics as the JSON file: every Save
// rewrites the customers table inside one transaction.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	dbmodels "github.com/gartstein/crm/internal/crm/db/models"
	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/gartstein/crm/internal/crm/metrics"
	"github.com/gartstein/crm/internal/crm/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	saveBatchSize = 200

	customerSequence = "customers"
)

type Config struct {
	Driver   string
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// dialector picks the gorm driver. For postgres an explicit DSN wins over the
// discrete connection fields.
func (c *Config) dialector() (gorm.Dialector, error) {
	switch c.Driver {
	case DriverSQLite:
		if c.DSN == "" {
			return nil, fmt.Errorf("%w: sqlite requires a DSN", e.ErrInvalidInput)
		}
		return sqlite.Open(c.DSN), nil
	case DriverPostgres:
		dsn := c.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
				c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
		}
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", e.ErrInvalidInput, c.Driver)
	}
}

type Store struct {
	db     *gorm.DB
	driver string
	logger *zap.Logger
}

func NewStore(cfg *Config, log *zap.Logger) (*Store, error) {
	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&dbmodels.Customer{}, &dbmodels.Sequence{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, driver: cfg.Driver, logger: log.Named("gorm_store")}, nil
}

// NewStoreWithRetry keeps trying NewStore until it succeeds, b gives up, or
// ctx is done. Invalid configuration is not retried.
func NewStoreWithRetry(ctx context.Context, cfg *Config, log *zap.Logger, b backoff.BackOff) (*Store, error) {
	var store *Store
	op := func() error {
		s, err := NewStore(cfg, log)
		if err != nil {
			if errors.Is(err, e.ErrInvalidInput) {
				return backoff.Permanent(err)
			}
			log.Warn("Database not ready, retrying", zap.String("driver", cfg.Driver), zap.Error(err))
			return err
		}
		store = s
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return store, nil
}

// Load returns all stored customers in insertion order. Query failures are
// logged as degradation and yield an empty set.
func (s *Store) Load(ctx context.Context) []models.Customer {
	var rows []dbmodels.Customer
	if err := s.db.WithContext(ctx).Order("position ASC").Find(&rows).Error; err != nil {
		metrics.LoadDegraded.WithLabelValues(s.driver).Inc()
		s.logger.Error("Customer table unreadable, starting empty",
			zap.String("driver", s.driver),
			zap.Error(fmt.Errorf("%w: %w", e.ErrPersistenceDegraded, err)),
		)
		return []models.Customer{}
	}

	if len(rows) == 0 {
		s.logger.Info("Customer table empty, starting empty", zap.String("driver", s.driver))
		return []models.Customer{}
	}

	customers := make([]models.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, row.ToDomain())
	}
	return customers
}

// Save replaces the stored set with customers in one transaction.
func (s *Store) Save(ctx context.Context, customers []models.Customer) error {
	err := s.WithTransaction(ctx, func(tx *Store) error {
		if err := tx.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&dbmodels.Customer{}).Error; err != nil {
			return fmt.Errorf("clear customers: %w", err)
		}
		if len(customers) == 0 {
			return nil
		}
		rows := make([]dbmodels.Customer, 0, len(customers))
		for i, c := range customers {
			rows = append(rows, dbmodels.FromDomain(c, i))
		}
		if err := tx.db.WithContext(ctx).CreateInBatches(rows, saveBatchSize).Error; err != nil {
			return fmt.Errorf("insert customers: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues(s.driver, "transaction").Inc()
		s.logger.Error("Failed to save customers", zap.Int("records", len(customers)), zap.Error(err))
		return fmt.Errorf("%w: %w", e.ErrPersistence, err)
	}
	return nil
}

// LoadNextID returns the stored id high-water mark, or 0 when none is stored
// or it cannot be read.
func (s *Store) LoadNextID(ctx context.Context) int64 {
	var row dbmodels.Sequence
	err := s.db.WithContext(ctx).Where("name = ?", customerSequence).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0
	}
	if err != nil {
		s.logger.Warn("Id high-water mark unreadable, deriving it from the table",
			zap.String("driver", s.driver),
			zap.Error(err),
		)
		return 0
	}
	return row.Next
}

// SaveNextID upserts the id high-water mark.
func (s *Store) SaveNextID(ctx context.Context, next int64) error {
	row := dbmodels.Sequence{Name: customerSequence, Next: next}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"next"}),
	}).Create(&row).Error
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues(s.driver, "next_id").Inc()
		s.logger.Error("Failed to save id high-water mark", zap.Int64("next_id", next), zap.Error(err))
		return fmt.Errorf("%w: %w", e.ErrPersistence, err)
	}
	return nil
}

func (s *Store) WithTransaction(ctx context.Context, fn func(store *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, driver: s.driver, logger: s.logger})
	})
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
