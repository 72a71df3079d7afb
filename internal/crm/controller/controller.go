// Package controller implements the record store of the customer manager.
// CustomerService owns the canonical, insertion-ordered list of live customers,
// enforces identity and email uniqueness, writes every mutation through to a
// Persister before returning, and announces changes to an EventProducer.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/gartstein/crm/internal/crm/events"
	"github.com/gartstein/crm/internal/crm/metrics"
	"github.com/gartstein/crm/internal/crm/models"
	"go.uber.org/zap"
)

// Persister loads and saves the full customer set.
type Persister interface {
	// Load never fails; unreadable storage degrades to an empty set.
	Load(ctx context.Context) []models.Customer
	Save(ctx context.Context, customers []models.Customer) error
}

// IDSequence is implemented by persisters that keep the id high-water mark
// across restarts, so ids of deleted customers are never handed out again.
type IDSequence interface {
	// LoadNextID returns 0 when no mark is stored.
	LoadNextID(ctx context.Context) int64
	SaveNextID(ctx context.Context, next int64) error
}

type EventProducer interface {
	Produce(eventType events.EventType, customers ...models.Customer)
}

// CustomerService is the record store. One mutex serializes every operation,
// including the write-through save, so concurrent callers observe the
// uniqueness and identity invariants.
type CustomerService struct {
	mu        sync.Mutex
	customers []models.Customer
	positions map[int64]int
	emails    map[string]int64
	nextID    int64
	// savedNextID is the mark last written to the IDSequence.
	savedNextID int64

	persister Persister
	producer  EventProducer
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*CustomerService)

// WithClock replaces the time source used for AddedAt and UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *CustomerService) {
		s.now = now
	}
}

func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewCustomerService loads the persisted snapshot and returns a store over it.
// Loaded records that break store invariants are dropped and logged.
func NewCustomerService(ctx context.Context, persister Persister, producer EventProducer, logger *zap.Logger, opts ...Option) *CustomerService {
	if producer == nil {
		producer = events.NopProducer{}
	}
	s := &CustomerService{
		persister: persister,
		producer:  producer,
		logger:    logger.Named("customer_service"),
		now:       defaultClock,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.install(s.recover(persister.Load(ctx)))
	s.nextID = maxID(s.customers) + 1
	if seq, ok := persister.(IDSequence); ok {
		s.savedNextID = seq.LoadNextID(ctx)
		if s.savedNextID > s.nextID {
			s.nextID = s.savedNextID
		}
	}
	return s
}

// recover keeps the loaded records that satisfy the store invariants, under
// the same rules as ImportCustomers.
func (s *CustomerService) recover(loaded []models.Customer) []models.Customer {
	now := sync.OnceValue(s.now)
	kept := make([]models.Customer, 0, len(loaded))
	ids := make(map[int64]struct{}, len(loaded))
	emails := make(map[string]struct{}, len(loaded))

	for i, c := range loaded {
		admitted, err := admit(c, now, ids, emails)
		if err != nil {
			s.logger.Warn("Dropping unrecoverable customer record",
				zap.Int("position", i),
				zap.Int64("customer_id", c.ID),
				zap.Error(err),
			)
			continue
		}
		if c.AddedAt.IsZero() {
			s.logger.Warn("Customer record missing added_at, using load time",
				zap.Int64("customer_id", c.ID),
			)
		}
		kept = append(kept, admitted)
	}

	if dropped := len(loaded) - len(kept); dropped > 0 {
		s.logger.Warn("Snapshot partially recovered",
			zap.Int("kept", len(kept)),
			zap.Int("dropped", dropped),
		)
	}
	return kept
}

// admit normalizes a stored record and checks it against the records already
// accepted into ids and emails, which it extends on success. A zero AddedAt
// becomes now().
func admit(c models.Customer, now func() time.Time, ids map[int64]struct{}, emails map[string]struct{}) (models.Customer, error) {
	c = c.Normalize()
	if c.ID <= 0 {
		return models.Customer{}, fmt.Errorf("%w: id must be positive", e.ErrInvalidInput)
	}
	if _, dup := ids[c.ID]; dup {
		return models.Customer{}, fmt.Errorf("%w: duplicate id %d", e.ErrInvalidInput, c.ID)
	}
	if err := c.Validate(); err != nil {
		return models.Customer{}, err
	}
	if _, dup := emails[c.Email]; dup {
		return models.Customer{}, fmt.Errorf("%w: %s", e.ErrDuplicateEmail, c.Email)
	}
	if c.AddedAt.IsZero() {
		c.AddedAt = now()
	}
	if c.UpdatedAt != nil && c.UpdatedAt.Before(c.AddedAt) {
		return models.Customer{}, fmt.Errorf("%w: updated_at before added_at", e.ErrInvalidInput)
	}
	ids[c.ID] = struct{}{}
	emails[c.Email] = struct{}{}
	return c.Clone(), nil
}

// install replaces the live set and rebuilds the lookup indexes.
func (s *CustomerService) install(customers []models.Customer) {
	s.customers = customers
	s.positions = make(map[int64]int, len(customers))
	s.emails = make(map[string]int64, len(customers))
	for i, c := range customers {
		s.positions[c.ID] = i
		s.emails[c.Email] = c.ID
	}
	metrics.LiveRecords.Set(float64(len(customers)))
}

// commit persists next and, only when that succeeds, makes it the live set.
func (s *CustomerService) commit(ctx context.Context, next []models.Customer) error {
	if err := s.saveNextID(ctx); err != nil {
		return err
	}
	if err := s.persister.Save(ctx, next); err != nil {
		if !errors.Is(err, e.ErrPersistence) {
			err = fmt.Errorf("%w: %w", e.ErrPersistence, err)
		}
		return err
	}
	s.install(next)
	return nil
}

// saveNextID writes the id high-water mark ahead of the snapshot when it has
// moved. A mark ahead of the snapshot only burns ids.
func (s *CustomerService) saveNextID(ctx context.Context) error {
	seq, ok := s.persister.(IDSequence)
	if !ok || s.nextID <= s.savedNextID {
		return nil
	}
	if err := seq.SaveNextID(ctx, s.nextID); err != nil {
		if !errors.Is(err, e.ErrPersistence) {
			err = fmt.Errorf("%w: %w", e.ErrPersistence, err)
		}
		return err
	}
	s.savedNextID = s.nextID
	return nil
}

// snapshotLocked copies the live set. Callers hold s.mu.
func (s *CustomerService) snapshotLocked(extra int) []models.Customer {
	out := make([]models.Customer, 0, len(s.customers)+extra)
	for _, c := range s.customers {
		out = append(out, c.Clone())
	}
	return out
}

// CreateCustomer validates input, assigns the next id and AddedAt, and
// appends the customer to the live set.
func (s *CustomerService) CreateCustomer(ctx context.Context, in models.NewCustomer) (created models.Customer, err error) {
	defer func() { metrics.ObserveMutation("create", err) }()

	c := models.Customer{
		Name:     in.Name,
		Email:    in.Email,
		Phone:    in.Phone,
		Company:  in.Company,
		Industry: in.Industry,
		Status:   in.Status,
	}.Normalize()
	if err := c.Validate(); err != nil {
		return models.Customer{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.emails[c.Email]; taken {
		return models.Customer{}, fmt.Errorf("%w: %s", e.ErrDuplicateEmail, c.Email)
	}

	// The id is consumed even if the save below fails; ids are never reused.
	c.ID = s.nextID
	s.nextID++
	c.AddedAt = s.now()

	next := append(s.snapshotLocked(1), c)
	if err := s.commit(ctx, next); err != nil {
		return models.Customer{}, fmt.Errorf("failed to create customer: %w", err)
	}

	s.logger.Info("Customer created", zap.Int64("customer_id", c.ID))
	s.producer.Produce(events.CustomerCreated, c.Clone())
	return c.Clone(), nil
}

// GetCustomer retrieves a Customer by ID.
func (s *CustomerService) GetCustomer(_ context.Context, id int64) (models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return models.Customer{}, fmt.Errorf("%w: customer %d", e.ErrNotFound, id)
	}
	return s.customers[pos].Clone(), nil
}

// ListCustomers returns a copy of the live set in insertion order.
func (s *CustomerService) ListCustomers(_ context.Context) []models.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked(0)
}

// UpdateCustomer changes only the supplied fields. ID and AddedAt never
// change; UpdatedAt is refreshed.
func (s *CustomerService) UpdateCustomer(ctx context.Context, update models.CustomerUpdate) (updated models.Customer, err error) {
	defer func() { metrics.ObserveMutation("update", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[update.ID]
	if !ok {
		return models.Customer{}, fmt.Errorf("%w: customer %d", e.ErrNotFound, update.ID)
	}
	current := s.customers[pos]

	updated = update.Apply(current)
	if err := updated.Validate(); err != nil {
		return models.Customer{}, err
	}
	if owner, taken := s.emails[updated.Email]; taken && owner != current.ID {
		return models.Customer{}, fmt.Errorf("%w: %s", e.ErrDuplicateEmail, updated.Email)
	}

	ts := s.now()
	if ts.Before(updated.AddedAt) {
		ts = updated.AddedAt
	}
	updated.UpdatedAt = &ts

	next := s.snapshotLocked(0)
	next[pos] = updated
	if err := s.commit(ctx, next); err != nil {
		return models.Customer{}, fmt.Errorf("failed to update customer: %w", err)
	}

	s.logger.Info("Customer updated", zap.Int64("customer_id", updated.ID))
	s.producer.Produce(events.CustomerUpdated, updated.Clone())
	return updated.Clone(), nil
}

// DeleteCustomer removes a Customer by ID and returns the removed record.
func (s *CustomerService) DeleteCustomer(ctx context.Context, id int64) (removed models.Customer, err error) {
	defer func() { metrics.ObserveMutation("delete", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return models.Customer{}, fmt.Errorf("%w: customer %d", e.ErrNotFound, id)
	}
	removed = s.customers[pos].Clone()

	next := make([]models.Customer, 0, len(s.customers)-1)
	for i, c := range s.customers {
		if i != pos {
			next = append(next, c.Clone())
		}
	}
	if err := s.commit(ctx, next); err != nil {
		return models.Customer{}, fmt.Errorf("failed to delete customer: %w", err)
	}

	s.logger.Info("Customer deleted", zap.Int64("customer_id", id))
	s.producer.Produce(events.CustomerDeleted, removed)
	return removed.Clone(), nil
}

// DeleteCustomers removes every listed customer or none of them. Repeated
// ids count once. The removed records are returned in store order.
func (s *CustomerService) DeleteCustomers(ctx context.Context, ids []int64) (removed []models.Customer, err error) {
	defer func() { metrics.ObserveMutation("delete_many", err) }()

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no customer ids given", e.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.positions[id]; !ok {
			return nil, fmt.Errorf("%w: customer %d", e.ErrNotFound, id)
		}
		doomed[id] = struct{}{}
	}

	next := make([]models.Customer, 0, len(s.customers)-len(doomed))
	removed = make([]models.Customer, 0, len(doomed))
	for _, c := range s.customers {
		if _, ok := doomed[c.ID]; ok {
			removed = append(removed, c.Clone())
			continue
		}
		next = append(next, c.Clone())
	}
	if err := s.commit(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to delete customers: %w", err)
	}

	s.logger.Info("Customers deleted", zap.Int("count", len(removed)))
	s.producer.Produce(events.CustomerDeleted, cloneAll(removed)...)
	return removed, nil
}

// ImportCustomers replaces the whole live set with customers, typically a
// decoded JSON export. Either every record is accepted or nothing changes.
// Records without AddedAt receive the import time.
func (s *CustomerService) ImportCustomers(ctx context.Context, customers []models.Customer) (err error) {
	defer func() { metrics.ObserveMutation("import", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := make([]models.Customer, 0, len(customers))
	ids := make(map[int64]struct{}, len(customers))
	emails := make(map[string]struct{}, len(customers))

	for i, c := range customers {
		admitted, err := admit(c, func() time.Time { return now }, ids, emails)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		next = append(next, admitted)
	}

	// Raised before the commit so the mark is persisted with it. A failed
	// import only burns ids.
	if top := maxID(next) + 1; top > s.nextID {
		s.nextID = top
	}
	if err := s.commit(ctx, next); err != nil {
		return fmt.Errorf("failed to import customers: %w", err)
	}

	s.logger.Info("Customers imported", zap.Int("count", len(next)))
	s.producer.Produce(events.CustomersImported, cloneAll(next)...)
	return nil
}

func maxID(customers []models.Customer) int64 {
	var top int64
	for _, c := range customers {
		if c.ID > top {
			top = c.ID
		}
	}
	return top
}

func cloneAll(customers []models.Customer) []models.Customer {
	out := make([]models.Customer, len(customers))
	for i, c := range customers {
		out[i] = c.Clone()
	}
	return out
}
