package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/gartstein/crm/internal/crm/events"
	"github.com/gartstein/crm/internal/crm/models"
	"github.com/gartstein/crm/internal/crm/snapshot"
	"github.com/gartstein/crm/internal/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// MockPersister implements the Persister interface for testing
type MockPersister struct {
	mu      sync.Mutex
	loaded  []models.Customer
	saved   [][]models.Customer
	saveErr error
}

func (m *MockPersister) Load(_ context.Context) []models.Customer {
	return m.loaded
}

func (m *MockPersister) Save(_ context.Context, customers []models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, customers)
	return nil
}

func (m *MockPersister) saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

// MockProducer records produced events.
type MockProducer struct {
	mu     sync.Mutex
	events []events.EventType
	counts []int
}

func (m *MockProducer) Produce(eventType events.EventType, customers ...models.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
	m.counts = append(m.counts, len(customers))
}

// stepClock returns a clock that advances one hour per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(time.Hour)
		return now
	}
}

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, p *MockPersister, prod *MockProducer) *CustomerService {
	return NewCustomerService(context.Background(), p, prod, zaptest.NewLogger(t), WithClock(stepClock(epoch)))
}

func input(name, email string) models.NewCustomer {
	return models.NewCustomer{Name: name, Email: email, Phone: "555-0100", Company: "Acme"}
}

func TestCustomerService_CreateCustomer(t *testing.T) {
	tests := []struct {
		name          string
		input         models.NewCustomer
		expectedError error
	}{
		{
			name:  "successful creation",
			input: models.NewCustomer{Name: "Ada", Email: "ada@example.com", Industry: models.Technology},
		},
		{
			name:          "missing name",
			input:         models.NewCustomer{Email: "ada@example.com"},
			expectedError: e.ErrInvalidInput,
		},
		{
			name:          "blank email",
			input:         models.NewCustomer{Name: "Ada", Email: "   "},
			expectedError: e.ErrInvalidInput,
		},
		{
			name:          "malformed email",
			input:         models.NewCustomer{Name: "Ada", Email: "ada-at-example"},
			expectedError: e.ErrInvalidInput,
		},
		{
			name:          "unknown industry",
			input:         models.NewCustomer{Name: "Ada", Email: "ada@example.com", Industry: "Mining"},
			expectedError: e.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persister := &MockPersister{}
			producer := &MockProducer{}
			service := newTestService(t, persister, producer)

			created, err := service.CreateCustomer(context.Background(), tt.input)

			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)
				assert.Empty(t, service.ListCustomers(context.Background()))
				assert.Equal(t, 0, persister.saves())
				assert.Empty(t, producer.events)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(1), created.ID)
			assert.Equal(t, epoch, created.AddedAt)
			assert.Nil(t, created.UpdatedAt)
			assert.Equal(t, models.StatusActive, created.Status)
			assert.Equal(t, 1, persister.saves())
			assert.Equal(t, []events.EventType{events.CustomerCreated}, producer.events)

			got, err := service.GetCustomer(context.Background(), created.ID)
			require.NoError(t, err)
			assert.Equal(t, created, got)
		})
	}
}

func TestCustomerService_DuplicateEmailScenario(t *testing.T) {
	service := newTestService(t, &MockPersister{}, &MockProducer{})
	ctx := context.Background()

	_, err := service.CreateCustomer(ctx, input("A", "a@x.com"))
	require.NoError(t, err)
	_, err = service.CreateCustomer(ctx, input("B", "b@x.com"))
	require.NoError(t, err)

	_, err = service.CreateCustomer(ctx, input("C", "a@x.com"))
	assert.ErrorIs(t, err, e.ErrDuplicateEmail)
	assert.Len(t, service.ListCustomers(ctx), 2)

	// Uniqueness is an exact match.
	_, err = service.CreateCustomer(ctx, input("D", "A@x.com"))
	assert.NoError(t, err)
}

func TestCustomerService_IDsAreMonotonic(t *testing.T) {
	service := newTestService(t, &MockPersister{}, &MockProducer{})
	ctx := context.Background()

	a, err := service.CreateCustomer(ctx, input("A", "a@x.com"))
	require.NoError(t, err)
	b, err := service.CreateCustomer(ctx, input("B", "b@x.com"))
	require.NoError(t, err)
	_, err = service.DeleteCustomer(ctx, b.ID)
	require.NoError(t, err)
	c, err := service.CreateCustomer(ctx, input("C", "c@x.com"))
	require.NoError(t, err)

	assert.Less(t, a.ID, b.ID)
	assert.Less(t, b.ID, c.ID, "deleted ids must not be reused")
}

func TestCustomerService_GetCustomer(t *testing.T) {
	service := newTestService(t, &MockPersister{}, &MockProducer{})

	_, err := service.GetCustomer(context.Background(), 404)
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestCustomerService_UpdateCustomer(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		update        func(id int64) models.CustomerUpdate
		expectedError error
		check         func(t *testing.T, before, after models.Customer)
	}{
		{
			name: "partial update keeps other fields",
			update: func(id int64) models.CustomerUpdate {
				return models.CustomerUpdate{ID: id, Company: utils.Ptr("Initech"), Industry: utils.Ptr(models.Finance)}
			},
			check: func(t *testing.T, before, after models.Customer) {
				assert.Equal(t, "Initech", after.Company)
				assert.Equal(t, models.Finance, after.Industry)
				assert.Equal(t, before.Name, after.Name)
				assert.Equal(t, before.Email, after.Email)
				assert.Equal(t, before.Phone, after.Phone)
			},
		},
		{
			name: "email may stay the same",
			update: func(id int64) models.CustomerUpdate {
				return models.CustomerUpdate{ID: id, Email: utils.Ptr("first@x.com")}
			},
		},
		{
			name: "status change",
			update: func(id int64) models.CustomerUpdate {
				return models.CustomerUpdate{ID: id, Status: utils.Ptr(models.StatusInactive)}
			},
			check: func(t *testing.T, _, after models.Customer) {
				assert.Equal(t, models.StatusInactive, after.Status)
			},
		},
		{
			name: "unknown id",
			update: func(int64) models.CustomerUpdate {
				return models.CustomerUpdate{ID: 999, Name: utils.Ptr("Nobody")}
			},
			expectedError: e.ErrNotFound,
		},
		{
			name: "blank name",
			update: func(id int64) models.CustomerUpdate {
				return models.CustomerUpdate{ID: id, Name: utils.Ptr(" ")}
			},
			expectedError: e.ErrInvalidInput,
		},
		{
			name: "email taken by another record",
			update: func(id int64) models.CustomerUpdate {
				return models.CustomerUpdate{ID: id, Email: utils.Ptr("second@x.com")}
			},
			expectedError: e.ErrDuplicateEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persister := &MockPersister{}
			producer := &MockProducer{}
			service := newTestService(t, persister, producer)

			first, err := service.CreateCustomer(ctx, input("First", "first@x.com"))
			require.NoError(t, err)
			_, err = service.CreateCustomer(ctx, input("Second", "second@x.com"))
			require.NoError(t, err)
			savesBefore := persister.saves()

			updated, err := service.UpdateCustomer(ctx, tt.update(first.ID))

			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)
				got, getErr := service.GetCustomer(ctx, first.ID)
				require.NoError(t, getErr)
				assert.Equal(t, first, got, "failed update must not change the record")
				assert.Equal(t, savesBefore, persister.saves())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, first.ID, updated.ID)
			assert.Equal(t, first.AddedAt, updated.AddedAt)
			require.NotNil(t, updated.UpdatedAt)
			assert.False(t, updated.UpdatedAt.Before(updated.AddedAt))
			assert.Equal(t, events.CustomerUpdated, producer.events[len(producer.events)-1])
			if tt.check != nil {
				tt.check(t, first, updated)
			}

			got, err := service.GetCustomer(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, updated, got)
		})
	}
}

func TestCustomerService_UpdateNeverMovesAddedAtBackwards(t *testing.T) {
	// A clock running backwards must not produce updated_at < added_at.
	times := []time.Time{epoch, epoch.Add(-time.Hour)}
	i := 0
	clock := func() time.Time {
		now := times[i]
		i++
		return now
	}
	service := NewCustomerService(context.Background(), &MockPersister{}, nil, zaptest.NewLogger(t), WithClock(clock))

	c, err := service.CreateCustomer(context.Background(), input("A", "a@x.com"))
	require.NoError(t, err)
	updated, err := service.UpdateCustomer(context.Background(), models.CustomerUpdate{ID: c.ID, Phone: utils.Ptr("1")})
	require.NoError(t, err)
	assert.Equal(t, c.AddedAt, *updated.UpdatedAt)
}

func TestCustomerService_DeleteCustomer(t *testing.T) {
	ctx := context.Background()
	producer := &MockProducer{}
	service := newTestService(t, &MockPersister{}, producer)

	a, _ := service.CreateCustomer(ctx, input("A", "a@x.com"))
	b, _ := service.CreateCustomer(ctx, input("B", "b@x.com"))
	c, _ := service.CreateCustomer(ctx, input("C", "c@x.com"))

	removed, err := service.DeleteCustomer(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, removed)
	assert.Equal(t, events.CustomerDeleted, producer.events[len(producer.events)-1])

	assert.Equal(t, []models.Customer{a, c}, service.ListCustomers(ctx))

	_, err = service.GetCustomer(ctx, b.ID)
	assert.ErrorIs(t, err, e.ErrNotFound)

	_, err = service.DeleteCustomer(ctx, b.ID)
	assert.ErrorIs(t, err, e.ErrNotFound, "second delete of the same id must fail")

	// Position-independent lookup still works after the shift.
	got, err := service.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCustomerService_IdenticalFieldsStayDistinct(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, &MockPersister{}, &MockProducer{})

	a, _ := service.CreateCustomer(ctx, models.NewCustomer{Name: "Same", Email: "one@x.com", Company: "Same"})
	b, _ := service.CreateCustomer(ctx, models.NewCustomer{Name: "Same", Email: "two@x.com", Company: "Same"})

	_, err := service.UpdateCustomer(ctx, models.CustomerUpdate{ID: b.ID, Phone: utils.Ptr("999")})
	require.NoError(t, err)

	gotA, err := service.GetCustomer(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "", gotA.Phone)
}

func TestCustomerService_DeleteCustomers(t *testing.T) {
	ctx := context.Background()

	t.Run("all or nothing", func(t *testing.T) {
		persister := &MockPersister{}
		service := newTestService(t, persister, &MockProducer{})
		a, _ := service.CreateCustomer(ctx, input("A", "a@x.com"))
		_, _ = service.CreateCustomer(ctx, input("B", "b@x.com"))
		saves := persister.saves()

		_, err := service.DeleteCustomers(ctx, []int64{a.ID, 404})
		assert.ErrorIs(t, err, e.ErrNotFound)
		assert.Len(t, service.ListCustomers(ctx), 2)
		assert.Equal(t, saves, persister.saves())
	})

	t.Run("removes in store order with one save", func(t *testing.T) {
		persister := &MockPersister{}
		producer := &MockProducer{}
		service := newTestService(t, persister, producer)
		a, _ := service.CreateCustomer(ctx, input("A", "a@x.com"))
		b, _ := service.CreateCustomer(ctx, input("B", "b@x.com"))
		c, _ := service.CreateCustomer(ctx, input("C", "c@x.com"))
		saves := persister.saves()

		removed, err := service.DeleteCustomers(ctx, []int64{c.ID, a.ID, c.ID})
		require.NoError(t, err)
		assert.Equal(t, []models.Customer{a, c}, removed)
		assert.Equal(t, []models.Customer{b}, service.ListCustomers(ctx))
		assert.Equal(t, saves+1, persister.saves())
		assert.Equal(t, 2, producer.counts[len(producer.counts)-1])
	})

	t.Run("empty request", func(t *testing.T) {
		service := newTestService(t, &MockPersister{}, &MockProducer{})
		_, err := service.DeleteCustomers(ctx, nil)
		assert.ErrorIs(t, err, e.ErrInvalidInput)
	})
}

func TestCustomerService_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	persister := &MockPersister{}
	producer := &MockProducer{}
	service := newTestService(t, persister, producer)

	a, err := service.CreateCustomer(ctx, input("A", "a@x.com"))
	require.NoError(t, err)

	persister.saveErr = errors.New("disk full")

	_, err = service.CreateCustomer(ctx, input("B", "b@x.com"))
	assert.ErrorIs(t, err, e.ErrPersistence)
	assert.NotErrorIs(t, err, e.ErrInvalidInput)

	_, err = service.UpdateCustomer(ctx, models.CustomerUpdate{ID: a.ID, Name: utils.Ptr("Changed")})
	assert.ErrorIs(t, err, e.ErrPersistence)

	_, err = service.DeleteCustomer(ctx, a.ID)
	assert.ErrorIs(t, err, e.ErrPersistence)

	assert.Equal(t, []models.Customer{a}, service.ListCustomers(ctx), "failed mutations must not change the live set")
	assert.Equal(t, []events.EventType{events.CustomerCreated}, producer.events)

	persister.saveErr = nil
	c, err := service.CreateCustomer(ctx, input("B", "b@x.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.ID, "the id consumed by the failed create is not reused")
}

func TestCustomerService_ListIsDefensiveCopy(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, &MockPersister{}, &MockProducer{})
	c, _ := service.CreateCustomer(ctx, input("A", "a@x.com"))
	_, _ = service.UpdateCustomer(ctx, models.CustomerUpdate{ID: c.ID, Phone: utils.Ptr("1")})

	list := service.ListCustomers(ctx)
	list[0].Name = "Mallory"
	*list[0].UpdatedAt = time.Time{}

	got, err := service.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCustomerService_ImportCustomers(t *testing.T) {
	ctx := context.Background()
	later := epoch.Add(time.Hour)
	valid := []models.Customer{
		{ID: 10, Name: "Ten", Email: "ten@x.com", Status: models.StatusActive, AddedAt: epoch},
		{ID: 4, Name: "Four", Email: "four@x.com", AddedAt: epoch, UpdatedAt: &later},
		{ID: 7, Name: "Seven", Email: "seven@x.com"},
	}

	tests := []struct {
		name          string
		records       func() []models.Customer
		expectedError error
	}{
		{name: "valid", records: func() []models.Customer { return valid }},
		{name: "empty set", records: func() []models.Customer { return nil }},
		{
			name: "duplicate id",
			records: func() []models.Customer {
				r := append([]models.Customer{}, valid...)
				r[1].ID = 10
				return r
			},
			expectedError: e.ErrInvalidInput,
		},
		{
			name: "zero id",
			records: func() []models.Customer {
				r := append([]models.Customer{}, valid...)
				r[0].ID = 0
				return r
			},
			expectedError: e.ErrInvalidInput,
		},
		{
			name: "duplicate email",
			records: func() []models.Customer {
				r := append([]models.Customer{}, valid...)
				r[2].Email = "ten@x.com"
				return r
			},
			expectedError: e.ErrDuplicateEmail,
		},
		{
			name: "missing name",
			records: func() []models.Customer {
				r := append([]models.Customer{}, valid...)
				r[2].Name = ""
				return r
			},
			expectedError: e.ErrInvalidInput,
		},
		{
			name: "updated before added",
			records: func() []models.Customer {
				before := epoch.Add(-time.Hour)
				r := append([]models.Customer{}, valid...)
				r[0].UpdatedAt = &before
				return r
			},
			expectedError: e.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := &MockProducer{}
			service := newTestService(t, &MockPersister{}, producer)
			existing, err := service.CreateCustomer(ctx, input("Old", "old@x.com"))
			require.NoError(t, err)

			err = service.ImportCustomers(ctx, tt.records())

			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)
				assert.Equal(t, []models.Customer{existing}, service.ListCustomers(ctx))
				return
			}
			require.NoError(t, err)

			got := service.ListCustomers(ctx)
			require.Len(t, got, len(tt.records()))
			for i, c := range got {
				assert.Equal(t, tt.records()[i].ID, c.ID, "import keeps the given order and ids")
				assert.Equal(t, models.StatusActive, c.Status)
				assert.False(t, c.AddedAt.IsZero())
			}
			assert.Equal(t, events.CustomersImported, producer.events[len(producer.events)-1])

			next, err := service.CreateCustomer(ctx, input("Next", "next@x.com"))
			require.NoError(t, err)
			if len(got) > 0 {
				assert.Equal(t, int64(11), next.ID)
			} else {
				assert.Equal(t, int64(2), next.ID, "import never lowers the id counter")
			}
		})
	}
}

func TestNewCustomerService_RecoversPartialSnapshot(t *testing.T) {
	core, recorded := observer.New(zap.WarnLevel)
	persister := &MockPersister{loaded: []models.Customer{
		{ID: 1, Name: "Ok", Email: "ok@x.com", AddedAt: epoch},
		{ID: 1, Name: "Dup id", Email: "dupid@x.com", AddedAt: epoch},
		{ID: 2, Name: "Dup email", Email: "ok@x.com", AddedAt: epoch},
		{ID: 3, Name: "", Email: "noname@x.com", AddedAt: epoch},
		{ID: 8, Name: "Also ok", Email: "also@x.com", Industry: models.Education, AddedAt: epoch},
	}}

	service := NewCustomerService(context.Background(), persister, nil, zap.New(core))

	got := service.ListCustomers(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(8), got[1].ID)
	assert.Equal(t, models.StatusActive, got[0].Status, "missing status defaults to active")
	assert.Equal(t, 3, recorded.FilterMessage("Dropping unrecoverable customer record").Len())
	assert.Equal(t, 1, recorded.FilterMessage("Snapshot partially recovered").Len())

	next, err := service.CreateCustomer(context.Background(), input("New", "new@x.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), next.ID)
}

func TestCustomerService_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	service := NewCustomerService(ctx, &MockPersister{}, nil, zaptest.NewLogger(t))

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := service.CreateCustomer(ctx, input(fmt.Sprintf("U%d", i), fmt.Sprintf("u%d@x.com", i)))
			errs <- err
		}(i)
		go func() {
			defer wg.Done()
			_, err := service.CreateCustomer(ctx, input("Shared", "shared@x.com"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	dupes := 0
	for err := range errs {
		if errors.Is(err, e.ErrDuplicateEmail) {
			dupes++
			continue
		}
		require.NoError(t, err)
	}
	assert.Equal(t, workers-1, dupes, "exactly one shared-email create wins")

	list := service.ListCustomers(ctx)
	assert.Len(t, list, workers+1)
	seen := make(map[int64]bool)
	for _, c := range list {
		assert.False(t, seen[c.ID], "ids must be unique")
		seen[c.ID] = true
	}
}

// TestCustomerService_FileSnapshotRoundTrip exercises write-through against the JSON file store.
func TestCustomerService_FileSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "customers.json")
	logger := zaptest.NewLogger(t)

	first := NewCustomerService(ctx, snapshot.NewFileStore(path, logger), nil, logger)
	_, err := first.CreateCustomer(ctx, input("A", "a@x.com"))
	require.NoError(t, err)
	b, err := first.CreateCustomer(ctx, models.NewCustomer{Name: "B", Email: "b@x.com", Company: "Quote \"Co\", Inc", Industry: models.Other})
	require.NoError(t, err)
	_, err = first.UpdateCustomer(ctx, models.CustomerUpdate{ID: b.ID, Status: utils.Ptr(models.StatusInactive)})
	require.NoError(t, err)
	c, err := first.CreateCustomer(ctx, input("C", "c@x.com"))
	require.NoError(t, err)
	_, err = first.DeleteCustomer(ctx, c.ID)
	require.NoError(t, err)

	second := NewCustomerService(ctx, snapshot.NewFileStore(path, logger), nil, logger)
	assert.Equal(t, first.ListCustomers(ctx), second.ListCustomers(ctx))
}

// MockSequencePersister adds an id high-water mark to MockPersister.
type MockSequencePersister struct {
	MockPersister
	next       int64
	nextErr    error
	savedMarks []int64
}

func (m *MockSequencePersister) LoadNextID(_ context.Context) int64 {
	return m.next
}

func (m *MockSequencePersister) SaveNextID(_ context.Context, next int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextErr != nil {
		return m.nextErr
	}
	m.next = next
	m.savedMarks = append(m.savedMarks, next)
	return nil
}

func TestCustomerService_IDsNotReusedAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "customers.json")
	logger := zaptest.NewLogger(t)

	first := NewCustomerService(ctx, snapshot.NewFileStore(path, logger), nil, logger)
	_, err := first.CreateCustomer(ctx, input("A", "a@x.com"))
	require.NoError(t, err)
	b, err := first.CreateCustomer(ctx, input("B", "b@x.com"))
	require.NoError(t, err)
	_, err = first.DeleteCustomer(ctx, b.ID)
	require.NoError(t, err)

	second := NewCustomerService(ctx, snapshot.NewFileStore(path, logger), nil, logger)
	c, err := second.CreateCustomer(ctx, input("C", "c@x.com"))
	require.NoError(t, err)
	assert.NotEqual(t, b.ID, c.ID, "deleted id handed out again")
	assert.Equal(t, int64(3), c.ID)

	// Deleting everything does not reset the counter either.
	_, err = second.DeleteCustomers(ctx, []int64{1, c.ID})
	require.NoError(t, err)
	third := NewCustomerService(ctx, snapshot.NewFileStore(path, logger), nil, logger)
	d, err := third.CreateCustomer(ctx, input("D", "d@x.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), d.ID)
}

func TestCustomerService_IDSequence(t *testing.T) {
	ctx := context.Background()

	t.Run("stored mark above snapshot wins", func(t *testing.T) {
		p := &MockSequencePersister{next: 20}
		p.loaded = []models.Customer{{ID: 3, Name: "Old", Email: "old@x.com", AddedAt: epoch}}
		service := NewCustomerService(ctx, p, nil, zaptest.NewLogger(t), WithClock(stepClock(epoch)))

		created, err := service.CreateCustomer(ctx, input("New", "new@x.com"))
		require.NoError(t, err)
		assert.Equal(t, int64(20), created.ID)
		assert.Equal(t, []int64{21}, p.savedMarks)
	})

	t.Run("snapshot above stale mark wins", func(t *testing.T) {
		p := &MockSequencePersister{next: 2}
		p.loaded = []models.Customer{{ID: 7, Name: "Old", Email: "old@x.com", AddedAt: epoch}}
		service := NewCustomerService(ctx, p, nil, zaptest.NewLogger(t), WithClock(stepClock(epoch)))

		created, err := service.CreateCustomer(ctx, input("New", "new@x.com"))
		require.NoError(t, err)
		assert.Equal(t, int64(8), created.ID)
	})

	t.Run("mark written only when it moves", func(t *testing.T) {
		p := &MockSequencePersister{}
		service := NewCustomerService(ctx, p, nil, zaptest.NewLogger(t), WithClock(stepClock(epoch)))

		created, err := service.CreateCustomer(ctx, input("A", "a@x.com"))
		require.NoError(t, err)
		_, err = service.UpdateCustomer(ctx, models.CustomerUpdate{ID: created.ID, Name: utils.Ptr("Ann")})
		require.NoError(t, err)
		_, err = service.DeleteCustomer(ctx, created.ID)
		require.NoError(t, err)

		assert.Equal(t, []int64{2}, p.savedMarks)
		assert.Equal(t, 3, p.saves())
	})

	t.Run("mark failure aborts the mutation", func(t *testing.T) {
		p := &MockSequencePersister{nextErr: errors.New("disk full")}
		service := NewCustomerService(ctx, p, nil, zaptest.NewLogger(t), WithClock(stepClock(epoch)))

		_, err := service.CreateCustomer(ctx, input("A", "a@x.com"))
		require.ErrorIs(t, err, e.ErrPersistence)
		assert.Empty(t, service.ListCustomers(ctx))
		assert.Equal(t, 0, p.saves(), "snapshot not written without the mark")
	})

	t.Run("import persists the raised mark", func(t *testing.T) {
		p := &MockSequencePersister{}
		service := NewCustomerService(ctx, p, nil, zaptest.NewLogger(t), WithClock(stepClock(epoch)))

		require.NoError(t, service.ImportCustomers(ctx, []models.Customer{
			{ID: 5, Name: "Five", Email: "five@x.com", AddedAt: epoch},
		}))
		assert.Equal(t, []int64{6}, p.savedMarks)
	})
}

func TestNewCustomerService_RecoveryFillsMissingAddedAt(t *testing.T) {
	core, recorded := observer.New(zap.WarnLevel)
	persister := &MockPersister{loaded: []models.Customer{
		{ID: 1, Name: "No date", Email: "nodate@x.com"},
		{ID: 2, Name: "Dated", Email: "dated@x.com", AddedAt: epoch.Add(-time.Hour)},
	}}

	service := NewCustomerService(context.Background(), persister, nil, zap.New(core), WithClock(stepClock(epoch)))

	got := service.ListCustomers(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, epoch, got[0].AddedAt, "same rule as import: load time")
	assert.Equal(t, epoch.Add(-time.Hour), got[1].AddedAt)
	assert.Equal(t, 1, recorded.FilterMessage("Customer record missing added_at, using load time").Len())
	assert.Equal(t, 0, recorded.FilterMessage("Dropping unrecoverable customer record").Len())
}
