package syncer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingithegreat/AquaProject-sub000/internal/domain"
	"github.com/kingithegreat/AquaProject-sub000/internal/events"
	"github.com/kingithegreat/AquaProject-sub000/internal/models"
	"github.com/kingithegreat/AquaProject-sub000/internal/store"
)

type fakeDocStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]interface{}
	creates  int
	queries  int
	createFn func() (string, error)
	queryErr error
	hang     time.Duration
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: make(map[string]map[string]interface{})}
}

func (f *fakeDocStore) Create(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	if f.hang > 0 {
		time.Sleep(f.hang)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createFn != nil {
		return f.createFn()
	}
	ref, _ := data["reference"].(string)
	id := "doc-" + ref
	f.docs[ref] = data
	return id, nil
}

func (f *fakeDocStore) QueryByField(ctx context.Context, collection, field, value string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if data, ok := f.docs[value]; ok {
		return []domain.Document{{ID: "doc-" + value, Data: data}}, nil
	}
	return nil, nil
}

func (f *fakeDocStore) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

type fakeChecker struct {
	online bool
}

func (f *fakeChecker) Online() bool                                    { return f.online }
func (f *fakeChecker) Probe(ctx context.Context, _ time.Duration) bool { return f.online }

func newTestEngine(docs domain.DocumentStore, kv domain.KeyValueStore, checker domain.ConnectivityChecker, bus domain.EventPublisher) *Engine {
	logger := zerolog.New(io.Discard)
	return NewEngine(docs, kv, checker, bus, "bookings",
		50*time.Millisecond, 200*time.Millisecond, 200*time.Millisecond, &logger)
}

func testBooking(ref string) *models.BookingRecord {
	return &models.BookingRecord{
		Reference:   ref,
		UserID:      "user-7",
		TotalAmount: 24000,
		Status:      models.StatusConfirmed,
		CreatedAt:   time.Now(),
	}
}

func TestSyncBookingHappyPath(t *testing.T) {
	docs := newFakeDocStore()
	kv := store.NewMemoryStore()
	bus := events.NewEventBus()

	var synced int
	var mu sync.Mutex
	bus.Subscribe(events.EventBookingSynced, func(*events.Event) error {
		mu.Lock()
		synced++
		mu.Unlock()
		return nil
	})

	booking := testBooking("BK-100001")
	ctx := context.Background()
	require.NoError(t, kv.Put(ctx, models.KeyBookingPrefix+booking.Reference, []byte(`{}`)))

	engine := newTestEngine(docs, kv, &fakeChecker{online: true}, bus)
	assert.True(t, engine.SyncBooking(ctx, booking))

	assert.Equal(t, 1, docs.createCount())
	assert.Contains(t, docs.docs, "BK-100001")

	// Verification saw the document, so the local backup is gone.
	raw, err := kv.Get(ctx, models.KeyBookingPrefix+booking.Reference)
	require.NoError(t, err)
	assert.Nil(t, raw)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, synced)
}

func TestSyncBookingOfflineDefers(t *testing.T) {
	docs := newFakeDocStore()
	engine := newTestEngine(docs, store.NewMemoryStore(), &fakeChecker{online: false}, nil)

	assert.False(t, engine.SyncBooking(context.Background(), testBooking("BK-100002")))
	assert.Equal(t, 0, docs.createCount(), "no remote call while offline")
}

func TestSyncBookingSkipsExistingRemote(t *testing.T) {
	docs := newFakeDocStore()
	docs.docs["BK-100003"] = map[string]interface{}{"reference": "BK-100003"}

	kv := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, kv.Put(ctx, models.KeyBookingPrefix+"BK-100003", []byte(`{}`)))

	engine := newTestEngine(docs, kv, &fakeChecker{online: true}, nil)
	assert.True(t, engine.SyncBooking(ctx, testBooking("BK-100003")))

	assert.Equal(t, 0, docs.createCount(), "duplicate reference must not be written twice")

	raw, err := kv.Get(ctx, models.KeyBookingPrefix+"BK-100003")
	require.NoError(t, err)
	assert.Nil(t, raw, "backup removed once the record is known remote")
}

func TestSyncBookingDuplicateCheckErrorDefers(t *testing.T) {
	docs := newFakeDocStore()
	docs.queryErr = errors.New("remote unavailable")

	engine := newTestEngine(docs, store.NewMemoryStore(), &fakeChecker{online: true}, nil)
	assert.False(t, engine.SyncBooking(context.Background(), testBooking("BK-100004")))
	assert.Equal(t, 0, docs.createCount())
}

func TestSyncBookingCreateErrorDefers(t *testing.T) {
	docs := newFakeDocStore()
	docs.createFn = func() (string, error) { return "", errors.New("write rejected") }

	engine := newTestEngine(docs, store.NewMemoryStore(), &fakeChecker{online: true}, nil)
	assert.False(t, engine.SyncBooking(context.Background(), testBooking("BK-100005")))
}

func TestSyncBookingCreateTimeout(t *testing.T) {
	docs := newFakeDocStore()
	docs.hang = 500 * time.Millisecond

	engine := newTestEngine(docs, store.NewMemoryStore(), &fakeChecker{online: true}, nil)

	start := time.Now()
	ok := engine.SyncBooking(context.Background(), testBooking("BK-100006"))
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.Less(t, elapsed, 450*time.Millisecond, "timeout must win the race, not the slow create")
}

func TestSyncBookingUnverifiedWriteKeepsBackup(t *testing.T) {
	docs := newFakeDocStore()
	// Create reports success but the document never becomes queryable.
	docs.createFn = func() (string, error) { return "doc-x", nil }

	kv := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, kv.Put(ctx, models.KeyBookingPrefix+"BK-100007", []byte(`{}`)))

	engine := newTestEngine(docs, kv, &fakeChecker{online: true}, nil)
	assert.True(t, engine.SyncBooking(ctx, testBooking("BK-100007")),
		"the write itself succeeded, so the operation completes")

	raw, err := kv.Get(ctx, models.KeyBookingPrefix+"BK-100007")
	require.NoError(t, err)
	assert.NotNil(t, raw, "unverifiable write retains the local backup")
}

func TestSyncBookingNilBooking(t *testing.T) {
	docs := newFakeDocStore()
	engine := newTestEngine(docs, store.NewMemoryStore(), &fakeChecker{online: true}, nil)

	assert.True(t, engine.SyncBooking(context.Background(), nil))
	assert.Equal(t, 0, docs.createCount())
}

func TestSyncBookingContainsPanic(t *testing.T) {
	docs := newFakeDocStore()
	docs.createFn = func() (string, error) { panic("document store exploded") }

	engine := newTestEngine(docs, store.NewMemoryStore(), &fakeChecker{online: true}, nil)
	assert.False(t, engine.SyncBooking(context.Background(), testBooking("BK-100008")))
}
