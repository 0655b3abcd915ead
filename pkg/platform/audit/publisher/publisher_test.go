package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiv3/pkg/domain"
	audit "receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/audit/store/memory"
)

var investor = domain.MustAddress("0x00000000000000000000000000000000000000a1")

func investment(poolID string) audit.Event {
	return audit.Event{
		Action:     audit.EventInvestmentRecorded,
		EntityType: audit.EntityPool,
		EntityID:   poolID,
		Actor:      investor,
		Amount:     domain.Units(5000),
	}
}

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), investment("1")))

	events, err := pub.ListByEntity(context.Background(), audit.EntityPool, "1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventInvestmentRecorded, events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), investment("1")))

	require.Eventually(t, func() bool {
		events, _ := pub.ListByEntity(context.Background(), audit.EntityPool, "1")
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), investment("7")))
	}

	pub.Close()
	pub.Close()

	events, err := store.ListByEntity(context.Background(), audit.EntityPool, "7")
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFullIsReported(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		dropped int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Emit(context.Background(), investment("1")); err != nil {
				mu.Lock()
				defer mu.Unlock()
				assert.True(t, errors.Is(err, ErrBufferFull))
				dropped++
			}
		}()
	}
	wg.Wait()
	pub.Close()

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, len(events)+dropped)
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))

	require.NoError(t, pub.Emit(context.Background(), investment("1")))

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fixed, events[0].Timestamp)
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	event := investment("1")
	event.Timestamp = custom
	require.NoError(t, pub.Emit(context.Background(), event))

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, custom, events[0].Timestamp)
}

func TestPublisher_KeepsEmissionOrderPerEntity(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	actions := []audit.AuditEvent{
		audit.EventPoolCreated,
		audit.EventInvestmentRecorded,
		audit.EventPoolFilled,
		audit.EventDisbursementRecorded,
	}
	for _, a := range actions {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: a, EntityType: audit.EntityPool, EntityID: "1"}))
	}
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.EventPoolCreated, EntityType: audit.EntityPool, EntityID: "2"}))

	events, err := pub.ListByEntity(context.Background(), audit.EntityPool, "1")
	require.NoError(t, err)
	require.Len(t, events, len(actions))
	for i, a := range actions {
		assert.Equal(t, a, events[i].Action)
	}

	recent, err := pub.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "2", recent[1].EntityID)
}

// failFirst refuses the first append only.
type failFirst struct {
	*memory.InMemoryStore
	mu     sync.Mutex
	failed bool
}

func (s *failFirst) Append(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	first := !s.failed
	s.failed = true
	s.mu.Unlock()
	if first {
		return errors.New("connection reset")
	}
	return s.InMemoryStore.Append(ctx, event)
}

func TestPublisher_AsyncSurvivesStoreFailure(t *testing.T) {
	store := &failFirst{InMemoryStore: memory.NewInMemoryStore()}
	pub := NewPublisher(store, WithAsyncBuffer(20), WithRetry(1, 0))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), investment("1")))
	}
	pub.Close()

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 9, "only the refused event is skipped")
}

func TestPublisher_AsyncRetriesStoreFailure(t *testing.T) {
	store := &failFirst{InMemoryStore: memory.NewInMemoryStore()}
	pub := NewPublisher(store, WithAsyncBuffer(20), WithRetry(3, time.Millisecond))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), investment("1")))
	}
	pub.Close()

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 10)
}

// gatedStore blocks every append until release is closed.
type gatedStore struct {
	*memory.InMemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Append(ctx context.Context, event audit.Event) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.InMemoryStore.Append(ctx, event)
}

func TestPublisher_EmitWaitsForBufferSpace(t *testing.T) {
	store := &gatedStore{
		InMemoryStore: memory.NewInMemoryStore(),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
	pub := NewPublisher(store, WithAsyncBuffer(1), WithEnqueueWait(time.Minute))

	require.NoError(t, pub.Emit(context.Background(), investment("1")))
	<-store.entered
	require.NoError(t, pub.Emit(context.Background(), investment("1")), "fills the buffer")

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(store.release)
	}()
	require.NoError(t, pub.Emit(context.Background(), investment("1")), "waits until the worker frees a slot")

	pub.Close()
	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestPublisher_EmitOnFullBufferEndsWithContextOrWait(t *testing.T) {
	store := &gatedStore{
		InMemoryStore: memory.NewInMemoryStore(),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
	pub := NewPublisher(store, WithAsyncBuffer(1), WithEnqueueWait(20*time.Millisecond))
	defer pub.Close()
	defer close(store.release)

	require.NoError(t, pub.Emit(context.Background(), investment("1")))
	<-store.entered
	require.NoError(t, pub.Emit(context.Background(), investment("1")))

	start := time.Now()
	err := pub.Emit(context.Background(), investment("1"))
	require.ErrorIs(t, err, ErrBufferFull)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	pub.wait = time.Minute
	err = pub.Emit(ctx, investment("1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
