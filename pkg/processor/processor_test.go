package processor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-recovery/pkg/config"
	"github.com/zoff-tech/go-recovery/pkg/executor"
	"github.com/zoff-tech/go-recovery/pkg/lock"
	"github.com/zoff-tech/go-recovery/pkg/queue"
	"github.com/zoff-tech/go-recovery/pkg/scheduler"
	"github.com/zoff-tech/go-recovery/pkg/store"
	"github.com/zoff-tech/go-recovery/schema"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

var schedulerSettings = config.SchedulerSettings{
	TimeoutPrefix: "tmo",
	WakeType:      "wake_RC",
	Waker:         "inprocess",
}

type recordingWaker struct {
	mu    sync.Mutex
	calls []time.Time
}

func (r *recordingWaker) EnsureWake(_ context.Context, wakeAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, wakeAt)
	return nil
}

type handled struct {
	handler string
	event   executor.Event
}

type harness struct {
	kv        *store.MemoryStore
	queue     *queue.Queue
	exec      *executor.Executor
	scheduler *scheduler.TimeoutScheduler
	waker     *recordingWaker
	calls     []handled

	dispatcher  *Dispatcher
	coordinator *Coordinator
}

func newHarness(t *testing.T, kv store.KVStore) *harness {
	t.Helper()
	mem, _ := kv.(*store.MemoryStore)
	h := &harness{kv: mem, waker: &recordingWaker{}}

	h.queue = queue.New(kv, nil, nil)
	h.exec = executor.New(config.ExecutorSettings{
		DebugType:   "debug",
		SoftTimeout: time.Second,
		HardTimeout: 2 * time.Second,
	}, nil, nil)
	h.scheduler = scheduler.New(kv, h.queue, h.waker, nil, nil)
	h.scheduler.SetClock(func() time.Time { return t0 })

	record := func(name string) executor.Handler {
		return executor.HandlerFunc(func(_ context.Context, ev executor.Event) error {
			h.calls = append(h.calls, handled{handler: name, event: ev})
			return nil
		})
	}
	h.exec.Register("default", record("default"))
	h.exec.Register("audit", record("audit"))

	h.dispatcher = NewDispatcher(h.queue, h.exec, h.scheduler, schedulerSettings, nil, nil)
	h.coordinator = NewCoordinator(lock.New(filepath.Join(t.TempDir(), "rc.lock")), time.Second,
		h.queue, h.dispatcher, h.scheduler, 16, nil)
	return h
}

func (h *harness) put(t *testing.T, key, messageType, payload string) schema.QueueEntry {
	t.Helper()
	value, err := schema.NewEnvelope(messageType, payload).Encode()
	require.NoError(t, err)
	require.NoError(t, h.kv.Put(context.Background(), key, value))
	return schema.QueueEntry{Key: key, Value: value}
}

func (h *harness) keys(t *testing.T, prefix string) []string {
	t.Helper()
	entries, err := h.kv.List(context.Background(), prefix)
	require.NoError(t, err)
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

func TestDispatcher_UnmatchedTypeRunsDefaultHandler(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	entry := h.put(t, "queue/3", "ping", "x")

	res, err := h.dispatcher.Process(context.Background(), []schema.QueueEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1}, res)

	require.Len(t, h.calls, 1)
	assert.Equal(t, "default", h.calls[0].handler)
	assert.Equal(t, "ping", h.calls[0].event.MessageType)
	assert.Equal(t, "x", h.calls[0].event.Payload)
	assert.Equal(t, "queue/3", h.calls[0].event.QueueKey)
	assert.Empty(t, h.keys(t, schema.QueuePrefix))
}

func TestDispatcher_NamedHandlerRunsOnce(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	entries := []schema.QueueEntry{
		h.put(t, "queue/1", "audit", "a"),
		h.put(t, "queue/2", "other", "b"),
	}

	_, err := h.dispatcher.Process(context.Background(), entries)
	require.NoError(t, err)

	require.Len(t, h.calls, 2)
	assert.Equal(t, "audit", h.calls[0].handler)
	assert.Equal(t, "default", h.calls[1].handler)
	assert.Equal(t, "other", h.calls[1].event.MessageType)
}

func TestDispatcher_DebugTypeUsesBuiltinHandler(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	registered := false
	h.exec.Register("debug", executor.HandlerFunc(func(context.Context, executor.Event) error {
		registered = true
		return nil
	}))
	entry := h.put(t, "queue/1", "debug", "dump")

	_, err := h.dispatcher.Process(context.Background(), []schema.QueueEntry{entry})
	require.NoError(t, err)
	assert.False(t, registered)
	assert.Empty(t, h.calls)
	assert.Empty(t, h.keys(t, schema.QueuePrefix))
}

func TestDispatcher_WakeEventIsOnlyLogged(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	entry := h.put(t, "queue/1", "wake_RC", "2024-01-01T12:00:00Z")

	_, err := h.dispatcher.Process(context.Background(), []schema.QueueEntry{entry})
	require.NoError(t, err)
	assert.Empty(t, h.calls)
	assert.Empty(t, h.keys(t, schema.QueuePrefix))
}

func TestDispatcher_MalformedGoesToDefault(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	require.NoError(t, h.kv.Put(context.Background(), "queue/1", []byte("%%%")))

	_, err := h.dispatcher.Process(context.Background(), []schema.QueueEntry{{Key: "queue/1", Value: []byte("%%%")}})
	require.NoError(t, err)

	require.Len(t, h.calls, 1)
	assert.Equal(t, "default", h.calls[0].handler)
	assert.Equal(t, "", h.calls[0].event.MessageType)
	assert.Equal(t, "%%%", h.calls[0].event.Payload)
	assert.Empty(t, h.keys(t, schema.QueuePrefix))
}

func TestDispatcher_TimeoutRequests(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	entries := []schema.QueueEntry{
		h.put(t, "queue/5", "tmo_retry", "10"),
		h.put(t, "queue/6", "tmo", "10"),
		h.put(t, "queue/7", "tmo_retry", "later"),
		h.put(t, "queue/8", "tmo_a,b", "10"),
	}

	res, err := h.dispatcher.Process(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Processed)
	assert.Empty(t, h.calls)
	assert.Empty(t, h.keys(t, schema.QueuePrefix))

	value, err := h.kv.Get(context.Background(), "deferred/2024-01-01T12:00:10Z")
	require.NoError(t, err)
	assert.Equal(t, "retry@5,timeout@6", string(value))
	assert.Len(t, h.keys(t, schema.DeferredPrefix), 1)
}

func TestDispatcher_SkipsConsumedEntries(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	value, err := schema.NewEnvelope("ping", "x").Encode()
	require.NoError(t, err)

	res, err := h.dispatcher.Process(context.Background(), []schema.QueueEntry{{Key: "queue/gone", Value: value}})
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
	assert.Empty(t, h.calls)
}

func TestDispatcher_EmptySnapshot(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	res, err := h.dispatcher.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, h.kv.Writes())
}

func TestDispatcher_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	entries := []schema.QueueEntry{
		h.put(t, "queue/1", "ping", "a"),
		h.put(t, "queue/2", "ping", "b"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.dispatcher.Process(ctx, entries)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Remaining)
	assert.Len(t, h.keys(t, schema.QueuePrefix), 2)
}

func TestDispatcher_CancelledMidway(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.exec.Register("stop", executor.HandlerFunc(func(context.Context, executor.Event) error {
		cancel()
		return nil
	}))
	entries := []schema.QueueEntry{
		h.put(t, "queue/1", "ping", "a"),
		h.put(t, "queue/2", "stop", ""),
		h.put(t, "queue/3", "ping", "c"),
	}

	res, err := h.dispatcher.Process(ctx, entries)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, []string{"queue/3"}, h.keys(t, schema.QueuePrefix))
}

type failingAckStore struct {
	*store.MemoryStore
}

func (f failingAckStore) Delete(context.Context, string) error {
	return errors.New("store unavailable")
}

func TestDispatcher_StoreFailureKeepsEntry(t *testing.T) {
	mem := store.NewMemoryStore()
	h := newHarness(t, failingAckStore{mem})
	h.kv = mem
	entries := []schema.QueueEntry{
		h.put(t, "queue/1", "ping", "a"),
		h.put(t, "queue/2", "ping", "b"),
	}

	res, err := h.dispatcher.Process(context.Background(), entries)
	assert.ErrorContains(t, err, "store unavailable")
	assert.Zero(t, res.Processed)
	assert.Len(t, h.keys(t, schema.QueuePrefix), 2)
}

func TestCoordinator_TimeoutArmsWake(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	entry := h.put(t, "queue/5", "tmo_retry", "10")

	summary, err := h.coordinator.Run(context.Background(), []schema.QueueEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.False(t, summary.Cancelled)

	assert.Empty(t, h.keys(t, schema.QueuePrefix))
	assert.Equal(t, []string{"deferred/2024-01-01T12:00:10Z"}, h.keys(t, schema.DeferredPrefix))
	require.NotEmpty(t, h.waker.calls)
	for _, call := range h.waker.calls {
		assert.True(t, call.Equal(t0.Add(10*time.Second)))
	}
}

func TestCoordinator_DueScanReinjectsAndDrains(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, h.kv.Put(ctx, schema.DeferredKey(t0.Add(-time.Second)), []byte("retry@abc")))
	require.NoError(t, h.kv.Put(ctx, schema.DeferredKey(t0.Add(30*time.Second)), []byte("retry@later")))

	summary, err := h.coordinator.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fired)
	assert.Equal(t, 1, summary.Processed)

	require.Len(t, h.calls, 1)
	assert.Equal(t, "retry", h.calls[0].event.MessageType)
	assert.Equal(t, "abc", h.calls[0].event.Payload)

	assert.Empty(t, h.keys(t, schema.QueuePrefix))
	assert.Equal(t, []string{"deferred/2024-01-01T12:00:30Z"}, h.keys(t, schema.DeferredPrefix))
	require.NotEmpty(t, h.waker.calls)
	for _, call := range h.waker.calls {
		assert.True(t, call.Equal(t0.Add(30*time.Second)))
	}
}

func TestCoordinator_DrainsEventsPushedDuringRun(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	ctx := context.Background()

	h.exec.Register("chain", executor.HandlerFunc(func(ctx context.Context, ev executor.Event) error {
		_, err := h.queue.Push(ctx, schema.NewEnvelope("audit", ev.Payload))
		return err
	}))
	entry := h.put(t, "queue/1", "chain", "next")

	summary, err := h.coordinator.Run(ctx, []schema.QueueEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Passes)
	require.Len(t, h.calls, 1)
	assert.Equal(t, "audit", h.calls[0].handler)
	assert.Empty(t, h.keys(t, schema.QueuePrefix))
	assert.Empty(t, h.waker.calls)
}

func TestCoordinator_PassLimit(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	ctx := context.Background()
	h.coordinator.maxPasses = 2

	h.exec.Register("loop", executor.HandlerFunc(func(ctx context.Context, ev executor.Event) error {
		_, err := h.queue.Push(ctx, schema.NewEnvelope("loop", ""))
		return err
	}))
	entry := h.put(t, "queue/1", "loop", "")

	summary, err := h.coordinator.Run(ctx, []schema.QueueEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Passes)
	assert.Len(t, h.keys(t, schema.QueuePrefix), 1)
}

type busyLock struct{}

func (busyLock) Acquire(context.Context, time.Duration) error { return lock.ErrLockTimeout }
func (busyLock) Release() error                               { return nil }

func TestCoordinator_LockHeld(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	h.coordinator.lock = busyLock{}
	entry := h.put(t, "queue/1", "ping", "")

	_, err := h.coordinator.Run(context.Background(), []schema.QueueEntry{entry})
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.Len(t, h.keys(t, schema.QueuePrefix), 1)
}

func TestCoordinator_Cancelled(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	entry := h.put(t, "queue/1", "ping", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.exec.Register("ping", executor.HandlerFunc(func(context.Context, executor.Event) error {
		cancel()
		return nil
	}))
	h.put(t, "queue/2", "ping", "")

	summary, err := h.coordinator.Run(ctx, []schema.QueueEntry{entry})
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, []string{"queue/2"}, h.keys(t, schema.QueuePrefix))
}

type cancelAfterScan struct {
	TimeoutScheduler
	cancel context.CancelFunc
}

func (c cancelAfterScan) Scan(ctx context.Context) (int, error) {
	n, err := c.TimeoutScheduler.Scan(ctx)
	c.cancel()
	return n, err
}

func TestCoordinator_CancelledDuringDueScan(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.kv.Put(ctx, schema.DeferredKey(t0.Add(-time.Second)), []byte("retry@abc")))
	h.coordinator.scheduler = cancelAfterScan{TimeoutScheduler: h.scheduler, cancel: cancel}

	summary, err := h.coordinator.Run(ctx, nil)
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Fired)
	assert.Zero(t, summary.Processed)

	assert.Empty(t, h.keys(t, schema.DeferredPrefix))
	assert.Len(t, h.keys(t, schema.QueuePrefix), 1)
	assert.Empty(t, h.calls)
}
