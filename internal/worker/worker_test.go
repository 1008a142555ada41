package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htquang/jobcore/internal/job"
	"github.com/htquang/jobcore/internal/monitor"
	"github.com/htquang/jobcore/internal/ratelimit"
	"github.com/htquang/jobcore/internal/registry"
	"github.com/htquang/jobcore/internal/task"
)

func markedDelivery(priority string, n int) amqp.Delivery {
	return amqp.Delivery{Type: priority, DeliveryTag: uint64(n)}
}

func TestDispatcherWeightedOrder(t *testing.T) {
	out := make(chan amqp.Delivery, 32)
	d := newDispatcher(out, 32)

	// Preload every lane so the first cycle shows the weighting.
	for i := 0; i < 8; i++ {
		d.lane(job.PriorityHigh) <- markedDelivery("high", i)
	}
	for i := 0; i < 4; i++ {
		d.lane(job.PriorityNormal) <- markedDelivery("normal", i)
	}
	for i := 0; i < 2; i++ {
		d.lane(job.PriorityLow) <- markedDelivery("low", i)
	}

	d.start()
	defer d.stop()

	var got []string
	for i := 0; i < 14; i++ {
		select {
		case del := <-out:
			got = append(got, del.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d deliveries", len(got))
		}
	}

	// One full cycle drains 4 high, 2 normal, 1 low.
	assert.Equal(t, []string{
		"high", "high", "high", "high", "normal", "normal", "low",
		"high", "high", "high", "high", "normal", "normal", "low",
	}, got)
}

func TestDispatcherLowPriorityNotStarved(t *testing.T) {
	out := make(chan amqp.Delivery, 64)
	d := newDispatcher(out, 64)

	for i := 0; i < 40; i++ {
		d.lane(job.PriorityHigh) <- markedDelivery("high", i)
	}
	d.lane(job.PriorityLow) <- markedDelivery("low", 0)

	d.start()
	defer d.stop()

	lowAt := -1
	for i := 0; i < 41; i++ {
		select {
		case del := <-out:
			if del.Type == "low" {
				lowAt = i
			}
		case <-time.After(time.Second):
			t.Fatal("timed out draining dispatcher")
		}
	}

	require.NotEqual(t, -1, lowAt, "low delivery never dispatched")
	assert.Less(t, lowAt, 8, "low delivery must surface within two cycles")
}

func TestDispatcherIdleWakesOnArrival(t *testing.T) {
	out := make(chan amqp.Delivery, 1)
	d := newDispatcher(out, 4)

	d.start()
	defer d.stop()

	// Let the dispatcher reach the idle select before delivering.
	time.Sleep(20 * time.Millisecond)
	d.lane(job.PriorityLow) <- markedDelivery("low", 1)

	select {
	case del := <-out:
		assert.Equal(t, "low", del.Type)
	case <-time.After(time.Second):
		t.Fatal("idle dispatcher never woke")
	}
}

var errConsumeRefused = errors.New("consume refused")

type fakeBroker struct {
	mu       sync.Mutex
	prefetch int
	consumed []string
	channels map[string]chan amqp.Delivery
	failOn   string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{channels: make(map[string]chan amqp.Delivery)}
}

func (f *fakeBroker) SetPrefetch(count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = count
	return nil
}

func (f *fakeBroker) Consume(queueName, _ string) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if queueName == f.failOn {
		return nil, errConsumeRefused
	}
	ch := make(chan amqp.Delivery, 16)
	f.channels[queueName] = ch
	f.consumed = append(f.consumed, queueName)
	return ch, nil
}

func (f *fakeBroker) deliver(t *testing.T, queue string, d amqp.Delivery) {
	t.Helper()
	f.mu.Lock()
	ch, ok := f.channels[queue]
	f.mu.Unlock()
	require.True(t, ok, "queue %s has no consumer", queue)
	ch <- d
}

func newTestWorker(t *testing.T, broker Broker, defs *registry.Registry, handler task.Handler) (*Worker, *fakeRetrier) {
	t.Helper()

	handlers := task.NewRegistry()
	for _, def := range defs.Definitions() {
		require.NoError(t, handlers.Register(def.Type, handler))
	}

	retrier := &fakeRetrier{}
	w := New(
		Config{Concurrency: 2, Prefetch: 8, RateLimitDefer: time.Second},
		broker,
		defs,
		handlers,
		ratelimit.New(defs.Definitions()...),
		retrier,
		&fakeDeferrer{},
		monitor.New(),
		slog.New(slog.DiscardHandler),
	)
	return w, retrier
}

func TestWorkerConsumesSharedAndDedicatedQueues(t *testing.T) {
	defs, err := registry.New(
		&job.Definition{Type: "recognition", DedicatedQueue: true, DefaultPriority: job.PriorityNormal},
		&job.Definition{Type: "notification", DefaultPriority: job.PriorityHigh},
	)
	require.NoError(t, err)

	broker := newFakeBroker()
	w, _ := newTestWorker(t, broker, defs, handlerFunc(func(_ context.Context, _ *job.Job) task.Result {
		return task.Success(nil)
	}))

	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Equal(t, 8, broker.prefetch)
	assert.ElementsMatch(t,
		[]string{"jobs.high", "jobs.normal", "jobs.low", "jobs.recognition"},
		broker.consumed)
	assert.ElementsMatch(t,
		[]string{"jobs.high", "jobs.normal", "jobs.low", "jobs.recognition"},
		w.Queues())
}

func TestWorkerProcessesEndToEnd(t *testing.T) {
	defs, err := registry.New(&job.Definition{
		Type:            "notification",
		DefaultPriority: job.PriorityHigh,
		MaxRetries:      3,
		Timeout:         time.Minute,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	processed := []string{}
	handler := handlerFunc(func(_ context.Context, j *job.Job) task.Result {
		mu.Lock()
		processed = append(processed, j.ID)
		mu.Unlock()
		return task.Success(nil)
	})

	broker := newFakeBroker()
	w, _ := newTestWorker(t, broker, defs, handler)
	require.NoError(t, w.Start())
	defer w.Stop()

	ack := &fakeAcknowledger{}
	j := &job.Job{ID: "job-1", Type: "notification", Priority: job.PriorityHigh, Timeout: time.Minute}
	broker.deliver(t, "jobs.high", delivery(t, j, ack))

	require.Eventually(t, ack.isAcked, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"job-1"}, processed)
}

func TestWorkerStopDrainsInFlight(t *testing.T) {
	defs, err := registry.New(&job.Definition{
		Type:            "notification",
		DefaultPriority: job.PriorityHigh,
		Timeout:         time.Minute,
	})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	handler := handlerFunc(func(_ context.Context, _ *job.Job) task.Result {
		close(started)
		<-release
		close(done)
		return task.Success(nil)
	})

	broker := newFakeBroker()
	w, _ := newTestWorker(t, broker, defs, handler)
	require.NoError(t, w.Start())

	ack := &fakeAcknowledger{}
	j := &job.Job{ID: "job-1", Type: "notification", Priority: job.PriorityHigh, Timeout: time.Minute}
	broker.deliver(t, "jobs.high", delivery(t, j, ack))

	<-started
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	w.Stop()

	select {
	case <-done:
	default:
		t.Fatal("Stop returned before the in-flight attempt finished")
	}
	assert.True(t, ack.acked)
}

func TestWorkerStopAfterFailedStart(t *testing.T) {
	defs, err := registry.New(&job.Definition{Type: "notification", DefaultPriority: job.PriorityHigh})
	require.NoError(t, err)

	broker := newFakeBroker()
	broker.failOn = "jobs.normal"
	w, _ := newTestWorker(t, broker, defs, handlerFunc(func(_ context.Context, _ *job.Job) task.Result {
		return task.Success(nil)
	}))

	err = w.Start()
	require.ErrorIs(t, err, errConsumeRefused)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after a failed Start")
	}
}

func TestWorkerStopWithoutStart(t *testing.T) {
	defs, err := registry.New(&job.Definition{Type: "notification", DefaultPriority: job.PriorityHigh})
	require.NoError(t, err)

	w, _ := newTestWorker(t, newFakeBroker(), defs, handlerFunc(func(_ context.Context, _ *job.Job) task.Result {
		return task.Success(nil)
	}))

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return on a never-started pool")
	}
}
