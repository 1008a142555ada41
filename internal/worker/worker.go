// Package worker consumes the work queues and runs job attempts through
// a fixed-size goroutine pool. Backpressure comes from the broker's
// per-consumer prefetch window: unacknowledged deliveries cap what the
// pool can hold, nothing is buffered beyond the dispatch lanes.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/htquang/jobcore/internal/job"
	"github.com/htquang/jobcore/internal/monitor"
	"github.com/htquang/jobcore/internal/ratelimit"
	"github.com/htquang/jobcore/internal/registry"
	"github.com/htquang/jobcore/internal/task"
)

// Broker is the consuming surface the pool needs from the message
// broker client.
type Broker interface {
	SetPrefetch(count int) error
	Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error)
}

// Config sizes the worker pool.
type Config struct {
	// Concurrency is the number of processing goroutines.
	Concurrency int
	// Prefetch is the per-consumer unacknowledged delivery window.
	Prefetch int
	// RateLimitDefer is how long a rate-limited delivery is parked
	// before redelivery.
	RateLimitDefer time.Duration
}

// Worker is the consuming worker pool.
type Worker struct {
	config Config
	broker Broker
	defs   *registry.Registry
	proc   *processor
	logger *slog.Logger

	disp     *dispatcher
	jobsChan chan amqp.Delivery
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New assembles a worker pool. Concurrency and prefetch are validated by
// configuration loading; zero values get safe defaults here anyway.
func New(
	cfg Config,
	broker Broker,
	defs *registry.Registry,
	handlers *task.Registry,
	limiter *ratelimit.Limiter,
	retrier FailureHandler,
	deferrer Deferrer,
	mon *monitor.Monitor,
	logger *slog.Logger,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Concurrency * 2
	}
	if cfg.RateLimitDefer <= 0 {
		cfg.RateLimitDefer = time.Second
	}

	jobsChan := make(chan amqp.Delivery)
	return &Worker{
		config: cfg,
		broker: broker,
		defs:   defs,
		logger: logger,
		proc: &processor{
			defs:       defs,
			handlers:   handlers,
			limiter:    limiter,
			retrier:    retrier,
			deferrer:   deferrer,
			monitor:    mon,
			logger:     logger,
			deferDelay: cfg.RateLimitDefer,
		},
		disp:     newDispatcher(jobsChan, cfg.Prefetch),
		jobsChan: jobsChan,
		stopChan: make(chan struct{}),
	}
}

type queueBinding struct {
	queue    string
	priority job.Priority
}

// queueBindings lists every queue this pool consumes: the three shared
// priority queues plus one dedicated queue per isolated type. Dedicated
// queues dispatch at their type's default priority tier.
func (w *Worker) queueBindings() []queueBinding {
	bindings := make([]queueBinding, 0, len(job.Priorities))
	for _, p := range job.Priorities {
		bindings = append(bindings, queueBinding{queue: "jobs." + p.String(), priority: p})
	}

	dedicated := []queueBinding{}
	for _, def := range w.defs.Definitions() {
		if def.DedicatedQueue {
			dedicated = append(dedicated, queueBinding{
				queue:    def.QueueName(def.DefaultPriority),
				priority: def.DefaultPriority,
			})
		}
	}
	sort.Slice(dedicated, func(i, j int) bool { return dedicated[i].queue < dedicated[j].queue })

	return append(bindings, dedicated...)
}

// Queues returns the names of all queues the pool consumes. Used to
// scope queue depth monitoring.
func (w *Worker) Queues() []string {
	bindings := w.queueBindings()
	names := make([]string, 0, len(bindings))
	for _, b := range bindings {
		names = append(names, b.queue)
	}
	return names
}

// Start registers consumers and launches the pool. It returns an error
// if any consumer cannot be opened; a partial start is torn down by
// calling Stop.
func (w *Worker) Start() error {
	if err := w.broker.SetPrefetch(w.config.Prefetch); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	// The dispatcher goes up before any consumer so a partial start can
	// still be torn down by Stop.
	w.disp.start()

	for _, binding := range w.queueBindings() {
		deliveries, err := w.broker.Consume(binding.queue, "worker-"+binding.queue)
		if err != nil {
			return fmt.Errorf("failed to consume queue %s: %w", binding.queue, err)
		}

		laneChan := w.disp.lane(binding.priority)
		w.wg.Add(1)
		go w.forward(deliveries, laneChan)
	}

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.workLoop()
	}

	w.logger.Info("Worker pool started",
		slog.Int("concurrency", w.config.Concurrency),
		slog.Int("prefetch", w.config.Prefetch))
	return nil
}

// Stop drains the pool: no new deliveries are dispatched and the call
// blocks until in-flight attempts finish. Undispatched deliveries stay
// unacknowledged and are redelivered by the broker.
func (w *Worker) Stop() {
	close(w.stopChan)
	w.disp.stop()
	w.wg.Wait()
	w.logger.Info("Worker pool stopped")
}

// forward moves deliveries from a broker consumer into a dispatch lane.
func (w *Worker) forward(deliveries <-chan amqp.Delivery, laneChan chan<- amqp.Delivery) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopChan:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case laneChan <- d:
			case <-w.stopChan:
				return
			}
		}
	}
}

func (w *Worker) workLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopChan:
			return
		case d := <-w.jobsChan:
			w.proc.process(context.Background(), d)
		}
	}
}
