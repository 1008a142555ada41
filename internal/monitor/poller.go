package monitor

import (
	"log/slog"
	"time"
)

// DepthSource reports the current message count of a queue.
type DepthSource interface {
	QueueDepth(queueName string) (int, error)
}

// DepthPoller periodically samples queue depths into a Monitor.
type DepthPoller struct {
	source   DepthSource
	monitor  *Monitor
	logger   *slog.Logger
	queues   []string
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewDepthPoller creates a poller over the given queues. A non-positive
// interval defaults to 15 seconds.
func NewDepthPoller(source DepthSource, monitor *Monitor, logger *slog.Logger, queues []string, interval time.Duration) *DepthPoller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &DepthPoller{
		source:   source,
		monitor:  monitor,
		logger:   logger,
		queues:   queues,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (p *DepthPoller) Start() {
	go p.run()
}

// Stop terminates polling and waits for the loop to exit.
func (p *DepthPoller) Stop() {
	close(p.stopChan)
	<-p.doneChan
}

func (p *DepthPoller) run() {
	defer close(p.doneChan)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sample()
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.sample()
		}
	}
}

func (p *DepthPoller) sample() {
	for _, queue := range p.queues {
		depth, err := p.source.QueueDepth(queue)
		if err != nil {
			p.logger.Warn("Failed to sample queue depth",
				slog.String("queue", queue),
				slog.String("error", err.Error()))
			continue
		}
		p.monitor.SetQueueDepth(queue, depth)
	}
}
