package worker

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/htquang/jobcore/internal/job"
)

// dispatcher merges per-priority delivery lanes into a single channel
// using weighted round-robin: each cycle drains up to Weight() messages
// per tier, highest first. Lower tiers keep a guaranteed share of every
// cycle, so a flood of high-priority work delays low-priority jobs but
// never starves them.
type dispatcher struct {
	lanes    []lane
	out      chan<- amqp.Delivery
	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

type lane struct {
	priority job.Priority
	ch       chan amqp.Delivery
}

func newDispatcher(out chan<- amqp.Delivery, laneBuffer int) *dispatcher {
	if laneBuffer < 1 {
		laneBuffer = 1
	}
	lanes := make([]lane, 0, len(job.Priorities))
	for _, p := range job.Priorities {
		lanes = append(lanes, lane{priority: p, ch: make(chan amqp.Delivery, laneBuffer)})
	}
	return &dispatcher{
		lanes:    lanes,
		out:      out,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// lane returns the inbound channel for a priority tier.
func (d *dispatcher) lane(p job.Priority) chan<- amqp.Delivery {
	for _, l := range d.lanes {
		if l.priority == p {
			return l.ch
		}
	}
	// Unknown tiers share the lowest lane.
	return d.lanes[len(d.lanes)-1].ch
}

func (d *dispatcher) start() {
	d.started = true
	go d.run()
}

func (d *dispatcher) stop() {
	close(d.stopChan)
	if d.started {
		<-d.doneChan
	}
}

func (d *dispatcher) run() {
	defer close(d.doneChan)

	for {
		progressed := false
		for _, l := range d.lanes {
		drain:
			for credit := l.priority.Weight(); credit > 0; credit-- {
				select {
				case del := <-l.ch:
					if !d.forward(del) {
						return
					}
					progressed = true
				default:
					break drain
				}
			}
		}
		if progressed {
			continue
		}

		// All lanes empty: block until anything arrives.
		select {
		case <-d.stopChan:
			return
		case del := <-d.lanes[0].ch:
			if !d.forward(del) {
				return
			}
		case del := <-d.lanes[1].ch:
			if !d.forward(del) {
				return
			}
		case del := <-d.lanes[2].ch:
			if !d.forward(del) {
				return
			}
		}
	}
}

func (d *dispatcher) forward(del amqp.Delivery) bool {
	select {
	case d.out <- del:
		return true
	case <-d.stopChan:
		return false
	}
}
