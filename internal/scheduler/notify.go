package scheduler

import (
	"log"
	"time"

	"github.com/lib/pq"
)

// Notifier wakes a paused scheduler loop as soon as an external writer
// flips SimulationState.is_running, instead of waiting out the poll
// sleep in Run. It wraps a pq.Listener against a Postgres LISTEN/NOTIFY
// channel.
type Notifier struct {
	listener *pq.Listener
	wake     chan struct{}
	log      *log.Logger
}

// NewNotifier opens a pq.Listener on the given channel name
// (cmd/engine passes "sim_control"), reconnecting automatically on
// transient failures via pq.NewListener's reconnect callback.
func NewNotifier(connStr, channel string, logger *log.Logger) (*Notifier, error) {
	if logger == nil {
		logger = log.Default()
	}
	n := &Notifier{wake: make(chan struct{}, 1), log: logger}

	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.log.Printf("scheduler: notify listener event %v: %v", ev, err)
		}
	}
	n.listener = pq.NewListener(connStr, 10*time.Second, time.Minute, reportProblem)
	if err := n.listener.Listen(channel); err != nil {
		return nil, err
	}

	go n.pump()
	return n, nil
}

func (n *Notifier) pump() {
	for range n.listener.Notify {
		select {
		case n.wake <- struct{}{}:
		default:
		}
	}
}

// Wake returns a channel that receives a value whenever a NOTIFY
// arrives on the watched channel. Scheduler.Run's pause-sleep can
// select on this instead of a fixed timer to react immediately.
func (n *Notifier) Wake() <-chan struct{} {
	return n.wake
}

// Close releases the underlying listener connection.
func (n *Notifier) Close() error {
	return n.listener.Close()
}
