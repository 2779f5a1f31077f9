// Package notifier tells observers that the audit log changed.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Signal is an advisory change notification, it carries no data
type Signal string

const (
	SignalNewItem Signal = "new_email"
	SignalRefresh Signal = "refresh"
)

const subscriberBuffer = 8

// Counter reports the current number of records
type Counter interface {
	CountRecords(ctx context.Context) (int, error)
}

// Notifier watches the record count and fans signals out to subscribers
type Notifier struct {
	counter  Counter
	interval time.Duration
	backoff  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan Signal
	nextID int
}

// New creates a notifier polling counter every interval
func New(counter Counter, interval, backoff time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		counter:  counter,
		interval: interval,
		backoff:  backoff,
		logger:   logger.With("component", "notifier"),
		subs:     make(map[int]chan Signal),
	}
}

// Subscribe returns a channel of signals and a function to unsubscribe
func (n *Notifier) Subscribe() (<-chan Signal, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan Signal, subscriberBuffer)
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			close(ch)
		})
	}
}

// Refresh tells subscribers to reload
func (n *Notifier) Refresh() {
	n.publish(SignalRefresh)
}

// publish never blocks: a subscriber with a full buffer misses the signal
func (n *Notifier) publish(sig Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		select {
		case ch <- sig:
		default:
			n.logger.Debug("subscriber buffer full, dropping signal", "subscriber", id, "signal", sig)
		}
	}
}

// Run polls the record count until ctx is cancelled. The baseline always follows
// the observed count, so deletions lower it and only growth is signalled.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("notifier started", "interval", n.interval)

	baseline := 0
	for {
		wait := n.interval
		count, err := n.counter.CountRecords(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			n.logger.Warn("failed to count records", "error", err)
			wait = n.backoff
		default:
			if count > baseline {
				n.logger.Debug("new records detected", "from", baseline, "to", count)
				n.publish(SignalNewItem)
			}
			baseline = count
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			n.logger.Info("notifier stopped")
			return nil
		case <-timer.C:
		}
	}
}
