package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PollerDeps dependencies of the poller
type PollerDeps struct {
	Mailbox      Mailbox
	Classifier   Classifier
	Ledger       Ledger
	Dispatcher   *Dispatcher
	Query        string
	BatchSize    int64
	PollInterval time.Duration // Sleep when a cycle processed nothing
	ErrorBackoff time.Duration // Sleep after a failed listing
	Pacing       time.Duration // Sleep after each processed message
	CallTimeout  time.Duration
	Logger       *slog.Logger
}

// Poller is the single sequential worker driving the pipeline
type Poller struct {
	mailbox      Mailbox
	classifier   Classifier
	ledger       Ledger
	dispatcher   *Dispatcher
	query        string
	batchSize    int64
	pollInterval time.Duration
	errorBackoff time.Duration
	pacing       time.Duration
	callTimeout  time.Duration
	logger       *slog.Logger
}

// NewPoller creates a new poller
func NewPoller(deps PollerDeps) *Poller {
	timeout := deps.CallTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Poller{
		mailbox:      deps.Mailbox,
		classifier:   deps.Classifier,
		ledger:       deps.Ledger,
		dispatcher:   deps.Dispatcher,
		query:        deps.Query,
		batchSize:    deps.BatchSize,
		pollInterval: deps.PollInterval,
		errorBackoff: deps.ErrorBackoff,
		pacing:       deps.Pacing,
		callTimeout:  timeout,
		logger:       deps.Logger.With("component", "poller"),
	}
}

// Run polls until ctx is cancelled. Errors never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "query", p.query, "batch", p.batchSize, "interval", p.pollInterval)

	for {
		processed, err := p.RunOnce(ctx)
		if ctx.Err() != nil {
			p.logger.Info("poller stopped")
			return nil
		}

		var wait time.Duration
		switch {
		case err != nil:
			p.logger.Error("poll cycle failed", "error", err, "retry_in", p.errorBackoff)
			wait = p.errorBackoff
		case processed == 0:
			p.logger.Debug("no new messages", "sleep", p.pollInterval)
			wait = p.pollInterval
		}

		if !sleep(ctx, wait) {
			p.logger.Info("poller stopped")
			return nil
		}
	}
}

// RunOnce runs a single cycle and returns how many messages were processed.
// Only a failed listing is returned as an error.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	listCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	ids, err := p.mailbox.ListCandidates(listCtx, p.query, p.batchSize)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to list messages: %w", err)
	}

	processed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		if !p.processMessage(ctx, id) {
			continue
		}
		processed++

		if !sleep(ctx, p.pacing) {
			break
		}
	}

	return processed, nil
}

// processMessage returns true when the message was committed
func (p *Poller) processMessage(ctx context.Context, id string) bool {
	logger := p.logger.With("message_id", id)

	done, err := p.ledger.IsProcessed(ctx, id)
	if err != nil {
		logger.Warn("failed to check ledger, skipping", "error", err)
		return false
	}
	if done {
		return false
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	msg, err := p.mailbox.FetchFull(fetchCtx, id)
	cancel()
	if err != nil {
		logger.Warn("failed to fetch message, skipping", "error", err)
		return false
	}

	logger.Info("processing message", "from", msg.From, "subject", msg.Subject)

	// From here on the message runs to completion
	inflight := context.WithoutCancel(ctx)
	classifyCtx, cancel := context.WithTimeout(inflight, p.callTimeout)
	result := p.classifier.Classify(classifyCtx, msg.Subject, msg.From, msg.Body)
	cancel()

	if _, err := p.dispatcher.Dispatch(inflight, msg, result); err != nil {
		logger.Error("failed to commit message", "error", err)
		return false
	}
	return true
}

// sleep waits for d or until ctx is done. Returns false if ctx is done.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
