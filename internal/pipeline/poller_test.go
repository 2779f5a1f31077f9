package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailtriage/pkg/models"
)

type pollerFixture struct {
	mailbox    *fakeMailbox
	classifier *fakeClassifier
	store      *fakeStore
	poller     *Poller
}

func newPollerFixture(msgs ...*models.InboundMessage) *pollerFixture {
	f := &pollerFixture{
		mailbox:    newFakeMailbox(msgs...),
		classifier: &fakeClassifier{results: make(map[string]models.ClassificationResult)},
		store:      newFakeStore(),
	}

	d := NewDispatcher(DispatcherDeps{
		Mailbox:     f.mailbox,
		Records:     f.store,
		Ledger:      f.store,
		CallTimeout: time.Second,
		Logger:      testLogger(),
	})
	f.poller = NewPoller(PollerDeps{
		Mailbox:      f.mailbox,
		Classifier:   f.classifier,
		Ledger:       f.store,
		Dispatcher:   d,
		Query:        "is:unread is:important",
		BatchSize:    20,
		PollInterval: 10 * time.Millisecond,
		ErrorBackoff: 10 * time.Millisecond,
		Pacing:       time.Millisecond,
		CallTimeout:  time.Second,
		Logger:       testLogger(),
	})
	return f
}

func TestRunOnceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newPollerFixture(inbound("m1", "First"), inbound("m2", "Second"))

	processed, err := f.poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, f.classifier.calls)

	// Messages still show up as candidates but are already in the ledger
	processed, err = f.poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 2, f.classifier.calls, "known messages are not classified again")
	assert.Equal(t, 2, f.mailbox.fetchCalls, "known messages are not fetched again")
	assert.Equal(t, 2, f.store.recordCount())
	assert.Equal(t, []string{"append:m1", "mark:m1", "append:m2", "mark:m2"}, f.store.ops)
}

func TestRunOnceListFailure(t *testing.T) {
	f := newPollerFixture(inbound("m1", "First"))
	f.mailbox.listErr = []error{errors.New("connection reset")}

	processed, err := f.poller.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, processed)
	assert.Zero(t, f.classifier.calls)
}

func TestRunOnceSkipsFetchFailure(t *testing.T) {
	ctx := context.Background()
	f := newPollerFixture(inbound("m1", "First"), inbound("m2", "Second"))
	f.mailbox.fetchErr["m1"] = errors.New("500")

	processed, err := f.poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.NotContains(t, f.store.processed, "m1")

	// Retried on the next cycle
	delete(f.mailbox.fetchErr, "m1")
	processed, err = f.poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Contains(t, f.store.processed, "m1")
}

func TestRunOnceSkipsOnLedgerLookupFailure(t *testing.T) {
	f := newPollerFixture(inbound("m1", "First"))
	f.store.lookupErr = errors.New("database is locked")

	processed, err := f.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Zero(t, f.mailbox.fetchCalls)
}

func TestRunOnceRetriesAfterAppendFailure(t *testing.T) {
	ctx := context.Background()
	f := newPollerFixture(inbound("m1", "First"))
	f.store.appendErr = errors.New("disk full")

	processed, err := f.poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	f.store.appendErr = nil
	processed, err = f.poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, f.store.recordCount())
}

func TestRunOnceStopsBetweenMessages(t *testing.T) {
	f := newPollerFixture(inbound("m1", "First"), inbound("m2", "Second"))
	f.poller.pacing = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for f.store.recordCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	processed, err := f.poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.NotContains(t, f.store.processed, "m2")
}

func TestRunRecoversFromListErrors(t *testing.T) {
	f := newPollerFixture(inbound("m1", "First"))
	f.mailbox.listErr = []error{errors.New("503"), errors.New("503")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.poller.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return f.store.recordCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}

	f.mailbox.mu.Lock()
	defer f.mailbox.mu.Unlock()
	assert.GreaterOrEqual(t, f.mailbox.listCalls, 3)
}
