package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyhub-backend/application/ports"
	"policyhub-backend/application/readmodels"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/domain/ledger"
	"policyhub-backend/pkg/clock"
	apperrors "policyhub-backend/pkg/errors"
)

var userStream = valueobjects.NewStreamID("acme", valueobjects.UserAggregate, "user-1")

func userEvent(seq int, p events.Payload) events.Event {
	return events.Event{
		EventID:   userStream.String() + "#" + string(rune('a'+seq)),
		Stream:    userStream,
		Sequence:  seq,
		Kind:      p.Kind(),
		Payload:   p,
		Timestamp: time.Date(2025, 1, 1, 0, 0, seq, 0, time.UTC),
	}
}

func TestEventStoreAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(events.DefaultRegistry())

	v, err := store.Append(ctx, userStream, 0, []events.Event{
		userEvent(0, events.UserInitialized{Email: "a@b.c"}),
		userEvent(1, events.UserActivated{}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	loaded, err := store.Load(ctx, userStream)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, events.UserInitialized{Email: "a@b.c"}, loaded[0].Payload)
	assert.Equal(t, 1, loaded[1].Sequence)

	empty, err := store.Load(ctx, valueobjects.NewStreamID("acme", valueobjects.UserAggregate, "nobody"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEventStoreRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(events.DefaultRegistry())
	_, err := store.Append(ctx, userStream, 0, []events.Event{userEvent(0, events.UserInitialized{Email: "a@b.c"})})
	require.NoError(t, err)

	_, err = store.Append(ctx, userStream, 0, []events.Event{userEvent(0, events.UserActivated{})})

	assert.True(t, apperrors.IsConcurrencyConflict(err))
	loaded, _ := store.Load(ctx, userStream)
	assert.Len(t, loaded, 1, "a rejected append writes nothing")
}

func TestEventStoreRejectsGaps(t *testing.T) {
	store := NewEventStore(events.DefaultRegistry())

	_, err := store.Append(context.Background(), userStream, 0, []events.Event{userEvent(1, events.UserInitialized{})})

	assert.True(t, apperrors.IsValidation(err))
}

func TestEventStoreExactlyOneRacingWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(events.DefaultRegistry())
	_, err := store.Append(ctx, userStream, 0, []events.Event{userEvent(0, events.UserInitialized{Email: "a@b.c"})})
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(ctx, userStream, 1, []events.Event{userEvent(1, events.UserBlocked{Reason: "race"})})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		if err == nil {
			wins++
		} else if apperrors.IsConcurrencyConflict(err) {
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}

func TestEventStoreOutbox(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(events.DefaultRegistry())
	evts := []events.Event{
		userEvent(0, events.UserInitialized{Email: "a@b.c"}),
		userEvent(1, events.UserActivated{}),
	}
	_, err := store.Append(ctx, userStream, 0, evts)
	require.NoError(t, err)

	pending, err := store.PendingProjection(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, store.MarkProjected(ctx, evts[:1]))
	pending, err = store.PendingProjection(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Sequence)

	streams, err := store.ListStreams(ctx, "acme", valueobjects.UserAggregate)
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.StreamID{userStream}, streams)
}

func TestLockProviderLeases(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewLockProvider(clk)

	first, err := p.TryAcquire(ctx, "lock:acme:user:1", "a", 5*time.Second)
	require.NoError(t, err)

	_, err = p.TryAcquire(ctx, "lock:acme:user:1", "b", 5*time.Second)
	assert.ErrorIs(t, err, ports.ErrLockHeld)

	renewed, err := p.Renew(ctx, first, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(10*time.Second), renewed.ExpiresAt)

	clk.Advance(11 * time.Second)
	second, err := p.TryAcquire(ctx, "lock:acme:user:1", "b", 5*time.Second)
	require.NoError(t, err, "an expired lease can be taken over")

	assert.ErrorIs(t, p.Release(ctx, first), ports.ErrLockNotHeld)
	assert.NoError(t, p.Release(ctx, second))

	_, err = p.TryAcquire(ctx, "lock:acme:user:1", "c", time.Second)
	assert.NoError(t, err)
}

func TestReadModelStoreCopiesRows(t *testing.T) {
	ctx := context.Background()
	store := NewReadModelStore()
	summary := readmodels.NewPolicySummary("acme", "p-1")
	summary.PolicyNumber = "POL-1"
	require.NoError(t, store.PutPolicySummary(ctx, summary))

	summary.PolicyNumber = "mutated"
	got, err := store.GetPolicySummary(ctx, "acme", "p-1")
	require.NoError(t, err)
	assert.Equal(t, "POL-1", got.PolicyNumber)

	_, err = store.GetPolicySummary(ctx, "other", "p-1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestReadModelStoreRejectsStaleSummaries(t *testing.T) {
	ctx := context.Background()
	store := NewReadModelStore()

	newer := readmodels.NewPolicySummary("acme", "p-1")
	newer.LastSequence = 1
	newer.Deleted = true
	require.NoError(t, store.PutPolicySummary(ctx, newer))

	for _, seq := range []int{0, 1} {
		stale := readmodels.NewPolicySummary("acme", "p-1")
		stale.LastSequence = seq
		assert.ErrorIs(t, store.PutPolicySummary(ctx, stale), ports.ErrStaleWrite)
	}
	got, err := store.GetPolicySummary(ctx, "acme", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.LastSequence)
	assert.True(t, got.Deleted)

	user := readmodels.NewUserSummary("acme", "u-1")
	user.LastSequence = 2
	require.NoError(t, store.PutUserSummary(ctx, user))
	user.LastSequence = 1
	assert.ErrorIs(t, store.PutUserSummary(ctx, user), ports.ErrStaleWrite)
}

func TestReadModelStoreLedgerUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewReadModelStore()
	tx := &ledger.PolicyTransaction{TransactionID: "tx-2", TenantID: "acme", PolicyID: "p-1", EventSequence: 2, Type: ledger.Adjustment}

	require.NoError(t, store.UpsertTransaction(ctx, tx))
	assert.ErrorIs(t, store.UpsertTransaction(ctx, tx), ports.ErrStaleWrite)
	require.NoError(t, store.UpsertTransaction(ctx, &ledger.PolicyTransaction{TransactionID: "tx-0", TenantID: "acme", PolicyID: "p-1", EventSequence: 0, Type: ledger.NewBusiness}))

	txs, err := store.ListTransactions(ctx, "acme", "p-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, 0, txs[0].EventSequence)
	assert.Equal(t, 2, txs[1].EventSequence)

	found, err := store.FindTransaction(ctx, "acme", "p-1", "tx-2")
	require.NoError(t, err)
	assert.Equal(t, ledger.Adjustment, found.Type)

	require.NoError(t, store.DeleteTransactions(ctx, "acme", "p-1"))
	txs, _ = store.ListTransactions(ctx, "acme", "p-1")
	assert.Empty(t, txs)
}
