package projections

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"policyhub-backend/domain/core/aggregates"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/domain/ledger"
	"policyhub-backend/infrastructure/persistence/memory"
	"policyhub-backend/pkg/clock"
)

var (
	testNow    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	policyOne  = valueobjects.NewStreamID("acme", aggregates.PolicyType, "policy-1")
	errFlaking = errors.New("read model offline")
)

type harness struct {
	ctx        context.Context
	clock      *clock.Manual
	store      *memory.EventStore
	readModels *memory.ReadModelStore
	failures   *memory.FailureQueue
	projector  *Projector
	publisher  *recordingPublisher
}

func newHarness(t *testing.T, extra ...Projection) *harness {
	t.Helper()
	h := &harness{
		ctx:        context.Background(),
		clock:      clock.NewManual(testNow),
		store:      memory.NewEventStore(events.DefaultRegistry()),
		readModels: memory.NewReadModelStore(),
		failures:   memory.NewFailureQueue(),
		publisher:  &recordingPublisher{},
	}
	h.projector = NewProjector(h.store, h.failures, events.DefaultRegistry(), nil, nil, h.clock, zap.NewNop())
	require.NoError(t, h.projector.Register(NewPolicySummaryProjection(h.readModels)))
	require.NoError(t, h.projector.Register(NewTransactionLedgerProjection(h.readModels)))
	require.NoError(t, h.projector.Register(NewUserSummaryProjection(h.readModels)))
	require.NoError(t, h.projector.Register(NewIntegrationEventsProjection(h.publisher)))
	for _, p := range extra {
		require.NoError(t, h.projector.Register(p))
	}
	return h
}

func calc(premium int64) ledger.CalculationResult {
	return ledger.NewCalculationResult(decimal.NewFromInt(premium), decimal.NewFromInt(premium/10), "USD")
}

// commitPolicy runs mutate on the current policy and appends what it raised
func (h *harness) commitPolicy(t *testing.T, mutate func(p *aggregates.Policy) error) []events.Event {
	t.Helper()
	policy := aggregates.NewPolicy(policyOne, h.clock)
	history, err := h.store.Load(h.ctx, policyOne)
	require.NoError(t, err)
	for _, evt := range history {
		require.NoError(t, policy.Apply(evt))
	}
	require.NoError(t, mutate(policy))
	pending := policy.Uncommitted()
	_, err = h.store.Append(h.ctx, policyOne, policy.CommittedVersion(), pending)
	require.NoError(t, err)
	return pending
}

func issue(p *aggregates.Policy) error {
	return p.Issue(aggregates.IssueTerms{
		TransactionID: "tx-nb",
		PolicyNumber:  "POL-1",
		CustomerID:    "cust-1",
		ProductCode:   "HOME",
		TimeZone:      "America/New_York",
		Effective:     valueobjects.NewLocalDateTime(2025, time.January, 1, 0, 0, 0),
		Expiry:        valueobjects.NewLocalDateTime(2026, time.January, 1, 0, 0, 0),
		Calculation:   calc(1200),
	})
}

func adjust(p *aggregates.Policy) error {
	return p.Adjust(aggregates.AdjustmentTerms{
		TransactionID: "tx-adj",
		Effective:     valueobjects.NewLocalDateTime(2025, time.June, 1, 0, 0, 0),
		Calculation:   calc(1500),
	})
}

func correctAdjustment(p *aggregates.Policy) error {
	fixed := calc(1400)
	return p.CorrectTransaction(aggregates.CorrectionTerms{
		TransactionID: "tx-adj",
		Reason:        "rating error",
		Calculation:   &fixed,
	})
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evts []events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, evts...)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// flakyProjection fails until healed
type flakyProjection struct {
	BaseProjection
	mu      sync.Mutex
	healthy bool
	applied []int
}

func newFlakyProjection() *flakyProjection {
	return &flakyProjection{BaseProjection: NewBaseProjection("flaky", events.KindPolicyIssued, events.KindPolicyAdjusted)}
}

func (p *flakyProjection) heal() {
	p.mu.Lock()
	p.healthy = true
	p.mu.Unlock()
}

func (p *flakyProjection) Apply(ctx context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.healthy {
		return errFlaking
	}
	p.applied = append(p.applied, evt.Sequence)
	return nil
}

func (p *flakyProjection) Reset(ctx context.Context, stream valueobjects.StreamID) error {
	p.mu.Lock()
	p.applied = nil
	p.mu.Unlock()
	return nil
}
