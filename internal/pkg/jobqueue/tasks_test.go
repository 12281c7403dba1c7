package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/internal/pkg/ledgerexport"
	"github.com/ManuelReschke/StreamPass/internal/pkg/subscription"
	"github.com/ManuelReschke/StreamPass/internal/pkg/wallet"
)

type fakeSubscriptions struct {
	mu       sync.Mutex
	renewErr error
	renewed  []string
	due      []models.Subscription
	window   time.Duration
	grace    time.Duration
}

func (f *fakeSubscriptions) Renew(ctx context.Context, id string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewed = append(f.renewed, id)
	if f.renewErr != nil {
		return nil, f.renewErr
	}
	return &models.Subscription{ID: id}, nil
}

func (f *fakeSubscriptions) DueForRenewal(ctx context.Context, limit int) ([]models.Subscription, error) {
	return f.due, nil
}

func (f *fakeSubscriptions) MarkExpiring(ctx context.Context, window time.Duration) (int64, error) {
	f.window = window
	return 2, nil
}

func (f *fakeSubscriptions) ExpireLapsed(ctx context.Context, grace time.Duration) (int64, error) {
	f.grace = grace
	return 1, nil
}

func (f *fakeSubscriptions) Now() time.Time { return time.Now() }

type fakePurger struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePurger) PurgeRevocations(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0, nil
}

func (f *fakePurger) Now() time.Time { return time.Now() }

type fakeReconciler struct {
	rows []wallet.Reconciliation
}

func (f *fakeReconciler) ReconcileAll(ctx context.Context) ([]wallet.Reconciliation, error) {
	return f.rows, nil
}

type fakeExporter struct {
	days []time.Time
	err  error
}

func (f *fakeExporter) ExportDay(ctx context.Context, day time.Time) (*ledgerexport.Result, error) {
	f.days = append(f.days, day)
	if f.err != nil {
		return nil, f.err
	}
	return &ledgerexport.Result{ObjectKey: "ledger/x.jsonl"}, nil
}

func TestRenewSubscription(t *testing.T) {
	tests := []struct {
		name      string
		payload   map[string]interface{}
		renewErr  error
		wantErr   bool
		permanent bool
	}{
		{name: "renewed", payload: SubscriptionRenewalPayload{SubscriptionID: "sub-1"}.ToMap()},
		{name: "declined charge is final", payload: SubscriptionRenewalPayload{SubscriptionID: "sub-1"}.ToMap(),
			renewErr: fmt.Errorf("%w: %w", subscription.ErrRenewalFailed, wallet.ErrInsufficientFunds)},
		{name: "not due", payload: SubscriptionRenewalPayload{SubscriptionID: "sub-1"}.ToMap(),
			renewErr: subscription.ErrRenewalNotDue, wantErr: true, permanent: true},
		{name: "terminal", payload: SubscriptionRenewalPayload{SubscriptionID: "sub-1"}.ToMap(),
			renewErr: subscription.ErrSubscriptionTerminal, wantErr: true, permanent: true},
		{name: "transient", payload: SubscriptionRenewalPayload{SubscriptionID: "sub-1"}.ToMap(),
			renewErr: errors.New("connection reset"), wantErr: true},
		{name: "missing id", payload: map[string]interface{}{}, wantErr: true, permanent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := &fakeSubscriptions{renewErr: tt.renewErr}
			tasks := &Tasks{Subscriptions: subs}

			err := tasks.renewSubscription(context.Background(), &Job{Payload: tt.payload})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, ErrPermanent))
		})
	}
}

func TestSweepSubscriptions(t *testing.T) {
	subs := &fakeSubscriptions{}
	tasks := &Tasks{Subscriptions: subs, RenewalWindow: 48 * time.Hour, GracePeriod: time.Hour}

	require.NoError(t, tasks.sweepSubscriptions(context.Background(), &Job{}))
	assert.Equal(t, 48*time.Hour, subs.window)
	assert.Equal(t, time.Hour, subs.grace)
}

func TestReconcileLedger(t *testing.T) {
	tasks := &Tasks{Ledger: &fakeReconciler{rows: []wallet.Reconciliation{{AccountID: "fan"}}}}
	assert.NoError(t, tasks.reconcileLedger(context.Background(), &Job{}))

	tasks = &Tasks{Ledger: &fakeReconciler{rows: []wallet.Reconciliation{
		{AccountID: "fan"},
		{AccountID: "perf", CachedBalance: 10, LedgerBalance: 7, Drift: 3},
	}}}
	err := tasks.reconcileLedger(context.Background(), &Job{})
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestExportLedger(t *testing.T) {
	exp := &fakeExporter{}
	tasks := &Tasks{Exporter: exp}

	require.NoError(t, tasks.exportLedger(context.Background(), &Job{Payload: LedgerExportPayload{Day: "2026-03-04"}.ToMap()}))
	require.Len(t, exp.days, 1)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), exp.days[0])

	err := tasks.exportLedger(context.Background(), &Job{Payload: LedgerExportPayload{Day: "yesterday"}.ToMap()})
	assert.ErrorIs(t, err, ErrPermanent)

	exp.err = errors.New("s3 down")
	err = tasks.exportLedger(context.Background(), &Job{Payload: LedgerExportPayload{Day: "2026-03-04"}.ToMap()})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPermanent))
}

func TestPurgeRevocationsTask(t *testing.T) {
	purger := &fakePurger{}
	tasks := &Tasks{Tokens: purger}
	require.NoError(t, tasks.purgeRevocations(context.Background(), &Job{}))
	assert.Equal(t, 1, purger.calls)
}

func TestEnqueueDueRenewals(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	end := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	subs := &fakeSubscriptions{due: []models.Subscription{
		{ID: "sub-1", CurrentPeriodEnd: end},
		{ID: "sub-2", CurrentPeriodEnd: end},
	}}
	tasks := &Tasks{Subscriptions: subs}
	tasks.Register(q)

	n, err := tasks.EnqueueDueRenewals(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Already queued for this period
	n, err = tasks.EnqueueDueRenewals(ctx, q)
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 0; i < 2; i++ {
		processed, err := q.ProcessNext(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, processed)
	}
	assert.ElementsMatch(t, []string{"sub-1", "sub-2"}, subs.renewed)
}
