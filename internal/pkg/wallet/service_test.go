package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/internal/pkg/testdb"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testdb.New(t)
	return NewService(db, Options{Currency: "eur"}), db
}

func fund(t *testing.T, s *Service, accountID string, amount int64) {
	t.Helper()
	_, _, err := s.Credit(context.Background(), accountID, amount, models.LedgerKindTopUp, "seed:"+accountID, "")
	require.NoError(t, err)
}

func balanceOf(t *testing.T, s *Service, accountID string) int64 {
	t.Helper()
	acc, err := s.Balance(context.Background(), accountID)
	require.NoError(t, err)
	return acc.Balance
}

func TestApplyEntry_CreditCreatesAccount(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	entry, replayed, err := s.ApplyEntry(ctx, EntryRequest{AccountID: "u1", Amount: 1000, Kind: models.LedgerKindTopUp, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(1000), entry.BalanceAfter)

	acc, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acc.Balance)
	assert.Equal(t, "EUR", acc.Currency)
}

func TestApplyEntry_ReplayReturnsSameEntry(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	fund(t, s, "u1", 1000)

	req := EntryRequest{AccountID: "u1", Amount: -250, Kind: models.LedgerKindPurchase, IdempotencyKey: "purchase:abc"}
	first, replayed, err := s.ApplyEntry(ctx, req)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := s.ApplyEntry(ctx, req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(750), balanceOf(t, s, "u1"))

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Where("idempotency_key = ?", "purchase:abc").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyEntry_KeyReuseWithDifferentAmount(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	fund(t, s, "u1", 1000)

	_, _, err := s.ApplyEntry(ctx, EntryRequest{AccountID: "u1", Amount: -100, Kind: models.LedgerKindTip, IdempotencyKey: "tip:1"})
	require.NoError(t, err)
	_, _, err = s.ApplyEntry(ctx, EntryRequest{AccountID: "u1", Amount: -200, Kind: models.LedgerKindTip, IdempotencyKey: "tip:1"})
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.Equal(t, int64(900), balanceOf(t, s, "u1"))
}

func TestApplyEntry_InsufficientFunds(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()

	_, _, err := s.ApplyEntry(ctx, EntryRequest{AccountID: "ghost", Amount: -1, Kind: models.LedgerKindPurchase, IdempotencyKey: "p:ghost"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	fund(t, s, "u1", 100)
	_, _, err = s.ApplyEntry(ctx, EntryRequest{AccountID: "u1", Amount: -101, Kind: models.LedgerKindPurchase, IdempotencyKey: "p:1"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(100), balanceOf(t, s, "u1"))

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Where("idempotency_key = ?", "p:1").Count(&count).Error)
	assert.Zero(t, count)

	var ghosts int64
	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", "ghost").Count(&ghosts).Error)
	assert.Zero(t, ghosts)
}

func TestPost_Validation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		posting Posting
	}{
		{"empty", Posting{}},
		{"zero amount", Posting{Entries: []EntryRequest{{AccountID: "a", Amount: 0, Kind: models.LedgerKindTip, IdempotencyKey: "k"}}}},
		{"no account", Posting{Entries: []EntryRequest{{Amount: 5, Kind: models.LedgerKindTip, IdempotencyKey: "k"}}}},
		{"unknown kind", Posting{Entries: []EntryRequest{{AccountID: "a", Amount: 5, Kind: "gift", IdempotencyKey: "k"}}}},
		{"no key", Posting{Entries: []EntryRequest{{AccountID: "a", Amount: 5, Kind: models.LedgerKindTip}}}},
		{"duplicate keys", Posting{Entries: []EntryRequest{
			{AccountID: "a", Amount: 5, Kind: models.LedgerKindTopUp, IdempotencyKey: "k"},
			{AccountID: "b", Amount: 5, Kind: models.LedgerKindTopUp, IdempotencyKey: "k"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Post(ctx, tt.posting)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
}

func TestPost_ConcurrentDistinctDebitsNeverOverdraw(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	fund(t, s, "buyer", 1000)

	const workers = 50
	var wg sync.WaitGroup
	var ok, rejected int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.ApplyEntry(ctx, EntryRequest{
				AccountID:      "buyer",
				Amount:         -30,
				Kind:           models.LedgerKindPurchase,
				IdempotencyKey: fmt.Sprintf("debit:%d", i),
			})
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, ErrInsufficientFunds):
				atomic.AddInt64(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(33), ok)
	assert.Equal(t, int64(workers-33), rejected)
	assert.Equal(t, int64(10), balanceOf(t, s, "buyer"))

	var sum int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Select("COALESCE(SUM(amount),0)").Where("account_id = ?", "buyer").Scan(&sum).Error)
	assert.Equal(t, int64(10), sum)
}

func TestPost_ConcurrentSameKeyAppliesOnce(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	fund(t, s, "buyer", 1000)

	var wg sync.WaitGroup
	var replays int64
	ids := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, replayed, err := s.ApplyEntry(ctx, EntryRequest{AccountID: "buyer", Amount: -100, Kind: models.LedgerKindTip, IdempotencyKey: "tip:buyer:req-1"})
			if !assert.NoError(t, err) {
				return
			}
			if replayed {
				atomic.AddInt64(&replays, 1)
			}
			ids <- entry.ID
		}()
	}
	wg.Wait()
	close(ids)

	distinct := map[string]struct{}{}
	for id := range ids {
		distinct[id] = struct{}{}
	}
	assert.Len(t, distinct, 1)
	assert.Equal(t, int64(19), replays)
	assert.Equal(t, int64(900), balanceOf(t, s, "buyer"))

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Where("account_id = ? AND kind = ?", "buyer", models.LedgerKindTip).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSplitPosting_CommissionAndEarning(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	fund(t, s, "fan", 1000)

	p := SplitPosting(SplitRequest{
		PayerID:           "fan",
		PayeeID:           "performer",
		PlatformAccountID: "platform",
		Amount:            999,
		CommissionPercent: 20,
		Kind:              models.LedgerKindPurchase,
		IdempotencyKey:    "purchase:x",
		RelatedEntityID:   "content-1",
	})
	require.Len(t, p.Entries, 3)

	res, err := s.Post(ctx, p)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(-999), res.Primary().Amount)

	assert.Equal(t, int64(1), balanceOf(t, s, "fan"))
	assert.Equal(t, int64(800), balanceOf(t, s, "performer"))
	assert.Equal(t, int64(199), balanceOf(t, s, "platform"))

	replay, err := s.Post(ctx, p)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Len(t, replay.Entries, 3)
	assert.Equal(t, int64(800), balanceOf(t, s, "performer"))
}

func TestSplitPosting_NoPlatformMeansNoFee(t *testing.T) {
	p := SplitPosting(SplitRequest{PayerID: "a", PayeeID: "b", Amount: 100, CommissionPercent: 30, Kind: models.LedgerKindTip, IdempotencyKey: "tip:a:1"})
	require.Len(t, p.Entries, 2)
	assert.Equal(t, int64(100), p.Entries[1].Amount)
}

func TestPostTx_RollsBackWithCallerTransaction(t *testing.T) {
	s, db := newTestService(t)
	fund(t, s, "buyer", 500)

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := s.PostTx(tx, Posting{Entries: []EntryRequest{{AccountID: "buyer", Amount: -200, Kind: models.LedgerKindPurchase, IdempotencyKey: "purchase:rollback"}}})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(500), balanceOf(t, s, "buyer"))

	_, err = s.GetEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestTransfer(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	fund(t, s, "a", 300)

	res, err := s.Transfer(ctx, "a", "b", 120, models.LedgerKindTip, "tip:a:t1", "b")
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, models.LedgerKindEarning, res.Entries[1].Kind)
	assert.Equal(t, int64(180), balanceOf(t, s, "a"))
	assert.Equal(t, int64(120), balanceOf(t, s, "b"))

	_, err = s.Transfer(ctx, "a", "a", 10, models.LedgerKindAdjustment, "self", "")
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = s.Transfer(ctx, "a", "b", 1000, models.LedgerKindTip, "tip:a:t2", "b")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(120), balanceOf(t, s, "b"))
}

func TestReverse(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	fund(t, s, "u1", 1000)

	debit, _, err := s.ApplyEntry(ctx, EntryRequest{AccountID: "u1", Amount: -250, Kind: models.LedgerKindPurchase, IdempotencyKey: "purchase:r"})
	require.NoError(t, err)

	rev, replayed, err := s.Reverse(ctx, debit.ID)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(250), rev.Amount)
	assert.Equal(t, models.LedgerKindRefund, rev.Kind)
	require.NotNil(t, rev.ReversalOf)
	assert.Equal(t, debit.ID, *rev.ReversalOf)
	assert.Equal(t, ReverseKey(debit.ID), rev.IdempotencyKey)
	assert.Equal(t, int64(1000), balanceOf(t, s, "u1"))

	again, replayed, err := s.Reverse(ctx, debit.ID)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, rev.ID, again.ID)
	assert.Equal(t, int64(1000), balanceOf(t, s, "u1"))

	_, _, err = s.Reverse(ctx, rev.ID)
	assert.ErrorIs(t, err, ErrReverseOfReversal)

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Where("account_id = ?", "u1").Count(&count).Error)
	assert.Equal(t, int64(3), count)

	_, _, err = s.Reverse(ctx, "nope")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestReverse_CreditAlreadySpent(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	credit, _, err := s.Credit(ctx, "u1", 100, models.LedgerKindTopUp, "topup:u1:1", "")
	require.NoError(t, err)
	_, _, err = s.Payout(ctx, "u1", 60, "payout:u1:1")
	require.NoError(t, err)

	_, _, err = s.Reverse(ctx, credit.ID)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(40), balanceOf(t, s, "u1"))
}

func TestPayoutAndCreditValidation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := s.Payout(ctx, "u1", 0, "payout:0")
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, _, err = s.Credit(ctx, "u1", -5, models.LedgerKindAdjustment, "adj:1", "")
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, _, err = s.Payout(ctx, "u1", 10, "payout:1")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestListEntries(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := testdb.New(t)
	s := NewService(db, Options{Now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := s.Credit(ctx, "u1", int64(i+1), models.LedgerKindTopUp, fmt.Sprintf("topup:%d", i), "")
		require.NoError(t, err)
	}

	page, err := s.ListEntries(ctx, "u1", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Amount)
	assert.Equal(t, int64(4), page[1].Amount)

	page, err = s.ListEntries(ctx, "u1", 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(1), page[0].Amount)

	from := time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC)
	between, err := s.EntriesBetween(ctx, from, from.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.Equal(t, int64(2), between[0].Amount)
}

func TestReconcile(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	fund(t, s, "u1", 500)
	fund(t, s, "u2", 70)

	rec, err := s.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, rec.Drift)
	assert.Equal(t, int64(1), rec.EntryCount)

	drifted, err := s.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifted)

	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", "u1").UpdateColumn("balance", 510).Error)

	rec, err = s.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.Drift)

	drifted, err = s.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	assert.Equal(t, "u1", drifted[0].AccountID)
	assert.Equal(t, int64(500), drifted[0].LedgerBalance)
}

func TestLedgerEntriesAreImmutable(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	entry, _, err := s.Credit(ctx, "u1", 10, models.LedgerKindTopUp, "topup:imm", "")
	require.NoError(t, err)

	err = db.Model(entry).Update("amount", 99).Error
	assert.ErrorIs(t, err, models.ErrLedgerEntryImmutable)
	err = db.Delete(entry).Error
	assert.ErrorIs(t, err, models.ErrLedgerEntryImmutable)

	stored, err := s.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Amount)
}
