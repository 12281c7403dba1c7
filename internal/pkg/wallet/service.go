package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/internal/pkg/database"
	"github.com/ManuelReschke/StreamPass/internal/pkg/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service is the wallet ledger. Every balance change is an immutable entry and
// the cached account balance is updated in the same transaction.
type Service struct {
	db       *gorm.DB
	currency string
	now      func() time.Time
}

// Options configures a Service.
type Options struct {
	Currency string
	Now      func() time.Time
}

// NewService creates a ledger backed by db.
func NewService(db *gorm.DB, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "EUR"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{db: db, currency: strings.ToUpper(opts.Currency), now: opts.Now}
}

// ApplyEntry posts a single entry. The bool result reports a replay.
func (s *Service) ApplyEntry(ctx context.Context, req EntryRequest) (*models.LedgerEntry, bool, error) {
	res, err := s.Post(ctx, Posting{Entries: []EntryRequest{req}})
	if err != nil {
		return nil, false, err
	}
	return res.Primary(), res.Replayed, nil
}

// Post applies the posting in its own transaction. A posting whose primary key
// was already applied returns the stored entries with Replayed set.
func (s *Service) Post(ctx context.Context, p Posting) (*Result, error) {
	kind := ""
	if len(p.Entries) > 0 {
		kind = p.Entries[0].Kind
	}
	if err := p.validate(); err != nil {
		metrics.LedgerPosting(kind, metrics.OutcomeRejected)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var res *Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.PostTx(tx, p)
		return err
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// Lost the insert race; the winner's entries are the answer.
		replay, rerr := s.findReplay(s.db.WithContext(ctx), p)
		if rerr != nil {
			return nil, rerr
		}
		if replay != nil {
			metrics.LedgerPosting(kind, metrics.OutcomeReplayed)
			return replay, nil
		}
	}
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrIdempotencyConflict) {
			outcome = metrics.OutcomeRejected
		}
		metrics.LedgerPosting(kind, outcome)
		return nil, err
	}

	if res.Replayed {
		metrics.LedgerPosting(kind, metrics.OutcomeReplayed)
	} else {
		metrics.LedgerPosting(kind, metrics.OutcomeOK)
	}
	return res, nil
}

// PostTx applies the posting inside the caller's transaction. Account rows are
// locked in ascending id order; callers composing several postings in one
// transaction must keep that order themselves.
func (s *Service) PostTx(tx *gorm.DB, p Posting) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	replay, err := s.findReplay(tx, p)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	credited := make(map[string]bool)
	idSet := make(map[string]struct{})
	for _, e := range p.Entries {
		id := strings.TrimSpace(e.AccountID)
		idSet[id] = struct{}{}
		if e.Amount > 0 {
			credited[id] = true
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	accounts, err := s.lockAccounts(tx, ids, credited)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	balances := make(map[string]int64, len(accounts))
	for id, acc := range accounts {
		balances[id] = acc.Balance
	}

	entries := make([]models.LedgerEntry, 0, len(p.Entries))
	for _, req := range p.Entries {
		accountID := strings.TrimSpace(req.AccountID)
		balance, ok := balances[accountID]
		if !ok {
			return nil, fmt.Errorf("%w: account %s does not exist", ErrInsufficientFunds, accountID)
		}
		next, err := safeAdd(balance, req.Amount)
		if err != nil {
			return nil, err
		}
		if next < 0 {
			return nil, fmt.Errorf("%w: account %s has %d, needs %d", ErrInsufficientFunds, accountID, balance, -req.Amount)
		}
		balances[accountID] = next

		entry := models.LedgerEntry{
			ID:              uuid.NewString(),
			AccountID:       accountID,
			Amount:          req.Amount,
			Kind:            req.Kind,
			IdempotencyKey:  strings.TrimSpace(req.IdempotencyKey),
			RelatedEntityID: req.RelatedEntityID,
			BalanceAfter:    next,
			CreatedAt:       now,
		}
		if req.ReversalOf != "" {
			reversalOf := req.ReversalOf
			entry.ReversalOf = &reversalOf
		}
		entries = append(entries, entry)
	}

	if err := tx.Create(&entries).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, fmt.Errorf("insert ledger entries: %w", err)
	}

	for _, id := range ids {
		delta := balances[id] - accounts[id].Balance
		if delta == 0 {
			continue
		}
		res := tx.Model(&models.Account{}).
			Where("id = ? AND balance + ? >= 0", id, delta).
			UpdateColumns(map[string]interface{}{
				"balance":    gorm.Expr("balance + ?", delta),
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("update balance of %s: %w", id, res.Error)
		}
		if res.RowsAffected != 1 {
			return nil, fmt.Errorf("%w: account %s", ErrInsufficientFunds, id)
		}
	}

	return &Result{Entries: entries}, nil
}

// lockAccounts selects the accounts FOR UPDATE in id order, creating credited
// accounts that do not exist yet.
func (s *Service) lockAccounts(tx *gorm.DB, ids []string, credited map[string]bool) (map[string]models.Account, error) {
	var rows []models.Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}

	accounts := make(map[string]models.Account, len(ids))
	for _, acc := range rows {
		accounts[acc.ID] = acc
	}

	for _, id := range ids {
		if _, ok := accounts[id]; ok || !credited[id] {
			continue
		}
		acc := models.Account{ID: id, Currency: s.currency}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acc).Error; err != nil {
			return nil, fmt.Errorf("create account %s: %w", id, err)
		}
		var locked models.Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&locked).Error; err != nil {
			return nil, fmt.Errorf("lock account %s: %w", id, err)
		}
		accounts[id] = locked
	}
	return accounts, nil
}

// findReplay returns the stored result when the posting's primary key exists.
func (s *Service) findReplay(db *gorm.DB, p Posting) (*Result, error) {
	keys := p.keys()
	var existing []models.LedgerEntry
	if err := db.Where("idempotency_key IN ?", keys).Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("lookup idempotency keys: %w", err)
	}
	if len(existing) == 0 {
		return nil, nil
	}

	byKey := make(map[string]models.LedgerEntry, len(existing))
	for _, e := range existing {
		byKey[e.IdempotencyKey] = e
	}
	primary, ok := byKey[keys[0]]
	if !ok {
		return nil, fmt.Errorf("%w: secondary key already posted", ErrIdempotencyConflict)
	}
	first := p.Entries[0]
	if primary.AccountID != strings.TrimSpace(first.AccountID) || primary.Amount != first.Amount {
		return nil, fmt.Errorf("%w: %s", ErrIdempotencyConflict, keys[0])
	}

	res := &Result{Replayed: true}
	for _, key := range keys {
		if e, ok := byKey[key]; ok {
			res.Entries = append(res.Entries, e)
		}
	}
	return res, nil
}

// Transfer moves amount from one account to another. Debit kinds that pay a
// performer (purchase, tip, subscription charge) credit the payee as earning.
func (s *Service) Transfer(ctx context.Context, from, to string, amount int64, kind, key, related string) (*Result, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: transfer amount must be positive", ErrInvalidEntry)
	}
	if strings.TrimSpace(from) == strings.TrimSpace(to) {
		return nil, fmt.Errorf("%w: transfer to the same account", ErrInvalidEntry)
	}
	creditKind := kind
	switch kind {
	case models.LedgerKindPurchase, models.LedgerKindTip, models.LedgerKindSubscriptionCharge:
		creditKind = models.LedgerKindEarning
	}
	return s.Post(ctx, Posting{Entries: []EntryRequest{
		{AccountID: from, Amount: -amount, Kind: kind, IdempotencyKey: key, RelatedEntityID: related},
		{AccountID: to, Amount: amount, Kind: creditKind, IdempotencyKey: key + ":credit", RelatedEntityID: related},
	}})
}

// Credit adds a positive amount to an account, creating it if needed.
func (s *Service) Credit(ctx context.Context, accountID string, amount int64, kind, key, related string) (*models.LedgerEntry, bool, error) {
	if amount <= 0 {
		return nil, false, fmt.Errorf("%w: credit amount must be positive", ErrInvalidEntry)
	}
	return s.ApplyEntry(ctx, EntryRequest{AccountID: accountID, Amount: amount, Kind: kind, IdempotencyKey: key, RelatedEntityID: related})
}

// Payout debits a performer wallet for an external payout.
func (s *Service) Payout(ctx context.Context, accountID string, amount int64, key string) (*models.LedgerEntry, bool, error) {
	if amount <= 0 {
		return nil, false, fmt.Errorf("%w: payout amount must be positive", ErrInvalidEntry)
	}
	entry, replayed, err := s.ApplyEntry(ctx, EntryRequest{
		AccountID:      accountID,
		Amount:         -amount,
		Kind:           models.LedgerKindPayout,
		IdempotencyKey: key,
	})
	if err == nil && !replayed {
		log.Infof("[Wallet] Payout of %d from %s posted as %s", amount, accountID, entry.ID)
	}
	return entry, replayed, err
}

// Reverse appends the entry offsetting entryID: a refund for a debit, an
// adjustment for a credit. Reversing the same entry again is a replay.
func (s *Service) Reverse(ctx context.Context, entryID string) (*models.LedgerEntry, bool, error) {
	orig, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return nil, false, err
	}
	if orig.ReversalOf != nil {
		return nil, false, ErrReverseOfReversal
	}

	kind := models.LedgerKindAdjustment
	if orig.IsDebit() {
		kind = models.LedgerKindRefund
	}
	entry, replayed, err := s.ApplyEntry(ctx, EntryRequest{
		AccountID:       orig.AccountID,
		Amount:          -orig.Amount,
		Kind:            kind,
		IdempotencyKey:  ReverseKey(orig.ID),
		RelatedEntityID: orig.RelatedEntityID,
		ReversalOf:      orig.ID,
	})
	if err != nil {
		return nil, false, err
	}
	if !replayed {
		log.Infof("[Wallet] Reversed entry %s on %s with %s (%d)", orig.ID, orig.AccountID, entry.ID, entry.Amount)
	}
	return entry, replayed, nil
}

// GetEntry loads a single ledger entry.
func (s *Service) GetEntry(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := s.db.WithContext(ctx).Where("id = ?", entryID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Balance returns the account, or a zero-balance account if none exists yet.
func (s *Service) Balance(ctx context.Context, accountID string) (*models.Account, error) {
	var acc models.Account
	err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Account{ID: accountID, Currency: s.currency}, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// ListEntries returns the newest entries of an account first.
func (s *Service) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

// EntriesBetween returns all entries created in [from, to) in creation order.
func (s *Service) EntriesBetween(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at ASC").
		Order("account_id ASC").
		Find(&entries).Error
	return entries, err
}

// Reconcile recomputes the balance of one account from its entries.
func (s *Service) Reconcile(ctx context.Context, accountID string) (*Reconciliation, error) {
	acc, err := s.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var agg struct {
		Total int64
		Count int64
	}
	if err := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("account_id = ?", accountID).
		Scan(&agg).Error; err != nil {
		return nil, err
	}
	rec := &Reconciliation{
		AccountID:     accountID,
		CachedBalance: acc.Balance,
		LedgerBalance: agg.Total,
		Drift:         acc.Balance - agg.Total,
		EntryCount:    agg.Count,
	}
	if rec.Drift != 0 {
		log.Errorf("[Wallet] Balance drift on %s: cached=%d ledger=%d", accountID, rec.CachedBalance, rec.LedgerBalance)
	}
	return rec, nil
}

// ReconcileAll reports every account whose cached balance has drifted.
func (s *Service) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	var rows []Reconciliation
	err := s.db.WithContext(ctx).Raw(`
		SELECT a.id AS account_id,
		       a.balance AS cached_balance,
		       COALESCE(SUM(e.amount), 0) AS ledger_balance,
		       a.balance - COALESCE(SUM(e.amount), 0) AS drift,
		       COUNT(e.id) AS entry_count
		FROM accounts a
		LEFT JOIN ledger_entries e ON e.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(e.amount), 0)`).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		log.Errorf("[Wallet] Balance drift on %s: cached=%d ledger=%d", r.AccountID, r.CachedBalance, r.LedgerBalance)
	}
	return rows, nil
}
