package wallet

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ManuelReschke/StreamPass/app/models"
)

var (
	ErrInvalidEntry        = errors.New("invalid ledger entry")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrReverseOfReversal   = errors.New("a reversal entry cannot be reversed")
	ErrBalanceOverflow     = errors.New("balance out of range")

	// ErrDuplicateIdempotencyKey is returned by PostTx when a concurrent
	// transaction committed the same key first. The caller must roll back;
	// Post turns it into a replay automatically.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already posted")
)

const maxKeyLength = 191

// EntryRequest is one signed balance movement to be posted.
type EntryRequest struct {
	AccountID       string
	Amount          int64
	Kind            string
	IdempotencyKey  string
	RelatedEntityID string
	ReversalOf      string
}

// Posting groups entries that must be applied atomically. The first entry's
// idempotency key identifies the whole posting for replay detection.
type Posting struct {
	Entries []EntryRequest
}

// Result is the outcome of a posting. Replayed is true when the posting had
// already been applied and nothing changed.
type Result struct {
	Entries  []models.LedgerEntry
	Replayed bool
}

// Primary returns the entry of the posting's first request.
func (r *Result) Primary() *models.LedgerEntry {
	if r == nil || len(r.Entries) == 0 {
		return nil
	}
	return &r.Entries[0]
}

// Reconciliation compares the cached balance with the sum of the ledger.
type Reconciliation struct {
	AccountID     string `json:"account_id"`
	CachedBalance int64  `json:"cached_balance"`
	LedgerBalance int64  `json:"ledger_balance"`
	Drift         int64  `json:"drift"`
	EntryCount    int64  `json:"entry_count"`
}

// SplitRequest describes a payment from a payer to a payee with a platform
// commission carved out of the payee's share.
type SplitRequest struct {
	PayerID           string
	PayeeID           string
	PlatformAccountID string
	Amount            int64
	CommissionPercent int64
	Kind              string
	IdempotencyKey    string
	RelatedEntityID   string
}

// SplitPosting builds the payer debit, the payee earning and the platform
// commission entries for one payment. Secondary keys derive from the primary
// key so a replay of the payment replays every leg.
func SplitPosting(req SplitRequest) Posting {
	fee := int64(0)
	if req.PlatformAccountID != "" && req.CommissionPercent > 0 && req.Amount > 0 {
		pct := req.CommissionPercent
		if pct > 100 {
			pct = 100
		}
		fee = (req.Amount/100)*pct + (req.Amount%100)*pct/100
	}

	entries := []EntryRequest{{
		AccountID:       req.PayerID,
		Amount:          -req.Amount,
		Kind:            req.Kind,
		IdempotencyKey:  req.IdempotencyKey,
		RelatedEntityID: req.RelatedEntityID,
	}}
	if share := req.Amount - fee; share > 0 {
		entries = append(entries, EntryRequest{
			AccountID:       req.PayeeID,
			Amount:          share,
			Kind:            models.LedgerKindEarning,
			IdempotencyKey:  req.IdempotencyKey + ":earning",
			RelatedEntityID: req.RelatedEntityID,
		})
	}
	if fee > 0 {
		entries = append(entries, EntryRequest{
			AccountID:       req.PlatformAccountID,
			Amount:          fee,
			Kind:            models.LedgerKindEarning,
			IdempotencyKey:  req.IdempotencyKey + ":commission",
			RelatedEntityID: req.RelatedEntityID,
		})
	}
	return Posting{Entries: entries}
}

// ReverseKey is the idempotency key of the entry offsetting entryID.
func ReverseKey(entryID string) string {
	return "reverse:" + entryID
}

func (p Posting) validate() error {
	if len(p.Entries) == 0 {
		return fmt.Errorf("%w: posting has no entries", ErrInvalidEntry)
	}
	seen := make(map[string]struct{}, len(p.Entries))
	for i, e := range p.Entries {
		if strings.TrimSpace(e.AccountID) == "" {
			return fmt.Errorf("%w: entry %d has no account", ErrInvalidEntry, i)
		}
		if e.Amount == 0 {
			return fmt.Errorf("%w: entry %d has zero amount", ErrInvalidEntry, i)
		}
		if e.Amount == math.MinInt64 {
			return fmt.Errorf("%w: entry %d amount out of range", ErrInvalidEntry, i)
		}
		if !models.IsValidLedgerKind(e.Kind) {
			return fmt.Errorf("%w: entry %d has unknown kind %q", ErrInvalidEntry, i, e.Kind)
		}
		key := strings.TrimSpace(e.IdempotencyKey)
		if key == "" || len(key) > maxKeyLength {
			return fmt.Errorf("%w: entry %d needs an idempotency key of at most %d bytes", ErrInvalidEntry, i, maxKeyLength)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate idempotency key %q in posting", ErrInvalidEntry, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (p Posting) keys() []string {
	keys := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		keys[i] = strings.TrimSpace(e.IdempotencyKey)
	}
	return keys
}

func safeAdd(a int64, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrBalanceOverflow
	}
	return a + b, nil
}
