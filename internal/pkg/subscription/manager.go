package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/app/repository"
	"github.com/ManuelReschke/StreamPass/internal/pkg/metrics"
	"github.com/ManuelReschke/StreamPass/internal/pkg/wallet"
)

var (
	ErrInvalidRequest       = errors.New("invalid subscription request")
	ErrNotFound             = errors.New("subscription not found")
	ErrPlanUnavailable      = errors.New("performer does not offer this plan")
	ErrRenewalNotDue        = errors.New("subscription renewal is not due yet")
	ErrSubscriptionTerminal = errors.New("subscription is expired or cancelled")
	ErrRenewalFailed        = errors.New("subscription renewal failed")

	// ErrPeriodAlreadyCharged comes with the ended subscription that already
	// holds today's charge for the pair.
	ErrPeriodAlreadyCharged = errors.New("subscription for this period was already charged and has ended")

	errChargeReplayed = errors.New("subscription charge replayed")
)

// MinGracePeriod is the shortest time a lapsed subscription waits for its
// renewal job before the sweep expires it. It covers the renewal ticker and
// the queue's retry budget.
const MinGracePeriod = 15 * time.Minute

var openStatuses = []string{
	models.SubscriptionStatusPending,
	models.SubscriptionStatusActive,
	models.SubscriptionStatusExpiring,
}

var renewableStatuses = []string{
	models.SubscriptionStatusActive,
	models.SubscriptionStatusExpiring,
}

// PlanCatalog resolves performer subscription prices.
type PlanCatalog interface {
	GetPerformerPlan(ctx context.Context, performerID string) (*models.PerformerPlan, error)
}

// Options configures a Manager.
type Options struct {
	CommissionPercent int64
	PlatformAccountID string
	Now               func() time.Time
}

// Manager drives the subscription state machine. Every charge goes through
// the wallet ledger inside the same transaction as the state change.
type Manager struct {
	db      *gorm.DB
	wallet  *wallet.Service
	plans   PlanCatalog
	options Options
}

// NewManager creates a subscription manager.
func NewManager(db *gorm.DB, ledger *wallet.Service, plans PlanCatalog, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{db: db, wallet: ledger, plans: plans, options: opts}
}

// ChargeKey is the ledger idempotency key of the charge for one period.
func ChargeKey(subscriberID, performerID string, periodStart time.Time) string {
	return fmt.Sprintf("sub:%s:%s:%s", subscriberID, performerID, periodStart.UTC().Format("2006-01-02"))
}

// Create subscribes subscriberID to performerID and charges the first period.
// An open subscription for the pair is returned unchanged.
func (m *Manager) Create(ctx context.Context, subscriberID, performerID, plan string) (*models.Subscription, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	performerID = strings.TrimSpace(performerID)
	if subscriberID == "" || performerID == "" {
		return nil, fmt.Errorf("%w: subscriber and performer are required", ErrInvalidRequest)
	}
	if subscriberID == performerID {
		return nil, fmt.Errorf("%w: cannot subscribe to yourself", ErrInvalidRequest)
	}
	if !models.IsValidSubscriptionPlan(plan) {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrInvalidRequest, plan)
	}

	existing, err := m.findOpen(ctx, subscriberID, performerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	pp, err := m.plans.GetPerformerPlan(ctx, performerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPlanUnavailable
	}
	if err != nil {
		return nil, err
	}
	price := pp.PriceFor(plan)
	if price <= 0 {
		return nil, ErrPlanUnavailable
	}

	start := m.options.Now().UTC()
	end := addPeriod(start, plan)
	key := ChargeKey(subscriberID, performerID, start)
	sub := &models.Subscription{
		ID:                 uuid.NewString(),
		SubscriberID:       subscriberID,
		PerformerID:        performerID,
		Plan:               plan,
		Status:             models.SubscriptionStatusPending,
		Price:              price,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var replayedEntryID string
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		res, err := m.wallet.PostTx(tx, m.chargePosting(sub, key))
		if err != nil {
			return err
		}
		if res.Replayed {
			replayedEntryID = res.Primary().ID
			return errChargeReplayed
		}
		next := end
		sub.Status = models.SubscriptionStatusActive
		sub.NextChargeAt = &next
		sub.LastChargeLedgerEntryID = res.Primary().ID
		return tx.Save(sub).Error
	})

	switch {
	case errors.Is(err, errChargeReplayed):
		return m.replayed(ctx, subscriberID, performerID, replayedEntryID)
	case errors.Is(err, wallet.ErrDuplicateIdempotencyKey):
		entryID, lerr := m.entryIDForKey(ctx, key)
		if lerr != nil {
			return nil, lerr
		}
		return m.replayed(ctx, subscriberID, performerID, entryID)
	case err != nil:
		return nil, err
	}

	metrics.SubscriptionTransition(models.SubscriptionStatusActive)
	log.Infof("[Subscription] %s subscribed to %s (%s, %d) as %s", subscriberID, performerID, plan, price, sub.ID)
	return sub, nil
}

// Renew charges the next period. It only runs at or after next_charge_at and
// is idempotent per period. A declined charge expires the subscription.
func (m *Manager) Renew(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		return nil, ErrSubscriptionTerminal
	}
	now := m.options.Now().UTC()
	if sub.NextChargeAt == nil || now.Before(*sub.NextChargeAt) {
		return nil, ErrRenewalNotDue
	}

	newStart := sub.CurrentPeriodEnd
	newEnd := addPeriod(newStart, sub.Plan)
	key := ChargeKey(sub.SubscriberID, sub.PerformerID, newStart)

	var renewed models.Subscription
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Subscription
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&locked).Error; err != nil {
			return err
		}
		if locked.IsTerminal() {
			return ErrSubscriptionTerminal
		}
		if !locked.CurrentPeriodStart.Before(newStart) {
			// Renewed concurrently.
			renewed = locked
			return nil
		}

		res, err := m.wallet.PostTx(tx, m.chargePosting(&locked, key))
		if err != nil {
			return err
		}
		next := newEnd
		locked.Status = models.SubscriptionStatusActive
		locked.CurrentPeriodStart = newStart
		locked.CurrentPeriodEnd = newEnd
		locked.NextChargeAt = &next
		locked.LastChargeLedgerEntryID = res.Primary().ID
		locked.FailureReason = ""
		if err := tx.Save(&locked).Error; err != nil {
			return err
		}
		renewed = locked
		return nil
	})

	switch {
	case err == nil:
		metrics.SubscriptionTransition(models.SubscriptionStatusActive)
		log.Infof("[Subscription] Renewed %s until %s", id, renewed.CurrentPeriodEnd.Format(time.RFC3339))
		return &renewed, nil
	case errors.Is(err, wallet.ErrDuplicateIdempotencyKey):
		return m.Get(ctx, id)
	case errors.Is(err, wallet.ErrInsufficientFunds):
		expired, xerr := m.markExpired(ctx, id, err.Error())
		if xerr != nil {
			return nil, xerr
		}
		log.Warnf("[Subscription] Renewal of %s failed, subscription expired: %v", id, err)
		return expired, fmt.Errorf("%w: %w", ErrRenewalFailed, err)
	default:
		return nil, err
	}
}

// Cancel stops future renewals. Access continues until the end of the paid
// period and nothing is refunded.
func (m *Manager) Cancel(ctx context.Context, id string) (*models.Subscription, error) {
	var out models.Subscription
	changed := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		switch out.Status {
		case models.SubscriptionStatusCancelled:
			return nil
		case models.SubscriptionStatusExpired:
			return ErrSubscriptionTerminal
		}
		now := m.options.Now().UTC()
		out.Status = models.SubscriptionStatusCancelled
		out.CancelledAt = &now
		out.NextChargeAt = nil
		changed = true
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.SubscriptionTransition(models.SubscriptionStatusCancelled)
		log.Infof("[Subscription] Cancelled %s, access until %s", id, out.CurrentPeriodEnd.Format(time.RFC3339))
	}
	return &out, nil
}

// ForceCancel is the administrative cancellation.
func (m *Manager) ForceCancel(ctx context.Context, id, reason string) (*models.Subscription, error) {
	sub, err := m.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Warnf("[Subscription] Force-cancelled %s: %s", id, reason)
	return sub, nil
}

// MarkExpiring moves active subscriptions whose period ends within window to
// expiring.
func (m *Manager) MarkExpiring(ctx context.Context, window time.Duration) (int64, error) {
	cutoff := m.options.Now().UTC().Add(window)
	res := m.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ? AND next_charge_at IS NOT NULL AND current_period_end <= ?", models.SubscriptionStatusActive, cutoff).
		Updates(map[string]interface{}{"status": models.SubscriptionStatusExpiring})
	if res.Error != nil {
		return 0, res.Error
	}
	for i := int64(0); i < res.RowsAffected; i++ {
		metrics.SubscriptionTransition(models.SubscriptionStatusExpiring)
	}
	return res.RowsAffected, nil
}

// ExpireLapsed expires subscriptions whose renewal did not succeed before the
// grace period after their period end elapsed.
func (m *Manager) ExpireLapsed(ctx context.Context, grace time.Duration) (int64, error) {
	if grace < MinGracePeriod {
		grace = MinGracePeriod
	}
	now := m.options.Now().UTC()
	res := m.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status IN ? AND current_period_end < ?", renewableStatuses, now.Add(-grace)).
		Updates(map[string]interface{}{
			"status":         models.SubscriptionStatusExpired,
			"expired_at":     now,
			"next_charge_at": nil,
			"failure_reason": "renewal not completed before grace period ended",
		})
	if res.Error != nil {
		return 0, res.Error
	}
	for i := int64(0); i < res.RowsAffected; i++ {
		metrics.SubscriptionTransition(models.SubscriptionStatusExpired)
	}
	return res.RowsAffected, nil
}

// DueForRenewal lists subscriptions whose next charge is due.
func (m *Manager) DueForRenewal(ctx context.Context, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var subs []models.Subscription
	err := m.db.WithContext(ctx).
		Where("status IN ? AND next_charge_at IS NOT NULL AND next_charge_at <= ?", renewableStatuses, m.options.Now().UTC()).
		Order("next_charge_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// HasAccess reports whether subscriberID currently holds a subscription that
// entitles them to performerID's content.
func (m *Manager) HasAccess(ctx context.Context, subscriberID, performerID string) (*models.Subscription, bool, error) {
	var sub models.Subscription
	err := m.db.WithContext(ctx).
		Where("subscriber_id = ? AND performer_id = ? AND status IN ? AND current_period_end > ?",
			subscriberID, performerID,
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusExpiring, models.SubscriptionStatusCancelled},
			m.options.Now().UTC()).
		Order("current_period_end DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &sub, true, nil
}

// Get loads a subscription by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := m.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.options.Now()
}

func (m *Manager) chargePosting(sub *models.Subscription, key string) wallet.Posting {
	return wallet.SplitPosting(wallet.SplitRequest{
		PayerID:           sub.SubscriberID,
		PayeeID:           sub.PerformerID,
		PlatformAccountID: m.options.PlatformAccountID,
		Amount:            sub.Price,
		CommissionPercent: m.options.CommissionPercent,
		Kind:              models.LedgerKindSubscriptionCharge,
		IdempotencyKey:    key,
		RelatedEntityID:   sub.ID,
	})
}

func (m *Manager) findOpen(ctx context.Context, subscriberID, performerID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := m.db.WithContext(ctx).
		Where("subscriber_id = ? AND performer_id = ? AND status IN ?", subscriberID, performerID, openStatuses).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// replayed resolves a charge key that was already spent. An ended
// subscription comes back with ErrPeriodAlreadyCharged.
func (m *Manager) replayed(ctx context.Context, subscriberID, performerID, entryID string) (*models.Subscription, error) {
	sub, err := m.findByCharge(ctx, subscriberID, performerID, entryID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		return sub, ErrPeriodAlreadyCharged
	}
	return sub, nil
}

// findByCharge resolves the subscription that owns a replayed charge, falling
// back to the newest subscription of the pair.
func (m *Manager) findByCharge(ctx context.Context, subscriberID, performerID, entryID string) (*models.Subscription, error) {
	var sub models.Subscription
	q := m.db.WithContext(ctx).Where("subscriber_id = ? AND performer_id = ?", subscriberID, performerID)
	err := q.Session(&gorm.Session{}).Where("last_charge_ledger_entry_id = ?", entryID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = q.Session(&gorm.Session{}).Order("created_at DESC").First(&sub).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (m *Manager) entryIDForKey(ctx context.Context, key string) (string, error) {
	var entry models.LedgerEntry
	if err := m.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&entry).Error; err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (m *Manager) markExpired(ctx context.Context, id, reason string) (*models.Subscription, error) {
	if len(reason) > 255 {
		reason = reason[:255]
	}
	now := m.options.Now().UTC()
	res := m.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", id, renewableStatuses).
		Updates(map[string]interface{}{
			"status":         models.SubscriptionStatusExpired,
			"expired_at":     now,
			"next_charge_at": nil,
			"failure_reason": reason,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		metrics.SubscriptionTransition(models.SubscriptionStatusExpired)
	}
	return m.Get(ctx, id)
}

// addPeriod advances t by one billing period, clamping to the last day of the
// target month.
func addPeriod(t time.Time, plan string) time.Time {
	months := 1
	if plan == models.SubscriptionPlanYearly {
		months = 12
	}
	y, mo, d := t.Date()
	target := time.Date(y, mo+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := target.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
