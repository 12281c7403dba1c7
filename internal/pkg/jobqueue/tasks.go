package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/internal/pkg/ledgerexport"
	"github.com/ManuelReschke/StreamPass/internal/pkg/subscription"
	"github.com/ManuelReschke/StreamPass/internal/pkg/wallet"
)

const dayLayout = "2006-01-02"

type Subscriptions interface {
	Renew(ctx context.Context, id string) (*models.Subscription, error)
	DueForRenewal(ctx context.Context, limit int) ([]models.Subscription, error)
	MarkExpiring(ctx context.Context, window time.Duration) (int64, error)
	ExpireLapsed(ctx context.Context, grace time.Duration) (int64, error)
	Now() time.Time
}

type RevocationPurger interface {
	PurgeRevocations(ctx context.Context, now time.Time) (int64, error)
	Now() time.Time
}

type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]wallet.Reconciliation, error)
}

type DayExporter interface {
	ExportDay(ctx context.Context, day time.Time) (*ledgerexport.Result, error)
}

// Tasks binds job types to the services that do the work. Nil services leave
// their job types unregistered.
type Tasks struct {
	Subscriptions Subscriptions
	Tokens        RevocationPurger
	Ledger        Reconciler
	Exporter      DayExporter
	RenewalWindow time.Duration
	GracePeriod   time.Duration
	RenewalBatch  int
}

// Register installs the handlers on q
func (t *Tasks) Register(q *Queue) {
	if t.Subscriptions != nil {
		q.Handle(JobTypeSubscriptionRenewal, t.renewSubscription)
		q.Handle(JobTypeSubscriptionSweep, t.sweepSubscriptions)
	}
	if t.Tokens != nil {
		q.Handle(JobTypeRevocationGC, t.purgeRevocations)
	}
	if t.Ledger != nil {
		q.Handle(JobTypeLedgerReconcile, t.reconcileLedger)
	}
	if t.Exporter != nil {
		q.Handle(JobTypeLedgerExport, t.exportLedger)
	}
}

func (t *Tasks) renewSubscription(ctx context.Context, job *Job) error {
	payload, err := SubscriptionRenewalPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	if payload.SubscriptionID == "" {
		return fmt.Errorf("%w: subscription_id missing", ErrPermanent)
	}

	_, err = t.Subscriptions.Renew(ctx, payload.SubscriptionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, subscription.ErrRenewalFailed):
		// The subscription is expired now; a retry would only hit a terminal state.
		log.Warnf("[JobQueue] Renewal of %s failed: %v", payload.SubscriptionID, err)
		return nil
	case errors.Is(err, subscription.ErrRenewalNotDue),
		errors.Is(err, subscription.ErrSubscriptionTerminal),
		errors.Is(err, subscription.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	default:
		return err
	}
}

// sweepSubscriptions marks subscriptions entering the renewal window as
// expiring and expires the ones left unpaid past the grace period.
func (t *Tasks) sweepSubscriptions(ctx context.Context, job *Job) error {
	marked, err := t.Subscriptions.MarkExpiring(ctx, t.RenewalWindow)
	if err != nil {
		return err
	}
	expired, err := t.Subscriptions.ExpireLapsed(ctx, t.GracePeriod)
	if err != nil {
		return err
	}
	if marked > 0 || expired > 0 {
		log.Infof("[JobQueue] Subscription sweep: %d expiring, %d expired", marked, expired)
	}
	return nil
}

func (t *Tasks) purgeRevocations(ctx context.Context, job *Job) error {
	_, err := t.Tokens.PurgeRevocations(ctx, t.Tokens.Now())
	return err
}

func (t *Tasks) reconcileLedger(ctx context.Context, job *Job) error {
	rows, err := t.Ledger.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	drifted := 0
	for _, r := range rows {
		if r.Drift != 0 {
			drifted++
			log.Errorf("[JobQueue] Ledger drift on %s: cached %d, ledger %d", r.AccountID, r.CachedBalance, r.LedgerBalance)
		}
	}
	if drifted > 0 {
		return fmt.Errorf("%w: %d accounts drifted", ErrPermanent, drifted)
	}
	return nil
}

func (t *Tasks) exportLedger(ctx context.Context, job *Job) error {
	payload, err := LedgerExportPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	day, err := time.Parse(dayLayout, payload.Day)
	if err != nil {
		return fmt.Errorf("%w: invalid day %q", ErrPermanent, payload.Day)
	}
	_, err = t.Exporter.ExportDay(ctx, day)
	return err
}

// EnqueueDueRenewals schedules one renewal job per due subscription. A
// subscription already queued is skipped.
func (t *Tasks) EnqueueDueRenewals(ctx context.Context, q *Queue) (int, error) {
	batch := t.RenewalBatch
	if batch <= 0 {
		batch = 100
	}
	due, err := t.Subscriptions.DueForRenewal(ctx, batch)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, sub := range due {
		key := sub.ID + ":" + sub.CurrentPeriodEnd.UTC().Format(dayLayout)
		_, ok, err := q.EnqueueUnique(ctx, JobTypeSubscriptionRenewal, key, SubscriptionRenewalPayload{SubscriptionID: sub.ID}.ToMap())
		if err != nil {
			return enqueued, err
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, nil
}
