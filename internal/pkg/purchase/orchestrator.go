package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/app/repository"
	"github.com/ManuelReschke/StreamPass/internal/pkg/coupon"
	"github.com/ManuelReschke/StreamPass/internal/pkg/database"
	"github.com/ManuelReschke/StreamPass/internal/pkg/gateway"
	"github.com/ManuelReschke/StreamPass/internal/pkg/metrics"
	"github.com/ManuelReschke/StreamPass/internal/pkg/validation"
	"github.com/ManuelReschke/StreamPass/internal/pkg/wallet"
)

var errReplayed = errors.New("purchase replayed")

const defaultGatewayTimeout = 10 * time.Second

// Catalog resolves the price and owner of purchasable content.
type Catalog interface {
	GetContent(ctx context.Context, id string) (*models.Content, error)
}

type Options struct {
	CommissionPercent int64
	PlatformAccountID string
	GatewayTimeout    time.Duration
	Now               func() time.Time
}

// Orchestrator turns a purchase request into one atomic unit of coupon
// redemption, ledger posting and ownership record.
type Orchestrator struct {
	db      *gorm.DB
	wallet  *wallet.Service
	coupons coupon.Repository
	catalog Catalog
	gateway gateway.Gateway
	options Options
}

func NewOrchestrator(db *gorm.DB, ledger *wallet.Service, coupons coupon.Repository, catalog Catalog, gw gateway.Gateway, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	return &Orchestrator{db: db, wallet: ledger, coupons: coupons, catalog: catalog, gateway: gw, options: opts}
}

// Purchase dispatches on the item type. Content purchases answer a repeat
// with ErrAlreadyPurchased and the prior receipt; tips and top-ups answer a
// repeated request id with the prior receipt marked as replayed.
func (o *Orchestrator) Purchase(ctx context.Context, req Request) (*Receipt, error) {
	req.BuyerID = strings.TrimSpace(req.BuyerID)
	req.Item.ID = strings.TrimSpace(req.Item.ID)
	req.Item.PerformerID = strings.TrimSpace(req.Item.PerformerID)
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.CouponCode = strings.TrimSpace(req.CouponCode)
	if err := validation.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var (
		receipt *Receipt
		err     error
	)
	switch {
	case models.IsContentItemType(req.Item.Type):
		receipt, err = o.purchaseContent(ctx, req)
	case req.Item.Type == models.ItemTypeTip:
		receipt, err = o.tip(ctx, req)
	case req.Item.Type == models.ItemTypeTopUp:
		receipt, err = o.topUp(ctx, req)
	default:
		err = fmt.Errorf("%w: unknown item type %q", ErrInvalidRequest, req.Item.Type)
	}
	metrics.Purchase(req.Item.Type, outcome(receipt, err))
	return receipt, err
}

func (o *Orchestrator) purchaseContent(ctx context.Context, req Request) (*Receipt, error) {
	if req.Item.ID == "" {
		return nil, fmt.Errorf("%w: item id is required", ErrInvalidRequest)
	}
	content, err := o.catalog.GetContent(ctx, req.Item.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	if content.Kind != req.Item.Type {
		return nil, fmt.Errorf("%w: item %s is a %s", ErrInvalidRequest, content.ID, content.Kind)
	}
	if content.PerformerID == req.BuyerID {
		return nil, fmt.Errorf("%w: performers cannot buy their own content", ErrInvalidRequest)
	}
	if content.Price < 0 {
		return nil, fmt.Errorf("%w: item %s has no valid price", ErrInvalidRequest, content.ID)
	}

	key := ContentKey(req.BuyerID, content.ID, content.Kind)
	prior, err := o.findByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return receiptFrom(prior, true), ErrAlreadyPurchased
	}

	p := &models.Purchase{
		ID:             uuid.NewString(),
		BuyerID:        req.BuyerID,
		ItemType:       content.Kind,
		ItemID:         content.ID,
		PerformerID:    content.PerformerID,
		GrossAmount:    content.Price,
		NetAmount:      content.Price,
		IdempotencyKey: key,
	}

	if req.CouponCode != "" {
		c, err := o.coupons.FindByCode(ctx, req.CouponCode)
		if err != nil {
			return nil, err
		}
		d, err := coupon.Evaluate(c, coupon.PurchaseContext{
			Gross:       content.Price,
			PerformerID: content.PerformerID,
			ContentID:   content.ID,
			ItemType:    content.Kind,
			Now:         o.options.Now(),
		})
		switch {
		case err == nil:
			p.CouponID = d.CouponID
			p.NetAmount = d.Net
		case errors.Is(err, coupon.ErrCouponRejected) && req.FullPriceOnCouponReject:
			log.Infof("[Purchase] Coupon %q not applied for %s, charging full price: %v", req.CouponCode, req.BuyerID, err)
		default:
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.CouponID != "" {
			ok, err := o.coupons.RedeemTx(tx, p.CouponID)
			if err != nil {
				return err
			}
			if !ok {
				if !req.FullPriceOnCouponReject {
					return coupon.ErrCouponExhausted
				}
				p.CouponID = ""
				p.NetAmount = p.GrossAmount
			}
		}
		if err := o.settleTx(tx, p, models.LedgerKindPurchase); err != nil {
			return err
		}
		if p.CouponID != "" {
			return o.coupons.RecordRedemptionTx(tx, &models.CouponRedemption{
				CouponID:   p.CouponID,
				BuyerID:    p.BuyerID,
				PurchaseID: p.ID,
				Discount:   p.Discount(),
			})
		}
		return nil
	})
	if isReplay(err) {
		prior, ferr := o.findByKey(ctx, key)
		if ferr != nil {
			return nil, ferr
		}
		if prior != nil {
			return receiptFrom(prior, true), ErrAlreadyPurchased
		}
	}
	if err != nil {
		return nil, err
	}

	log.Infof("[Purchase] %s bought %s %s for %d (gross %d)", p.BuyerID, p.ItemType, p.ItemID, p.NetAmount, p.GrossAmount)
	return receiptFrom(p, false), nil
}

func (o *Orchestrator) tip(ctx context.Context, req Request) (*Receipt, error) {
	if req.CouponCode != "" {
		return nil, ErrCouponNotAllowed
	}
	performerID := req.Item.PerformerID
	if performerID == "" {
		performerID = req.Item.ID
	}
	switch {
	case req.RequestID == "":
		return nil, fmt.Errorf("%w: request_id is required for tips", ErrInvalidRequest)
	case req.Item.Amount <= 0:
		return nil, fmt.Errorf("%w: tip amount must be positive", ErrInvalidRequest)
	case performerID == "":
		return nil, fmt.Errorf("%w: performer is required for tips", ErrInvalidRequest)
	case performerID == req.BuyerID:
		return nil, fmt.Errorf("%w: cannot tip yourself", ErrInvalidRequest)
	}

	key := TipKey(req.BuyerID, req.RequestID)
	prior, err := o.findByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return replayOf(prior, performerID, req.Item.Amount)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := &models.Purchase{
		ID:             uuid.NewString(),
		BuyerID:        req.BuyerID,
		ItemType:       models.ItemTypeTip,
		ItemID:         performerID,
		PerformerID:    performerID,
		GrossAmount:    req.Item.Amount,
		NetAmount:      req.Item.Amount,
		IdempotencyKey: key,
	}
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return o.settleTx(tx, p, models.LedgerKindTip)
	})
	if isReplay(err) {
		prior, ferr := o.findByKey(ctx, key)
		if ferr != nil {
			return nil, ferr
		}
		if prior != nil {
			return replayOf(prior, performerID, req.Item.Amount)
		}
	}
	if err != nil {
		return nil, err
	}

	log.Infof("[Purchase] %s tipped %s %d", p.BuyerID, p.PerformerID, p.NetAmount)
	return receiptFrom(p, false), nil
}

// settleTx posts the split payment for p, unless it is free, and writes the
// purchase row.
func (o *Orchestrator) settleTx(tx *gorm.DB, p *models.Purchase, kind string) error {
	if p.NetAmount > 0 {
		res, err := o.wallet.PostTx(tx, wallet.SplitPosting(wallet.SplitRequest{
			PayerID:           p.BuyerID,
			PayeeID:           p.PerformerID,
			PlatformAccountID: o.options.PlatformAccountID,
			Amount:            p.NetAmount,
			CommissionPercent: o.options.CommissionPercent,
			Kind:              kind,
			IdempotencyKey:    p.IdempotencyKey,
			RelatedEntityID:   p.ID,
		}))
		if err != nil {
			return err
		}
		if res.Replayed {
			return errReplayed
		}
		p.LedgerEntryID = res.Primary().ID
	}
	if err := tx.Create(p).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return errReplayed
		}
		return err
	}
	return nil
}

// GetPurchase loads the receipt of a purchase.
func (o *Orchestrator) GetPurchase(ctx context.Context, id string) (*Receipt, error) {
	var p models.Purchase
	err := o.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return receiptFrom(&p, false), nil
}

// FindStreamTicket returns the buyer's stream ticket purchase for roomID, or
// nil when there is none.
func (o *Orchestrator) FindStreamTicket(ctx context.Context, buyerID, roomID string) (*models.Purchase, error) {
	var found []models.Purchase
	err := o.db.WithContext(ctx).Model(&models.Purchase{}).
		Select("purchases.*").
		Joins("JOIN contents ON contents.id = purchases.item_id").
		Where("purchases.buyer_id = ? AND purchases.item_type = ? AND contents.room_id = ?", buyerID, models.ItemTypeStream, roomID).
		Order("purchases.created_at DESC").
		Limit(1).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (o *Orchestrator) findByKey(ctx context.Context, key string) (*models.Purchase, error) {
	var p models.Purchase
	err := o.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func replayOf(prior *models.Purchase, performerID string, amount int64) (*Receipt, error) {
	if prior.PerformerID != performerID || prior.GrossAmount != amount {
		return nil, wallet.ErrIdempotencyConflict
	}
	return receiptFrom(prior, true), nil
}

func isReplay(err error) bool {
	return errors.Is(err, errReplayed) ||
		errors.Is(err, wallet.ErrDuplicateIdempotencyKey) ||
		errors.Is(err, wallet.ErrIdempotencyConflict)
}

func outcome(r *Receipt, err error) string {
	switch {
	case err == nil && r != nil && r.Replayed:
		return metrics.OutcomeReplayed
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrAlreadyPurchased):
		return metrics.OutcomeReplayed
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, coupon.ErrCouponRejected),
		errors.Is(err, wallet.ErrInsufficientFunds),
		errors.Is(err, wallet.ErrIdempotencyConflict):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}
