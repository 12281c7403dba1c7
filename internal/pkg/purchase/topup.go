package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/internal/pkg/gateway"
	"github.com/ManuelReschke/StreamPass/internal/pkg/wallet"
)

// topUp charges the gateway outside of any transaction and credits the
// wallet once the charge succeeded. A pending charge is credited later by
// ConfirmTopUp when the gateway calls back.
func (o *Orchestrator) topUp(ctx context.Context, req Request) (*Receipt, error) {
	if req.CouponCode != "" {
		return nil, ErrCouponNotAllowed
	}
	if req.RequestID == "" {
		return nil, fmt.Errorf("%w: request_id is required for top-ups", ErrInvalidRequest)
	}
	if req.Item.Amount <= 0 {
		return nil, fmt.Errorf("%w: top-up amount must be positive", ErrInvalidRequest)
	}
	if o.gateway == nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayFailure, gateway.ErrNotConfigured)
	}

	key := TopUpKey(req.BuyerID, req.RequestID)
	prior, err := o.findByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return replayOf(prior, "", req.Item.Amount)
	}

	charge, err := o.ensureCharge(ctx, key, req.BuyerID, req.Item.Amount)
	if err != nil {
		return nil, err
	}
	if charge.AccountID != req.BuyerID || charge.Amount != req.Item.Amount {
		return nil, wallet.ErrIdempotencyConflict
	}
	if charge.Status == models.GatewayChargeSucceeded {
		return o.ConfirmTopUp(ctx, key, charge.ExternalTxID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, o.options.GatewayTimeout)
	res, err := o.gateway.Charge(gctx, gateway.ChargeRequest{
		AccountRef:     req.BuyerID,
		Amount:         req.Item.Amount,
		IdempotencyKey: key,
	})
	cancel()
	if err != nil {
		if errors.Is(err, gateway.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			// The outcome is unknown; a late callback may still confirm it.
			o.noteCharge(ctx, charge.ID, models.GatewayChargePending, "", "gateway timeout")
			log.Warnf("[Purchase] Top-up %s timed out at the gateway", key)
			return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		o.noteCharge(ctx, charge.ID, models.GatewayChargeFailed, "", err.Error())
		log.Warnf("[Purchase] Top-up %s failed at the gateway: %v", key, err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	if res.Status == gateway.StatusPending {
		o.noteCharge(ctx, charge.ID, models.GatewayChargePending, res.ExternalTxID, "")
		return &Receipt{
			BuyerID:     req.BuyerID,
			ItemType:    models.ItemTypeTopUp,
			ItemID:      res.ExternalTxID,
			GrossAmount: req.Item.Amount,
			NetAmount:   req.Item.Amount,
			Pending:     true,
			CreatedAt:   charge.CreatedAt,
		}, nil
	}
	return o.ConfirmTopUp(ctx, key, res.ExternalTxID)
}

// ConfirmTopUp credits the wallet for a succeeded gateway charge. Confirming
// the same key again returns the existing receipt.
func (o *Orchestrator) ConfirmTopUp(ctx context.Context, key, externalTxID string) (*Receipt, error) {
	charge, err := o.chargeByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	prior, err := o.findByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return receiptFrom(prior, true), nil
	}
	if externalTxID == "" {
		externalTxID = charge.ExternalTxID
	}

	p := &models.Purchase{
		ID:             uuid.NewString(),
		BuyerID:        charge.AccountID,
		ItemType:       models.ItemTypeTopUp,
		ItemID:         externalTxID,
		GrossAmount:    charge.Amount,
		NetAmount:      charge.Amount,
		IdempotencyKey: key,
	}
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := o.wallet.PostTx(tx, wallet.Posting{Entries: []wallet.EntryRequest{{
			AccountID:       p.BuyerID,
			Amount:          p.NetAmount,
			Kind:            models.LedgerKindTopUp,
			IdempotencyKey:  key,
			RelatedEntityID: p.ID,
		}}})
		if err != nil {
			return err
		}
		if res.Replayed {
			return errReplayed
		}
		p.LedgerEntryID = res.Primary().ID
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		return tx.Model(&models.GatewayCharge{}).Where("id = ?", charge.ID).Updates(map[string]interface{}{
			"status":         models.GatewayChargeSucceeded,
			"external_tx_id": externalTxID,
			"failure_reason": "",
		}).Error
	})
	if isReplay(err) {
		if prior, ferr := o.findByKey(ctx, key); ferr == nil && prior != nil {
			return receiptFrom(prior, true), nil
		}
	}
	if err != nil {
		return nil, err
	}

	log.Infof("[Purchase] Top-up %s credited %d to %s", key, p.NetAmount, p.BuyerID)
	return receiptFrom(p, false), nil
}

// HandleCallback applies a verified gateway confirmation. A failure notice
// never overrides a charge that already succeeded or is being refunded.
func (o *Orchestrator) HandleCallback(ctx context.Context, cb gateway.Callback) (*Receipt, error) {
	if cb.Status == gateway.StatusSucceeded {
		return o.ConfirmTopUp(ctx, cb.IdempotencyKey, cb.ExternalTxID)
	}
	charge, err := o.chargeByKey(ctx, cb.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if charge.Status == models.GatewayChargePending || charge.Status == models.GatewayChargeFailed {
		o.noteCharge(ctx, charge.ID, models.GatewayChargeFailed, cb.ExternalTxID, cb.FailureReason)
	}
	return nil, nil
}

// RefundTopUp debits the top-up from the wallet and refunds it through the
// gateway. The charge row records the refund: a refunded charge replays the
// stored entry, and a gateway failure credits the wallet back and leaves the
// charge refundable again under the next attempt number.
func (o *Orchestrator) RefundTopUp(ctx context.Context, purchaseID string) (*models.LedgerEntry, error) {
	var p models.Purchase
	err := o.db.WithContext(ctx).Where("id = ?", purchaseID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.ItemType != models.ItemTypeTopUp || p.LedgerEntryID == "" {
		return nil, fmt.Errorf("%w: purchase %s is not a settled top-up", ErrInvalidRequest, p.ID)
	}

	var reversed int64
	if err := o.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("idempotency_key = ?", wallet.ReverseKey(p.LedgerEntryID)).
		Count(&reversed).Error; err != nil {
		return nil, err
	}
	if reversed > 0 {
		return nil, fmt.Errorf("%w: top-up %s was reversed in the ledger", ErrInvalidRequest, p.ID)
	}

	charge, err := o.claimRefund(ctx, p.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if charge.Status == models.GatewayChargeRefunded {
		return o.wallet.GetEntry(ctx, charge.RefundEntryID)
	}

	entry, _, err := o.wallet.ApplyEntry(ctx, wallet.EntryRequest{
		AccountID:       p.BuyerID,
		Amount:          -p.NetAmount,
		Kind:            models.LedgerKindAdjustment,
		IdempotencyKey:  fmt.Sprintf("refund:%s:%d", p.ID, charge.RefundAttempts),
		RelatedEntityID: p.ID,
		ReversalOf:      p.LedgerEntryID,
	})
	if err != nil {
		o.releaseRefund(ctx, charge.ID)
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, o.options.GatewayTimeout)
	defer cancel()
	if err := o.gateway.Refund(rctx, charge.ExternalTxID, p.NetAmount); err != nil {
		if _, _, cerr := o.wallet.Credit(ctx, p.BuyerID, p.NetAmount, models.LedgerKindAdjustment, "refund-failed:"+entry.ID, p.ID); cerr != nil {
			// The claim stays until the balance is restored by hand.
			log.Errorf("[Purchase] Could not restore %d to %s after failed refund of %s: %v", p.NetAmount, p.BuyerID, p.ID, cerr)
			return nil, fmt.Errorf("%w: %v", ErrRefundFailed, err)
		}
		o.releaseRefund(ctx, charge.ID)
		log.Warnf("[Purchase] Refund attempt %d of top-up %s failed at the gateway: %v", charge.RefundAttempts, p.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}

	if err := o.db.WithContext(ctx).Model(&models.GatewayCharge{}).Where("id = ?", charge.ID).Updates(map[string]interface{}{
		"status":          models.GatewayChargeRefunded,
		"refund_entry_id": entry.ID,
	}).Error; err != nil {
		log.Errorf("[Purchase] Refunded top-up %s but could not mark charge %d: %v", p.ID, charge.ID, err)
		return nil, err
	}
	log.Infof("[Purchase] Refunded top-up %s (%d) to %s", p.ID, p.NetAmount, p.BuyerID)
	return entry, nil
}

// claimRefund moves a succeeded charge to refunding and bumps its attempt
// counter. A refunded charge is returned as is for the caller to replay.
func (o *Orchestrator) claimRefund(ctx context.Context, key string) (*models.GatewayCharge, error) {
	charge, err := o.chargeByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	res := o.db.WithContext(ctx).Model(&models.GatewayCharge{}).
		Where("id = ? AND status = ?", charge.ID, models.GatewayChargeSucceeded).
		Updates(map[string]interface{}{
			"status":          models.GatewayChargeRefunding,
			"refund_attempts": gorm.Expr("refund_attempts + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	charge, err = o.chargeByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	switch {
	case res.RowsAffected == 1:
		return charge, nil
	case charge.Status == models.GatewayChargeRefunded:
		return charge, nil
	case charge.Status == models.GatewayChargeRefunding:
		return nil, ErrRefundInProgress
	}
	return nil, fmt.Errorf("%w: charge is %s", ErrInvalidRequest, charge.Status)
}

func (o *Orchestrator) releaseRefund(ctx context.Context, id uint) {
	err := o.db.WithContext(ctx).Model(&models.GatewayCharge{}).
		Where("id = ? AND status = ?", id, models.GatewayChargeRefunding).
		Update("status", models.GatewayChargeSucceeded).Error
	if err != nil {
		log.Errorf("[Purchase] Failed to release refund claim on charge %d: %v", id, err)
	}
}

func (o *Orchestrator) ensureCharge(ctx context.Context, key, accountID string, amount int64) (*models.GatewayCharge, error) {
	charge := &models.GatewayCharge{
		IdempotencyKey: key,
		AccountID:      accountID,
		Amount:         amount,
		Status:         models.GatewayChargePending,
	}
	err := o.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(charge).Error
	if err != nil {
		return nil, err
	}
	return o.chargeByKey(ctx, key)
}

func (o *Orchestrator) chargeByKey(ctx context.Context, key string) (*models.GatewayCharge, error) {
	var charge models.GatewayCharge
	err := o.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&charge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTopUpNotFound
	}
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

func (o *Orchestrator) noteCharge(ctx context.Context, id uint, status, externalTxID, reason string) {
	if len(reason) > 255 {
		reason = reason[:255]
	}
	updates := map[string]interface{}{"status": status, "failure_reason": reason}
	if externalTxID != "" {
		updates["external_tx_id"] = externalTxID
	}
	if err := o.db.WithContext(ctx).Model(&models.GatewayCharge{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		log.Errorf("[Purchase] Failed to update gateway charge %d: %v", id, err)
	}
}
