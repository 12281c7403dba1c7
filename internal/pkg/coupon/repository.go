package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/internal/pkg/database"
	"github.com/ManuelReschke/StreamPass/internal/pkg/validation"
)

// ErrCodeTaken is returned when a coupon code already exists.
var ErrCodeTaken = errors.New("coupon code already exists")

// Repository provides DB operations for coupons.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	Create(ctx context.Context, c *models.Coupon) error
	// RedeemTx increments used_count inside tx unless the limit is reached.
	// It reports false when the coupon is exhausted.
	RedeemTx(tx *gorm.DB, couponID string) (bool, error)
	RecordRedemptionTx(tx *gorm.DB, r *models.CouponRedemption) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a coupon repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// FindByCode returns nil without error when no coupon carries the code.
func (r *gormRepository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := r.db.WithContext(ctx).Where("code = ?", models.NormalizeCouponCode(code)).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) Create(ctx context.Context, c *models.Coupon) error {
	c.Code = models.NormalizeCouponCode(c.Code)
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.DiscountType == models.CouponDiscountPercentage && c.DiscountValue > 100 {
		return fmt.Errorf("%w: percentage discount must be at most 100", validation.ErrInvalid)
	}
	if c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom) {
		return fmt.Errorf("%w: valid_until precedes valid_from", validation.ErrInvalid)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.UsedCount = 0

	// Active carries a DB default of true, and Create reads it back into c.
	active := c.Active
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return ErrCodeTaken
		}
		return err
	}
	if !active {
		if err := r.db.WithContext(ctx).Model(&models.Coupon{}).Where("id = ?", c.ID).UpdateColumn("active", false).Error; err != nil {
			return err
		}
		c.Active = false
	}
	return nil
}

func (r *gormRepository) RedeemTx(tx *gorm.DB, couponID string) (bool, error) {
	res := tx.Model(&models.Coupon{}).
		Where("id = ? AND active = ? AND (usage_limit = 0 OR used_count < usage_limit)", couponID, true).
		UpdateColumns(map[string]interface{}{
			"used_count": gorm.Expr("used_count + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) RecordRedemptionTx(tx *gorm.DB, red *models.CouponRedemption) error {
	if red.ID == "" {
		red.ID = uuid.NewString()
	}
	return tx.Create(red).Error
}
