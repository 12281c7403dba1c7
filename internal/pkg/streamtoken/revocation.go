package streamtoken

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/StreamPass/app/models"
)

const revokedKeyPrefix = "stream:revoked:"

// RevocationList records revoked token ids until the tokens expire.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

type dbRevocations struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDBRevocationList stores revocations in token_revocations.
func NewDBRevocationList(db *gorm.DB, now func() time.Time) RevocationList {
	if now == nil {
		now = time.Now
	}
	return &dbRevocations{db: db, now: now}
}

func (r *dbRevocations) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models.TokenRevocation{
		TokenID:   tokenID,
		RevokedAt: r.now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}).Error
}

func (r *dbRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.TokenRevocation{}).Where("token_id = ?", tokenID).Count(&count).Error
	return count > 0, err
}

func (r *dbRevocations) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", before.UTC()).Delete(&models.TokenRevocation{})
	return res.RowsAffected, res.Error
}

type cachedRevocations struct {
	durable RevocationList
	client  *redis.Client
	now     func() time.Time
}

// NewCachedRevocationList puts a redis positive cache in front of durable.
// A revocation is written to durable first. Cache misses and cache errors
// fall back to durable, so the cache can only speed up a rejection.
func NewCachedRevocationList(durable RevocationList, client *redis.Client, now func() time.Time) RevocationList {
	if now == nil {
		now = time.Now
	}
	return &cachedRevocations{durable: durable, client: client, now: now}
}

func (r *cachedRevocations) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if err := r.durable.Revoke(ctx, tokenID, expiresAt); err != nil {
		return err
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedKeyPrefix+tokenID, 1, ttl).Err(); err != nil {
		log.Warnf("[StreamToken] Revocation of %s stored, cache write failed: %v", tokenID, err)
	}
	return nil
}

func (r *cachedRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+tokenID).Result()
	if err == nil && n > 0 {
		return true, nil
	}
	if err != nil {
		log.Warnf("[StreamToken] Revocation cache unavailable, using database: %v", err)
	}
	return r.durable.IsRevoked(ctx, tokenID)
}

func (r *cachedRevocations) Purge(ctx context.Context, before time.Time) (int64, error) {
	return r.durable.Purge(ctx, before)
}
