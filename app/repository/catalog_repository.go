package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/StreamPass/app/models"
)

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

// GetContent retrieves a catalog item by ID
func (r *catalogRepository) GetContent(ctx context.Context, id string) (*models.Content, error) {
	var content models.Content
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&content).Error; err != nil {
		return nil, notFound(err)
	}
	return &content, nil
}

// GetRoom retrieves a room by ID
func (r *catalogRepository) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

// GetPerformerPlan retrieves the subscription prices of a performer
func (r *catalogRepository) GetPerformerPlan(ctx context.Context, performerID string) (*models.PerformerPlan, error) {
	var plan models.PerformerPlan
	if err := r.db.WithContext(ctx).Where("performer_id = ?", performerID).First(&plan).Error; err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

func (r *catalogRepository) SaveContent(ctx context.Context, content *models.Content) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "performer_id", "price", "room_id", "title", "updated_at"}),
	}).Create(content).Error
}

func (r *catalogRepository) SaveRoom(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"performer_id", "is_public", "title", "updated_at"}),
	}).Create(room).Error
}

func (r *catalogRepository) SavePerformerPlan(ctx context.Context, plan *models.PerformerPlan) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "performer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"monthly_price", "yearly_price", "updated_at"}),
	}).Create(plan).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
