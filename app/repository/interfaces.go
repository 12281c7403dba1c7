package repository

import (
	"context"
	"errors"

	"github.com/ManuelReschke/StreamPass/app/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a catalog record does not exist.
var ErrNotFound = errors.New("record not found")

// CatalogRepository defines read access to the catalog projection plus the
// upserts used to sync it from the content service.
type CatalogRepository interface {
	GetContent(ctx context.Context, id string) (*models.Content, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	GetPerformerPlan(ctx context.Context, performerID string) (*models.PerformerPlan, error)
	SaveContent(ctx context.Context, content *models.Content) error
	SaveRoom(ctx context.Context, room *models.Room) error
	SavePerformerPlan(ctx context.Context, plan *models.PerformerPlan) error
}

// Repositories holds all repository instances
type Repositories struct {
	Catalog CatalogRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Catalog: NewCatalogRepository(db),
	}
}
