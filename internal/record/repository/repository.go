package repository

import (
	"context"

	"github.com/smallbiznis/energyledger/internal/record/domain"
)

// Repository owns the record collection. Reads return deep copies; every
// mutation is persisted before it returns.
type Repository interface {
	Load(ctx context.Context) error
	FindAll(ctx context.Context, filter domain.ListFilter) (domain.ListResult, error)
	// FindByID returns domain.ErrNotFound when the id is unknown, or soft-deleted
	// and includeDeleted is false.
	FindByID(ctx context.Context, id string, includeDeleted bool) (*domain.EnergyRecord, error)
	Create(ctx context.Context, record domain.EnergyRecord) error
	CreateMany(ctx context.Context, records []domain.EnergyRecord) error
	// ReplaceAll discards every stored record, soft-deleted ones included.
	ReplaceAll(ctx context.Context, records []domain.EnergyRecord) error
	// Update applies a correction only if expectedVersion still matches the
	// record's fingerprint at the moment of the write.
	Update(ctx context.Context, id string, req domain.UpdateRequest, expectedVersion string) (*domain.EnergyRecord, error)
	Delete(ctx context.Context, id string) error
}
