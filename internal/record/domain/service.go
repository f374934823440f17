package domain

import "context"

// VersionedRecord pairs a record with the fingerprint a client must echo
// back to change it.
type VersionedRecord struct {
	Record  EnergyRecord
	Version string
}

type Service interface {
	List(ctx context.Context, filter ListFilter) (ListResult, error)
	Get(ctx context.Context, id string, includeDeleted bool) (*VersionedRecord, error)
	Update(ctx context.Context, id string, req UpdateRequest, version string) (*VersionedRecord, error)
	Delete(ctx context.Context, id string) error
}
