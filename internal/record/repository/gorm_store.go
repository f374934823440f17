package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/energyledger/internal/clock"
	"github.com/smallbiznis/energyledger/internal/observability/metrics"
	"github.com/smallbiznis/energyledger/internal/record/domain"
	"github.com/smallbiznis/energyledger/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	sqlBackend = "sql"
	batchSize  = 500
)

// recordRow maps energy_records. Seq preserves insertion order, which is the
// order FindAll returns.
type recordRow struct {
	Seq              int64          `gorm:"column:seq;primaryKey;autoIncrement"`
	ID               string         `gorm:"column:id;type:varchar(64);uniqueIndex;not null"`
	RecordedAt       time.Time      `gorm:"column:recorded_at;index;not null"`
	Outputs          datatypes.JSON `gorm:"column:outputs;not null"`
	CorrectedAt      *time.Time     `gorm:"column:corrected_at"`
	CorrectionReason *string        `gorm:"column:correction_reason"`
	OriginalOutputs  datatypes.JSON `gorm:"column:original_outputs"`
	DeletedAt        *time.Time     `gorm:"column:deleted_at;index"`
}

func (recordRow) TableName() string {
	return "energy_records"
}

// GormStore keeps records in a SQL table. Mutations are serialized by a
// process-wide mutex and run inside a transaction, so the version check in
// Update sees the same row it writes.
type GormStore struct {
	db      *gorm.DB
	clock   clock.Clock
	metrics *metrics.StoreMetrics

	mu    sync.Mutex
	state State
}

func NewGormStore(gdb *gorm.DB, clk clock.Clock, opts ...Option) *GormStore {
	o := buildOptions(clk, opts)
	return &GormStore{
		db:      gdb,
		clock:   o.clock,
		metrics: o.metrics,
	}
}

func (s *GormStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Load migrates the schema on first use.
func (s *GormStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoaded(ctx)
}

func (s *GormStore) ensureLoaded(ctx context.Context) error {
	if s.state == StateLoaded {
		return nil
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&recordRow{}); err != nil {
		return fmt.Errorf("migrate energy_records: %w", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&recordRow{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count energy_records: %w", err)
	}
	s.state = StateLoaded
	s.metrics.SetRecords(sqlBackend, int(count))
	return nil
}

func (s *GormStore) FindAll(ctx context.Context, filter domain.ListFilter) (domain.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return domain.ListResult{}, err
	}

	query := s.db.WithContext(ctx).Model(&recordRow{}).Order("seq ASC")
	if !filter.IncludeDeleted {
		query = query.Where("deleted_at IS NULL")
	}

	var rows []recordRow
	if err := query.Find(&rows).Error; err != nil {
		return domain.ListResult{}, err
	}
	records, err := fromRows(rows)
	if err != nil {
		return domain.ListResult{}, err
	}
	return applyFilter(records, filter), nil
}

func (s *GormStore) FindByID(ctx context.Context, id string, includeDeleted bool) (*domain.EnergyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	row, err := s.findRow(ctx, s.db, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	record, err := fromRow(*row)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *GormStore) findRow(ctx context.Context, tx *gorm.DB, id string, includeDeleted bool) (*recordRow, error) {
	query := tx.WithContext(ctx).Where("id = ?", id)
	if !includeDeleted {
		query = query.Where("deleted_at IS NULL")
	}

	var row recordRow
	if err := query.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *GormStore) Create(ctx context.Context, record domain.EnergyRecord) error {
	return s.CreateMany(ctx, []domain.EnergyRecord{record})
}

func (s *GormStore) CreateMany(ctx context.Context, records []domain.EnergyRecord) error {
	if err := validateBatch(records, nil); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	rows, err := toRows(records)
	if err != nil {
		return err
	}

	return s.persist(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := rejectExisting(tx, records); err != nil {
				return err
			}
			return insertRows(tx, rows)
		})
	})
}

func (s *GormStore) ReplaceAll(ctx context.Context, records []domain.EnergyRecord) error {
	if err := validateBatch(records, nil); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	rows, err := toRows(records)
	if err != nil {
		return err
	}

	err = s.persist(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(`DELETE FROM energy_records`).Error; err != nil {
				return err
			}
			return insertRows(tx, rows)
		})
	})
	if err != nil {
		return err
	}
	s.metrics.SetRecords(sqlBackend, len(records))
	return nil
}

func (s *GormStore) Update(ctx context.Context, id string, req domain.UpdateRequest, expectedVersion string) (*domain.EnergyRecord, error) {
	if err := validateVersion(expectedVersion); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	var updated domain.EnergyRecord
	err := s.persist(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			row, err := s.findRow(ctx, tx, id, false)
			if err != nil {
				return err
			}
			current, err := fromRow(*row)
			if err != nil {
				return err
			}
			updated, err = applyUpdate(current, req, expectedVersion, s.clock.Now())
			if err != nil {
				return err
			}
			updated.CorrectedAt = utcMillis(updated.CorrectedAt)

			next, err := toRow(updated)
			if err != nil {
				return err
			}
			return tx.Exec(
				`UPDATE energy_records
				 SET outputs = ?, original_outputs = ?, corrected_at = ?, correction_reason = ?
				 WHERE seq = ?`,
				next.Outputs,
				next.OriginalOutputs,
				next.CorrectedAt,
				next.CorrectionReason,
				row.Seq,
			).Error
		})
	})
	if err != nil {
		return nil, err
	}

	out := updated.Clone()
	return &out, nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	return s.persist(func() error {
		res := s.db.WithContext(ctx).Exec(
			`UPDATE energy_records SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
			now,
			id,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// persist times a write. Domain rejections are not counted as failures.
func (s *GormStore) persist(write func() error) error {
	start := time.Now()
	err := write()
	observed := err
	if isDomainError(err) {
		observed = nil
	}
	s.metrics.ObservePersist(sqlBackend, time.Since(start), observed)
	return err
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrVersionConflict) ||
		errors.Is(err, domain.ErrDuplicateID)
}

func rejectExisting(tx *gorm.DB, records []domain.EnergyRecord) error {
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		ids := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			ids = append(ids, records[i].ID)
		}

		var existing []string
		if err := tx.Model(&recordRow{}).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, existing[0])
		}
	}
	return nil
}

func insertRows(tx *gorm.DB, rows []recordRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: %v", domain.ErrDuplicateID, err)
		}
		return err
	}
	return nil
}

func toRows(records []domain.EnergyRecord) ([]recordRow, error) {
	rows := make([]recordRow, 0, len(records))
	for i := range records {
		row, err := toRow(records[i])
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func toRow(r domain.EnergyRecord) (recordRow, error) {
	outputs := r.Outputs
	if outputs == nil {
		outputs = domain.Outputs{}
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return recordRow{}, fmt.Errorf("encode outputs of %s: %w", r.ID, err)
	}

	var originalJSON datatypes.JSON
	if r.OriginalOutputs != nil {
		originalJSON, err = json.Marshal(r.OriginalOutputs)
		if err != nil {
			return recordRow{}, fmt.Errorf("encode original outputs of %s: %w", r.ID, err)
		}
	}

	return recordRow{
		ID:               r.ID,
		RecordedAt:       r.Timestamp.UTC().Truncate(time.Millisecond),
		Outputs:          outputsJSON,
		CorrectedAt:      utcMillis(r.CorrectedAt),
		CorrectionReason: r.CorrectionReason,
		OriginalOutputs:  originalJSON,
		DeletedAt:        utcMillis(r.DeletedAt),
	}, nil
}

func fromRows(rows []recordRow) ([]domain.EnergyRecord, error) {
	records := make([]domain.EnergyRecord, 0, len(rows))
	for i := range rows {
		r, err := fromRow(rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func fromRow(row recordRow) (domain.EnergyRecord, error) {
	outputs := domain.Outputs{}
	if len(row.Outputs) > 0 {
		if err := json.Unmarshal(row.Outputs, &outputs); err != nil {
			return domain.EnergyRecord{}, fmt.Errorf("decode outputs of %s: %w", row.ID, err)
		}
	}

	var original domain.Outputs
	if len(row.OriginalOutputs) > 0 && string(row.OriginalOutputs) != "null" {
		if err := json.Unmarshal(row.OriginalOutputs, &original); err != nil {
			return domain.EnergyRecord{}, fmt.Errorf("decode original outputs of %s: %w", row.ID, err)
		}
	}

	return domain.EnergyRecord{
		ID:               row.ID,
		Timestamp:        row.RecordedAt.UTC(),
		Outputs:          outputs,
		CorrectedAt:      utcMillis(row.CorrectedAt),
		CorrectionReason: row.CorrectionReason,
		OriginalOutputs:  original,
		DeletedAt:        utcMillis(row.DeletedAt),
	}, nil
}

func utcMillis(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}

var _ Repository = (*GormStore)(nil)
