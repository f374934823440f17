package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smallbiznis/energyledger/internal/clock"
	"github.com/smallbiznis/energyledger/internal/observability/metrics"
	"github.com/smallbiznis/energyledger/internal/record/domain"
)

const (
	RecordsFileName = "records.json"
	fileBackend     = "file"
)

type State int

const (
	StateUnloaded State = iota
	StateLoaded
)

func (s State) String() string {
	if s == StateLoaded {
		return "loaded"
	}
	return "unloaded"
}

// FileStore keeps the whole collection in memory and mirrors it to a single
// JSON document. Every mutation rewrites the document through a temp file
// and a rename, so the file on disk is always a complete snapshot. A single
// mutex serializes all operations; the version check in Update happens under
// the same lock as the write.
type FileStore struct {
	dir     string
	path    string
	clock   clock.Clock
	metrics *metrics.StoreMetrics

	mu      sync.Mutex
	state   State
	records []domain.EnergyRecord
	index   map[string]int

	// writeFile is swapped in tests to simulate disk failures.
	writeFile func(data []byte) error
}

func NewFileStore(dir string, clk clock.Clock, opts ...Option) *FileStore {
	o := buildOptions(clk, opts)
	s := &FileStore{
		dir:     dir,
		path:    filepath.Join(dir, RecordsFileName),
		clock:   o.clock,
		metrics: o.metrics,
		index:   map[string]int{},
	}
	s.writeFile = s.writeAtomic
	return s
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Load reads the backing file if the store has not been loaded yet. A
// missing file is an empty collection; any other failure leaves the store
// unloaded so the next call retries.
func (s *FileStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoaded(ctx)
}

func (s *FileStore) ensureLoaded(ctx context.Context) error {
	if s.state == StateLoaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.install(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}

	records, err := decodeRecords(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	index := make(map[string]int, len(records))
	for i := range records {
		if _, dup := index[records[i].ID]; dup {
			return fmt.Errorf("decode %s: %w: %s", s.path, domain.ErrDuplicateID, records[i].ID)
		}
		index[records[i].ID] = i
	}

	s.records = records
	s.index = index
	s.state = StateLoaded
	s.metrics.SetRecords(fileBackend, len(records))
	return nil
}

func (s *FileStore) install(records []domain.EnergyRecord) {
	if records == nil {
		records = []domain.EnergyRecord{}
	}
	s.records = records
	s.index = buildIndex(records)
	s.state = StateLoaded
	s.metrics.SetRecords(fileBackend, len(records))
}

func (s *FileStore) FindAll(ctx context.Context, filter domain.ListFilter) (domain.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return domain.ListResult{}, err
	}
	return applyFilter(s.records, filter), nil
}

func (s *FileStore) FindByID(ctx context.Context, id string, includeDeleted bool) (*domain.EnergyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	i, ok := s.index[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if s.records[i].IsDeleted() && !includeDeleted {
		return nil, domain.ErrNotFound
	}
	record := s.records[i].Clone()
	return &record, nil
}

func (s *FileStore) Create(ctx context.Context, record domain.EnergyRecord) error {
	return s.CreateMany(ctx, []domain.EnergyRecord{record})
}

func (s *FileStore) CreateMany(ctx context.Context, records []domain.EnergyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := validateBatch(records, s.index); err != nil {
		return err
	}

	next := make([]domain.EnergyRecord, 0, len(s.records)+len(records))
	next = append(next, s.records...)
	next = append(next, cloneAll(records)...)
	if err := s.persist(next); err != nil {
		return err
	}
	s.install(next)
	return nil
}

func (s *FileStore) ReplaceAll(ctx context.Context, records []domain.EnergyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(records, nil); err != nil {
		return err
	}

	next := cloneAll(records)
	if err := s.persist(next); err != nil {
		return err
	}
	s.install(next)
	return nil
}

func (s *FileStore) Update(ctx context.Context, id string, req domain.UpdateRequest, expectedVersion string) (*domain.EnergyRecord, error) {
	if err := validateVersion(expectedVersion); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	i, ok := s.index[id]
	if !ok || s.records[i].IsDeleted() {
		return nil, domain.ErrNotFound
	}
	updated, err := applyUpdate(s.records[i], req, expectedVersion, s.clock.Now())
	if err != nil {
		return nil, err
	}

	next := make([]domain.EnergyRecord, len(s.records))
	copy(next, s.records)
	next[i] = updated
	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.records = next

	out := updated.Clone()
	return &out, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	i, ok := s.index[id]
	if !ok || s.records[i].IsDeleted() {
		return domain.ErrNotFound
	}

	deleted := s.records[i].Clone()
	now := s.clock.Now().UTC()
	deleted.DeletedAt = &now

	next := make([]domain.EnergyRecord, len(s.records))
	copy(next, s.records)
	next[i] = deleted
	if err := s.persist(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

func (s *FileStore) persist(records []domain.EnergyRecord) error {
	start := time.Now()
	data, err := encodeRecords(records)
	if err == nil {
		err = s.writeFile(data)
	}
	s.metrics.ObservePersist(fileBackend, time.Since(start), err)
	return err
}

// writeAtomic writes data next to the canonical file and renames it into
// place, so readers only ever see a complete document.
func (s *FileStore) writeAtomic(data []byte) (err error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, RecordsFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

var _ Repository = (*FileStore)(nil)
