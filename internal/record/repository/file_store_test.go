package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/energyledger/internal/clock"
	"github.com/smallbiznis/energyledger/internal/observability/metrics"
	"github.com/smallbiznis/energyledger/internal/record/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "not-yet"), nil)
	assert.Equal(t, StateUnloaded, store.State())

	require.NoError(t, store.Load(context.Background()))
	assert.Equal(t, StateLoaded, store.State())

	result, err := store.FindAll(context.Background(), domain.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
}

func TestFileStore_CorruptFileStaysUnloaded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RecordsFileName), []byte("{not json"), 0o644))

	store := NewFileStore(dir, nil)
	err := store.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUnloaded, store.State())

	_, err = store.FindAll(context.Background(), domain.ListFilter{})
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, RecordsFileName), []byte("[]"), 0o644))
	require.NoError(t, store.Load(context.Background()), "a later load retries")
	assert.Equal(t, StateLoaded, store.State())
}

func TestFileStore_DuplicateIDsInFileAreRejected(t *testing.T) {
	dir := t.TempDir()
	doc := `[
  {"id": "a", "timestamp": "2024-03-01T10:00:00.000Z", "outputs": {}},
  {"id": "a", "timestamp": "2024-03-01T10:15:00.000Z", "outputs": {}}
]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, RecordsFileName), []byte(doc), 0o644))

	err := NewFileStore(dir, nil).Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestFileStore_ReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFakeClock(baseTime.Add(time.Hour))
	ctx := context.Background()

	first := NewFileStore(dir, clk)
	require.NoError(t, first.ReplaceAll(ctx, sampleRecords()))
	current, err := first.FindByID(ctx, "r1", false)
	require.NoError(t, err)
	_, err = first.Update(ctx, "r1", domain.UpdateRequest{
		Outputs:          domain.Outputs{"INV1": f(90)},
		CorrectionReason: str("recalibrated"),
	}, domain.Fingerprint(*current))
	require.NoError(t, err)
	require.NoError(t, first.Delete(ctx, "r2"))

	second := NewFileStore(dir, clk)
	result, err := second.FindAll(ctx, domain.ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2", "r3"}, ids(result.Records))

	r1 := result.Records[0]
	assert.Equal(t, 90.0, *r1.Outputs["INV1"])
	assert.Equal(t, 100.0, *r1.OriginalOutputs["INV1"])
	assert.Equal(t, "recalibrated", *r1.CorrectionReason)
	assert.True(t, r1.CorrectedAt.Equal(clk.Now()))
	assert.True(t, result.Records[1].IsDeleted())
}

func TestFileStore_EmptyOriginalOutputsSurviveReload(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFakeClock(baseTime.Add(time.Hour))
	ctx := context.Background()

	first := NewFileStore(dir, clk)
	require.NoError(t, first.ReplaceAll(ctx, []domain.EnergyRecord{
		{ID: "bare", Timestamp: baseTime, Outputs: domain.Outputs{}},
	}))
	current, err := first.FindByID(ctx, "bare", false)
	require.NoError(t, err)
	_, err = first.Update(ctx, "bare", domain.UpdateRequest{
		Outputs: domain.Outputs{"INV1": f(12)},
	}, domain.Fingerprint(*current))
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, RecordsFileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"originalOutputs": {}`)

	second := NewFileStore(dir, clk)
	reloaded, err := second.FindByID(ctx, "bare", false)
	require.NoError(t, err)
	require.NotNil(t, reloaded.OriginalOutputs)
	assert.Empty(t, reloaded.OriginalOutputs)

	clk.Advance(time.Minute)
	updated, err := second.Update(ctx, "bare", domain.UpdateRequest{
		Outputs: domain.Outputs{"INV1": f(15)},
	}, domain.Fingerprint(*reloaded))
	require.NoError(t, err)
	assert.Empty(t, updated.OriginalOutputs, "snapshot is never recaptured")
	assert.Equal(t, 15.0, *updated.Outputs["INV1"])
}

func TestFileStore_DocumentFormat(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFakeClock(time.Date(2024, 3, 2, 8, 30, 0, 123456789, time.UTC))
	store := NewFileStore(dir, clk)
	ctx := context.Background()
	require.NoError(t, store.ReplaceAll(ctx, sampleRecords()[:2]))
	require.NoError(t, store.Delete(ctx, "r2"))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var doc []map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc, 2)

	assert.Equal(t, "r1", doc[0]["id"])
	assert.Equal(t, "2024-03-01T10:00:00.000Z", doc[0]["timestamp"])
	assert.Equal(t, map[string]any{"INV1": 100.0, "INV2": 50.0}, doc[0]["outputs"])
	assert.NotContains(t, doc[0], "correctedAt")
	assert.NotContains(t, doc[0], "correctionReason")
	assert.NotContains(t, doc[0], "originalOutputs")
	assert.NotContains(t, doc[0], "deletedAt")

	assert.Equal(t, "2024-03-02T08:30:00.123Z", doc[1]["deletedAt"])
	outputs := doc[1]["outputs"].(map[string]any)
	assert.Contains(t, outputs, "INV2")
	assert.Nil(t, outputs["INV2"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestFileStore_FailedPersistLeavesStateUnchanged(t *testing.T) {
	store := NewFileStore(t.TempDir(), clock.NewFakeClock(baseTime))
	ctx := context.Background()
	require.NoError(t, store.ReplaceAll(ctx, sampleRecords()))

	current, err := store.FindByID(ctx, "r1", false)
	require.NoError(t, err)
	version := domain.Fingerprint(*current)

	diskErr := errors.New("disk full")
	store.writeFile = func([]byte) error { return diskErr }

	_, err = store.Update(ctx, "r1", domain.UpdateRequest{Outputs: domain.Outputs{"INV1": f(1)}}, version)
	assert.ErrorIs(t, err, diskErr)
	assert.ErrorIs(t, store.Delete(ctx, "r2"), diskErr)
	assert.ErrorIs(t, store.ReplaceAll(ctx, nil), diskErr)
	assert.ErrorIs(t, store.Create(ctx, domain.EnergyRecord{ID: "r9", Timestamp: baseTime}), diskErr)

	result, err := store.FindAll(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(result.Records))
	assert.Equal(t, 100.0, *result.Records[0].Outputs["INV1"])
	assert.Nil(t, result.Records[0].CorrectedAt)

	store.writeFile = store.writeAtomic
	_, err = store.Update(ctx, "r1", domain.UpdateRequest{Outputs: domain.Outputs{"INV1": f(1)}}, version)
	assert.NoError(t, err, "the version is still current after the failed write")
}

func TestFileStore_ReportsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewStoreMetrics(reg, metrics.Config{ServiceName: "energyledger-test"})
	store := NewFileStore(t.TempDir(), nil, WithStoreMetrics(m))

	require.NoError(t, store.ReplaceAll(context.Background(), sampleRecords()))

	count, err := testutil.GatherAndCount(reg, "energyledger_store_records")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
