package upload

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/energyledger/internal/config"
	"github.com/smallbiznis/energyledger/internal/ingestion"
	"github.com/smallbiznis/energyledger/internal/record/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// -- Mocks --

type repositoryMock struct {
	mock.Mock
}

func (m *repositoryMock) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *repositoryMock) FindAll(ctx context.Context, filter domain.ListFilter) (domain.ListResult, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(domain.ListResult), args.Error(1)
}

func (m *repositoryMock) FindByID(ctx context.Context, id string, includeDeleted bool) (*domain.EnergyRecord, error) {
	args := m.Called(ctx, id, includeDeleted)
	if res := args.Get(0); res != nil {
		return res.(*domain.EnergyRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *repositoryMock) Create(ctx context.Context, record domain.EnergyRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *repositoryMock) CreateMany(ctx context.Context, records []domain.EnergyRecord) error {
	return m.Called(ctx, records).Error(0)
}

func (m *repositoryMock) ReplaceAll(ctx context.Context, records []domain.EnergyRecord) error {
	return m.Called(ctx, records).Error(0)
}

func (m *repositoryMock) Update(ctx context.Context, id string, req domain.UpdateRequest, expectedVersion string) (*domain.EnergyRecord, error) {
	args := m.Called(ctx, id, req, expectedVersion)
	if res := args.Get(0); res != nil {
		return res.(*domain.EnergyRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *repositoryMock) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// -- Helpers --

func newTestService(repo *repositoryMock, cfg config.IngestionConfig) *Service {
	svc := New(Params{
		Log:       zap.NewNop(),
		Repo:      repo,
		Ingestion: config.NewStaticIngestionConfigHolder(cfg),
	})
	svc.location = time.UTC
	return svc
}

const validCSV = "timestamp,INV1,INV2\n" +
	"3/1/2024 10:00,100,50\n" +
	"3/1/2024 10:15,,20.5\n"

// -- Tests --

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		contentType string
		want        Format
		ok          bool
	}{
		{"csv extension wins", "data.CSV", "application/octet-stream", FormatCSV, true},
		{"xlsx extension", "report.xlsx", "", FormatXLSX, true},
		{"text/csv", "upload", "text/csv", FormatCSV, true},
		{"csv with charset", "upload", "text/csv; charset=utf-8", FormatCSV, true},
		{"application/csv", "upload", "application/csv", FormatCSV, true},
		{"text/plain", "upload.txt", "text/plain", FormatCSV, true},
		{"spreadsheet type", "upload", xlsxContentType, FormatXLSX, true},
		{"json rejected", "data.json", "application/json", "", false},
		{"pdf rejected", "a.pdf", "application/pdf", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectFormat(tt.file, tt.contentType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, IsAcceptedFile(tt.file, tt.contentType))
		})
	}
}

func TestUpload_ReplacesRecords(t *testing.T) {
	repo := new(repositoryMock)
	var stored []domain.EnergyRecord
	repo.On("ReplaceAll", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).([]domain.EnergyRecord) }).
		Return(nil).Once()

	svc := newTestService(repo, config.DefaultIngestionConfig())
	result, err := svc.Upload(context.Background(), Source{
		Name:        "march.csv",
		ContentType: "text/csv",
		Body:        strings.NewReader(validCSV),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, FormatCSV, result.Format)
	_, err = ulid.Parse(result.UploadID)
	assert.NoError(t, err)

	require.Len(t, stored, 2)
	assert.NotEqual(t, stored[0].ID, stored[1].ID)
	for _, r := range stored {
		_, err := uuid.Parse(r.ID)
		assert.NoError(t, err)
		assert.Nil(t, r.DeletedAt)
		assert.Nil(t, r.CorrectedAt)
	}
	assert.True(t, stored[0].Timestamp.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, 100.0, *stored[0].Outputs["INV1"])
	require.Contains(t, stored[1].Outputs, "INV1")
	assert.Nil(t, stored[1].Outputs["INV1"])
	assert.Equal(t, 20.5, *stored[1].Outputs["INV2"])
	repo.AssertExpectations(t)
}

func TestUpload_HeaderOnlyClearsCollection(t *testing.T) {
	repo := new(repositoryMock)
	repo.On("ReplaceAll", mock.Anything, []domain.EnergyRecord{}).Return(nil).Once()

	result, err := newTestService(repo, config.DefaultIngestionConfig()).Upload(context.Background(), Source{
		Name: "empty.csv",
		Body: strings.NewReader("timestamp,INV1\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	repo.AssertExpectations(t)
}

func TestUpload_InvalidFileLeavesStoreUntouched(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "out of range",
			body:    "timestamp,INV1\n3/1/2024 10:00,3000\n",
			wantErr: ingestion.ErrOutputOutOfRange,
			wantMsg: "row 1: Output value 3000 for INV1 out of range (-10 to 2000)",
		},
		{
			name:    "bad timestamp",
			body:    "timestamp,INV1\n3/1/2024 10:00,1\n2024-03-01,2\n",
			wantErr: ingestion.ErrInvalidTimestamp,
			wantMsg: "row 2: Invalid timestamp: 2024-03-01",
		},
		{
			name:    "no timestamp column",
			body:    "time,INV1\n3/1/2024 10:00,1\n",
			wantErr: ingestion.ErrMissingTimestampColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(repositoryMock)
			_, err := newTestService(repo, config.DefaultIngestionConfig()).Upload(context.Background(), Source{
				Name: "bad.csv",
				Body: strings.NewReader(tt.body),
			})
			require.ErrorIs(t, err, tt.wantErr)
			var parseErr *ingestion.ParseError
			require.True(t, errors.As(err, &parseErr))
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
			repo.AssertNotCalled(t, "ReplaceAll", mock.Anything, mock.Anything)
		})
	}
}

func TestUpload_RejectsUnsupportedFile(t *testing.T) {
	repo := new(repositoryMock)
	_, err := newTestService(repo, config.DefaultIngestionConfig()).Upload(context.Background(), Source{
		Name:        "data.json",
		ContentType: "application/json",
		Body:        strings.NewReader("{}"),
	})
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	repo.AssertNotCalled(t, "ReplaceAll", mock.Anything, mock.Anything)
}

func TestUpload_EnforcesByteLimit(t *testing.T) {
	cfg := config.DefaultIngestionConfig()
	cfg.MaxUploadBytes = 64

	body := "timestamp,INV1\n" + strings.Repeat("3/1/2024 10:00,1\n", 20)
	repo := new(repositoryMock)
	_, err := newTestService(repo, cfg).Upload(context.Background(), Source{
		Name: "big.csv",
		Body: strings.NewReader(body),
	})
	assert.ErrorIs(t, err, ErrUploadTooLarge)
	repo.AssertNotCalled(t, "ReplaceAll", mock.Anything, mock.Anything)
}

func TestUpload_UsesReloadedLimits(t *testing.T) {
	cfg := config.DefaultIngestionConfig()
	cfg.OutputMax = 50

	repo := new(repositoryMock)
	_, err := newTestService(repo, cfg).Upload(context.Background(), Source{
		Name: "a.csv",
		Body: strings.NewReader("timestamp,INV1\n3/1/2024 10:00,60\n"),
	})
	assert.ErrorIs(t, err, ingestion.ErrOutputOutOfRange)
}

func TestUpload_StoreFailurePropagates(t *testing.T) {
	repo := new(repositoryMock)
	diskErr := errors.New("disk full")
	repo.On("ReplaceAll", mock.Anything, mock.Anything).Return(diskErr)

	_, err := newTestService(repo, config.DefaultIngestionConfig()).Upload(context.Background(), Source{
		Name: "a.csv",
		Body: strings.NewReader(validCSV),
	})
	assert.ErrorIs(t, err, diskErr)
}

func TestUpload_XLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"timestamp", "INV1"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"3/1/2024 10:00", 12.5}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	repo := new(repositoryMock)
	repo.On("ReplaceAll", mock.Anything, mock.MatchedBy(func(records []domain.EnergyRecord) bool {
		return len(records) == 1 && *records[0].Outputs["INV1"] == 12.5
	})).Return(nil).Once()

	result, err := newTestService(repo, config.DefaultIngestionConfig()).Upload(context.Background(), Source{
		Name: "readings.xlsx",
		Body: &buf,
	})
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, result.Format)
	assert.Equal(t, 1, result.Count)
	repo.AssertExpectations(t)
}
