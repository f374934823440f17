package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/energyledger/internal/config"
	"github.com/smallbiznis/energyledger/internal/ingestion"
	obslogger "github.com/smallbiznis/energyledger/internal/observability/logger"
	"github.com/smallbiznis/energyledger/internal/observability/metrics"
	"github.com/smallbiznis/energyledger/internal/observability/tracing"
	"github.com/smallbiznis/energyledger/internal/record/domain"
	"github.com/smallbiznis/energyledger/internal/record/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Source is one uploaded file.
type Source struct {
	Name        string
	ContentType string
	Body        io.Reader
}

type Result struct {
	UploadID string
	Format   Format
	Count    int
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Repo      repository.Repository
	Ingestion *config.IngestionConfigHolder
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	repo      repository.Repository
	ingestion *config.IngestionConfigHolder
	metrics   *metrics.Metrics
	location  *time.Location
}

func New(p Params) *Service {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	holder := p.Ingestion
	if holder == nil {
		holder = config.NewStaticIngestionConfigHolder(config.DefaultIngestionConfig())
	}
	return &Service{
		log:       log.Named("upload.service"),
		repo:      p.Repo,
		ingestion: holder,
		metrics:   p.Metrics,
		location:  time.Local,
	}
}

// Limits returns the ingestion limits currently in force.
func (s *Service) Limits() ingestion.Limits {
	cfg := s.ingestion.Get()
	return ingestion.Limits{
		OutputMin:      cfg.OutputMin,
		OutputMax:      cfg.OutputMax,
		MaxRows:        cfg.MaxRows,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
}

// Upload parses src and, only if every row is valid, replaces the whole
// record collection with it.
func (s *Service) Upload(ctx context.Context, src Source) (result Result, err error) {
	format, ok := DetectFormat(src.Name, src.ContentType)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFile, src.Name, src.ContentType)
	}

	uploadID := ulid.Make().String()
	ctx, span := tracing.StartSpan(ctx, "upload.replace",
		attribute.String("upload_id", uploadID),
		attribute.String("format", string(format)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("upload_id", uploadID),
		zap.String("format", string(format)),
		zap.String("file_name", src.Name),
	)
	start := time.Now()

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = outcomeOf(err)
		}
		s.metrics.RecordUpload(ctx, string(format), outcome, result.Count)
	}()

	parser := ingestion.NewParser(s.Limits(), ingestion.WithLocation(s.location))
	body := newLimitReader(src.Body, parser.Limits().MaxUploadBytes)

	var rows []ingestion.Row
	switch format {
	case FormatXLSX:
		rows, err = parser.ParseXLSX(ctx, body)
	default:
		rows, err = parser.Parse(ctx, body)
	}
	if body.exceeded {
		err = fmt.Errorf("%w: limit is %d bytes", ErrUploadTooLarge, parser.Limits().MaxUploadBytes)
	}
	if err != nil {
		log.Warn("upload rejected", zap.Error(err))
		return Result{}, err
	}

	records := make([]domain.EnergyRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.EnergyRecord{
			ID:        uuid.NewString(),
			Timestamp: row.Timestamp.UTC(),
			Outputs:   domain.Outputs(row.Outputs),
		})
	}

	if err = s.repo.ReplaceAll(ctx, records); err != nil {
		log.Error("replace records failed", zap.Int("rows", len(records)), zap.Error(err))
		return Result{}, err
	}

	span.SetAttributes(attribute.Int("rows", len(records)))
	log.Info("records replaced",
		zap.Int("rows", len(records)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Result{UploadID: uploadID, Format: format, Count: len(records)}, nil
}

func outcomeOf(err error) string {
	var parseErr *ingestion.ParseError
	switch {
	case errors.Is(err, ErrUploadTooLarge):
		return "too_large"
	case errors.As(err, &parseErr):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
