package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	obslogger "github.com/smallbiznis/energyledger/internal/observability/logger"
	"github.com/smallbiznis/energyledger/internal/observability/metrics"
	"github.com/smallbiznis/energyledger/internal/observability/tracing"
	"github.com/smallbiznis/energyledger/internal/record/domain"
	"github.com/smallbiznis/energyledger/internal/record/repository"
	"github.com/smallbiznis/energyledger/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Repo    repository.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	repo    repository.Repository
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		log:     log.Named("record.service"),
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) (result domain.ListResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "record.list",
		attribute.String("device", filter.Device),
		attribute.Bool("include_deleted", filter.IncludeDeleted),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if err := validateFilter(filter); err != nil {
		return domain.ListResult{}, err
	}

	result, err = s.repo.FindAll(ctx, filter)
	if err != nil {
		obslogger.WithContext(ctx, s.log).Error("list records failed", zap.Error(err))
		return domain.ListResult{}, err
	}
	span.SetAttributes(attribute.Int("record_count", result.RecordCount))
	return result, nil
}

func (s *Service) Get(ctx context.Context, id string, includeDeleted bool) (out *domain.VersionedRecord, err error) {
	ctx, span := tracing.StartSpan(ctx, "record.get", attribute.String("record_id", id))
	defer func() { tracing.EndSpan(span, ignoreNotFound(err)) }()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrNotFound
	}

	record, err := s.repo.FindByID(ctx, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	return &domain.VersionedRecord{Record: *record, Version: domain.Fingerprint(*record)}, nil
}

func (s *Service) Update(ctx context.Context, id string, req domain.UpdateRequest, version string) (out *domain.VersionedRecord, err error) {
	ctx, span := tracing.StartSpan(ctx, "record.update",
		attribute.String("record_id", id),
		attribute.Int("output_keys", len(req.Outputs)),
	)
	defer func() { tracing.EndSpan(span, ignoreNotFound(err)) }()

	log := obslogger.WithContext(ctx, s.log).With(zap.String("record_id", id))

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrNotFound
	}
	if err := validateUpdate(req); err != nil {
		return nil, err
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, domain.ErrVersionRequired
	}

	record, err := s.repo.Update(ctx, id, req, version)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			s.metrics.RecordVersionConflict(ctx)
			log.Info("record update rejected: stale version",
				zap.String("expected", conflict.Expected),
				zap.String("current", conflict.Current),
			)
		}
		return nil, err
	}

	s.metrics.RecordCorrection(ctx)
	log.Info("record corrected", zap.Strings("devices", req.Outputs.Devices()))
	return &domain.VersionedRecord{Record: *record, Version: domain.Fingerprint(*record)}, nil
}

func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "record.delete", attribute.String("record_id", id))
	defer func() { tracing.EndSpan(span, ignoreNotFound(err)) }()

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ErrNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.metrics.RecordDeletion(ctx)
	obslogger.WithContext(ctx, s.log).Info("record deleted", zap.String("record_id", id))
	return nil
}

func validateFilter(filter domain.ListFilter) error {
	if filter.Page != nil && *filter.Page < 0 {
		return fmt.Errorf("%w: page must be >= 0", domain.ErrInvalidPagination)
	}
	if filter.PageSize != nil && (*filter.PageSize < 1 || *filter.PageSize > pagination.MaxPageSize) {
		return fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrInvalidPagination, pagination.MaxPageSize)
	}
	return nil
}

func validateUpdate(req domain.UpdateRequest) error {
	hasReason := req.CorrectionReason != nil && strings.TrimSpace(*req.CorrectionReason) != ""
	if len(req.Outputs) == 0 && !hasReason {
		return domain.ErrEmptyUpdate
	}
	return req.Outputs.Validate()
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
