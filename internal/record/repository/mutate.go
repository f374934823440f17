package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/energyledger/internal/record/domain"
)

// applyUpdate returns the corrected copy of current, or a *domain.ConflictError
// when expectedVersion is stale.
func applyUpdate(current domain.EnergyRecord, req domain.UpdateRequest, expectedVersion string, now time.Time) (domain.EnergyRecord, error) {
	if actual := domain.Fingerprint(current); actual != expectedVersion {
		return domain.EnergyRecord{}, &domain.ConflictError{
			ID:       current.ID,
			Expected: expectedVersion,
			Current:  actual,
		}
	}

	next := current.Clone()
	if next.OriginalOutputs == nil {
		next.OriginalOutputs = current.Outputs.Clone()
		if next.OriginalOutputs == nil {
			next.OriginalOutputs = domain.Outputs{}
		}
	}
	if next.Outputs == nil {
		next.Outputs = make(domain.Outputs, len(req.Outputs))
	}
	for device, value := range req.Outputs {
		if value == nil {
			next.Outputs[device] = nil
			continue
		}
		v := *value
		next.Outputs[device] = &v
	}

	stamp := now.UTC()
	next.CorrectedAt = &stamp
	next.CorrectionReason = nil
	if req.CorrectionReason != nil {
		reason := *req.CorrectionReason
		next.CorrectionReason = &reason
	}
	return next, nil
}

func validateVersion(expectedVersion string) error {
	if strings.TrimSpace(expectedVersion) == "" {
		return domain.ErrVersionRequired
	}
	return nil
}

// validateBatch rejects empty or repeated ids, including ids already present in existing.
func validateBatch(records []domain.EnergyRecord, existing map[string]int) error {
	seen := make(map[string]struct{}, len(records))
	for i := range records {
		id := records[i].ID
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: record %d has no id", domain.ErrInvalidRecord, i)
		}
		if err := records[i].Outputs.Validate(); err != nil {
			return fmt.Errorf("%w: record %s", err, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
		}
		if _, dup := existing[id]; dup {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func cloneAll(records []domain.EnergyRecord) []domain.EnergyRecord {
	out := make([]domain.EnergyRecord, len(records))
	for i := range records {
		out[i] = records[i].Clone()
	}
	return out
}

func buildIndex(records []domain.EnergyRecord) map[string]int {
	index := make(map[string]int, len(records))
	for i := range records {
		index[records[i].ID] = i
	}
	return index
}
