package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smallbiznis/energyledger/internal/record/domain"
)

// storedRecord is the on-disk shape: instants as ISO-8601 UTC strings and
// absent optional fields omitted.
type storedRecord struct {
	ID               string               `json:"id"`
	Timestamp        string               `json:"timestamp"`
	Outputs          map[string]*float64  `json:"outputs"`
	CorrectedAt      string               `json:"correctedAt,omitempty"`
	CorrectionReason *string              `json:"correctionReason,omitempty"`
	OriginalOutputs  *map[string]*float64 `json:"originalOutputs,omitempty"`
	DeletedAt        string               `json:"deletedAt,omitempty"`
}

func encodeRecords(records []domain.EnergyRecord) ([]byte, error) {
	stored := make([]storedRecord, len(records))
	for i := range records {
		stored[i] = toStored(records[i])
	}
	return json.MarshalIndent(stored, "", "  ")
}

func decodeRecords(data []byte) ([]domain.EnergyRecord, error) {
	var stored []storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	records := make([]domain.EnergyRecord, 0, len(stored))
	for i := range stored {
		r, err := fromStored(stored[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func toStored(r domain.EnergyRecord) storedRecord {
	outputs := map[string]*float64(r.Outputs)
	if outputs == nil {
		outputs = map[string]*float64{}
	}
	// An empty snapshot is still a snapshot; the pointer keeps "{}" on disk.
	var original *map[string]*float64
	if r.OriginalOutputs != nil {
		m := map[string]*float64(r.OriginalOutputs)
		original = &m
	}
	return storedRecord{
		ID:               r.ID,
		Timestamp:        domain.FormatInstant(r.Timestamp),
		Outputs:          outputs,
		CorrectedAt:      formatOptional(r.CorrectedAt),
		CorrectionReason: r.CorrectionReason,
		OriginalOutputs:  original,
		DeletedAt:        formatOptional(r.DeletedAt),
	}
}

func fromStored(s storedRecord) (domain.EnergyRecord, error) {
	ts, err := domain.ParseInstant(s.Timestamp)
	if err != nil {
		return domain.EnergyRecord{}, fmt.Errorf("timestamp: %w", err)
	}
	correctedAt, err := parseOptional(s.CorrectedAt)
	if err != nil {
		return domain.EnergyRecord{}, fmt.Errorf("correctedAt: %w", err)
	}
	deletedAt, err := parseOptional(s.DeletedAt)
	if err != nil {
		return domain.EnergyRecord{}, fmt.Errorf("deletedAt: %w", err)
	}
	outputs := domain.Outputs(s.Outputs)
	if outputs == nil {
		outputs = domain.Outputs{}
	}
	var original domain.Outputs
	if s.OriginalOutputs != nil {
		original = domain.Outputs(*s.OriginalOutputs)
		if original == nil {
			original = domain.Outputs{}
		}
	}
	return domain.EnergyRecord{
		ID:               s.ID,
		Timestamp:        ts,
		Outputs:          outputs,
		CorrectedAt:      correctedAt,
		CorrectionReason: s.CorrectionReason,
		OriginalOutputs:  original,
		DeletedAt:        deletedAt,
	}, nil
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return domain.FormatInstant(*t)
}

func parseOptional(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := domain.ParseInstant(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
