package domain

import "time"

// Outputs maps a device name to its reading. A nil value is an explicit
// "no reading", distinct from the key being absent.
type Outputs map[string]*float64

func (o Outputs) Clone() Outputs {
	if o == nil {
		return nil
	}
	out := make(Outputs, len(o))
	for k, v := range o {
		out[k] = cloneFloat(v)
	}
	return out
}

// EnergyRecord is one timestamped set of device readings.
type EnergyRecord struct {
	ID               string
	Timestamp        time.Time
	Outputs          Outputs
	CorrectedAt      *time.Time
	CorrectionReason *string
	OriginalOutputs  Outputs
	DeletedAt        *time.Time
}

func (r EnergyRecord) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Clone returns a deep copy so callers never share maps or pointers with a store cache.
func (r EnergyRecord) Clone() EnergyRecord {
	out := r
	out.Outputs = r.Outputs.Clone()
	out.OriginalOutputs = r.OriginalOutputs.Clone()
	out.CorrectedAt = cloneTime(r.CorrectedAt)
	out.DeletedAt = cloneTime(r.DeletedAt)
	out.CorrectionReason = cloneString(r.CorrectionReason)
	return out
}

// ListFilter selects records for FindAll. Pagination applies only when both
// Page >= 0 and PageSize > 0 are set.
type ListFilter struct {
	Start          *time.Time
	End            *time.Time
	Device         string
	IncludeDeleted bool
	Page           *int
	PageSize       *int
}

func (f ListFilter) Paginated() bool {
	return f.Page != nil && *f.Page >= 0 && f.PageSize != nil && *f.PageSize > 0
}

type ListResult struct {
	Records     []EnergyRecord
	TotalEnergy float64
	RecordCount int
	TotalCount  int
	PageCount   int
	Page        *int
	PageSize    *int
}

// UpdateRequest is a manual correction. Outputs holds only the keys to
// change; a nil value clears a reading. CorrectionReason replaces the
// previous reason, and nil clears it.
type UpdateRequest struct {
	Outputs          Outputs
	CorrectionReason *string
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
