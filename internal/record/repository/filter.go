package repository

import (
	"github.com/smallbiznis/energyledger/internal/record/domain"
	"github.com/smallbiznis/energyledger/pkg/db/pagination"
)

// applyFilter selects, aggregates and paginates records in stored order.
// Both backends share it so they agree on every edge case.
func applyFilter(records []domain.EnergyRecord, filter domain.ListFilter) domain.ListResult {
	matched := make([]int, 0, len(records))
	totalEnergy := 0.0
	for i := range records {
		if !matches(&records[i], filter) {
			continue
		}
		matched = append(matched, i)
		totalEnergy += records[i].Outputs.Energy(filter.Device)
	}

	result := domain.ListResult{
		TotalEnergy: totalEnergy,
		RecordCount: len(matched),
		TotalCount:  len(matched),
	}

	window := matched
	if filter.Paginated() {
		page := pagination.Pagination{Page: *filter.Page, PageSize: *filter.PageSize}
		result.Page = &page.Page
		result.PageSize = &page.PageSize
		result.PageCount = pagination.PageCount(len(matched), page.PageSize)

		start, end := page.Bounds(len(matched))
		window = matched[start:end]
	}

	result.Records = make([]domain.EnergyRecord, 0, len(window))
	for _, i := range window {
		result.Records = append(result.Records, records[i].Clone())
	}
	return result
}

func matches(r *domain.EnergyRecord, filter domain.ListFilter) bool {
	if r.IsDeleted() && !filter.IncludeDeleted {
		return false
	}
	if filter.Start != nil && r.Timestamp.Before(*filter.Start) {
		return false
	}
	if filter.End != nil && r.Timestamp.After(*filter.End) {
		return false
	}
	if filter.Device != "" && r.Outputs[filter.Device] == nil {
		return false
	}
	return true
}
