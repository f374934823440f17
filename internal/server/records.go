package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/energyledger/internal/record/domain"
)

type recordResponse struct {
	ID               string         `json:"id"`
	Timestamp        string         `json:"timestamp"`
	Outputs          domain.Outputs `json:"outputs"`
	CorrectedAt      *string        `json:"correctedAt,omitempty"`
	CorrectionReason *string        `json:"correctionReason,omitempty"`
	OriginalOutputs  domain.Outputs `json:"originalOutputs,omitempty"`
	DeletedAt        *string        `json:"deletedAt,omitempty"`
	Version          string         `json:"version,omitempty"`
}

type listRecordsResponse struct {
	Records     []recordResponse `json:"records"`
	TotalEnergy float64          `json:"totalEnergy"`
	RecordCount int              `json:"recordCount"`
	TotalCount  int              `json:"totalCount"`
	PageCount   *int             `json:"pageCount,omitempty"`
	Page        *int             `json:"page,omitempty"`
	PageSize    *int             `json:"pageSize,omitempty"`
}

type updateRecordRequest struct {
	Outputs          map[string]*float64 `json:"outputs"`
	CorrectionReason *string             `json:"correctionReason"`
}

func (s *Server) ListRecords(c *gin.Context) {
	var query struct {
		Start          string `form:"start"`
		End            string `form:"end"`
		Device         string `form:"device"`
		IncludeDeleted string `form:"includeDeleted"`
		Page           string `form:"page"`
		PageSize       string `form:"pageSize"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidQueryError(nil))
		return
	}

	var issues []fieldIssue
	start, err := parseOptionalTime(query.Start, false)
	if err != nil {
		issues = append(issues, fieldIssue{Path: "start", Message: "Invalid start date"})
	}
	end, err := parseOptionalTime(query.End, true)
	if err != nil {
		issues = append(issues, fieldIssue{Path: "end", Message: "Invalid end date"})
	}
	includeDeleted, err := parseOptionalBool(query.IncludeDeleted)
	if err != nil {
		issues = append(issues, fieldIssue{Path: "includeDeleted", Message: "Expected 'true' or 'false'"})
	}
	page, err := parseOptionalInt(query.Page)
	if err != nil {
		issues = append(issues, fieldIssue{Path: "page", Message: "page must be non-negative integer"})
	}
	pageSize, err := parseOptionalInt(query.PageSize)
	if err != nil {
		issues = append(issues, fieldIssue{Path: "pageSize", Message: "pageSize must be 1-1000"})
	}
	if len(issues) > 0 {
		AbortWithError(c, invalidQueryError(issues))
		return
	}

	filter := domain.ListFilter{
		Start:    start,
		End:      end,
		Device:   query.Device,
		Page:     page,
		PageSize: pageSize,
	}
	if includeDeleted != nil {
		filter.IncludeDeleted = *includeDeleted
	}

	result, err := s.recordSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := listRecordsResponse{
		Records:     make([]recordResponse, 0, len(result.Records)),
		TotalEnergy: result.TotalEnergy,
		RecordCount: result.RecordCount,
		TotalCount:  result.TotalCount,
		Page:        result.Page,
		PageSize:    result.PageSize,
	}
	if result.Page != nil {
		pageCount := result.PageCount
		resp.PageCount = &pageCount
	}
	for _, record := range result.Records {
		resp.Records = append(resp.Records, toRecordResponse(record, ""))
	}

	respondOK(c, resp)
}

func (s *Server) GetRecord(c *gin.Context) {
	includeDeleted := c.Query("includeDeleted") == "true"

	resp, err := s.recordSvc.Get(c.Request.Context(), c.Param("id"), includeDeleted)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	writeVersioned(c, resp)
}

func (s *Server) UpdateRecord(c *gin.Context) {
	version := parseIfMatch(c.GetHeader("If-Match"))
	if version == "" {
		AbortWithError(c, ErrMissingIfMatch)
		return
	}

	var req updateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidBodyError([]fieldIssue{{Message: "Body must be a JSON object with outputs and/or correctionReason"}}))
		return
	}

	resp, err := s.recordSvc.Update(c.Request.Context(), c.Param("id"), domain.UpdateRequest{
		Outputs:          domain.Outputs(req.Outputs),
		CorrectionReason: req.CorrectionReason,
	}, version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	writeVersioned(c, resp)
}

func (s *Server) DeleteRecord(c *gin.Context) {
	if err := s.recordSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func writeVersioned(c *gin.Context, resp *domain.VersionedRecord) {
	c.Header("ETag", `"`+resp.Version+`"`)
	respondOK(c, toRecordResponse(resp.Record, resp.Version))
}

func toRecordResponse(record domain.EnergyRecord, version string) recordResponse {
	outputs := record.Outputs
	if outputs == nil {
		outputs = domain.Outputs{}
	}
	return recordResponse{
		ID:               record.ID,
		Timestamp:        domain.FormatInstant(record.Timestamp),
		Outputs:          outputs,
		CorrectedAt:      formatOptionalInstant(record.CorrectedAt),
		CorrectionReason: record.CorrectionReason,
		OriginalOutputs:  record.OriginalOutputs,
		DeletedAt:        formatOptionalInstant(record.DeletedAt),
		Version:          version,
	}
}

func formatOptionalInstant(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := domain.FormatInstant(*t)
	return &formatted
}
