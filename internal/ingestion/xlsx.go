package ingestion

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// ParseXLSX reads the first worksheet of a workbook and applies the same
// header and row rules as Parse. Timestamp cells may hold either the text
// layout or a native spreadsheet date.
func (p *Parser) ParseXLSX(ctx context.Context, r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, headerError(ErrMalformedInput, fmt.Sprintf("Unable to open workbook: %v", err))
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, headerError(ErrMissingTimestampColumn, missingTimestampColumnMessage)
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, headerError(ErrMalformedInput, fmt.Sprintf("Unable to read worksheet: %v", err))
	}
	defer func() { _ = rows.Close() }()

	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	return p.consume(ctx, &sheetSource{rows: rows}, func(raw string) (time.Time, error) {
		return p.parseSheetTimestamp(raw, date1904)
	})
}

type sheetSource struct {
	rows    *excelize.Rows
	skipped int
}

// Next skips rows with no content; spreadsheets often carry formatted but
// empty trailing rows.
func (s *sheetSource) Next() ([]string, error) {
	s.skipped = 0
	for s.rows.Next() {
		cols, err := s.rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, err
		}
		if !blankRow(cols) {
			return cols, nil
		}
		s.skipped++
	}
	if err := s.rows.Error(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *sheetSource) Skipped() int {
	return s.skipped
}

func blankRow(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func (p *Parser) parseSheetTimestamp(raw string, date1904 bool) (time.Time, error) {
	ts, err := ParseTimestamp(raw, p.location)
	if err == nil {
		return ts, nil
	}

	serial, convErr := strconv.ParseFloat(raw, 64)
	if convErr != nil || serial <= 0 {
		return time.Time{}, err
	}
	wall, convErr := excelize.ExcelDateToTime(serial, date1904)
	if convErr != nil {
		return time.Time{}, err
	}
	wall = wall.Round(time.Minute)
	ts = time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), 0, 0, p.location)
	if ts.Hour() != wall.Hour() || ts.Minute() != wall.Minute() {
		return time.Time{}, invalidTimestamp(raw)
	}
	return ts, nil
}
