package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const timestampColumn = "timestamp"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Limits bounds a single upload.
type Limits struct {
	OutputMin      float64
	OutputMax      float64
	MaxRows        int
	MaxUploadBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		OutputMin:      -10,
		OutputMax:      2000,
		MaxRows:        1_000_000,
		MaxUploadBytes: 10 << 20,
	}
}

// Row is one accepted data row. A nil output means the cell was blank.
type Row struct {
	Timestamp time.Time
	Outputs   map[string]*float64
}

type Parser struct {
	limits   Limits
	location *time.Location
}

type Option func(*Parser)

// WithLocation sets the zone timestamps are interpreted in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.location = loc
		}
	}
}

func NewParser(limits Limits, opts ...Option) *Parser {
	defaults := DefaultLimits()
	if limits.OutputMin >= limits.OutputMax {
		limits.OutputMin = defaults.OutputMin
		limits.OutputMax = defaults.OutputMax
	}
	if limits.MaxRows <= 0 {
		limits.MaxRows = defaults.MaxRows
	}
	if limits.MaxUploadBytes <= 0 {
		limits.MaxUploadBytes = defaults.MaxUploadBytes
	}

	p := &Parser{limits: limits, location: time.Local}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parser) Limits() Limits {
	return p.limits
}

// Parse reads CSV text row by row. The first failure stops reading and is
// returned as a *ParseError; no rows are returned in that case.
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	return p.consume(ctx, csvSource{reader: reader}, p.parseTimestamp)
}

type rowSource interface {
	// Next returns the next record or io.EOF.
	Next() ([]string, error)
}

// gappedSource is a rowSource that drops blank lines. Skipped reports how
// many were dropped before the record last returned by Next, so row numbers
// keep matching the input.
type gappedSource interface {
	Skipped() int
}

type csvSource struct {
	reader *csv.Reader
}

func (s csvSource) Next() ([]string, error) {
	return s.reader.Read()
}

type header struct {
	timestampIndex int
	devices        []deviceColumn
}

type deviceColumn struct {
	name  string
	index int
}

func (p *Parser) consume(ctx context.Context, src rowSource, parseTimestamp func(string) (time.Time, error)) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields, err := src.Next()
	if errors.Is(err, io.EOF) {
		return nil, headerError(ErrMissingTimestampColumn, missingTimestampColumnMessage)
	}
	if err != nil {
		return nil, headerError(ErrMalformedInput, fmt.Sprintf("Unable to read header: %v", err))
	}

	h, err := parseHeader(fields)
	if err != nil {
		return nil, err
	}

	gapped, _ := src.(gappedSource)

	rows := make([]Row, 0, 64)
	rowIndex := 0
	for {
		fields, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if gapped != nil {
			rowIndex += gapped.Skipped()
		}
		rowIndex++
		if err != nil {
			return nil, rowError(rowIndex, ErrMalformedInput, err.Error())
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(rows) >= p.limits.MaxRows {
			return nil, rowError(rowIndex, ErrRowLimitExceeded,
				fmt.Sprintf("CSV exceeds maximum of %s rows", humanize.Comma(int64(p.limits.MaxRows))))
		}

		row, err := p.parseRow(h, fields, rowIndex, parseTimestamp)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	return rows, nil
}

const (
	missingTimestampColumnMessage = `Missing "timestamp" column. Header must include exactly one column named "timestamp".`
	noDeviceColumnsMessage        = "At least one device column required (besides timestamp)."
)

// parseHeader locates the timestamp column and treats every other named
// column as a device. Columns with a blank name are ignored.
func parseHeader(fields []string) (header, error) {
	h := header{timestampIndex: -1}
	seen := make(map[string]struct{}, len(fields))

	for i, raw := range fields {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if name == timestampColumn {
			if h.timestampIndex >= 0 {
				return header{}, headerError(ErrMissingTimestampColumn, missingTimestampColumnMessage)
			}
			h.timestampIndex = i
			continue
		}
		if _, dup := seen[name]; dup {
			return header{}, headerError(ErrDuplicateColumn, fmt.Sprintf("Duplicate device column %q.", name))
		}
		seen[name] = struct{}{}
		h.devices = append(h.devices, deviceColumn{name: name, index: i})
	}

	if h.timestampIndex < 0 {
		return header{}, headerError(ErrMissingTimestampColumn, missingTimestampColumnMessage)
	}
	if len(h.devices) == 0 {
		return header{}, headerError(ErrNoDeviceColumns, noDeviceColumnsMessage)
	}
	return h, nil
}

func (p *Parser) parseRow(h header, fields []string, rowIndex int, parseTimestamp func(string) (time.Time, error)) (Row, error) {
	rawTimestamp := cell(fields, h.timestampIndex)
	if rawTimestamp == "" {
		return Row{}, rowError(rowIndex, ErrMissingTimestamp, "Missing timestamp")
	}
	ts, err := parseTimestamp(rawTimestamp)
	if err != nil {
		return Row{}, rowError(rowIndex, ErrInvalidTimestamp, fmt.Sprintf("Invalid timestamp: %s", rawTimestamp))
	}

	outputs := make(map[string]*float64, len(h.devices))
	for _, device := range h.devices {
		raw := cell(fields, device.index)
		if raw == "" {
			outputs[device.name] = nil
			continue
		}

		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			return Row{}, rowError(rowIndex, ErrInvalidOutputValue,
				fmt.Sprintf("Invalid output value %q for %s", raw, device.name))
		}
		if value < p.limits.OutputMin || value > p.limits.OutputMax {
			return Row{}, rowError(rowIndex, ErrOutputOutOfRange,
				fmt.Sprintf("Output value %s for %s out of range (%s to %s)",
					formatNumber(value), device.name, formatNumber(p.limits.OutputMin), formatNumber(p.limits.OutputMax)))
		}
		outputs[device.name] = &value
	}

	return Row{Timestamp: ts, Outputs: outputs}, nil
}

func (p *Parser) parseTimestamp(raw string) (time.Time, error) {
	return ParseTimestamp(raw, p.location)
}

func cell(fields []string, index int) string {
	if index < 0 || index >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[index])
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
