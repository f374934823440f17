package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(limits Limits) *Parser {
	return NewParser(limits, WithLocation(time.UTC))
}

func parseString(t *testing.T, p *Parser, in string) ([]Row, error) {
	t.Helper()
	return p.Parse(context.Background(), strings.NewReader(in))
}

func TestParseAcceptsValidRows(t *testing.T) {
	p := newTestParser(DefaultLimits())
	rows, err := parseString(t, p, "timestamp,INV1,INV2\n7/9/2019 0:00,0,12.5\n7/9/2019 0:15,-1,2000\n")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.True(t, rows[0].Timestamp.Equal(time.Date(2019, 7, 9, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, rows[0].Outputs["INV1"])
	assert.Equal(t, 0.0, *rows[0].Outputs["INV1"])
	assert.Equal(t, 12.5, *rows[0].Outputs["INV2"])
	assert.Equal(t, -1.0, *rows[1].Outputs["INV1"])
	assert.Equal(t, 2000.0, *rows[1].Outputs["INV2"])
}

func TestParseFlexibleDeviceNames(t *testing.T) {
	p := newTestParser(DefaultLimits())
	rows, err := parseString(t, p, " MyDevice , timestamp \n42,7/9/2019 0:00\n")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Contains(t, rows[0].Outputs, "MyDevice")
	assert.Equal(t, 42.0, *rows[0].Outputs["MyDevice"])
}

func TestParseStripsBOM(t *testing.T) {
	p := newTestParser(DefaultLimits())
	rows, err := parseString(t, p, "\ufefftimestamp,INV1\n7/9/2019 0:00,1\n")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestParseBlankCellIsNull(t *testing.T) {
	p := newTestParser(DefaultLimits())
	rows, err := parseString(t, p, "timestamp,INV1,INV2\n1/1/2024 0:00,,5\n1/1/2024 0:15,3\n")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	v, ok := rows[0].Outputs["INV1"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, 5.0, *rows[0].Outputs["INV2"])

	v, ok = rows[1].Outputs["INV2"]
	assert.True(t, ok, "short rows yield null for missing cells")
	assert.Nil(t, v)
}

func TestParseDuplicateTimestamps(t *testing.T) {
	p := newTestParser(DefaultLimits())
	rows, err := parseString(t, p, "timestamp,INV1\n7/9/2019 0:00,10\n7/9/2019 0:00,20\n")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 10.0, *rows[0].Outputs["INV1"])
	assert.Equal(t, 20.0, *rows[1].Outputs["INV1"])
}

func TestParseHeaderErrors(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		kind    error
		message string
	}{
		{"missing timestamp", "date,INV1\n7/9/2019 0:00,0\n", ErrMissingTimestampColumn, `Missing "timestamp" column. Header must include exactly one column named "timestamp".`},
		{"case sensitive", "Timestamp,INV1\n7/9/2019 0:00,0\n", ErrMissingTimestampColumn, `Missing "timestamp" column`},
		{"two timestamp columns", "timestamp,INV1,timestamp\n", ErrMissingTimestampColumn, "exactly one"},
		{"no devices", "timestamp\n7/9/2019 0:00\n", ErrNoDeviceColumns, "At least one device column required (besides timestamp)."},
		{"empty input", "", ErrMissingTimestampColumn, "timestamp"},
		{"duplicate device", "timestamp,INV1,INV1\n", ErrDuplicateColumn, `"INV1"`},
	}

	p := newTestParser(DefaultLimits())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := parseString(t, p, tc.in)
			require.Error(t, err)
			assert.Nil(t, rows)
			assert.ErrorIs(t, err, tc.kind)
			assert.Contains(t, err.Error(), tc.message)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, 0, perr.Row)
		})
	}
}

func TestParseRowErrors(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		row     int
		kind    error
		message string
	}{
		{"above range", "timestamp,INV1\n7/9/2019 0:00,3000\n", 1, ErrOutputOutOfRange, "Output value 3000 for INV1 out of range (-10 to 2000)"},
		{"below range", "timestamp,INV1\n7/9/2019 0:00,-11\n", 1, ErrOutputOutOfRange, "out of range"},
		{"non numeric", "timestamp,INV1\n7/9/2019 0:00,0\n7/9/2019 0:15,abc\n", 2, ErrInvalidOutputValue, `"abc" for INV1`},
		{"nan", "timestamp,INV1\n7/9/2019 0:00,NaN\n", 1, ErrInvalidOutputValue, "NaN"},
		{"infinity", "timestamp,INV1\n7/9/2019 0:00,Infinity\n", 1, ErrInvalidOutputValue, "Infinity"},
		{"negative infinity", "timestamp,INV1\n7/9/2019 0:00,-Infinity\n", 1, ErrInvalidOutputValue, "Infinity"},
		{"blank timestamp", "timestamp,INV1\n7/9/2019 0:00,1\n7/9/2019 0:15,2\n ,3\n", 3, ErrMissingTimestamp, "Missing timestamp"},
		{"bad timestamp", "timestamp,INV1\n13/9/2019 0:00,1\n", 1, ErrInvalidTimestamp, "Invalid timestamp: 13/9/2019 0:00"},
	}

	p := newTestParser(DefaultLimits())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := parseString(t, p, tc.in)
			require.Error(t, err)
			assert.Nil(t, rows)
			assert.ErrorIs(t, err, tc.kind)
			assert.Contains(t, err.Error(), tc.message)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tc.row, perr.Row)
			assert.True(t, strings.HasPrefix(err.Error(), fmt.Sprintf("row %d: ", tc.row)))
		})
	}
}

func TestParseRowLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxRows = 2
	p := newTestParser(limits)

	rows, err := parseString(t, p, "timestamp,INV1\n1/1/2024 0:00,1\n1/1/2024 0:15,2\n")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = parseString(t, p, "timestamp,INV1\n1/1/2024 0:00,1\n1/1/2024 0:15,2\n1/1/2024 0:30,3\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRowLimitExceeded)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 3, perr.Row)
	assert.Contains(t, perr.Message, "maximum of 2 rows")
}

func TestParseRowLimitMessageGroupsDigits(t *testing.T) {
	assert.Equal(t, 1_000_000, newTestParser(Limits{}).Limits().MaxRows)

	p := newTestParser(Limits{OutputMin: -10, OutputMax: 2000, MaxRows: 1500})
	src := &generatedSource{header: []string{"timestamp", "INV1"}, rows: 1501}
	_, err := p.consume(context.Background(), src, p.parseTimestamp)
	require.Error(t, err)
	assert.EqualError(t, err, "row 1501: CSV exceeds maximum of 1,500 rows")
}

func TestParseCustomRange(t *testing.T) {
	p := newTestParser(Limits{OutputMin: 0, OutputMax: 10})
	_, err := parseString(t, p, "timestamp,INV1\n1/1/2024 0:00,11\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(0 to 10)")
}

func TestParseStopsReadingAtFirstFailure(t *testing.T) {
	body := "timestamp,INV1\n1/1/2024 0:00,bad\n" + strings.Repeat("1/1/2024 0:00,1\n", 10_000)
	r := &countingReader{r: strings.NewReader(body)}

	p := newTestParser(DefaultLimits())
	_, err := p.Parse(context.Background(), r)
	require.Error(t, err)
	assert.Less(t, r.n, len(body), "input should not be drained after a fatal row")
}

func TestParseHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestParser(DefaultLimits())
	_, err := p.Parse(ctx, strings.NewReader("timestamp,INV1\n1/1/2024 0:00,1\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	if len(p) > 512 {
		p = p[:512]
	}
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

type generatedSource struct {
	header  []string
	rows    int
	emitted int
}

func (g *generatedSource) Next() ([]string, error) {
	if g.header != nil {
		h := g.header
		g.header = nil
		return h, nil
	}
	if g.emitted >= g.rows {
		return nil, io.EOF
	}
	g.emitted++
	return []string{"1/1/2024 0:00", "1"}, nil
}
