// Package loader parses price and filing exports into the rows the stores
// bulk-load. Files carry a header row; columns are matched by name, so extra
// columns are ignored. Tab-separated files are detected from the header.
package loader

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
)

var (
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("missing column")
	// ErrMalformedRow is returned for a row that does not parse.
	ErrMalformedRow = errors.New("malformed row")
)

// ReadPrices parses symbol, date, close and adj_close columns, plus optional
// open and volume. A missing open takes the close.
func ReadPrices(r io.Reader) ([]models.PriceBar, error) {
	t, err := newTable(r, "symbol", "date", "close", "adj_close")
	if err != nil {
		return nil, err
	}
	var out []models.PriceBar
	for {
		row, err := t.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		b := models.PriceBar{Symbol: row.symbol("symbol")}
		b.Date = row.date("date")
		b.Close = row.float("close")
		b.AdjClose = row.float("adj_close")
		b.Open = b.Close
		if row.has("open") {
			b.Open = row.float("open")
		}
		if row.has("volume") {
			b.Volume = row.float("volume")
		}
		if err := row.err(); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
}

// ReadSnapshots parses symbol, kind, ddate, filed and value columns. kind is
// equity or shares. Row order is kept since dedupe keeps the first filing.
func ReadSnapshots(r io.Reader) ([]models.FundamentalSnapshot, error) {
	t, err := newTable(r, "symbol", "kind", "ddate", "filed", "value")
	if err != nil {
		return nil, err
	}
	var out []models.FundamentalSnapshot
	for {
		row, err := t.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		f := models.FundamentalSnapshot{Symbol: row.symbol("symbol")}
		f.Kind = row.kind("kind")
		f.EffectiveDate = row.date("ddate")
		f.FiledDate = row.date("filed")
		f.Value = row.float("value")
		if err := row.err(); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
}

type table struct {
	r    *csv.Reader
	cols map[string]int
	line int
}

func newTable(r io.Reader, required ...string) (*table, error) {
	br := bufio.NewReader(r)
	first, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if strings.TrimSpace(first) == "" {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}

	cr := csv.NewReader(io.MultiReader(strings.NewReader(first), br))
	if strings.Contains(first, "\t") {
		cr.Comma = '\t'
	}
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := &table{r: cr, cols: make(map[string]int, len(header)), line: 1}
	for i, h := range header {
		t.cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range required {
		if _, ok := t.cols[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}
	return t, nil
}

func (t *table) next() (*csvRow, error) {
	rec, err := t.r.Read()
	t.line++
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, t.line, err)
	}
	return &csvRow{t: t, rec: rec}, nil
}

// csvRow collects the first parse failure so callers read fields unchecked.
type csvRow struct {
	t     *table
	rec   []string
	first error
}

func (r *csvRow) has(col string) bool {
	i, ok := r.t.cols[col]
	return ok && i < len(r.rec) && strings.TrimSpace(r.rec[i]) != ""
}

func (r *csvRow) get(col string) string {
	i := r.t.cols[col]
	if i >= len(r.rec) {
		r.fail(col, "missing value")
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *csvRow) fail(col, msg string) {
	if r.first == nil {
		r.first = fmt.Errorf("%w: line %d: %s: %s", ErrMalformedRow, r.t.line, col, msg)
	}
}

func (r *csvRow) err() error { return r.first }

func (r *csvRow) symbol(col string) string {
	s := strings.ToUpper(r.get(col))
	if s == "" {
		r.fail(col, "empty symbol")
	}
	return s
}

func (r *csvRow) date(col string) time.Time {
	v := r.get(col)
	d, err := time.Parse(calendar.DateLayout, v)
	if err != nil {
		r.fail(col, fmt.Sprintf("date %q", v))
	}
	return d
}

func (r *csvRow) float(col string) float64 {
	v := r.get(col)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(col, fmt.Sprintf("number %q", v))
	}
	return f
}

func (r *csvRow) kind(col string) models.FundamentalKind {
	k := models.FundamentalKind(strings.ToLower(r.get(col)))
	if k != models.KindEquity && k != models.KindShares {
		r.fail(col, fmt.Sprintf("kind %q", k))
	}
	return k
}
