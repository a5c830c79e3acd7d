package services

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"retail-segments/internal/errors"
	"retail-segments/internal/models"
)

const (
	batchSize  = 10000
	maxWorkers = 10
)

// Required columns, in the order they appear in the source dataset.
var requiredColumns = []string{
	"InvoiceNo", "StockCode", "Description", "Quantity",
	"InvoiceDate", "UnitPrice", "CustomerID", "Country",
}

const (
	colInvoiceNo = iota
	colStockCode
	colDescription
	colQuantity
	colInvoiceDate
	colUnitPrice
	colCustomerID
	colCountry
)

// Month-first layouts come first; ISO forms are accepted as fallbacks.
var dateLayouts = []string{
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/06 15:04",
	"01-02-06 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"1/2/2006",
	"2006-01-02",
}

// missingMarkers is the pandas default NA set, matched case-sensitively.
var missingMarkers = map[string]struct{}{
	"#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {},
	"N/A": {}, "NA": {}, "NULL": {}, "NaN": {}, "None": {},
	"n/a": {}, "nan": {}, "null": {},
}

type rowStatus uint8

const (
	rowValid rowStatus = iota
	rowMissing
	rowMalformed
)

type rowResult struct {
	tx     models.Transaction
	status rowStatus
	line   int
	err    error
}

type sourceRow struct {
	fields []string
	line   int
}

// columnIndex maps required column position to the source column.
type columnIndex [8]int

type LoaderOption func(*Loader)

// WithStrict makes malformed rows fail the load instead of being skipped.
func WithStrict(strict bool) LoaderOption {
	return func(l *Loader) { l.strict = strict }
}

// Loader reads retail transactions from CSV or XLSX files.
type Loader struct {
	logger *slog.Logger
	strict bool
}

func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadTransactions reads every row of path, drops rows with a missing
// required field and parses the rest. The file format is chosen by
// extension.
func (l *Loader) LoadTransactions(ctx context.Context, path string) ([]models.Transaction, models.LoadStats, error) {
	start := time.Now()
	l.logger.Info("loading transactions", "path", path)

	var (
		txs   []models.Transaction
		stats models.LoadStats
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		txs, stats, err = l.loadXLSX(ctx, path)
	default:
		txs, stats, err = l.loadCSV(ctx, path)
	}
	if err != nil {
		return nil, stats, err
	}
	if len(txs) == 0 {
		return nil, stats, errors.Validation("no valid records found").
			WithDetails(fmt.Sprintf("read %d rows, dropped %d, rejected %d", stats.RowsRead, stats.RowsDropped, stats.RowsRejected))
	}

	l.logger.Info("transactions loaded",
		"rows_read", stats.RowsRead,
		"rows_valid", stats.RowsValid,
		"rows_dropped", stats.RowsDropped,
		"rows_rejected", stats.RowsRejected,
		"duration", time.Since(start),
	)
	return txs, stats, nil
}

func (l *Loader) loadCSV(ctx context.Context, path string) ([]models.Transaction, models.LoadStats, error) {
	var stats models.LoadStats

	file, err := os.Open(path)
	if err != nil {
		return nil, stats, errors.InputWrap(err, "open input file")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, stats, errors.Input("empty file")
	}
	if err != nil {
		return nil, stats, errors.InputWrap(err, "read header")
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, stats, err
	}

	var txs []models.Transaction
	batch := make([]sourceRow, 0, batchSize)

	flush := func() error {
		results, err := l.parseBatch(ctx, batch, cols)
		if err != nil {
			return err
		}
		txs, err = l.collect(results, txs, &stats)
		batch = batch[:0]
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if stderrors.As(err, &perr) {
				stats.RowsRead++
				stats.RowsRejected++
				if l.strict {
					return nil, stats, errors.ValidationWrap(err, "malformed csv row").
						WithDetails(fmt.Sprintf("line %d", perr.Line))
				}
				l.logger.Debug("skipping unreadable row", "line", perr.Line, "error", err)
				continue
			}
			return nil, stats, errors.InputWrap(err, "read input file")
		}
		line, _ := reader.FieldPos(0)
		batch = append(batch, sourceRow{fields: record, line: line})

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, stats, err
			}
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return nil, stats, err
		}
	}
	return txs, stats, nil
}

func (l *Loader) loadXLSX(ctx context.Context, path string) ([]models.Transaction, models.LoadStats, error) {
	var stats models.LoadStats

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, stats, errors.InputWrap(err, "open workbook")
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.Rows(sheet)
		if err != nil {
			return nil, stats, errors.InputWrap(err, "read sheet "+sheet)
		}

		var (
			cols      columnIndex
			found     bool
			line      int
			txs       []models.Transaction
			batch     = make([]sourceRow, 0, batchSize)
			scanLimit = 10
		)
		for rows.Next() {
			line++
			record, err := rows.Columns()
			if err != nil {
				rows.Close()
				return nil, stats, errors.InputWrap(err, "read row")
			}
			if !found {
				if c, err := mapColumns(record); err == nil {
					cols, found = c, true
					l.logger.Debug("found header row", "sheet", sheet, "row", line)
				} else if line >= scanLimit {
					break
				}
				continue
			}
			batch = append(batch, sourceRow{fields: record, line: line})
			if len(batch) >= batchSize {
				results, err := l.parseBatch(ctx, batch, cols)
				if err == nil {
					txs, err = l.collect(results, txs, &stats)
				}
				if err != nil {
					rows.Close()
					return nil, stats, err
				}
				batch = batch[:0]
			}
		}
		rows.Close()
		if !found {
			continue
		}
		if len(batch) > 0 {
			results, err := l.parseBatch(ctx, batch, cols)
			if err == nil {
				txs, err = l.collect(results, txs, &stats)
			}
			if err != nil {
				return nil, stats, err
			}
		}
		return txs, stats, nil
	}

	return nil, stats, errors.Input("no sheet with the required columns").
		WithDetails(strings.Join(requiredColumns, ", "))
}

// parseBatch parses rows concurrently. Results keep the input order.
func (l *Loader) parseBatch(ctx context.Context, batch []sourceRow, cols columnIndex) ([]rowResult, error) {
	results := make([]rowResult, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	chunk := (len(batch) + maxWorkers - 1) / maxWorkers
	for start := 0; start < len(batch); start += chunk {
		end := min(start+chunk, len(batch))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				results[i] = parseRecord(batch[i], cols)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (l *Loader) collect(results []rowResult, txs []models.Transaction, stats *models.LoadStats) ([]models.Transaction, error) {
	for _, r := range results {
		stats.RowsRead++
		switch r.status {
		case rowValid:
			stats.RowsValid++
			txs = append(txs, r.tx)
		case rowMissing:
			stats.RowsDropped++
		case rowMalformed:
			stats.RowsRejected++
			if l.strict {
				return nil, errors.ValidationWrap(r.err, "malformed row").
					WithDetails(fmt.Sprintf("line %d", r.line))
			}
			l.logger.Debug("skipping malformed row", "line", r.line, "error", r.err)
		}
	}
	return txs, nil
}

func mapColumns(header []string) (columnIndex, error) {
	var cols columnIndex
	for i := range cols {
		cols[i] = -1
	}
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		for j, want := range requiredColumns {
			if strings.EqualFold(name, want) && cols[j] == -1 {
				cols[j] = i
			}
		}
	}

	var missing []string
	for j, idx := range cols {
		if idx == -1 {
			missing = append(missing, requiredColumns[j])
		}
	}
	if len(missing) > 0 {
		return cols, errors.Input("missing required columns").
			WithDetails(strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRecord(row sourceRow, cols columnIndex) rowResult {
	var values [8]string
	for j, idx := range cols {
		if idx < len(row.fields) {
			values[j] = strings.TrimSpace(row.fields[idx])
		}
		if isMissing(values[j]) {
			return rowResult{status: rowMissing, line: row.line}
		}
	}

	malformed := func(err error) rowResult {
		return rowResult{status: rowMalformed, line: row.line, err: err}
	}

	qty, err := parseQuantity(values[colQuantity])
	if err != nil {
		return malformed(fmt.Errorf("quantity %q: %w", values[colQuantity], err))
	}
	price, err := decimal.NewFromString(values[colUnitPrice])
	if err != nil {
		return malformed(fmt.Errorf("unit price %q: %w", values[colUnitPrice], err))
	}
	date, err := parseInvoiceDate(values[colInvoiceDate])
	if err != nil {
		return malformed(fmt.Errorf("invoice date %q: %w", values[colInvoiceDate], err))
	}

	return rowResult{
		status: rowValid,
		line:   row.line,
		tx: models.Transaction{
			InvoiceNo:   values[colInvoiceNo],
			StockCode:   values[colStockCode],
			Description: values[colDescription],
			Quantity:    qty,
			InvoiceDate: date,
			UnitPrice:   price,
			CustomerID:  normalizeCustomerID(values[colCustomerID]),
			Country:     values[colCountry],
		},
	}
}

func isMissing(v string) bool {
	if v == "" {
		return true
	}
	_, ok := missingMarkers[v]
	return ok
}

// parseQuantity accepts integer text and integer-valued floats such as "6.0".
func parseQuantity(s string) (int64, error) {
	if q, err := strconv.ParseInt(s, 10, 64); err == nil {
		return q, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not an integer")
	}
	return int64(f), nil
}

func parseInvoiceDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	// Spreadsheets without a date format hand back the serial number.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		return excelize.ExcelDateToTime(serial, false)
	}
	return time.Time{}, fmt.Errorf("unrecognised date format")
}

// normalizeCustomerID strips the ".0" that float-typed exports add.
func normalizeCustomerID(s string) string {
	if i := strings.IndexByte(s, '.'); i > 0 && strings.Trim(s[i+1:], "0") == "" {
		return s[:i]
	}
	return s
}
