// Package exporter writes product cluster assignments to CSV or XLSX.
package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"retail-segments/internal/models"
)

const (
	ProductsSheet = "Products"
	SummarySheet  = "Summary"
)

var productHeader = []string{
	"StockCode", "Description", "TotalQuantitySold", "AvgUnitPrice",
	"TransactionCount", "TotalRevenue", "Cluster",
}

var summaryHeader = []string{
	"Cluster", "Size", "TotalQuantitySold", "AvgUnitPrice", "TransactionCount", "TotalRevenue",
}

// ExportFile writes seg to path, picking the format from the extension.
// bom only applies to CSV output.
func ExportFile(path string, seg *models.Segmentation, bom bool) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".xlsx" {
		return fmt.Errorf("unsupported export format %q (want .csv or .xlsx)", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}

	if ext == ".xlsx" {
		err = WriteXLSX(f, seg)
	} else {
		err = WriteCSV(f, seg, bom)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCSV writes one row per product with its cluster label. A UTF-8 byte
// order mark is prepended when bom is set, for spreadsheet imports.
func WriteCSV(w io.Writer, seg *models.Segmentation, bom bool) error {
	if bom {
		if _, err := io.WriteString(w, "\ufeff"); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(productHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, a := range seg.Assignments() {
		if err := cw.Write([]string{
			a.StockCode,
			a.Description,
			strconv.FormatInt(a.TotalQuantitySold, 10),
			a.AvgUnitPrice.StringFixed(4),
			strconv.Itoa(a.TransactionCount),
			a.TotalRevenue.StringFixed(2),
			strconv.Itoa(a.Cluster),
		}); err != nil {
			return fmt.Errorf("write row %s: %w", a.StockCode, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a workbook with a Products sheet and a Summary sheet.
func WriteXLSX(w io.Writer, seg *models.Segmentation) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ProductsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := setRow(f, ProductsSheet, 1, toAny(productHeader)); err != nil {
		return err
	}
	for i, a := range seg.Assignments() {
		row := []any{
			a.StockCode,
			a.Description,
			a.TotalQuantitySold,
			a.AvgUnitPrice.InexactFloat64(),
			a.TransactionCount,
			a.TotalRevenue.InexactFloat64(),
			a.Cluster,
		}
		if err := setRow(f, ProductsSheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	if err := setRow(f, SummarySheet, 1, toAny(summaryHeader)); err != nil {
		return err
	}
	for i, s := range seg.Summaries {
		row := []any{s.Cluster, s.Size, s.MeanQuantitySold, s.MeanAvgUnitPrice, s.MeanTransactionCount, s.MeanRevenue}
		if err := setRow(f, SummarySheet, i+2, row); err != nil {
			return err
		}
	}
	meta := [][]any{
		{"RunID", seg.RunID.String()},
		{"Method", seg.Method},
		{"Source", seg.Source},
	}
	for i, row := range meta {
		if err := setRow(f, SummarySheet, len(seg.Summaries)+3+i, row); err != nil {
			return err
		}
	}

	if err := f.SetPanes(ProductsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
