package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sellsync/market-crawler/internal/catalog"
	"github.com/sellsync/market-crawler/internal/metrics"
)

// Book is the shared output workbook. Appends are serialized by a mutex so
// concurrent exporters never interleave rows; the template's header row is
// never touched, rows are only ever appended.
type Book struct {
	mu      sync.Mutex
	file    *excelize.File
	sheet   string
	path    string
	market  string
	nextRow int
	rows    int
}

// OutputPath builds the run's workbook filename from the market id and date.
func OutputPath(dir, marketID string, date time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.xlsx", marketID, date.Format("20060102")))
}

// OpenFromTemplate opens the run's workbook at outputPath, cloning it from
// the template first if it does not exist yet. Reopening an existing output
// file appends after its last row, so a resumed same-day run never loses the
// rows a previous run already wrote. The header layout comes entirely from
// the template.
func OpenFromTemplate(templatePath, outputPath, sheet, marketID string) (*Book, error) {
	fresh := false
	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		if err := copyFile(templatePath, outputPath); err != nil {
			return nil, &catalog.ExportError{Reason: "clone template", Err: err}
		}
		fresh = true
	}

	file, err := excelize.OpenFile(outputPath)
	if err != nil {
		return nil, &catalog.ExportError{Reason: "open workbook", Err: err}
	}

	if sheet == "" {
		sheet = file.GetSheetName(0)
	}
	index, err := file.GetSheetIndex(sheet)
	if err != nil || index < 0 {
		file.Close()
		return nil, &catalog.ExportError{Reason: fmt.Sprintf("sheet %q not in workbook", sheet), Err: err}
	}

	rows, err := file.GetRows(sheet)
	if err != nil {
		file.Close()
		return nil, &catalog.ExportError{Reason: "read workbook rows", Err: err}
	}

	existing := 0
	if !fresh {
		headerRows, err := templateRowCount(templatePath, sheet)
		if err != nil {
			file.Close()
			return nil, err
		}
		if existing = len(rows) - headerRows; existing < 0 {
			existing = 0
		}
	}

	return &Book{
		file:    file,
		sheet:   sheet,
		path:    outputPath,
		market:  marketID,
		nextRow: len(rows) + 1,
		rows:    existing,
	}, nil
}

// templateRowCount reports how many header rows the template contributes, so
// a reopened output file can tell its data rows apart.
func templateRowCount(templatePath, sheet string) (int, error) {
	tpl, err := excelize.OpenFile(templatePath)
	if err != nil {
		return 0, &catalog.ExportError{Reason: "open template", Err: err}
	}
	defer tpl.Close()

	if index, err := tpl.GetSheetIndex(sheet); err != nil || index < 0 {
		sheet = tpl.GetSheetName(0)
	}
	rows, err := tpl.GetRows(sheet)
	if err != nil {
		return 0, &catalog.ExportError{Reason: "read template rows", Err: err}
	}
	return len(rows), nil
}

// Append writes one record as a new row under the mapping. The workbook lock
// is held only for the duration of the append and released on every path.
func (b *Book) Append(record catalog.ProductRecord, mapping ColumnMapping) error {
	if record.SKU == "" || record.SourceURL == "" {
		return &catalog.ExportError{Reason: "record missing sku or source_url"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	row := b.nextRow
	for _, field := range mapping.Fields() {
		value, err := mapping.Resolve(field, record)
		if err != nil {
			return &catalog.ExportError{Reason: fmt.Sprintf("resolve field %q", field), Err: err}
		}
		cell, err := excelize.JoinCellName(mapping.Columns[field], row)
		if err != nil {
			return &catalog.ExportError{Reason: fmt.Sprintf("cell for field %q", field), Err: err}
		}
		if err := b.file.SetCellValue(b.sheet, cell, value); err != nil {
			return &catalog.ExportError{Reason: fmt.Sprintf("write cell %s", cell), Err: err}
		}
	}

	b.nextRow++
	b.rows++
	metrics.ObserveRowExported(b.market)
	return nil
}

// RowsWritten reports data rows in the workbook, counting rows a previous
// same-day run appended before this one reopened the file.
func (b *Book) RowsWritten() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows
}

// Flush persists the workbook to disk.
func (b *Book) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.file.Save(); err != nil {
		return &catalog.ExportError{Reason: "save workbook", Err: err}
	}
	return nil
}

// Close flushes and releases the workbook.
func (b *Book) Close() error {
	if err := b.Flush(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.file.Close(); err != nil {
		return &catalog.ExportError{Reason: "close workbook", Err: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open template: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy template: %w", err)
	}
	return out.Sync()
}
