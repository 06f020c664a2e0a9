package export

import "github.com/sellsync/market-crawler/internal/catalog"

// Sheet binds a workbook to one column mapping so callers append records
// without carrying the mapping around.
type Sheet struct {
	book    *Book
	mapping ColumnMapping
}

// NewSheet binds book and mapping.
func NewSheet(book *Book, mapping ColumnMapping) *Sheet {
	return &Sheet{book: book, mapping: mapping}
}

// Append writes one record through the bound mapping.
func (s *Sheet) Append(record catalog.ProductRecord) error {
	return s.book.Append(record, s.mapping)
}

// Flush persists the workbook to disk.
func (s *Sheet) Flush() error {
	return s.book.Flush()
}

// RowsWritten reports the workbook's data rows.
func (s *Sheet) RowsWritten() int {
	return s.book.RowsWritten()
}
