// Package export maps product records onto spreadsheet columns and appends
// them to a shared templated workbook.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/sellsync/market-crawler/internal/catalog"
)

// Record field names usable in a column mapping file.
const (
	FieldSKU       = "sku"
	FieldName      = "name"
	FieldPrice     = "price"
	FieldCurrency  = "currency"
	FieldCategory  = "category"
	FieldBrand     = "brand"
	FieldImageURLs = "image_urls"
	FieldSourceURL = "source_url"
)

// Transform names applicable to mapped fields.
const (
	TransformCurrency = "currency"
	TransformJoin     = "join"
)

// ColumnMapping translates record fields to workbook columns. Loaded once per
// run; immutable afterwards.
type ColumnMapping struct {
	Columns    map[string]string `json:"columns"`
	Transforms map[string]string `json:"transforms,omitempty"`
}

// LoadMapping reads and validates a column mapping file.
func LoadMapping(path string) (ColumnMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ColumnMapping{}, fmt.Errorf("read column mapping: %w", err)
	}
	var mapping ColumnMapping
	if err := json.Unmarshal(data, &mapping); err != nil {
		return ColumnMapping{}, fmt.Errorf("parse column mapping: %w", err)
	}
	if err := mapping.Validate(); err != nil {
		return ColumnMapping{}, err
	}
	return mapping, nil
}

// Validate checks column identifiers and required fields. Every exported row
// must carry at least a SKU and its source URL.
func (m ColumnMapping) Validate() error {
	if len(m.Columns) == 0 {
		return fmt.Errorf("column mapping is empty")
	}
	for _, required := range []string{FieldSKU, FieldSourceURL} {
		if _, ok := m.Columns[required]; !ok {
			return fmt.Errorf("column mapping missing required field %q", required)
		}
	}
	for field, column := range m.Columns {
		if _, err := excelize.ColumnNameToNumber(column); err != nil {
			return fmt.Errorf("field %q: invalid column %q: %w", field, column, err)
		}
	}
	for field, transform := range m.Transforms {
		if _, ok := m.Columns[field]; !ok {
			return fmt.Errorf("transform on unmapped field %q", field)
		}
		switch transform {
		case TransformCurrency, TransformJoin:
		default:
			return fmt.Errorf("field %q: unknown transform %q", field, transform)
		}
	}
	return nil
}

// Fields returns the mapped field names, sorted.
func (m ColumnMapping) Fields() []string {
	fields := make([]string, 0, len(m.Columns))
	for field := range m.Columns {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Resolve returns the cell value for one mapped field, applying its declared
// transform.
func (m ColumnMapping) Resolve(field string, record catalog.ProductRecord) (string, error) {
	value := fieldValue(field, record)
	switch m.Transforms[field] {
	case TransformCurrency:
		if field != FieldPrice {
			return value, nil
		}
		amount := strconv.FormatFloat(record.Price, 'f', -1, 64)
		if record.Currency == "" {
			return amount, nil
		}
		return amount + " " + record.Currency, nil
	case TransformJoin:
		if field == FieldImageURLs {
			return strings.Join(record.ImageURLs, "\n"), nil
		}
		return value, nil
	default:
		return value, nil
	}
}

func fieldValue(field string, record catalog.ProductRecord) string {
	switch field {
	case FieldSKU:
		return record.SKU
	case FieldName:
		return record.Name
	case FieldPrice:
		return strconv.FormatFloat(record.Price, 'f', -1, 64)
	case FieldCurrency:
		return record.Currency
	case FieldCategory:
		return record.CategoryNormalized
	case FieldBrand:
		return record.BrandNormalized
	case FieldImageURLs:
		if len(record.ImageURLs) == 0 {
			return ""
		}
		return record.ImageURLs[0]
	case FieldSourceURL:
		return record.SourceURL
	default:
		// attribute columns address into the record's attribute map
		return record.Attributes[field]
	}
}
