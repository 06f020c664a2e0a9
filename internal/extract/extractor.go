package extract

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sellsync/market-crawler/internal/catalog"
	"github.com/sellsync/market-crawler/internal/market"
)

// Config carries the vocabulary snapshot and match threshold for one run.
type Config struct {
	Categories []string
	Brands     []string
	Threshold  int
}

// Extractor converts adapter output into ProductRecords.
type Extractor struct {
	cfg Config
}

// New builds an Extractor. A zero threshold falls back to 80.
func New(cfg Config) *Extractor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 80
	}
	return &Extractor{cfg: cfg}
}

// Extract runs the adapter against the page and normalizes every raw product.
// A record missing its SKU or price fails the job with an ExtractionError;
// the run itself continues.
func (e *Extractor) Extract(page catalog.FetchResult, adapter catalog.Adapter) ([]catalog.ProductRecord, error) {
	raws, err := adapter.Extract(page)
	if err != nil {
		return nil, err
	}

	records := make([]catalog.ProductRecord, 0, len(raws))
	for _, raw := range raws {
		record, err := e.build(raw, page.URL)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (e *Extractor) build(raw catalog.RawProduct, sourceURL string) (catalog.ProductRecord, error) {
	sku := strings.TrimSpace(raw[market.FieldSKU])
	if sku == "" {
		return catalog.ProductRecord{}, &catalog.ExtractionError{Reason: "missing sku", URL: sourceURL}
	}

	priceText := strings.TrimSpace(raw[market.FieldPrice])
	if priceText == "" {
		return catalog.ProductRecord{}, &catalog.ExtractionError{Reason: "missing price", URL: sourceURL}
	}
	price, err := ParsePrice(priceText)
	if err != nil {
		return catalog.ProductRecord{}, &catalog.ExtractionError{
			Reason: fmt.Sprintf("unparsable price %q", priceText),
			URL:    sourceURL,
		}
	}

	record := catalog.ProductRecord{
		SKU:         sku,
		Name:        strings.TrimSpace(raw[market.FieldName]),
		Price:       price,
		Currency:    strings.TrimSpace(raw[market.FieldCurrency]),
		CategoryRaw: strings.TrimSpace(raw[market.FieldCategory]),
		BrandRaw:    strings.TrimSpace(raw[market.FieldBrand]),
		ImageURLs:   imageURLs(raw),
		Attributes:  attributes(raw),
		SourceURL:   sourceURL,
	}

	record.CategoryNormalized, record.CategoryMatched = Normalize(record.CategoryRaw, e.cfg.Categories, e.cfg.Threshold)
	record.BrandNormalized, record.BrandMatched = Normalize(record.BrandRaw, e.cfg.Brands, e.cfg.Threshold)

	return record, nil
}

// imageURLs collects image_url, image_url2, ... preserving their numbering.
func imageURLs(raw catalog.RawProduct) []string {
	var urls []string
	if first, ok := raw[market.FieldImage]; ok && first != "" {
		urls = append(urls, first)
	}
	for i := 2; ; i++ {
		u, ok := raw[fmt.Sprintf("%s%d", market.FieldImage, i)]
		if !ok || u == "" {
			break
		}
		urls = append(urls, u)
	}
	return urls
}

func attributes(raw catalog.RawProduct) map[string]string {
	var keys []string
	for key := range raw {
		if strings.HasPrefix(key, market.AttrPrefix) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	attrs := make(map[string]string, len(keys))
	for _, key := range keys {
		attrs[strings.TrimPrefix(key, market.AttrPrefix)] = raw[key]
	}
	return attrs
}

// ParsePrice extracts a numeric amount from market price text, tolerating
// currency symbols, unit suffixes, and comma thousand separators.
func ParsePrice(text string) (float64, error) {
	var builder strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '.':
			builder.WriteRune(r)
		case r == ',':
			// thousands separator
		}
	}
	cleaned := builder.String()
	if cleaned == "" {
		return 0, fmt.Errorf("no digits in %q", text)
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	return value, nil
}
