package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sellsync/market-crawler/internal/catalog"
)

// Raw field keys produced by the selector adapter. Numbered image keys follow
// the multi-thumbnail layout the markets share.
const (
	FieldSKU      = "sku"
	FieldName     = "name"
	FieldPrice    = "price"
	FieldCurrency = "currency"
	FieldCategory = "category"
	FieldBrand    = "brand"
	FieldImage    = "image_url"
	AttrPrefix    = "attr:"
)

// ListingRules locate product links and pagination on listing pages.
type ListingRules struct {
	ItemSelector     string `json:"item_selector"`
	LinkAttr         string `json:"link_attr"`
	NextPageSelector string `json:"next_page_selector"`
	NextPageAttr     string `json:"next_page_attr"`
	Render           bool   `json:"render"`
}

// DetailRules locate product fields on detail pages.
type DetailRules struct {
	SKUSelector      string `json:"sku_selector"`
	SKUAttr          string `json:"sku_attr"`
	NameSelector     string `json:"name_selector"`
	PriceSelector    string `json:"price_selector"`
	Currency         string `json:"currency"`
	CategorySelector string `json:"category_selector"`
	BrandSelector    string `json:"brand_selector"`
	ImageSelector    string `json:"image_selector"`
	ImageAttr        string `json:"image_attr"`
	AttrRowSelector  string `json:"attr_row_selector"`
	AttrKeySelector  string `json:"attr_key_selector"`
	AttrValSelector  string `json:"attr_val_selector"`
	Render           bool   `json:"render"`
}

// SelectorRules is the declarative description of one market.
type SelectorRules struct {
	Market  string       `json:"market"`
	Seeds   []string     `json:"seeds"`
	Listing ListingRules `json:"listing"`
	Detail  DetailRules  `json:"detail"`
}

// LoadRules reads a market's selector rules from a JSON file.
func LoadRules(path string) (SelectorRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SelectorRules{}, fmt.Errorf("read rules: %w", err)
	}
	var rules SelectorRules
	if err := json.Unmarshal(data, &rules); err != nil {
		return SelectorRules{}, fmt.Errorf("parse rules: %w", err)
	}
	if rules.Market == "" {
		return SelectorRules{}, fmt.Errorf("rules missing market id")
	}
	return rules, nil
}

// SelectorAdapter implements catalog.Adapter from a SelectorRules value.
type SelectorAdapter struct {
	rules SelectorRules
}

// NewSelectorAdapter builds an adapter for the given rules.
func NewSelectorAdapter(rules SelectorRules) *SelectorAdapter {
	return &SelectorAdapter{rules: rules}
}

// Market returns the market identifier.
func (a *SelectorAdapter) Market() string {
	return a.rules.Market
}

// SeedURLs returns the configured starting listing pages.
func (a *SelectorAdapter) SeedURLs() []catalog.Seed {
	seeds := make([]catalog.Seed, 0, len(a.rules.Seeds))
	for _, u := range a.rules.Seeds {
		seeds = append(seeds, catalog.Seed{URL: u, Kind: catalog.PageKindListing})
	}
	return seeds
}

// Render reports whether the ruleset wants headless rendering for a kind.
func (a *SelectorAdapter) Render(kind catalog.PageKind) bool {
	if kind == catalog.PageKindDetail {
		return a.rules.Detail.Render
	}
	return a.rules.Listing.Render
}

// NextURLs discovers product links and the next listing page from a fetched
// listing or category page. Detail pages yield nothing.
func (a *SelectorAdapter) NextURLs(page catalog.FetchResult, kind catalog.PageKind) ([]catalog.Link, error) {
	if kind == catalog.PageKindDetail {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var links []catalog.Link
	linkAttr := a.rules.Listing.LinkAttr
	if linkAttr == "" {
		linkAttr = "href"
	}
	doc.Find(a.rules.Listing.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr(linkAttr)
		if !ok || href == "" {
			return
		}
		links = append(links, catalog.Link{URL: resolve(base, href), Kind: catalog.PageKindDetail})
	})

	if a.rules.Listing.NextPageSelector != "" {
		nextAttr := a.rules.Listing.NextPageAttr
		if nextAttr == "" {
			nextAttr = "href"
		}
		if href, ok := doc.Find(a.rules.Listing.NextPageSelector).First().Attr(nextAttr); ok && href != "" {
			links = append(links, catalog.Link{URL: resolve(base, href), Kind: catalog.PageKindListing})
		}
	}
	return links, nil
}

// Extract pulls the raw field mapping from a product detail page.
func (a *SelectorAdapter) Extract(page catalog.FetchResult) ([]catalog.RawProduct, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &catalog.ExtractionError{Reason: fmt.Sprintf("parse detail page: %v", err), URL: page.URL}
	}

	rules := a.rules.Detail
	raw := catalog.RawProduct{}

	if rules.SKUAttr != "" {
		if v, ok := doc.Find(rules.SKUSelector).First().Attr(rules.SKUAttr); ok {
			raw[FieldSKU] = strings.TrimSpace(v)
		}
	} else {
		raw[FieldSKU] = text(doc, rules.SKUSelector)
	}
	raw[FieldName] = text(doc, rules.NameSelector)
	raw[FieldPrice] = text(doc, rules.PriceSelector)
	if rules.Currency != "" {
		raw[FieldCurrency] = rules.Currency
	}
	raw[FieldCategory] = text(doc, rules.CategorySelector)
	raw[FieldBrand] = text(doc, rules.BrandSelector)

	imageAttr := rules.ImageAttr
	if imageAttr == "" {
		imageAttr = "src"
	}
	base, _ := url.Parse(page.URL)
	index := 0
	doc.Find(rules.ImageSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, ok := sel.Attr(imageAttr)
		if !ok || src == "" {
			return true
		}
		index++
		key := FieldImage
		if index > 1 {
			key = fmt.Sprintf("%s%d", FieldImage, index)
		}
		if base != nil {
			src = resolve(base, src)
		}
		raw[key] = src
		return index < 5
	})

	if rules.AttrRowSelector != "" {
		doc.Find(rules.AttrRowSelector).Each(func(_ int, row *goquery.Selection) {
			key := strings.TrimSpace(row.Find(rules.AttrKeySelector).First().Text())
			value := strings.TrimSpace(row.Find(rules.AttrValSelector).First().Text())
			if key != "" && value != "" {
				raw[AttrPrefix+key] = value
			}
		})
	}

	return []catalog.RawProduct{raw}, nil
}

func text(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

var _ catalog.Adapter = (*SelectorAdapter)(nil)
