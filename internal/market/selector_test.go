package market

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sellsync/market-crawler/internal/catalog"
)

func demoRules() SelectorRules {
	return SelectorRules{
		Market: "aqus",
		Seeds:  []string{"https://shop.example/list?page=1"},
		Listing: ListingRules{
			ItemSelector:     "ul.products li a.item",
			NextPageSelector: "a.next",
		},
		Detail: DetailRules{
			SKUSelector:      "span.sku",
			NameSelector:     "h1.product-name",
			PriceSelector:    "span.price",
			Currency:         "KRW",
			CategorySelector: "div.breadcrumb span.category",
			BrandSelector:    "span.brand",
			ImageSelector:    "div.gallery img",
			ImageAttr:        "src",
			AttrRowSelector:  "table.specs tr",
			AttrKeySelector:  "th",
			AttrValSelector:  "td",
		},
	}
}

const listingHTML = `<html><body>
<ul class="products">
<li><a class="item" href="/item/1">one</a></li>
<li><a class="item" href="/item/2">two</a></li>
<li><a class="item" href="https://shop.example/item/3">three</a></li>
</ul>
<a class="next" href="/list?page=2">next</a>
</body></html>`

const detailHTML = `<html><body>
<h1 class="product-name">Camping Lantern X100</h1>
<span class="sku">LNT-X100</span>
<span class="price">12,900원</span>
<div class="breadcrumb"><span class="category">Camping Gear</span></div>
<span class="brand">Lumenmax</span>
<div class="gallery">
<img src="/img/1.jpg"/>
<img src="/img/2.jpg"/>
</div>
<table class="specs">
<tr><th>Weight</th><td>350g</td></tr>
<tr><th>Color</th><td>Olive</td></tr>
</table>
</body></html>`

func TestSelectorAdapterSeeds(t *testing.T) {
	t.Parallel()

	adapter := NewSelectorAdapter(demoRules())
	require.Equal(t, "aqus", adapter.Market())

	seeds := adapter.SeedURLs()
	require.Len(t, seeds, 1)
	require.Equal(t, catalog.PageKindListing, seeds[0].Kind)
}

func TestSelectorAdapterNextURLs(t *testing.T) {
	t.Parallel()

	adapter := NewSelectorAdapter(demoRules())
	page := catalog.FetchResult{
		URL:  "https://shop.example/list?page=1",
		Body: []byte(listingHTML),
	}

	links, err := adapter.NextURLs(page, catalog.PageKindListing)
	require.NoError(t, err)
	require.Len(t, links, 4)

	require.Equal(t, "https://shop.example/item/1", links[0].URL)
	require.Equal(t, catalog.PageKindDetail, links[0].Kind)
	require.Equal(t, "https://shop.example/item/3", links[2].URL)
	require.Equal(t, "https://shop.example/list?page=2", links[3].URL)
	require.Equal(t, catalog.PageKindListing, links[3].Kind)
}

func TestSelectorAdapterNextURLsIgnoresDetailPages(t *testing.T) {
	t.Parallel()

	adapter := NewSelectorAdapter(demoRules())
	links, err := adapter.NextURLs(catalog.FetchResult{Body: []byte(detailHTML)}, catalog.PageKindDetail)
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestSelectorAdapterExtract(t *testing.T) {
	t.Parallel()

	adapter := NewSelectorAdapter(demoRules())
	page := catalog.FetchResult{
		URL:  "https://shop.example/item/1",
		Body: []byte(detailHTML),
	}

	products, err := adapter.Extract(page)
	require.NoError(t, err)
	require.Len(t, products, 1)

	raw := products[0]
	require.Equal(t, "LNT-X100", raw[FieldSKU])
	require.Equal(t, "Camping Lantern X100", raw[FieldName])
	require.Equal(t, "12,900원", raw[FieldPrice])
	require.Equal(t, "KRW", raw[FieldCurrency])
	require.Equal(t, "Camping Gear", raw[FieldCategory])
	require.Equal(t, "Lumenmax", raw[FieldBrand])
	require.Equal(t, "https://shop.example/img/1.jpg", raw[FieldImage])
	require.Equal(t, "https://shop.example/img/2.jpg", raw[FieldImage+"2"])
	require.Equal(t, "350g", raw[AttrPrefix+"Weight"])
	require.Equal(t, "Olive", raw[AttrPrefix+"Color"])
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aqus.json")
	rulesJSON := `{
  "market": "aqus",
  "seeds": ["https://shop.example/list"],
  "listing": {"item_selector": "a.item", "next_page_selector": "a.next"},
  "detail": {"sku_selector": "span.sku", "price_selector": "span.price", "currency": "KRW"}
}`
	require.NoError(t, os.WriteFile(path, []byte(rulesJSON), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Equal(t, "aqus", rules.Market)
	require.Equal(t, "a.item", rules.Listing.ItemSelector)
	require.Equal(t, "KRW", rules.Detail.Currency)
}

func TestLoadRulesRejectsMissingMarket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"seeds": []}`), 0o600))

	_, err := LoadRules(path)
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register("aqus", func() (catalog.Adapter, error) {
		return NewSelectorAdapter(demoRules()), nil
	}))
	require.Error(t, registry.Register("aqus", func() (catalog.Adapter, error) {
		return nil, nil
	}))

	adapter, err := registry.Resolve("aqus")
	require.NoError(t, err)
	require.Equal(t, "aqus", adapter.Market())

	_, err = registry.Resolve("nope")
	require.Error(t, err)

	require.Equal(t, []string{"aqus"}, registry.Known())
}
