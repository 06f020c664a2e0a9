package market

import "github.com/sellsync/market-crawler/internal/catalog"

// BooksRules describes books.toscrape.com, a stable public catalog site used
// for demos and integration testing.
func BooksRules() SelectorRules {
	return SelectorRules{
		Market: "books",
		Seeds:  []string{"http://books.toscrape.com/catalogue/category/books_1/index.html"},
		Listing: ListingRules{
			ItemSelector:     "article.product_pod h3 a",
			LinkAttr:         "href",
			NextPageSelector: "li.next a",
			NextPageAttr:     "href",
		},
		Detail: DetailRules{
			SKUSelector:      "table.table tr:first-child td",
			NameSelector:     "div.product_main h1",
			PriceSelector:    "div.product_main p.price_color",
			Currency:         "GBP",
			CategorySelector: "ul.breadcrumb li:nth-child(3) a",
			ImageSelector:    "div.item.active img",
			ImageAttr:        "src",
			AttrRowSelector:  "table.table tr",
			AttrKeySelector:  "th",
			AttrValSelector:  "td",
		},
	}
}

// DefaultRegistry returns a registry preloaded with the built-in markets.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Register cannot fail on a fresh registry with distinct ids.
	_ = r.Register("books", func() (catalog.Adapter, error) {
		return NewSelectorAdapter(BooksRules()), nil
	})
	return r
}
