package headless

import (
	"context"
	"errors"

	"github.com/sellsync/market-crawler/internal/catalog"
)

// Noop implements catalog.Fetcher but always fails, for runs where no market
// requires browser rendering and no Chrome binary is available.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns a render failure since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ catalog.FetchRequest) (catalog.FetchResult, error) {
	return catalog.FetchResult{}, &catalog.TransportError{
		Kind: catalog.TransportRenderFailed,
		Err:  errors.New("headless fetcher not configured"),
	}
}
