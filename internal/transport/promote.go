package transport

import (
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sellsync/market-crawler/internal/catalog"
	"github.com/sellsync/market-crawler/internal/metrics"
)

// Heuristic decides when a plain fetch brought back a JavaScript shell that
// needs a browser render to yield product markup.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a promotion detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(result catalog.FetchResult) bool {
	if result.Status != 200 {
		return false
	}
	body := result.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}

// maybePromote refetches through the rendered strategy when the plain result
// looks like an unrendered application shell. The plain result stands if the
// render fails.
func (t *Transport) maybePromote(ctx context.Context, request catalog.FetchRequest, result catalog.FetchResult) catalog.FetchResult {
	if t.detector == nil || t.rendered == nil || !t.detector.ShouldPromote(result) {
		return result
	}

	promoted := request
	promoted.Render = true

	renderCtx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	defer cancel()

	host := catalog.Host(request.URL)
	start := t.clock.Now()
	renderedResult, err := t.rendered.Fetch(renderCtx, promoted)
	elapsed := t.clock.Now().Sub(start)
	if err != nil {
		metrics.ObserveFetch(host, "error", "headless", elapsed)
		t.logger.Warn("render promotion failed", zap.String("url", request.URL), zap.Error(err))
		return result
	}
	metrics.ObserveFetch(host, "success", "headless", elapsed)
	t.logger.Debug("render promotion applied", zap.String("url", request.URL))
	return renderedResult
}
