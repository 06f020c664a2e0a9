package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if fetchesTotal == nil || cacheLookupsTotal == nil ||
		retriesTotal == nil || rowsExportedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveFetch("shop.example", "success", "http", 120*time.Millisecond)
	if val := testutil.ToFloat64(fetchesTotal.WithLabelValues("shop.example", "success")); val != 1 {
		t.Errorf("expected fetchesTotal to be 1, got %f", val)
	}

	ObserveRowExported("aqus")
	if val := testutil.ToFloat64(rowsExportedTotal.WithLabelValues("aqus")); val != 1 {
		t.Errorf("expected rowsExportedTotal to be 1, got %f", val)
	}
}

func TestObserversAreNilSafe(t *testing.T) {
	// Observers no-op when collectors are missing so unit tests elsewhere
	// need no metrics setup.
	ObserveCacheLookup("hit")
	ObserveRetry("shop.example")
	ObserveBreakerOpen("shop.example")
	ObserveJob("aqus", "succeeded")
	WorkerStarted()
	WorkerStopped()
}
