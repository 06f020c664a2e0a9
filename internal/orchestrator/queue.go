// Package orchestrator runs the crawl: it feeds seed URLs through a bounded
// queue, fans work out to a pool of workers, and drives each job through
// fetch, extract, and export.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sellsync/market-crawler/internal/catalog"
)

// jobQueue is a bounded in-memory queue with context-aware operations.
type jobQueue struct {
	ch      chan catalog.CrawlJob
	closeMu sync.Mutex
	closed  bool
}

func newJobQueue(capacity int) *jobQueue {
	return &jobQueue{
		ch: make(chan catalog.CrawlJob, capacity),
	}
}

// errQueueClosed signals a clean drain to dequeuing workers.
var errQueueClosed = errors.New("queue closed")

// enqueue pushes a job into the queue or returns if the context ends.
func (q *jobQueue) enqueue(ctx context.Context, job catalog.CrawlJob) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// dequeue pops the next job, respecting context cancellation.
func (q *jobQueue) dequeue(ctx context.Context) (catalog.CrawlJob, error) {
	select {
	case <-ctx.Done():
		return catalog.CrawlJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return catalog.CrawlJob{}, errQueueClosed
		}
		return job, nil
	}
}

// close closes the underlying channel so workers drain and exit.
func (q *jobQueue) close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
