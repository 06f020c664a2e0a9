package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sellsync/market-crawler/internal/catalog"
	"github.com/sellsync/market-crawler/internal/metrics"
	"github.com/sellsync/market-crawler/internal/resilience"
)

// Config controls orchestrator behavior.
type Config struct {
	Workers    int
	QueueDepth int
	MaxDepth   int
	Resume     bool

	// DeferDelay is how long a job waits before requeueing after its host's
	// circuit opened; MaxDefers caps how often one job may be parked.
	DeferDelay time.Duration
	MaxDefers  int
}

// Executor runs one fetch operation under retry and breaker policy.
type Executor interface {
	Execute(ctx context.Context, host string, op resilience.Operation) (catalog.FetchResult, error)
}

// Extractor turns a fetched page into normalized records via the adapter.
type Extractor interface {
	Extract(page catalog.FetchResult, adapter catalog.Adapter) ([]catalog.ProductRecord, error)
}

// Sink receives normalized records bound for the output workbook. Flush must
// make previously appended rows durable.
type Sink interface {
	Append(record catalog.ProductRecord) error
	Flush() error
	RowsWritten() int
}

// Orchestrator feeds seed URLs through a bounded queue and drives each job
// through fetch, extract, and export with a pool of workers.
type Orchestrator struct {
	fetcher     catalog.Fetcher
	exec        Executor
	extractor   Extractor
	adapter     catalog.Adapter
	sink        Sink
	checkpoints catalog.CheckpointStore
	clock       catalog.Clock
	logger      *zap.Logger
	cfg         Config

	queue   *jobQueue
	pending atomic.Int64

	mu         sync.Mutex
	seen       map[string]bool
	discovered int
	succeeded  int
	skipped    int

	fatalOnce sync.Once
	fatalErr  error
	abort     context.CancelFunc

	resumeJobID string
}

// New wires an Orchestrator. Zero-valued config fields get usable defaults.
func New(
	fetcher catalog.Fetcher,
	exec Executor,
	extractor Extractor,
	adapter catalog.Adapter,
	sink Sink,
	checkpoints catalog.CheckpointStore,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 8
	}
	if cfg.DeferDelay <= 0 {
		cfg.DeferDelay = 5 * time.Second
	}
	if cfg.MaxDefers <= 0 {
		cfg.MaxDefers = 3
	}
	if clock == nil {
		clock = catalog.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher:     fetcher,
		exec:        exec,
		extractor:   extractor,
		adapter:     adapter,
		sink:        sink,
		checkpoints: checkpoints,
		clock:       clock,
		logger:      logger,
		cfg:         cfg,
		queue:       newJobQueue(cfg.QueueDepth),
		seen:        make(map[string]bool),
	}
}

// jobID derives a stable identifier from the normalized URL so a resumed run
// recognizes work it already exported.
func jobID(normalizedURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(normalizedURL)).String()
}

// Run crawls the adapter's market until the queue drains and nothing is in
// flight, then reports what happened. Every discovered URL ends up counted as
// either succeeded or skipped.
func (o *Orchestrator) Run(ctx context.Context) (catalog.RunReport, error) {
	started := o.clock.Now()
	market := o.adapter.Market()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.abort = cancel

	if o.cfg.Resume && o.checkpoints != nil {
		cp, ok, err := o.checkpoints.LoadCheckpoint(runCtx, market)
		if err != nil {
			o.logger.Warn("checkpoint load failed", zap.String("market", market), zap.Error(err))
		} else if ok {
			// Honor the checkpoint only when the rows it claims are really
			// in the output workbook; a fresh file means the skip would
			// lose the job's row for good.
			if o.sink.RowsWritten() >= cp.RowsWritten {
				o.resumeJobID = cp.LastJobID
			} else {
				o.logger.Info("checkpoint rows missing from workbook, reprocessing",
					zap.String("market", market),
					zap.Int("checkpoint_rows", cp.RowsWritten),
					zap.Int("workbook_rows", o.sink.RowsWritten()))
			}
		}
	}

	seeds := o.adapter.SeedURLs()
	jobs := make([]catalog.CrawlJob, 0, len(seeds))
	for _, seed := range seeds {
		if job, ok := o.admit(seed.URL, seed.Kind, 0); ok {
			jobs = append(jobs, job)
		}
	}
	if len(jobs) == 0 {
		return catalog.RunReport{MarketID: market, Elapsed: o.clock.Now().Sub(started)}, nil
	}

	// Pending is primed before any worker can drain it to zero.
	o.pending.Add(int64(len(jobs)))

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.WorkerStarted()
			defer metrics.WorkerStopped()
			o.work(runCtx)
		}()
	}

	for _, job := range jobs {
		if err := o.queue.enqueue(runCtx, job); err != nil {
			o.skipJob(&job)
			o.finish()
		}
	}

	wg.Wait()

	o.mu.Lock()
	report := catalog.RunReport{
		MarketID:    market,
		Discovered:  o.discovered,
		Succeeded:   o.succeeded,
		Skipped:     o.skipped,
		RowsWritten: o.sink.RowsWritten(),
		Elapsed:     o.clock.Now().Sub(started),
	}
	o.mu.Unlock()

	if o.fatalErr != nil {
		return report, o.fatalErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// admit registers a URL once. Duplicate or over-depth URLs are dropped.
func (o *Orchestrator) admit(rawURL string, kind catalog.PageKind, depth int) (catalog.CrawlJob, bool) {
	normalized, err := catalog.NormalizeURL(rawURL)
	if err != nil {
		o.logger.Warn("dropping malformed url", zap.String("url", rawURL), zap.Error(err))
		return catalog.CrawlJob{}, false
	}
	if depth > o.cfg.MaxDepth {
		return catalog.CrawlJob{}, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen[normalized] {
		return catalog.CrawlJob{}, false
	}
	o.seen[normalized] = true
	o.discovered++

	metrics.ObserveJob(o.adapter.Market(), string(catalog.JobStatePending))
	return catalog.CrawlJob{
		ID:       jobID(normalized),
		MarketID: o.adapter.Market(),
		URL:      normalized,
		Kind:     kind,
		Depth:    depth,
		State:    catalog.JobStatePending,
	}, true
}

// finish retires one pending job; the last one out closes the queue.
func (o *Orchestrator) finish() {
	if o.pending.Add(-1) == 0 {
		o.queue.close()
	}
}

func (o *Orchestrator) work(ctx context.Context) {
	for {
		job, err := o.queue.dequeue(ctx)
		if err != nil {
			return
		}
		o.process(ctx, job)
		o.finish()
	}
}

func (o *Orchestrator) process(ctx context.Context, job catalog.CrawlJob) {
	job.State = catalog.JobStateInFlight
	metrics.ObserveJob(job.MarketID, string(job.State))

	if o.cfg.Resume && job.ID == o.resumeJobID {
		o.logger.Info("skipping job completed by previous run",
			zap.String("job_id", job.ID), zap.String("url", job.URL))
		o.mu.Lock()
		o.skipped++
		o.mu.Unlock()
		return
	}

	render := false
	if policy, ok := o.adapter.(catalog.RenderPolicy); ok {
		render = policy.Render(job.Kind)
	}

	result, err := o.exec.Execute(ctx, catalog.Host(job.URL), func(ctx context.Context) (catalog.FetchResult, error) {
		return o.fetcher.Fetch(ctx, catalog.FetchRequest{
			URL:    job.URL,
			Method: http.MethodGet,
			Render: render,
		})
	})
	if err != nil {
		var open *catalog.CircuitOpenError
		if errors.As(err, &open) && job.Attempts < o.cfg.MaxDefers {
			o.deferJob(ctx, job)
			return
		}
		o.logger.Warn("job failed permanently",
			zap.String("job_id", job.ID), zap.String("url", job.URL), zap.Error(err))
		o.skipJob(&job)
		return
	}

	links, err := o.adapter.NextURLs(result, job.Kind)
	if err != nil {
		o.logger.Warn("link discovery failed",
			zap.String("job_id", job.ID), zap.String("url", job.URL), zap.Error(err))
		o.skipJob(&job)
		return
	}
	o.spawn(ctx, links, job.Depth+1)

	if job.Kind == catalog.PageKindDetail {
		if ok := o.export(ctx, &job, result); !ok {
			return
		}
	}

	job.State = catalog.JobStateSucceeded
	o.mu.Lock()
	o.succeeded++
	o.mu.Unlock()
	metrics.ObserveJob(job.MarketID, string(job.State))
}

// deferJob parks a job whose host circuit is open and requeues it after the
// cooldown delay instead of abandoning the host's remaining work.
func (o *Orchestrator) deferJob(ctx context.Context, job catalog.CrawlJob) {
	job.Attempts++
	job.State = catalog.JobStateRetrying
	metrics.ObserveJob(job.MarketID, string(job.State))
	o.logger.Info("host circuit open, deferring job",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Int("attempts", job.Attempts))

	o.pending.Add(1)
	go func() {
		timer := time.NewTimer(o.cfg.DeferDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			o.skipJob(&job)
			o.finish()
			return
		case <-timer.C:
		}
		if err := o.queue.enqueue(ctx, job); err != nil {
			o.skipJob(&job)
			o.finish()
		}
	}()
}

// spawn enqueues discovered links. Enqueueing happens off the worker
// goroutine so a full queue cannot deadlock the pool.
func (o *Orchestrator) spawn(ctx context.Context, links []catalog.Link, depth int) {
	for _, link := range links {
		job, ok := o.admit(link.URL, link.Kind, depth)
		if !ok {
			continue
		}
		o.pending.Add(1)
		go func(job catalog.CrawlJob) {
			if err := o.queue.enqueue(ctx, job); err != nil {
				o.logger.Warn("enqueue failed", zap.String("url", job.URL), zap.Error(err))
				o.skipJob(&job)
				o.finish()
			}
		}(job)
	}
}

// export extracts records from a detail page and appends them to the sink.
// The workbook is flushed before the checkpoint advances so a crash can
// never leave the checkpoint claiming rows no file contains. Workbook
// failures are retried once; if they persist the whole run aborts.
func (o *Orchestrator) export(ctx context.Context, job *catalog.CrawlJob, page catalog.FetchResult) bool {
	records, err := o.extractor.Extract(page, o.adapter)
	if err != nil {
		o.logger.Warn("extraction failed",
			zap.String("job_id", job.ID), zap.String("url", job.URL), zap.Error(err))
		o.skipJob(job)
		return false
	}

	for _, record := range records {
		if err := o.sink.Append(record); err != nil {
			o.logger.Warn("workbook append failed, retrying once",
				zap.String("sku", record.SKU), zap.Error(err))
			if err := o.sink.Append(record); err != nil {
				o.fail(err)
				o.skipJob(job)
				return false
			}
		}
	}

	if err := o.sink.Flush(); err != nil {
		o.logger.Warn("workbook flush failed, retrying once", zap.Error(err))
		if err := o.sink.Flush(); err != nil {
			o.fail(err)
			o.skipJob(job)
			return false
		}
	}

	if o.checkpoints != nil {
		cp := catalog.ExportCheckpoint{
			MarketID:    job.MarketID,
			LastJobID:   job.ID,
			RowsWritten: o.sink.RowsWritten(),
			UpdatedAt:   o.clock.Now(),
		}
		if err := o.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
			o.logger.Warn("checkpoint save failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return true
}

// fail records the first run-fatal error and cancels everything in flight.
func (o *Orchestrator) fail(err error) {
	o.fatalOnce.Do(func() {
		var exportErr *catalog.ExportError
		if !errors.As(err, &exportErr) {
			err = &catalog.ExportError{Reason: "workbook append", Err: err}
		}
		o.fatalErr = err
		o.logger.Error("aborting run", zap.Error(err))
		o.abort()
	})
}

// skipJob classifies a job as permanently failed so it still shows up in the
// run report.
func (o *Orchestrator) skipJob(job *catalog.CrawlJob) {
	job.State = catalog.JobStatePermanentlyFailed
	o.mu.Lock()
	o.skipped++
	o.mu.Unlock()
	metrics.ObserveJob(job.MarketID, string(job.State))
}
