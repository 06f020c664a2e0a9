// Package main wires together the market crawler binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sellsync/market-crawler/internal/catalog"
	"github.com/sellsync/market-crawler/internal/config"
	"github.com/sellsync/market-crawler/internal/export"
	"github.com/sellsync/market-crawler/internal/extract"
	"github.com/sellsync/market-crawler/internal/fetcher/headless"
	"github.com/sellsync/market-crawler/internal/fetcher/httpfetch"
	"github.com/sellsync/market-crawler/internal/logging"
	"github.com/sellsync/market-crawler/internal/market"
	"github.com/sellsync/market-crawler/internal/metrics"
	"github.com/sellsync/market-crawler/internal/orchestrator"
	"github.com/sellsync/market-crawler/internal/resilience"
	"github.com/sellsync/market-crawler/internal/storage/sqlite"
	"github.com/sellsync/market-crawler/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	marketID := flag.String("market", "", "Market to crawl (see -list)")
	rulesPath := flag.String("rules", "", "Path to a selector rules file overriding the registry")
	list := flag.Bool("list", false, "List known markets and exit")
	flag.Parse()

	registry := market.DefaultRegistry()
	if *list {
		for _, id := range registry.Known() {
			fmt.Println(id)
		}
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, err := resolveAdapter(registry, *marketID, *rulesPath)
	if err != nil {
		logger.Fatal("resolve market", zap.Error(err))
	}
	logger = logging.ForMarket(logger, adapter.Market())

	report, err := run(ctx, cfg, adapter, logger)
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
	logger.Info("run complete",
		zap.Int("discovered", report.Discovered),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("rows_written", report.RowsWritten),
		zap.Duration("elapsed", report.Elapsed),
	)
}

func resolveAdapter(registry *market.Registry, marketID, rulesPath string) (catalog.Adapter, error) {
	if rulesPath != "" {
		rules, err := market.LoadRules(rulesPath)
		if err != nil {
			return nil, err
		}
		return market.NewSelectorAdapter(rules), nil
	}
	if marketID == "" {
		return nil, fmt.Errorf("either -market or -rules is required")
	}
	return registry.Resolve(marketID)
}

func run(ctx context.Context, cfg config.Config, adapter catalog.Adapter, logger *zap.Logger) (catalog.RunReport, error) {
	clock := catalog.SystemClock{}

	store, err := sqlite.New(cfg.Cache.Path, cfg.Cache.HotEntries, clock)
	if err != nil {
		return catalog.RunReport{}, fmt.Errorf("open cache store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("cache store close failed", zap.Error(closeErr))
		}
	}()

	plain := httpfetch.New(httpfetch.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	var rendered catalog.Fetcher = headless.NewNoop()
	if cfg.Headless.Enabled {
		chrome, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer chrome.Close()
			rendered = chrome
		}
	}

	trans := transport.New(plain, rendered, store, transport.Config{
		PerHostMax:      cfg.Crawler.PerHostMax,
		PerHostRPS:      cfg.Crawler.PerHostRPS,
		FetchTimeout:    cfg.FetchTimeout(),
		CacheTTL:        cfg.CacheTTL(),
		AutoRender:      cfg.Headless.Enabled && cfg.Headless.AutoRender,
		RenderThreshold: cfg.Headless.RenderThreshold,
	}, logger.Named("transport"))

	exec := resilience.New(resilience.Config{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		BackoffInitial:   time.Duration(cfg.Retry.BackoffInitialMs) * time.Millisecond,
		BackoffMax:       time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
		BreakerThreshold: cfg.Breaker.FailureThreshold,
		BreakerWindow:    time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
		BreakerCooldown:  time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
	}, logger.Named("resilience"))

	extractor := extract.New(extract.Config{
		Categories: cfg.Normalize.Categories,
		Brands:     cfg.Normalize.Brands,
		Threshold:  cfg.Normalize.Threshold,
	})

	mapping, err := export.LoadMapping(cfg.Export.MappingPath)
	if err != nil {
		return catalog.RunReport{}, err
	}
	outputPath := export.OutputPath(cfg.Export.OutputDir, adapter.Market(), clock.Now())
	book, err := export.OpenFromTemplate(cfg.Export.TemplatePath, outputPath, cfg.Export.SheetName, adapter.Market())
	if err != nil {
		return catalog.RunReport{}, err
	}

	o := orchestrator.New(trans, exec, extractor, adapter, export.NewSheet(book, mapping), store, clock,
		orchestrator.Config{
			Workers:    cfg.Crawler.Concurrency,
			QueueDepth: cfg.Crawler.QueueDepth,
			MaxDepth:   cfg.Crawler.MaxDepth,
			Resume:     cfg.Crawler.ResumeStates,
			DeferDelay: time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		}, logger.Named("orchestrator"))

	report, runErr := o.Run(ctx)
	if closeErr := book.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	if runErr == nil {
		logger.Info("workbook written", zap.String("path", outputPath))
	}
	return report, runErr
}
