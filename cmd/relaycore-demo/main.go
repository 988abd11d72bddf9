// Command relaycore-demo wires the LLM orchestrator, scrape client,
// youtube pipeline, and bookmark syncer into a single process, watching
// config.json/system.json for hot reload the way the engine this was
// adapted from does.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"relaycore/pkg/booksync"
	"relaycore/pkg/config"
	"relaycore/pkg/llm"
	_ "relaycore/pkg/llm/anthropiclm"
	_ "relaycore/pkg/llm/openailm"
	_ "relaycore/pkg/llm/openrouter"
	"relaycore/pkg/logging"
	"relaycore/pkg/scrape"
	"relaycore/pkg/youtube"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, sysCfg, err := config.Load(); err == nil {
		logging.Init(sysCfg.LogLevel)
	} else {
		logging.Init("info")
	}

	reloadCh := config.WatchConfig(ctx, "config.json", "system.json")

	for {
		err := run(ctx, reloadCh)
		if err != nil {
			slog.Error("relaycore: run failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				slog.Info("relaycore: config change detected while waiting, retrying immediately")
			case <-time.After(5 * time.Second):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
			slog.Info("relaycore: configuration reloaded, restarting")
		}
	}
}

// services bundles the pipelines a demo run exercises, for wiring
// visibility only — a real deployment would expose these through its own
// chat-bot dispatcher or HTTP API, both outside this core's scope.
type services struct {
	orchestrator *llm.Orchestrator
	scrapeClient *scrape.Client
	ytPipeline   *youtube.Pipeline
	syncService  *booksync.Service
}

func run(ctx context.Context, reloadCh <-chan struct{}) error {
	cfg, sysCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("relaycore: failed to load configuration: %w", err)
	}
	logging.Init(sysCfg.LogLevel)
	slog.Info("relaycore: starting", "log_level", sysCfg.LogLevel)

	orchestrator, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		return fmt.Errorf("relaycore: failed to init llm orchestrator: %w", err)
	}

	scrapeClient, err := scrape.New(scrape.Config{
		APIKey:            cfg.Scrape.APIKey,
		BaseURL:           cfg.Scrape.BaseURL,
		TimeoutSeconds:    cfg.Scrape.TimeoutSeconds,
		MaxRetries:        cfg.Scrape.MaxRetries,
		MaxConnections:    cfg.Scrape.MaxConnections,
		MaxKeepAlive:      cfg.Scrape.MaxKeepAlive,
		KeepAliveExpiry:   cfg.Scrape.KeepAliveExpiry,
		CreditThreshold:   cfg.Scrape.CreditThreshold,
		MaxResponseSizeMB: cfg.Scrape.MaxResponseSizeMB,
		DefaultFormats:    cfg.Scrape.DefaultFormats,
	})
	if err != nil {
		return fmt.Errorf("relaycore: failed to init scrape client: %w", err)
	}

	budget := youtube.CheckAndEnforce("data/youtube", int64(sysCfg.YouTubeStorageBudgetMB)<<20, 30, time.Now)
	ytPipeline := youtube.NewPipeline(
		nil, // Repository: supplied by the embedding application's persistence layer
		nil, // TranscriptFetcher: supplied by an adapter over youtube-transcript-api's Go equivalent
		youtube.NewYTDLPDownloader(""),
		budget,
		"data/youtube",
		sysCfg.YouTubeMaxQuality,
		sysCfg.YouTubeTranscriptLanguages,
	)

	syncService := booksync.NewService(
		nil, // Repository: supplied by the embedding application's persistence layer
		booksync.NewHTTPRemoteClientFactory(cfg.BookSync),
		booksync.TagNames{SyncTag: "relaycore", ReadTag: "read"},
		booksync.RetryPolicyFromSystemConfig(sysCfg),
	)

	svc := &services{
		orchestrator: orchestrator,
		scrapeClient: scrapeClient,
		ytPipeline:   ytPipeline,
		syncService:  syncService,
	}
	_ = svc

	slog.Info("relaycore: ready")

	select {
	case <-ctx.Done():
		slog.Info("relaycore: shutdown signal received")
		return nil
	case <-reloadCh:
		slog.Info("relaycore: configuration change detected")
		return nil
	}
}
