package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/TrendsRealtime/internal/api"
	"github.com/LJTian/TrendsRealtime/internal/collector"
	"github.com/LJTian/TrendsRealtime/internal/config"
	"github.com/LJTian/TrendsRealtime/internal/logger"
	"github.com/LJTian/TrendsRealtime/internal/scheduler"
	"github.com/LJTian/TrendsRealtime/internal/storage"
	"github.com/gin-gonic/gin"
)

// 采集入口：--once 执行一轮后退出，否则常驻直到收到 SIGINT/SIGTERM
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, config.ErrHelp) {
		return 0
	}
	if err != nil {
		logger.New("info", "text", os.Stderr).Error("invalid configuration", "error", err)
		return 2
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(log)

	feeds, err := cfg.Feeds()
	if err != nil {
		log.Error("invalid feed list", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.OpenPostgres(ctx, cfg.DSN(), storage.Options{
		BatchSize:       cfg.BatchSize,
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectBackoff:  cfg.ConnectBackoff(),
		Logger:          log,
	})
	if err != nil {
		log.Error("store unavailable, aborting", "source", "store", "error", err)
		return 1
	}
	defer store.Close()

	var (
		status scheduler.StatusRecorder
		cache  *storage.StatusCache
	)
	if cfg.RedisAddr != "" {
		c, err := storage.NewStatusCache(ctx, cfg.RedisAddr)
		if err != nil {
			log.Warn("status cache disabled", "source", "redis", "error", err)
		} else {
			defer c.Close()
			cache, status = c, c
		}
	}

	fetcher := collector.NewCollyFetcher(cfg.UserAgent, cfg.FetchTimeout())
	s, err := scheduler.New(scheduler.Options{
		Feeds:        feeds,
		Fetcher:      fetcher,
		Parser:       collector.NewFeedParser(),
		Wiki:         collector.NewWikiClient(fetcher, cfg.WikiHost(), cfg.WikiLimit),
		WikiHost:     cfg.WikiHost(),
		Store:        store,
		Status:       status,
		NewsInterval: cfg.PollNewsInterval(),
		WikiInterval: cfg.PollWikiInterval(),
		WikiLookback: cfg.WikiLookback(),
		Logger:       log,
	})
	if err != nil {
		log.Error("init scheduler failed", "error", err)
		return 1
	}

	log.Info("store ok, start ingest", "once", cfg.Once, "kind", cfg.Kind, "feeds", len(feeds), "wiki", cfg.WikiHost())

	if cfg.Once {
		results := s.RunOnce(ctx)
		log.Info("once done",
			"news", results[0].Attempted, "news_failed_feeds", len(results[0].Failed),
			"wiki", results[1].Attempted)
		return 0
	}

	if cfg.HTTPAddr != "" {
		srv := newStatusServer(cfg.HTTPAddr, s, cache)
		go func() {
			log.Info("status api listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status api exited", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	s.Run(ctx)
	log.Info("shutdown complete")
	return 0
}

func newStatusServer(addr string, status api.StatusSource, cache *storage.StatusCache) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	srv := api.NewServer(status)
	if cache != nil {
		srv.WithCache(cache, scheduler.SourceNews, scheduler.SourceWiki)
	}
	srv.RegisterRoutes(r)
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
