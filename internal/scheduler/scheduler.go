package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/LJTian/TrendsRealtime/internal/collector"
	"github.com/LJTian/TrendsRealtime/internal/config"
	"github.com/LJTian/TrendsRealtime/internal/processor"
	"github.com/LJTian/TrendsRealtime/internal/storage"
	"github.com/robfig/cron/v3"
)

const (
	SourceNews = "news"
	SourceWiki = "wiki"
)

// Store 批量持久化接口，由 storage.Store 实现
type Store interface {
	SaveNews(ctx context.Context, items []processor.NewsArticle) (int, error)
	SaveWiki(ctx context.Context, items []processor.WikiChange) (int, error)
}

type FeedParser interface {
	Parse(data []byte) (collector.ParseResult, error)
}

type WikiPoller interface {
	Poll(ctx context.Context, cur collector.Cursor) ([]collector.RawEdit, collector.Cursor, error)
}

// StatusRecorder 可选：每轮结束后记录 PassStatus（例如 Redis）
type StatusRecorder interface {
	SaveStatus(ctx context.Context, st storage.PassStatus) error
}

type Options struct {
	Feeds    []config.FeedSource
	Fetcher  collector.Fetcher
	Parser   FeedParser
	Wiki     WikiPoller
	WikiHost string
	Store    Store
	Status   StatusRecorder

	NewsInterval time.Duration
	WikiInterval time.Duration
	// WikiLookback 启动时 wiki 游标回看的时长，避免从头拉取
	WikiLookback time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

type Scheduler struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time

	cron    *cron.Cron
	newsJob cron.Job
	wikiJob cron.Job
	runCtx  context.Context

	mu     sync.Mutex
	cursor collector.Cursor
	status map[string]storage.PassStatus
}

func New(opts Options) (*Scheduler, error) {
	if opts.Fetcher == nil || opts.Parser == nil || opts.Wiki == nil || opts.Store == nil {
		return nil, errors.New("scheduler: fetcher, parser, wiki poller and store are required")
	}
	if opts.NewsInterval <= 0 || opts.WikiInterval <= 0 {
		return nil, errors.New("scheduler: intervals must be positive")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Scheduler{
		opts:   opts,
		log:    opts.Logger,
		now:    opts.Now,
		runCtx: context.Background(),
		status: make(map[string]storage.PassStatus),
	}
	s.cursor = collector.Cursor{Since: s.now().UTC().Add(-opts.WikiLookback).Truncate(time.Second)}

	cronLog := cron.PrintfLogger(slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn))
	s.cron = cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLog))

	// 同一数据源同时最多一轮在跑：上一轮未结束时新的 tick 直接跳过
	chain := cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))
	s.newsJob = chain.Then(cron.FuncJob(func() { s.RunNews(s.runCtx) }))
	s.wikiJob = chain.Then(cron.FuncJob(func() { s.RunWiki(s.runCtx) }))

	s.cron.Schedule(cron.Every(opts.NewsInterval), s.newsJob)
	s.cron.Schedule(cron.Every(opts.WikiInterval), s.wikiJob)
	return s, nil
}

// Run 常驻模式：立即各跑一轮，之后按各自周期执行，直到 ctx 取消。
// 返回前等待进行中的轮次结束。
func (s *Scheduler) Run(ctx context.Context) {
	s.runCtx = ctx
	s.cron.Start()
	s.log.Info("scheduler started",
		"news_every", s.opts.NewsInterval.String(),
		"wiki_every", s.opts.WikiInterval.String(),
		"feeds", len(s.opts.Feeds))

	var wg sync.WaitGroup
	for _, job := range []cron.Job{s.newsJob, s.wikiJob} {
		wg.Add(1)
		go func(j cron.Job) {
			defer wg.Done()
			j.Run()
		}(job)
	}

	<-ctx.Done()
	s.log.Info("scheduler stopping, waiting for in-flight passes")
	<-s.cron.Stop().Done()
	wg.Wait()
	s.log.Info("scheduler stopped")
}

// RunOnce 单次模式：依次执行一轮新闻和一轮 wiki 后返回
func (s *Scheduler) RunOnce(ctx context.Context) []storage.PassStatus {
	news := s.RunNews(ctx)
	wiki := s.RunWiki(ctx)
	return []storage.PassStatus{news, wiki}
}

// RunNews 抓取全部订阅源 -> 解析 -> 规范化 -> 去重 -> 持久化。
// 单个源失败只记录日志并跳过。
func (s *Scheduler) RunNews(ctx context.Context) storage.PassStatus {
	st := storage.PassStatus{Source: SourceNews, StartedAt: s.now().UTC()}

	var articles []processor.NewsArticle
	for _, feed := range s.opts.Feeds {
		log := s.log.With("source", processor.SourceLabel(feed.URL))
		body, err := s.opts.Fetcher.Fetch(ctx, feed.URL)
		if err != nil {
			log.Warn("feed fetch failed", "url", feed.URL, "error", err)
			st.Failed = append(st.Failed, feed.URL)
			continue
		}
		res, err := s.opts.Parser.Parse(body)
		if err != nil {
			log.Warn("feed parse failed", "url", feed.URL, "error", err)
			st.Failed = append(st.Failed, feed.URL)
			continue
		}
		if res.Empty > 0 || res.Capped > 0 {
			log.Debug("feed entries discarded", "url", feed.URL, "empty", res.Empty, "capped", res.Capped)
		}
		now := s.now()
		for _, e := range res.Entries {
			articles = append(articles, processor.NormalizeEntry(e, feed.URL, feed.Kind, now))
		}
		log.Debug("feed parsed", "entries", len(res.Entries))
	}
	st.Fetched = len(articles)

	articles = processor.DedupeArticles(articles)
	if dropped := st.Fetched - len(articles); dropped > 0 {
		s.log.Debug("duplicate articles dropped", "source", SourceNews, "dropped", dropped)
	}
	n, err := s.opts.Store.SaveNews(ctx, articles)
	if err != nil {
		st.Error = err.Error()
		s.log.Error("news persist failed", "source", "store", "rows", len(articles), "error", err)
	} else {
		st.Attempted = n
		if n > 0 {
			s.log.Info("news pass done", "source", SourceNews, "rows", n, "fetched", st.Fetched, "failed_feeds", len(st.Failed))
		}
	}

	st.FinishedAt = s.now().UTC()
	s.record(ctx, st)
	return st
}

// RunWiki 拉取一页 recentchanges 并持久化。拉取或写入失败时游标保持不变，
// 下一轮重试同一窗口；成功后推进游标。
func (s *Scheduler) RunWiki(ctx context.Context) storage.PassStatus {
	st := storage.PassStatus{Source: SourceWiki, StartedAt: s.now().UTC()}
	log := s.log.With("source", SourceWiki)
	cur := s.Cursor()

	edits, next, err := s.opts.Wiki.Poll(ctx, cur)
	if err != nil {
		log.Warn("wiki poll failed", "cursor", cur.String(), "error", err)
		st.Error = err.Error()
		return s.finishWiki(ctx, st, cur)
	}
	st.Fetched = len(edits)

	now := s.now()
	changes := make([]processor.WikiChange, 0, len(edits))
	for _, e := range edits {
		changes = append(changes, processor.NormalizeEdit(e, s.opts.WikiHost, now))
	}
	changes = processor.DedupeChanges(changes)
	if dropped := len(edits) - len(changes); dropped > 0 {
		log.Debug("duplicate edits dropped", "dropped", dropped)
	}

	n, err := s.opts.Store.SaveWiki(ctx, changes)
	if err != nil {
		s.log.Error("wiki persist failed", "source", "store", "rows", len(changes), "error", err)
		st.Error = err.Error()
		return s.finishWiki(ctx, st, cur)
	}
	st.Attempted = n

	s.mu.Lock()
	s.cursor = next
	s.mu.Unlock()
	if n > 0 {
		log.Info("wiki pass done", "rows", n, "cursor", next.String())
	}
	return s.finishWiki(ctx, st, next)
}

func (s *Scheduler) finishWiki(ctx context.Context, st storage.PassStatus, cur collector.Cursor) storage.PassStatus {
	st.Cursor = cur.String()
	st.FinishedAt = s.now().UTC()
	s.record(ctx, st)
	return st
}

// Cursor 返回当前 wiki 游标
func (s *Scheduler) Cursor() collector.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Status 返回各数据源最近一轮的状态，按数据源名排序
func (s *Scheduler) Status() []storage.PassStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.PassStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (s *Scheduler) record(ctx context.Context, st storage.PassStatus) {
	s.mu.Lock()
	s.status[st.Source] = st
	s.mu.Unlock()

	if s.opts.Status == nil {
		return
	}
	if err := s.opts.Status.SaveStatus(ctx, st); err != nil {
		s.log.Warn("status cache write failed", "source", st.Source, "error", err)
	}
}
