package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LJTian/TrendsRealtime/internal/processor"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const defaultBatchSize = 200

// NewsArticle news_articles 表；url 唯一，重复写入由 ON CONFLICT DO NOTHING 吸收
type NewsArticle struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	PublishedTS time.Time `gorm:"column:published_ts;not null;index:news_articles_published_idx,sort:desc;index:news_articles_kind_idx,priority:2,sort:desc"`
	IngestedTS  time.Time `gorm:"column:ingested_ts;not null;default:CURRENT_TIMESTAMP"`
	Source      string    `gorm:"column:source;type:text"`
	Title       string    `gorm:"column:title;type:text;not null;default:''"`
	URL         string    `gorm:"column:url;type:text;uniqueIndex:unique_url"`
	Summary     string    `gorm:"column:summary;type:text"`
	Kind        string    `gorm:"column:kind;type:text;index:news_articles_kind_idx,priority:1"`
}

func (NewsArticle) TableName() string { return "news_articles" }

// WikiChange wiki_rc 表；(url, ts, user_name) 唯一，作为编辑的幂等键
type WikiChange struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	TS       time.Time `gorm:"column:ts;not null;index:wiki_rc_ts_idx,sort:desc;uniqueIndex:wiki_rc_edit_uniq,priority:2"`
	Page     string    `gorm:"column:page;type:text"`
	UserName string    `gorm:"column:user_name;type:text;uniqueIndex:wiki_rc_edit_uniq,priority:3"`
	Comment  string    `gorm:"column:comment;type:text"`
	Delta    int       `gorm:"column:delta"`
	URL      string    `gorm:"column:url;type:text;uniqueIndex:wiki_rc_edit_uniq,priority:1"`
}

func (WikiChange) TableName() string { return "wiki_rc" }

type Store struct {
	DB        *gorm.DB
	batchSize int
	now       func() time.Time
}

type Options struct {
	BatchSize       int
	ConnectAttempts int
	ConnectBackoff  time.Duration
	Logger          *slog.Logger
	// GormLogLevel 默认 Warn
	GormLogLevel logger.LogLevel
}

// OpenPostgres 连接 Postgres（带有限次重试）并确保表与索引存在
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*Store, error) {
	return Open(ctx, postgres.Open(dsn), opts)
}

// Open 按给定 dialector 连接。连接失败按固定间隔重试 ConnectAttempts 次，
// 用尽后返回错误，调用方应视为致命。
func Open(ctx context.Context, dialector gorm.Dialector, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.GormLogLevel == 0 {
		opts.GormLogLevel = logger.Warn
	}
	log := opts.Logger.With("source", "store")

	var db *gorm.DB
	err := Retry(ctx, opts.ConnectAttempts, opts.ConnectBackoff, func(attempt int) error {
		conn, err := connect(ctx, dialector, opts.GormLogLevel)
		if err != nil {
			log.Warn("store connect failed", "attempt", attempt, "max", opts.ConnectAttempts, "error", err)
			return err
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	s := &Store{DB: db, batchSize: opts.BatchSize, now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	log.Info("store ready")
	return s, nil
}

// gormConfig 关闭 gorm.Open 自带的无超时 ping，由 connect 中带超时的 PingContext 判定连接是否可用
func gormConfig(level logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:               logger.Default.LogMode(level),
		NowFunc:              func() time.Time { return time.Now().UTC() },
		DisableAutomaticPing: true,
	}
}

func connect(ctx context.Context, dialector gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, gormConfig(level))
	if err != nil {
		closeDB(db)
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		closeDB(db)
		return nil, err
	}
	// 轮次之间不保留空闲连接：每轮按需取用、用完即还
	sqlDB.SetMaxIdleConns(0)
	sqlDB.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// closeDB 释放 gorm.Open 失败时可能已创建的连接池
func closeDB(db *gorm.DB) {
	if db == nil || db.Config == nil || db.ConnPool == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// EnsureSchema 幂等建表建索引（仅做“存在性”检查，不是迁移框架）
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.DB.WithContext(ctx).AutoMigrate(&NewsArticle{}, &WikiChange{}); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// SaveNews 分批写入新闻，url 冲突静默跳过。返回“尝试写入”的条数，
// 实际落库条数不可观测（冲突被吸收）。任何非冲突错误会中止本轮。
func (s *Store) SaveNews(ctx context.Context, items []processor.NewsArticle) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ingested := s.now().UTC()
	rows := make([]NewsArticle, 0, len(items))
	for _, it := range items {
		rows = append(rows, NewsArticle{
			PublishedTS: it.PublishedAt.UTC(),
			IngestedTS:  ingested,
			Source:      it.Source,
			Title:       toValidUTF8(it.Title),
			URL:         it.URL,
			Summary:     toValidUTF8(it.Summary),
			Kind:        it.Kind,
		})
	}
	if err := s.insertIgnore(ctx, &rows); err != nil {
		return 0, fmt.Errorf("save news: %w", err)
	}
	return len(rows), nil
}

// SaveWiki 分批写入编辑记录，(url, ts, user_name) 冲突静默跳过
func (s *Store) SaveWiki(ctx context.Context, items []processor.WikiChange) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	rows := make([]WikiChange, 0, len(items))
	for _, it := range items {
		rows = append(rows, WikiChange{
			TS:       it.TS.UTC(),
			Page:     toValidUTF8(it.Page),
			UserName: toValidUTF8(it.UserName),
			Comment:  toValidUTF8(it.Comment),
			Delta:    it.Delta,
			URL:      it.URL,
		})
	}
	if err := s.insertIgnore(ctx, &rows); err != nil {
		return 0, fmt.Errorf("save wiki: %w", err)
	}
	return len(rows), nil
}

func (s *Store) insertIgnore(ctx context.Context, rows any) error {
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, s.batchSize).Error
}
