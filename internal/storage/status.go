package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix = "ingest:status:"
	statusTTL       = 24 * time.Hour
)

// PassStatus 一轮采集的结果摘要，供 /api/v1/status 与 Redis 使用
type PassStatus struct {
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Fetched    int       `json:"fetched"`
	Attempted  int       `json:"attempted"`
	Failed     []string  `json:"failed,omitempty"`
	Cursor     string    `json:"cursor,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// StatusCache 将每个数据源最近一次的 PassStatus 写入 Redis（短 TTL，自然过期）
type StatusCache struct {
	client *redis.Client
}

// NewStatusCache 连接 Redis 并 ping；失败时返回错误，调用方可降级为仅内存
func NewStatusCache(ctx context.Context, addr string) (*StatusCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &StatusCache{client: rdb}, nil
}

func (c *StatusCache) SaveStatus(ctx context.Context, st PassStatus) error {
	bs, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statusKeyPrefix+st.Source, bs, statusTTL).Err()
}

// LoadStatus 读取某数据源的最近状态；不存在时 ok=false
func (c *StatusCache) LoadStatus(ctx context.Context, source string) (PassStatus, bool, error) {
	var st PassStatus
	bs, err := c.client.Get(ctx, statusKeyPrefix+source).Bytes()
	if errors.Is(err, redis.Nil) {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}
	if err := json.Unmarshal(bs, &st); err != nil {
		return st, false, err
	}
	return st, true, nil
}

func (c *StatusCache) Close() error {
	return c.client.Close()
}
