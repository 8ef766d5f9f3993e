package collector

import (
	"context"
	"fmt"
	"time"
)

// RawEntry 订阅源解析后的松散条目，字段均未清洗
type RawEntry struct {
	Title       string
	Link        string
	PublishedAt *time.Time
	Summary     string
}

// RawEdit Wikipedia recentchanges 中的一条编辑事件
type RawEdit struct {
	Title     string
	User      string
	Comment   string
	Timestamp string
	OldLen    int
	NewLen    int
}

// Fetcher 抽象网络抓取：返回原始字节或 *FetchError
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchError 单次抓取失败（网络错误或非 2xx 状态），不做重试，由下一轮调度兜底
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
