package processor

import (
	"net/url"
	"strings"
	"time"

	"github.com/LJTian/TrendsRealtime/internal/collector"
)

// MaxTextLen 摘要 / 编辑说明的最大字符数（按 rune 计）
const MaxTextLen = 600

// NewsArticle 是写入 news_articles 前的统一结构
type NewsArticle struct {
	PublishedAt time.Time
	Source      string
	Title       string
	URL         string
	Summary     string
	Kind        string
}

// WikiChange 是写入 wiki_rc 前的统一结构
type WikiChange struct {
	TS       time.Time
	Page     string
	UserName string
	Comment  string
	Delta    int
	URL      string
}

// NormalizeEntry 将订阅源条目映射为 NewsArticle。纯函数：now 由调用方传入，
// 发布时间缺失时使用 now（UTC）。
func NormalizeEntry(e collector.RawEntry, feedURL, kind string, now time.Time) NewsArticle {
	published := now.UTC()
	if e.PublishedAt != nil && !e.PublishedAt.IsZero() {
		published = e.PublishedAt.UTC()
	}
	return NewsArticle{
		PublishedAt: published,
		Source:      SourceLabel(feedURL),
		Title:       strings.TrimSpace(e.Title),
		URL:         strings.TrimSpace(e.Link),
		Summary:     truncateRunes(strings.TrimSpace(e.Summary), MaxTextLen),
		Kind:        kind,
	}
}

// NormalizeEdit 将 recentchanges 事件映射为 WikiChange，url 由页面标题推导
func NormalizeEdit(e collector.RawEdit, wikiHost string, now time.Time) WikiChange {
	ts := now.UTC()
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Timestamp)); err == nil {
		ts = t.UTC()
	}
	page := strings.TrimSpace(e.Title)
	return WikiChange{
		TS:       ts,
		Page:     page,
		UserName: strings.TrimSpace(e.User),
		Comment:  truncateRunes(strings.TrimSpace(e.Comment), MaxTextLen),
		Delta:    e.NewLen - e.OldLen,
		URL:      WikiPageURL(wikiHost, page),
	}
}

// WikiPageURL 空格替换为下划线，例如 "Tour Eiffel" -> https://fr.wikipedia.org/wiki/Tour_Eiffel
func WikiPageURL(host, page string) string {
	return "https://" + host + "/wiki/" + strings.ReplaceAll(page, " ", "_")
}

// SourceLabel 取源地址的主机名并去掉前导 "www."
func SourceLabel(feedURL string) string {
	u, err := url.Parse(strings.TrimSpace(feedURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// truncateRunes 按 rune 截断，结果始终是原文的前缀
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
