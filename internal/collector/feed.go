package collector

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// MaxEntriesPerFeed 每个源每轮最多处理的条目数
const MaxEntriesPerFeed = 100

// FeedParser 将 RSS/Atom 字节解析为 RawEntry 序列
type FeedParser struct {
	gofeedParser *gofeed.Parser
	maxEntries   int
}

func NewFeedParser() *FeedParser {
	return &FeedParser{
		gofeedParser: gofeed.NewParser(),
		maxEntries:   MaxEntriesPerFeed,
	}
}

// ParseResult 解析结果及被丢弃的条目数，供调用方记录日志
type ParseResult struct {
	Entries []RawEntry
	// Empty 标题与链接均为空而丢弃的条目数
	Empty int
	// Capped 超出 MaxEntriesPerFeed 而截掉的条目数
	Capped int
}

// Parse 解析失败时返回空结果与错误，调用方记录日志后继续其它源。
// 标题与链接均为空的条目会被丢弃。
func (p *FeedParser) Parse(data []byte) (ParseResult, error) {
	var res ParseResult
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return res, fmt.Errorf("parse feed: %w", err)
	}

	items := feed.Items
	if len(items) > p.maxEntries {
		res.Capped = len(items) - p.maxEntries
		items = items[:p.maxEntries]
	}

	res.Entries = make([]RawEntry, 0, len(items))
	for _, it := range items {
		if it == nil || strings.TrimSpace(it.Title) == "" && strings.TrimSpace(it.Link) == "" {
			res.Empty++
			continue
		}

		entry := RawEntry{
			Title:   it.Title,
			Link:    it.Link,
			Summary: htmlToText(it.Description),
		}
		// 无发布时间时退回更新时间
		switch {
		case it.PublishedParsed != nil:
			entry.PublishedAt = it.PublishedParsed
		case it.UpdatedParsed != nil:
			entry.PublishedAt = it.UpdatedParsed
		}
		res.Entries = append(res.Entries, entry)
	}
	return res, nil
}

// htmlToText 摘要中常夹带 <p>/<img> 等标记，只保留文本
func htmlToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
