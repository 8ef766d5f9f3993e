package processor

import (
	"crypto/sha1"
	"encoding/hex"
)

// Fingerprint 标题与链接拼接后的 sha1，区分大小写与顺序
func Fingerprint(title, link string) string {
	h := sha1.New()
	h.Write([]byte(title))
	h.Write([]byte(link))
	return hex.EncodeToString(h.Sum(nil))
}

// Dedupe 单轮内去重：同一指纹首条保留，后续丢弃，保持原有顺序
func Dedupe[T any](items []T, key func(T) string) []T {
	out := make([]T, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		k := key(it)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

func DedupeArticles(items []NewsArticle) []NewsArticle {
	return Dedupe(items, func(a NewsArticle) string {
		return Fingerprint(a.Title, a.URL)
	})
}

// DedupeChanges 以 (url, ts, user) 作为编辑的身份，与 wiki_rc 的唯一索引一致
func DedupeChanges(items []WikiChange) []WikiChange {
	return Dedupe(items, func(c WikiChange) string {
		return Fingerprint(c.URL+"\x00"+c.TS.Format("2006-01-02T15:04:05Z07:00"), c.UserName)
	})
}
