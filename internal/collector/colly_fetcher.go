package collector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

const (
	defaultFetchTimeout = 20 * time.Second
	maxResponseBytes    = 10 << 20 // 10MB，足够覆盖大型 RSS
	acceptHeader        = "application/rss+xml, application/xml;q=0.9, text/xml;q=0.8, application/json;q=0.8, */*;q=0.7"
)

var errEmptyBody = errors.New("empty response body")

// xmlDeclEncoding 匹配文档开头 XML 声明中的 encoding 属性
var xmlDeclEncoding = regexp.MustCompile(`^(\x{FEFF}?\s*<\?xml[^>]*?\bencoding\s*=\s*)(["'])[^"']*(["'])`)

// CollyFetcher 基于 colly 的抓取器：带 UA、硬超时、自动跟随重定向。
// 只接受 2xx 响应，其它状态码返回 FetchError。
type CollyFetcher struct {
	userAgent string
	timeout   time.Duration
}

func NewCollyFetcher(userAgent string, timeout time.Duration) *CollyFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &CollyFetcher{userAgent: userAgent, timeout: timeout}
}

func (f *CollyFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	// 每次请求独立的 collector，避免 OnResponse 回调在并发调用间共享状态
	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(maxResponseBytes),
	)
	c.SetRequestTimeout(f.timeout)
	// colly 默认把 >=203 都当作错误，这里自行判断状态码
	c.ParseHTTPErrorResponse = true

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
	})

	var (
		body   []byte
		status int
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
		if r.Headers != nil && transcoded(r.Headers.Get("Content-Type")) {
			body = declareUTF8(body)
		}
	})

	if err := c.Visit(url); err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("unexpected status %d", status)}
	}
	if len(body) == 0 {
		return nil, &FetchError{URL: url, Err: errEmptyBody}
	}
	return body, nil
}

// transcoded Content-Type 声明了非 UTF-8 字符集时，colly 已在 OnResponse 之前把 body 转成 UTF-8
func transcoded(contentType string) bool {
	ct := strings.ToLower(contentType)
	if !strings.Contains(ct, "charset") {
		return false
	}
	return !strings.Contains(ct, "utf-8") && !strings.Contains(ct, "utf8")
}

// declareUTF8 body 已是 UTF-8，改写 XML 声明中的 encoding，避免解析器按原字符集再解码一次
func declareUTF8(body []byte) []byte {
	return xmlDeclEncoding.ReplaceAll(body, []byte("${1}${2}UTF-8${3}"))
}
