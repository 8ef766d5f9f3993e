package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

var (
	// ErrHelp 表示用户请求了 --help，调用方应直接退出
	ErrHelp = errors.New("help requested")
	// ErrMissingDatabase 缺少数据库连接信息，启动期致命错误
	ErrMissingDatabase = errors.New("missing database configuration: set DATABASE_URL or DB_HOST, DB_NAME, DB_USER, DB_PASS")
)

const defaultUserAgent = "TrendsRealtimeBot/1.0 (+github.com/yominax/trends-realtime)"

// defaultFeeds 法语新闻源默认列表，FEEDS_CSV / FEEDS_FILE 未设置时使用
var defaultFeeds = []string{
	"https://www.bfmtv.com/rss/",
	"https://www.france24.com/fr/rss",
	"https://www.euronews.com/rss?language=fr",
	"https://www.rtbf.be/info/rss",
	"https://ici.radio-canada.ca/rss",
	"https://www.francetvinfo.fr/titres.rss",
	"https://www.20minutes.fr/feeds/rss-une.xml",
	"https://www.lemonde.fr/rss/une.xml",
	"https://www.lefigaro.fr/rss/feeds/actualite-france.xml",
	"https://www.leparisien.fr/actualites-a-la-une.xml",
	"https://www.ouest-france.fr/rss.xml",
	"https://www.midilibre.fr/rss.php",
	"https://www.ladepeche.fr/rss.xml",
	"https://www.lavoixdunord.fr/rss.xml",
	"https://www.courrierinternational.com/rss/all.xml",
	"https://www.liberation.fr/arc/outboundfeeds/rss-all/",
	"https://www.nouvelobs.com/rss.xml",
	"https://www.lepoint.fr/rss.xml",
	"https://www.challenges.fr/rss.xml",
	"https://www.sudouest.fr/rss.xml",
	"https://www.latribune.fr/rss/france.xml",
	"https://www.rfi.fr/fr/rss",
	"https://www.europe1.fr/rss.xml",
	"https://www.huffingtonpost.fr/feeds/index.xml",
	"https://www.rtl.fr/flux/rss/une-6809",
	"https://rmc.bfmtv.com/rss/info/",
	"https://www.francebleu.fr/rss/a-la-une.xml",
}

var wikiHosts = map[string]string{
	"fr": "fr.wikipedia.org",
	"en": "en.wikipedia.org",
	"de": "de.wikipedia.org",
	"es": "es.wikipedia.org",
	"it": "it.wikipedia.org",
}

type Config struct {
	Once bool   `long:"once" description:"Run one pass of each source, then exit"`
	Kind string `long:"kind" env:"NEWS_KIND" default:"une" description:"Kind tag for ingested news (une|continu|rss)"`

	DatabaseURL string `long:"database-url" env:"DATABASE_URL" description:"Connection string; overrides DB_*"`
	DBHost      string `long:"db-host" env:"DB_HOST" description:"Database host"`
	DBPort      int    `long:"db-port" env:"DB_PORT" default:"5432" description:"Database port"`
	DBName      string `long:"db-name" env:"DB_NAME" description:"Database name"`
	DBUser      string `long:"db-user" env:"DB_USER" description:"Database user"`
	DBPass      string `long:"db-pass" env:"DB_PASS" description:"Database password"`
	DBSSLMode   string `long:"db-sslmode" env:"DB_SSLMODE" default:"require" description:"Postgres sslmode"`

	ConnectAttempts   int `long:"db-connect-attempts" env:"DB_CONNECT_ATTEMPTS" default:"10" description:"Store connection attempts at startup"`
	ConnectBackoffSec int `long:"db-connect-backoff" env:"DB_CONNECT_BACKOFF_SEC" default:"3" description:"Seconds between connection attempts"`
	BatchSize         int `long:"batch-size" env:"BATCH_SIZE" default:"200" description:"Rows per insert statement"`

	PollNewsSec int    `long:"poll-news" env:"POLL_NEWS_SEC" default:"300" description:"Seconds between news passes"`
	PollWikiSec int    `long:"poll-wiki" env:"POLL_WIKI_SEC" default:"30" description:"Seconds between wiki passes"`
	FeedsCSV    string `long:"feeds" env:"FEEDS_CSV" description:"Comma-separated feed URLs"`
	FeedsFile   string `long:"feeds-file" env:"FEEDS_FILE" description:"YAML feed list (takes precedence over FEEDS_CSV)"`

	WikiLang        string `long:"wiki-lang" env:"WIKI_LANG" default:"fr" description:"Wikipedia language edition"`
	WikiLookbackSec int    `long:"wiki-lookback" env:"WIKI_LOOKBACK_SEC" default:"60" description:"Initial wiki window, seconds before start"`
	WikiLimit       int    `long:"wiki-limit" env:"WIKI_LIMIT" default:"50" description:"Recent changes per poll (1-50)"`

	UserAgent       string `long:"user-agent" env:"USER_AGENT" description:"User-Agent for outbound requests"`
	FetchTimeoutSec int    `long:"fetch-timeout" env:"FETCH_TIMEOUT_SEC" default:"20" description:"Per-request timeout in seconds"`

	RedisAddr string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for pass status (optional)"`
	HTTPAddr  string `long:"http-addr" env:"HTTP_ADDR" description:"Listen address for the status API (optional)"`

	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"debug|info|warn|error"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"text" description:"text|json"`
}

// FeedSource 一个待抓取的 RSS 源；Kind 为空时使用全局 --kind
type FeedSource struct {
	URL  string `yaml:"url"`
	Kind string `yaml:"kind"`
}

// Load 解析命令行参数与环境变量。缺少数据库配置时返回 ErrMissingDatabase，
// 在任何网络访问之前失败。
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, flagsErr.Message)
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" && (c.DBHost == "" || c.DBName == "" || c.DBUser == "" || c.DBPass == "") {
		return ErrMissingDatabase
	}
	if c.PollNewsSec <= 0 || c.PollWikiSec <= 0 {
		return fmt.Errorf("poll intervals must be positive (news=%d wiki=%d)", c.PollNewsSec, c.PollWikiSec)
	}
	if c.ConnectAttempts <= 0 {
		return fmt.Errorf("DB_CONNECT_ATTEMPTS must be positive, got %d", c.ConnectAttempts)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if strings.TrimSpace(c.Kind) == "" {
		c.Kind = "une"
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.WikiLimit <= 0 || c.WikiLimit > 50 {
		c.WikiLimit = 50
	}
	return nil
}

// DSN 返回 Postgres 连接串，DATABASE_URL 优先
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	// URL 形式，用户名与密码中的空格、引号等由 url 包转义
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPass),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}, "TimeZone": {"UTC"}}.Encode(),
	}
	return u.String()
}

// Feeds 返回抓取列表：FEEDS_FILE > FEEDS_CSV > 内置默认列表。
// 空白与重复的 URL 会被跳过。
func (c *Config) Feeds() ([]FeedSource, error) {
	var feeds []FeedSource
	switch {
	case c.FeedsFile != "":
		fromFile, err := LoadFeedsFile(c.FeedsFile)
		if err != nil {
			return nil, err
		}
		feeds = fromFile
	case strings.TrimSpace(c.FeedsCSV) != "":
		for _, u := range strings.Split(c.FeedsCSV, ",") {
			feeds = append(feeds, FeedSource{URL: u})
		}
	default:
		for _, u := range defaultFeeds {
			feeds = append(feeds, FeedSource{URL: u})
		}
	}

	out := make([]FeedSource, 0, len(feeds))
	seen := make(map[string]struct{}, len(feeds))
	for _, f := range feeds {
		f.URL = strings.TrimSpace(f.URL)
		f.Kind = strings.TrimSpace(f.Kind)
		if f.URL == "" {
			continue
		}
		if _, ok := seen[f.URL]; ok {
			continue
		}
		seen[f.URL] = struct{}{}
		if f.Kind == "" {
			f.Kind = c.Kind
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, errors.New("no feeds configured")
	}
	return out, nil
}

type feedsFile struct {
	Feeds []FeedSource `yaml:"feeds"`
}

// LoadFeedsFile 读取 YAML 格式的源列表：
//
//	feeds:
//	  - url: https://www.lemonde.fr/rss/une.xml
//	    kind: une
func LoadFeedsFile(path string) ([]FeedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file %s: %w", path, err)
	}
	var ff feedsFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse feeds file %s: %w", path, err)
	}
	for _, f := range ff.Feeds {
		if u, err := url.Parse(strings.TrimSpace(f.URL)); err != nil || u.Host == "" {
			return nil, fmt.Errorf("feeds file %s: invalid url %q", path, f.URL)
		}
	}
	return ff.Feeds, nil
}

// WikiHost 将 WIKI_LANG 映射为 API 主机，未知语言回落到 fr
func (c *Config) WikiHost() string {
	if h, ok := wikiHosts[strings.ToLower(strings.TrimSpace(c.WikiLang))]; ok {
		return h
	}
	return wikiHosts["fr"]
}

func (c *Config) PollNewsInterval() time.Duration {
	return time.Duration(c.PollNewsSec) * time.Second
}

func (c *Config) PollWikiInterval() time.Duration {
	return time.Duration(c.PollWikiSec) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

func (c *Config) ConnectBackoff() time.Duration {
	return time.Duration(c.ConnectBackoffSec) * time.Second
}

func (c *Config) WikiLookback() time.Duration {
	return time.Duration(c.WikiLookbackSec) * time.Second
}
