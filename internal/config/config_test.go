package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setDBEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db.local")
	t.Setenv("DB_NAME", "trends")
	t.Setenv("DB_USER", "ingest")
	t.Setenv("DB_PASS", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setDBEnv(t)
	for _, key := range []string{"POLL_NEWS_SEC", "POLL_WIKI_SEC", "FEEDS_CSV", "FEEDS_FILE", "WIKI_LANG", "NEWS_KIND", "DB_PORT"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Once {
		t.Fatalf("Once should default to false")
	}
	if cfg.PollNewsInterval() != 300*time.Second {
		t.Fatalf("PollNewsInterval = %v, want 300s", cfg.PollNewsInterval())
	}
	if cfg.PollWikiInterval() != 30*time.Second {
		t.Fatalf("PollWikiInterval = %v, want 30s", cfg.PollWikiInterval())
	}
	if cfg.Kind != "une" {
		t.Fatalf("Kind = %q, want une", cfg.Kind)
	}
	if cfg.DBPort != 5432 {
		t.Fatalf("DBPort = %d, want 5432", cfg.DBPort)
	}
	if cfg.WikiHost() != "fr.wikipedia.org" {
		t.Fatalf("WikiHost = %q", cfg.WikiHost())
	}
	if cfg.UserAgent == "" {
		t.Fatalf("UserAgent should have a default")
	}
	feeds, err := cfg.Feeds()
	if err != nil {
		t.Fatalf("Feeds error: %v", err)
	}
	if len(feeds) != len(defaultFeeds) {
		t.Fatalf("len(feeds) = %d, want %d", len(feeds), len(defaultFeeds))
	}
	if feeds[0].Kind != "une" {
		t.Fatalf("default feed kind = %q, want une", feeds[0].Kind)
	}
}

func TestLoadFlagsAndEnv(t *testing.T) {
	setDBEnv(t)
	t.Setenv("POLL_NEWS_SEC", "120")
	t.Setenv("POLL_WIKI_SEC", "10")
	t.Setenv("WIKI_LANG", "EN")
	t.Setenv("FEEDS_CSV", " https://a.example/rss , ,https://b.example/rss,https://a.example/rss")

	cfg, err := Load([]string{"--once", "--kind", "continu"})
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !cfg.Once || cfg.Kind != "continu" {
		t.Fatalf("flags not applied: once=%v kind=%q", cfg.Once, cfg.Kind)
	}
	if cfg.PollNewsSec != 120 || cfg.PollWikiSec != 10 {
		t.Fatalf("poll env not applied: %d/%d", cfg.PollNewsSec, cfg.PollWikiSec)
	}
	if cfg.WikiHost() != "en.wikipedia.org" {
		t.Fatalf("WikiHost = %q", cfg.WikiHost())
	}

	feeds, err := cfg.Feeds()
	if err != nil {
		t.Fatalf("Feeds error: %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("expected 2 feeds after trimming and dedupe, got %d (%v)", len(feeds), feeds)
	}
	if feeds[0].URL != "https://a.example/rss" || feeds[1].Kind != "continu" {
		t.Fatalf("unexpected feeds: %+v", feeds)
	}
}

func TestLoadMissingDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db.local")
	t.Setenv("DB_NAME", "")
	t.Setenv("DB_USER", "ingest")
	t.Setenv("DB_PASS", "secret")

	_, err := Load(nil)
	if !errors.Is(err, ErrMissingDatabase) {
		t.Fatalf("Load error = %v, want ErrMissingDatabase", err)
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{DBHost: "h", DBPort: 6543, DBName: "n", DBUser: "u", DBPass: "p", DBSSLMode: "disable"}
	want := "postgres://u:p@h:6543/n?TimeZone=UTC&sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}

	cfg.DatabaseURL = "postgres://u:p@h/n"
	if got := cfg.DSN(); got != cfg.DatabaseURL {
		t.Fatalf("DATABASE_URL should override, got %q", got)
	}
}

func TestDSNEscapesCredentials(t *testing.T) {
	cfg := &Config{DBHost: "db.internal", DBPort: 5432, DBName: "trends", DBUser: "ing est", DBPass: `p a's\w@rd/?#`, DBSSLMode: "require"}
	u, err := url.Parse(cfg.DSN())
	if err != nil {
		t.Fatalf("DSN is not a valid URL: %v", err)
	}
	pass, _ := u.User.Password()
	if u.User.Username() != "ing est" || pass != `p a's\w@rd/?#` {
		t.Fatalf("credentials not preserved: user=%q pass=%q", u.User.Username(), pass)
	}
	if u.Host != "db.internal:5432" || u.Path != "/trends" || u.Query().Get("sslmode") != "require" {
		t.Fatalf("unexpected DSN parts: %s", cfg.DSN())
	}
}

func TestFeedsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feeds.yaml")
	content := strings.Join([]string{
		"feeds:",
		"  - url: https://www.lemonde.fr/rss/une.xml",
		"    kind: une",
		"  - url: https://www.francetvinfo.fr/titres.rss",
		"    kind: continu",
		"  - url: https://www.rfi.fr/fr/rss",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write feeds file: %v", err)
	}

	cfg := &Config{FeedsFile: path, FeedsCSV: "https://ignored.example/rss", Kind: "rss"}
	feeds, err := cfg.Feeds()
	if err != nil {
		t.Fatalf("Feeds error: %v", err)
	}
	if len(feeds) != 3 {
		t.Fatalf("expected 3 feeds, got %d", len(feeds))
	}
	kinds := []string{feeds[0].Kind, feeds[1].Kind, feeds[2].Kind}
	want := []string{"une", "continu", "rss"}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("feeds[%d].Kind = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestFeedsFileInvalidURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(path, []byte("feeds:\n  - url: not a url\n"), 0o644); err != nil {
		t.Fatalf("write feeds file: %v", err)
	}
	if _, err := LoadFeedsFile(path); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}

func TestWikiHostFallsBackToFrench(t *testing.T) {
	cfg := &Config{WikiLang: "xx"}
	if got := cfg.WikiHost(); got != "fr.wikipedia.org" {
		t.Fatalf("WikiHost = %q, want fr.wikipedia.org", got)
	}
}
