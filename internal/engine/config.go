package engine

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	IwaraEmail          string
	IwaraPassword       string
	IwaraAPIURL         string
	IwaraFileURL        string
	IwaraSiteURL        string // base for video/profile links in captions
	IwaraFileSignSuffix string // "" = built-in suffix

	RequestDelayMin time.Duration
	RequestDelayMax time.Duration
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration

	DiscoveryPages int
	PageSize       int
	ItemDelay      time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	DownloadDir    string

	LedgerDSN        string // sqlite path or postgres:// URL
	AuthorsFile      string
	AuthorTagsIDFile string

	TelegramToken         string
	TelegramAPIServer     string
	TelegramChatID        string
	TelegramDiscussChatID string // "" = no description sink
	TelegramRankingChatID string
	TelegramChatAd        string
	PublishInterval       time.Duration
	RankLinkBase          string

	FFprobePath          string
	DescriptionBlacklist []string

	RedisURL string // "" = L1 cache only
	CacheTTL time.Duration

	MetricsFile string // "" = no textfile export
	LogLevel    string
}

// DefaultDescriptionBlacklist holds words that mark a description as an advert.
var DefaultDescriptionBlacklist = []string{
	"支付宝", "微信", "qq", "patreon", "paypal", "网址", "support", "支持", "群", "公告",
	"永久", "QQ", "定制", "高清", "4k", "视频", "fanbox", "链接", "Support",
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() Config {
	return Config{
		IwaraAPIURL:          "https://api.iwara.tv",
		IwaraFileURL:         "https://files.iwara.tv",
		IwaraSiteURL:         "https://iwara.tv",
		RequestDelayMin:      5 * time.Second,
		RequestDelayMax:      10 * time.Second,
		RequestTimeout:       30 * time.Second,
		DownloadTimeout:      300 * time.Second,
		DiscoveryPages:       5,
		PageSize:             32,
		ItemDelay:            5 * time.Second,
		RetryAttempts:        3,
		RetryDelay:           1 * time.Second,
		DownloadDir:          ".",
		LedgerDSN:            "IwaraTgDB.db",
		AuthorsFile:          "authors.json",
		AuthorTagsIDFile:     "author_tags_message_id.txt",
		TelegramAPIServer:    "https://api.telegram.org",
		PublishInterval:      1 * time.Second,
		RankLinkBase:         "https://t.me/iwara2",
		FFprobePath:          "ffprobe",
		DescriptionBlacklist: DefaultDescriptionBlacklist,
		CacheTTL:             10 * time.Minute,
		LogLevel:             "info",
	}
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_TOKEN is required")
	}
	if c.TelegramChatID == "" {
		return errors.New("TELEGRAM_CHAT_ID is required")
	}
	if c.RequestDelayMin < 0 || c.RequestDelayMax < c.RequestDelayMin {
		return fmt.Errorf("request delay range [%s, %s] is invalid", c.RequestDelayMin, c.RequestDelayMax)
	}
	if c.RequestTimeout <= 0 || c.DownloadTimeout <= 0 {
		return errors.New("request and download timeouts must be positive")
	}
	if c.DiscoveryPages <= 0 {
		return errors.New("DISCOVERY_PAGES must be positive")
	}
	if c.RetryAttempts < 1 {
		return errors.New("RETRY_ATTEMPTS must be at least 1")
	}
	if c.LedgerDSN == "" {
		return errors.New("LEDGER_DSN is required")
	}
	return nil
}

// RankingChat returns the chat ranking reports go to, defaulting to the main chat.
func (c Config) RankingChat() string {
	if c.TelegramRankingChatID != "" {
		return c.TelegramRankingChatID
	}
	return c.TelegramChatID
}
