package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go_iwara/internal/engine"
)

// fileConfig is the JSON layout shared with the legacy bot.
type fileConfig struct {
	UserInfo struct {
		UserName string `json:"user_name"`
		Password string `json:"password"`
	} `json:"user_info"`
	TelegramInfo struct {
		Token         string `json:"token"`
		APIServer     string `json:"APIServer"`
		ChatID        chatID `json:"chat_id"`
		ChatAd        string `json:"chat_ad"`
		ChatIDDiscuss chatID `json:"chat_id_discuss"`
		RankingID     chatID `json:"ranking_id"`
	} `json:"telegram_info"`
}

// chatID accepts both -100123 and "@name".
type chatID string

func (c *chatID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = chatID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chat id: %w", err)
	}
	*c = chatID(n.String())
	return nil
}

// applyFile overlays a config file onto c. A missing file is not an error.
func applyFile(c *engine.Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&c.IwaraEmail, fc.UserInfo.UserName)
	set(&c.IwaraPassword, fc.UserInfo.Password)
	set(&c.TelegramToken, fc.TelegramInfo.Token)
	set(&c.TelegramAPIServer, fc.TelegramInfo.APIServer)
	set(&c.TelegramChatID, string(fc.TelegramInfo.ChatID))
	set(&c.TelegramChatAd, fc.TelegramInfo.ChatAd)
	set(&c.TelegramDiscussChatID, string(fc.TelegramInfo.ChatIDDiscuss))
	set(&c.TelegramRankingChatID, string(fc.TelegramInfo.RankingID))
	return nil
}

// loadConfig builds the configuration: defaults, then the JSON file, then
// environment variables.
func loadConfig() (engine.Config, error) {
	c := engine.DefaultConfig()
	if err := applyFile(&c, env.Str("IWARA_CONFIG", "config.json")); err != nil {
		return c, err
	}

	c.IwaraEmail = env.Str("IWARA_EMAIL", c.IwaraEmail)
	c.IwaraPassword = env.Str("IWARA_PASSWORD", c.IwaraPassword)
	c.IwaraAPIURL = env.Str("IWARA_API_URL", c.IwaraAPIURL)
	c.IwaraFileURL = env.Str("IWARA_FILE_URL", c.IwaraFileURL)
	c.IwaraSiteURL = env.Str("IWARA_SITE_URL", c.IwaraSiteURL)
	c.IwaraFileSignSuffix = env.Str("IWARA_FILE_SIGN_SUFFIX", c.IwaraFileSignSuffix)

	c.RequestDelayMin = env.Duration("REQUEST_DELAY_MIN", c.RequestDelayMin)
	c.RequestDelayMax = env.Duration("REQUEST_DELAY_MAX", c.RequestDelayMax)
	c.RequestTimeout = env.Duration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.DownloadTimeout = env.Duration("DOWNLOAD_TIMEOUT", c.DownloadTimeout)

	c.DiscoveryPages = env.Int("DISCOVERY_PAGES", c.DiscoveryPages)
	c.PageSize = env.Int("PAGE_SIZE", c.PageSize)
	c.ItemDelay = env.Duration("ITEM_DELAY", c.ItemDelay)
	c.RetryAttempts = env.Int("RETRY_ATTEMPTS", c.RetryAttempts)
	c.RetryDelay = env.Duration("RETRY_DELAY", c.RetryDelay)
	c.DownloadDir = env.Str("DOWNLOAD_DIR", c.DownloadDir)

	c.LedgerDSN = env.Str("LEDGER_DSN", c.LedgerDSN)
	c.AuthorsFile = env.Str("AUTHORS_FILE", c.AuthorsFile)
	c.AuthorTagsIDFile = env.Str("AUTHOR_TAGS_ID_FILE", c.AuthorTagsIDFile)

	c.TelegramToken = env.Str("TELEGRAM_TOKEN", c.TelegramToken)
	c.TelegramAPIServer = env.Str("TELEGRAM_API_SERVER", c.TelegramAPIServer)
	c.TelegramChatID = env.Str("TELEGRAM_CHAT_ID", c.TelegramChatID)
	c.TelegramDiscussChatID = env.Str("TELEGRAM_DISCUSS_CHAT_ID", c.TelegramDiscussChatID)
	c.TelegramRankingChatID = env.Str("TELEGRAM_RANKING_CHAT_ID", c.TelegramRankingChatID)
	c.TelegramChatAd = env.Str("TELEGRAM_CHAT_AD", c.TelegramChatAd)
	c.PublishInterval = env.Duration("PUBLISH_INTERVAL", c.PublishInterval)
	c.RankLinkBase = env.Str("RANK_LINK_BASE", c.RankLinkBase)

	c.FFprobePath = env.Str("FFPROBE_PATH", c.FFprobePath)
	if words := env.List("DESCRIPTION_BLACKLIST", ""); len(words) > 0 {
		c.DescriptionBlacklist = words
	}

	c.RedisURL = env.Str("REDIS_URL", c.RedisURL)
	c.CacheTTL = env.Duration("CACHE_TTL", c.CacheTTL)
	c.MetricsFile = env.Str("METRICS_FILE", c.MetricsFile)
	c.LogLevel = env.Str("LOG_LEVEL", c.LogLevel)

	return c, c.Validate()
}
