// go_iwara mirrors new iwara.tv videos into a Telegram channel.
//
// One invocation does one run: publish new subscribed videos (dlsub),
// publish new videos from the latest listing (dlnew), or post a ranking of
// recently published videos (rank). Meant to be driven by cron.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/anatolykoptev/go_iwara/internal/botcmd"
	"github.com/anatolykoptev/go_iwara/internal/engine"
	"github.com/anatolykoptev/go_iwara/internal/engine/download"
	"github.com/anatolykoptev/go_iwara/internal/engine/feed"
	"github.com/anatolykoptev/go_iwara/internal/engine/ledger"
	"github.com/anatolykoptev/go_iwara/internal/engine/media"
	"github.com/anatolykoptev/go_iwara/internal/engine/publish"
	"github.com/anatolykoptev/go_iwara/internal/engine/sources"
	"github.com/google/uuid"
)

var version = "dev"

// metadataCacheEntries bounds the in-process lookup cache.
const metadataCacheEntries = 1000

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd, err := botcmd.Parse(args)
	if err != nil {
		botcmd.PrintUsage(os.Stderr, err)
		return 1
	}

	cfg, err := loadConfig()
	setupLogging(cfg.LogLevel)
	if err != nil {
		slog.Error("config invalid", slog.Any("error", err))
		return 1
	}

	slog.Info("starting go_iwara",
		slog.String("version", version),
		slog.String("action", string(cmd.Action)),
		slog.String("rating", string(cmd.Rating)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = execute(ctx, cfg, cmd)
	if werr := engine.WriteMetricsFile(cfg.MetricsFile); werr != nil {
		slog.Warn("metrics export failed", slog.Any("error", werr))
	}
	slog.Debug("run metrics\n" + engine.FormatMetrics())

	switch {
	case err == nil:
		slog.Info("done")
		return 0
	case errors.Is(err, context.Canceled):
		slog.Warn("interrupted")
		return 130
	default:
		slog.Error("run failed", slog.Any("error", err))
		return 1
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h).With(slog.String("run_id", uuid.NewString())))
}

// execute wires the components for one run and dispatches cmd.
func execute(ctx context.Context, cfg engine.Config, cmd botcmd.Command) error {
	cache := engine.NewCache(ctx, cfg.RedisURL, cfg.CacheTTL, metadataCacheEntries)
	defer cache.Close()

	gw := sources.NewClient(sources.ClientConfig{
		APIURL:     cfg.IwaraAPIURL,
		FileURL:    cfg.IwaraFileURL,
		Email:      cfg.IwaraEmail,
		Password:   cfg.IwaraPassword,
		SignSuffix: cfg.IwaraFileSignSuffix,
		HTTPClient: engine.NewHTTPClient(cfg.RequestTimeout),
		Pacer:      engine.NewPacer(cfg.RequestDelayMin, cfg.RequestDelayMax),
		Cache:      cache,
	})

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	bot, err := publish.NewBot(publish.BotConfig{
		Token:     cfg.TelegramToken,
		APIServer: cfg.TelegramAPIServer,
		Timeout:   cfg.DownloadTimeout,
	})
	if err != nil {
		return err
	}

	if cmd.Action == botcmd.ActionRank {
		chat, err := publish.NewChat(bot, cfg.RankingChat(), cfg.PublishInterval)
		if err != nil {
			return err
		}
		ranking := &feed.Ranking{
			Gateway:   gw,
			Ledger:    store,
			Publisher: chat,
			Kind:      engine.FeedDiscovery,
			LinkBase:  cfg.RankLinkBase,
		}
		return botcmd.Dispatch(ctx, cmd, nil, ranking)
	}

	channel, err := publish.NewChat(bot, cfg.TelegramChatID, cfg.PublishInterval)
	if err != nil {
		return err
	}
	var discussion publish.Publisher
	if cfg.TelegramDiscussChatID != "" {
		d, err := publish.NewChat(bot, cfg.TelegramDiscussChatID, cfg.PublishInterval)
		if err != nil {
			return err
		}
		discussion = d
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("download dir: %w", err)
	}

	retry := engine.RetryPolicy{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay}
	pipeline := &feed.Pipeline{
		Gateway:    gw,
		Ledger:     store,
		Fetcher:    download.NewFetcher(engine.NewHTTPClient(cfg.DownloadTimeout), retry),
		Prober:     media.NewProber(cfg.FFprobePath),
		Channel:    channel,
		Discussion: discussion,
		Authors:    feed.LoadAuthorRegistry(cfg.AuthorsFile, cfg.AuthorTagsIDFile, channel),
		Captions: feed.Captions{
			SiteURL:   cfg.IwaraSiteURL,
			ChatAd:    cfg.TelegramChatAd,
			Blacklist: cfg.DescriptionBlacklist,
		},
		Rating:      cmd.Rating,
		Pages:       cfg.DiscoveryPages,
		PageSize:    cfg.PageSize,
		DownloadDir: cfg.DownloadDir,
		ItemDelay:   cfg.ItemDelay,
		Retry:       retry,
	}
	return botcmd.Dispatch(ctx, cmd, pipeline, nil)
}
