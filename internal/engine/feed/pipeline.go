// Package feed runs the ingestion pipeline (discover, dedup, download,
// publish, record), keeps the author registry and builds ranking reports.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anatolykoptev/go_iwara/internal/engine"
	"github.com/anatolykoptev/go_iwara/internal/engine/download"
	"github.com/anatolykoptev/go_iwara/internal/engine/ledger"
	"github.com/anatolykoptev/go_iwara/internal/engine/media"
	"github.com/anatolykoptev/go_iwara/internal/engine/publish"
	"github.com/anatolykoptev/go_iwara/internal/engine/sources"
)

// Gateway is the slice of the iwara client the pipeline needs.
type Gateway interface {
	Login(ctx context.Context) error
	ListVideos(ctx context.Context, opts sources.ListOptions) (*engine.VideoPage, error)
	GetVideo(ctx context.Context, id string) (*engine.Video, error)
	RefreshVideo(ctx context.Context, id string) (*engine.Video, error)
	ResolveSource(ctx context.Context, v *engine.Video) (sources.SourceFile, error)
	FileURL() string
}

// Fetcher downloads one asset, once or with retry.
type Fetcher interface {
	Fetch(ctx context.Context, res download.Resource) (download.Outcome, error)
	FetchWithRetry(ctx context.Context, res download.Resource) (download.Outcome, error)
}

// Prober reads video dimensions.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Info, error)
}

// SkipReason says why a candidate was not published.
type SkipReason string

const (
	SkipAlreadyPublished SkipReason = "already_published"
	SkipLedger           SkipReason = "ledger_error"
	SkipMetadata         SkipReason = "metadata_failed"
	SkipVideo            SkipReason = "video_download_failed"
	SkipThumbnail        SkipReason = "thumbnail_download_failed"
	SkipPublish          SkipReason = "publish_failed"
)

// Outcome is the result of processing one candidate.
type Outcome struct {
	ID        string
	Published bool
	MessageID int
	Reason    SkipReason // set when !Published
	Err       error
}

// RunReport summarises one ingestion run.
type RunReport struct {
	Kind       engine.FeedKind
	Discovered int
	PageErrors int
	Published  int
	Skipped    map[SkipReason]int
}

func (r *RunReport) add(o Outcome) {
	if o.Published {
		r.Published++
		return
	}
	if r.Skipped == nil {
		r.Skipped = make(map[SkipReason]int)
	}
	r.Skipped[o.Reason]++
}

// SkippedTotal counts all skipped candidates.
func (r RunReport) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

// Pipeline processes one feed per run, sequentially.
type Pipeline struct {
	Gateway    Gateway
	Ledger     ledger.Ledger
	Fetcher    Fetcher
	Prober     Prober
	Channel    publish.Publisher
	Discussion publish.Publisher // nil = no description threads
	Authors    *AuthorRegistry
	Captions   Captions

	Rating      engine.Rating
	Pages       int
	PageSize    int
	DownloadDir string
	ItemDelay   time.Duration
	// Retry covers resolving the signed source link together with its
	// download, since a retried download needs a fresh link.
	Retry engine.RetryPolicy

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return engine.SleepContext(ctx, d)
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run authenticates, discovers candidates and processes them oldest first.
// Only an authentication failure or cancellation ends it early.
func (p *Pipeline) Run(ctx context.Context, kind engine.FeedKind) (RunReport, error) {
	rep := RunReport{Kind: kind}

	if err := p.Gateway.Login(ctx); err != nil {
		return rep, err
	}

	candidates := p.discover(ctx, kind, &rep)
	slog.Info("feed: discovered",
		slog.String("feed", string(kind)),
		slog.Int("candidates", len(candidates)),
		slog.Int("page_errors", rep.PageErrors),
	)

	for i := len(candidates) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			p.logReport(rep)
			return rep, err
		}
		o := p.processOne(ctx, kind, &candidates[i])
		rep.add(o)
		if !o.Published {
			engine.IncrSkipped(string(o.Reason))
			continue
		}
		engine.IncrPublished(kind)
	}

	p.logReport(rep)
	return rep, nil
}

func (p *Pipeline) logReport(rep RunReport) {
	attrs := []any{
		slog.String("feed", string(rep.Kind)),
		slog.Int("discovered", rep.Discovered),
		slog.Int("published", rep.Published),
		slog.Int("skipped", rep.SkippedTotal()),
	}
	for reason, n := range rep.Skipped {
		attrs = append(attrs, slog.Int("skip_"+string(reason), n))
	}
	slog.Info("feed: run finished", attrs...)
}

// discover walks the listing pages in order. A failed page is logged and
// dropped; ids already seen on an earlier page are ignored.
func (p *Pipeline) discover(ctx context.Context, kind engine.FeedKind, rep *RunReport) []engine.Video {
	pages := p.Pages
	if pages <= 0 {
		pages = 1
	}
	seen := make(map[string]bool)
	var out []engine.Video
	for page := 0; page < pages; page++ {
		if ctx.Err() != nil {
			break
		}
		res, err := p.Gateway.ListVideos(ctx, sources.ListOptions{
			Sort:       "date",
			Rating:     p.Rating,
			Page:       page,
			Limit:      p.PageSize,
			Subscribed: kind == engine.FeedSubscribed,
		})
		if err != nil {
			rep.PageErrors++
			slog.Warn("feed: listing page failed", slog.Int("page", page), slog.Any("error", err))
			continue
		}
		for _, v := range res.Results {
			if v.ID == "" || seen[v.ID] {
				continue
			}
			seen[v.ID] = true
			out = append(out, v)
		}
	}
	rep.Discovered = len(out)
	return out
}

func (p *Pipeline) processOne(ctx context.Context, kind engine.FeedKind, summary *engine.Video) Outcome {
	id := summary.ID
	log := slog.With(slog.String("id", id))

	exists, err := p.Ledger.Exists(ctx, kind, id)
	if err != nil {
		log.Error("feed: ledger lookup failed", slog.Any("error", err))
		return Outcome{ID: id, Reason: SkipLedger, Err: err}
	}
	if exists {
		log.Debug("feed: already published")
		return Outcome{ID: id, Reason: SkipAlreadyPublished}
	}

	meta, err := p.Gateway.GetVideo(ctx, id)
	if err != nil {
		log.Warn("feed: metadata failed", slog.Any("error", err))
		return Outcome{ID: id, Reason: SkipMetadata, Err: err}
	}
	if meta.ID == "" {
		meta.ID = id
	}

	embed := meta.Embed()
	if embed == "" {
		embed = summary.Embed()
	}

	var msgID int
	if embed != "" {
		msgID, err = p.Channel.PublishMessage(ctx, publish.Message{Text: p.Captions.LinkMessage(embed, meta), HTML: true})
		if err != nil {
			log.Warn("feed: publish link failed", slog.Any("error", err))
			return Outcome{ID: id, Reason: SkipPublish, Err: err}
		}
	} else {
		var o *Outcome
		msgID, o = p.publishHosted(ctx, meta, log)
		if o != nil {
			return *o
		}
	}

	rec := ledger.VideoRecord{
		ID:          id,
		Title:       meta.Title,
		User:        meta.User.Username,
		UserDisplay: meta.User.Name,
		Date:        ledger.DateOf(p.now()),
		MessageID:   msgID,
		Likes:       meta.NumLikes,
		Views:       meta.NumViews,
	}
	if err := p.Ledger.Insert(ctx, kind, rec); err != nil {
		// already on the channel; nothing to roll back
		if errors.Is(err, ledger.ErrDuplicateKey) {
			log.Warn("feed: published twice", slog.Any("error", err))
		} else {
			log.Error("feed: ledger insert failed", slog.Any("error", err))
		}
	}
	log.Info("feed: published", slog.String("title", meta.Title), slog.Int("message_id", msgID))

	if p.Authors != nil {
		if err := p.Authors.RegisterIfNew(ctx, meta.User.Name); err != nil {
			log.Warn("feed: author report failed", slog.Any("error", err))
		}
	}

	// also gives the channel time to forward the post to the discussion group
	if err := p.sleep(ctx, p.ItemDelay); err != nil {
		return Outcome{ID: id, Published: true, MessageID: msgID}
	}
	if p.Discussion != nil {
		if err := p.postDescription(ctx, meta); err != nil {
			log.Warn("feed: discussion post failed", slog.Any("error", err))
		}
	}
	return Outcome{ID: id, Published: true, MessageID: msgID}
}

// publishHosted downloads the source file and thumbnail and uploads them.
// Both local files are removed after the upload attempt.
func (p *Pipeline) publishHosted(ctx context.Context, meta *engine.Video, log *slog.Logger) (int, *Outcome) {
	id := meta.ID
	fail := func(reason SkipReason, err error) (int, *Outcome) {
		return 0, &Outcome{ID: id, Reason: reason, Err: err}
	}

	video, err := engine.RetryDo(ctx, p.Retry, "video", func() (download.Outcome, error) {
		src, err := p.Gateway.ResolveSource(ctx, meta)
		if err != nil {
			return download.Outcome{}, sourceError(meta, err)
		}
		out, err := p.Fetcher.Fetch(ctx, download.Resource{
			URL:  src.URL,
			Path: filepath.Join(p.DownloadDir, id+"."+src.Ext),
		})
		if err != nil && download.IsNotFound(err) {
			return out, engine.Permanent(err)
		}
		return out, err
	})
	download.Count(video, err)
	if err != nil {
		log.Warn("feed: video download failed", slog.Any("error", err))
		return fail(SkipVideo, err)
	}
	defer removeFiles(log, video.Path)

	thumb, err := p.Fetcher.FetchWithRetry(ctx, download.Resource{
		URL:  sources.ThumbnailURL(p.Gateway.FileURL(), meta),
		Path: filepath.Join(p.DownloadDir, id+".jpg"),
	})
	if err != nil {
		log.Warn("feed: thumbnail download failed", slog.Any("error", err))
		return fail(SkipThumbnail, err)
	}
	defer removeFiles(log, thumb.Path)

	var info *media.Info
	if p.Prober != nil {
		if in, err := p.Prober.Probe(ctx, video.Path); err != nil {
			log.Warn("feed: probe failed, publishing without size tags", slog.Any("error", err))
		} else {
			info = &in
		}
	}
	post := publish.VideoPost{
		Path:      video.Path,
		ThumbPath: thumb.Path,
		Caption:   p.Captions.VideoCaption(meta, info),
	}
	if info != nil {
		post.Duration = info.Duration
		post.Width = info.Width
		post.Height = info.Height
	}

	msgID, err := p.Channel.PublishVideo(ctx, post)
	if err != nil {
		log.Warn("feed: publish video failed", slog.Any("error", err))
		return fail(SkipPublish, err)
	}
	return msgID, nil
}

// postDescription threads the description under the channel post in the
// linked discussion group. The group receives the channel post as an
// automatic forward right before our placeholder message, so the
// placeholder id minus one is the forwarded post.
func (p *Pipeline) postDescription(ctx context.Context, meta *engine.Video) error {
	if strings.TrimSpace(meta.Body) == "" {
		return nil
	}
	placeholderID, err := p.Discussion.PublishMessage(ctx, publish.Message{Text: "Getting message ID..."})
	if err != nil {
		return fmt.Errorf("placeholder: %w", err)
	}
	if err := p.Discussion.DeleteMessage(ctx, placeholderID); err != nil {
		slog.Warn("feed: delete placeholder failed", slog.Int("message_id", placeholderID), slog.Any("error", err))
	}
	_, err = p.Discussion.PublishMessage(ctx, publish.Message{
		Text:    p.Captions.DiscussionMessage(meta),
		HTML:    true,
		ReplyTo: placeholderID - 1,
	})
	return err
}

// sourceError classifies a ResolveSource failure for the retry loop. A
// missing variant or a gone file never comes back.
func sourceError(meta *engine.Video, err error) error {
	if errors.Is(err, sources.ErrNoSourceVariant) {
		return engine.Permanent(&download.NotFoundError{URL: meta.FileURL, Err: err})
	}
	var se *sources.StatusError
	if errors.As(err, &se) && se.NotFound() {
		return engine.Permanent(&download.NotFoundError{URL: meta.FileURL, Err: err})
	}
	return err
}

func removeFiles(log *slog.Logger, paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("feed: cleanup failed", slog.String("path", path), slog.Any("error", err))
		}
	}
}
