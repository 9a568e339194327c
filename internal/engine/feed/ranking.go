package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anatolykoptev/go_iwara/internal/engine"
	"github.com/anatolykoptev/go_iwara/internal/engine/ledger"
	"github.com/anatolykoptev/go_iwara/internal/engine/publish"
)

// Period selects the ranking lookback.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

// RankingSize is how many entries a report lists.
const RankingSize = 10

// Window is the lookback of a period as of now, with the report title.
type Window struct {
	Since time.Time
	Title string
}

// WindowFor computes the lookback of p ending at now. ok is false for an
// unknown period.
func WindowFor(p Period, now time.Time) (w Window, ok bool) {
	today := now
	switch p {
	case Daily:
		since := today.AddDate(0, 0, -1)
		return Window{Since: since, Title: "Daily Ranking 每日排行榜\n" + today.Format(time.DateOnly)}, true
	case Weekly:
		since := today.AddDate(0, 0, -7)
		return Window{Since: since, Title: "Weekly Ranking 每周排行榜\n" + since.Format(time.DateOnly) + " ~ " + today.Format(time.DateOnly)}, true
	case Monthly:
		since := addMonthsClamped(today, -1)
		return Window{Since: since, Title: "Monthly Ranking 月度排行榜\n" + since.Format("2006-01")}, true
	case Yearly:
		since := addMonthsClamped(today, -12)
		return Window{Since: since, Title: "Annual Ranking 年度排行榜\n" + since.Format("2006")}, true
	}
	return Window{}, false
}

// addMonthsClamped shifts t by n months, clamping the day to the end of the
// target month (Mar 31 - 1 month = Feb 28/29).
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// RankReport summarises one ranking run.
type RankReport struct {
	Period    Period
	Since     ledger.Date
	Refreshed int
	Failed    int
	Entries   []ledger.RankedRecord
	MessageID int
}

// Ranking refreshes engagement stats of recent videos and posts the top list.
type Ranking struct {
	Gateway   Gateway
	Ledger    ledger.Ledger
	Publisher publish.Publisher // ranking chat
	Kind      engine.FeedKind
	LinkBase  string // entry links: LinkBase/<message id>
	Now       func() time.Time
}

func (r *Ranking) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Ranking) kind() engine.FeedKind {
	if r.Kind == "" {
		return engine.FeedDiscovery
	}
	return r.Kind
}

// Run refreshes and publishes the ranking for p. An unknown period returns
// an empty report and no error.
func (r *Ranking) Run(ctx context.Context, p Period) (RankReport, error) {
	rep := RankReport{Period: p}
	w, ok := WindowFor(p, r.now())
	if !ok {
		slog.Warn("ranking: unknown period", slog.String("period", string(p)))
		return rep, nil
	}
	rep.Since = ledger.DateOf(w.Since)

	// stats are public; a failed login only costs subscriber-only entries
	if err := r.Gateway.Login(ctx); err != nil {
		slog.Warn("ranking: login failed, refreshing anonymously", slog.Any("error", err))
	}

	if err := r.refresh(ctx, &rep); err != nil {
		return rep, err
	}

	entries, err := r.Ledger.QueryWindow(ctx, r.kind(), rep.Since, RankingSize)
	if err != nil {
		return rep, fmt.Errorf("ranking: %w", err)
	}
	rep.Entries = entries

	id, err := r.Publisher.PublishMessage(ctx, publish.Message{
		Text: RenderRanking(w.Title, entries, r.LinkBase),
		HTML: true,
	})
	if err != nil {
		return rep, fmt.Errorf("ranking: publish: %w", err)
	}
	rep.MessageID = id

	slog.Info("ranking: published",
		slog.String("period", string(p)),
		slog.String("since", rep.Since.String()),
		slog.Int("refreshed", rep.Refreshed),
		slog.Int("failed", rep.Failed),
		slog.Int("entries", len(entries)),
	)
	return rep, nil
}

func (r *Ranking) refresh(ctx context.Context, rep *RankReport) error {
	ids, err := r.Ledger.IDsSince(ctx, r.kind(), rep.Since)
	if err != nil {
		return fmt.Errorf("ranking: %w", err)
	}
	slog.Info("ranking: refreshing stats", slog.Int("videos", len(ids)))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := r.Gateway.RefreshVideo(ctx, id)
		if err != nil {
			rep.Failed++
			engine.IncrStatsRefresh("failed")
			slog.Warn("ranking: refresh failed", slog.String("id", id), slog.Any("error", err))
			continue
		}
		if err := r.Ledger.UpdateStats(ctx, r.kind(), id, v.NumLikes, v.NumViews); err != nil {
			rep.Failed++
			engine.IncrStatsRefresh("failed")
			slog.Warn("ranking: update failed", slog.String("id", id), slog.Any("error", err))
			continue
		}
		rep.Refreshed++
		engine.IncrStatsRefresh("ok")
	}
	return nil
}

// RenderRanking formats the top list as HTML.
func RenderRanking(title string, entries []ledger.RankedRecord, linkBase string) string {
	linkBase = strings.TrimRight(linkBase, "/")
	var b strings.Builder
	b.WriteString("#")
	b.WriteString(title)
	b.WriteString("\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "\nTop %d ❤️%d 🔥%d ⚡%d\n<a href=\"%s/%d\">%s</a> by %s",
			i+1, e.Likes, e.Views, e.Heat,
			linkBase, e.MessageID, engine.EscapeHTML(e.Title), engine.EscapeHTML(e.UserDisplay))
	}
	return b.String()
}
