// Package botcmd parses the go_iwara command line and dispatches one run
// to the ingestion pipeline or the ranking aggregator.
package botcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/anatolykoptev/go_iwara/internal/engine"
	"github.com/anatolykoptev/go_iwara/internal/engine/feed"
)

// Action is what a run does.
type Action string

const (
	ActionSubscribed Action = "dlsub"
	ActionDiscovery  Action = "dlnew"
	ActionRank       Action = "rank"
)

// Usage is printed on invalid arguments.
const Usage = `usage: go_iwara <mode> <action> [period]

mode:    normal | -n    general rating
         ecchi  | -e    ecchi rating
action:  dlsub          publish new videos from subscriptions
         dlnew          publish new videos from the latest listing
         rank           publish a ranking (needs period)
period:  daily | -d, weekly | -w, monthly | -m, yearly | -y
`

// ErrUsage marks invalid command line arguments.
var ErrUsage = errors.New("invalid arguments")

// Command is a parsed invocation.
type Command struct {
	Rating engine.Rating
	Action Action
	Period feed.Period // rank only
}

var modes = map[string]engine.Rating{
	"normal": engine.RatingGeneral, "-n": engine.RatingGeneral,
	"ecchi": engine.RatingEcchi, "-e": engine.RatingEcchi,
}

var periods = map[string]feed.Period{
	"daily": feed.Daily, "-d": feed.Daily,
	"weekly": feed.Weekly, "-w": feed.Weekly,
	"monthly": feed.Monthly, "-m": feed.Monthly,
	"yearly": feed.Yearly, "-y": feed.Yearly,
}

// Parse reads mode, action and period from args (without the program name).
func Parse(args []string) (Command, error) {
	if len(args) < 2 {
		return Command{}, fmt.Errorf("%w: need mode and action", ErrUsage)
	}
	rating, ok := modes[strings.ToLower(args[0])]
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown mode %q", ErrUsage, args[0])
	}
	cmd := Command{Rating: rating, Action: Action(strings.ToLower(args[1]))}

	switch cmd.Action {
	case ActionSubscribed, ActionDiscovery:
		if len(args) > 2 {
			return Command{}, fmt.Errorf("%w: %s takes no period", ErrUsage, cmd.Action)
		}
	case ActionRank:
		if len(args) != 3 {
			return Command{}, fmt.Errorf("%w: rank needs a period", ErrUsage)
		}
		p, ok := periods[strings.ToLower(args[2])]
		if !ok {
			return Command{}, fmt.Errorf("%w: unknown period %q", ErrUsage, args[2])
		}
		cmd.Period = p
	default:
		return Command{}, fmt.Errorf("%w: unknown action %q", ErrUsage, args[1])
	}
	return cmd, nil
}

// PrintUsage writes the error and usage text.
func PrintUsage(w io.Writer, err error) {
	if err != nil {
		fmt.Fprintln(w, err)
	}
	fmt.Fprint(w, Usage)
}

// FeedRunner runs one ingestion pass.
type FeedRunner interface {
	Run(ctx context.Context, kind engine.FeedKind) (feed.RunReport, error)
}

// RankRunner publishes one ranking.
type RankRunner interface {
	Run(ctx context.Context, p feed.Period) (feed.RankReport, error)
}

// slowRun is how long a run may take before it is logged as slow.
const slowRun = 2 * time.Hour

// Dispatch runs cmd. Only fatal errors are returned; per-item failures are
// in the run report.
func Dispatch(ctx context.Context, cmd Command, feeds FeedRunner, ranks RankRunner) error {
	started := time.Now()
	defer engine.ObserveRun(string(cmd.Action), started)

	return engine.TrackOperation(ctx, string(cmd.Action), slowRun, func(ctx context.Context) error {
		switch cmd.Action {
		case ActionSubscribed:
			_, err := feeds.Run(ctx, engine.FeedSubscribed)
			return err
		case ActionDiscovery:
			_, err := feeds.Run(ctx, engine.FeedDiscovery)
			return err
		case ActionRank:
			rep, err := ranks.Run(ctx, cmd.Period)
			if err == nil && rep.MessageID == 0 {
				slog.Warn("rank: nothing published", slog.String("period", string(cmd.Period)))
			}
			return err
		}
		return fmt.Errorf("%w: unknown action %q", ErrUsage, cmd.Action)
	})
}
