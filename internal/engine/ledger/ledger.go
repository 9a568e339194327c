// Package ledger is the persisted record of published videos, one table per
// feed kind. Rows are inserted once on publish; only likes and views change
// afterwards.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anatolykoptev/go_iwara/internal/engine"
)

// ErrDuplicateKey is returned by Insert when the id is already recorded.
var ErrDuplicateKey = errors.New("ledger: duplicate key")

// Date is a calendar day stored as YYYYMMDD.
type Date int

// DateOf returns the local calendar day of t.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date(y*10000 + int(m)*100 + d)
}

func (d Date) String() string { return fmt.Sprintf("%08d", int(d)) }

// VideoRecord is one published video.
type VideoRecord struct {
	ID          string
	Title       string
	User        string // handle
	UserDisplay string
	Date        Date
	MessageID   int // channel message the video was published as
	Likes       int64
	Views       int64
}

// RankedRecord is a VideoRecord with its heat score.
type RankedRecord struct {
	VideoRecord
	Heat int64
}

// Ledger is implemented by the SQLite and PostgreSQL stores.
type Ledger interface {
	Exists(ctx context.Context, kind engine.FeedKind, id string) (bool, error)
	Insert(ctx context.Context, kind engine.FeedKind, rec VideoRecord) error
	UpdateStats(ctx context.Context, kind engine.FeedKind, id string, likes, views int64) error
	// QueryWindow returns rows with date >= since ordered by heat descending,
	// ties by id ascending. limit <= 0 means no limit.
	QueryWindow(ctx context.Context, kind engine.FeedKind, since Date, limit int) ([]RankedRecord, error)
	IDsSince(ctx context.Context, kind engine.FeedKind, since Date) ([]string, error)
	Close() error
}

// Table names kept from the legacy database so existing files stay usable.
const (
	TableSubscribed = "videosSub"
	TableDiscovery  = "videosNew"
)

// Table maps a feed kind to its table.
func Table(kind engine.FeedKind) (string, error) {
	switch kind {
	case engine.FeedSubscribed:
		return TableSubscribed, nil
	case engine.FeedDiscovery:
		return TableDiscovery, nil
	}
	return "", fmt.Errorf("ledger: unknown feed kind %q", kind)
}

// IsPostgresDSN reports whether dsn selects the PostgreSQL backend.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open picks the backend from the DSN: a postgres URL, else a SQLite path.
func Open(ctx context.Context, dsn string) (Ledger, error) {
	if IsPostgresDSN(dsn) {
		return OpenPostgres(ctx, dsn)
	}
	return OpenSQLite(ctx, dsn)
}

// dialect renders the shared SQL for one backend.
type dialect struct {
	placeholder func(n int) string
	limitAll    string
	dateType    string
	countType   string
}

var (
	sqliteDialect = dialect{
		placeholder: func(int) string { return "?" },
		limitAll:    "LIMIT -1",
		dateType:    "INTEGER",
		countType:   "INTEGER",
	}
	postgresDialect = dialect{
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		limitAll:    "",
		dateType:    "INTEGER",
		countType:   "BIGINT",
	}
)

func (d dialect) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id           TEXT PRIMARY KEY,
		title        TEXT,
		"user"       TEXT,
		user_display TEXT,
		date         %s,
		chat_id      %s,
		views        %s,
		likes        %s
	)`, table, d.dateType, d.countType, d.countType, d.countType)
}

func (d dialect) exists(table string) string {
	return fmt.Sprintf(`SELECT 1 FROM %s WHERE id = %s LIMIT 1`, table, d.placeholder(1))
}

func (d dialect) insert(table string) string {
	p := d.placeholder
	return fmt.Sprintf(`INSERT INTO %s (id, title, "user", user_display, date, chat_id, views, likes)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (id) DO NOTHING`,
		table, p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8))
}

func (d dialect) updateStats(table string) string {
	p := d.placeholder
	return fmt.Sprintf(`UPDATE %s SET likes = %s, views = %s WHERE id = %s`, table, p(1), p(2), p(3))
}

func (d dialect) queryWindow(table string, limit int) string {
	lim := d.limitAll
	if limit > 0 {
		lim = fmt.Sprintf("LIMIT %d", limit)
	}
	return fmt.Sprintf(`SELECT id, COALESCE(title, ''), COALESCE("user", ''), COALESCE(user_display, ''),
			CAST(date AS INTEGER), COALESCE(chat_id, 0), COALESCE(likes, 0), COALESCE(views, 0),
			COALESCE(likes, 0) * %d + COALESCE(views, 0) AS heat
		FROM %s
		WHERE date >= %s
		ORDER BY heat DESC, id ASC
		%s`, engine.HeatLikeWeight, table, d.placeholder(1), lim)
}

func (d dialect) idsSince(table string) string {
	return fmt.Sprintf(`SELECT id FROM %s WHERE date >= %s ORDER BY id`, table, d.placeholder(1))
}
