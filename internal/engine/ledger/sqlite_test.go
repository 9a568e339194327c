package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/anatolykoptev/go_iwara/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *SQLite {
	t.Helper()
	l, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "IwaraTgDB.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestInsertAndExists(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	ok, err := l.Exists(ctx, engine.FeedDiscovery, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	rec := VideoRecord{ID: "abc", Title: "T", User: "u", UserDisplay: "U", Date: 20240105, MessageID: 42, Likes: 1, Views: 10}
	require.NoError(t, l.Insert(ctx, engine.FeedDiscovery, rec))

	ok, err = l.Exists(ctx, engine.FeedDiscovery, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	// per-table uniqueness
	ok, err = l.Exists(ctx, engine.FeedSubscribed, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, l.Insert(ctx, engine.FeedSubscribed, rec))
}

func TestInsertDuplicate(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	rec := VideoRecord{ID: "abc", Title: "first", Date: 20240105, MessageID: 1}
	require.NoError(t, l.Insert(ctx, engine.FeedDiscovery, rec))

	rec.Title = "second"
	err := l.Insert(ctx, engine.FeedDiscovery, rec)
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	got, err := l.QueryWindow(ctx, engine.FeedDiscovery, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Title)
}

func TestQueryWindowHeatOrdering(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	recs := []VideoRecord{
		{ID: "a", Likes: 1, Views: 100, Date: 20240110}, // 120
		{ID: "b", Likes: 10, Views: 0, Date: 20240110},  // 200
		{ID: "c", Likes: 0, Views: 150, Date: 20240110}, // 150
		{ID: "d", Likes: 5, Views: 50, Date: 20240110},  // 150, tie with c
		{ID: "old", Likes: 99, Views: 999, Date: 20231231},
	}
	for _, r := range recs {
		require.NoError(t, l.Insert(ctx, engine.FeedDiscovery, r))
	}

	got, err := l.QueryWindow(ctx, engine.FeedDiscovery, 20240101, 10)
	require.NoError(t, err)

	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
		assert.Equal(t, r.Likes*engine.HeatLikeWeight+r.Views, r.Heat)
	}
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Heat, got[i].Heat)
	}

	top, err := l.QueryWindow(ctx, engine.FeedDiscovery, 20240101, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestUpdateStats(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Insert(ctx, engine.FeedDiscovery, VideoRecord{ID: "a", Date: 20240110}))
	require.NoError(t, l.Insert(ctx, engine.FeedDiscovery, VideoRecord{ID: "b", Likes: 1, Date: 20240110}))

	got, err := l.QueryWindow(ctx, engine.FeedDiscovery, 20240110, 0)
	require.NoError(t, err)
	assert.Equal(t, "b", got[0].ID)

	require.NoError(t, l.UpdateStats(ctx, engine.FeedDiscovery, "a", 5, 7))
	got, err = l.QueryWindow(ctx, engine.FeedDiscovery, 20240110, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, int64(5), got[0].Likes)
	assert.Equal(t, int64(7), got[0].Views)
	assert.Equal(t, int64(107), got[0].Heat)

	// absent id is not an error
	assert.NoError(t, l.UpdateStats(ctx, engine.FeedDiscovery, "missing", 1, 1))
}

func TestIDsSince(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for _, r := range []VideoRecord{{ID: "x", Date: 20240101}, {ID: "y", Date: 20240105}, {ID: "z", Date: 20240110}} {
		require.NoError(t, l.Insert(ctx, engine.FeedSubscribed, r))
	}
	ids, err := l.IDsSince(ctx, engine.FeedSubscribed, 20240105)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "z"}, ids)
}

func TestUnknownKind(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.Exists(context.Background(), engine.FeedKind("bogus"), "a")
	assert.Error(t, err)
}

func TestLegacyTextDateColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE videosNew (id TEXT PRIMARY KEY, title TEXT, user TEXT, user_display TEXT, date TEXT, chat_id INTEGER, views INTEGER, likes INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO videosNew (id, title, user, user_display, date, chat_id) VALUES ('old', 'Old', 'u', 'U', 20240102, 9)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	l, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer l.Close()

	got, err := l.QueryWindow(context.Background(), engine.FeedDiscovery, 20240101, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Date(20240102), got[0].Date)
	assert.Equal(t, 9, got[0].MessageID)
	assert.Zero(t, got[0].Heat)
}

func TestDateOf(t *testing.T) {
	d := DateOf(time.Date(2024, time.March, 7, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, Date(20240307), d)
	assert.Equal(t, "20240307", d.String())
	assert.Equal(t, time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC), d.Time(time.UTC))
}

func TestOpenPicksBackend(t *testing.T) {
	assert.True(t, IsPostgresDSN("postgres://u@h/db"))
	assert.True(t, IsPostgresDSN("postgresql://u@h/db"))
	assert.False(t, IsPostgresDSN("IwaraTgDB.db"))

	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	_, ok := l.(*SQLite)
	assert.True(t, ok)
	require.NoError(t, l.Close())
}
