package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/anatolykoptev/go_iwara/internal/engine"

	_ "modernc.org/sqlite"
)

// SQLite is the default file-backed ledger.
type SQLite struct {
	db *sql.DB
	d  dialect
}

// OpenSQLite opens (or creates) the database file and both tables.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("ledger: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer

	s := &SQLite{db: db, d: sqliteDialect}
	for _, table := range []string{TableSubscribed, TableDiscovery} {
		if _, err := db.ExecContext(ctx, s.d.createTable(table)); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger: create %s: %w", table, err)
		}
	}
	slog.Debug("ledger: sqlite ready", slog.String("path", path))
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Exists(ctx context.Context, kind engine.FeedKind, id string) (bool, error) {
	table, err := Table(kind)
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx, s.d.exists(table), id).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("ledger: exists %s: %w", id, err)
	}
	return true, nil
}

func (s *SQLite) Insert(ctx context.Context, kind engine.FeedKind, rec VideoRecord) error {
	table, err := Table(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.d.insert(table),
		rec.ID, rec.Title, rec.User, rec.UserDisplay, int(rec.Date), rec.MessageID, rec.Views, rec.Likes)
	if err != nil {
		return fmt.Errorf("ledger: insert %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: insert %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, table, rec.ID)
	}
	return nil
}

func (s *SQLite) UpdateStats(ctx context.Context, kind engine.FeedKind, id string, likes, views int64) error {
	table, err := Table(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.d.updateStats(table), likes, views, id)
	if err != nil {
		return fmt.Errorf("ledger: update %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		slog.Warn("ledger: update of unknown id", slog.String("table", table), slog.String("id", id))
	}
	return nil
}

func (s *SQLite) QueryWindow(ctx context.Context, kind engine.FeedKind, since Date, limit int) ([]RankedRecord, error) {
	table, err := Table(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.d.queryWindow(table, limit), int(since))
	if err != nil {
		return nil, fmt.Errorf("ledger: query window: %w", err)
	}
	defer rows.Close()

	var out []RankedRecord
	for rows.Next() {
		var r RankedRecord
		var date int64
		if err := rows.Scan(&r.ID, &r.Title, &r.User, &r.UserDisplay, &date, &r.MessageID, &r.Likes, &r.Views, &r.Heat); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		r.Date = Date(date)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) IDsSince(ctx context.Context, kind engine.FeedKind, since Date) ([]string, error) {
	table, err := Table(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.d.idsSince(table), int(since))
	if err != nil {
		return nil, fmt.Errorf("ledger: ids since: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
