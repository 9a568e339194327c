package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anatolykoptev/go_iwara/internal/engine"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the ledger on a shared PostgreSQL server.
type Postgres struct {
	pool *pgxpool.Pool
	d    dialect
}

// OpenPostgres connects, pings and creates both tables.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse dsn: %w", err)
	}
	config.MaxConns = 2
	config.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("ledger: create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping postgres: %w", err)
	}

	p := &Postgres{pool: pool, d: postgresDialect}
	for _, table := range []string{TableSubscribed, TableDiscovery} {
		// quoted: mixed-case legacy names
		if _, err := pool.Exec(ctx, p.d.createTable(quote(table))); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ledger: create %s: %w", table, err)
		}
	}
	slog.Info("ledger: postgres connected", slog.String("addr", config.ConnConfig.Host))
	return p, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func quote(table string) string { return pgx.Identifier{table}.Sanitize() }

func (p *Postgres) table(kind engine.FeedKind) (string, error) {
	t, err := Table(kind)
	if err != nil {
		return "", err
	}
	return quote(t), nil
}

func (p *Postgres) Exists(ctx context.Context, kind engine.FeedKind, id string) (bool, error) {
	table, err := p.table(kind)
	if err != nil {
		return false, err
	}
	var one int
	err = p.pool.QueryRow(ctx, p.d.exists(table), id).Scan(&one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("ledger: exists %s: %w", id, err)
	}
	return true, nil
}

func (p *Postgres) Insert(ctx context.Context, kind engine.FeedKind, rec VideoRecord) error {
	table, err := p.table(kind)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, p.d.insert(table),
		rec.ID, rec.Title, rec.User, rec.UserDisplay, int32(rec.Date), int64(rec.MessageID), rec.Views, rec.Likes)
	if err != nil {
		return fmt.Errorf("ledger: insert %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, table, rec.ID)
	}
	return nil
}

func (p *Postgres) UpdateStats(ctx context.Context, kind engine.FeedKind, id string, likes, views int64) error {
	table, err := p.table(kind)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, p.d.updateStats(table), likes, views, id)
	if err != nil {
		return fmt.Errorf("ledger: update %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("ledger: update of unknown id", slog.String("table", table), slog.String("id", id))
	}
	return nil
}

func (p *Postgres) QueryWindow(ctx context.Context, kind engine.FeedKind, since Date, limit int) ([]RankedRecord, error) {
	table, err := p.table(kind)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, p.d.queryWindow(table, limit), int32(since))
	if err != nil {
		return nil, fmt.Errorf("ledger: query window: %w", err)
	}
	defer rows.Close()

	var out []RankedRecord
	for rows.Next() {
		var r RankedRecord
		var date int32
		var msgID int64
		if err := rows.Scan(&r.ID, &r.Title, &r.User, &r.UserDisplay, &date, &msgID, &r.Likes, &r.Views, &r.Heat); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		r.Date = Date(date)
		r.MessageID = int(msgID)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) IDsSince(ctx context.Context, kind engine.FeedKind, since Date) ([]string, error) {
	table, err := p.table(kind)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, p.d.idsSince(table), int32(since))
	if err != nil {
		return nil, fmt.Errorf("ledger: ids since: %w", err)
	}
	defer rows.Close()
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ledger: ids since: %w", err)
	}
	return ids, nil
}
