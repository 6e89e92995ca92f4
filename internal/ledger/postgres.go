package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool is the subset of *pgxpool.Pool used by PostgresJournal.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresJournal stores records in the posted_articles table.
type PostgresJournal struct {
	pool DBPool
}

// NewPostgresJournal creates a new PostgresJournal.
func NewPostgresJournal(pool DBPool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

// Append inserts rec. A URL that is already present is left as it was.
func (j *PostgresJournal) Append(ctx context.Context, rec Record) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO posted_articles (id, url, title, destination, posted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url) DO NOTHING
	`, rec.ID, rec.URL, rec.Title, rec.Destination, rec.PostedAt)
	if err != nil {
		return fmt.Errorf("posted article insert: %w", err)
	}
	return nil
}

// Load returns every record, oldest first.
func (j *PostgresJournal) Load(ctx context.Context) (LoadResult, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT id, url, title, destination, posted_at
		FROM posted_articles
		ORDER BY posted_at ASC
	`)
	if err != nil {
		return LoadResult{}, fmt.Errorf("posted article list: %w", err)
	}

	recs, err := scanRecords(rows)
	if err != nil {
		return LoadResult{}, err
	}
	return LoadResult{Records: recs}, nil
}

// Prune deletes records posted before cutoff and returns them.
func (j *PostgresJournal) Prune(ctx context.Context, cutoff time.Time) ([]Record, error) {
	rows, err := j.pool.Query(ctx, `
		DELETE FROM posted_articles
		WHERE posted_at < $1
		RETURNING id, url, title, destination, posted_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("posted article prune: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Title, &rec.Destination, &rec.PostedAt); err != nil {
			return nil, fmt.Errorf("posted article scan: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
