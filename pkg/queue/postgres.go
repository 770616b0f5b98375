package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	apperrors "github.com/jphoke/mailtls-assessor/pkg/errors"
)

// Postgres is a table-backed queue. Workers claim rows with
// FOR UPDATE SKIP LOCKED so concurrent consumers never share a row.
type Postgres struct {
	db     *sql.DB
	table  string
	logger zerolog.Logger

	receiveQuery string
	deleteQuery  string
	enqueueQuery string
}

// NewPostgres uses table as the queue.
func NewPostgres(db *sql.DB, table string, logger zerolog.Logger) *Postgres {
	t := pq.QuoteIdentifier(table)
	receive := fmt.Sprintf(`
		UPDATE %[1]s
		SET status = 'processing', started_at = NOW()
		WHERE id = (
			SELECT id FROM %[1]s
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, host, created_at`, t)
	return &Postgres{
		db:           db,
		table:        t,
		logger:       logger,
		receiveQuery: receive,
		deleteQuery:  fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status = 'processing'`, t),
		enqueueQuery: fmt.Sprintf(`INSERT INTO %s (host, priority) VALUES ($1, $2) RETURNING id, created_at`, t),
	}
}

// Migrate creates the queue table if it does not exist.
func (q *Postgres) Migrate(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			host TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 5,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ
		)`, q.table))
	if err != nil {
		return apperrors.NewTransportError("queue migrate", err)
	}
	return nil
}

// Enqueue inserts host with the default priority.
func (q *Postgres) Enqueue(ctx context.Context, host string) (Item, error) {
	return q.EnqueuePriority(ctx, host, 5)
}

// EnqueuePriority inserts host; higher priorities are received first.
func (q *Postgres) EnqueuePriority(ctx context.Context, host string, priority int) (Item, error) {
	var id int64
	var created time.Time
	if err := q.db.QueryRowContext(ctx, q.enqueueQuery, host, priority).Scan(&id, &created); err != nil {
		return Item{}, apperrors.NewTransportError("queue enqueue", err)
	}
	key := strconv.FormatInt(id, 10)
	return Item{ID: key, Host: host, EnqueuedAt: created, receipt: key}, nil
}

// Receive claims the highest-priority, oldest pending row.
func (q *Postgres) Receive(ctx context.Context) (Item, error) {
	var id int64
	var item Item
	err := q.db.QueryRowContext(ctx, q.receiveQuery).Scan(&id, &item.Host, &item.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrEmpty
	}
	if err != nil {
		return Item{}, apperrors.NewTransportError("queue receive", err)
	}
	item.ID = strconv.FormatInt(id, 10)
	item.receipt = item.ID
	q.logger.Debug().Str("id", item.ID).Str("host", item.Host).Msg("claimed queue row")
	return item, nil
}

// Delete removes a claimed row.
func (q *Postgres) Delete(ctx context.Context, item Item) error {
	id, err := strconv.ParseInt(item.receipt, 10, 64)
	if err != nil {
		return ErrUnknownItem
	}
	res, err := q.db.ExecContext(ctx, q.deleteQuery, id)
	if err != nil {
		return apperrors.NewTransportError("queue delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewTransportError("queue delete", err)
	}
	if n == 0 {
		return ErrUnknownItem
	}
	return nil
}
