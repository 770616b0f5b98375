package publish

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/jphoke/mailtls-assessor/pkg/assess"
	apperrors "github.com/jphoke/mailtls-assessor/pkg/errors"
	"github.com/jphoke/mailtls-assessor/pkg/findings"
)

// Postgres stores results in a table, one row per host assessment.
type Postgres struct {
	db          *sql.DB
	table       string
	insertQuery string
}

// NewPostgres writes to table.
func NewPostgres(db *sql.DB, table string) *Postgres {
	t := pq.QuoteIdentifier(table)
	insert := fmt.Sprintf(`INSERT INTO %s (host, mode, inconclusive, failures, warnings, assessed_at, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, t)
	return &Postgres{db: db, table: t, insertQuery: insert}
}

// Migrate creates the results table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			host TEXT NOT NULL,
			mode TEXT NOT NULL,
			inconclusive BOOLEAN NOT NULL,
			failures INTEGER NOT NULL,
			warnings INTEGER NOT NULL,
			assessed_at TIMESTAMPTZ NOT NULL,
			result JSONB NOT NULL
		)`, p.table))
	if err != nil {
		return apperrors.NewTransportError("publish migrate", err)
	}
	return nil
}

// Publish inserts the batch in one transaction.
func (p *Postgres) Publish(ctx context.Context, batch []assess.ResultMessage) (err error) {
	if len(batch) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewTransportError("publish postgres", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, p.insertQuery)
	if err != nil {
		return apperrors.NewTransportError("publish postgres", err)
	}
	defer stmt.Close()

	for _, msg := range batch {
		data, marshalErr := json.Marshal(msg)
		if marshalErr != nil {
			return marshalErr
		}
		counts := msg.Counts()
		if _, err = stmt.ExecContext(ctx, msg.Host, string(msg.Mode), msg.Inconclusive,
			counts[findings.Fail], counts[findings.Warning], msg.AssessedAt, data); err != nil {
			return apperrors.NewTransportError("publish postgres", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return apperrors.NewTransportError("publish postgres", err)
	}
	return nil
}
