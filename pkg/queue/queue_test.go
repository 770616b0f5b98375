package queue

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jphoke/mailtls-assessor/pkg/errors"
)

func newRedisQueue(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "hosts", zerolog.Nop()), mr
}

func TestRedisQueueFIFOAndAcknowledge(t *testing.T) {
	ctx := context.Background()
	q, _ := newRedisQueue(t)

	for _, host := range []string{"mx1.example.com", "mx2.example.com"} {
		_, err := q.Enqueue(ctx, host)
		require.NoError(t, err)
	}

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mx1.example.com", first.Host)
	assert.NotEmpty(t, first.ID)

	second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mx2.example.com", second.Host)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	inFlight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, inFlight)

	require.NoError(t, q.Delete(ctx, first))
	assert.ErrorIs(t, q.Delete(ctx, first), ErrUnknownItem, "a second delete is reported")
	require.NoError(t, q.Delete(ctx, second))

	inFlight, err = q.InFlight(ctx)
	require.NoError(t, err)
	assert.Zero(t, inFlight)
}

func TestRedisQueueAcceptsPlainHostNames(t *testing.T) {
	ctx := context.Background()
	q, mr := newRedisQueue(t)
	_, err := mr.Lpush("hosts", "mail.example.org")
	require.NoError(t, err)

	item, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mail.example.org", item.Host)
	require.NoError(t, q.Delete(ctx, item))
}

func TestRedisQueueTransportError(t *testing.T) {
	ctx := context.Background()
	q, mr := newRedisQueue(t)
	mr.Close()

	_, err := q.Receive(ctx)
	require.Error(t, err)
	var transport *apperrors.TransportError
	assert.True(t, errors.As(err, &transport))
	assert.Equal(t, "queue receive", transport.Op)
}

func newPostgresQueue(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db, "assessment_queue", zerolog.Nop()), mock
}

func TestPostgresReceiveClaimsWithSkipLocked(t *testing.T) {
	ctx := context.Background()
	q, mock := newPostgresQueue(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "assessment_queue"`) + `(?s).*FOR UPDATE SKIP LOCKED.*RETURNING id, host, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "host", "created_at"}).AddRow(int64(42), "mx.example.net", created))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "assessment_queue" WHERE id = $1`)).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	item, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "42", item.ID)
	assert.Equal(t, "mx.example.net", item.Host)
	assert.Equal(t, created, item.EnqueuedAt)

	require.NoError(t, q.Delete(ctx, item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReceiveEmpty(t *testing.T) {
	q, mock := newPostgresQueue(t)
	mock.ExpectQuery(`UPDATE "assessment_queue"`).WillReturnError(sql.ErrNoRows)

	_, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteUnknown(t *testing.T) {
	q, mock := newPostgresQueue(t)
	mock.ExpectExec(`DELETE FROM "assessment_queue"`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := q.Delete(context.Background(), Item{ID: "7", receipt: "7"})
	assert.ErrorIs(t, err, ErrUnknownItem)
	assert.ErrorIs(t, q.Delete(context.Background(), Item{}), ErrUnknownItem)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEnqueueAndMigrate(t *testing.T) {
	ctx := context.Background()
	q, mock := newPostgresQueue(t)
	created := time.Now().UTC()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "assessment_queue"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "assessment_queue" (host, priority)`)).
		WithArgs("mx.example.org", 9).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), created))

	require.NoError(t, q.Migrate(ctx))
	item, err := q.EnqueuePriority(ctx, "mx.example.org", 9)
	require.NoError(t, err)
	assert.Equal(t, "3", item.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransportError(t *testing.T) {
	q, mock := newPostgresQueue(t)
	mock.ExpectQuery(`UPDATE "assessment_queue"`).WillReturnError(errors.New("connection reset"))

	_, err := q.Receive(context.Background())
	var transport *apperrors.TransportError
	require.True(t, errors.As(err, &transport))
	assert.Equal(t, "queue receive", transport.Op)
}

func TestNormalizeHost(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "  MX1.Example.COM. ", want: "mx1.example.com"},
		{in: "smtp://mail.example.org/", want: "mail.example.org"},
		{in: "192.0.2.25", want: "192.0.2.25"},
		{in: "[2001:db8::25]", want: "2001:db8::25"},
		{in: "", wantErr: true},
		{in: "mail.example.org:25", wantErr: true},
		{in: "mail.example.org/path", wantErr: true},
		{in: "postmaster@example.org", wantErr: true},
		{in: "-bad-.example", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeHost(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
