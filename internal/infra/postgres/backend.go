package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"retreat-quiz/internal/remote"
)

// Notification channels filled by the triggers installed by the migrations.
const (
	ChangesChannel   = "quiz_changes"
	BroadcastChannel = "quiz_broadcast"
)

const uniqueViolation = "23505"

// Backend stores remote tables in PostgreSQL. Queries go through a pgx pool;
// the change feed and broadcasts arrive over LISTEN/NOTIFY.
type Backend struct {
	pool         *pgxpool.Pool
	dsn          string
	clock        func() time.Time
	log          zerolog.Logger
	PingInterval time.Duration
}

// Dial connects a pool for a postgres:// descriptor.
func Dial(ctx context.Context, cfg remote.Config, log zerolog.Logger) (*Backend, error) {
	pool, err := pgxpool.Connect(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewBackend(pool, cfg.URL, log), nil
}

func NewBackend(pool *pgxpool.Pool, dsn string, log zerolog.Logger) *Backend {
	return &Backend{
		pool:         pool,
		dsn:          dsn,
		clock:        time.Now,
		log:          log.With().Str("component", "postgres").Logger(),
		PingInterval: 90 * time.Second,
	}
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *Backend) Upsert(ctx context.Context, table remote.Table, row remote.Row) (remote.Row, error) {
	remote.StampServerFields(table, row, b.clock())
	q, args, err := upsertSQL(table, row, true)
	if err != nil {
		return nil, err
	}
	stored, err := b.queryRow(ctx, q, args)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (b *Backend) Insert(ctx context.Context, table remote.Table, row remote.Row) (remote.Row, error) {
	remote.StampServerFields(table, row, b.clock())
	q, args, err := upsertSQL(table, row, false)
	if err != nil {
		return nil, err
	}
	stored, err := b.queryRow(ctx, q, args)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", remote.ErrConflict, table)
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (b *Backend) Select(ctx context.Context, table remote.Table, match remote.Row) ([]remote.Row, error) {
	q, args, err := selectSQL(table, match)
	if err != nil {
		return nil, err
	}
	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]remote.Row, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var row remote.Row
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			b.log.Warn().Err(err).Str("table", string(table)).Msg("skipping undecodable row")
			continue
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Clear deletes row by row so the triggers report a DELETE for each one.
func (b *Backend) Clear(ctx context.Context, table remote.Table) error {
	if _, err := remote.Columns(table); err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, "DELETE FROM "+ident(string(table))); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	return nil
}

func (b *Backend) Changes(ctx context.Context) (<-chan remote.Change, error) {
	return listen[remote.Change](ctx, b, ChangesChannel)
}

func (b *Backend) Broadcasts(ctx context.Context) (<-chan remote.Broadcast, error) {
	return listen[remote.Broadcast](ctx, b, BroadcastChannel)
}

func (b *Backend) Publish(ctx context.Context, msg remote.Broadcast) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, BroadcastChannel, string(data)); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func (b *Backend) queryRow(ctx context.Context, q string, args []any) (remote.Row, error) {
	var raw string
	if err := b.pool.QueryRow(ctx, q, args...).Scan(&raw); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", remote.ErrConflict, pgErr.ConstraintName)
		}
		return nil, err
	}
	var row remote.Row
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return nil, fmt.Errorf("decode stored row: %w", err)
	}
	return row, nil
}

// listen opens a dedicated LISTEN connection and decodes notification payloads.
func listen[T any](ctx context.Context, b *Backend, channel string) (<-chan T, error) {
	l := pq.NewListener(b.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.log.Error().Err(err).Str("channel", channel).Msg("listener event")
		}
	})
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	b.log.Info().Str("channel", channel).Msg("listening for notifications")

	out := make(chan T, 64)
	go func() {
		defer close(out)
		defer l.Close()

		ping := time.NewTicker(b.PingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case note, ok := <-l.Notify:
				if !ok {
					return
				}
				if note == nil {
					// connection was re-established; missed notifications are covered by polling
					continue
				}
				var v T
				if err := json.Unmarshal([]byte(note.Extra), &v); err != nil {
					b.log.Warn().Err(err).Str("channel", channel).Msg("dropping undecodable notification")
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			case <-ping.C:
				if err := l.Ping(); err != nil {
					b.log.Error().Err(err).Str("channel", channel).Msg("failed to ping listener")
				}
			}
		}
	}()
	return out, nil
}
