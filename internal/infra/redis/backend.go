package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"retreat-quiz/internal/remote"
)

// Backend stores remote tables in Redis.
// Layout:
//
//	HSET {prefix}:table:{table} {naturalKey} {row JSON}
//	HSET {prefix}:participants:nicknames {nickname} {userID}   (active nicknames only)
//	PUBLISH {prefix}:changes   {remote.Change JSON}
//	PUBLISH {prefix}:broadcast {remote.Broadcast JSON}
type Backend struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
	log    zerolog.Logger
}

// Dial builds a Backend from a redis:// descriptor. cfg.Key, when set, is the password.
func Dial(_ context.Context, cfg remote.Config, log zerolog.Logger) (*Backend, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Key != "" {
		opts.Password = cfg.Key
	}
	return NewBackend(redis.NewClient(opts), cfg.KeyPrefix, log), nil
}

func NewBackend(client *redis.Client, prefix string, log zerolog.Logger) *Backend {
	if prefix == "" {
		prefix = "quiz"
	}
	return &Backend{
		client: client,
		prefix: prefix,
		clock:  time.Now,
		log:    log.With().Str("component", "redis").Logger(),
	}
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Backend) Upsert(ctx context.Context, table remote.Table, row remote.Row) (remote.Row, error) {
	remote.StampServerFields(table, row, b.clock())
	key, err := remote.KeyOf(table, row)
	if err != nil {
		return nil, err
	}
	old, err := b.get(ctx, table, key)
	if err != nil {
		return nil, err
	}
	if table == remote.TableParticipants {
		if err := b.claimNickname(ctx, row, old); err != nil {
			return nil, err
		}
	}

	stored, data, err := roundTrip(row)
	if err != nil {
		return nil, err
	}
	if err := b.client.HSet(ctx, b.rowsKey(table), key, data).Err(); err != nil {
		return nil, err
	}

	event := remote.EventInsert
	if old != nil {
		event = remote.EventUpdate
	}
	b.publishChange(ctx, remote.Change{Table: table, Type: event, New: stored, Old: old})
	return stored, nil
}

func (b *Backend) Insert(ctx context.Context, table remote.Table, row remote.Row) (remote.Row, error) {
	remote.StampServerFields(table, row, b.clock())
	key, err := remote.KeyOf(table, row)
	if err != nil {
		return nil, err
	}
	stored, data, err := roundTrip(row)
	if err != nil {
		return nil, err
	}
	ok, err := b.client.HSetNX(ctx, b.rowsKey(table), key, data).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", remote.ErrConflict, table, key)
	}
	b.publishChange(ctx, remote.Change{Table: table, Type: remote.EventInsert, New: stored})
	return stored, nil
}

func (b *Backend) Select(ctx context.Context, table remote.Table, match remote.Row) ([]remote.Row, error) {
	if _, err := remote.Columns(table); err != nil {
		return nil, err
	}
	raw, err := b.client.HGetAll(ctx, b.rowsKey(table)).Result()
	if err != nil {
		return nil, err
	}
	rows := make([]remote.Row, 0, len(raw))
	for key, data := range raw {
		var row remote.Row
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			b.log.Warn().Err(err).Str("table", string(table)).Str("key", key).Msg("skipping undecodable row")
			continue
		}
		if remote.Matches(row, match) {
			rows = append(rows, row)
		}
	}
	remote.SortRows(table, rows)
	return rows, nil
}

func (b *Backend) Clear(ctx context.Context, table remote.Table) error {
	old, err := b.Select(ctx, table, nil)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.rowsKey(table))
	if table == remote.TableParticipants {
		pipe.Del(ctx, b.nicknameKey())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	for _, row := range old {
		b.publishChange(ctx, remote.Change{Table: table, Type: remote.EventDelete, Old: row})
	}
	return nil
}

func (b *Backend) Changes(ctx context.Context) (<-chan remote.Change, error) {
	return subscribe[remote.Change](ctx, b, b.prefix+":changes")
}

func (b *Backend) Broadcasts(ctx context.Context) (<-chan remote.Broadcast, error) {
	return subscribe[remote.Broadcast](ctx, b, b.prefix+":broadcast")
}

func (b *Backend) Publish(ctx context.Context, msg remote.Broadcast) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.prefix+":broadcast", data).Err()
}

func (b *Backend) Close() error {
	return b.client.Close()
}

// claimNickname keeps the nickname index in step with the participant row. A nickname
// held by another active user yields remote.ErrConflict.
func (b *Backend) claimNickname(ctx context.Context, row, old remote.Row) error {
	nickname, _ := row["nickname"].(string)
	userID := fmt.Sprint(row["user_id"])
	active, _ := row["is_active"].(bool)

	if old != nil {
		if prev, _ := old["nickname"].(string); prev != "" && (prev != nickname || !active) {
			b.release(ctx, prev, userID)
		}
	}
	if nickname == "" || !active {
		return nil
	}

	claimed, err := b.client.HSetNX(ctx, b.nicknameKey(), nickname, userID).Result()
	if err != nil {
		return err
	}
	if claimed {
		return nil
	}
	owner, err := b.client.HGet(ctx, b.nicknameKey(), nickname).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if owner != userID {
		return fmt.Errorf("%w: nickname %q", remote.ErrConflict, nickname)
	}
	return nil
}

func (b *Backend) release(ctx context.Context, nickname, userID string) {
	owner, err := b.client.HGet(ctx, b.nicknameKey(), nickname).Result()
	if err != nil || owner != userID {
		return
	}
	_ = b.client.HDel(ctx, b.nicknameKey(), nickname).Err()
}

func (b *Backend) get(ctx context.Context, table remote.Table, key string) (remote.Row, error) {
	data, err := b.client.HGet(ctx, b.rowsKey(table), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var row remote.Row
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return nil, nil
	}
	return row, nil
}

// publishChange is best-effort: the row is already stored and pollers will see it.
func (b *Backend) publishChange(ctx context.Context, c remote.Change) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := b.client.Publish(ctx, b.prefix+":changes", data).Err(); err != nil {
		b.log.Warn().Err(err).Str("table", string(c.Table)).Msg("publish change failed")
	}
}

func (b *Backend) rowsKey(table remote.Table) string {
	return b.prefix + ":table:" + string(table)
}

func (b *Backend) nicknameKey() string {
	return b.prefix + ":participants:nicknames"
}

func subscribe[T any](ctx context.Context, b *Backend, channel string) (<-chan T, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan T, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var v T
				if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
					b.log.Warn().Err(err).Str("channel", channel).Msg("dropping undecodable message")
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// roundTrip returns the row as readers will see it (JSON numbers as float64) and its encoding.
func roundTrip(row remote.Row) (remote.Row, []byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, nil, err
	}
	var stored remote.Row
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, nil, err
	}
	return stored, data, nil
}
