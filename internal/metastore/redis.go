package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"voip-callkit/internal/calls"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions in one hash (field = call id) and the two
// scalars in plain string keys, all under a common prefix.
type RedisStore struct {
	handle
	client    redis.UniversalClient
	keyPrefix string
	log       *slog.Logger
}

type RedisConfig struct {
	// Client is required.
	Client redis.UniversalClient

	// KeyPrefix defaults to "callkit:".
	KeyPrefix string

	Logger *slog.Logger
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("metastore: redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "callkit:"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisStore{client: cfg.Client, keyPrefix: cfg.KeyPrefix, log: cfg.Logger}, nil
}

var deleteSessionScript = redis.NewScript(`
-- KEYS[1] = sessions hash
-- KEYS[2] = current call pointer
-- ARGV[1] = call id
--
-- Returns the number of session fields removed (0 or 1).
local removed = redis.call('HDEL', KEYS[1], ARGV[1])
if redis.call('GET', KEYS[2]) == ARGV[1] then
  redis.call('DEL', KEYS[2])
end
return removed
`)

func (s *RedisStore) SaveSession(ctx context.Context, sess calls.CallSession) error {
	if err := s.usable(); err != nil {
		return err
	}
	data, err := EncodeSession(sess)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.sessionsKey(), sess.ID, data).Err(); err != nil {
		return fmt.Errorf("metastore: save %s: %w", sess.ID, err)
	}
	return nil
}

func (s *RedisStore) LoadSession(ctx context.Context, id string) (calls.CallSession, bool, error) {
	if err := s.usable(); err != nil {
		return calls.CallSession{}, false, err
	}
	data, err := s.client.HGet(ctx, s.sessionsKey(), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return calls.CallSession{}, false, nil
		}
		return calls.CallSession{}, false, fmt.Errorf("metastore: load %s: %w", id, err)
	}
	sess, err := DecodeSession(data)
	if err != nil {
		logMalformed(s.log, id, err)
		return calls.CallSession{}, false, nil
	}
	return sess, true, nil
}

func (s *RedisStore) ListSessions(ctx context.Context) ([]calls.CallSession, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	all, err := s.client.HGetAll(ctx, s.sessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("metastore: list sessions: %w", err)
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]calls.CallSession, 0, len(ids))
	for _, id := range ids {
		sess, err := DecodeSession([]byte(all[id]))
		if err != nil {
			logMalformed(s.log, id, err)
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	if err := s.usable(); err != nil {
		return false, err
	}
	n, err := deleteSessionScript.Run(ctx, s.client, []string{s.sessionsKey(), s.scalarKey(keyCurrentCall)}, id).Int()
	if err != nil {
		return false, fmt.Errorf("metastore: delete %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *RedisStore) CurrentCallID(ctx context.Context) (string, bool, error) {
	return s.getScalar(ctx, keyCurrentCall)
}

func (s *RedisStore) SetCurrentCallID(ctx context.Context, id string) error {
	return s.setScalar(ctx, keyCurrentCall, id)
}

func (s *RedisStore) PushToken(ctx context.Context) (string, bool, error) {
	return s.getScalar(ctx, keyPushToken)
}

func (s *RedisStore) SetPushToken(ctx context.Context, token string) error {
	return s.setScalar(ctx, keyPushToken, token)
}

func (s *RedisStore) sessionsKey() string { return s.keyPrefix + "sessions" }

func (s *RedisStore) scalarKey(name string) string { return s.keyPrefix + name }

func (s *RedisStore) getScalar(ctx context.Context, name string) (string, bool, error) {
	if err := s.usable(); err != nil {
		return "", false, err
	}
	v, err := s.client.Get(ctx, s.scalarKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("metastore: get %s: %w", name, err)
	}
	return v, true, nil
}

func (s *RedisStore) setScalar(ctx context.Context, name, value string) error {
	if err := s.usable(); err != nil {
		return err
	}
	// No TTL: the pointer and token must outlive the process.
	if err := s.client.Set(ctx, s.scalarKey(name), value, 0).Err(); err != nil {
		return fmt.Errorf("metastore: set %s: %w", name, err)
	}
	return nil
}
