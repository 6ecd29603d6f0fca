package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/memebox/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
)

// RedisSessionStore はRedisを使用したセッションストア。
// セッション本体は"session:<key>"にTTL付きで保存し、
// ユーザー単位の一括削除のために"user_sessions:<userID>"セットでキーを管理する。
type RedisSessionStore struct {
	rdb redis.Cmdable
	now func() time.Time
}

// NewRedisSessionStore はRedisSessionStoreを生成する。
func NewRedisSessionStore(rdb redis.Cmdable) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, now: time.Now}
}

type redisSession struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Create はセッションを作成する。有効期限を過ぎたセッションは保存しない。
func (s *RedisSessionStore) Create(ctx context.Context, key string, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(redisSession{
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	userKey := userSessionKeyPrefix + session.UserID
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+key, payload, ttl)
		pipe.SAdd(ctx, userKey, key)
		// セッションの有効期間は一律のため、最新セッションのTTLで上書きしてよい
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByKey は指定キーのセッションを取得する。期限切れまたは存在しない場合はnilを返す。
func (s *RedisSessionStore) FindByKey(ctx context.Context, key string) (*model.Session, error) {
	payload, err := s.rdb.Get(ctx, sessionKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rs redisSession
	if err := json.Unmarshal(payload, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	session := &model.Session{
		UserID:    rs.UserID,
		ExpiresAt: rs.ExpiresAt,
		CreatedAt: rs.CreatedAt,
	}
	if session.Expired(s.now()) {
		return nil, nil
	}
	return session, nil
}

// DeleteByKey は指定キーのセッションを削除する。
func (s *RedisSessionStore) DeleteByKey(ctx context.Context, key string) error {
	payload, err := s.rdb.Get(ctx, sessionKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	// 壊れた値でもセッション本体は削除する。user_sessionsのメンバーはDeleteByUserIDで掃除される
	var rs redisSession
	if err := json.Unmarshal(payload, &rs); err != nil {
		slog.Warn("failed to decode session on delete",
			slog.String("error", err.Error()),
		)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKeyPrefix+key)
		if rs.UserID != "" {
			pipe.SRem(ctx, userSessionKeyPrefix+rs.UserID, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (s *RedisSessionStore) DeleteByUserID(ctx context.Context, userID string) error {
	userKey := userSessionKeyPrefix + userID
	keys, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Del(ctx, sessionKeyPrefix+k)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionStore = (*RedisSessionStore)(nil)

// PingContext はRedisへの疎通を確認する。ヘルスチェックで使用する。
func (s *RedisSessionStore) PingContext(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
