package inflight

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "visitdesk:inflight:"
	connectTimeout = 5 * time.Second
	releaseTimeout = 2 * time.Second
)

// releaseScript は自分が取得したトークンと一致する場合のみキーを削除する。
// TTL失効後に別の保持者が取得したキーを誤って消さないようにする。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig はRedis接続設定。
type RedisConfig struct {
	Addr string
	DB   int
}

// Connect はRedisクライアントを生成し、Pingで疎通を確認する。
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// RedisGuard は複数のAPIレプリカ間で共有されるガード。
// SET NX でキーを取得し、TTLで自動失効させる。
type RedisGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisGuard はRedisGuardを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewRedisGuard(client redis.Cmdable, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{client: client, ttl: ttl}
}

// TryAcquire はキーの取得を試みる。
func (g *RedisGuard) TryAcquire(ctx context.Context, key string) (ReleaseFunc, bool, error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire inflight key: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 呼び出し元のコンテキストがキャンセル済みでも解放できるよう独立したコンテキストを使う
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(rctx, g.client, []string{redisKey}, token).Err(); err != nil {
				slog.Warn("インフライトキーの解放に失敗",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}, true, nil
}

var _ Guard = (*RedisGuard)(nil)
