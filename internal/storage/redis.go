package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ai-ats-go/internal/config"
	"ai-ats-go/internal/embedding"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// Redis 查询向量缓存
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

var _ embedding.VectorCache = (*Redis)(nil)

var errRedisNotReady = errors.New("redis 客户端未初始化")

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// RedisOptions 由配置生成 go-redis 连接选项
func RedisOptions(cfg *config.RedisConfig) *redis.Options {
	opt := &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	opt.PoolSize, opt.MinIdleConns = cfg.PoolSize, cfg.MinIdleConns
	opt.DialTimeout = seconds(cfg.DialTimeoutSeconds)
	opt.ReadTimeout = seconds(cfg.ReadTimeoutSeconds)
	opt.WriteTimeout = seconds(cfg.WriteTimeoutSeconds)
	opt.MaxRetries = cfg.MaxRetries
	opt.MinRetryBackoff = time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond
	opt.MaxRetryBackoff = time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond
	return opt
}

// NewRedisAdapter 连接 Redis，挂上 redisotel 追踪后做一次 PING
func NewRedisAdapter(ctx context.Context, cfg *config.RedisConfig) (*Redis, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("redis 配置不能为空")
	case cfg.Address == "":
		return nil, errors.New("redis 地址不能为空")
	}

	client := redis.NewClient(RedisOptions(cfg))
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("redis 追踪埋点失败: %w", err)
	}

	r := &Redis{Client: client, config: cfg}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis %s 失败: %w", cfg.Address, err)
	}
	return r, nil
}

// Close 关闭连接
func (r *Redis) Close() error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return errRedisNotReady
	}
	return r.Client.Ping(ctx).Err()
}

// SetVector 将查询向量和模型版本存入同一个 HASH
func (r *Redis) SetVector(ctx context.Context, key string, vector []float64, modelVersion string, ttl time.Duration) error {
	if r.Client == nil {
		return errRedisNotReady
	}
	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}

	pipe := r.Client.Pipeline()
	pipe.HSet(ctx, key, "vector", vectorJSON, "model_version", modelVersion)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("设置查询向量缓存失败: %w", err)
	}
	return nil
}

// GetVector 读取查询向量，不存在时返回 embedding.ErrCacheMiss
func (r *Redis) GetVector(ctx context.Context, key string) ([]float64, string, error) {
	if r.Client == nil {
		return nil, "", errRedisNotReady
	}
	vals, err := r.Client.HMGet(ctx, key, "vector", "model_version").Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", embedding.ErrCacheMiss
	}
	if err != nil {
		return nil, "", err
	}
	return decodeVectorFields(vals)
}

// decodeVectorFields 解析 HMGet 返回的 vector 与 model_version
func decodeVectorFields(vals []interface{}) ([]float64, string, error) {
	if len(vals) < 2 || vals[0] == nil {
		return nil, "", embedding.ErrCacheMiss
	}
	vectorJSON, ok := vals[0].(string)
	if !ok || vectorJSON == "" {
		return nil, "", fmt.Errorf("向量缓存格式错误")
	}
	var vector []float64
	if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
		return nil, "", fmt.Errorf("反序列化向量失败: %w", err)
	}
	modelVersion, _ := vals[1].(string)
	return vector, modelVersion, nil
}
