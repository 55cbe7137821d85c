// Package storage 汇集候选人数据依赖的外部存储：向量索引、档案存储、原始文件归档、查询缓存和事件队列。
package storage

import (
	"context"
	"fmt"
	"strings"

	"ai-ats-go/internal/config"

	"github.com/rs/zerolog"
)

// Storage 存储管理器，聚合所有存储相关依赖，未启用或初始化失败的组件为 nil
type Storage struct {
	// 向量索引，二选一
	Qdrant      *Qdrant
	MemoryIndex *MemoryIndex

	// 档案存储与原始文件归档
	MinIO          *MinIO
	MySQL          *MySQL
	MemoryProfiles *MemoryProfileStore
	MemoryArchive  *MemoryArchive

	// 查询向量缓存
	Redis *Redis

	// 候选人事件
	RabbitMQ *RabbitMQ

	// InitErrors 可选组件的初始化错误
	InitErrors []string

	logger zerolog.Logger
}

// NewStorage 按配置初始化存储组件。向量索引失败时返回错误，其余组件失败只记录日志
func NewStorage(ctx context.Context, cfg *config.Config, dimension int, logger zerolog.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	s := &Storage{logger: logger}
	var err error

	switch cfg.Index.Backend {
	case config.BackendMemory:
		s.MemoryIndex = NewMemoryIndex(cfg.Index.Qdrant.Collection, dimension)
		logger.Info().Str("collection", cfg.Index.Qdrant.Collection).Msg("使用内存向量索引")
	default:
		s.Qdrant, err = NewQdrant(ctx, &cfg.Index.Qdrant, dimension,
			WithQdrantLogger(logger.With().Str("component", "qdrant").Logger()))
		if err != nil {
			return nil, fmt.Errorf("初始化Qdrant失败: %w", err)
		}
	}

	needMinIO := cfg.MinIO.Enabled || cfg.ProfileStore.Backend == config.BackendMinIO
	if needMinIO && cfg.MinIO.Endpoint != "" {
		s.MinIO, err = NewMinIO(ctx, &cfg.MinIO, logger.With().Str("component", "minio").Logger())
		s.record("MinIO", err)
	}

	if cfg.MySQL.Enabled || cfg.ProfileStore.Backend == config.BackendMySQL {
		s.MySQL, err = NewMySQL(&cfg.MySQL, logger.With().Str("component", "mysql").Logger())
		s.record("MySQL", err)
	}

	if cfg.ProfileStore.Backend == config.BackendMemory {
		s.MemoryProfiles = NewMemoryProfileStore()
	}
	if s.MinIO == nil {
		s.MemoryArchive = NewMemoryArchive()
	}

	if cfg.Redis.Enabled {
		s.Redis, err = NewRedisAdapter(ctx, &cfg.Redis)
		s.record("Redis", err)
	}

	if cfg.RabbitMQ.Enabled {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, logger.With().Str("component", "rabbitmq").Logger())
		s.record("RabbitMQ", err)
	}

	if len(s.InitErrors) > 0 {
		logger.Warn().Str("errors", strings.Join(s.InitErrors, "; ")).Msg("部分存储组件初始化失败")
	}
	return s, nil
}

func (s *Storage) record(name string, err error) {
	if err == nil {
		s.logger.Info().Str("component", name).Msg("存储组件初始化成功")
		return
	}
	s.logger.Warn().Err(err).Str("component", name).Msg("存储组件初始化失败")
	s.InitErrors = append(s.InitErrors, fmt.Sprintf("%s: %v", name, err))
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
