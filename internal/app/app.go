// Package app 按配置装配候选人服务的全部组件。
package app

import (
	"context"
	"fmt"
	"time"

	"ai-ats-go/internal/api/handler"
	"ai-ats-go/internal/candidate"
	"ai-ats-go/internal/config"
	"ai-ats-go/internal/embedding"
	"ai-ats-go/internal/extraction"
	"ai-ats-go/internal/llm"
	"ai-ats-go/internal/logger"
	"ai-ats-go/internal/outbox"
	"ai-ats-go/internal/parser"
	"ai-ats-go/internal/processor"
	"ai-ats-go/internal/storage"
)

// Version 服务版本
const Version = "1.0.0"

// Application 装配完成的应用
type Application struct {
	Config   *config.Config
	Registry *llm.Registry
	Storage  *storage.Storage
	Store    *candidate.Store
	Service  *processor.CandidateService
	Handler  *handler.CandidateHandler
	// Relay 启用发件箱时不为 nil
	Relay *outbox.Relay
}

// New 依次初始化模型注册表、文本提取、嵌入引擎、存储和业务服务。
// 嵌入模型和向量索引不可用时返回错误
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	log := logger.Component("app")

	registry := llm.NewRegistry(ctx, cfg.Providers, logger.Component("llm"), nil)
	log.Info().Int("providers", registry.Len()).Msg("模型注册表初始化完成")

	textExtractor, err := parser.NewPDFTextExtractor(ctx, parser.WithLogger(logger.Component("pdf")))
	if err != nil {
		return nil, fmt.Errorf("创建PDF提取器失败: %w", err)
	}

	embedder, err := embedding.NewCompatEmbedder(cfg.Embedding, logger.Component("embedder"))
	if err != nil {
		return nil, fmt.Errorf("创建嵌入器失败: %w", err)
	}

	// 查询向量缓存依赖 Redis，维度探测之前先连上
	var cacheOpts []embedding.EngineOption
	var redis *storage.Redis
	if cfg.Redis.Enabled {
		redis, err = storage.NewRedisAdapter(ctx, &cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis不可用，查询向量不做缓存")
			redis = nil
		} else {
			cacheOpts = append(cacheOpts, embedding.WithCache(redis, time.Duration(cfg.Embedding.CacheTTLHours)*time.Hour))
		}
	}
	engineOpts := append([]embedding.EngineOption{
		embedding.WithModelVersion(embedder.Model()),
		embedding.WithEngineLogger(logger.Component("embedding")),
	}, cacheOpts...)
	engine, err := embedding.NewEngine(ctx, embedder, engineOpts...)
	if err != nil {
		closeRedis(redis)
		return nil, fmt.Errorf("初始化嵌入引擎失败: %w", err)
	}
	log.Info().Str("model", engine.ModelVersion()).Int("dimension", engine.Dimension()).Msg("嵌入引擎初始化完成")

	storageCfg := *cfg
	storageCfg.Redis.Enabled = false
	stores, err := storage.NewStorage(ctx, &storageCfg, engine.Dimension(), logger.Component("storage"))
	if err != nil {
		closeRedis(redis)
		return nil, err
	}
	stores.Redis = redis

	store, err := newCandidateStore(cfg, stores)
	if err != nil {
		stores.Close()
		return nil, err
	}

	components := processor.Components{
		TextExtractor: textExtractor,
		Models:        registry,
		Extractor: extraction.NewEngine(registry,
			extraction.WithMaxInputChars(cfg.Runtime.MaxInputChars),
			extraction.WithLogger(logger.Component("extraction"))),
		Embedder: engine,
		Store:    store,
	}
	var relay *outbox.Relay
	switch {
	case stores.RabbitMQ != nil && stores.MySQL != nil && cfg.RabbitMQ.UseOutbox:
		components.Events = outbox.NewWriter(stores.MySQL, stores.RabbitMQ.Exchange(), stores.RabbitMQ.RoutingKey)
		relay = outbox.NewRelay(stores.MySQL, stores.RabbitMQ,
			outbox.WithPollingInterval(time.Duration(cfg.RabbitMQ.OutboxPollSeconds)*time.Second),
			outbox.WithBatchSize(cfg.RabbitMQ.OutboxBatchSize),
			outbox.WithRelayLogger(logger.Component("outbox")))
		log.Info().Msg("候选人事件经发件箱发布")
	case stores.RabbitMQ != nil:
		if cfg.RabbitMQ.UseOutbox {
			log.Warn().Msg("发件箱需要MySQL，改为直接发布候选人事件")
		}
		components.Events = stores.RabbitMQ
	}

	service, err := processor.NewCandidateService(components,
		processor.WithServiceLogger(logger.Component("processor")),
		processor.WithMinTextChars(cfg.Runtime.MinTextChars),
		processor.WithDefaultTopK(cfg.Runtime.DefaultTopK))
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("创建候选人服务失败: %w", err)
	}

	return &Application{
		Config:   cfg,
		Registry: registry,
		Storage:  stores,
		Store:    store,
		Service:  service,
		Handler:  handler.NewCandidateHandler(service, registry, cfg.Server.ServiceName, Version, logger.Component("handler")),
		Relay:    relay,
	}, nil
}

// newCandidateStore 按配置选择向量索引、档案存储和归档
func newCandidateStore(cfg *config.Config, s *storage.Storage) (*candidate.Store, error) {
	var index candidate.VectorIndex
	switch {
	case s.Qdrant != nil:
		index = s.Qdrant
	case s.MemoryIndex != nil:
		index = s.MemoryIndex
	default:
		return nil, fmt.Errorf("没有可用的向量索引")
	}

	opts := []candidate.StoreOption{candidate.WithStoreLogger(logger.Component("candidate"))}
	switch {
	case cfg.ProfileStore.Backend == config.BackendMySQL && s.MySQL != nil:
		opts = append(opts, candidate.WithProfileStore(s.MySQL))
	case cfg.ProfileStore.Backend == config.BackendMinIO && s.MinIO != nil:
		opts = append(opts, candidate.WithProfileStore(s.MinIO))
	case s.MemoryProfiles != nil:
		opts = append(opts, candidate.WithProfileStore(s.MemoryProfiles))
	default:
		logger.Warn().Str("backend", cfg.ProfileStore.Backend).Msg("档案存储不可用，只保留索引元数据")
	}

	switch {
	case s.MinIO != nil:
		opts = append(opts, candidate.WithArchive(s.MinIO))
	case s.MemoryArchive != nil:
		opts = append(opts, candidate.WithArchive(s.MemoryArchive))
	}
	return candidate.NewStore(index, opts...)
}

func closeRedis(r *storage.Redis) {
	if r != nil {
		_ = r.Close()
	}
}

// Start 启动后台任务
func (a *Application) Start(ctx context.Context) {
	if a.Relay != nil {
		a.Relay.Start(ctx)
	}
}

// Close 停止后台任务，释放存储连接和模型客户端
func (a *Application) Close() {
	if a.Relay != nil {
		a.Relay.Stop()
	}
	if a.Storage != nil {
		a.Storage.Close()
	}
	if a.Registry != nil {
		_ = a.Registry.Close()
	}
}
