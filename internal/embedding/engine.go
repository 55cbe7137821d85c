// Package embedding 负责文本向量化以及档案语义文本的生成。
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-ats-go/internal/constants"
	"ai-ats-go/internal/tracing"
	"ai-ats-go/internal/types"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var embeddingTracer = otel.Tracer("ai-ats-go/embedding")

// ErrEmbeddingModelUnavailable 启动时无法使用嵌入模型
var ErrEmbeddingModelUnavailable = errors.New("嵌入模型不可用")

// ErrDimensionMismatch 返回的向量维度与启动时确定的维度不一致
var ErrDimensionMismatch = errors.New("向量维度不一致")

// probeText 启动探测使用的文本
const probeText = "dimension probe"

// VectorCache 查询向量缓存
type VectorCache interface {
	GetVector(ctx context.Context, key string) (vector []float64, modelVersion string, err error)
	SetVector(ctx context.Context, key string, vector []float64, modelVersion string, ttl time.Duration) error
}

// Engine 包装嵌入模型，维度在创建时固定
type Engine struct {
	embedder  einoembedding.Embedder
	model     string
	dimension int
	cache     VectorCache
	cacheTTL  time.Duration
	logger    zerolog.Logger
}

// EngineOption 配置 Engine
type EngineOption func(*Engine)

// WithCache 为查询向量启用缓存
func WithCache(cache VectorCache, ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.cache = cache
		e.cacheTTL = ttl
	}
}

// WithModelVersion 设置缓存使用的模型版本
func WithModelVersion(model string) EngineOption {
	return func(e *Engine) {
		e.model = model
	}
}

// WithEngineLogger 设置日志
func WithEngineLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine 创建向量化引擎，会调用一次嵌入模型以确定维度
func NewEngine(ctx context.Context, embedder einoembedding.Embedder, opts ...EngineOption) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: 未配置嵌入模型", ErrEmbeddingModelUnavailable)
	}
	e := &Engine{
		embedder: embedder,
		cacheTTL: 24 * time.Hour,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.model == "" {
		if named, ok := embedder.(interface{ Model() string }); ok {
			e.model = named.Model()
		}
	}

	vectors, err := embedder.EmbedStrings(ctx, []string{probeText})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingModelUnavailable, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: 探测返回空向量", ErrEmbeddingModelUnavailable)
	}
	e.dimension = len(vectors[0])
	e.logger.Info().Str("model", e.model).Int("dimension", e.dimension).Msg("嵌入模型已就绪")
	return e, nil
}

// Dimension 向量维度
func (e *Engine) Dimension() int {
	return e.dimension
}

// ModelVersion 嵌入模型版本
func (e *Engine) ModelVersion() string {
	return e.model
}

// Embed 将文本转换为固定维度的向量
func (e *Engine) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, span := embeddingTracer.Start(ctx, "Engine.Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("embedding.text_length", len(text)))

	vectors, err := e.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, fmt.Errorf("文本向量化失败: %w", err)
	}
	if len(vectors) != 1 {
		err := fmt.Errorf("文本向量化失败: 期望 1 个向量，实际 %d 个", len(vectors))
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}
	if len(vectors[0]) != e.dimension {
		err := fmt.Errorf("%w: 期望 %d，实际 %d", ErrDimensionMismatch, e.dimension, len(vectors[0]))
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}
	return vectors[0], nil
}

// EmbedQuery 与 Embed 相同，但会使用查询缓存；缓存出错只记录日志
func (e *Engine) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if e.cache == nil {
		return e.Embed(ctx, text)
	}
	key := CacheKey(e.model, text)

	cached, version, err := e.cache.GetVector(ctx, key)
	if err == nil && version == e.model && len(cached) == e.dimension {
		e.logger.Debug().Str("key", tracing.SafeRedisKey(key)).Msg("查询向量缓存命中")
		return cached, nil
	}
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		e.logger.Warn().Err(err).Msg("读取查询向量缓存失败")
	}

	vector, err := e.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.SetVector(ctx, key, vector, e.model, e.cacheTTL); err != nil {
		e.logger.Warn().Err(err).Msg("写入查询向量缓存失败")
	}
	return vector, nil
}

// ErrCacheMiss 缓存未命中，缓存实现应返回或包装该错误
var ErrCacheMiss = errors.New("缓存未命中")

// CacheKey 根据模型和文本生成缓存键
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return fmt.Sprintf(constants.KeyQueryVector, hex.EncodeToString(sum[:]))
}

// SemanticText 生成用于向量化的档案摘要
func SemanticText(p types.CandidateProfile) string {
	role := strings.TrimSpace(types.Str(p.Role))
	if role == "" {
		role = "N/A"
	}

	var education []string
	for _, edu := range p.Education {
		var parts []string
		for _, s := range []*string{edu.School, edu.Degree, edu.Major} {
			if v := strings.TrimSpace(types.Str(s)); v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			education = append(education, strings.Join(parts, " "))
		}
	}

	return strings.Join([]string{
		"Role: " + role,
		"Skills: " + strings.Join(p.Skills, ", "),
		fmt.Sprintf("Experience: %d years", p.YearsExp),
		"Education: " + strings.Join(education, "; "),
	}, ". ")
}
