package processor

import (
	"context"

	"ai-ats-go/internal/candidate"
	"ai-ats-go/internal/extraction"
	"ai-ats-go/internal/types"
)

// TextExtractor 从上传的文件中提取清洗后的纯文本，由 parser.PDFTextExtractor 实现
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, uri string) (string, error)
}

// ModelChecker 检查模型提示是否可用，由 llm.Registry 实现
type ModelChecker interface {
	IsAvailable(hint string) (bool, string)
}

// ProfileExtractor 抽取结构化档案，由 extraction.Engine 实现
type ProfileExtractor interface {
	Extract(ctx context.Context, rawText, hint string) (types.CandidateProfile, extraction.Trace)
}

// Embedder 文本向量化，由 embedding.Engine 实现
type Embedder interface {
	// Embed 档案文本向量化
	Embed(ctx context.Context, text string) ([]float64, error)
	// EmbedQuery 职位描述向量化，可以走缓存
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// EventPublisher 发布候选人生命周期事件，由 storage.RabbitMQ 实现
type EventPublisher interface {
	PublishCandidateEvent(ctx context.Context, event types.CandidateEvent) error
}

// Components 服务依赖的组件，除 Events 外均为必需
type Components struct {
	TextExtractor TextExtractor
	Models        ModelChecker
	Extractor     ProfileExtractor
	Embedder      Embedder
	Store         *candidate.Store
	Events        EventPublisher
}
