package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ai-ats-go/internal/config"
	"ai-ats-go/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// localProbeTimeout 启动时探测本地服务的超时
const localProbeTimeout = 3 * time.Second

// LocalProvider 本地模型提供方，底层可以是任意 eino ChatModel
type LocalProvider struct {
	chat        model.BaseChatModel
	models      []string
	temperature float32
	logger      zerolog.Logger
}

// NewLocalProvider 连接本地 OpenAI 兼容服务，并确认配置的模型已经加载
func NewLocalProvider(ctx context.Context, cfg config.ProviderConfig, logger zerolog.Logger) (*LocalProvider, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("gpt4all: 未配置模型")
	}
	compat, err := NewCompatChatModel(cfg.BaseURL, cfg.Models[0].ID,
		WithCompatAPIKey(cfg.APIKey),
		WithCompatHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("gpt4all: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, localProbeTimeout)
	defer cancel()
	served, err := compat.ListModels(probeCtx)
	if err != nil {
		return nil, fmt.Errorf("gpt4all: 本地模型服务不可达: %w", err)
	}

	// 只保留服务端实际可用的模型
	var models []string
	for _, m := range cfg.Models {
		if matchServedModel(served, m.ID) {
			models = append(models, m.ID)
		} else {
			logger.Warn().Str("model", m.ID).Str("device", m.Device).Msg("本地服务未加载该模型，跳过")
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("gpt4all: 配置的模型均未加载")
	}

	return NewLocalProviderWithModel(compat, models, float32(cfg.Temperature), logger), nil
}

// NewLocalProviderWithModel 使用已有的 ChatModel 构造本地提供方
func NewLocalProviderWithModel(chat model.BaseChatModel, models []string, temperature float32, logger zerolog.Logger) *LocalProvider {
	return &LocalProvider{
		chat:        chat,
		models:      append([]string(nil), models...),
		temperature: temperature,
		logger:      logger,
	}
}

func (p *LocalProvider) Name() string { return config.ProviderGPT4All }

func (p *LocalProvider) IsAvailable() bool { return p != nil && p.chat != nil }

func (p *LocalProvider) ListModels() []string {
	return append([]string(nil), p.models...)
}

// Call 调用本地模型
func (p *LocalProvider) Call(ctx context.Context, prompt, modelID string, maxTokens int) (string, error) {
	ctx, span := llmTracer.Start(ctx, "LocalProvider.Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", p.Name()),
		attribute.String("llm.model", modelID),
		attribute.Int("llm.max_tokens", maxTokens),
	)

	start := time.Now()
	msg, err := p.chat.Generate(ctx,
		[]*schema.Message{schema.UserMessage(prompt)},
		model.WithModel(modelID),
		model.WithMaxTokens(maxTokens),
		model.WithTemperature(p.temperature),
	)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", fmt.Errorf("本地模型调用失败: %w", err)
	}
	p.logger.Debug().Str("model", modelID).Dur("elapsed", time.Since(start)).Msg("本地模型调用完成")
	return msg.Content, nil
}
