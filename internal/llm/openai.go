package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-ats-go/internal/config"
	"ai-ats-go/internal/tracing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var llmTracer = otel.Tracer("ai-ats-go/llm")

// OpenAIProvider 通过官方 SDK 调用 OpenAI 或兼容网关
type OpenAIProvider struct {
	client      *openai.Client
	models      []string
	temperature float64
	logger      zerolog.Logger
}

// NewOpenAIProvider 创建 OpenAI 提供方，缺少 APIKey 时返回错误
func NewOpenAIProvider(cfg config.ProviderConfig, logger zerolog.Logger) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: 缺少 API Key")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("openai: 未配置模型")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	client := openai.NewClient(opts...)

	models := make([]string, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		models = append(models, m.ID)
	}

	return &OpenAIProvider{
		client:      &client,
		models:      models,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

func (p *OpenAIProvider) Name() string { return config.ProviderOpenAI }

func (p *OpenAIProvider) IsAvailable() bool { return p != nil && p.client != nil }

func (p *OpenAIProvider) ListModels() []string {
	return append([]string(nil), p.models...)
}

// Call 发送单条用户消息
func (p *OpenAIProvider) Call(ctx context.Context, prompt, modelID string, maxTokens int) (string, error) {
	ctx, span := llmTracer.Start(ctx, "OpenAIProvider.Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", p.Name()),
		attribute.String("llm.model", modelID),
		attribute.Int("llm.max_tokens", maxTokens),
	)

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
	if isReasoningModel(modelID) {
		// 推理模型只接受 max_completion_tokens，且不支持自定义温度
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	} else {
		params.MaxTokens = openai.Int(int64(maxTokens))
		params.Temperature = openai.Float(p.temperature)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", fmt.Errorf("openai 请求失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("openai 返回空结果")
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", err
	}

	p.logger.Debug().
		Str("model", modelID).
		Dur("elapsed", time.Since(start)).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Msg("openai 调用完成")
	return resp.Choices[0].Message.Content, nil
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}
