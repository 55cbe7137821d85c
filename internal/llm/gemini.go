package llm

import (
	"context"
	"fmt"
	"strings"

	"ai-ats-go/internal/config"
	"ai-ats-go/internal/tracing"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/option"
)

// GeminiProvider 通过 generative-ai-go 调用 Gemini
type GeminiProvider struct {
	client      *genai.Client
	models      []string
	temperature float32
	logger      zerolog.Logger
}

// NewGeminiProvider 创建 Gemini 提供方
func NewGeminiProvider(ctx context.Context, cfg config.ProviderConfig, logger zerolog.Logger) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: 缺少 API Key")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("gemini: 未配置模型")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: 创建客户端失败: %w", err)
	}

	models := make([]string, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		models = append(models, m.ID)
	}
	temperature := float32(cfg.Temperature)
	if temperature <= 0 {
		temperature = 0.1
	}
	return &GeminiProvider{client: client, models: models, temperature: temperature, logger: logger}, nil
}

func (p *GeminiProvider) Name() string { return config.ProviderGemini }

func (p *GeminiProvider) IsAvailable() bool { return p != nil && p.client != nil }

func (p *GeminiProvider) ListModels() []string {
	return append([]string(nil), p.models...)
}

// Call 要求模型直接输出 JSON
func (p *GeminiProvider) Call(ctx context.Context, prompt, modelID string, maxTokens int) (string, error) {
	ctx, span := llmTracer.Start(ctx, "GeminiProvider.Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", p.Name()),
		attribute.String("llm.model", modelID),
	)

	model := p.client.GenerativeModel(modelID)
	model.SetTemperature(p.temperature)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", fmt.Errorf("gemini 请求失败: %w", err)
	}
	text, err := geminiText(resp)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", err
	}
	return text, nil
}

// Close 释放底层客户端
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini 返回空结果")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", fmt.Errorf("gemini 返回内容为空")
	}
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini 返回中没有文本")
	}
	return sb.String(), nil
}
