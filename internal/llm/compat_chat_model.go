package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// CompatChatModel 实现 eino 的 model.BaseChatModel，
// 对接 GPT4All、llama.cpp、Ollama 等提供 OpenAI 兼容接口的本地服务。
type CompatChatModel struct {
	baseURL    string
	apiKey     string
	modelName  string
	httpClient *http.Client
}

// CompatOption 配置 CompatChatModel
type CompatOption func(*CompatChatModel)

// WithCompatHTTPClient 替换 HTTP 客户端
func WithCompatHTTPClient(client *http.Client) CompatOption {
	return func(c *CompatChatModel) {
		c.httpClient = client
	}
}

// WithCompatAPIKey 设置 Bearer Token，本地服务通常不需要
func WithCompatAPIKey(key string) CompatOption {
	return func(c *CompatChatModel) {
		c.apiKey = key
	}
}

// NewCompatChatModel 创建兼容模型，baseURL 形如 http://localhost:4891/v1
func NewCompatChatModel(baseURL, defaultModel string, opts ...CompatOption) (*CompatChatModel, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("base_url 不能为空")
	}
	c := &CompatChatModel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		modelName:  defaultModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatChatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float32        `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type compatChatResponse struct {
	Choices []struct {
		Message compatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type compatModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Generate 实现 model.BaseChatModel 接口
func (c *CompatChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &c.modelName}, opts...)

	req := compatChatRequest{
		MaxTokens:   options.MaxTokens,
		Temperature: options.Temperature,
		Stop:        options.Stop,
	}
	if options.Model != nil {
		req.Model = *options.Model
	}
	for _, msg := range input {
		if msg == nil {
			continue
		}
		req.Messages = append(req.Messages, compatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	var resp compatChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("本地模型返回错误: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("本地模型返回空选项")
	}
	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

// Stream 实现 model.BaseChatModel 接口，以单个分片返回完整结果
func (c *CompatChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := c.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// ListModels 查询服务端已加载的模型
func (c *CompatChatModel) ListModels(ctx context.Context) ([]string, error) {
	var list compatModelList
	if err := c.do(ctx, http.MethodGet, "/models", nil, &list); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *CompatChatModel) do(ctx context.Context, method, path string, body []byte, result interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API 请求失败，状态 %s: %s", resp.Status, string(data))
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	return nil
}
