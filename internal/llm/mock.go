package llm

import (
	"context"
	"errors"
	"sync"
)

// MockResponse MockProvider 的单次预期响应
type MockResponse struct {
	Content string
	Error   error
}

// MockProvider 用于测试的提供方，按顺序返回预设响应，最后一条会被重复使用
type MockProvider struct {
	mu        sync.Mutex
	name      string
	models    []string
	available bool
	responses []MockResponse
	index     int

	Prompts []string
	Calls   []MockCall
}

// MockCall 记录一次调用
type MockCall struct {
	Model     string
	MaxTokens int
}

// NewMockProvider 创建返回固定内容的 MockProvider
func NewMockProvider(name string, models []string, responses ...MockResponse) *MockProvider {
	return &MockProvider{
		name:      name,
		models:    models,
		available: true,
		responses: responses,
	}
}

// SetAvailable 切换可用状态
func (m *MockProvider) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// CallCount 返回被调用的次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *MockProvider) ListModels() []string {
	return append([]string(nil), m.models...)
}

func (m *MockProvider) Call(ctx context.Context, prompt, modelID string, maxTokens int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	m.Calls = append(m.Calls, MockCall{Model: modelID, MaxTokens: maxTokens})

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(m.responses) == 0 {
		return "", errors.New("mock provider 未配置响应")
	}
	resp := m.responses[m.index]
	if m.index < len(m.responses)-1 {
		m.index++
	}
	if resp.Error != nil {
		return "", resp.Error
	}
	return resp.Content, nil
}
