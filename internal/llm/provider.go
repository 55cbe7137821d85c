// Package llm 管理可用的大模型提供方，并把模型提示解析为具体的 (提供方, 模型)。
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoProviderConfigured 没有任何可用的提供方
var ErrNoProviderConfigured = errors.New("没有配置可用的模型提供方")

// Provider 模型提供方的能力接口
type Provider interface {
	// Name 提供方名称，例如 openai
	Name() string
	// IsAvailable 是否已成功加载，不会返回错误
	IsAvailable() bool
	// ListModels 已配置的模型 ID，保持配置顺序
	ListModels() []string
	// Call 以单轮提示调用模型，返回原始文本
	Call(ctx context.Context, prompt, modelID string, maxTokens int) (string, error)
}

// ModelUnavailableError 请求的模型不可用
type ModelUnavailableError struct {
	Provider  string
	Model     string
	Available []string
	Reason    string
}

func (e *ModelUnavailableError) Error() string {
	available := "无"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	if e.Reason != "" {
		return fmt.Sprintf("模型 '%s' 不可用 (提供方: %s, 原因: %s)。可用模型: %s", e.Model, e.Provider, e.Reason, available)
	}
	return fmt.Sprintf("模型 '%s' 不可用 (提供方: %s)。可用模型: %s", e.Model, e.Provider, available)
}

// IsModelUnavailable 判断错误是否为模型不可用
func IsModelUnavailable(err error) bool {
	var target *ModelUnavailableError
	return errors.As(err, &target)
}

// Target 解析后的调用目标
type Target struct {
	Provider  Provider
	Model     string
	MaxTokens int
}

// String 返回 "provider:model" 形式
func (t Target) String() string {
	if t.Provider == nil {
		return t.Model
	}
	return t.Provider.Name() + ":" + t.Model
}

// Call 使用目标模型调用
func (t Target) Call(ctx context.Context, prompt string) (string, error) {
	return t.Provider.Call(ctx, prompt, t.Model, t.MaxTokens)
}

func containsModel(models []string, model string) (string, bool) {
	for _, m := range models {
		if m == model {
			return m, true
		}
	}
	return "", false
}

// matchServedModel 本地服务返回的模型名大小写可能与配置不同
func matchServedModel(served []string, model string) bool {
	for _, m := range served {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}
