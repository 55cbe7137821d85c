package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644), "无法写入临时配置文件")
	return configPath
}

// TestLoadConfigProvidersInOrder 验证提供方按配置顺序加载，并补全默认值
func TestLoadConfigProvidersInOrder(t *testing.T) {
	configPath := writeTempConfig(t, `
runtime:
  max_input_chars: 2000
providers:
  - name: gpt4all
    enabled: true
    base_url: "http://localhost:4891/v1"
    models:
      - id: "Meta-Llama-3-8B-Instruct.Q4_0.gguf"
        max_tokens: 600
  - name: OpenAI
    enabled: true
    api_key: "sk-test"
    models:
      - id: "gpt-4o"
embedding:
  model: "text-embedding-3-small"
`)

	config, err := LoadConfig(configPath)
	require.NoError(t, err, "加载配置不应返回错误")
	require.Len(t, config.Providers, 2, "应当只保留配置文件中的提供方")

	assert.Equal(t, ProviderGPT4All, config.Providers[0].Name)
	assert.Equal(t, ProviderOpenAI, config.Providers[1].Name, "提供方名称应被转换为小写")
	assert.Equal(t, 600, config.Providers[0].Models[0].MaxTokens)
	assert.Equal(t, 1000, config.Providers[1].Models[0].MaxTokens, "未配置 max_tokens 时应使用默认值")
	assert.Equal(t, 2000, config.Runtime.MaxInputChars)
	assert.Equal(t, 50, config.Runtime.MinTextChars)
	assert.Equal(t, ":8000", config.Server.Address)
}

// TestLoadConfigEnvOverride 验证环境变量覆盖 APIKey
func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("ATS_TEST_GEMINI_KEY", "gemini-from-env")
	t.Setenv("ATS_SERVER_ADDRESS", ":9999")

	configPath := writeTempConfig(t, `
providers:
  - name: gemini
    enabled: true
    api_key_env: ATS_TEST_GEMINI_KEY
    models:
      - id: gemini-1.5-flash
embedding:
  model: "text-embedding-3-small"
`)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	p, ok := config.Provider(ProviderGemini)
	require.True(t, ok, "应能按名称找到 gemini")
	assert.Equal(t, "gemini-from-env", p.APIKey)
	assert.Equal(t, ":9999", config.Server.Address)
}

// TestLoadConfigRejectsUnknownProvider 验证未知提供方被拒绝
func TestLoadConfigRejectsUnknownProvider(t *testing.T) {
	configPath := writeTempConfig(t, `
providers:
  - name: claude
    enabled: true
    models:
      - id: x
`)

	_, err := LoadConfig(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未知的模型提供方")
}

// TestLoadConfigRejectsEnabledProviderWithoutModels 已启用但无模型的提供方是配置错误
func TestLoadConfigRejectsEnabledProviderWithoutModels(t *testing.T) {
	configPath := writeTempConfig(t, `
providers:
  - name: openai
    enabled: true
`)

	_, err := LoadConfig(configPath)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "配置文件不存在")
}

func TestDefaultProvidersCatalogue(t *testing.T) {
	providers := DefaultProviders()
	require.Len(t, providers, 3)
	assert.Equal(t, ProviderOpenAI, providers[0].Name)
	assert.Equal(t, "gpt-4o", providers[0].Models[0].ID)
	assert.Equal(t, "Mistral-7B-Instruct.Q4_K_M.gguf", providers[1].Models[1].ID)
	assert.Equal(t, "gemini-2.0-pro", providers[2].Models[1].ID)
}

func TestCreateSampleConfigDoesNotOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.yaml")
	require.NoError(t, CreateSampleConfig(path))

	config, err := LoadConfig(path)
	require.NoError(t, err, "示例配置应能被重新加载")
	assert.Len(t, config.Providers, 3)

	assert.Error(t, CreateSampleConfig(path), "已存在的文件不应被覆盖")
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, GetDuration("3s", time.Second))
	assert.Equal(t, time.Second, GetDuration("", time.Second))
	assert.Equal(t, time.Second, GetDuration("abc", time.Second))
}
