package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-ats-go/internal/app"
	"ai-ats-go/internal/config"
	"ai-ats-go/internal/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmbeddingServer 模拟 /v1/embeddings，每段输入返回固定的三维向量
func newEmbeddingServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"unavailable","type":"server_error"}}`))
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := make([]map[string]interface{}, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]interface{}{"index": i, "embedding": []float64{0.1, 0.2, 0.3}}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data, "model": "test-embed"})
	}))
	t.Cleanup(server.Close)
	return server
}

func memoryConfig(embeddingURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Server.ServiceName = "AI-Powered ATS"
	cfg.Runtime.MaxInputChars = 3000
	cfg.Runtime.MinTextChars = 50
	cfg.Runtime.DefaultTopK = 5
	cfg.Embedding.Model = "test-embed"
	cfg.Embedding.BaseURL = embeddingURL + "/v1"
	cfg.Embedding.CacheTTLHours = 1
	cfg.Index.Backend = config.BackendMemory
	cfg.Index.Qdrant.Collection = "candidates"
	cfg.ProfileStore.Backend = config.BackendMemory
	return cfg
}

// TestNew_MemoryBackends 测试全内存配置下的装配
func TestNew_MemoryBackends(t *testing.T) {
	server := newEmbeddingServer(t, http.StatusOK)

	application, err := app.New(context.Background(), memoryConfig(server.URL))
	require.NoError(t, err, "内存后端应装配成功")
	defer application.Close()

	require.NotNil(t, application.Storage.MemoryIndex)
	assert.Nil(t, application.Storage.Qdrant)
	assert.Nil(t, application.Storage.RabbitMQ, "未启用时不应创建事件发布")
	assert.Equal(t, 0, application.Registry.Len(), "未配置提供方")
	assert.True(t, application.Store.HasArchive())

	stats, err := application.Service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalCandidates)
	assert.Equal(t, "candidates", stats.CollectionName)
}

// TestNew_EmbeddingUnavailable 测试嵌入模型不可用时启动失败
func TestNew_EmbeddingUnavailable(t *testing.T) {
	server := newEmbeddingServer(t, http.StatusServiceUnavailable)

	_, err := app.New(context.Background(), memoryConfig(server.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingModelUnavailable)
}

// TestNew_MissingEmbeddingModel 测试缺少嵌入模型配置
func TestNew_MissingEmbeddingModel(t *testing.T) {
	cfg := memoryConfig("http://127.0.0.1:1")
	cfg.Embedding.Model = ""

	_, err := app.New(context.Background(), cfg)
	assert.Error(t, err)
}

// TestNew_NilConfig 测试空配置
func TestNew_NilConfig(t *testing.T) {
	_, err := app.New(context.Background(), nil)
	assert.Error(t, err)
}
