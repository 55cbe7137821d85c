package storage_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-ats-go/internal/config"
	"ai-ats-go/internal/storage"
	"ai-ats-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant 记录请求并按路径返回固定响应
type fakeQdrant struct {
	mu         sync.Mutex
	exists     bool
	size       int
	requests   []string
	bodies     map[string]map[string]interface{}
	points     map[string]map[string]interface{}
	searchResp string
}

func newFakeQdrant(exists bool, size int) *fakeQdrant {
	return &fakeQdrant{
		exists: exists,
		size:   size,
		bodies: make(map[string]map[string]interface{}),
		points: make(map[string]map[string]interface{}),
	}
}

func (f *fakeQdrant) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := r.Method + " " + r.URL.Path
		f.requests = append(f.requests, key)

		var body map[string]interface{}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		f.bodies[key] = body

		switch {
		case key == "GET /collections/candidates":
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":` + itoa(f.size) + `,"distance":"Cosine"}}}}}`))
		case key == "PUT /collections/candidates", key == "PUT /collections/candidates/index":
			_, _ = w.Write([]byte(`{"result":true,"status":"ok"}`))
		case key == "PUT /collections/candidates/points":
			for _, p := range body["points"].([]interface{}) {
				point := p.(map[string]interface{})
				f.points[point["id"].(string)] = point["payload"].(map[string]interface{})
			}
			_, _ = w.Write([]byte(`{"result":{"operation_id":1,"status":"completed"}}`))
		case key == "POST /collections/candidates/points/search":
			_, _ = w.Write([]byte(f.searchResp))
		case strings.HasPrefix(key, "GET /collections/candidates/points/"):
			id := strings.TrimPrefix(r.URL.Path, "/collections/candidates/points/")
			payload, ok := f.points[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":{"error":"Not found: point"}}`))
				return
			}
			resp, _ := json.Marshal(map[string]interface{}{"result": map[string]interface{}{"id": id, "payload": payload}})
			_, _ = w.Write(resp)
		case key == "POST /collections/candidates/points/delete":
			for _, id := range body["points"].([]interface{}) {
				delete(f.points, id.(string))
			}
			_, _ = w.Write([]byte(`{"result":{"operation_id":2,"status":"completed"}}`))
		case key == "POST /collections/candidates/points/count":
			_, _ = w.Write([]byte(`{"result":{"count":` + itoa(len(f.points)) + `}}`))
		case key == "POST /collections/candidates/points/scroll":
			var pts []map[string]interface{}
			for id, payload := range f.points {
				pts = append(pts, map[string]interface{}{"id": id, "payload": payload})
			}
			resp, _ := json.Marshal(map[string]interface{}{"result": map[string]interface{}{"points": pts, "next_page_offset": nil}})
			_, _ = w.Write(resp)
		default:
			t.Logf("未处理的请求: %s", key)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestQdrant(t *testing.T, fake *fakeQdrant, dimension int) (*storage.Qdrant, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	cfg := &config.QdrantConfig{Endpoint: server.URL, Collection: "candidates"}
	q, err := storage.NewQdrant(context.Background(), cfg, dimension,
		storage.WithDistanceMetric("Cosine"),
		storage.WithHttpTimeout(5*time.Second))
	require.NoError(t, err, "应该成功创建Qdrant客户端")
	return q, server
}

// TestQdrant_NewQdrantExistingCollection 测试集合已存在时不重复创建
func TestQdrant_NewQdrantExistingCollection(t *testing.T) {
	fake := newFakeQdrant(true, 4)
	q, _ := newTestQdrant(t, fake, 4)

	assert.Equal(t, "candidates", q.Name())
	assert.NotContains(t, fake.requests, "PUT /collections/candidates", "集合已存在时不应创建")
}

// TestQdrant_NewQdrantCreatesCollection 测试集合不存在时按嵌入维度创建
func TestQdrant_NewQdrantCreatesCollection(t *testing.T) {
	fake := newFakeQdrant(false, 0)
	newTestQdrant(t, fake, 8)

	require.Contains(t, fake.requests, "PUT /collections/candidates")
	vectors := fake.bodies["PUT /collections/candidates"]["vectors"].(map[string]interface{})
	assert.Equal(t, float64(8), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
	assert.Contains(t, fake.requests, "PUT /collections/candidates/index", "应为 years_exp 建立索引")
}

// TestQdrant_DimensionMismatch 测试集合维度与嵌入维度不一致时报错
func TestQdrant_DimensionMismatch(t *testing.T) {
	fake := newFakeQdrant(true, 1024)
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	_, err := storage.NewQdrant(context.Background(), &config.QdrantConfig{Endpoint: server.URL, Collection: "candidates"}, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1024")
}

// TestQdrant_UpsertGetDelete 测试写入、读取和删除
func TestQdrant_UpsertGetDelete(t *testing.T) {
	fake := newFakeQdrant(true, 3)
	q, _ := newTestQdrant(t, fake, 3)
	ctx := context.Background()

	id := "7d3c1b8e-0000-4000-8000-000000000001"
	payload := types.FlatMetadata{FullName: "Jane Doe", YearsExp: 5, SkillsList: "Python, SQL"}.Payload()
	require.NoError(t, q.Upsert(ctx, id, []float64{1, 0, 0}, payload, "raw resume text"))

	hit, found, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "raw resume text", hit.Document, "原始文本应从载荷中拆出")
	assert.NotContains(t, hit.Payload, types.MetaDocument)
	assert.Equal(t, "Jane Doe", hit.Metadata().FullName)
	assert.Equal(t, 5, hit.Metadata().YearsExp)

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	found, err = q.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = q.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, found, "重复删除应返回不存在")

	_, found, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

// TestQdrant_NonUUIDIsNotFound 测试非 UUID 的 id 不发请求直接视为不存在
func TestQdrant_NonUUIDIsNotFound(t *testing.T) {
	fake := newFakeQdrant(true, 3)
	q, _ := newTestQdrant(t, fake, 3)
	ctx := context.Background()
	before := len(fake.requests)

	_, found, err := q.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, found)

	found, err = q.Delete(ctx, "abc")
	require.NoError(t, err, "非法 id 不应当作索引故障")
	assert.False(t, found)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.requests, before, "不应请求 Qdrant")
}

// TestQdrant_UpsertRejectsWrongDimension 测试写入维度校验
func TestQdrant_UpsertRejectsWrongDimension(t *testing.T) {
	fake := newFakeQdrant(true, 3)
	q, _ := newTestQdrant(t, fake, 3)

	err := q.Upsert(context.Background(), "id", []float64{1, 0}, nil, "")
	assert.Error(t, err)
	assert.NotContains(t, fake.requests, "PUT /collections/candidates/points")
}

// TestQdrant_SearchPushesDownMinExp 测试最低年限过滤下推到索引
func TestQdrant_SearchPushesDownMinExp(t *testing.T) {
	fake := newFakeQdrant(true, 2)
	fake.searchResp = `{"result":[
		{"id":"a","score":0.91,"payload":{"full_name":"A","years_exp":6}},
		{"id":"b","score":0.52,"payload":{"full_name":"B","years_exp":3}}
	]}`
	q, _ := newTestQdrant(t, fake, 2)

	hits, err := q.Search(context.Background(), []float64{1, 0}, 5, 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID, "应保持索引返回的顺序")
	assert.InDelta(t, 0.91, hits[0].Score, 1e-9)

	body := fake.bodies["POST /collections/candidates/points/search"]
	assert.Equal(t, float64(5), body["limit"])
	filter := body["filter"].(map[string]interface{})
	must := filter["must"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, types.MetaYearsExp, must["key"])
	assert.Equal(t, float64(3), must["range"].(map[string]interface{})["gte"])
}

// TestQdrant_SearchWithoutMinExp 测试 min_exp 为 0 时不带过滤条件
func TestQdrant_SearchWithoutMinExp(t *testing.T) {
	fake := newFakeQdrant(true, 2)
	fake.searchResp = `{"result":[]}`
	q, _ := newTestQdrant(t, fake, 2)

	hits, err := q.Search(context.Background(), []float64{1, 0}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NotContains(t, fake.bodies["POST /collections/candidates/points/search"], "filter")
}

// TestQdrant_List 测试滚动读取
func TestQdrant_List(t *testing.T) {
	fake := newFakeQdrant(true, 2)
	q, _ := newTestQdrant(t, fake, 2)
	ctx := context.Background()

	require.NoError(t, q.Upsert(ctx, "a", []float64{1, 0}, map[string]interface{}{"full_name": "A"}, "doc a"))
	require.NoError(t, q.Upsert(ctx, "b", []float64{0, 1}, map[string]interface{}{"full_name": "B"}, "doc b"))

	hits, err := q.List(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

// TestQdrant_InvalidResponse 测试无法解析的响应
func TestQdrant_InvalidResponse(t *testing.T) {
	fake := newFakeQdrant(true, 2)
	fake.searchResp = `not json`
	q, _ := newTestQdrant(t, fake, 2)

	_, err := q.Search(context.Background(), []float64{1, 0}, 5, 0)
	assert.Error(t, err, "无法解析的响应应返回错误")
}

// TestQdrant_APIError 测试服务端错误透传
func TestQdrant_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/collections/candidates" {
			_, _ = w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":2,"distance":"Cosine"}}}}}`))
			return
		}
		assert.Equal(t, "secret", r.Header.Get("api-key"), "应携带 API key")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":{"error":"boom"}}`))
	}))
	defer server.Close()

	q, err := storage.NewQdrant(context.Background(),
		&config.QdrantConfig{Endpoint: server.URL, Collection: "candidates", APIKey: "secret"}, 2)
	require.NoError(t, err)

	_, err = q.Count(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}
