package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-ats-go/internal/config"
	"ai-ats-go/internal/tracing"
	"ai-ats-go/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// 定义Qdrant的专用tracer
var qdrantTracer = otel.Tracer("ai-ats-go/storage/qdrant")

// Qdrant 基于 Qdrant REST API 的候选人向量索引，每个候选人对应一个点
type Qdrant struct {
	endpoint       string
	collectionName string
	apiKey         string
	vectorSize     int
	distanceMetric string
	httpClient     *http.Client
	logger         zerolog.Logger
}

// QdrantOption 定义Qdrant客户端的配置选项
type QdrantOption func(*Qdrant)

// WithDistanceMetric 设置距离度量方式
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

// WithHttpTimeout 设置HTTP超时时间
func WithHttpTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient.Timeout = timeout
	}
}

// WithQdrantLogger 设置日志
func WithQdrantLogger(logger zerolog.Logger) QdrantOption {
	return func(q *Qdrant) {
		q.logger = logger
	}
}

// qdrantStatusError 非 2xx 响应
type qdrantStatusError struct {
	StatusCode int
	Body       string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant API error: status=%d, body=%s", e.StatusCode, e.Body)
}

func isQdrantNotFound(err error) bool {
	var se *qdrantStatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// NewQdrant 创建Qdrant索引，dimension 由嵌入模型在启动时确定
func NewQdrant(ctx context.Context, cfg *config.QdrantConfig, dimension int, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("qdrant endpoint 未配置")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection 未配置")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("无效的向量维度: %d", dimension)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	q := &Qdrant{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		collectionName: cfg.Collection,
		apiKey:         cfg.APIKey,
		vectorSize:     dimension,
		distanceMetric: "Cosine",
		httpClient:     &http.Client{Timeout: timeout},
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.ensureCollectionExists(ctx); err != nil {
		return nil, fmt.Errorf("初始化Qdrant集合失败: %w", err)
	}
	return q, nil
}

// Name 集合名称
func (q *Qdrant) Name() string {
	return q.collectionName
}

// ensureCollectionExists 确保向量集合存在且维度一致
func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollectionExists",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("db.collection", q.collectionName),
		attribute.Int("db.vector_size", q.vectorSize),
	)

	var collectionInfo struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	err := q.doRequest(ctx, http.MethodGet, q.collectionPath(""), nil, &collectionInfo)
	if isQdrantNotFound(err) {
		span.AddEvent("collection_not_found")
		q.logger.Info().Str("collection", q.collectionName).Msg("集合不存在，将创建新集合")
		return q.createCollection(ctx)
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("检查集合失败: %w", err)
	}

	existingSize := collectionInfo.Result.Config.Params.Vectors.Size
	existingDistance := collectionInfo.Result.Config.Params.Vectors.Distance
	span.SetAttributes(
		attribute.Int("collection.existing_vector_size", existingSize),
		attribute.String("collection.existing_distance", existingDistance),
	)

	if existingSize != q.vectorSize {
		err := fmt.Errorf("现有集合维度 %d 与嵌入模型维度 %d 不一致", existingSize, q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	if !strings.EqualFold(existingDistance, q.distanceMetric) {
		q.logger.Warn().
			Str("existing", existingDistance).
			Str("expected", q.distanceMetric).
			Msg("现有集合距离度量与当前配置不一致")
	}

	span.SetStatus(codes.Ok, "")
	q.logger.Info().Str("collection", q.collectionName).Int("dimension", existingSize).Msg("已发现现有Qdrant集合")
	return nil
}

// createCollection 创建集合并为 years_exp 建立整数索引
func (q *Qdrant) createCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CreateCollection",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
		"optimizers_config": map[string]interface{}{
			"default_segment_number": 2,
		},
	}
	if err := q.doRequest(ctx, http.MethodPut, q.collectionPath(""), body, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("创建集合失败: %w", err)
	}

	index := map[string]interface{}{
		"field_name":   types.MetaYearsExp,
		"field_schema": "integer",
	}
	if err := q.doRequest(ctx, http.MethodPut, q.collectionPath("/index"), index, nil); err != nil {
		q.logger.Warn().Err(err).Msg("创建 years_exp 载荷索引失败")
	}

	span.SetStatus(codes.Ok, "")
	q.logger.Info().Str("collection", q.collectionName).Int("dimension", q.vectorSize).Msg("已成功创建Qdrant集合")
	return nil
}

// qdrantPoint Qdrant 返回的点
type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

func (p qdrantPoint) toHit() types.IndexHit {
	payload := p.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	document, _ := payload[types.MetaDocument].(string)
	delete(payload, types.MetaDocument)
	return types.IndexHit{
		ID:       fmt.Sprint(p.ID),
		Score:    p.Score,
		Payload:  payload,
		Document: document,
	}
}

// Upsert 写入或覆盖一个候选人点，原始文本存放在载荷的 document 字段
func (q *Qdrant) Upsert(ctx context.Context, id string, vector []float64, payload map[string]interface{}, document string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Upsert",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("candidate.id", id)))
	defer span.End()

	if len(vector) != q.vectorSize {
		err := fmt.Errorf("向量维度 %d 与集合维度 %d 不一致", len(vector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return err
	}

	body := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body[types.MetaDocument] = document

	req := map[string]interface{}{
		"points": []map[string]interface{}{
			{"id": id, "vector": vector, "payload": body},
		},
	}
	if err := q.doRequest(ctx, http.MethodPut, q.collectionPath("/points?wait=true"), req, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("写入向量失败: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Search 按余弦相似度检索，minExp > 0 时在索引端按 years_exp 过滤
func (q *Qdrant) Search(ctx context.Context, vector []float64, limit, minExp int) ([]types.IndexHit, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Search",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("search.limit", limit),
			attribute.Int("search.min_exp", minExp),
		))
	defer span.End()

	req := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": map[string]interface{}{"exclude": []string{types.MetaDocument}},
		"with_vector":  false,
	}
	if minExp > 0 {
		req["filter"] = map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": types.MetaYearsExp, "range": map[string]interface{}{"gte": minExp}},
			},
		}
	}

	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/search"), req, &resp); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	hits := make([]types.IndexHit, 0, len(resp.Result))
	for _, p := range resp.Result {
		hits = append(hits, p.toHit())
	}
	span.SetAttributes(attribute.Int("search.results", len(hits)))
	span.SetStatus(codes.Ok, "")
	return hits, nil
}

// Get 读取单个点，不存在时 found 为 false
func (q *Qdrant) Get(ctx context.Context, id string) (types.IndexHit, bool, error) {
	var resp struct {
		Result qdrantPoint `json:"result"`
	}
	// 点 id 只会是 UUID，其他格式 Qdrant 会以 400 拒绝
	if _, perr := uuid.Parse(id); perr != nil {
		return types.IndexHit{}, false, nil
	}
	err := q.doRequest(ctx, http.MethodGet, q.collectionPath("/points/"+id), nil, &resp)
	if isQdrantNotFound(err) {
		return types.IndexHit{}, false, nil
	}
	if err != nil {
		return types.IndexHit{}, false, fmt.Errorf("读取向量点失败: %w", err)
	}
	return resp.Result.toHit(), true, nil
}

// List 滚动读取最多 limit 个点
func (q *Qdrant) List(ctx context.Context, limit int) ([]types.IndexHit, error) {
	var hits []types.IndexHit
	var offset interface{}
	for limit <= 0 || len(hits) < limit {
		page := 256
		if limit > 0 && limit-len(hits) < page {
			page = limit - len(hits)
		}
		req := map[string]interface{}{
			"limit":        page,
			"with_payload": true,
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []qdrantPoint `json:"points"`
				NextPageOffset interface{}   `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/scroll"), req, &resp); err != nil {
			return nil, fmt.Errorf("滚动读取向量点失败: %w", err)
		}
		for _, p := range resp.Result.Points {
			hits = append(hits, p.toHit())
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	if hits == nil {
		hits = []types.IndexHit{}
	}
	return hits, nil
}

// Delete 删除一个点，found 表示删除前该点是否存在
func (q *Qdrant) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Delete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("candidate.id", id)))
	defer span.End()

	_, found, err := q.Get(ctx, id)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return false, err
	}
	if !found {
		return false, nil
	}

	req := map[string]interface{}{"points": []string{id}}
	if err := q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/delete?wait=true"), req, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return true, fmt.Errorf("删除向量点失败: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return true, nil
}

// Count 精确统计点数量
func (q *Qdrant) Count(ctx context.Context) (int64, error) {
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/count"), map[string]interface{}{"exact": true}, &resp); err != nil {
		return 0, fmt.Errorf("统计向量点失败: %w", err)
	}
	return resp.Result.Count, nil
}

func (q *Qdrant) collectionPath(suffix string) string {
	return "/collections/" + q.collectionName + suffix
}

// doRequest 执行HTTP请求并注入追踪上下文
func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", path),
	)

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
		reader = bytes.NewReader(jsonBody)
		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &qdrantStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err = json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
