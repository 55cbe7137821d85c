// Package processor 串联简历处理流程：文本提取、信息抽取、校验、向量化和入库，以及按职位描述检索。
package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"ai-ats-go/internal/candidate"
	"ai-ats-go/internal/embedding"
	"ai-ats-go/internal/extraction"
	"ai-ats-go/internal/tracing"
	"ai-ats-go/internal/types"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// 组件未初始化错误
var (
	ErrExtractorNotInit = errors.New("text extractor is not initialized")
	ErrModelsNotInit    = errors.New("model registry is not initialized")
	ErrEngineNotInit    = errors.New("extraction engine is not initialized")
	ErrEmbedderNotInit  = errors.New("embedder is not initialized")
	ErrStoreNotInit     = errors.New("candidate store is not initialized")
)

var tracer = otel.Tracer("ai-ats-go/processor")

// CandidateService 候选人服务，进程内只创建一个，可并发使用
type CandidateService struct {
	components   Components
	validate     *validator.Validate
	minTextChars int
	defaultTopK  int
	now          func() time.Time
	logger       zerolog.Logger
}

// ServiceOption 配置 CandidateService
type ServiceOption func(*CandidateService)

// WithServiceLogger 设置日志
func WithServiceLogger(logger zerolog.Logger) ServiceOption {
	return func(s *CandidateService) { s.logger = logger }
}

// WithMinTextChars 设置提取文本的最少字符数
func WithMinTextChars(n int) ServiceOption {
	return func(s *CandidateService) {
		if n > 0 {
			s.minTextChars = n
		}
	}
}

// WithDefaultTopK 设置搜索未指定 top_k 时的返回数量
func WithDefaultTopK(n int) ServiceOption {
	return func(s *CandidateService) {
		if n > 0 {
			s.defaultTopK = n
		}
	}
}

// WithServiceClock 设置事件时间来源
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *CandidateService) { s.now = now }
}

// NewCandidateService 创建候选人服务
func NewCandidateService(components Components, opts ...ServiceOption) (*CandidateService, error) {
	switch {
	case components.TextExtractor == nil:
		return nil, ErrExtractorNotInit
	case components.Models == nil:
		return nil, ErrModelsNotInit
	case components.Extractor == nil:
		return nil, ErrEngineNotInit
	case components.Embedder == nil:
		return nil, ErrEmbedderNotInit
	case components.Store == nil:
		return nil, ErrStoreNotInit
	}
	s := &CandidateService{
		components:   components,
		validate:     validator.New(),
		minTextChars: MinTextChars,
		defaultTopK:  DefaultTopK,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upload 处理一份上传的简历并入库
func (s *CandidateService) Upload(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	ctx, span := tracer.Start(ctx, "CandidateService.Upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("upload.file_name", req.FileName),
		attribute.Int("upload.size", len(req.Data)),
	)
	log := s.logger.With().Str("file", req.FileName).Logger()

	if !strings.EqualFold(filepath.Ext(req.FileName), ".pdf") {
		return nil, NewInvalidDocumentTypeError(req.FileName)
	}

	hint := strings.TrimSpace(req.ModelHint)
	if err := s.checkModel(hint); err != nil {
		return nil, err
	}

	text, err := s.components.TextExtractor.ExtractText(ctx, req.Data, req.FileName)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, NewTextExtractionError(req.FileName, err)
	}
	if n := utf8.RuneCountInString(text); n < s.minTextChars {
		return nil, NewContentTooShortError(req.FileName, n)
	}

	profile, trace := s.components.Extractor.Extract(ctx, text, hint)
	profile.LLMModelUsed = trace.Strategy
	span.SetAttributes(attribute.String("upload.strategy", trace.Strategy))

	if ok, reasons := extraction.Validate(profile, text); !ok {
		log.Warn().Strs("reasons", reasons).Msg("文件未通过简历校验")
		return nil, NewNotAValidResumeError(req.FileName, reasons)
	}
	profile.FileName = req.FileName

	data := NewCandidateData(profile)
	if err := s.validate.Struct(data); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, NewProfileFormatError(req.FileName, err)
	}

	vector, err := s.components.Embedder.Embed(ctx, embedding.SemanticText(profile))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, NewEmbeddingError("embed_profile", err)
	}

	id, outcome := s.components.Store.Save(ctx, profile, text, vector, req.FileName)
	span.SetAttributes(attribute.String("candidate.id", id))
	var warnings []string
	if outcome.IndexErr != nil {
		warnings = append(warnings, fmt.Sprintf("写入向量索引失败: %v", outcome.IndexErr))
	}
	if outcome.ProfileErr != nil {
		warnings = append(warnings, fmt.Sprintf("写入完整档案失败: %v", outcome.ProfileErr))
	}

	if _, err := s.components.Store.ArchiveDocument(ctx, id, req.FileName, req.Data); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("归档原始简历失败")
		warnings = append(warnings, fmt.Sprintf("归档原始简历失败: %v", err))
	}

	s.publish(ctx, types.CandidateEvent{
		Type:         types.EventCandidateCreated,
		CandidateID:  id,
		FileName:     req.FileName,
		LLMModelUsed: profile.LLMModelUsed,
		YearsExp:     profile.YearsExp,
	})

	log.Info().
		Str("id", id).
		Str("strategy", trace.Strategy).
		Int("warnings", len(warnings)).
		Msg("简历处理完成")

	return &UploadResponse{
		Status:   "success",
		ID:       id,
		Data:     data,
		Message:  fmt.Sprintf("成功处理 %s 的简历", types.Str(profile.FullName)),
		Warnings: warnings,
	}, nil
}

// Search 按职位描述检索候选人
func (s *CandidateService) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	ctx, span := tracer.Start(ctx, "CandidateService.Search")
	defer span.End()

	if req.TopK == 0 {
		req.TopK = s.defaultTopK
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, NewInvalidRequestError("search", err)
	}
	hint := strings.TrimSpace(req.Model)
	if err := s.checkModel(hint); err != nil {
		return nil, err
	}
	skills := ParseSkills(req.RequiredSkills)

	vector, err := s.components.Embedder.EmbedQuery(ctx, req.JDText)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, NewEmbeddingError("embed_query", err)
	}

	matches, err := s.components.Store.Search(ctx, types.SearchQuery{
		Embedding:      vector,
		TopK:           req.TopK,
		MinExp:         req.MinExp,
		RequiredSkills: skills,
	})
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{
		Total:   len(matches),
		Matches: make([]CandidateMatch, 0, len(matches)),
		QueryInfo: QueryInfo{
			JDLength:       utf8.RuneCountInString(req.JDText),
			MinExp:         req.MinExp,
			TopK:           req.TopK,
			RequiredSkills: skills,
		},
	}
	if hint != "" {
		resp.QueryInfo.Model = &hint
	}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, NewCandidateMatch(m))
	}

	s.logger.Info().
		Int("jd_length", resp.QueryInfo.JDLength).
		Int("min_exp", req.MinExp).
		Int("top_k", req.TopK).
		Int("results", resp.Total).
		Msg("候选人检索完成")
	return resp, nil
}

// List 列出候选人，limit <= 0 时使用默认值
func (s *CandidateService) List(ctx context.Context, limit int) (*ListResponse, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	candidates, err := s.components.Store.GetAll(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Total: len(candidates), Candidates: candidates}, nil
}

// Delete 删除候选人，未知 id 返回 candidate.ErrCandidateNotFound
func (s *CandidateService) Delete(ctx context.Context, id string) (*DeleteResponse, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, candidate.ErrCandidateNotFound
	}
	outcome, err := s.components.Store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, types.CandidateEvent{Type: types.EventCandidateDeleted, CandidateID: id})

	resp := newDeleteResponse(outcome)
	return &resp, nil
}

// Stats 候选人库统计
func (s *CandidateService) Stats(ctx context.Context) (candidate.Stats, error) {
	return s.components.Store.Stats(ctx)
}

func (s *CandidateService) checkModel(hint string) error {
	if hint == "" {
		return nil
	}
	if ok, message := s.components.Models.IsAvailable(hint); !ok {
		return NewModelUnavailableError(hint, message)
	}
	return nil
}

// publish 发布事件，失败只记录日志
func (s *CandidateService) publish(ctx context.Context, event types.CandidateEvent) {
	if s.components.Events == nil {
		return
	}
	event.OccurredAt = s.now()
	if err := s.components.Events.PublishCandidateEvent(ctx, event); err != nil {
		s.logger.Warn().Err(err).
			Str("type", event.Type).
			Str("id", event.CandidateID).
			Msg("发布候选人事件失败")
	}
}
