// Package candidate 负责候选人的持久化与检索：向量索引、完整档案和原始文件三处存储的协调。
package candidate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-ats-go/internal/ranking"
	"ai-ats-go/internal/tracing"
	"ai-ats-go/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var storeTracer = otel.Tracer("ai-ats-go/candidate")

// ErrCandidateNotFound 候选人不存在
var ErrCandidateNotFound = errors.New("候选人不存在")

// VectorIndex 候选人向量索引
type VectorIndex interface {
	Name() string
	Upsert(ctx context.Context, id string, vector []float64, payload map[string]interface{}, document string) error
	// Search 返回按相似度降序的结果，minExp > 0 时只返回 years_exp >= minExp 的点
	Search(ctx context.Context, vector []float64, limit, minExp int) ([]types.IndexHit, error)
	Get(ctx context.Context, id string) (types.IndexHit, bool, error)
	List(ctx context.Context, limit int) ([]types.IndexHit, error)
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// ProfileStore 完整档案存储，记录不存在时 found 为 false
type ProfileStore interface {
	PutProfile(ctx context.Context, id string, profile types.CandidateProfile) error
	GetProfile(ctx context.Context, id string) (types.CandidateProfile, bool, error)
	DeleteProfile(ctx context.Context, id string) error
}

// DocumentArchive 原始简历归档，删除不存在的对象不报错
type DocumentArchive interface {
	ArchiveDocument(ctx context.Context, id, filename string, data []byte) (string, error)
	// DeleteDocuments 返回实际删除的对象数
	DeleteDocuments(ctx context.Context, id string) (int, error)
}

// SaveOutcome 各存储的写入结果
type SaveOutcome struct {
	IndexErr   error
	ProfileErr error
}

// OK 全部写入成功
func (o SaveOutcome) OK() bool {
	return o.IndexErr == nil && o.ProfileErr == nil
}

// DeleteOutcome 各存储的删除结果
type DeleteOutcome struct {
	Found   bool
	Index   bool
	Profile bool
	Archive bool
}

// OK 三处存储均删除成功
func (o DeleteOutcome) OK() bool {
	return o.Index && o.Profile && o.Archive
}

// Stats 候选人库统计
type Stats struct {
	TotalCandidates int64  `json:"total_candidates"`
	CollectionName  string `json:"collection_name"`
}

// Store 候选人存储
type Store struct {
	index    VectorIndex
	profiles ProfileStore
	archive  DocumentArchive
	now      func() time.Time
	newID    func() string
	logger   zerolog.Logger
}

// StoreOption 配置 Store
type StoreOption func(*Store)

// WithProfileStore 设置档案存储，未设置时 Get 返回的 Profile 为 nil
func WithProfileStore(p ProfileStore) StoreOption {
	return func(s *Store) { s.profiles = p }
}

// WithArchive 设置原始文件归档
func WithArchive(a DocumentArchive) StoreOption {
	return func(s *Store) { s.archive = a }
}

// WithClock 设置时间来源
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator 设置 id 生成函数
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// WithStoreLogger 设置日志
func WithStoreLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore 创建候选人存储
func NewStore(index VectorIndex, opts ...StoreOption) (*Store, error) {
	if index == nil {
		return nil, fmt.Errorf("向量索引不能为空")
	}
	s := &Store{
		index:  index,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HasArchive 是否配置了原始文件归档
func (s *Store) HasArchive() bool {
	return s.archive != nil
}

// Save 生成新 id 并写入索引和档案存储。两次写入相互独立，失败分别记录在 SaveOutcome 中
func (s *Store) Save(ctx context.Context, profile types.CandidateProfile, document string, embedding []float64, fileName string) (string, SaveOutcome) {
	ctx, span := storeTracer.Start(ctx, "CandidateStore.Save")
	defer span.End()

	id := s.newID()
	span.SetAttributes(attribute.String("candidate.id", id))
	if profile.FileName == "" {
		profile.FileName = fileName
	}
	meta := Flatten(profile, fileName, s.now())

	var outcome SaveOutcome
	if err := s.index.Upsert(ctx, id, embedding, meta.Payload(), document); err != nil {
		outcome.IndexErr = err
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		s.logger.Error().Err(err).Str("id", id).Msg("写入向量索引失败")
	}

	if s.profiles != nil {
		if err := s.profiles.PutProfile(ctx, id, profile); err != nil {
			outcome.ProfileErr = err
			tracing.RecordError(span, err, tracing.ErrorTypeObjectStorage)
			s.logger.Error().Err(err).Str("id", id).Msg("写入完整档案失败")
		}
	}

	if outcome.OK() {
		s.logger.Info().
			Str("id", id).
			Str("name", tracing.MaskPII(meta.FullName)).
			Int("years_exp", meta.YearsExp).
			Msg("候选人已保存")
	}
	return id, outcome
}

// ArchiveDocument 归档原始文件，未配置归档时忽略
func (s *Store) ArchiveDocument(ctx context.Context, id, fileName string, data []byte) (string, error) {
	if s.archive == nil {
		return "", nil
	}
	return s.archive.ArchiveDocument(ctx, id, fileName, data)
}

// Search 向量检索并按技能后过滤。后过滤只在 top_k 窗口内进行，不会重新查询索引
func (s *Store) Search(ctx context.Context, query types.SearchQuery) ([]types.Match, error) {
	ctx, span := storeTracer.Start(ctx, "CandidateStore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Int("search.top_k", query.TopK),
		attribute.Int("search.min_exp", query.MinExp),
		attribute.Int("search.required_skills", len(query.RequiredSkills)),
	)

	hits, err := s.index.Search(ctx, query.Embedding, query.TopK, query.MinExp)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("检索候选人失败: %w", err)
	}

	filtered := make([]types.IndexHit, 0, len(hits))
	for _, hit := range hits {
		if HasAllSkills(hit.Metadata().SkillsList, query.RequiredSkills) {
			filtered = append(filtered, hit)
		}
	}
	span.SetAttributes(
		attribute.Int("search.index_hits", len(hits)),
		attribute.Int("search.results", len(filtered)),
	)
	return ranking.Rank(filtered), nil
}

// HasAllSkills 每个要求的技能都以不区分大小写的子串形式出现在 skillsList 中
func HasAllSkills(skillsList string, required []string) bool {
	haystack := strings.ToLower(skillsList)
	for _, skill := range required {
		skill = strings.ToLower(strings.TrimSpace(skill))
		if skill == "" {
			continue
		}
		if !strings.Contains(haystack, skill) {
			return false
		}
	}
	return true
}

// Get 读取完整记录，档案存储不可用或缺失时 Profile 为 nil
func (s *Store) Get(ctx context.Context, id string) (types.CandidateRecord, error) {
	hit, found, err := s.index.Get(ctx, id)
	if err != nil {
		return types.CandidateRecord{}, fmt.Errorf("读取候选人失败: %w", err)
	}
	if !found {
		return types.CandidateRecord{}, ErrCandidateNotFound
	}
	record := types.CandidateRecord{
		ID:       id,
		Document: hit.Document,
		Metadata: hit.Metadata(),
	}
	if s.profiles != nil {
		profile, ok, err := s.profiles.GetProfile(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("读取完整档案失败")
		} else if ok {
			record.Profile = &profile
		}
	}
	return record, nil
}

// GetAll 列出最多 limit 个候选人，索引元数据与完整档案合并，档案字段优先
func (s *Store) GetAll(ctx context.Context, limit int) ([]map[string]interface{}, error) {
	hits, err := s.index.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("列出候选人失败: %w", err)
	}
	out := make([]map[string]interface{}, 0, len(hits))
	for _, hit := range hits {
		merged := hit.Metadata().Payload()
		if s.profiles != nil {
			profile, ok, err := s.profiles.GetProfile(ctx, hit.ID)
			if err != nil {
				s.logger.Warn().Err(err).Str("id", hit.ID).Msg("读取完整档案失败")
			} else if ok {
				for k, v := range profile.ToMap() {
					merged[k] = v
				}
			}
		}
		merged["id"] = hit.ID
		out = append(out, merged)
	}
	return out, nil
}

// Delete 从三处存储分别删除候选人，任一处失败不影响其余两处。
// 三处都没有该 id 时返回 ErrCandidateNotFound
func (s *Store) Delete(ctx context.Context, id string) (DeleteOutcome, error) {
	ctx, span := storeTracer.Start(ctx, "CandidateStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("candidate.id", id))

	var outcome DeleteOutcome
	// 出错的存储无法确认 id 是否存在，按存在处理
	found, err := s.index.Delete(ctx, id)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		s.logger.Error().Err(err).Str("id", id).Msg("删除向量索引失败")
	}
	outcome.Found = found || err != nil
	outcome.Index = err == nil

	outcome.Profile = true
	if s.profiles != nil {
		_, held, getErr := s.profiles.GetProfile(ctx, id)
		if err := s.profiles.DeleteProfile(ctx, id); err != nil {
			outcome.Profile = false
			s.logger.Error().Err(err).Str("id", id).Msg("删除完整档案失败")
		}
		outcome.Found = outcome.Found || held || getErr != nil || !outcome.Profile
	}

	outcome.Archive = true
	if s.archive != nil {
		removed, err := s.archive.DeleteDocuments(ctx, id)
		if err != nil {
			outcome.Archive = false
			s.logger.Error().Err(err).Str("id", id).Msg("删除原始简历失败")
		}
		outcome.Found = outcome.Found || removed > 0 || err != nil
	}

	if !outcome.Found {
		return outcome, ErrCandidateNotFound
	}
	s.logger.Info().
		Str("id", id).
		Bool("index", outcome.Index).
		Bool("profile", outcome.Profile).
		Bool("archive", outcome.Archive).
		Msg("候选人删除完成")
	return outcome, nil
}

// Count 候选人数量
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.index.Count(ctx)
}

// Stats 候选人库统计
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	n, err := s.index.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("统计候选人失败: %w", err)
	}
	return Stats{TotalCandidates: n, CollectionName: s.index.Name()}, nil
}
