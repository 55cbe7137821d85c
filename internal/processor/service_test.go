package processor_test

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"ai-ats-go/internal/candidate"
	"ai-ats-go/internal/config"
	"ai-ats-go/internal/embedding"
	"ai-ats-go/internal/extraction"
	"ai-ats-go/internal/llm"
	"ai-ats-go/internal/processor"
	"ai-ats-go/internal/storage"
	"ai-ats-go/internal/types"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const janeResume = `Jane Doe
Senior Backend Engineer
jane@x.com
5 years building Python and Docker services on AWS.
Education: MIT, BSc Computer Science.
Projects: resume matching platform with vector search.`

const janeJSON = `{"full_name": "Jane Doe", "email": "jane@x.com", "role": "Backend Engineer", "years_exp": 5,
 "education": [{"school": "MIT", "degree": "BSc", "major": "CS", "gpa": 3.8, "time": "2015-2019"}],
 "skills": ["Python", "Docker"], "projects": [{"name": "Matcher", "description": "vector search", "score": 8}]}`

const bobResume = `Bob Smith
Frontend Developer
bob@y.org
2 years of JavaScript and React work on customer dashboards.
Education: State University, BA Design.`

const bobJSON = `{"full_name": "Bob Smith", "email": "bob@y.org", "role": "Frontend Developer", "years_exp": 2,
 "education": [], "skills": ["JavaScript", "React"], "projects": []}`

// fakeTextExtractor 按文件名返回预设文本
type fakeTextExtractor struct {
	mu    sync.Mutex
	texts map[string]string
	err   error
	calls int
}

func (f *fakeTextExtractor) ExtractText(ctx context.Context, data []byte, uri string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.texts[uri], nil
}

// bagOfWordsEmbedder 词袋哈希向量，相同文本得到相同向量
type bagOfWordsEmbedder struct {
	dim int
}

func (b *bagOfWordsEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...einoembedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, b.dim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[h.Sum32()%uint32(b.dim)]++
		}
		out[i] = vec
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.CandidateEvent
	err    error
}

func (r *recordingPublisher) PublishCandidateEvent(ctx context.Context, event types.CandidateEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

// failingIndex 写入总是失败的索引
type failingIndex struct {
	*storage.MemoryIndex
}

func (f failingIndex) Upsert(ctx context.Context, id string, vector []float64, payload map[string]interface{}, document string) error {
	return errors.New("index unavailable")
}

type fixture struct {
	svc       *processor.CandidateService
	store     *candidate.Store
	archive   *storage.MemoryArchive
	extractor *fakeTextExtractor
	provider  *llm.MockProvider
	events    *recordingPublisher
}

func newFixture(t *testing.T, index candidate.VectorIndex, responses ...llm.MockResponse) *fixture {
	t.Helper()
	ctx := context.Background()

	provider := llm.NewMockProvider(config.ProviderOpenAI, []string{"gpt-4o", "gpt-4.1-mini"}, responses...)
	registry := llm.NewStaticRegistry(zerolog.Nop(), provider)

	engine, err := embedding.NewEngine(ctx, &bagOfWordsEmbedder{dim: 64})
	require.NoError(t, err, "创建向量化引擎失败")

	if index == nil {
		index = storage.NewMemoryIndex("candidates", 64)
	}
	archive := storage.NewMemoryArchive()
	store, err := candidate.NewStore(index,
		candidate.WithProfileStore(storage.NewMemoryProfileStore()),
		candidate.WithArchive(archive))
	require.NoError(t, err)

	extractor := &fakeTextExtractor{texts: map[string]string{
		"jane.pdf": janeResume,
		"bob.pdf":  bobResume,
	}}
	events := &recordingPublisher{}

	svc, err := processor.NewCandidateService(processor.Components{
		TextExtractor: extractor,
		Models:        registry,
		Extractor:     extraction.NewEngine(registry),
		Embedder:      engine,
		Store:         store,
		Events:        events,
	})
	require.NoError(t, err, "创建候选人服务失败")

	return &fixture{svc: svc, store: store, archive: archive, extractor: extractor, provider: provider, events: events}
}

func upload(t *testing.T, f *fixture, name string) *processor.UploadResponse {
	t.Helper()
	resp, err := f.svc.Upload(context.Background(), processor.UploadRequest{FileName: name, Data: []byte("%PDF-1.4 " + name)})
	require.NoError(t, err, "上传 %s 失败", name)
	return resp
}

func TestUpload_Success(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON})

	resp := upload(t, f, "jane.pdf")
	assert.Equal(t, "success", resp.Status)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "Jane Doe", types.Str(resp.Data.FullName))
	assert.Equal(t, "jane@x.com", types.Str(resp.Data.Email))
	assert.Equal(t, 5, resp.Data.YearsExp)
	assert.Equal(t, []string{"Python", "Docker"}, resp.Data.Skills)
	assert.Equal(t, "openai:gpt-4o", resp.Data.LLMModelUsed, "应记录产出档案的模型")
	assert.Equal(t, "jane.pdf", resp.Data.FileName)
	assert.Contains(t, resp.Message, "Jane Doe")
	assert.Empty(t, resp.Warnings)

	assert.Equal(t, []string{resp.ID + "_jane.pdf"}, f.archive.Objects(), "原始文件应按 id_文件名 归档")

	record, err := f.store.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, janeResume, record.Document)
	require.NotNil(t, record.Profile)
	assert.Equal(t, "jane.pdf", record.Profile.FileName)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, types.EventCandidateCreated, f.events.events[0].Type)
	assert.Equal(t, resp.ID, f.events.events[0].CandidateID)
	assert.False(t, f.events.events[0].OccurredAt.IsZero())
}

func TestUpload_ExtensionIsCaseInsensitive(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON})
	f.extractor.texts["JANE.PDF"] = janeResume

	resp := upload(t, f, "JANE.PDF")
	assert.Equal(t, "success", resp.Status)
}

func TestUpload_InvalidDocumentType(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON})

	_, err := f.svc.Upload(context.Background(), processor.UploadRequest{FileName: "jane.docx", Data: []byte("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, processor.ErrInvalidDocumentType)
	assert.Equal(t, 0, f.extractor.calls, "非PDF文件不应进入文本提取")
}

func TestUpload_ModelUnavailable(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON})

	_, err := f.svc.Upload(context.Background(), processor.UploadRequest{FileName: "jane.pdf", ModelHint: "openai:gpt-9"})
	require.Error(t, err)
	assert.ErrorIs(t, err, processor.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "gpt-4o", "错误信息应列出可用模型")

	_, err = f.svc.Upload(context.Background(), processor.UploadRequest{FileName: "jane.pdf", ModelHint: "gemini-1.5-flash"})
	assert.ErrorIs(t, err, processor.ErrModelUnavailable, "未加载的提供方应视为模型不可用")
	assert.Equal(t, 0, f.provider.CallCount())
}

func TestUpload_TextExtractionFailure(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON})
	f.extractor.err = errors.New("malformed xref")

	_, err := f.svc.Upload(context.Background(), processor.UploadRequest{FileName: "jane.pdf"})
	assert.ErrorIs(t, err, processor.ErrTextExtractionFailed)
}

func TestUpload_ContentTooShort(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON})
	f.extractor.texts["tiny.pdf"] = "Jane Doe jane@x.com"

	_, err := f.svc.Upload(context.Background(), processor.UploadRequest{FileName: "tiny.pdf"})
	assert.ErrorIs(t, err, processor.ErrExtractedContentTooShort)
	assert.Equal(t, 0, f.provider.CallCount(), "内容过短时不应调用模型")
}

func TestUpload_NotAValidResume(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: "I cannot help with that."})
	f.extractor.texts["essay.pdf"] = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor."

	_, err := f.svc.Upload(context.Background(), processor.UploadRequest{FileName: "essay.pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, processor.ErrNotAValidResume)
	assert.Equal(t, []string{
		extraction.ReasonInvalidEmail,
		extraction.ReasonNoProfessional,
		extraction.ReasonContentTooShort,
	}, processor.Reasons(err), "应列出全部失败原因")

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "无效简历不应入库")
}

func TestUpload_ProfileFormatError(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: strings.Replace(janeJSON, `"jane@x.com"`, `"Contact: jane@x.com"`, 1)})

	_, err := f.svc.Upload(context.Background(), processor.UploadRequest{FileName: "jane.pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, processor.ErrProfileFormat)

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "格式错误的档案不应入库")
}

func TestUpload_RegexFallbackWhenProviderDown(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Error: errors.New("connection refused")})

	resp := upload(t, f, "jane.pdf")
	assert.Equal(t, extraction.RegexStrategyName, resp.Data.LLMModelUsed)
	assert.Equal(t, "Jane Doe", types.Str(resp.Data.FullName))
	assert.Equal(t, "jane@x.com", types.Str(resp.Data.Email))
	assert.Contains(t, resp.Data.Skills, "python")
}

func TestUpload_IndexFailureStillReturnsID(t *testing.T) {
	f := newFixture(t, failingIndex{storage.NewMemoryIndex("candidates", 64)}, llm.MockResponse{Content: janeJSON})

	resp := upload(t, f, "jane.pdf")
	assert.Equal(t, "success", resp.Status)
	assert.NotEmpty(t, resp.ID, "索引写入失败时仍应返回 id")
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "index unavailable")
}

func TestUpload_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON})
	f.events.err = errors.New("broker down")

	resp := upload(t, f, "jane.pdf")
	assert.Equal(t, "success", resp.Status)
	assert.Empty(t, resp.Warnings)
}

func TestSearch_IdenticalTextRanksFirst(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON}, llm.MockResponse{Content: bobJSON})
	jane := upload(t, f, "jane.pdf")
	upload(t, f, "bob.pdf")

	jd := embedding.SemanticText(types.ProfileFromMap(extraction.ParseJSONObject(janeJSON)))
	resp, err := f.svc.Search(context.Background(), processor.SearchRequest{JDText: jd, TopK: 5})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, jane.ID, resp.Matches[0].ID)
	assert.Equal(t, 1.0, resp.Matches[0].Score, "相同文本的相似度应为 1")
	assert.Equal(t, []string{"Python", "Docker"}, resp.Matches[0].Skills)
	require.Len(t, resp.Matches[0].Education, 1)
	assert.Equal(t, "MIT", types.Str(resp.Matches[0].Education[0].School))
	for _, m := range resp.Matches {
		assert.GreaterOrEqual(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, 1.0)
	}
	assert.GreaterOrEqual(t, resp.Matches[0].Score, resp.Matches[1].Score)
}

func TestSearch_FiltersAndQueryInfo(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON}, llm.MockResponse{Content: bobJSON})
	jane := upload(t, f, "jane.pdf")
	bob := upload(t, f, "bob.pdf")
	ctx := context.Background()

	resp, err := f.svc.Search(ctx, processor.SearchRequest{JDText: "Looking for an engineer", MinExp: 3})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, jane.ID, resp.Matches[0].ID)
	assert.Equal(t, processor.DefaultTopK, resp.QueryInfo.TopK, "top_k 缺省时应使用默认值")
	assert.Equal(t, 3, resp.QueryInfo.MinExp)
	assert.Equal(t, len("Looking for an engineer"), resp.QueryInfo.JDLength)
	assert.Nil(t, resp.QueryInfo.RequiredSkills)
	assert.Nil(t, resp.QueryInfo.Model)

	resp, err = f.svc.Search(ctx, processor.SearchRequest{JDText: "Looking for an engineer", RequiredSkills: " java , ", Model: "gpt-4o"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total, "java 以子串方式匹配 JavaScript")
	assert.Equal(t, bob.ID, resp.Matches[0].ID)
	assert.Equal(t, []string{"java"}, resp.QueryInfo.RequiredSkills)
	require.NotNil(t, resp.QueryInfo.Model)
	assert.Equal(t, "gpt-4o", *resp.QueryInfo.Model)

	resp, err = f.svc.Search(ctx, processor.SearchRequest{JDText: "Looking for an engineer", RequiredSkills: "python,react"})
	require.NoError(t, err)
	assert.Zero(t, resp.Total, "必须同时满足全部技能")
	assert.NotNil(t, resp.Matches)
}

func TestSearch_ConfiguredDefaultTopK(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON}, llm.MockResponse{Content: bobJSON})
	upload(t, f, "jane.pdf")
	upload(t, f, "bob.pdf")

	registry := llm.NewStaticRegistry(zerolog.Nop(), f.provider)
	engine, err := embedding.NewEngine(context.Background(), &bagOfWordsEmbedder{dim: 64})
	require.NoError(t, err)
	svc, err := processor.NewCandidateService(processor.Components{
		TextExtractor: f.extractor,
		Models:        registry,
		Extractor:     extraction.NewEngine(registry),
		Embedder:      engine,
		Store:         f.store,
	}, processor.WithDefaultTopK(1))
	require.NoError(t, err)

	resp, err := svc.Search(context.Background(), processor.SearchRequest{JDText: "Looking for an engineer"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.QueryInfo.TopK)
	assert.Equal(t, 1, resp.Total, "应只返回配置的默认数量")
}

func TestSearch_Validation(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON})
	ctx := context.Background()

	tests := []struct {
		name string
		req  processor.SearchRequest
	}{
		{"职位描述过短", processor.SearchRequest{JDText: "go dev"}},
		{"top_k 超出上限", processor.SearchRequest{JDText: "Looking for an engineer", TopK: 51}},
		{"top_k 为负数", processor.SearchRequest{JDText: "Looking for an engineer", TopK: -1}},
		{"min_exp 为负数", processor.SearchRequest{JDText: "Looking for an engineer", MinExp: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Search(ctx, tt.req)
			assert.ErrorIs(t, err, processor.ErrInvalidRequest)
		})
	}

	_, err := f.svc.Search(ctx, processor.SearchRequest{JDText: "Looking for an engineer", Model: "gemini-2.0-pro"})
	assert.ErrorIs(t, err, processor.ErrModelUnavailable)
}

func TestList_MergesProfile(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON})
	jane := upload(t, f, "jane.pdf")

	resp, err := f.svc.List(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	c := resp.Candidates[0]
	assert.Equal(t, jane.ID, c["id"])
	assert.Equal(t, "Python, Docker", c[types.MetaSkillsList], "应保留索引元数据")
	assert.Equal(t, []interface{}{"Python", "Docker"}, c["skills"], "应合并完整档案")
	assert.IsType(t, []interface{}{}, c["education"], "档案中的 education 应覆盖元数据中的 JSON 文本")
}

func TestDelete_SuccessThenNotFound(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON})
	jane := upload(t, f, "jane.pdf")
	ctx := context.Background()

	resp, err := f.svc.Delete(ctx, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Nil(t, resp.Details)
	assert.Empty(t, f.archive.Objects(), "原始文件应一并删除")

	_, err = f.svc.Delete(ctx, jane.ID)
	assert.ErrorIs(t, err, candidate.ErrCandidateNotFound, "重复删除应返回不存在")

	_, err = f.svc.Delete(ctx, "  ")
	assert.ErrorIs(t, err, candidate.ErrCandidateNotFound)

	require.Len(t, f.events.events, 2)
	assert.Equal(t, types.EventCandidateDeleted, f.events.events[1].Type)
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil, llm.MockResponse{Content: janeJSON}, llm.MockResponse{Content: bobJSON})
	upload(t, f, "jane.pdf")
	upload(t, f, "bob.pdf")

	stats, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalCandidates)
	assert.Equal(t, "candidates", stats.CollectionName)
}

func TestNewCandidateService_RequiresComponents(t *testing.T) {
	_, err := processor.NewCandidateService(processor.Components{})
	assert.ErrorIs(t, err, processor.ErrExtractorNotInit)

	_, err = processor.NewCandidateService(processor.Components{TextExtractor: &fakeTextExtractor{}})
	assert.ErrorIs(t, err, processor.ErrModelsNotInit)
}

func TestCandidateProcessErrorMessage(t *testing.T) {
	err := processor.NewNotAValidResumeError("cv.pdf", []string{"a", "b"})
	var pe *processor.CandidateProcessError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, processor.ErrNotAValidResume.Error()+": a; b", pe.Message())
	assert.Contains(t, err.Error(), "cv.pdf")
}
