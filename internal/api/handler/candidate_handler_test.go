package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"ai-ats-go/internal/candidate"
	"ai-ats-go/internal/config"
	"ai-ats-go/internal/extraction"
	"ai-ats-go/internal/llm"
	"ai-ats-go/internal/processor"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequestContext(method, uri, contentType, body string) *app.RequestContext {
	c := app.NewContext(16)
	c.Request.Header.SetMethod(method)
	c.Request.SetRequestURI(uri)
	if contentType != "" {
		c.Request.Header.SetContentTypeBytes([]byte(contentType))
	}
	if body != "" {
		c.Request.SetBodyString(body)
	}
	return c
}

func decodeError(t *testing.T, c *app.RequestContext) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(c.Response.Body(), &resp), "响应应为 JSON: %s", c.Response.Body())
	return resp
}

func TestParseSearchRequest_Form(t *testing.T) {
	c := newRequestContext(http.MethodPost, "/api/search", "application/x-www-form-urlencoded",
		"jd_text=Backend+engineer&min_exp=3&top_k=+7+&required_skills=go,sql&model=openai:gpt-4o")

	req, err := parseSearchRequest(c)
	require.NoError(t, err)
	assert.Equal(t, "Backend engineer", req.JDText)
	assert.Equal(t, 3, req.MinExp)
	assert.Equal(t, 7, req.TopK, "数字两侧的空白应被忽略")
	assert.Equal(t, "go,sql", req.RequiredSkills)
	assert.Equal(t, "openai:gpt-4o", req.Model)
}

func TestParseSearchRequest_FormRejectsNonInteger(t *testing.T) {
	c := newRequestContext(http.MethodPost, "/api/search", "application/x-www-form-urlencoded",
		"jd_text=Backend+engineer&min_exp=three")

	_, err := parseSearchRequest(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_exp")
}

func TestParseSearchRequest_JSON(t *testing.T) {
	c := newRequestContext(http.MethodPost, "/api/search", "Application/JSON; charset=utf-8",
		`{"jd_text": "Backend engineer", "top_k": 4}`)

	req, err := parseSearchRequest(c)
	require.NoError(t, err)
	assert.Equal(t, "Backend engineer", req.JDText)
	assert.Equal(t, 4, req.TopK)
	assert.Zero(t, req.MinExp, "未提供的字段保持零值，由服务层补默认值")

	c = newRequestContext(http.MethodPost, "/api/search", "application/json", `{"jd_text": `)
	_, err = parseSearchRequest(c)
	assert.Error(t, err, "非法 JSON 应返回错误")
}

func TestWriteError_StatusMapping(t *testing.T) {
	h := &CandidateHandler{logger: zerolog.Nop()}
	cases := []struct {
		name   string
		err    error
		status int
		label  string
	}{
		{"候选人不存在", fmt.Errorf("删除: %w", candidate.ErrCandidateNotFound), http.StatusNotFound, "Not Found"},
		{"文件类型错误", processor.NewInvalidDocumentTypeError("cv.docx"), http.StatusBadRequest, "Bad Request"},
		{"模型不可用", processor.NewModelUnavailableError("gpt-9", ""), http.StatusBadRequest, "Bad Request"},
		{"内容过短", processor.NewContentTooShortError("cv.pdf", 12), http.StatusBadRequest, "Bad Request"},
		{"参数无效", processor.NewInvalidRequestError("search", errors.New("top_k 超出范围")), http.StatusBadRequest, "Bad Request"},
		{"档案格式错误", processor.NewProfileFormatError("cv.pdf", errors.New("years_exp")), http.StatusInternalServerError, "Profile Format Error"},
		{"文本提取失败", processor.NewTextExtractionError("cv.pdf", errors.New("bad xref")), http.StatusInternalServerError, "Internal Server Error"},
		{"未知错误", errors.New("boom"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := app.NewContext(16)
			h.writeError(c, tc.err)
			assert.Equal(t, tc.status, c.Response.StatusCode())
			assert.Equal(t, tc.label, decodeError(t, c).Error)
		})
	}
}

func TestWriteError_ReasonsAndDetail(t *testing.T) {
	h := &CandidateHandler{logger: zerolog.Nop()}

	c := app.NewContext(16)
	h.writeError(c, processor.NewNotAValidResumeError("essay.pdf", []string{extraction.ReasonContentTooShort}))
	resp := decodeError(t, c)
	assert.Equal(t, http.StatusBadRequest, c.Response.StatusCode())
	assert.Equal(t, []string{extraction.ReasonContentTooShort}, resp.Reasons)
	assert.NotContains(t, resp.Detail, "essay.pdf", "对外描述不应包含文件名")

	c = app.NewContext(16)
	h.writeError(c, processor.NewModelUnavailableError("gpt-9", "模型 'gpt-9' 不可用，可用: gpt-4o"))
	assert.Equal(t, "模型 'gpt-9' 不可用，可用: gpt-4o", decodeError(t, c).Detail)
}

func TestHandleList_InvalidLimit(t *testing.T) {
	h := &CandidateHandler{logger: zerolog.Nop()}
	for _, uri := range []string{"/api/candidates?limit=abc", "/api/candidates?limit=0", "/api/candidates?limit=-3"} {
		c := newRequestContext(http.MethodGet, uri, "", "")
		h.HandleList(context.Background(), c)
		assert.Equal(t, http.StatusBadRequest, c.Response.StatusCode(), "uri=%s", uri)
	}
}

type staticCatalogue struct {
	providers []llm.ProviderInfo
	def       llm.Target
	hasDef    bool
}

func (s staticCatalogue) Providers() []llm.ProviderInfo { return s.providers }
func (s staticCatalogue) Default() (llm.Target, bool) { return s.def, s.hasDef }

func TestHandleModels_EmptyCatalogue(t *testing.T) {
	h := &CandidateHandler{models: staticCatalogue{}, logger: zerolog.Nop()}
	c := app.NewContext(16)
	h.HandleModels(context.Background(), c)

	require.Equal(t, http.StatusOK, c.Response.StatusCode())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(c.Response.Body(), &resp))
	assert.Equal(t, "", resp["default"])
	assert.Equal(t, []interface{}{}, resp["providers"], "没有提供方时应返回空数组而不是 null")
}

func TestHandleModels_Default(t *testing.T) {
	provider := llm.NewMockProvider(config.ProviderOpenAI, []string{"gpt-4o"})
	h := &CandidateHandler{
		models: staticCatalogue{
			providers: []llm.ProviderInfo{{Name: config.ProviderOpenAI, Models: []string{"gpt-4o"}, IsDefault: true}},
			def:       llm.Target{Provider: provider, Model: "gpt-4o"},
			hasDef:    true,
		},
		logger: zerolog.Nop(),
	}
	c := app.NewContext(16)
	h.HandleModels(context.Background(), c)

	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(c.Response.Body(), &resp))
	assert.Equal(t, "openai:gpt-4o", resp.Default)
	require.Len(t, resp.Providers, 1)
}
