// Package handler 实现候选人相关的 HTTP 接口。
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"ai-ats-go/internal/candidate"
	"ai-ats-go/internal/llm"
	"ai-ats-go/internal/processor"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
)

// ModelCatalogue 模型目录，由 llm.Registry 实现
type ModelCatalogue interface {
	Providers() []llm.ProviderInfo
	Default() (llm.Target, bool)
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error   string   `json:"error"`
	Detail  string   `json:"detail,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

// ModelsResponse 模型目录响应
type ModelsResponse struct {
	Default   string             `json:"default"`
	Providers []llm.ProviderInfo `json:"providers"`
}

// CandidateHandler 候选人接口
type CandidateHandler struct {
	service *processor.CandidateService
	models  ModelCatalogue
	name    string
	version string
	logger  zerolog.Logger
}

// NewCandidateHandler 创建候选人接口
func NewCandidateHandler(service *processor.CandidateService, models ModelCatalogue, name, version string, logger zerolog.Logger) *CandidateHandler {
	return &CandidateHandler{
		service: service,
		models:  models,
		name:    name,
		version: version,
		logger:  logger,
	}
}

// HandleStatus GET /
func (h *CandidateHandler) HandleStatus(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{
		"status":    "online",
		"service":   h.name,
		"version":   h.version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleHealth GET /api/health
func (h *CandidateHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

// HandleStats GET /api/stats
func (h *CandidateHandler) HandleStats(ctx context.Context, c *app.RequestContext) {
	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("获取统计信息失败")
		c.JSON(consts.StatusInternalServerError, ErrorResponse{
			Error:  "Internal Server Error",
			Detail: fmt.Sprintf("获取统计信息失败: %v", err),
		})
		return
	}
	c.JSON(consts.StatusOK, stats)
}

// HandleModels GET /api/models
func (h *CandidateHandler) HandleModels(ctx context.Context, c *app.RequestContext) {
	resp := ModelsResponse{Providers: h.models.Providers()}
	if def, ok := h.models.Default(); ok {
		resp.Default = def.String()
	}
	if resp.Providers == nil {
		resp.Providers = []llm.ProviderInfo{}
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleUpload POST /api/candidates
func (h *CandidateHandler) HandleUpload(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, ErrorResponse{Error: "Bad Request", Detail: "文件未找到"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error", Detail: "打开文件失败"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error", Detail: "读取文件失败"})
		return
	}

	resp, err := h.service.Upload(ctx, processor.UploadRequest{
		FileName:  fileHeader.Filename,
		Data:      data,
		ModelHint: c.PostForm("model"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleList GET /api/candidates?limit=
func (h *CandidateHandler) HandleList(ctx context.Context, c *app.RequestContext) {
	limit := processor.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(consts.StatusBadRequest, ErrorResponse{Error: "Bad Request", Detail: "limit 必须是正整数"})
			return
		}
		limit = n
	}

	resp, err := h.service.List(ctx, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleDelete DELETE /api/candidates/:id
func (h *CandidateHandler) HandleDelete(ctx context.Context, c *app.RequestContext) {
	resp, err := h.service.Delete(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleSearch POST /api/search，支持表单和 JSON
func (h *CandidateHandler) HandleSearch(ctx context.Context, c *app.RequestContext) {
	req, err := parseSearchRequest(c)
	if err != nil {
		c.JSON(consts.StatusBadRequest, ErrorResponse{Error: "Bad Request", Detail: err.Error()})
		return
	}
	resp, err := h.service.Search(ctx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, resp)
}

func parseSearchRequest(c *app.RequestContext) (processor.SearchRequest, error) {
	var req processor.SearchRequest
	if bytes.HasPrefix(bytes.ToLower(c.ContentType()), []byte("application/json")) {
		if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
			return req, fmt.Errorf("请求体不是有效的 JSON: %w", err)
		}
		return req, nil
	}

	req.JDText = c.PostForm("jd_text")
	req.RequiredSkills = c.PostForm("required_skills")
	req.Model = c.PostForm("model")
	for field, dst := range map[string]*int{"min_exp": &req.MinExp, "top_k": &req.TopK} {
		raw := strings.TrimSpace(c.PostForm(field))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, fmt.Errorf("%s 必须是整数", field)
		}
		*dst = n
	}
	return req, nil
}

// writeError 把服务层错误映射为 HTTP 响应
func (h *CandidateHandler) writeError(c *app.RequestContext, err error) {
	var pe *processor.CandidateProcessError
	switch {
	case errors.Is(err, candidate.ErrCandidateNotFound):
		c.JSON(consts.StatusNotFound, ErrorResponse{Error: "Not Found", Detail: "候选人不存在"})
	case errors.Is(err, processor.ErrInvalidDocumentType),
		errors.Is(err, processor.ErrModelUnavailable),
		errors.Is(err, processor.ErrExtractedContentTooShort),
		errors.Is(err, processor.ErrNotAValidResume),
		errors.Is(err, processor.ErrInvalidRequest):
		resp := ErrorResponse{Error: "Bad Request", Detail: err.Error(), Reasons: processor.Reasons(err)}
		if errors.As(err, &pe) {
			resp.Detail = pe.Message()
		}
		h.logger.Warn().Err(err).Msg("请求被拒绝")
		c.JSON(consts.StatusBadRequest, resp)
	case errors.Is(err, processor.ErrProfileFormat):
		h.logger.Error().Err(err).Msg("候选人档案格式错误")
		c.JSON(consts.StatusInternalServerError, ErrorResponse{Error: "Profile Format Error", Detail: err.Error()})
	default:
		h.logger.Error().Err(err).Msg("请求处理失败")
		c.JSON(consts.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error", Detail: err.Error()})
	}
}
