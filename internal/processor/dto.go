package processor

import (
	"strings"

	"ai-ats-go/internal/candidate"
	"ai-ats-go/internal/types"
)

// 默认参数
const (
	DefaultTopK      = 10
	DefaultListLimit = 100
	MinTextChars     = 50
)

// UploadRequest 上传简历请求
type UploadRequest struct {
	FileName  string
	Data      []byte
	ModelHint string
}

// EducationItem 教育经历
type EducationItem struct {
	School *string  `json:"school"`
	Degree *string  `json:"degree"`
	Major  *string  `json:"major"`
	GPA    *float64 `json:"gpa" validate:"omitempty,gte=0"`
	Time   *string  `json:"time"`
}

// ProjectItem 项目经历
type ProjectItem struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Score       *float64 `json:"score" validate:"omitempty,gte=0,lte=10"`
}

// CandidateData 返回给调用方的候选人档案
type CandidateData struct {
	FullName     *string         `json:"full_name"`
	Email        *string         `json:"email" validate:"omitempty,email"`
	Role         *string         `json:"role"`
	YearsExp     int             `json:"years_exp" validate:"gte=0"`
	Education    []EducationItem `json:"education" validate:"dive"`
	Skills       []string        `json:"skills"`
	Projects     []ProjectItem   `json:"projects" validate:"dive"`
	LLMModelUsed string          `json:"llm_model_used,omitempty"`
	FileName     string          `json:"file_name,omitempty"`
}

// NewCandidateData 由档案构造响应数据，列表字段不会为 nil
func NewCandidateData(p types.CandidateProfile) CandidateData {
	d := CandidateData{
		FullName:     p.FullName,
		Email:        p.Email,
		Role:         p.Role,
		YearsExp:     p.YearsExp,
		Education:    make([]EducationItem, 0, len(p.Education)),
		Skills:       append([]string{}, p.Skills...),
		Projects:     make([]ProjectItem, 0, len(p.Projects)),
		LLMModelUsed: p.LLMModelUsed,
		FileName:     p.FileName,
	}
	for _, e := range p.Education {
		d.Education = append(d.Education, EducationItem(e))
	}
	for _, pr := range p.Projects {
		d.Projects = append(d.Projects, ProjectItem(pr))
	}
	return d
}

// UploadResponse 上传成功的响应
type UploadResponse struct {
	Status   string        `json:"status"`
	ID       string        `json:"id"`
	Data     CandidateData `json:"data"`
	Message  string        `json:"message,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// SearchRequest 按职位描述检索
type SearchRequest struct {
	JDText         string `json:"jd_text" form:"jd_text" validate:"required,min=10"`
	MinExp         int    `json:"min_exp" form:"min_exp" validate:"gte=0"`
	TopK           int    `json:"top_k" form:"top_k" validate:"gte=1,lte=50"`
	RequiredSkills string `json:"required_skills" form:"required_skills"` // 逗号分隔
	Model          string `json:"model" form:"model"`
}

// ParseSkills 拆分逗号分隔的技能，没有有效技能时返回 nil
func ParseSkills(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CandidateMatch 检索命中的候选人
type CandidateMatch struct {
	ID         string            `json:"id"`
	Score      float64           `json:"score"`
	FullName   string            `json:"full_name"`
	Email      string            `json:"email"`
	Role       string            `json:"role"`
	YearsExp   int               `json:"years_exp"`
	Skills     []string          `json:"skills"`
	Education  []types.Education `json:"education"`
	Projects   []types.Project   `json:"projects"`
	FileSource string            `json:"file_source"`
	CreatedAt  string            `json:"created_at"`
}

// NewCandidateMatch 由检索结果构造响应项
func NewCandidateMatch(m types.Match) CandidateMatch {
	return CandidateMatch{
		ID:         m.ID,
		Score:      m.Similarity,
		FullName:   m.Metadata.FullName,
		Email:      m.Metadata.Email,
		Role:       m.Metadata.Role,
		YearsExp:   m.Metadata.YearsExp,
		Skills:     m.Metadata.Skills(),
		Education:  m.Metadata.EducationList(),
		Projects:   []types.Project{},
		FileSource: m.Metadata.FileSource,
		CreatedAt:  m.Metadata.CreatedAt,
	}
}

// QueryInfo 检索参数回显
type QueryInfo struct {
	JDLength       int      `json:"jd_length"`
	MinExp         int      `json:"min_exp"`
	TopK           int      `json:"top_k"`
	RequiredSkills []string `json:"required_skills"`
	Model          *string  `json:"model"`
}

// SearchResponse 检索结果
type SearchResponse struct {
	Total     int              `json:"total"`
	Matches   []CandidateMatch `json:"matches"`
	QueryInfo QueryInfo        `json:"query_info"`
}

// ListResponse 候选人列表
type ListResponse struct {
	Total      int                      `json:"total"`
	Candidates []map[string]interface{} `json:"candidates"`
}

// DeleteDetails 各存储的删除结果
type DeleteDetails struct {
	Index   bool `json:"index"`
	Profile bool `json:"profile"`
	Archive bool `json:"archive"`
}

// DeleteResponse 删除结果，部分存储删除失败时 Status 为 partial
type DeleteResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Details *DeleteDetails `json:"details,omitempty"`
}

func newDeleteResponse(o candidate.DeleteOutcome) DeleteResponse {
	if o.OK() {
		return DeleteResponse{Status: "success", Message: "候选人已删除"}
	}
	return DeleteResponse{
		Status:  "partial",
		Message: "候选人已删除，但部分存储清理失败",
		Details: &DeleteDetails{Index: o.Index, Profile: o.Profile, Archive: o.Archive},
	}
}
