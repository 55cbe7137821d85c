package types

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CreatedAtLayout 候选人入库时间格式
const CreatedAtLayout = "2006-01-02 15:04:05"

// EmailPattern 邮箱校验规则，抽取、校验与兜底解析共用
var EmailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// IsValidEmail 判断字符串是否包含合法邮箱
func IsValidEmail(s string) bool {
	return s != "" && EmailPattern.MatchString(s)
}

// Education 教育经历
type Education struct {
	School *string  `json:"school"`
	Degree *string  `json:"degree"`
	Major  *string  `json:"major"`
	GPA    *float64 `json:"gpa"`
	Time   *string  `json:"time"`
}

// Project 项目经历，Score 取值 0-10
type Project struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Score       *float64 `json:"score"`
}

// CandidateProfile 从简历中抽取的结构化档案
type CandidateProfile struct {
	FullName  *string     `json:"full_name"`
	Email     *string     `json:"email"`
	Role      *string     `json:"role"`
	YearsExp  int         `json:"years_exp"`
	Skills    []string    `json:"skills"`
	Education []Education `json:"education"`
	Projects  []Project   `json:"projects"`

	LLMModelUsed string `json:"llm_model_used,omitempty"` // 产出该档案的模型
	FileName     string `json:"file_name,omitempty"`      // 原始文件名
}

// EmptyProfile 返回所有字段为默认值的档案
func EmptyProfile() CandidateProfile {
	return CandidateProfile{
		Skills:    []string{},
		Education: []Education{},
		Projects:  []Project{},
	}
}

// IsEmpty 档案是否没有任何有效信息
func (p CandidateProfile) IsEmpty() bool {
	return p.FullName == nil && p.Email == nil && p.Role == nil &&
		p.YearsExp == 0 && len(p.Skills) == 0 && len(p.Education) == 0 && len(p.Projects) == 0
}

// Str 安全取值，nil 返回空串
func Str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StrPtr 返回字符串指针
func StrPtr(s string) *string {
	return &s
}

// ToMap 将档案转换为通用 map，用于与索引元数据合并
func (p CandidateProfile) ToMap() map[string]interface{} {
	data, err := json.Marshal(p)
	if err != nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// ProfileFromMap 把任意解码后的 JSON 转换为档案，任何字段都不会导致失败
func ProfileFromMap(m map[string]interface{}) CandidateProfile {
	p := EmptyProfile()
	if m == nil {
		return p
	}
	p.FullName = toStringPtr(m["full_name"])
	p.Email = toStringPtr(m["email"])
	if p.Email != nil && !IsValidEmail(*p.Email) {
		p.Email = nil
	}
	p.Role = toStringPtr(m["role"])
	p.YearsExp = toNonNegativeInt(m["years_exp"])
	p.Skills = toStringList(m["skills"])

	for _, item := range toObjectList(m["education"]) {
		p.Education = append(p.Education, Education{
			School: toStringPtr(item["school"]),
			Degree: toStringPtr(item["degree"]),
			Major:  toStringPtr(item["major"]),
			GPA:    toFloatPtr(item["gpa"]),
			Time:   toStringPtr(item["time"]),
		})
	}
	for _, item := range toObjectList(m["projects"]) {
		score := toFloatPtr(item["score"])
		if score != nil {
			clamped := math.Max(0, math.Min(10, *score))
			score = &clamped
		}
		p.Projects = append(p.Projects, Project{
			Name:        toStringPtr(item["name"]),
			Description: toStringPtr(item["description"]),
			Score:       score,
		})
	}
	if v, ok := m["llm_model_used"].(string); ok {
		p.LLMModelUsed = v
	}
	if v, ok := m["file_name"].(string); ok {
		p.FileName = v
	}
	return p
}

func isNullSentinel(s string) bool {
	switch strings.ToLower(s) {
	case "", "n/a", "null", "none":
		return true
	}
	return false
}

func toStringPtr(v interface{}) *string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if isNullSentinel(s) {
			return nil
		}
		return &s
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case json.Number:
		s := t.String()
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	}
	return nil
}

func toFloatPtr(v interface{}) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func toNonNegativeInt(v interface{}) int {
	f := toFloatPtr(v)
	// 超出 int32 的年限无法表示，按缺省值处理
	if f == nil || *f < 0 || *f > math.MaxInt32 {
		return 0
	}
	return int(*f)
}

func toStringList(v interface{}) []string {
	out := []string{}
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if s := toStringPtr(item); s != nil {
				out = append(out, *s)
			}
		}
	case []string:
		for _, item := range t {
			if s := toStringPtr(item); s != nil {
				out = append(out, *s)
			}
		}
	default:
		// 单值技能包装为列表
		if s := toStringPtr(t); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func toObjectList(v interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
	case map[string]interface{}:
		out = append(out, t)
	}
	return out
}
