package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// 索引载荷中的字段名
const (
	MetaFullName     = "full_name"
	MetaEmail        = "email"
	MetaRole         = "role"
	MetaYearsExp     = "years_exp"
	MetaSkillsList   = "skills_list"
	MetaEducation    = "education"
	MetaFileSource   = "file_source"
	MetaCreatedAt    = "created_at"
	MetaLLMModelUsed = "llm_model_used"
	MetaDocument     = "document"
)

// FlatMetadata 写入向量索引的扁平化元数据，空值统一为 ""
type FlatMetadata struct {
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	YearsExp     int    `json:"years_exp"`
	SkillsList   string `json:"skills_list"` // 以 ", " 连接
	Education    string `json:"education"`   // 教育经历 JSON 文本
	FileSource   string `json:"file_source"`
	CreatedAt    string `json:"created_at"`
	LLMModelUsed string `json:"llm_model_used"`
}

// Payload 转为索引载荷
func (m FlatMetadata) Payload() map[string]interface{} {
	return map[string]interface{}{
		MetaFullName:     m.FullName,
		MetaEmail:        m.Email,
		MetaRole:         m.Role,
		MetaYearsExp:     m.YearsExp,
		MetaSkillsList:   m.SkillsList,
		MetaEducation:    m.Education,
		MetaFileSource:   m.FileSource,
		MetaCreatedAt:    m.CreatedAt,
		MetaLLMModelUsed: m.LLMModelUsed,
	}
}

// Skills 拆分 skills_list
func (m FlatMetadata) Skills() []string {
	out := []string{}
	for _, s := range strings.Split(m.SkillsList, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EducationList 解析 education 文本，失败返回空列表
func (m FlatMetadata) EducationList() []Education {
	out := []Education{}
	if m.Education == "" {
		return out
	}
	if err := json.Unmarshal([]byte(m.Education), &out); err != nil || out == nil {
		return []Education{}
	}
	return out
}

// MetadataFromPayload 从索引载荷还原元数据，缺失字段取零值
func MetadataFromPayload(payload map[string]interface{}) FlatMetadata {
	str := func(key string) string {
		switch v := payload[key].(type) {
		case string:
			return v
		case nil:
			return ""
		default:
			b, _ := json.Marshal(v)
			return string(b)
		}
	}
	years := 0
	switch v := payload[MetaYearsExp].(type) {
	case float64:
		years = int(v)
	case int:
		years = v
	case int64:
		years = int(v)
	case json.Number:
		n, _ := v.Int64()
		years = int(n)
	case string:
		years, _ = strconv.Atoi(v)
	}
	return FlatMetadata{
		FullName:     str(MetaFullName),
		Email:        str(MetaEmail),
		Role:         str(MetaRole),
		YearsExp:     years,
		SkillsList:   str(MetaSkillsList),
		Education:    str(MetaEducation),
		FileSource:   str(MetaFileSource),
		CreatedAt:    str(MetaCreatedAt),
		LLMModelUsed: str(MetaLLMModelUsed),
	}
}

// SearchQuery 向量检索请求
type SearchQuery struct {
	Embedding      []float64
	TopK           int
	MinExp         int
	RequiredSkills []string
}

// Match 检索命中，Similarity 在 [0,1] 之间并保留四位小数
type Match struct {
	ID         string
	Similarity float64
	Metadata   FlatMetadata
}

// CandidateRecord 完整的候选人记录
type CandidateRecord struct {
	ID        string
	Document  string
	Metadata  FlatMetadata
	Profile   *CandidateProfile // 档案存储不可用时为 nil
	Embedding []float64
}

// IndexHit 向量索引中的一条记录
type IndexHit struct {
	ID       string
	Score    float64 // 余弦相似度，非检索场景为 0
	Payload  map[string]interface{}
	Document string
}

// Metadata 解析载荷
func (h IndexHit) Metadata() FlatMetadata {
	return MetadataFromPayload(h.Payload)
}
