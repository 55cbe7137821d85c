package candidate

import (
	"encoding/json"
	"strings"
	"time"

	"ai-ats-go/internal/types"
)

// Flatten 将档案转换为索引元数据，空值统一为 ""
func Flatten(p types.CandidateProfile, fileName string, createdAt time.Time) types.FlatMetadata {
	skills := make([]string, 0, len(p.Skills))
	for _, s := range p.Skills {
		if s = strings.TrimSpace(s); s != "" {
			skills = append(skills, s)
		}
	}

	education := "[]"
	if len(p.Education) > 0 {
		if b, err := json.Marshal(p.Education); err == nil {
			education = string(b)
		}
	}

	years := p.YearsExp
	if years < 0 {
		years = 0
	}

	return types.FlatMetadata{
		FullName:     types.Str(p.FullName),
		Email:        types.Str(p.Email),
		Role:         types.Str(p.Role),
		YearsExp:     years,
		SkillsList:   strings.Join(skills, ", "),
		Education:    education,
		FileSource:   fileName,
		CreatedAt:    createdAt.Format(types.CreatedAtLayout),
		LLMModelUsed: p.LLMModelUsed,
	}
}
