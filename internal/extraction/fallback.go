package extraction

import (
	"strings"
	"unicode/utf8"

	"ai-ats-go/internal/types"
)

// RegexStrategyName 兜底策略名称，记录在 llm_model_used 中
const RegexStrategyName = "regex"

// maxFallbackNameChars 兜底解析时姓名的最大长度
const maxFallbackNameChars = 50

// commonSkills 兜底解析识别的技能，按输出顺序排列
var commonSkills = []string{
	"python", "java", "javascript", "react", "docker",
	"aws", "kubernetes", "sql", "mongodb", "fastapi",
}

// RegexExtract 使用正则与关键字做最基础的抽取
func RegexExtract(text string) map[string]interface{} {
	data := map[string]interface{}{
		"full_name": nil,
		"email":     nil,
		"role":      nil,
		"years_exp": 0,
		"skills":    []interface{}{},
		"education": []interface{}{},
		"projects":  []interface{}{},
	}

	if email := types.EmailPattern.FindString(text); email != "" {
		data["email"] = email
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxFallbackNameChars {
			line = string([]rune(line)[:maxFallbackNameChars])
		}
		data["full_name"] = line
		break
	}

	lower := strings.ToLower(text)
	skills := []interface{}{}
	for _, skill := range commonSkills {
		if strings.Contains(lower, skill) {
			skills = append(skills, skill)
		}
	}
	data["skills"] = skills
	return data
}
