package extraction

import (
	"strings"
	"unicode/utf8"
)

const promptTemplate = `You are an AI assistant specialized in parsing CV/Resume.

Extract the following information and return ONLY a valid JSON object.

Required format:
{
  "full_name": string,
  "email": string,
  "role": string,
  "years_exp": integer,
  "education": [
    {
      "school": string,
      "degree": string,
      "major": string,
      "gpa": number | null,
      "time": string
    }
  ],
  "skills": array of strings,
  "projects": [
    {
      "name": string,
      "description": string,
      "score": number (0-10)
    }
  ]
}

Rules:
- GPA must be a NUMBER (example: 3.2), not string.
- If GPA is not found, return null.
- "years_exp" must be an INTEGER number of years of professional experience.
- If no education, skill or project is found, return an empty array [] instead of omitting the field.
- "score" must be based on:
  + complexity
  + technologies used
  + real-world applicability
  (0 = very weak, 10 = excellent)

CV TEXT:
`

// BuildPrompt 生成抽取提示词，text 应已截断
func BuildPrompt(text string) string {
	var sb strings.Builder
	sb.Grow(len(promptTemplate) + len(text))
	sb.WriteString(promptTemplate)
	sb.WriteString(text)
	return sb.String()
}

// Truncate 按字符数截断，不会切断多字节字符
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars])
}
