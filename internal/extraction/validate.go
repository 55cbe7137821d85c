package extraction

import (
	"strings"
	"unicode/utf8"

	"ai-ats-go/internal/types"
)

// 简历校验失败原因，按检查顺序排列
const (
	ReasonInvalidName     = "缺少或无效的姓名"
	ReasonInvalidEmail    = "缺少或无效的邮箱"
	ReasonNoProfessional  = "缺少职位、技能与工作年限信息"
	ReasonContentTooShort = "简历文本内容过短"
)

const (
	minNameChars = 2
	minTextChars = 100
)

// Validate 判断抽取结果是否像一份简历，返回全部不满足的原因
func Validate(p types.CandidateProfile, rawText string) (bool, []string) {
	var reasons []string

	name := strings.TrimSpace(types.Str(p.FullName))
	if name == "" || strings.EqualFold(name, "N/A") || utf8.RuneCountInString(name) < minNameChars {
		reasons = append(reasons, ReasonInvalidName)
	}

	if !types.IsValidEmail(types.Str(p.Email)) {
		reasons = append(reasons, ReasonInvalidEmail)
	}

	role := strings.TrimSpace(types.Str(p.Role))
	if (role == "" || strings.EqualFold(role, "N/A")) && len(p.Skills) == 0 && p.YearsExp == 0 {
		reasons = append(reasons, ReasonNoProfessional)
	}

	if utf8.RuneCountInString(strings.TrimSpace(rawText)) < minTextChars {
		reasons = append(reasons, ReasonContentTooShort)
	}

	return len(reasons) == 0, reasons
}
