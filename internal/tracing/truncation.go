package tracing

import "strings"

const (
	maxErrorMessageLength = 300
	maxRedisKeyLength     = 100
)

// MaskPII 掩码候选人姓名、邮箱等个人信息后再写入日志或 span。
// 两个字符保留首字，三到四个字符保留首尾，更长的保留前两位和后两位
func MaskPII(value string) string {
	runes := []rune(value)
	n := len(runes)
	switch {
	case n == 0:
		return ""
	case n == 1:
		return "*"
	case n == 2:
		return string(runes[0]) + "*"
	case n <= 4:
		return string(runes[0]) + strings.Repeat("*", n-2) + string(runes[n-1])
	default:
		return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
	}
}

// TruncateString 超过 maxLength 个字符时保留首尾，中间以 ... 连接
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// SafeRedisKey 截断过长的缓存键
func SafeRedisKey(key string) string {
	return TruncateString(key, maxRedisKeyLength)
}
