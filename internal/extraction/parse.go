package extraction

import (
	"bytes"
	"encoding/json"
	"regexp"
)

// 贪婪匹配第一个 { 到最后一个 }
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ParseJSONObject 从模型输出中提取 JSON 对象，任何失败都返回空 map
func ParseJSONObject(response string) map[string]interface{} {
	out := map[string]interface{}{}
	match := jsonObjectPattern.FindString(response)
	if match == "" {
		return out
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(match)))
	decoder.UseNumber()
	if err := decoder.Decode(&out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
