package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	m := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestProfileFromMapFullDocument(t *testing.T) {
	m := decode(t, `{
		"full_name": " Jane Doe ",
		"email": "jane@x.com",
		"role": "Backend Engineer",
		"years_exp": 5,
		"education": [{"school": "MIT", "degree": "BSc", "major": "CS", "gpa": 3.8, "time": "2015-2019"}],
		"skills": ["Python", "Docker", ""],
		"projects": [{"name": "ATS", "description": "matching", "score": 12}]
	}`)

	p := ProfileFromMap(m)
	assert.Equal(t, "Jane Doe", Str(p.FullName), "姓名应去除首尾空格")
	assert.Equal(t, "jane@x.com", Str(p.Email))
	assert.Equal(t, 5, p.YearsExp)
	assert.Equal(t, []string{"Python", "Docker"}, p.Skills, "空技能应被丢弃")
	require.Len(t, p.Education, 1)
	require.NotNil(t, p.Education[0].GPA)
	assert.Equal(t, 3.8, *p.Education[0].GPA)
	require.Len(t, p.Projects, 1)
	assert.Equal(t, 10.0, *p.Projects[0].Score, "项目评分应被截断到 10")
}

func TestProfileFromMapCoercion(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		years    int
		skills   []string
		hasEmail bool
	}{
		{"字符串年限", `{"years_exp": "7"}`, 7, []string{}, false},
		{"浮点年限", `{"years_exp": 3.9}`, 3, []string{}, false},
		{"非法年限", `{"years_exp": "many"}`, 0, []string{}, false},
		{"负数年限", `{"years_exp": -2}`, 0, []string{}, false},
		{"超大年限", `{"years_exp": 1e20}`, 0, []string{}, false},
		{"超大字符串年限", `{"years_exp": "1e300"}`, 0, []string{}, false},
		{"接近int64上限", `{"years_exp": 9.3e18}`, 0, []string{}, false},
		{"单值技能", `{"skills": "Go"}`, 0, []string{"Go"}, false},
		{"空技能", `{"skills": null}`, 0, []string{}, false},
		{"非法邮箱", `{"email": "not-an-email"}`, 0, []string{}, false},
		{"合法邮箱", `{"email": "a.b@corp.io"}`, 0, []string{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ProfileFromMap(decode(t, tc.raw))
			assert.Equal(t, tc.years, p.YearsExp)
			assert.Equal(t, tc.skills, p.Skills)
			assert.Equal(t, tc.hasEmail, p.Email != nil)
			assert.NotNil(t, p.Education)
			assert.NotNil(t, p.Projects)
		})
	}
}

func TestProfileFromMapNilAndSentinels(t *testing.T) {
	p := ProfileFromMap(nil)
	assert.True(t, p.IsEmpty())

	p = ProfileFromMap(map[string]interface{}{"full_name": "N/A", "role": "null"})
	assert.Nil(t, p.FullName, "N/A 应视为空值")
	assert.Nil(t, p.Role)
}

func TestProfileFromMapSingleEducationObject(t *testing.T) {
	p := ProfileFromMap(decode(t, `{"education": {"school": "Tsinghua", "gpa": "3.6"}}`))
	require.Len(t, p.Education, 1, "单个对象应被包装为列表")
	assert.Equal(t, "Tsinghua", Str(p.Education[0].School))
	assert.Equal(t, 3.6, *p.Education[0].GPA)
}

func TestMetadataPayloadRoundTrip(t *testing.T) {
	meta := FlatMetadata{
		FullName:   "Jane Doe",
		YearsExp:   4,
		SkillsList: "Python, Docker",
		Education:  `[{"school":"MIT","degree":null,"major":null,"gpa":null,"time":null}]`,
		CreatedAt:  "2024-01-02 03:04:05",
	}

	// 模拟经过 JSON 传输后的载荷，数字变为 float64
	data, err := json.Marshal(meta.Payload())
	require.NoError(t, err)
	payload := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(data, &payload))

	got := MetadataFromPayload(payload)
	assert.Equal(t, meta, got)
	assert.Equal(t, []string{"Python", "Docker"}, got.Skills())
	require.Len(t, got.EducationList(), 1)
	assert.Equal(t, "MIT", Str(got.EducationList()[0].School))
}

func TestEducationListInvalidJSON(t *testing.T) {
	meta := FlatMetadata{Education: "{broken"}
	assert.Empty(t, meta.EducationList())
	assert.NotNil(t, meta.EducationList())
}
