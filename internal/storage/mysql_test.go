package storage_test

import (
	"testing"

	"ai-ats-go/internal/config"
	"ai-ats-go/internal/storage"
	"ai-ats-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileRecordRoundTrip(t *testing.T) {
	p := types.EmptyProfile()
	p.FullName = types.StrPtr("Jane Doe")
	p.Email = types.StrPtr("jane@x.com")
	p.YearsExp = 5
	p.Skills = []string{"Python", "SQL"}
	p.LLMModelUsed = "openai:gpt-4o"
	p.FileName = "jane.pdf"

	record, err := storage.ToProfileRecord("id-1", p)
	require.NoError(t, err)
	assert.Equal(t, "id-1", record.CandidateID)
	assert.Equal(t, "Jane Doe", record.FullName)
	assert.Equal(t, 5, record.YearsExp)
	assert.Equal(t, "candidate_profiles", record.TableName())

	back, err := storage.FromProfileRecord(record)
	require.NoError(t, err)
	assert.Equal(t, p, back, "档案经数据库记录往返后应保持一致")
}

func TestFromProfileRecordInvalidJSON(t *testing.T) {
	record, err := storage.ToProfileRecord("id-1", types.EmptyProfile())
	require.NoError(t, err)
	record.Profile = []byte("{broken")
	_, err = storage.FromProfileRecord(record)
	assert.Error(t, err)
}

func TestBuildDSN(t *testing.T) {
	dsn := storage.BuildDSN(&config.MySQLConfig{
		Host: "db", Port: 3306, Username: "ats", Password: "pw", Database: "ats",
		ConnectTimeoutSeconds: 5, ReadTimeoutSeconds: 10, WriteTimeoutSeconds: 10,
	})
	assert.Equal(t, "ats:pw@tcp(db:3306)/ats?charset=utf8mb4&parseTime=True&loc=Local&timeout=5s&readTimeout=10s&writeTimeout=10s", dsn)
}
