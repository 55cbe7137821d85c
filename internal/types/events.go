package types

import "time"

// 候选人事件类型
const (
	EventCandidateCreated = "candidate.created"
	EventCandidateDeleted = "candidate.deleted"
)

// CandidateEvent 候选人生命周期事件
type CandidateEvent struct {
	Type         string    `json:"type"`
	CandidateID  string    `json:"candidate_id"`
	FileName     string    `json:"file_name,omitempty"`
	LLMModelUsed string    `json:"llm_model_used,omitempty"`
	YearsExp     int       `json:"years_exp,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
