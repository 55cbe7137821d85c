package models

import (
	"time"

	"gorm.io/datatypes"
)

// CandidateProfile 候选人完整档案表，Profile 保存档案 JSON
type CandidateProfile struct {
	CandidateID  string         `gorm:"type:char(36);primaryKey"`
	FullName     string         `gorm:"type:varchar(255);index:idx_candidate_profiles_full_name"`
	Email        string         `gorm:"type:varchar(255);index:idx_candidate_profiles_email"`
	YearsExp     int            `gorm:"not null;default:0"`
	LLMModelUsed string         `gorm:"type:varchar(255)"`
	FileName     string         `gorm:"type:varchar(512)"`
	Profile      datatypes.JSON `gorm:"type:json;not null"`
	CreatedAt    time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt    time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (CandidateProfile) TableName() string {
	return "candidate_profiles"
}
