package entities

import (
	"time"

	"gorm.io/datatypes"
)

// VisualProcessingJob is the persisted state of background work for one visual.
type VisualProcessingJob struct {
	VisualID    string         `gorm:"type:varchar(64);primaryKey"`
	Step        string         `gorm:"type:varchar(32);not null"`
	StepDetails datatypes.JSON `gorm:"type:jsonb;not null"`
	AccountID   string         `gorm:"type:varchar(128);not null"`
	Retries     int            `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (VisualProcessingJob) TableName() string {
	return "visual_api.visual_processing_jobs"
}
