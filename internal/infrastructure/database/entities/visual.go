package entities

import (
	"time"

	"gorm.io/datatypes"
)

// Visual represents a persisted image or video.
type Visual struct {
	ID               string         `gorm:"type:varchar(64);primaryKey"`
	BinderID         string         `gorm:"type:varchar(128);primaryKey"`
	Filename         string         `gorm:"type:varchar(512);not null"`
	Extension        string         `gorm:"type:varchar(16);not null"`
	MD5              string         `gorm:"column:md5;type:char(32);not null"`
	Mime             string         `gorm:"type:varchar(128);not null"`
	Status           string         `gorm:"type:varchar(32);not null"`
	Usage            string         `gorm:"type:varchar(32);not null"`
	CommentID        string         `gorm:"type:varchar(128);not null"`
	AccountID        string         `gorm:"type:varchar(128);not null"`
	Formats          datatypes.JSON `gorm:"type:jsonb;not null"`
	OriginalBinderID *string        `gorm:"type:varchar(128)"`
	OriginalVisualID *string        `gorm:"type:varchar(64)"`
	StreamingInfo    datatypes.JSON `gorm:"type:jsonb"`
	AudioEnabled     *bool
	Rotation         *int
	Fit              string         `gorm:"type:varchar(32);not null"`
	LanguageCodes    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
	DeletedAt        *time.Time
}

func (Visual) TableName() string {
	return "visual_api.visuals"
}
