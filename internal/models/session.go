package models

import (
	"time"

	"gorm.io/datatypes"
)

// Turn roles within a session history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single message in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session represents one conversation between a user and the chatbot.
// At most one session per user is active (EndTime == nil) at any instant;
// an external process closes sessions by setting EndTime.
type Session struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       uint   `gorm:"index;not null"`
	Title        string `gorm:"size:255"`
	History      datatypes.JSON
	StartTime    time.Time
	LastActivity time.Time
	EndTime      *time.Time `gorm:"index"`
}

func (Session) TableName() string {
	return "sessions"
}
