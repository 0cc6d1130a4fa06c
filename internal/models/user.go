package models

import "time"

// User represents an account in the ticket system's users table. The chat
// backend only reads it: tokens carry the user's identity and the query
// endpoint resolves it to an ID for session lookups.
type User struct {
	ID          uint   `gorm:"primaryKey"`
	Email       string `gorm:"uniqueIndex;not null"`
	Password    string `gorm:"size:255" json:"-"`
	Role        string `gorm:"size:64"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

func (User) TableName() string {
	return "users"
}
