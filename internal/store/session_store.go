package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"supportbot/internal/models"
)

// SessionStore provides CRUD access to the sessions table. A session is
// active while its end_time is NULL; closing sessions is an external
// concern, this store only reads, creates, and appends to them.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// GetActiveSession returns the user's active session, or nil when the user
// has none.
func (s *SessionStore) GetActiveSession(ctx context.Context, userID uint) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND end_time IS NULL", userID).
		Order("start_time DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return &session, nil
}

// CreateSession starts a new session for the user with an empty history.
func (s *SessionStore) CreateSession(ctx context.Context, userID uint, title string) (*models.Session, error) {
	now := time.Now()
	session := models.Session{
		UserID:       userID,
		Title:        title,
		History:      datatypes.JSON("[]"),
		StartTime:    now,
		LastActivity: now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &session, nil
}

// UpdateHistory replaces the session's history and bumps its last activity.
func (s *SessionStore) UpdateHistory(ctx context.Context, sessionID uint, turns []models.Turn) error {
	history, err := EncodeHistory(turns)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"history":       history,
			"last_activity": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update session history: %w", err)
	}
	return nil
}

// EncodeHistory serializes turns into the JSON history column format.
func EncodeHistory(turns []models.Turn) (datatypes.JSON, error) {
	if turns == nil {
		turns = []models.Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session history: %w", err)
	}
	return datatypes.JSON(data), nil
}

// DecodeHistory parses the JSON history column. An empty column yields an
// empty history.
func DecodeHistory(history datatypes.JSON) ([]models.Turn, error) {
	if len(history) == 0 {
		return nil, nil
	}
	var turns []models.Turn
	if err := json.Unmarshal(history, &turns); err != nil {
		return nil, fmt.Errorf("invalid session history format: %w", err)
	}
	return turns, nil
}
