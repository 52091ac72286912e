package storage

import "context"

// Session представляет сохранённую сессию пользователя на устройстве
type Session struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // epoch-ms истечения access token
}

//go:generate moq -out sessionstorage_mock.go . SessionStorage

// SessionStorage defines interface for storing the device session
type SessionStorage interface {
	// SaveSession stores the current session
	SaveSession(ctx context.Context, session *Session) error

	// GetSession retrieves the current session
	// Returns ErrSessionNotFound if no session exists
	GetSession(ctx context.Context) (*Session, error)

	// DeleteSession removes the current session
	DeleteSession(ctx context.Context) error
}
