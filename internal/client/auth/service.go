package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/growlog/internal/client/storage"
	"github.com/iudanet/growlog/internal/validation"
	"github.com/iudanet/growlog/pkg/api"
)

// APIClient defines the auth API surface used by the service
type APIClient interface {
	Register(ctx context.Context, username, password string) (*api.RegisterResponse, error)
	Login(ctx context.Context, username, password string) (*api.TokenResponse, error)
	SetToken(token string)
}

// OwnershipClaimer claims unowned local records after login
type OwnershipClaimer interface {
	ClaimOwnership(ctx context.Context, ownerID string) (int, error)
}

// Service handles device authentication and session lifecycle
type Service struct {
	api      APIClient
	sessions storage.SessionStorage
	claimer  OwnershipClaimer
	log      *slog.Logger
	nowMs    func() int64
}

// New creates a new auth service
func New(apiClient APIClient, sessions storage.SessionStorage, claimer OwnershipClaimer, log *slog.Logger) *Service {
	return &Service{
		api:      apiClient,
		sessions: sessions,
		claimer:  claimer,
		log:      log,
		nowMs:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Register creates a new account on the server
func (s *Service) Register(ctx context.Context, username, password string) error {
	if err := validation.ValidateUsername(username); err != nil {
		return err
	}
	if err := validation.ValidatePassword(password); err != nil {
		return err
	}

	resp, err := s.api.Register(ctx, username, password)
	if err != nil {
		return err
	}

	s.log.Info("user registered", "user_id", resp.UserID)
	return nil
}

// Login authenticates against the server, stores the session and claims
// ownership of records created before the first login on this device.
func (s *Service) Login(ctx context.Context, username, password string) (*storage.Session, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, err
	}

	resp, err := s.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	session := &storage.Session{
		UserID:      resp.UserID,
		Username:    username,
		AccessToken: resp.AccessToken,
		ExpiresAt:   s.nowMs() + resp.ExpiresIn*1000,
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.api.SetToken(resp.AccessToken)

	// неудачный claim не отменяет логин: следующий логин его повторит
	if _, err := s.claimer.ClaimOwnership(ctx, resp.UserID); err != nil {
		s.log.Warn("failed to claim ownership of local records", "error", err)
	}

	return session, nil
}

// Logout removes the stored session
func (s *Service) Logout(ctx context.Context) error {
	s.api.SetToken("")
	return s.sessions.DeleteSession(ctx)
}

// Session returns the current session and whether it is still valid
func (s *Service) Session(ctx context.Context) (*storage.Session, bool, error) {
	session, err := s.sessions.GetSession(ctx)
	if err != nil {
		return nil, false, err
	}
	return session, session.ExpiresAt > s.nowMs(), nil
}

// Restore loads the stored session into the API client.
// Вызывается при старте приложения.
func (s *Service) Restore(ctx context.Context) (*storage.Session, error) {
	session, err := s.sessions.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	s.api.SetToken(session.AccessToken)
	return session, nil
}
