package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/growlog/internal/faults"
	"github.com/iudanet/growlog/internal/models"
)

// PushNotification — payload задачи push_notification
type PushNotification struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
}

//go:generate moq -out pushsender_mock.go . PushSender

// PushSender delivers a notification to the push provider
type PushSender interface {
	Send(ctx context.Context, note *PushNotification) error
}

// PushNotificationHandler executes push_notification tasks
type PushNotificationHandler struct {
	sender PushSender
	log    *slog.Logger
}

// NewPushNotificationHandler creates a handler backed by the given sender
func NewPushNotificationHandler(sender PushSender, log *slog.Logger) *PushNotificationHandler {
	return &PushNotificationHandler{sender: sender, log: log}
}

func (h *PushNotificationHandler) Kind() string {
	return models.TaskKindPushNotification
}

func (h *PushNotificationHandler) Handle(ctx context.Context, task *models.QueuedTask) error {
	var note PushNotification
	if err := json.Unmarshal(task.Payload, &note); err != nil {
		// сломанный payload не станет валидным от повторов
		return fmt.Errorf("%w: malformed notification payload: %v", faults.ErrValidation, err)
	}
	if note.UserID == "" {
		return fmt.Errorf("%w: notification without user_id", faults.ErrValidation)
	}

	if err := h.sender.Send(ctx, &note); err != nil {
		return err
	}

	h.log.Debug("push notification delivered", "user_id", note.UserID)
	return nil
}

// HTTPPushSender posts notifications to an external provider endpoint
type HTTPPushSender struct {
	httpClient *http.Client
	url        string
}

// NewHTTPPushSender creates a sender for the provider URL
func NewHTTPPushSender(url string) *HTTPPushSender {
	return &HTTPPushSender{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send delivers one notification, classifying provider failures
func (s *HTTPPushSender) Send(ctx context.Context, note *PushNotification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal notification: %v", faults.ErrValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// адресат исчез: доставка не станет возможной
		return fmt.Errorf("%w: provider returned %d", faults.ErrPermanentDestination, resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: provider returned %d", faults.ErrTransient, resp.StatusCode)
	default:
		return fmt.Errorf("%w: provider returned %d", faults.ErrValidation, resp.StatusCode)
	}
}
