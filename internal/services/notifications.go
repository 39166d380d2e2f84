package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/repository"
)

var validNotificationTypes = map[models.NotificationType]bool{
	models.NotifyCompanionApplied:  true,
	models.NotifyCompanionAccepted: true,
	models.NotifyCompanionRejected: true,
	models.NotifyCompanionFinished: true,
	models.NotifyParticipantJoined: true,
	models.NotifyParticipationDone: true,
}

// ValidNotificationType reports whether t is a known notification type.
func ValidNotificationType(t string) bool {
	return validNotificationTypes[models.NotificationType(t)]
}

// Notifications writes and reads in-app notifications.
type Notifications struct {
	store repository.Store
	log   zerolog.Logger
}

func NewNotifications(store repository.Store) *Notifications {
	return &Notifications{store: store, log: logging.For("notifications")}
}

// Create validates and stores one notification.
func (s *Notifications) Create(
	ctx context.Context,
	userID int64,
	nType models.NotificationType,
	title string,
	message *string,
	data map[string]any,
) error {
	if userID <= 0 {
		return invalid("user_id is required")
	}
	if strings.TrimSpace(title) == "" {
		return invalid("notification title is required")
	}
	if len(title) > 255 {
		return invalid("notification title exceeds maximum length of 255 characters")
	}
	if message != nil && len(*message) > 10000 {
		return invalid("notification message exceeds maximum length of 10000 characters")
	}
	if !validNotificationTypes[nType] {
		s.log.Warn().Str("type", string(nType)).Int64(logging.USER, userID).Msg("unknown notification type")
	}
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal notification data: %w", err)
		}
		if len(raw) > 1024*1024 {
			return invalid("notification data exceeds maximum size of 1MB")
		}
	}

	insertCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := s.store.InsertNotification(insertCtx, &models.Notification{
		ID:      uuid.New(),
		UserID:  userID,
		Type:    nType,
		Title:   title,
		Message: message,
		Data:    data,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("notification creation timeout: %w", err)
		}
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// Notify is Create for side effects of other operations: failures are logged, never returned.
func (s *Notifications) Notify(ctx context.Context, userID int64, nType models.NotificationType, title, message string, data map[string]any) {
	if s == nil || userID <= 0 {
		return
	}
	var msg *string
	if message != "" {
		msg = &message
	}
	if err := s.Create(ctx, userID, nType, title, msg, data); err != nil {
		s.log.Error().Err(err).Int64(logging.USER, userID).Str("type", string(nType)).Msg("notification not stored")
	}
}

// List returns one page of the user's notifications, newest first.
func (s *Notifications) List(ctx context.Context, userID int64, f repository.NotificationFilter) (repository.NotificationPage, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Type != "" && !ValidNotificationType(f.Type) {
		return repository.NotificationPage{}, invalid("invalid notification type")
	}
	return s.store.ListNotifications(ctx, userID, f)
}

// MarkRead marks one of the user's notifications as read. A notification that
// does not exist, belongs to someone else or is already read yields ErrNotFound.
func (s *Notifications) MarkRead(ctx context.Context, userID int64, id uuid.UUID) error {
	ok, err := s.store.MarkNotificationRead(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if !ok {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Notifications) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}
