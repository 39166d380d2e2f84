package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/repository"
)

func TestCreateNotificationValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	long := strings.Repeat("x", 10001)

	tests := []struct {
		name    string
		userID  int64
		title   string
		message *string
		data    map[string]any
	}{
		{"no user", 0, "hi", nil, nil},
		{"blank title", 1, "  ", nil, nil},
		{"long title", 1, strings.Repeat("t", 256), nil, nil},
		{"long message", 1, "hi", &long, nil},
		{"huge data", 1, "hi", nil, map[string]any{"blob": strings.Repeat("d", 1024*1024)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.notify.Create(ctx, tt.userID, models.NotifyParticipantJoined, tt.title, tt.message, tt.data)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestNotificationInbox(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.notify.Notify(ctx, 5, models.NotifyCompanionApplied, "applied", "hello", map[string]any{"request_id": 1})
	h.notify.Notify(ctx, 5, models.NotifyCompanionAccepted, "accepted", "", nil)
	h.notify.Notify(ctx, 6, models.NotifyCompanionAccepted, "not yours", "", nil)

	page, err := h.notify.List(ctx, 5, repository.NotificationFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 2 || page.Unread != 2 || len(page.Items) != 2 {
		t.Fatalf("page = %+v", page)
	}

	if _, err := h.notify.List(ctx, 5, repository.NotificationFilter{Type: "bogus"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bogus type err = %v", err)
	}
	applied, err := h.notify.List(ctx, 5, repository.NotificationFilter{Type: string(models.NotifyCompanionApplied)})
	if err != nil || len(applied.Items) != 1 {
		t.Fatalf("filtered list = %+v, %v", applied, err)
	}
	if msg := applied.Items[0].Message; msg == nil || *msg != "hello" {
		t.Errorf("message = %v", msg)
	}

	id := applied.Items[0].ID
	if err := h.notify.MarkRead(ctx, 6, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("mark someone else's notification err = %v", err)
	}
	if err := h.notify.MarkRead(ctx, 5, id); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := h.notify.MarkRead(ctx, 5, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("mark unknown err = %v", err)
	}

	n, err := h.notify.MarkAllRead(ctx, 5)
	if err != nil || n != 1 {
		t.Errorf("MarkAllRead = %d, %v; want 1", n, err)
	}
	unread, err := h.notify.List(ctx, 5, repository.NotificationFilter{UnreadOnly: true})
	if err != nil || len(unread.Items) != 0 || unread.Unread != 0 {
		t.Errorf("unread after MarkAllRead = %+v, %v", unread, err)
	}
}

func TestNotifyOnNilService(t *testing.T) {
	var s *Notifications
	s.Notify(context.Background(), 1, models.NotifyCompanionApplied, "ignored", "", nil)
}
