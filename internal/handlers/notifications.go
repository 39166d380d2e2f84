package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/dto"
	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/repository"
	"GOSAFE_BACK-END/internal/services"
	"GOSAFE_BACK-END/internal/utils"
)

// NotificationsHandler: HTTP endpoints (list/mark read/mark all read)
type NotificationsHandler struct {
	svc *services.Notifications
	log zerolog.Logger
}

func NewNotificationsHandler(svc *services.Notifications) *NotificationsHandler {
	return &NotificationsHandler{svc: svc, log: logging.For("notifications-http")}
}

// ListNotifications handles GET /api/notifications
// @Summary List notifications
// @Description List user notifications with filters and pagination.
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param unread_only query bool false "true|false (default false)"
// @Param type query string false "filter by type"
// @Param limit query int false "default 20 (max 100)"
// @Param offset query int false "default 0"
// @Success 200 {object} dto.NotificationListResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/notifications [get]
func (h *NotificationsHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := repository.NotificationFilter{
		UnreadOnly: strings.EqualFold(q.Get("unread_only"), "true"),
		Type:       strings.TrimSpace(q.Get("type")),
		Limit:      20,
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			utils.WriteErrorResponse(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		f.Limit = min(n, 100)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.WriteErrorResponse(w, http.StatusBadRequest, "Invalid offset", "offset must be a non-negative integer")
			return
		}
		f.Offset = n
	}
	if f.Type != "" && !services.ValidNotificationType(f.Type) {
		utils.WriteErrorResponse(w, http.StatusBadRequest, "Invalid type", "invalid notification type")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	page, err := h.svc.List(ctx, userID, f)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	items := make([]dto.NotificationItem, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, toNotificationItem(&page.Items[i]))
	}
	utils.WriteJSONResponse(w, http.StatusOK, dto.NotificationListResponse{
		Notifications: items,
		Pagination: dto.NotificationListPagination{
			Total:       page.Total,
			UnreadCount: page.Unread,
			Limit:       f.Limit,
			Offset:      f.Offset,
		},
	})
}

// MarkRead handles POST /api/notifications/{id}/read
// @Summary Mark a notification as read
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/notifications/{id}/read [post]
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	nID, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		utils.WriteErrorResponse(w, http.StatusBadRequest, "Invalid id", "notification id must be a valid UUID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// only the owner's unread notifications match
	if err := h.svc.MarkRead(ctx, userID, nID); err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{
		"message": "Notification marked as read",
	})
}

// MarkAllRead handles POST /api/notifications/read-all
// @Summary Mark all notifications as read
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.MarkAllReadResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/notifications/read-all [post]
func (h *NotificationsHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	n, err := h.svc.MarkAllRead(ctx, userID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, dto.MarkAllReadResponse{Updated: n})
}
