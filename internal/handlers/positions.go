package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/dto"
	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/services"
	"GOSAFE_BACK-END/internal/utils"
)

// keepAlive is how often an idle position stream sends an SSE comment
const keepAlive = 25 * time.Second

// PositionsHandler serves the live position feed
type PositionsHandler struct {
	feed *services.Feed
	log  zerolog.Logger
}

// NewPositionsHandler creates a new PositionsHandler
func NewPositionsHandler(feed *services.Feed) *PositionsHandler {
	return &PositionsHandler{feed: feed, log: logging.For("positions-http")}
}

// Append handles POST /api/journeys/{id}/positions
// @Summary Append the caller's position
// @Description The server stamps the time. The caller must participate with sharing enabled.
// @Tags positions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Journey ID"
// @Param payload body dto.AppendPositionRequest true "Position"
// @Success 201 {object} dto.PositionResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "journey completed"
// @Router /api/journeys/{id}/positions [post]
func (h *PositionsHandler) Append(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req dto.AppendPositionRequest
	if err := utils.DecodeJSONRequest(w, r, &req); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	p, err := h.feed.Append(ctx, id, userID, req.Latitude, req.Longitude)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, toPositionResponse(p))
}

// ReadRecent handles GET /api/journeys/{id}/positions
// @Summary Latest positions per user
// @Tags positions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Journey ID"
// @Param users query string true "comma-separated user ids"
// @Param limit query int false "positions per user, default 1 (max 100)"
// @Success 200 {object} dto.RecentPositionsResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /api/journeys/{id}/positions [get]
func (h *PositionsHandler) ReadRecent(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	q := r.URL.Query()
	users, err := utils.ParseIDList(q.Get("users"))
	if err != nil || len(users) == 0 {
		utils.WriteErrorResponse(w, http.StatusBadRequest, "Invalid users", "users must be a non-empty comma-separated list of ids")
		return
	}
	limit := 1
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			utils.WriteErrorResponse(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	recent, err := h.feed.ReadRecent(ctx, id, userID, users, limit)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	out := dto.RecentPositionsResponse{Positions: make(map[int64][]dto.PositionResponse, len(recent))}
	for uid, ps := range recent {
		items := make([]dto.PositionResponse, 0, len(ps))
		for _, p := range ps {
			items = append(items, toPositionResponse(p))
		}
		out.Positions[uid] = items
	}
	utils.WriteJSONResponse(w, http.StatusOK, out)
}

// Stream handles GET /api/journeys/{id}/positions/stream
// @Summary Stream new positions
// @Description Server-Sent Events. Each "position" event carries one position. The stream ends with a
// @Description "closed" event when the journey completes, or "lagging" when the client fell behind.
// @Tags positions
// @Produce text/event-stream
// @Security BearerAuth
// @Param id path int true "Journey ID"
// @Param users query string false "comma-separated user ids, default all"
// @Success 200 {object} dto.PositionResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /api/journeys/{id}/positions/stream [get]
func (h *PositionsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	users, err := utils.ParseIDList(r.URL.Query().Get("users"))
	if err != nil {
		utils.WriteErrorResponse(w, http.StatusBadRequest, "Invalid users", err.Error())
		return
	}

	sub, err := h.feed.Subscribe(r.Context(), id, userID, users)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	// the server write timeout must not cut the stream
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.log.Warn().Err(err).Msg("streaming unsupported")
		return
	}

	h.log.Debug().Int64(logging.JOURNEY, id).Int64(logging.USER, userID).Msg("position stream opened")
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case p, open := <-sub.C:
			if !open {
				h.writeEnd(w, sub.Err())
				_ = rc.Flush()
				return
			}
			payload, err := json.Marshal(toPositionResponse(p))
			if err != nil {
				h.log.Error().Err(err).Msg("encode position")
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: position\ndata: %s\n\n", p.Seq, payload); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (h *PositionsHandler) writeEnd(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
	case errors.Is(err, services.ErrJourneyClosed):
		fmt.Fprint(w, "event: closed\ndata: {}\n\n")
	case errors.Is(err, mirror.ErrSlowWatcher):
		fmt.Fprint(w, "event: lagging\ndata: {}\n\n")
	default:
		h.log.Warn().Err(err).Msg("position stream ended")
		fmt.Fprint(w, "event: error\ndata: {}\n\n")
	}
}
