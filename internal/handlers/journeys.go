package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/dto"
	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/services"
	"GOSAFE_BACK-END/internal/utils"
)

const requestTimeout = 5 * time.Second

// JourneysHandler manages journey and participation endpoints
type JourneysHandler struct {
	journeys *services.Journeys
	parts    *services.Participations
	log      zerolog.Logger
}

// NewJourneysHandler creates a new JourneysHandler
func NewJourneysHandler(journeys *services.Journeys, parts *services.Participations) *JourneysHandler {
	return &JourneysHandler{journeys: journeys, parts: parts, log: logging.For("journeys-http")}
}

// CreateJourney handles POST /api/journeys
// @Summary Start a journey
// @Description Starts a journey for a group. The caller becomes its creator with an ACCEPTED participation.
// @Tags journeys
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateJourneyRequest true "Journey payload"
// @Success 201 {object} dto.CreateJourneyResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "group already has an active journey"
// @Failure 422 {object} dto.ErrorResponse "device location unavailable"
// @Router /api/journeys [post]
func (h *JourneysHandler) CreateJourney(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req dto.CreateJourneyRequest
	if err := utils.DecodeJSONRequest(w, r, &req); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	out, err := h.journeys.CreateJourney(ctx, services.CreateJourneyInput{
		GroupID:     req.GroupID,
		CreatorID:   userID,
		Type:        models.JourneyType(req.JourneyType),
		Origin:      toFix(req.Origin),
		Destination: toFix(req.Destination),
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	utils.WriteJSONResponse(w, http.StatusCreated, dto.CreateJourneyResponse{
		Journey:       toJourneyResponse(&out.Journey),
		Participation: toParticipationResponse(&out.Participation),
	})
}

// GetJourney handles GET /api/journeys/{id}
// @Summary Get a journey
// @Tags journeys
// @Produce json
// @Security BearerAuth
// @Param id path int true "Journey ID"
// @Success 200 {object} dto.JourneyResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/journeys/{id} [get]
func (h *JourneysHandler) GetJourney(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	j, err := h.journeys.GetJourney(ctx, id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, toJourneyResponse(j))
}

// ListGroupJourneys handles GET /api/groups/{groupId}/journeys
// @Summary List the journeys of a group
// @Description Newest first. With active=true only the PENDING or IN_PROGRESS journey, if any, is returned.
// @Tags journeys
// @Produce json
// @Security BearerAuth
// @Param groupId path int true "Group ID"
// @Param active query bool false "only the active journey"
// @Success 200 {object} dto.JourneyListResponse
// @Router /api/groups/{groupId}/journeys [get]
func (h *JourneysHandler) ListGroupJourneys(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	groupID, ok := pathID(w, r, "groupId")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	items := []dto.JourneyResponse{}
	if strings.EqualFold(r.URL.Query().Get("active"), "true") {
		j, err := h.journeys.GetActiveJourney(ctx, groupID)
		if err != nil {
			writeServiceError(w, h.log, err)
			return
		}
		if j != nil {
			items = append(items, toJourneyResponse(j))
		}
	} else {
		all, err := h.journeys.ListJourneys(ctx, groupID)
		if err != nil {
			writeServiceError(w, h.log, err)
			return
		}
		for i := range all {
			items = append(items, toJourneyResponse(&all[i]))
		}
	}
	utils.WriteJSONResponse(w, http.StatusOK, dto.JourneyListResponse{Journeys: items})
}

// TransitionState handles POST /api/journeys/{id}/state
// @Summary Change the state of a journey
// @Description PENDING -> IN_PROGRESS -> COMPLETED. Only the creator may change it. Repeating the current state is a no-op.
// @Tags journeys
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Journey ID"
// @Param payload body dto.TransitionJourneyRequest true "Target state"
// @Success 200 {object} dto.JourneyResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "illegal transition"
// @Router /api/journeys/{id}/state [post]
func (h *JourneysHandler) TransitionState(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req dto.TransitionJourneyRequest
	if err := utils.DecodeJSONRequest(w, r, &req); err != nil {
		return
	}
	target, err := models.ParseJourneyState(req.State)
	if err != nil {
		utils.WriteErrorResponse(w, http.StatusBadRequest, "Validation error", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	j, err := h.journeys.GetJourney(ctx, id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if j.CreatorID != userID {
		writeServiceError(w, h.log, services.ErrNotCreator)
		return
	}
	if j, err = h.journeys.TransitionState(ctx, id, target); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, toJourneyResponse(j))
}

// Join handles POST /api/journeys/{id}/join
// @Summary Join a journey
// @Description Registers the caller. Joining twice returns the existing participation.
// @Tags participations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Journey ID"
// @Param payload body dto.JoinJourneyRequest true "Current location and optional destination"
// @Success 200 {object} dto.ParticipationResponse
// @Failure 409 {object} dto.ErrorResponse "journey completed"
// @Failure 422 {object} dto.ErrorResponse "device location unavailable"
// @Router /api/journeys/{id}/join [post]
func (h *JourneysHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req dto.JoinJourneyRequest
	if err := utils.DecodeJSONRequest(w, r, &req); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	p, err := h.parts.Join(ctx, services.JoinInput{
		JourneyID:   id,
		UserID:      userID,
		Fix:         toFix(req.Location),
		Destination: toFix(req.Destination),
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, toParticipationResponse(p))
}

// ListParticipations handles GET /api/journeys/{id}/participations
// @Summary List the participations of a journey
// @Tags participations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Journey ID"
// @Success 200 {object} dto.ParticipationListResponse
// @Router /api/journeys/{id}/participations [get]
func (h *JourneysHandler) ListParticipations(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if _, err := h.journeys.GetJourney(ctx, id); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	all, err := h.journeys.ListParticipations(ctx, id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	items := make([]dto.ParticipationResponse, 0, len(all))
	for i := range all {
		items = append(items, toParticipationResponse(&all[i]))
	}
	utils.WriteJSONResponse(w, http.StatusOK, dto.ParticipationListResponse{Participations: items})
}

// AcceptParticipation handles POST /api/participations/{id}/accept
// @Summary Accept a participation
// @Tags participations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Participation ID"
// @Success 200 {object} dto.ParticipationResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /api/participations/{id}/accept [post]
func (h *JourneysHandler) AcceptParticipation(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.parts.SetAccepted)
}

// DeclineParticipation handles POST /api/participations/{id}/decline
// @Summary Decline a participation
// @Tags participations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Participation ID"
// @Success 200 {object} dto.ParticipationResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /api/participations/{id}/decline [post]
func (h *JourneysHandler) DeclineParticipation(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.parts.SetDeclined)
}

func (h *JourneysHandler) answer(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, participationID, actorID int64) (*models.Participation, error)) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	p, err := fn(ctx, id, userID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, toParticipationResponse(p))
}

// SetSharing handles POST /api/participations/{id}/sharing
// @Summary Toggle live location sharing
// @Tags participations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Participation ID"
// @Param payload body dto.SharingRequest true "Sharing flag"
// @Success 200 {object} dto.ParticipationResponse
// @Router /api/participations/{id}/sharing [post]
func (h *JourneysHandler) SetSharing(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req dto.SharingRequest
	if err := utils.DecodeJSONRequest(w, r, &req); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	p, err := h.parts.SetSharing(ctx, id, userID, req.Shared)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, toParticipationResponse(p))
}
