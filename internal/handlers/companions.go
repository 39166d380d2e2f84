package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/dto"
	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/services"
	"GOSAFE_BACK-END/internal/utils"
)

// CompanionsHandler manages companion request endpoints
type CompanionsHandler struct {
	companions *services.Companions
	log        zerolog.Logger
}

// NewCompanionsHandler creates a new CompanionsHandler
func NewCompanionsHandler(companions *services.Companions) *CompanionsHandler {
	return &CompanionsHandler{companions: companions, log: logging.For("companions-http")}
}

// CreateCompanion handles POST /api/companions
// @Summary Publish a companion request
// @Tags companions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateCompanionRequest true "Companion request"
// @Success 201 {object} dto.CompanionResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /api/companions [post]
func (h *CompanionsHandler) CreateCompanion(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req dto.CreateCompanionRequest
	if err := utils.DecodeJSONRequest(w, r, &req); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	c, err := h.companions.Create(ctx, services.CreateCompanionInput{
		CreatorID:     userID,
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		Description:   req.Description,
		AproxHour:     req.AproxHour,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, toCompanionResponse(c))
}

// ListCompanions handles GET /api/companions
// @Summary List companion requests
// @Description Open requests (CREATED or PENDING), or with mine=true every request of the caller.
// @Tags companions
// @Produce json
// @Security BearerAuth
// @Param mine query bool false "only the caller's requests"
// @Success 200 {object} dto.CompanionListResponse
// @Router /api/companions [get]
func (h *CompanionsHandler) ListCompanions(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var (
		list []models.CompanionRequest
		err  error
	)
	if strings.EqualFold(r.URL.Query().Get("mine"), "true") {
		list, err = h.companions.ListByCreator(ctx, userID)
	} else {
		list, err = h.companions.ListActive(ctx)
	}
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	items := make([]dto.CompanionResponse, 0, len(list))
	for i := range list {
		items = append(items, toCompanionResponse(&list[i]))
	}
	utils.WriteJSONResponse(w, http.StatusOK, dto.CompanionListResponse{Requests: items})
}

// GetCompanion handles GET /api/companions/{id}
// @Summary Get a companion request
// @Tags companions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} dto.CompanionResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/companions/{id} [get]
func (h *CompanionsHandler) GetCompanion(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, id, _ int64) (*models.CompanionRequest, error) {
		return h.companions.Get(ctx, id)
	})
}

// Apply handles POST /api/companions/{id}/apply
// @Summary Apply to a companion request
// @Description A later applicant replaces an earlier one until the creator decides.
// @Tags companions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Param payload body dto.ApplyCompanionRequest false "Message to the creator"
// @Success 200 {object} dto.CompanionResponse
// @Failure 409 {object} dto.ErrorResponse "already matched or closed"
// @Router /api/companions/{id}/apply [post]
func (h *CompanionsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req dto.ApplyCompanionRequest
	if r.ContentLength != 0 {
		if err := utils.DecodeJSONRequest(w, r, &req); err != nil {
			return
		}
	}
	h.act(w, r, func(ctx context.Context, id, userID int64) (*models.CompanionRequest, error) {
		return h.companions.Apply(ctx, id, userID, req.Message)
	})
}

// Accept handles POST /api/companions/{id}/accept
// @Summary Accept the pending applicant
// @Description Creates the companion group and its chat. 202 means the group exists but the chat is pending; call /repair.
// @Tags companions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} dto.CompanionResponse
// @Success 202 {object} dto.ProvisioningPendingResponse
// @Failure 409 {object} dto.ErrorResponse "not pending"
// @Failure 502 {object} dto.ErrorResponse "group provisioning failed"
// @Router /api/companions/{id}/accept [post]
func (h *CompanionsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.companions.Accept)
}

// Reject handles POST /api/companions/{id}/reject
// @Summary Reject the pending applicant
// @Tags companions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} dto.CompanionResponse
// @Router /api/companions/{id}/reject [post]
func (h *CompanionsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.companions.Reject)
}

// Finish handles POST /api/companions/{id}/finish
// @Summary Finish a companion request
// @Tags companions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} dto.CompanionResponse
// @Router /api/companions/{id}/finish [post]
func (h *CompanionsHandler) Finish(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.companions.Finish)
}

// Cancel handles POST /api/companions/{id}/cancel
// @Summary Cancel an unmatched companion request
// @Tags companions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} dto.CompanionResponse
// @Router /api/companions/{id}/cancel [post]
func (h *CompanionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.companions.Cancel)
}

// Repair handles POST /api/companions/{id}/repair
// @Summary Finish provisioning after a pending chat
// @Tags companions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} dto.CompanionResponse
// @Success 202 {object} dto.ProvisioningPendingResponse
// @Router /api/companions/{id}/repair [post]
func (h *CompanionsHandler) Repair(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.companions.RepairChat)
}

func (h *CompanionsHandler) act(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id, userID int64) (*models.CompanionRequest, error)) {
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

	c, err := fn(ctx, id, userID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, toCompanionResponse(c))
}
