package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/dto"
	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/services"
	"GOSAFE_BACK-END/internal/utils"
)

// LocationsHandler stores and serves origin/destination records
type LocationsHandler struct {
	locations *services.Locations
	log       zerolog.Logger
}

func NewLocationsHandler(locations *services.Locations) *LocationsHandler {
	return &LocationsHandler{locations: locations, log: logging.For("locations-http")}
}

// CreateLocation handles POST /api/locations
// @Summary Store a location
// @Description Stores an immutable coordinate record, used as the origin or destination of a companion request.
// @Tags locations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.LocationFix true "Coordinates"
// @Success 201 {object} dto.LocationResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /api/locations [post]
func (h *LocationsHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	var req dto.LocationFix
	if err := utils.DecodeJSONRequest(w, r, &req); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	loc, err := h.locations.Create(ctx, toFix(&req))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, toLocationResponse(loc))
}

// GetLocation handles GET /api/locations/{id}
// @Summary Get a location
// @Tags locations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Location ID"
// @Success 200 {object} dto.LocationResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/locations/{id} [get]
func (h *LocationsHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	loc, err := h.locations.Get(ctx, id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, toLocationResponse(loc))
}
