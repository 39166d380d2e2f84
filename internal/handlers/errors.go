package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/dto"
	"GOSAFE_BACK-END/internal/services"
	"GOSAFE_BACK-END/internal/utils"
)

// writeServiceError maps a service error onto the HTTP error envelope.
// Unexpected errors are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var pending *services.ChatPendingError
	switch {
	case errors.As(err, &pending):
		utils.WriteJSONResponse(w, http.StatusAccepted, dto.ProvisioningPendingResponse{
			Error:     "Provisioning pending",
			Message:   "companion accepted and group created; the group chat is not ready yet, retry with /repair",
			RequestID: pending.RequestID,
			GroupID:   pending.GroupID,
		})
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrSelfApply):
		utils.WriteErrorResponse(w, http.StatusBadRequest, "Validation error", err.Error())
	case errors.Is(err, services.ErrLocationUnavailable):
		utils.WriteErrorResponse(w, http.StatusUnprocessableEntity, "Location unavailable", err.Error())
	case errors.Is(err, services.ErrNotCreator), errors.Is(err, services.ErrForbidden):
		utils.WriteErrorResponse(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, services.ErrNotFound):
		utils.WriteErrorResponse(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, services.ErrActiveJourneyExists),
		errors.Is(err, services.ErrIllegalTransition),
		errors.Is(err, services.ErrJourneyClosed),
		errors.Is(err, services.ErrAlreadyMatched),
		errors.Is(err, services.ErrNotPending),
		errors.Is(err, services.ErrRequestClosed):
		utils.WriteErrorResponse(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, services.ErrProvisioningFailed):
		log.Error().Err(err).Msg("provisioning failed")
		utils.WriteErrorResponse(w, http.StatusBadGateway, "Provisioning failed", "the companion group could not be created; the request is pending again")
	default:
		log.Error().Err(err).Msg("request failed")
		utils.WriteErrorResponse(w, http.StatusInternalServerError, "Internal error", "unexpected error")
	}
}

func callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		utils.WriteErrorResponse(w, http.StatusUnauthorized, "Unauthorized", "Invalid user context")
	}
	return userID, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := utils.ParseID(r.PathValue(name))
	if err != nil {
		utils.WriteErrorResponse(w, http.StatusBadRequest, "Invalid path", err.Error())
		return 0, false
	}
	return id, true
}
