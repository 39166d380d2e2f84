package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"GOSAFE_BACK-END/internal/dto"
)

// maxBodyBytes bounds request bodies read by DecodeJSONRequest
const maxBodyBytes = 1 << 20

type contextKey string

// UserIDKey holds the authenticated caller's id in the request context
const UserIDKey contextKey = "user_id"

// GetUserIDFromContext returns the caller id stored by the auth middleware
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(UserIDKey).(int64)
	return id, ok && id > 0
}

// WriteJSONResponse writes a JSON response to the HTTP response writer
func WriteJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes the {error, message} envelope
func WriteErrorResponse(w http.ResponseWriter, status int, errorType, message string) {
	WriteJSONResponse(w, status, dto.ErrorResponse{Error: errorType, Message: message})
}

// DecodeJSONRequest decodes the request body into v. On failure it writes a
// 400 response and returns the error, so callers just return.
func DecodeJSONRequest(w http.ResponseWriter, r *http.Request, v interface{}) error {
	err := decodeJSON(r, v)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "Invalid request", err.Error())
	}
	return err
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// ParseID parses a positive int64 id taken from a path segment
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// ParseIDList parses a comma-separated list of ids; an empty string yields nil
func ParseIDList(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := ParseID(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FormatTimestamp renders t in RFC3339 UTC, or "" for the zero time
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
