package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"GOSAFE_BACK-END/internal/config"
	"GOSAFE_BACK-END/internal/utils"
)

var testJWT = &config.JWTConfig{Secret: "test-secret"}

func TestValidateToken(t *testing.T) {
	token, err := GenerateToken(42, time.Hour, testJWT)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ValidateToken(token, testJWT)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("user id = %d", claims.UserID)
	}

	if _, err := ValidateToken(token, &config.JWTConfig{Secret: "other"}); err == nil {
		t.Error("token signed with another secret accepted")
	}

	expired, _ := GenerateToken(42, -time.Minute, testJWT)
	if _, err := ValidateToken(expired, testJWT); err == nil {
		t.Error("expired token accepted")
	}

	// tokens carrying only a numeric subject are accepted
	subjectOnly := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.Itoa(9),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := subjectOnly.SignedString([]byte(testJWT.Secret))
	if err != nil {
		t.Fatal(err)
	}
	if claims, err := ValidateToken(signed, testJWT); err != nil || claims.UserID != 9 {
		t.Errorf("subject-only token = %+v, %v", claims, err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{UserID: 1})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := ValidateToken(unsigned, testJWT); err == nil {
		t.Error("unsigned token accepted")
	}
}

func TestAuthMiddleware(t *testing.T) {
	var seen int64
	h := AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = utils.GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}, testJWT)

	token, _ := GenerateToken(5, time.Hour, testJWT)
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && seen != 5 {
				t.Errorf("user id in context = %d", seen)
			}
		})
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("request id %q is not a uuid", rec.Header().Get(RequestIDHeader))
	}

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, id)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != id {
		t.Errorf("request id = %q, want the caller's %q", got, id)
	}
}
