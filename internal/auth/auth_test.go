package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignParseRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	tok, err := svc.Sign(42)
	if err != nil {
		t.Fatal(err)
	}
	id, err := svc.Parse(tok)
	if err != nil || id != 42 {
		t.Errorf("expected 42, got %d err=%v", id, err)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	tok, _ := NewJWTService("a", time.Hour).Sign(1)
	if _, err := NewJWTService("b", time.Hour).Parse(tok); err == nil {
		t.Error("expected signature error")
	}
}

func TestParse_Expired(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s"))
	if _, err := NewJWTService("s", time.Hour).Parse(tok); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParse_NonNumericSubject(t *testing.T) {
	claims := jwt.RegisteredClaims{Subject: "alice"}
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s"))
	if _, err := NewJWTService("s", time.Hour).Parse(tok); !errors.Is(err, ErrInvalidSubject) {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	tok, _ := svc.Sign(9)

	var seen int64
	h := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromCtx(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		user   int64
	}{
		{"bearer header", "Bearer " + tok, "", http.StatusOK, 9},
		{"query token", "", "?token=" + tok, http.StatusOK, 9},
		{"missing", "", "", http.StatusUnauthorized, 0},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(http.MethodGet, "/v1/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status || seen != tt.user {
				t.Errorf("status=%d user=%d, want %d/%d", rec.Code, seen, tt.status, tt.user)
			}
		})
	}
}
