package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initTestAuth(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	if err := Init(slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	initTestAuth(t)

	token, err := GenerateToken("alice")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := parseToken(token)
	if err != nil {
		t.Fatalf("parseToken() error = %v", err)
	}
	if claims.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", claims.UserID)
	}
	if claims.Issuer != "receipt-ocr-service" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	initTestAuth(t)

	token, _ := GenerateToken("alice")
	if _, err := parseToken(token + "x"); err == nil {
		t.Error("parseToken() accepted a tampered token")
	}
	if _, err := parseToken("not.a.token"); err == nil {
		t.Error("parseToken() accepted garbage")
	}
}

func TestJWTMiddleware(t *testing.T) {
	initTestAuth(t)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaimsFromContext(r.Context())
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if err != nil {
			t.Errorf("no claims behind middleware: %v", err)
		} else if claims.UserID != "bob" {
			t.Errorf("UserID = %q, want bob", claims.UserID)
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTMiddleware(next)

	token, _ := GenerateToken("bob")

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public health", "/health", "", http.StatusOK},
		{"missing token", "/api/receipts", "", http.StatusUnauthorized},
		{"malformed header", "/api/receipts", "token " + token, http.StatusUnauthorized},
		{"invalid token", "/api/receipts", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "/api/receipts", "Bearer " + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetClaimsFromContextWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := GetClaimsFromContext(req.Context()); err == nil {
		t.Error("expected error without middleware-populated context")
	}
}
