package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func testService(t *testing.T) *Service {
	t.Helper()
	return NewService(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		AccessSecret: "0123456789abcdef0123456789abcdef",
	})
}

func TestAccessToken_RoundTrip(t *testing.T) {
	s := testService(t)
	userID := uuid.New()

	token, err := s.GenerateAccessToken(userID, "admin")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := s.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != userID.String() {
		t.Errorf("UserID = %q; want %q", claims.UserID, userID)
	}
	if claims.Role != "admin" {
		t.Errorf("Role = %q; want admin", claims.Role)
	}
	if claims.ID == "" {
		t.Error("token has no jti")
	}
}

func TestAccessToken_UniqueJTI(t *testing.T) {
	s := testService(t)
	userID := uuid.New()

	t1, _ := s.GenerateAccessToken(userID, "user")
	t2, _ := s.GenerateAccessToken(userID, "user")
	c1, _ := s.ValidateAccessToken(t1)
	c2, _ := s.ValidateAccessToken(t2)
	if c1.ID == c2.ID {
		t.Error("two tokens share a jti")
	}
}

func TestValidateAccessToken_RejectsTampered(t *testing.T) {
	s := testService(t)
	token, _ := s.GenerateAccessToken(uuid.New(), "user")

	tampered := token[:len(token)-2] + "xx"
	if _, err := s.ValidateAccessToken(tampered); err == nil {
		t.Error("tampered token validated")
	}

	other := NewService(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		AccessSecret: "ffffffffffffffffffffffffffffffff",
	})
	if _, err := other.ValidateAccessToken(token); err == nil {
		t.Error("token signed with a different secret validated")
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("same input hashed differently")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("different inputs collided")
	}
	if len(HashToken("abc")) != 64 {
		t.Errorf("hash length = %d; want 64 hex chars", len(HashToken("abc")))
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	raw1, hash1, err := generateRefreshToken()
	if err != nil {
		t.Fatalf("generateRefreshToken: %v", err)
	}
	raw2, _, _ := generateRefreshToken()
	if raw1 == raw2 {
		t.Error("two refresh tokens are identical")
	}
	if hash1 != HashToken(raw1) {
		t.Error("returned hash does not match the raw token")
	}
}

func TestAuthenticate_ValidBearer(t *testing.T) {
	s := testService(t)
	userID := uuid.New()
	token, _ := s.GenerateAccessToken(userID, "user")

	var gotID uuid.UUID
	handler := s.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/films", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rr.Code)
	}
	if gotID != userID {
		t.Errorf("context user = %v; want %v", gotID, userID)
	}
}

func TestAuthenticate_NoCredentials(t *testing.T) {
	s := testService(t)
	handler := s.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without credentials")
	}))

	req := httptest.NewRequest(http.MethodGet, "/films", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "message") {
		t.Errorf("401 body = %q; want {message}", rr.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	s := testService(t)
	handler := s.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	adminToken, _ := s.GenerateAccessToken(uuid.New(), "admin")
	userToken, _ := s.GenerateAccessToken(uuid.New(), "user")

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"admin", adminToken, http.StatusOK},
		{"plain user", userToken, http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/dashboard/general-report", nil)
		req.Header.Set("Authorization", "Bearer "+tt.token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != tt.want {
			t.Errorf("%s: status = %d; want %d", tt.name, rr.Code, tt.want)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"Basic abc123", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := extractBearerToken(req); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q; want %q", tt.header, got, tt.want)
		}
	}
}
