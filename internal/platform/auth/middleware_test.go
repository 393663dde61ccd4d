package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

type seen struct {
	userID   string
	roles    []string
	elevated bool
	called   bool
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, authHeader string) seen {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var s seen
	handler := func(c echo.Context) error {
		ctx := c.Request().Context()
		s = seen{
			userID:   UserIDFromContext(ctx),
			roles:    RolesFromContext(ctx),
			elevated: ElevatedFromContext(ctx),
			called:   true,
		}
		return c.String(http.StatusOK, "ok")
	}
	if err := mw(handler)(c); err != nil {
		t.Fatalf("middleware must not reject: %v", err)
	}
	return s
}

func TestCallerMiddleware_NoHeaderIsAnonymous(t *testing.T) {
	s := runMiddleware(t, CallerMiddleware(JWTConfig{SigningKey: testSigningKey}, zerolog.Nop()), "")
	if !s.called {
		t.Fatal("expected handler to run")
	}
	if s.userID != "" || s.elevated {
		t.Errorf("expected anonymous caller, got %+v", s)
	}
}

func TestCallerMiddleware_InvalidHeadersAreAnonymous(t *testing.T) {
	expired := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dr-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSigningKey)
	wrongKey := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "dr-1"},
	}, []byte("another-key"))

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
	}
	mw := CallerMiddleware(JWTConfig{SigningKey: testSigningKey}, zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := runMiddleware(t, mw, tt.header)
			if !s.called {
				t.Fatal("expected handler to run")
			}
			if s.userID != "" {
				t.Errorf("expected anonymous caller, got %q", s.userID)
			}
		})
	}
}

func TestCallerMiddleware_ValidToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "voicedb", Audience: "voicedb-api"}
	token, err := IssueToken(cfg, "dr-house", []string{"physician"}, false, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	s := runMiddleware(t, CallerMiddleware(cfg, zerolog.Nop()), "Bearer "+token)
	if s.userID != "dr-house" {
		t.Errorf("expected dr-house, got %q", s.userID)
	}
	if len(s.roles) != 1 || s.roles[0] != "physician" {
		t.Errorf("unexpected roles %v", s.roles)
	}
	if s.elevated {
		t.Error("physician should not be elevated")
	}
}

func TestCallerMiddleware_Elevation(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, ElevatedRole: "records-officer"}
	tests := []struct {
		name     string
		roles    []string
		claim    bool
		elevated bool
	}{
		{"configured role", []string{"records-officer"}, false, true},
		{"default role not used when configured", []string{"admin"}, false, false},
		{"explicit claim", []string{"physician"}, true, true},
		{"plain", []string{"nurse"}, false, false},
	}
	mw := CallerMiddleware(cfg, zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := IssueToken(cfg, "u1", tt.roles, tt.claim, time.Hour)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if s := runMiddleware(t, mw, "Bearer "+token); s.elevated != tt.elevated {
				t.Errorf("expected elevated=%v, got %v", tt.elevated, s.elevated)
			}
		})
	}
}

func TestCallerMiddleware_WrongIssuer(t *testing.T) {
	token, _ := IssueToken(JWTConfig{SigningKey: testSigningKey, Issuer: "someone-else"}, "u1", nil, false, time.Hour)
	s := runMiddleware(t, CallerMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "voicedb"}, zerolog.Nop()), "Bearer "+token)
	if s.userID != "" {
		t.Errorf("expected anonymous caller for wrong issuer, got %q", s.userID)
	}
}

func TestDevCallerMiddleware(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	mw := DevCallerMiddleware(cfg, "dev-user", zerolog.Nop())

	if s := runMiddleware(t, mw, ""); s.userID != "dev-user" || s.elevated {
		t.Errorf("expected non-elevated dev-user, got %+v", s)
	}

	token, _ := IssueToken(cfg, "dr-1", []string{"admin"}, false, time.Hour)
	if s := runMiddleware(t, mw, "Bearer "+token); s.userID != "dr-1" || !s.elevated {
		t.Errorf("expected elevated dr-1, got %+v", s)
	}

	if s := runMiddleware(t, mw, "Bearer bogus"); s.userID != "" {
		t.Errorf("expected invalid token to stay anonymous, got %q", s.userID)
	}
}

func TestParseToken_NoKey(t *testing.T) {
	if _, err := ParseToken(JWTConfig{}, "x"); err == nil {
		t.Error("expected error without signing key")
	}
	if _, err := IssueToken(JWTConfig{}, "x", nil, false, time.Minute); err == nil {
		t.Error("expected error without signing key")
	}
}

func TestParseToken_RequiresSubject(t *testing.T) {
	token := createTestToken(t, Claims{Roles: []string{"admin"}}, testSigningKey)
	if _, err := ParseToken(JWTConfig{SigningKey: testSigningKey}, token); err == nil {
		t.Error("expected error for token without subject")
	}
}

func TestRequireCaller(t *testing.T) {
	e := echo.New()
	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }

	req := httptest.NewRequest(http.MethodGet, "/api/v1/entities", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	err := RequireCaller()(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/entities", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	setCaller(c, "dr-1", nil, false)
	if err := RequireCaller()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
