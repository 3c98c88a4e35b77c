package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "operator-1",
		Issuer:    "discharge-predict",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
}

func runMiddleware(t *testing.T, cfg JWTConfig, header string) (string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/getPrediction", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/getPrediction")

	var subject string
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		subject = SubjectFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})(c)
	return subject, err
}

func expectUnauthorized(t *testing.T, err error) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, "")
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer  ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, header)
			expectUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, validClaims(), jwt.SigningMethodHS256, testSigningKey)
	subject, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey, Issuer: "discharge-predict"}, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "operator-1" {
		t.Errorf("expected subject operator-1, got %q", subject)
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
	}{
		{"wrong key", createTestToken(t, validClaims(), jwt.SigningMethodHS256, []byte("other-key"))},
		{"expired", createTestToken(t, expired, jwt.SigningMethodHS256, testSigningKey)},
		{"no expiry", createTestToken(t, noExpiry, jwt.SigningMethodHS256, testSigningKey)},
		{"wrong issuer", createTestToken(t, wrongIssuer, jwt.SigningMethodHS256, testSigningKey)},
		{"HS512", createTestToken(t, validClaims(), jwt.SigningMethodHS512, testSigningKey)},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey, Issuer: "discharge-predict"}, "Bearer "+tt.token)
			expectUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	if err := mw(func(c echo.Context) error { return nil })(c); err != nil {
		t.Errorf("expected /health to skip auth, got %v", err)
	}
}

func TestIssueToken(t *testing.T) {
	token, err := IssueToken(testSigningKey, "discharge-predict", "cli", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	subject, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey, Issuer: "discharge-predict"}, "Bearer "+token)
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if subject != "cli" {
		t.Errorf("expected subject cli, got %q", subject)
	}

	if _, err := IssueToken(nil, "", "cli", time.Hour); err == nil {
		t.Error("expected error without key")
	}
	if _, err := IssueToken(testSigningKey, "", "cli", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}
