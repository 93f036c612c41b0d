package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestGetToken verifies the username/password exchange returns the token
func TestGetToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/token" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("username") != "jdoe" || r.URL.Query().Get("password") != "hunter2" {
			t.Errorf("Credentials should be passed as query params, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer"}`))
	}))
	defer server.Close()

	token, err := GetToken(context.Background(), server.URL, "jdoe", "hunter2")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if token != "tok-123" {
		t.Errorf("Expected tok-123, got %s", token)
	}
}

// TestGetTokenRejected verifies a rejected exchange wraps ErrAuthenticationFailed
func TestGetTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := GetToken(context.Background(), server.URL, "jdoe", "wrong")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
	}
}

// TestGetTokenMissingCredentials verifies empty credentials fail fast
func TestGetTokenMissingCredentials(t *testing.T) {
	_, err := GetToken(context.Background(), "http://localhost", "", "")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
	}
}

// TestTokenFromEnv verifies reading the token environment variable
func TestTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnvVar, "env-token")
	token, err := TokenFromEnv()
	if err != nil {
		t.Fatalf("TokenFromEnv failed: %v", err)
	}
	if token != "env-token" {
		t.Errorf("Expected env-token, got %s", token)
	}
}

// TestTokenFromEnvMissing verifies the absent variable reports ErrNoToken
func TestTokenFromEnvMissing(t *testing.T) {
	t.Setenv(TokenEnvVar, "")
	if _, err := TokenFromEnv(); !errors.Is(err, ErrNoToken) {
		t.Errorf("Expected ErrNoToken, got %v", err)
	}
}

// TestVerifyToken verifies a valid token resolves the authenticated user
func TestVerifyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("Expected bearer header, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"user_id":"u-1","name":"Jane Doe","username":"jdoe"}`))
	}))
	defer server.Close()

	user, err := VerifyToken(context.Background(), server.URL, "tok-1")
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if user.UserID != "u-1" || user.Name != "Jane Doe" {
		t.Errorf("Unexpected user: %+v", user)
	}
}

// TestVerifyTokenRejected verifies a rejected token surfaces an error
func TestVerifyTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid token"}`))
	}))
	defer server.Close()

	if _, err := VerifyToken(context.Background(), server.URL, "bad"); err == nil {
		t.Error("VerifyToken should fail for a rejected token")
	}
}

// TestTokenExpiry verifies the exp claim is extracted without verification
func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedTestToken(t, exp)

	got, err := TokenExpiry(token)
	if err != nil {
		t.Fatalf("TokenExpiry failed: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("Expected expiry %v, got %v", exp, got)
	}
}

// TestTokenExpiryInvalid verifies garbage tokens report ErrInvalidToken
func TestTokenExpiryInvalid(t *testing.T) {
	if _, err := TokenExpiry("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

// TestIsTokenExpired verifies expired and live tokens are classified correctly
func TestIsTokenExpired(t *testing.T) {
	live := signedTestToken(t, time.Now().Add(time.Hour))
	if IsTokenExpired(live) {
		t.Error("Live token should not be expired")
	}

	stale := signedTestToken(t, time.Now().Add(-time.Hour))
	if !IsTokenExpired(stale) {
		t.Error("Stale token should be expired")
	}

	// Opaque tokens are not judged locally.
	if IsTokenExpired("opaque-token") {
		t.Error("Non-JWT tokens should not be classified as expired")
	}
}

// TestAuthenticateWithEnvToken verifies the token method end to end
func TestAuthenticateWithEnvToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user_id":"u-1","username":"jdoe"}`))
	}))
	defer server.Close()

	t.Setenv(TokenEnvVar, "env-token")
	token, user, err := Authenticate(context.Background(), server.URL, MethodToken, "", "")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if token != "env-token" {
		t.Errorf("Expected env-token, got %s", token)
	}
	if user.Username != "jdoe" {
		t.Errorf("Unexpected user: %+v", user)
	}
}

// TestAuthenticateUnsupportedMethod verifies unknown methods are rejected
func TestAuthenticateUnsupportedMethod(t *testing.T) {
	if _, _, err := Authenticate(context.Background(), "http://localhost", Method("oauth"), "", ""); err == nil {
		t.Error("Unsupported method should be rejected")
	}
}

func signedTestToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "u-1", "exp": exp.Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	return token
}
