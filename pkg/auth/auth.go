package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nomadclient/pkg/client"
)

// TokenEnvVar is the environment variable holding a pre-issued bearer token.
const TokenEnvVar = "NOMAD_CLIENT_ACCESS_TOKEN"

// Common errors
var (
	ErrNoToken              = errors.New("token not found in environment")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidToken         = errors.New("invalid token format")
)

// tokenResponse is the body of a successful auth/token exchange.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// GetToken exchanges a username/password pair for a bearer token at the
// oasis auth/token endpoint.
func GetToken(ctx context.Context, baseURL, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("username and password are required: %w", ErrAuthenticationFailed)
	}

	params := url.Values{
		"username": {username},
		"password": {password},
	}
	tokenURL := strings.TrimSuffix(baseURL, "/") + "/auth/token?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: auth/token returned %d", ErrAuthenticationFailed, resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("no access token in response: %w", ErrAuthenticationFailed)
	}

	return tokenResp.AccessToken, nil
}

// TokenFromEnv reads a pre-issued token from NOMAD_CLIENT_ACCESS_TOKEN.
func TokenFromEnv() (string, error) {
	token := os.Getenv(TokenEnvVar)
	if token == "" {
		return "", fmt.Errorf("%w (%s)", ErrNoToken, TokenEnvVar)
	}
	return token, nil
}

// VerifyToken checks a token against the users/me endpoint and returns the
// authenticated user on success.
func VerifyToken(ctx context.Context, baseURL, token string) (*client.User, error) {
	c := client.New(baseURL, token)
	user, err := c.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	return user, nil
}

// TokenExpiry extracts the expiration time from a JWT bearer token without
// verifying its signature. The server verifies the full token on every call;
// this only serves early warnings about an expired session.
func TokenExpiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrInvalidToken
	}
	return exp.Time, nil
}

// IsTokenExpired reports whether a JWT token is already past its expiry.
// Tokens that do not parse as JWTs are not judged here and report false.
func IsTokenExpired(token string) bool {
	exp, err := TokenExpiry(token)
	if err != nil {
		return false
	}
	return time.Now().After(exp)
}

// Method selects how Authenticate obtains a token.
type Method string

const (
	// MethodToken reads the token from the environment.
	MethodToken Method = "token"
	// MethodPassword exchanges a username/password pair for a token.
	MethodPassword Method = "password"
)

// Authenticate obtains a bearer token via the chosen method, verifies it
// against users/me and returns the token together with the user it belongs to.
func Authenticate(ctx context.Context, baseURL string, method Method, username, password string) (string, *client.User, error) {
	var token string
	var err error

	switch method {
	case MethodPassword:
		token, err = GetToken(ctx, baseURL, username, password)
	case MethodToken:
		token, err = TokenFromEnv()
	default:
		return "", nil, fmt.Errorf("unsupported authentication method %q", method)
	}
	if err != nil {
		return "", nil, err
	}

	user, err := VerifyToken(ctx, baseURL, token)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}
