package dali

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Tokens is the token pair issued by the gateway.
// RefreshToken is empty when a refresh did not rotate it.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Authenticator obtains gateway tokens. It is satisfied by *AuthClient.
type Authenticator interface {
	Login(ctx context.Context, serverURL, username, password string) (Tokens, error)
	Refresh(ctx context.Context, serverURL, refreshToken string) (Tokens, error)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthClient performs login and token refresh against the gateway.
// It never retries and never persists anything.
type AuthClient struct {
	http *http.Client
}

// NewAuthClient creates an auth client for the gateway's login and
// refresh endpoints.
//
// Parameters:
//   - timeout: Upper bound for each request, including reading the body.
//     Zero or negative uses DefaultRequestTimeout.
//
// Returns:
//   - *AuthClient: Client ready for Login and Refresh
func NewAuthClient(timeout time.Duration) *AuthClient {
	return &AuthClient{http: newHTTPClient(timeout)}
}

// Login exchanges username and password for a token pair.
//
// Parameters:
//   - ctx: Cancels the request
//   - serverURL: Gateway host[:port], no scheme
//   - username, password: Gateway account credentials
//
// Returns:
//   - Tokens: Access and refresh token issued by the gateway
//   - error: *AuthError on failure. StatusCode is 0 when the gateway was
//     unreachable or the request timed out.
func (a *AuthClient) Login(ctx context.Context, serverURL, username, password string) (Tokens, error) {
	return a.exchange(ctx, "login", gatewayURL(serverURL, loginPath), loginRequest{
		Username: username,
		Password: password,
	})
}

// Refresh exchanges a refresh token for a new access token.
//
// Parameters:
//   - ctx: Cancels the request
//   - serverURL: Gateway host[:port], no scheme
//   - refreshToken: Token from the last login or rotation
//
// Returns:
//   - Tokens: New access token. RefreshToken is empty unless the gateway
//     rotated it.
//   - error: *AuthError on failure. Rejected() reports a 401 or 403.
func (a *AuthClient) Refresh(ctx context.Context, serverURL, refreshToken string) (Tokens, error) {
	return a.exchange(ctx, "token refresh", gatewayURL(serverURL, refreshPath), refreshRequest{
		RefreshToken: refreshToken,
	})
}

func (a *AuthClient) exchange(ctx context.Context, op, url string, body any) (Tokens, error) {
	var tokens Tokens
	status, err := doJSON(ctx, a.http, http.MethodPost, url, "", body, &tokens)
	if err != nil {
		return Tokens{}, &AuthError{Op: op, StatusCode: status, Err: err}
	}
	if tokens.AccessToken == "" {
		return Tokens{}, &AuthError{
			Op:         op,
			StatusCode: status,
			Err:        fmt.Errorf("%w: response has no accessToken", ErrDecodeFailed),
		}
	}
	return tokens, nil
}
