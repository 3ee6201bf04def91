package dali

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// hostOf strips the scheme from an httptest server URL.
func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestAuthClient_Login(t *testing.T) {
	var gotBody loginRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != loginPath {
			t.Errorf("path = %s, want %s", r.URL.Path, loginPath)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"accessToken":"A","refreshToken":"R"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewAuthClient(0)
	tokens, err := client.Login(context.Background(), hostOf(srv), "u", "p")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if tokens.AccessToken != "A" || tokens.RefreshToken != "R" {
		t.Errorf("tokens = %+v, want A/R", tokens)
	}
	if gotBody.Username != "u" || gotBody.Password != "p" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestAuthClient_Refresh(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantAccess  string
		wantRefresh string
	}{
		{"rotated", `{"accessToken":"A2","refreshToken":"R2"}`, "A2", "R2"},
		{"not rotated", `{"accessToken":"A2"}`, "A2", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody refreshRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != refreshPath {
					t.Errorf("path = %s, want %s", r.URL.Path, refreshPath)
				}
				json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck
				w.Write([]byte(tt.response))            //nolint:errcheck
			}))
			defer srv.Close()

			tokens, err := NewAuthClient(0).Refresh(context.Background(), hostOf(srv), "R")
			if err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			if gotBody.RefreshToken != "R" {
				t.Errorf("sent refreshToken = %q, want R", gotBody.RefreshToken)
			}
			if tokens.AccessToken != tt.wantAccess || tokens.RefreshToken != tt.wantRefresh {
				t.Errorf("tokens = %+v", tokens)
			}
		})
	}
}

func TestAuthClient_Failures(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantStatus   int
		wantRejected bool
		wantDecode   bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad credentials"}`, 401, true, false},
		{"forbidden", http.StatusForbidden, ``, 403, true, false},
		{"server error", http.StatusInternalServerError, `boom`, 500, false, false},
		{"malformed json", http.StatusOK, `{not json`, 200, false, true},
		{"missing access token", http.StatusOK, `{"refreshToken":"R"}`, 200, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer srv.Close()

			_, err := NewAuthClient(0).Login(context.Background(), hostOf(srv), "u", "p")
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("error = %v, want *AuthError", err)
			}
			if authErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", authErr.StatusCode, tt.wantStatus)
			}
			if authErr.Rejected() != tt.wantRejected {
				t.Errorf("Rejected() = %v, want %v", authErr.Rejected(), tt.wantRejected)
			}
			if errors.Is(err, ErrDecodeFailed) != tt.wantDecode {
				t.Errorf("errors.Is(ErrDecodeFailed) = %v, want %v", !tt.wantDecode, tt.wantDecode)
			}
		})
	}
}

func TestAuthClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := hostOf(srv)
	srv.Close()

	_, err := NewAuthClient(0).Refresh(context.Background(), host, "R")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
	if authErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", authErr.StatusCode)
	}
	if authErr.Rejected() {
		t.Error("transport failure reported as rejected")
	}
}

// slowGateway answers only after delay, or when the client gives up.
func slowGateway(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
			w.Write([]byte(`{"accessToken":"late"}`)) //nolint:errcheck
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthClient_Timeout(t *testing.T) {
	srv := slowGateway(t, 2*time.Second)
	client := NewAuthClient(50 * time.Millisecond)

	calls := []struct {
		name string
		call func() (Tokens, error)
	}{
		{"login", func() (Tokens, error) {
			return client.Login(context.Background(), hostOf(srv), "u", "p")
		}},
		{"refresh", func() (Tokens, error) {
			return client.Refresh(context.Background(), hostOf(srv), "R")
		}},
	}

	for _, tt := range calls {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			tokens, err := tt.call()
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("call took %v, want it bounded by the client timeout", elapsed)
			}

			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("error = %v, want *AuthError", err)
			}
			if authErr.StatusCode != 0 {
				t.Errorf("StatusCode = %d, want 0", authErr.StatusCode)
			}
			if authErr.Rejected() {
				t.Error("timeout reported as rejected")
			}
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				t.Errorf("error = %v, want a timeout", err)
			}
			if tokens.AccessToken != "" {
				t.Errorf("tokens = %+v after timeout", tokens)
			}
		})
	}
}

func TestNewAuthClient_DefaultTimeout(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{0, DefaultRequestTimeout},
		{-time.Second, DefaultRequestTimeout},
		{3 * time.Second, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := NewAuthClient(tt.timeout).http.Timeout; got != tt.want {
			t.Errorf("NewAuthClient(%v) timeout = %v, want %v", tt.timeout, got, tt.want)
		}
	}
	if DefaultRequestTimeout != 10*time.Second {
		t.Errorf("DefaultRequestTimeout = %v, want 10s", DefaultRequestTimeout)
	}
}
