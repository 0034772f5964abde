package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// TokenSource supplies the bearer token used for the auth handshake.
type TokenSource interface {
	// Token returns the current access token, or "" if there is none.
	Token() string

	// Refresh obtains a new access token. The client calls it once after a
	// token error; if the server rejects the refreshed token too before
	// acknowledging it, the session expires without a second call.
	Refresh(ctx context.Context) error
}

type staticToken string

// StaticToken returns a TokenSource with a fixed token that cannot be
// refreshed.
func StaticToken(token string) TokenSource {
	return staticToken(token)
}

func (s staticToken) Token() string { return string(s) }

func (s staticToken) Refresh(context.Context) error { return ErrRefreshUnsupported }

// HTTPTokenSource holds an access/refresh token pair and renews it through
// the API's /auth/refresh endpoint.
type HTTPTokenSource struct {
	endpoint string
	client   *http.Client

	mu      sync.RWMutex
	access  string
	refresh string

	onRefresh func(access, refresh string)
}

// NewHTTPTokenSource creates a token source for the API rooted at apiURL
// (for example "https://holyhome.app/api"). A nil client selects a client with
// a ten second timeout.
func NewHTTPTokenSource(apiURL, access, refresh string, client *http.Client) *HTTPTokenSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTokenSource{
		endpoint: strings.TrimRight(apiURL, "/") + "/auth/refresh",
		client:   client,
		access:   access,
		refresh:  refresh,
	}
}

// OnRefresh registers a callback receiving every renewed token pair, so
// callers can persist it.
func (s *HTTPTokenSource) OnRefresh(fn func(access, refresh string)) {
	s.mu.Lock()
	s.onRefresh = fn
	s.mu.Unlock()
}

// Token returns the current access token.
func (s *HTTPTokenSource) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// SetTokens replaces the token pair, e.g. after a login.
func (s *HTTPTokenSource) SetTokens(access, refresh string) {
	s.mu.Lock()
	s.access = access
	s.refresh = refresh
	s.mu.Unlock()
}

// Refresh exchanges the refresh token for a new pair. On rejection both
// tokens are cleared, which makes the session unusable until SetTokens.
func (s *HTTPTokenSource) Refresh(ctx context.Context) error {
	s.mu.RLock()
	refresh := s.refresh
	s.mu.RUnlock()

	if refresh == "" {
		return ErrMissingCredentials
	}

	body, err := json.Marshal(map[string]string{"refreshToken": refresh})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.SetTokens("", "")
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("refresh rejected (%d): %s", resp.StatusCode, apiErr.Error)
	}

	var tokens struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("parse refresh response: %w", err)
	}
	if tokens.Access == "" {
		return fmt.Errorf("refresh response has no access token")
	}
	if tokens.Refresh == "" {
		tokens.Refresh = refresh
	}

	s.mu.Lock()
	s.access = tokens.Access
	s.refresh = tokens.Refresh
	fn := s.onRefresh
	s.mu.Unlock()

	if fn != nil {
		fn(tokens.Access, tokens.Refresh)
	}
	return nil
}
