// Package token manages OAuth access-token lifecycles for the external
// systems the bridge talks to. One Manager instance per system; token state
// never leaves the manager.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"posbridge/internal/retry"
)

// expirySlack is how close to expiry a cached token is still considered
// valid. Refreshing early avoids racing the provider's clock.
const expirySlack = 60 * time.Second

// Response is the provider's token endpoint response.
type Response struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// Config declares the credentials for one external system. Either a static
// long-lived token or OAuth client credentials must be present.
type Config struct {
	Name         string // system name, used in logs and errors
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	// StaticToken short-circuits OAuth entirely; it is assumed to be
	// rotated externally.
	StaticToken string
}

// Manager caches an access token and refreshes it on demand. Concurrent
// callers needing a refresh share a single in-flight refresh call:
// duplicate refreshes can invalidate each other's refresh tokens at the
// provider.
type Manager struct {
	cfg    Config
	httpc  *http.Client
	exec   *retry.Executor
	logger *slog.Logger
	group  singleflight.Group

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time

	// now is split for testability.
	now func() time.Time
}

func NewManager(cfg Config, httpc *http.Client, exec *retry.Executor, logger *slog.Logger) (*Manager, error) {
	if cfg.StaticToken == "" {
		// A refresh token is not required up front: the code-exchange flow
		// obtains the first one.
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("token manager %s: either a static token or client credentials must be configured", cfg.Name)
		}
		if cfg.TokenURL == "" {
			return nil, fmt.Errorf("token manager %s: token URL must be configured for OAuth", cfg.Name)
		}
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if exec == nil {
		exec = retry.NewExecutor(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:          cfg,
		httpc:        httpc,
		exec:         exec,
		logger:       logger,
		refreshToken: cfg.RefreshToken,
		now:          time.Now,
	}, nil
}

// Token returns a valid access token, refreshing when the cached one is
// missing or within the expiry slack.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.cfg.StaticToken != "" && m.refreshToken == "" {
		m.mu.Unlock()
		return m.cfg.StaticToken, nil
	}
	if m.accessToken != "" && m.now().Before(m.expiresAt.Add(-expirySlack)) {
		tok := m.accessToken
		m.mu.Unlock()
		return tok, nil
	}
	stale := m.accessToken
	hasRefresh := m.refreshToken != ""
	m.mu.Unlock()

	if !hasRefresh {
		if stale != "" {
			// Might still work; the wrapped client will force a refresh
			// if the API answers 401.
			m.logger.Warn("access token expired but no refresh token available", "system", m.cfg.Name)
			return stale, nil
		}
		return "", fmt.Errorf("no %s access token or refresh token available", m.cfg.Name)
	}

	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ForceRefresh drops the cached token and fetches a fresh one. Callers use
// it after observing a 401 despite a nominally valid cached token.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.accessToken = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()
	return m.Token(ctx)
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	rt := m.refreshToken
	m.mu.Unlock()
	if rt == "" {
		return "", fmt.Errorf("no refresh token available to refresh %s access token", m.cfg.Name)
	}

	m.logger.Info("refreshing access token", "system", m.cfg.Name)
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {rt},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
	}
	resp, err := retry.DoValue(ctx, m.exec, func(ctx context.Context) (Response, error) {
		return m.postForm(ctx, form)
	}, retry.Options{MaxAttempts: 3})
	if err != nil {
		return "", fmt.Errorf("refresh %s access token: %w", m.cfg.Name, err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("no access token received from %s token endpoint", m.cfg.Name)
	}

	m.mu.Lock()
	m.accessToken = resp.AccessToken
	m.expiresAt = m.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.RefreshToken != "" {
		// Provider rotated the refresh token.
		m.refreshToken = resp.RefreshToken
	}
	exp := m.expiresAt
	m.mu.Unlock()

	m.logger.Info("access token refreshed", "system", m.cfg.Name, "expiresAt", exp)
	return resp.AccessToken, nil
}

// ExchangeCode trades an authorization code for tokens. Setup-time only,
// not part of steady-state request handling.
func (m *Manager) ExchangeCode(ctx context.Context, code, redirectURI string) (Response, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
		"redirect_uri":  {redirectURI},
	}
	resp, err := retry.DoValue(ctx, m.exec, func(ctx context.Context) (Response, error) {
		return m.postForm(ctx, form)
	}, retry.Options{MaxAttempts: 3})
	if err != nil {
		return Response{}, fmt.Errorf("exchange %s authorization code: %w", m.cfg.Name, err)
	}
	if resp.AccessToken == "" {
		return Response{}, fmt.Errorf("no access token received from %s token endpoint", m.cfg.Name)
	}

	m.mu.Lock()
	m.accessToken = resp.AccessToken
	m.refreshToken = resp.RefreshToken
	m.expiresAt = m.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	m.mu.Unlock()
	return resp, nil
}

func (m *Manager) postForm(ctx context.Context, form url.Values) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := m.httpc.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Response{}, &retry.HTTPError{Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, fmt.Errorf("decode token response: %w", err)
	}
	return out, nil
}
