// Package lightspeed submits sales to the Lightspeed Retail API.
package lightspeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"posbridge/internal/bridge"
	"posbridge/internal/retry"
	"posbridge/internal/token"
)

const defaultBaseURL = "https://api.lightspeedapp.com"

type Config struct {
	BaseURL   string
	AccountID string
}

type Client struct {
	cfg    Config
	tokens *token.Manager
	httpc  *http.Client
	exec   *retry.Executor
	logger *slog.Logger
}

func NewClient(cfg Config, tokens *token.Manager, httpc *http.Client, exec *retry.Executor, logger *slog.Logger) (*Client, error) {
	if cfg.AccountID == "" {
		return nil, errors.New("lightspeed: account id must be configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
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
	return &Client{cfg: cfg, tokens: tokens, httpc: httpc, exec: exec, logger: logger}, nil
}

// CreateSale posts the sale. A 401 despite a nominally valid cached token
// triggers one force-refresh-and-retry before the error is surfaced; the
// whole call additionally runs under the retry executor for transient
// failures.
func (c *Client) CreateSale(ctx context.Context, payload bridge.SalePayload) error {
	return c.exec.Do(ctx, func(ctx context.Context) error {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("destination token: %w", err)
		}
		err = c.postSale(ctx, tok, payload)
		var he *retry.HTTPError
		if errors.As(err, &he) && he.Status == http.StatusUnauthorized {
			c.logger.Warn("sale rejected with 401, forcing token refresh", "referenceNumber", payload.ReferenceNumber)
			tok, rErr := c.tokens.ForceRefresh(ctx)
			if rErr != nil {
				return fmt.Errorf("refresh after 401: %w", rErr)
			}
			err = c.postSale(ctx, tok, payload)
		}
		return err
	}, retry.Options{})
}

func (c *Client) postSale(ctx context.Context, tok string, payload bridge.SalePayload) error {
	// The API expects the sale nested under a "Sale" key.
	body, err := json.Marshal(map[string]bridge.SalePayload{"Sale": payload})
	if err != nil {
		return fmt.Errorf("marshal sale: %w", err)
	}
	u := fmt.Sprintf("%s/API/Account/%s/Sale.json", c.cfg.BaseURL, c.cfg.AccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &retry.HTTPError{Status: res.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return nil
}
