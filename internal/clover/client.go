// Package clover fetches and normalizes orders from the Clover API and
// verifies inbound webhook authenticity.
package clover

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"posbridge/internal/bridge"
	"posbridge/internal/retry"
	"posbridge/internal/token"
)

const defaultBaseURL = "https://api.clover.com"

// orderExpand pulls line items, modifiers and discounts in one request.
const orderExpand = "lineItems,lineItems.modifierGroups,lineItems.modifications,lineItems.discounts,discounts"

// Config for the source client. MerchantID is required; the webhook secrets
// are optional (verification is bypassed when absent, see VerifySignature).
type Config struct {
	BaseURL         string
	MerchantID      string
	WebhookSecret   string // shared secret compared against x-clover-auth
	SignatureSecret string // HMAC secret for x-clover-signature
}

type Client struct {
	cfg    Config
	tokens *token.Manager
	httpc  *http.Client
	exec   *retry.Executor
	logger *slog.Logger
}

func NewClient(cfg Config, tokens *token.Manager, httpc *http.Client, exec *retry.Executor, logger *slog.Logger) (*Client, error) {
	if cfg.MerchantID == "" {
		return nil, errors.New("clover: merchant id must be configured")
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

// FetchOrder retrieves the order with expanded line items and normalizes
// it. A permission-denied expanded fetch degrades to a basic fetch (items
// end up empty); permission-denied on the basic fetch too is a distinct,
// actionable failure naming the missing scope. A 404 surviving all retry
// attempts maps to bridge.ErrOrderNotFound.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (bridge.NormalizedOrder, error) {
	raw, err := retry.DoValue(ctx, c.exec, func(ctx context.Context) (json.RawMessage, error) {
		body, err := c.getOrder(ctx, orderID, true)
		var he *retry.HTTPError
		if errors.As(err, &he) && he.Status == http.StatusForbidden {
			c.logger.Warn("expanded order fetch denied, falling back to basic fetch", "orderId", orderID)
			body, err = c.getOrder(ctx, orderID, false)
			if errors.As(err, &he) && he.Status == http.StatusForbidden {
				return nil, fmt.Errorf("%w: grant the orders read scope to the configured token", bridge.ErrMissingPermission)
			}
		}
		return body, err
	}, retry.Options{})
	if err != nil {
		var he *retry.HTTPError
		if errors.As(err, &he) && he.Status == http.StatusNotFound {
			return bridge.NormalizedOrder{}, fmt.Errorf("%w: %s", bridge.ErrOrderNotFound, orderID)
		}
		return bridge.NormalizedOrder{}, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	return normalizeOrder(raw, orderID)
}

func (c *Client) getOrder(ctx context.Context, orderID string, expand bool) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/v3/merchants/%s/orders/%s", c.cfg.BaseURL, c.cfg.MerchantID, url.PathEscape(orderID))
	if expand {
		u += "?expand=" + url.QueryEscape(orderExpand)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("source token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &retry.HTTPError{Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// ParseOrderFromPayload normalizes an order embedded in a webhook body,
// the fast path that avoids a redundant fetch. It fails when the payload
// does not resemble an order, in which case the caller falls back to
// FetchOrder.
func (c *Client) ParseOrderFromPayload(payload json.RawMessage) (bridge.NormalizedOrder, error) {
	var probe struct {
		ID        *string         `json:"id"`
		LineItems json.RawMessage `json:"lineItems"`
		Total     *json.Number    `json:"total"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return bridge.NormalizedOrder{}, fmt.Errorf("decode payload: %w", err)
	}
	if probe.ID == nil && probe.LineItems == nil && probe.Total == nil {
		return bridge.NormalizedOrder{}, errors.New("payload does not resemble an order")
	}
	return normalizeOrder(payload, "")
}

// SignatureConfigured reports whether webhook verification has a secret to
// work with. When false, VerifySignature and VerifyWebhookAuth pass
// everything; callers log that state so the bypass is never silent.
func (c *Client) SignatureConfigured() bool {
	return c.cfg.SignatureSecret != "" || c.cfg.WebhookSecret != ""
}

// VerifySignature checks an HMAC-SHA256 (base64) signature over the raw
// request body. Re-serializing a parsed body produces different bytes, so
// callers must pass the body exactly as received.
func (c *Client) VerifySignature(signature string, rawBody []byte) bool {
	secret := c.cfg.SignatureSecret
	if secret == "" {
		secret = c.cfg.WebhookSecret
	}
	if secret == "" {
		// Development-mode bypass; SignatureConfigured exposes this state.
		return true
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(computed))
}

// VerifyWebhookAuth compares the static x-clover-auth header value in
// constant time.
func (c *Client) VerifyWebhookAuth(headerValue string) bool {
	secret := c.cfg.WebhookSecret
	if secret == "" {
		secret = c.cfg.SignatureSecret
	}
	if secret == "" {
		return true
	}
	if headerValue == "" {
		return false
	}
	return hmac.Equal([]byte(headerValue), []byte(secret))
}
