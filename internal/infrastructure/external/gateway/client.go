// Package gateway talks to the payments sidecar that owns the USDC wallet
// and the card processor account.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/pkg/utils"
)

// Config holds sidecar connection settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// APIError is a non-2xx answer from the sidecar
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// ErrNotConfigured is returned by every call when no base URL is set
var ErrNotConfigured = errors.New("payments gateway not configured")

// Client implements port.TransferClient and port.CardProcessor over JSON/HTTP
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

var (
	_ port.TransferClient = (*Client)(nil)
	_ port.CardProcessor  = (*Client)(nil)
)

// NewClient creates a new gateway client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger,
	}
}

type transferRequest struct {
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
}

type transferResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash"`
	Error   string `json:"error"`
}

// SendTransfer sends amount USDC to address. A transfer the sidecar rejects
// comes back as an unsuccessful result; transport failures are errors.
func (c *Client) SendTransfer(ctx context.Context, address string, amount float64) (*port.TransferResult, error) {
	var out transferResponse
	err := c.do(ctx, http.MethodPost, "/v1/transfers", transferRequest{Address: address, Amount: amount}, &out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
		return &port.TransferResult{Success: false, Error: apiErr.Message}, nil
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("Transfer submitted",
		zap.String("address", address),
		zap.Float64("amount", amount),
		zap.String("tx_hash", out.TxHash),
		zap.Bool("success", out.Success))
	return &port.TransferResult{Success: out.Success, TxHash: out.TxHash, Error: out.Error}, nil
}

// GetBalance returns the USDC balance of address
func (c *Client) GetBalance(ctx context.Context, address string) (*port.WalletBalance, error) {
	var out struct {
		Balance float64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/wallets/"+url.PathEscape(address)+"/balance", nil, &out); err != nil {
		return nil, err
	}
	return &port.WalletBalance{Success: true, Balance: out.Balance}, nil
}

// IsValidAddress checks the EVM address format locally
func (c *Client) IsValidAddress(address string) bool {
	return utils.IsValidWalletAddress(address)
}

type cardRequest struct {
	TaskID      string `json:"task_id,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
}

type cardResponse struct {
	PaymentIntentID string    `json:"payment_intent_id"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func (r cardResponse) authorization() *port.CardAuthorization {
	return &port.CardAuthorization{PaymentIntentID: r.PaymentIntentID, ExpiresAt: r.ExpiresAt.UTC()}
}

// Authorize places a hold for amountCents on the poster's card
func (c *Client) Authorize(ctx context.Context, taskID string, amountCents int64) (*port.CardAuthorization, error) {
	var out cardResponse
	if err := c.do(ctx, http.MethodPost, "/v1/card/authorizations", cardRequest{TaskID: taskID, AmountCents: amountCents}, &out); err != nil {
		return nil, err
	}
	return out.authorization(), nil
}

// Capture takes the held funds
func (c *Client) Capture(ctx context.Context, paymentIntentID string, amountCents int64) error {
	return c.do(ctx, http.MethodPost, c.intentPath(paymentIntentID, "capture"), cardRequest{AmountCents: amountCents}, nil)
}

// Refund cancels an open hold or refunds a captured charge
func (c *Client) Refund(ctx context.Context, paymentIntentID string) error {
	return c.do(ctx, http.MethodPost, c.intentPath(paymentIntentID, "refund"), nil, nil)
}

// Renew replaces an expiring hold with a fresh one
func (c *Client) Renew(ctx context.Context, paymentIntentID string, amountCents int64) (*port.CardAuthorization, error) {
	var out cardResponse
	if err := c.do(ctx, http.MethodPost, c.intentPath(paymentIntentID, "renew"), cardRequest{AmountCents: amountCents}, &out); err != nil {
		return nil, err
	}
	return out.authorization(), nil
}

func (c *Client) intentPath(id, action string) string {
	return "/v1/card/authorizations/" + url.PathEscape(id) + "/" + action
}

// do sends body as JSON and decodes a 2xx response into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Gateway request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &errBody) == nil && errBody.Error != "" {
			apiErr.Message = errBody.Error
		}
		c.logger.Warn("Gateway returned error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", apiErr.Message))
		return apiErr
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
