package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openquant/mmdash/internal/domain"
)

// Client is a spot trading client speaking the unified gateway REST shape.
// Authentication quirks come from the Descriptor; the call surface is the
// same for every exchange.
type Client struct {
	desc   Descriptor
	creds  domain.Credentials
	client *http.Client

	mu         sync.Mutex
	pathPrefix string // set by the account-group preflight
	preflight  bool
}

func NewClient(desc Descriptor, creds domain.Credentials) *Client {
	return &Client{
		desc:   desc,
		creds:  creds,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) sign(params string, timestamp int64) string {
	toSign := fmt.Sprintf("%d%s%s", timestamp, c.creds.APIKey, params)
	h := hmac.New(sha256.New, []byte(c.creds.APISecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

// ensureAccountGroup runs the one-time preflight for descriptors that scope
// private paths by an account group.
func (c *Client) ensureAccountGroup(ctx context.Context) error {
	if !c.desc.AccountGroupPreflight {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preflight {
		return nil
	}

	body, err := c.request(ctx, http.MethodGet, "/api/pro/v1/info", nil, true)
	if err != nil {
		return fmt.Errorf("account group preflight: %w", err)
	}
	var resp struct {
		Data struct {
			AccountGroup int `json:"accountGroup"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("account group preflight: %w", err)
	}
	c.pathPrefix = "/" + strconv.Itoa(resp.Data.AccountGroup)
	c.preflight = true
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, payload map[string]interface{}, private bool) ([]byte, error) {
	timestamp := time.Now().UnixMilli()

	var body []byte
	var paramsStr string
	if payload != nil {
		jsonBody, _ := json.Marshal(payload)
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if idx := strings.Index(path, "?"); idx != -1 {
		paramsStr = path[idx+1:]
	}

	if c.desc.MemoAsUID && payload != nil && c.creds.Memo != "" {
		payload["uid"] = c.creds.Memo
		body, _ = json.Marshal(payload)
		paramsStr = string(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.desc.BaseURL+c.pathPrefix+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if private {
		req.Header.Set("X-API-KEY", c.creds.APIKey)
		req.Header.Set("X-API-TIMESTAMP", strconv.FormatInt(timestamp, 10))
		req.Header.Set("X-API-SIGN", c.sign(paramsStr, timestamp))
		if c.desc.PassphraseHeader != "" && c.creds.Memo != "" {
			req.Header.Set(c.desc.PassphraseHeader, c.creds.Memo)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientFetch, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientFetch, err)
	}
	if resp.StatusCode >= 400 {
		return respBody, fmt.Errorf("%w: %s: %s", domain.ErrExchangeRejected, resp.Status, string(respBody))
	}
	return respBody, nil
}

// ValidateSymbol checks the trading pair exists on the exchange.
func (c *Client) ValidateSymbol(ctx context.Context, symbol string) error {
	body, err := c.request(ctx, http.MethodGet, "/api/spot/v1/markets", nil, false)
	if err != nil {
		return err
	}
	var resp struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientFetch, err)
	}
	for _, s := range resp.Symbols {
		if s == symbol {
			return nil
		}
	}
	return fmt.Errorf("symbol %s not available on %s", symbol, c.desc.ID)
}

func (c *Client) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	path := "/api/spot/v1/ticker?symbol=" + url.QueryEscape(symbol)
	body, err := c.request(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return nil, err
	}
	var t domain.Ticker
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientFetch, err)
	}
	t.Symbol = symbol
	return &t, nil
}

func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, quantity, price float64) (*domain.PlacedOrder, error) {
	if err := c.ensureAccountGroup(ctx); err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"symbol":   symbol,
		"side":     strings.ToLower(string(side)),
		"type":     "limit",
		"quantity": quantity,
		"price":    price,
	}
	body, err := c.request(ctx, http.MethodPost, "/api/spot/v1/order", payload, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientFetch, err)
	}
	return &domain.PlacedOrder{OrderID: resp.OrderID, Status: resp.Status}, nil
}

// CancelOrder is idempotent: an order the exchange no longer knows about is
// treated as already cancelled.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	if err := c.ensureAccountGroup(ctx); err != nil {
		return err
	}
	path := "/api/spot/v1/order?order_id=" + url.QueryEscape(orderID) + "&symbol=" + url.QueryEscape(symbol)
	body, err := c.request(ctx, http.MethodDelete, path, nil, true)
	if err != nil {
		if isOrderGone(body) {
			return nil
		}
		return err
	}
	return nil
}

func isOrderGone(body []byte) bool {
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	return resp.Code == "ORDER_NOT_FOUND" || resp.Code == "ORDER_ALREADY_CLOSED"
}

func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	if err := c.ensureAccountGroup(ctx); err != nil {
		return nil, err
	}
	path := "/api/spot/v1/openOrders"
	if symbol != "" {
		path += "?symbol=" + url.QueryEscape(symbol)
	}
	body, err := c.request(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Orders []domain.OpenOrder `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientFetch, err)
	}
	return resp.Orders, nil
}
