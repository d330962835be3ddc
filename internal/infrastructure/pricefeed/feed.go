package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/openquant/mmdash/internal/domain"
)

// Client fetches a pair's USD quote from an on-chain aggregator endpoint.
// The response schema is a JSON document with a nested price field; any
// deviation is a fetch error and the caller falls back to its cached price.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) FetchPrice(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrTransientFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: feed returned %s", domain.ErrTransientFetch, resp.Status)
	}

	var payload struct {
		Pair struct {
			PriceUSD string `json:"priceUsd"`
		} `json:"pair"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: malformed feed payload: %v", domain.ErrTransientFetch, err)
	}
	if payload.Pair.PriceUSD == "" {
		return 0, fmt.Errorf("%w: feed payload missing price", domain.ErrTransientFetch)
	}

	price, err := strconv.ParseFloat(payload.Pair.PriceUSD, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%w: feed quoted %q", domain.ErrTransientFetch, payload.Pair.PriceUSD)
	}
	return price, nil
}
