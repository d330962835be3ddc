package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openquant/mmdash/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pair":{"priceUsd":"0.04215"}}`))
	}))
	defer srv.Close()

	price, err := NewClient(srv.URL).FetchPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.04215, price)
}

func TestFetchPriceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchPrice(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransientFetch)
}

func TestFetchPriceMalformedPayload(t *testing.T) {
	cases := map[string]string{
		"not json":      "<html>gateway timeout</html>",
		"missing price": `{"pair":{}}`,
		"non numeric":   `{"pair":{"priceUsd":"n/a"}}`,
		"zero price":    `{"pair":{"priceUsd":"0"}}`,
		"negative":      `{"pair":{"priceUsd":"-1"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).FetchPrice(context.Background())
			assert.ErrorIs(t, err, domain.ErrTransientFetch)
		})
	}
}
