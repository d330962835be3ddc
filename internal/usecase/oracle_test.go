package usecase

import (
	"context"
	"testing"

	"github.com/openquant/mmdash/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOracleExchangeMidFromBidAsk(t *testing.T) {
	gw := &fakeGateway{}
	gw.setTicker(44990, 45010, 44500)
	o := NewPriceOracle(domain.RefExchange, "BTC-USDT", gw, nil, zap.NewNop())

	price, err := o.ReferencePrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45000.0, price)
}

func TestOracleExchangeFallsBackToLast(t *testing.T) {
	gw := &fakeGateway{}
	gw.setTicker(0, 0, 44500)
	o := NewPriceOracle(domain.RefExchange, "BTC-USDT", gw, nil, zap.NewNop())

	price, err := o.ReferencePrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 44500.0, price)
}

func TestOracleExternalSource(t *testing.T) {
	feed := &fakeFeed{price: 0.0421}
	o := NewPriceOracle(domain.RefExternal, "TOKEN-USDT", nil, feed, zap.NewNop())

	price, err := o.ReferencePrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0421, price)

	feed.set(0.0523)
	price, err = o.ReferencePrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0523, price)
}

func TestOracleUsesLastKnownOnFetchFailure(t *testing.T) {
	feed := &fakeFeed{price: 100}
	o := NewPriceOracle(domain.RefExternal, "TOKEN-USDT", nil, feed, zap.NewNop())

	_, err := o.ReferencePrice(context.Background())
	require.NoError(t, err)

	feed.mu.Lock()
	feed.err = domain.ErrTransientFetch
	feed.mu.Unlock()

	price, err := o.ReferencePrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
}

func TestOracleNoPriceEverObserved(t *testing.T) {
	feed := &fakeFeed{err: domain.ErrTransientFetch}
	o := NewPriceOracle(domain.RefExternal, "TOKEN-USDT", nil, feed, zap.NewNop())

	_, err := o.ReferencePrice(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoPrice)
}
