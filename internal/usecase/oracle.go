package usecase

import (
	"context"
	"sync"

	"github.com/openquant/mmdash/internal/domain"
	"go.uber.org/zap"
)

// PriceOracle returns the reference mid price for one session: the average
// of best bid/ask from the exchange, or an external feed quote. A failed
// fetch falls back to the last known price so the engine never stalls;
// "price unchanged" is a valid transient state, not a fault.
type PriceOracle struct {
	source  domain.ReferenceSource
	symbol  string
	gateway domain.Gateway
	feed    domain.PriceSource
	logger  *zap.Logger

	mu   sync.Mutex
	last float64
	seen bool
}

func NewPriceOracle(source domain.ReferenceSource, symbol string, gateway domain.Gateway, feed domain.PriceSource, logger *zap.Logger) *PriceOracle {
	return &PriceOracle{
		source:  source,
		symbol:  symbol,
		gateway: gateway,
		feed:    feed,
		logger:  logger,
	}
}

// ReferencePrice fetches a fresh reference price, caching it on success. On
// any fetch error the cached price is returned; ErrNoPrice only when no
// price was ever observed.
func (o *PriceOracle) ReferencePrice(ctx context.Context) (float64, error) {
	price, err := o.fetch(ctx)
	if err != nil {
		o.logger.Warn("reference price fetch failed, using last known",
			zap.String("symbol", o.symbol), zap.Error(err))
		return o.LastKnown()
	}

	o.mu.Lock()
	o.last = price
	o.seen = true
	o.mu.Unlock()
	return price, nil
}

// LastKnown returns the cached price without fetching.
func (o *PriceOracle) LastKnown() (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.seen {
		return 0, domain.ErrNoPrice
	}
	return o.last, nil
}

func (o *PriceOracle) fetch(ctx context.Context) (float64, error) {
	if o.source == domain.RefExternal {
		return o.feed.FetchPrice(ctx)
	}

	ticker, err := o.gateway.FetchTicker(ctx, o.symbol)
	if err != nil {
		return 0, err
	}
	if ticker.Bid > 0 && ticker.Ask > 0 {
		return (ticker.Bid + ticker.Ask) / 2, nil
	}
	if ticker.Last > 0 {
		return ticker.Last, nil
	}
	return 0, domain.ErrTransientFetch
}
