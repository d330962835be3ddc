package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type LegStatus string

const (
	LegOpen   LegStatus = "OPEN"
	LegFilled LegStatus = "FILLED"
)

// OrderSpec is one order a strategy wants resting on the exchange.
type OrderSpec struct {
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Level    int     `json:"level"`
}

// LiveOrder is the engine's in-memory view of one order it believes is
// resting on the exchange. It is reconciled against ListOpenOrders, never
// trusted on its own.
type LiveOrder struct {
	OrderID  string  `json:"order_id"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Filled   float64 `json:"filled"`
	Level    int     `json:"level"`
	PlacedAt time.Time `json:"placed_at"`
}

// Leg is one side of a cluster.
type Leg struct {
	OrderID  string    `json:"order_id"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Filled   float64   `json:"filled"`
	Status   LegStatus `json:"status"`
}

// Cluster is one matched buy+sell pair in the paired strategy. A replaced
// leg overwrites the leg fields in place; the prior order id is abandoned.
type Cluster struct {
	SessionID   string    `json:"session_id"`
	Seq         int       `json:"seq"`
	MidPrice    float64   `json:"mid_price"`
	Buy         Leg       `json:"buy"`
	Sell        Leg       `json:"sell"`
	CreatedAt   time.Time `json:"created_at"`
	LastChecked time.Time `json:"last_checked"`
}

// PlacedOrder is the gateway's acknowledgement of an accepted order.
type PlacedOrder struct {
	OrderID string
	Status  string
}

// OpenOrder is one resting order as reported by the exchange. The open-order
// listing is the single source of truth for "is this order still resting".
type OpenOrder struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Filled   float64 `json:"filled"`
}

// Ticker is a spot market snapshot.
type Ticker struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
}
