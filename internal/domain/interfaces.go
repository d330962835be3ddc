package domain

import "context"

// Gateway is the capability interface to one authenticated spot exchange
// account. All calls must be issued with a bounded context; a hung call must
// not block a monitoring loop indefinitely.
type Gateway interface {
	ValidateSymbol(ctx context.Context, symbol string) error
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, quantity, price float64) (*PlacedOrder, error)
	// CancelOrder is idempotent from the caller's perspective: cancelling an
	// already filled or cancelled order is success, never fatal.
	CancelOrder(ctx context.Context, orderID, symbol string) error
	ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
}

// GatewayFactory builds a Gateway for an exchange id and account
// credentials. Per-exchange authentication quirks are opaque configuration
// inside the factory, never visible to the engine.
type GatewayFactory interface {
	New(exchangeID string, creds Credentials) (Gateway, error)
}

// PriceSource is an external feed quoting one pair in USD.
type PriceSource interface {
	FetchPrice(ctx context.Context) (float64, error)
}

// SessionRepository stores market-making sessions. Writes are scoped by
// session id and safe to interleave across sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessionsByUser(ctx context.Context, userID int64) ([]*Session, error)
	ListSessionsByStatus(ctx context.Context, statuses ...SessionStatus) ([]*Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, errMsg string) error
	UpdateSessionCounters(ctx context.Context, id string, clusters, fills int64, pnl float64, uptimeSeconds int64) error
}

// ClusterRepository stores paired-strategy clusters keyed by session+seq.
type ClusterRepository interface {
	InsertCluster(ctx context.Context, c *Cluster) error
	UpdateCluster(ctx context.Context, c *Cluster) error
	ListClustersBySession(ctx context.Context, sessionID string) ([]*Cluster, error)
}

// OrderRepository stores ladder-strategy order rows.
type OrderRepository interface {
	InsertOrder(ctx context.Context, sessionID string, o *LiveOrder) error
	MarkOrderFilled(ctx context.Context, sessionID, orderID string) error
	ListOrdersBySession(ctx context.Context, sessionID string) ([]*LiveOrder, error)
}

// CredentialRepository stores exchange API credentials per user. The
// implementation is responsible for encryption at rest.
type CredentialRepository interface {
	SaveCredentials(ctx context.Context, userID int64, exchangeID string, creds Credentials) error
	GetCredentials(ctx context.Context, userID int64, exchangeID string) (*Credentials, error)
	ListCredentialExchanges(ctx context.Context, userID int64) ([]string, error)
	DeleteCredentials(ctx context.Context, userID int64, exchangeID string) error
}
