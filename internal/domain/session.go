package domain

import "time"

type SessionStatus string

const (
	StatusStarting SessionStatus = "STARTING"
	StatusRunning  SessionStatus = "RUNNING"
	StatusPaused   SessionStatus = "PAUSED"
	StatusFailed   SessionStatus = "FAILED"
	StatusStopped  SessionStatus = "STOPPED"
)

// Terminal reports whether a session in this status is never auto-resumed.
func (s SessionStatus) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

type ReferenceSource string

const (
	RefExchange ReferenceSource = "EXCHANGE"
	RefExternal ReferenceSource = "EXTERNAL"
)

type StrategyKind string

const (
	StrategyPaired StrategyKind = "PAIRED"
	StrategyLadder StrategyKind = "LADDER"
)

// SessionConfig is the immutable configuration of a market-making run.
// OrderCount, BaseOrderSize, RefreshInterval and MovementThresholdPct apply
// to the ladder strategy only.
type SessionConfig struct {
	Exchange             string          `json:"exchange" yaml:"exchange"`
	Symbol               string          `json:"symbol" yaml:"symbol"`
	SpreadPct            float64         `json:"spread_pct" yaml:"spread_pct"`
	TotalAmount          float64         `json:"total_amount" yaml:"total_amount"`
	ReferenceSource      ReferenceSource `json:"reference_source" yaml:"reference_source"`
	Strategy             StrategyKind    `json:"strategy" yaml:"strategy"`
	OrderCount           int             `json:"order_count,omitempty" yaml:"order_count"`
	BaseOrderSize        float64         `json:"base_order_size,omitempty" yaml:"base_order_size"`
	RefreshInterval      time.Duration   `json:"refresh_interval,omitempty" yaml:"refresh_interval"`
	MovementThresholdPct float64         `json:"movement_threshold_pct,omitempty" yaml:"movement_threshold_pct"`
}

// Session is one user's market-making run. Status transitions are driven
// only by the engine; config never changes after creation.
type Session struct {
	ID     string        `json:"session_id"`
	UserID int64         `json:"user_id"`
	Config SessionConfig `json:"config"`

	Status       SessionStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`

	ClustersPlaced int64   `json:"clusters_placed"`
	Fills          int64   `json:"fills"`
	TotalPnL       float64 `json:"total_pnl"`
	UptimeSeconds  int64   `json:"uptime_seconds"`

	CreatedAt time.Time  `json:"created_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// Credentials are the decrypted API credentials for one exchange account.
// Memo carries the exchange-specific third field (uid, passphrase, memo).
type Credentials struct {
	APIKey    string
	APISecret string
	Memo      string
}
