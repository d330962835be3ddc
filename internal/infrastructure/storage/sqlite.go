package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/openquant/mmdash/internal/domain"
	"github.com/openquant/mmdash/internal/infrastructure/secrets"
)

// SQLiteStore implements the session, cluster, order and credential
// repositories. Every write is scoped by session or user id; there is no
// store-wide locking.
type SQLiteStore struct {
	db     *sql.DB
	cipher *secrets.Cipher
}

func NewSQLiteStore(dbPath string, cipher *secrets.Cipher) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, cipher: cipher}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			spread_pct REAL NOT NULL,
			total_amount REAL NOT NULL,
			reference_source TEXT NOT NULL,
			strategy TEXT NOT NULL,
			order_count INTEGER NOT NULL DEFAULT 0,
			base_order_size REAL NOT NULL DEFAULT 0,
			refresh_interval_ms INTEGER NOT NULL DEFAULT 0,
			movement_threshold_pct REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			clusters_placed INTEGER NOT NULL DEFAULT 0,
			fills INTEGER NOT NULL DEFAULT 0,
			total_pnl REAL NOT NULL DEFAULT 0,
			uptime_seconds INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			stopped_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);`,
		`CREATE TABLE IF NOT EXISTS mm_clusters (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			mid_price REAL NOT NULL,
			buy_order_id TEXT NOT NULL DEFAULT '',
			buy_price REAL NOT NULL DEFAULT 0,
			buy_quantity REAL NOT NULL DEFAULT 0,
			buy_filled REAL NOT NULL DEFAULT 0,
			buy_status TEXT NOT NULL DEFAULT 'OPEN',
			sell_order_id TEXT NOT NULL DEFAULT '',
			sell_price REAL NOT NULL DEFAULT 0,
			sell_quantity REAL NOT NULL DEFAULT 0,
			sell_filled REAL NOT NULL DEFAULT 0,
			sell_status TEXT NOT NULL DEFAULT 'OPEN',
			created_at DATETIME NOT NULL,
			last_checked DATETIME,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS mm_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			exchange_order_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			level INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'OPEN',
			placed_at DATETIME NOT NULL,
			filled_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mm_orders_session ON mm_orders(session_id);`,
		`CREATE TABLE IF NOT EXISTS api_credentials (
			user_id INTEGER NOT NULL,
			exchange TEXT NOT NULL,
			api_key_encrypted TEXT NOT NULL,
			api_secret_encrypted TEXT NOT NULL,
			api_memo_encrypted TEXT,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, exchange)
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// SessionRepository implementation

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	query := `INSERT INTO sessions
		(session_id, user_id, exchange, symbol, spread_pct, total_amount, reference_source, strategy,
		 order_count, base_order_size, refresh_interval_ms, movement_threshold_pct,
		 status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.Config.Exchange, sess.Config.Symbol,
		sess.Config.SpreadPct, sess.Config.TotalAmount,
		string(sess.Config.ReferenceSource), string(sess.Config.Strategy),
		sess.Config.OrderCount, sess.Config.BaseOrderSize,
		sess.Config.RefreshInterval.Milliseconds(), sess.Config.MovementThresholdPct,
		string(sess.Status), sess.ErrorMessage, sess.CreatedAt)
	return err
}

const sessionColumns = `session_id, user_id, exchange, symbol, spread_pct, total_amount,
	reference_source, strategy, order_count, base_order_size, refresh_interval_ms,
	movement_threshold_pct, status, error_message, clusters_placed, fills, total_pnl,
	uptime_seconds, created_at, stopped_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*domain.Session, error) {
	var sess domain.Session
	var refSource, strategy, status string
	var refreshMs int64
	var stoppedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Config.Exchange, &sess.Config.Symbol,
		&sess.Config.SpreadPct, &sess.Config.TotalAmount, &refSource, &strategy,
		&sess.Config.OrderCount, &sess.Config.BaseOrderSize, &refreshMs,
		&sess.Config.MovementThresholdPct, &status, &sess.ErrorMessage,
		&sess.ClustersPlaced, &sess.Fills, &sess.TotalPnL, &sess.UptimeSeconds,
		&sess.CreatedAt, &stoppedAt)
	if err != nil {
		return nil, err
	}
	sess.Config.ReferenceSource = domain.ReferenceSource(refSource)
	sess.Config.Strategy = domain.StrategyKind(strategy)
	sess.Config.RefreshInterval = time.Duration(refreshMs) * time.Millisecond
	sess.Status = domain.SessionStatus(status)
	if stoppedAt.Valid {
		t := stoppedAt.Time
		sess.StoppedAt = &t
	}
	return &sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteStore) ListSessionsByUser(ctx context.Context, userID int64) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *SQLiteStore) ListSessionsByStatus(ctx context.Context, statuses ...domain.SessionStatus) ([]*domain.Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*domain.Session, error) {
	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus, errMsg string) error {
	if status == domain.StatusStopped {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, error_message = ?, stopped_at = CURRENT_TIMESTAMP WHERE session_id = ?`,
			string(status), errMsg, id)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, error_message = ? WHERE session_id = ?`,
		string(status), errMsg, id)
	return err
}

func (s *SQLiteStore) UpdateSessionCounters(ctx context.Context, id string, clusters, fills int64, pnl float64, uptimeSeconds int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET clusters_placed = ?, fills = ?, total_pnl = ?, uptime_seconds = ? WHERE session_id = ?`,
		clusters, fills, pnl, uptimeSeconds, id)
	return err
}

// ClusterRepository implementation

func (s *SQLiteStore) InsertCluster(ctx context.Context, c *domain.Cluster) error {
	query := `INSERT INTO mm_clusters
		(session_id, seq, mid_price,
		 buy_order_id, buy_price, buy_quantity, buy_filled, buy_status,
		 sell_order_id, sell_price, sell_quantity, sell_filled, sell_status,
		 created_at, last_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO UPDATE SET
		 buy_order_id=excluded.buy_order_id, buy_price=excluded.buy_price,
		 buy_quantity=excluded.buy_quantity, buy_filled=excluded.buy_filled,
		 buy_status=excluded.buy_status,
		 sell_order_id=excluded.sell_order_id, sell_price=excluded.sell_price,
		 sell_quantity=excluded.sell_quantity, sell_filled=excluded.sell_filled,
		 sell_status=excluded.sell_status,
		 last_checked=excluded.last_checked`
	_, err := s.db.ExecContext(ctx, query,
		c.SessionID, c.Seq, c.MidPrice,
		c.Buy.OrderID, c.Buy.Price, c.Buy.Quantity, c.Buy.Filled, string(c.Buy.Status),
		c.Sell.OrderID, c.Sell.Price, c.Sell.Quantity, c.Sell.Filled, string(c.Sell.Status),
		c.CreatedAt, c.LastChecked)
	return err
}

func (s *SQLiteStore) UpdateCluster(ctx context.Context, c *domain.Cluster) error {
	query := `UPDATE mm_clusters SET
		 buy_order_id = ?, buy_price = ?, buy_quantity = ?, buy_filled = ?, buy_status = ?,
		 sell_order_id = ?, sell_price = ?, sell_quantity = ?, sell_filled = ?, sell_status = ?,
		 last_checked = ?
		WHERE session_id = ? AND seq = ?`
	_, err := s.db.ExecContext(ctx, query,
		c.Buy.OrderID, c.Buy.Price, c.Buy.Quantity, c.Buy.Filled, string(c.Buy.Status),
		c.Sell.OrderID, c.Sell.Price, c.Sell.Quantity, c.Sell.Filled, string(c.Sell.Status),
		c.LastChecked, c.SessionID, c.Seq)
	return err
}

func (s *SQLiteStore) ListClustersBySession(ctx context.Context, sessionID string) ([]*domain.Cluster, error) {
	query := `SELECT session_id, seq, mid_price,
		 buy_order_id, buy_price, buy_quantity, buy_filled, buy_status,
		 sell_order_id, sell_price, sell_quantity, sell_filled, sell_status,
		 created_at, last_checked
		FROM mm_clusters WHERE session_id = ? ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []*domain.Cluster
	for rows.Next() {
		var c domain.Cluster
		var buyStatus, sellStatus string
		var lastChecked sql.NullTime
		if err := rows.Scan(&c.SessionID, &c.Seq, &c.MidPrice,
			&c.Buy.OrderID, &c.Buy.Price, &c.Buy.Quantity, &c.Buy.Filled, &buyStatus,
			&c.Sell.OrderID, &c.Sell.Price, &c.Sell.Quantity, &c.Sell.Filled, &sellStatus,
			&c.CreatedAt, &lastChecked); err != nil {
			return nil, err
		}
		c.Buy.Status = domain.LegStatus(buyStatus)
		c.Sell.Status = domain.LegStatus(sellStatus)
		if lastChecked.Valid {
			c.LastChecked = lastChecked.Time
		}
		clusters = append(clusters, &c)
	}
	return clusters, rows.Err()
}

// OrderRepository implementation

func (s *SQLiteStore) InsertOrder(ctx context.Context, sessionID string, o *domain.LiveOrder) error {
	query := `INSERT INTO mm_orders (session_id, exchange_order_id, side, price, quantity, level, status, placed_at)
		VALUES (?, ?, ?, ?, ?, ?, 'OPEN', ?)`
	_, err := s.db.ExecContext(ctx, query,
		sessionID, o.OrderID, string(o.Side), o.Price, o.Quantity, o.Level, o.PlacedAt)
	return err
}

func (s *SQLiteStore) MarkOrderFilled(ctx context.Context, sessionID, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mm_orders SET status = 'FILLED', filled_at = CURRENT_TIMESTAMP
		 WHERE session_id = ? AND exchange_order_id = ?`, sessionID, orderID)
	return err
}

func (s *SQLiteStore) ListOrdersBySession(ctx context.Context, sessionID string) ([]*domain.LiveOrder, error) {
	query := `SELECT exchange_order_id, side, price, quantity, level, placed_at
		FROM mm_orders WHERE session_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.LiveOrder
	for rows.Next() {
		var o domain.LiveOrder
		var side string
		if err := rows.Scan(&o.OrderID, &side, &o.Price, &o.Quantity, &o.Level, &o.PlacedAt); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

// CredentialRepository implementation

func (s *SQLiteStore) SaveCredentials(ctx context.Context, userID int64, exchangeID string, creds domain.Credentials) error {
	keyEnc, err := s.cipher.Encrypt(creds.APIKey)
	if err != nil {
		return err
	}
	secretEnc, err := s.cipher.Encrypt(creds.APISecret)
	if err != nil {
		return err
	}
	var memoEnc sql.NullString
	if creds.Memo != "" {
		enc, err := s.cipher.Encrypt(creds.Memo)
		if err != nil {
			return err
		}
		memoEnc = sql.NullString{String: enc, Valid: true}
	}

	query := `INSERT INTO api_credentials (user_id, exchange, api_key_encrypted, api_secret_encrypted, api_memo_encrypted, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, exchange) DO UPDATE SET
		 api_key_encrypted=excluded.api_key_encrypted,
		 api_secret_encrypted=excluded.api_secret_encrypted,
		 api_memo_encrypted=excluded.api_memo_encrypted`
	_, err = s.db.ExecContext(ctx, query,
		userID, strings.ToLower(exchangeID), keyEnc, secretEnc, memoEnc, time.Now())
	return err
}

func (s *SQLiteStore) GetCredentials(ctx context.Context, userID int64, exchangeID string) (*domain.Credentials, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT api_key_encrypted, api_secret_encrypted, api_memo_encrypted
		 FROM api_credentials WHERE user_id = ? AND exchange = ?`,
		userID, strings.ToLower(exchangeID))

	var keyEnc, secretEnc string
	var memoEnc sql.NullString
	if err := row.Scan(&keyEnc, &secretEnc, &memoEnc); err != nil {
		return nil, err
	}

	key, err := s.cipher.Decrypt(keyEnc)
	if err != nil {
		return nil, err
	}
	secret, err := s.cipher.Decrypt(secretEnc)
	if err != nil {
		return nil, err
	}
	creds := &domain.Credentials{APIKey: key, APISecret: secret}
	if memoEnc.Valid {
		memo, err := s.cipher.Decrypt(memoEnc.String)
		if err != nil {
			return nil, err
		}
		creds.Memo = memo
	}
	return creds, nil
}

func (s *SQLiteStore) ListCredentialExchanges(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exchange FROM api_credentials WHERE user_id = ? ORDER BY exchange`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exchanges []string
	for rows.Next() {
		var ex string
		if err := rows.Scan(&ex); err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

func (s *SQLiteStore) DeleteCredentials(ctx context.Context, userID int64, exchangeID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_credentials WHERE user_id = ? AND exchange = ?`,
		userID, strings.ToLower(exchangeID))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
