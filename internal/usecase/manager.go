package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openquant/mmdash/internal/domain"
	"go.uber.org/zap"
)

// SessionManager owns the registry of session id -> running engine, so that
// stop/pause/status requests reach the right instance. It is injected into
// the request handlers; there is no process-global state.
type SessionManager struct {
	sessions domain.SessionRepository
	clusters domain.ClusterRepository
	orders   domain.OrderRepository
	creds    domain.CredentialRepository
	factory  domain.GatewayFactory
	feed     domain.PriceSource
	cfg      EngineConfig
	logger   *zap.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewSessionManager(
	sessions domain.SessionRepository,
	clusters domain.ClusterRepository,
	orders domain.OrderRepository,
	creds domain.CredentialRepository,
	factory domain.GatewayFactory,
	feed domain.PriceSource,
	cfg EngineConfig,
	logger *zap.Logger,
) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		clusters: clusters,
		orders:   orders,
		creds:    creds,
		factory:  factory,
		feed:     feed,
		cfg:      cfg,
		logger:   logger,
		engines:  make(map[string]*Engine),
	}
}

func validateConfig(cfg domain.SessionConfig) error {
	if cfg.Exchange == "" || cfg.Symbol == "" {
		return fmt.Errorf("%w: exchange and symbol are required", domain.ErrConfig)
	}
	if cfg.SpreadPct <= 0 || cfg.SpreadPct >= 100 {
		return fmt.Errorf("%w: spread must be between 0 and 100 percent", domain.ErrConfig)
	}
	if cfg.ReferenceSource != domain.RefExchange && cfg.ReferenceSource != domain.RefExternal {
		return fmt.Errorf("%w: reference source must be EXCHANGE or EXTERNAL", domain.ErrConfig)
	}
	switch cfg.Strategy {
	case domain.StrategyPaired:
		if cfg.TotalAmount <= 0 {
			return fmt.Errorf("%w: total amount must be positive", domain.ErrConfig)
		}
	case domain.StrategyLadder:
		if cfg.OrderCount < 2 {
			return fmt.Errorf("%w: order count must be at least 2", domain.ErrConfig)
		}
		if cfg.BaseOrderSize <= 0 {
			return fmt.Errorf("%w: base order size must be positive", domain.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: strategy must be PAIRED or LADDER", domain.ErrConfig)
	}
	return nil
}

// StartSession creates a session record and starts an engine for it. The
// returned session is FAILED when the engine could not start.
func (m *SessionManager) StartSession(ctx context.Context, userID int64, cfg domain.SessionConfig) (*domain.Session, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Config:    cfg,
		Status:    domain.StatusStarting,
		CreatedAt: time.Now(),
	}
	if err := m.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: create session: %v", domain.ErrPersistence, err)
	}

	if err := m.launch(ctx, session); err != nil {
		return session, err
	}
	return session, nil
}

// launch builds the gateway from stored credentials and starts an engine,
// registering it under the session id.
func (m *SessionManager) launch(ctx context.Context, session *domain.Session) error {
	creds, err := m.creds.GetCredentials(ctx, session.UserID, session.Config.Exchange)
	if err != nil {
		err = fmt.Errorf("%w: no credentials for %s: %v", domain.ErrFatalStart, session.Config.Exchange, err)
		m.markFailed(ctx, session, err)
		return err
	}

	gateway, err := m.factory.New(session.Config.Exchange, *creds)
	if err != nil {
		err = fmt.Errorf("%w: gateway for %s: %v", domain.ErrFatalStart, session.Config.Exchange, err)
		m.markFailed(ctx, session, err)
		return err
	}

	oracle := NewPriceOracle(session.Config.ReferenceSource, session.Config.Symbol, gateway, m.feed, m.logger)
	engine := NewEngine(session, gateway, oracle, m.sessions, m.clusters, m.orders, m.cfg, m.logger)

	m.mu.Lock()
	if _, exists := m.engines[session.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("session %s already running", session.ID)
	}
	m.engines[session.ID] = engine
	m.mu.Unlock()

	if err := engine.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.engines, session.ID)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *SessionManager) markFailed(ctx context.Context, session *domain.Session, err error) {
	session.Status = domain.StatusFailed
	session.ErrorMessage = err.Error()
	if uerr := m.sessions.UpdateSessionStatus(ctx, session.ID, domain.StatusFailed, err.Error()); uerr != nil {
		m.logger.Warn("failed to persist FAILED status",
			zap.String("session_id", session.ID), zap.Error(uerr))
	}
}

func (m *SessionManager) engine(id string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	engine, ok := m.engines[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return engine, nil
}

// StopSession stops the engine and removes it from the registry.
func (m *SessionManager) StopSession(ctx context.Context, id string) error {
	engine, err := m.engine(id)
	if err != nil {
		return err
	}
	if err := engine.Stop(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.engines, id)
	m.mu.Unlock()
	return nil
}

func (m *SessionManager) PauseSession(id string) error {
	engine, err := m.engine(id)
	if err != nil {
		return err
	}
	engine.Pause()
	return nil
}

func (m *SessionManager) ResumeSession(id string) error {
	engine, err := m.engine(id)
	if err != nil {
		return err
	}
	engine.Resume()
	return nil
}

func (m *SessionManager) SessionStatus(id string) (*EngineStatus, error) {
	engine, err := m.engine(id)
	if err != nil {
		return nil, err
	}
	return engine.Status(), nil
}

// ListSessions returns a user's sessions from the store, live or not.
func (m *SessionManager) ListSessions(ctx context.Context, userID int64) ([]*domain.Session, error) {
	return m.sessions.ListSessionsByUser(ctx, userID)
}

// ResumeActive scans the store for sessions whose status implies they should
// be running and starts an engine for each. A session that cannot be resumed
// is marked FAILED with the reason and does not block the others. Terminal
// sessions are never auto-resumed.
func (m *SessionManager) ResumeActive(ctx context.Context) {
	sessions, err := m.sessions.ListSessionsByStatus(ctx, domain.StatusRunning, domain.StatusStarting)
	if err != nil {
		m.logger.Error("session scan failed, nothing resumed", zap.Error(err))
		return
	}

	for _, session := range sessions {
		m.mu.Lock()
		_, exists := m.engines[session.ID]
		m.mu.Unlock()
		if exists {
			continue
		}

		m.logger.Info("resuming session",
			zap.String("session_id", session.ID),
			zap.String("symbol", session.Config.Symbol))
		if err := m.launch(ctx, session); err != nil {
			m.logger.Error("resume failed",
				zap.String("session_id", session.ID), zap.Error(err))
			// launch already marked the session FAILED where it could
			if session.Status != domain.StatusFailed {
				m.markFailed(ctx, session, err)
			}
		}
	}
}

// Shutdown stops every running engine concurrently, waiting at most the
// grace period before giving up.
func (m *SessionManager) Shutdown(ctx context.Context, grace time.Duration) {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, engine := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			if err := e.Stop(ctx); err != nil {
				m.logger.Warn("engine stop failed during shutdown", zap.Error(err))
			}
		}(engine)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all sessions stopped")
	case <-time.After(grace):
		m.logger.Warn("shutdown grace period elapsed, forcing exit")
	case <-ctx.Done():
		m.logger.Warn("shutdown context cancelled")
	}
}
