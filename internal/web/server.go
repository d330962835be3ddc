package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openquant/mmdash/internal/domain"
	"github.com/openquant/mmdash/internal/usecase"
	"go.uber.org/zap"
)

// PublicGateways builds unauthenticated gateways for public market data.
type PublicGateways interface {
	NewPublic(exchangeID string) (domain.Gateway, error)
}

type Server struct {
	router   *http.ServeMux
	server   *http.Server
	manager  *usecase.SessionManager
	creds    domain.CredentialRepository
	clusters domain.ClusterRepository
	public   PublicGateways
	feed     domain.PriceSource
	logger   *zap.Logger

	// defaults for the websocket ticker stream
	streamExchange string
	streamSymbol   string
}

func NewServer(
	port int,
	manager *usecase.SessionManager,
	creds domain.CredentialRepository,
	clusters domain.ClusterRepository,
	public PublicGateways,
	feed domain.PriceSource,
	streamExchange, streamSymbol string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:         http.NewServeMux(),
		manager:        manager,
		creds:          creds,
		clusters:       clusters,
		public:         public,
		feed:           feed,
		streamExchange: streamExchange,
		streamSymbol:   streamSymbol,
		logger:         logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Health
	s.router.HandleFunc("GET /api/v1/health", s.handleHealth)

	// Market making
	s.router.HandleFunc("POST /api/v1/market-making/start", s.handleStartSession)
	s.router.HandleFunc("POST /api/v1/market-making/{id}/stop", s.handleStopSession)
	s.router.HandleFunc("POST /api/v1/market-making/{id}/pause", s.handlePauseSession)
	s.router.HandleFunc("POST /api/v1/market-making/{id}/resume", s.handleResumeSession)
	s.router.HandleFunc("GET /api/v1/market-making/{id}/status", s.handleSessionStatus)
	s.router.HandleFunc("GET /api/v1/market-making/{id}/clusters", s.handleSessionClusters)
	s.router.HandleFunc("GET /api/v1/market-making/sessions", s.handleListSessions)

	// API keys
	s.router.HandleFunc("POST /api/v1/api-keys", s.handleSaveAPIKeys)
	s.router.HandleFunc("GET /api/v1/api-keys", s.handleListAPIKeys)
	s.router.HandleFunc("DELETE /api/v1/api-keys/{exchange}", s.handleDeleteAPIKeys)

	// Market data
	s.router.HandleFunc("GET /api/v1/market/ticker", s.handleTicker)
	s.router.HandleFunc("GET /api/v1/market/external-price", s.handleExternalPrice)

	// Realtime stream
	s.router.HandleFunc("GET /ws", s.handleTickerStream)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
