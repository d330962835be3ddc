package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/openquant/mmdash/internal/domain"
	"go.uber.org/zap"
)

// Authentication mechanics live in front of this service; handlers identify
// the caller by the user_id request field.

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrConfig):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrFatalStart), errors.Is(err, domain.ErrExchangeRejected):
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- market making ---

type startSessionRequest struct {
	UserID int64                `json:"user_id"`
	Config domain.SessionConfig `json:"config"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	session, err := s.manager.StartSession(r.Context(), req.UserID, req.Config)
	if err != nil && session == nil {
		s.writeError(w, err)
		return
	}
	// A FAILED session is still returned so the caller sees the reason.
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.StopSession(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": string(domain.StatusStopped)})
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.PauseSession(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": string(domain.StatusPaused)})
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.ResumeSession(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": string(domain.StatusRunning)})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.SessionStatus(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSessionClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.clusters.ListClustersBySession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, clusters)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	sessions, err := s.manager.ListSessions(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

// --- api keys ---

type saveAPIKeysRequest struct {
	UserID    int64  `json:"user_id"`
	Exchange  string `json:"exchange"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Memo      string `json:"memo,omitempty"`
}

func (s *Server) handleSaveAPIKeys(w http.ResponseWriter, r *http.Request) {
	var req saveAPIKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == 0 || req.Exchange == "" || req.APIKey == "" || req.APISecret == "" {
		http.Error(w, "user_id, exchange, api_key and api_secret are required", http.StatusBadRequest)
		return
	}

	creds := domain.Credentials{APIKey: req.APIKey, APISecret: req.APISecret, Memo: req.Memo}
	if err := s.creds.SaveCredentials(r.Context(), req.UserID, req.Exchange, creds); err != nil {
		s.logger.Error("Failed to save credentials", zap.Error(err))
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"exchange": req.Exchange, "message": "API keys saved"})
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	exchanges, err := s.creds.ListCredentialExchanges(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if exchanges == nil {
		exchanges = []string{}
	}
	s.writeJSON(w, http.StatusOK, exchanges)
}

func (s *Server) handleDeleteAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	exchange := r.PathValue("exchange")
	if err := s.creds.DeleteCredentials(r.Context(), userID, exchange); err != nil {
		http.Error(w, "API keys not found for "+exchange, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"exchange": exchange, "message": "API keys deleted"})
}

// --- market data ---

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	symbol := r.URL.Query().Get("symbol")
	if exchange == "" || symbol == "" {
		http.Error(w, "exchange and symbol are required", http.StatusBadRequest)
		return
	}

	gateway, err := s.public.NewPublic(exchange)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ticker, err := gateway.FetchTicker(r.Context(), symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ticker)
}

func (s *Server) handleExternalPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.feed.FetchPrice(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]float64{"price": price})
}
