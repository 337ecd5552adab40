// Package api exposes the scraping agent over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pantryops/cartd/admission"
	"github.com/pantryops/cartd/agent"
	"github.com/pantryops/cartd/credstore"
	"github.com/pantryops/cartd/journal"
	"github.com/pantryops/cartd/session"
)

const maxBodyBytes = 1 << 20

// Service wires the agent and its stores to HTTP handlers.
type Service struct {
	agent     *agent.Agent
	admission *admission.Controller
	creds     *credstore.Store
	journal   *journal.Journal
	logger    *slog.Logger
}

// New builds the HTTP service. The journal is optional.
func New(ag *agent.Agent, adm *admission.Controller, creds *credstore.Store, jr *journal.Journal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{agent: ag, admission: adm, creds: creds, journal: jr, logger: logger}
}

// RegisterHTTP registers all endpoints on the router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", s.handleHealth)

	r.Get("/api/platforms/status", s.handlePlatformStatus)
	r.Post("/api/platforms/{platform}/search", s.handleSearch)
	r.Post("/api/platforms/{platform}/orders/refresh", s.handleOrdersRefresh)
	r.Post("/api/platforms/{platform}/cart", s.handleCart)
	r.Get("/api/orders/aggregate", s.handleOrdersAggregate)

	r.Get("/api/runs", s.handleRuns)

	r.Get("/api/sessions", s.handleSessionsList)
	r.Put("/api/sessions/{platform}", s.handleSessionPut)
	r.Delete("/api/sessions/{platform}", s.handleSessionDelete)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handlePlatformStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.admission.Status())
}

// SearchRequest is the body for POST /api/platforms/{platform}/search.
type SearchRequest struct {
	StoreURL string `json:"storeUrl"`
	Query    string `json:"query"`
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	var req SearchRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query required", http.StatusBadRequest)
		return
	}

	items, err := s.agent.SearchStore(r.Context(), platform, req.StoreURL, req.Query)
	if err != nil {
		s.writeError(w, platform, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"platform": platform,
		"query":    req.Query,
		"items":    items,
	})
}

func (s *Service) handleOrdersRefresh(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	orders, err := s.agent.FetchOrderHistory(r.Context(), platform)
	if err != nil {
		s.writeError(w, platform, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"platform": platform,
		"orders":   orders,
	})
}

func (s *Service) handleOrdersAggregate(w http.ResponseWriter, r *http.Request) {
	history, err := s.agent.FetchAllOrderHistories(r.Context())
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

// CartRequest is the body for POST /api/platforms/{platform}/cart.
type CartRequest struct {
	StoreURL string           `json:"storeUrl"`
	Items    []agent.CartItem `json:"items"`
}

func (s *Service) handleCart(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	var req CartRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.StoreURL == "" || len(req.Items) == 0 {
		http.Error(w, "storeUrl and items required", http.StatusBadRequest)
		return
	}

	result, err := s.agent.AddToCart(r.Context(), platform, req.StoreURL, req.Items)
	if err != nil {
		s.writeError(w, platform, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleRuns lists recent scrape runs, optionally filtered with
// ?platform= and ?limit=.
func (s *Service) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "run journal disabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.journal.Recent(r.Context(), r.URL.Query().Get("platform"), limit)
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Service) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	infos, err := s.creds.List(r.Context())
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	if infos == nil {
		infos = []credstore.SessionInfo{}
	}
	s.writeJSON(w, http.StatusOK, infos)
}

// handleSessionPut accepts a captured browser storage state (cookies
// plus per-origin localStorage) and stores it sealed.
func (s *Service) handleSessionPut(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	var state session.StorageState
	if err := decodeBody(w, r, &state); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(state.Cookies) == 0 && len(state.Origins) == 0 {
		http.Error(w, "storage state is empty", http.StatusBadRequest)
		return
	}

	raw, err := json.Marshal(state)
	if err != nil {
		s.writeError(w, platform, err)
		return
	}
	if err := s.creds.Put(r.Context(), platform, raw); err != nil {
		s.writeError(w, platform, err)
		return
	}
	s.logger.Info("api: session stored", "platform", platform, "cookies", len(state.Cookies))
	s.writeJSON(w, http.StatusOK, map[string]string{"platform": platform, "status": "stored"})
}

func (s *Service) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	if err := s.creds.Invalidate(r.Context(), platform); err != nil {
		s.writeError(w, platform, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("api: encode response", "error", err)
	}
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error    string `json:"error"`
	Platform string `json:"platform,omitempty"`
}

// writeError maps agent and admission failures to HTTP statuses:
// unknown platform 404, missing credentials 409, admission denials 429
// with Retry-After, block pages 502, everything else 500.
func (s *Service) writeError(w http.ResponseWriter, platform string, err error) {
	status := http.StatusInternalServerError

	var denied *admission.DeniedError
	switch {
	case errors.As(err, &denied):
		status = http.StatusTooManyRequests
		secs := int(denied.RetryAfter/time.Second) + 1
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	case errors.Is(err, agent.ErrUnknownPlatform):
		status = http.StatusNotFound
	case errors.Is(err, agent.ErrNoCredential):
		status = http.StatusConflict
	case agent.IsBlocked(err):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("api: request failed", "platform", platform, "error", err)
	} else {
		s.logger.Warn("api: request rejected", "platform", platform, "status", status, "error", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Platform: platform})
}
