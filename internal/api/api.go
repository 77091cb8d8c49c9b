// Package api provides the HTTP surface of the wagering engine: crash
// tables, case openings, upgrades, wallets and inventory.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/sebastianusacom/banana-cases-sub000/internal/catalog"
	"github.com/sebastianusacom/banana-cases-sub000/internal/inventory"
	"github.com/sebastianusacom/banana-cases-sub000/internal/ledger"
	"github.com/sebastianusacom/banana-cases-sub000/internal/limits"
	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
	"github.com/sebastianusacom/banana-cases-sub000/internal/round"
	"github.com/sebastianusacom/banana-cases-sub000/internal/session"
)

// idempotencyHeader carries the client request key for mutating game
// operations.
const idempotencyHeader = "Idempotency-Key"

// Server holds the handlers and their dependencies.
type Server struct {
	tables          map[string]*round.Manager
	catalog         *catalog.Catalog
	draws           *session.DrawService
	upgrades        *session.UpgradeService
	wallets         ledger.Store
	items           inventory.Store
	hub             *WSHub
	startingBalance int64
}

// NewServer wires the HTTP layer. hub may be nil when WebSocket streaming is
// not needed (tests).
func NewServer(tables map[string]*round.Manager, c *catalog.Catalog,
	draws *session.DrawService, upgrades *session.UpgradeService,
	wallets ledger.Store, items inventory.Store, hub *WSHub,
	startingBalance int64) *Server {
	return &Server{
		tables:          tables,
		catalog:         c,
		draws:           draws,
		upgrades:        upgrades,
		wallets:         wallets,
		items:           items,
		hub:             hub,
		startingBalance: startingBalance,
	}
}

// Routes mounts all game endpoints under the given router.
func (s *Server) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Get("/tables", s.listTables)
	r.Get("/tables/{tableID}/round", s.getRound)
	r.Get("/tables/{tableID}/rounds", s.getRoundHistory)
	r.Post("/tables/{tableID}/bets", s.placeBet)
	r.Post("/tables/{tableID}/bets/cancel", s.cancelBet)
	r.Post("/tables/{tableID}/cashout", s.cashout)

	r.Get("/cases", s.listCases)
	r.Post("/cases/{caseID}/open", s.openCase)

	r.Post("/upgrades", s.attemptUpgrade)

	r.Post("/wallets", s.createWallet)
	r.Get("/wallets/{userID}", s.getWallet)
	r.Post("/wallets/{userID}/adjust", s.adjustWallet)

	r.Get("/inventory/{userID}", s.listInventory)
}

// --- Request/Response types ---

// BetRequest is the JSON body for POST /tables/{tableID}/bets.
type BetRequest struct {
	UserID      string  `json:"user_id"`
	Amount      int64   `json:"amount"`
	AutoCashout float64 `json:"auto_cashout,omitempty"` // 0 = none
}

// UserRequest is the JSON body for cancel and cashout.
type UserRequest struct {
	UserID string `json:"user_id"`
}

// OpenCaseRequest is the JSON body for POST /cases/{caseID}/open.
type OpenCaseRequest struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"` // 0 → 1
}

// UpgradeRequest is the JSON body for POST /upgrades.
type UpgradeRequest struct {
	UserID           string `json:"user_id"`
	SourceInstanceID string `json:"source_instance_id"`
	TargetItemID     string `json:"target_item_id"`
}

// CreateWalletRequest is the JSON body for POST /wallets.
type CreateWalletRequest struct {
	UserID string `json:"user_id"`
}

// AdjustRequest is the JSON body for POST /wallets/{userID}/adjust.
type AdjustRequest struct {
	Delta          int64  `json:"delta"`
	IdempotencyKey string `json:"idempotency_key"`
}

// WalletResponse is the JSON body for wallet reads and adjustments.
type WalletResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// --- Crash table handlers ---

func (s *Server) table(w http.ResponseWriter, r *http.Request) (*round.Manager, bool) {
	id := chi.URLParam(r, "tableID")
	mgr, ok := s.tables[id]
	if !ok {
		writeError(w, "table not found: "+id, http.StatusNotFound)
		return nil, false
	}
	return mgr, true
}

func (s *Server) listTables(w http.ResponseWriter, _ *http.Request) {
	ids := make([]string, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string][]string{"tables": ids})
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.table(w, r)
	if !ok {
		return
	}
	snap, err := mgr.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getRoundHistory(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.table(w, r)
	if !ok {
		return
	}
	history := mgr.History()
	if history == nil {
		history = []model.RoundSnapshot{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.table(w, r)
	if !ok {
		return
	}
	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	bet, err := mgr.PlaceBet(r.Context(), req.UserID, req.Amount, req.AutoCashout)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

func (s *Server) cancelBet(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.table(w, r)
	if !ok {
		return
	}
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	bet, err := mgr.CancelBet(r.Context(), req.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

func (s *Server) cashout(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.table(w, r)
	if !ok {
		return
	}
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	bet, err := mgr.Cashout(r.Context(), req.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// --- Case handlers ---

func (s *Server) listCases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Cases())
}

func (s *Server) openCase(w http.ResponseWriter, r *http.Request) {
	var req OpenCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	res, err := s.draws.OpenCase(r.Context(), req.UserID, chi.URLParam(r, "caseID"),
		req.Count, r.Header.Get(idempotencyHeader))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Upgrade handler ---

func (s *Server) attemptUpgrade(w http.ResponseWriter, r *http.Request) {
	var req UpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.SourceInstanceID == "" || req.TargetItemID == "" {
		writeError(w, "user_id, source_instance_id and target_item_id are required", http.StatusBadRequest)
		return
	}

	att, err := s.upgrades.Attempt(r.Context(), req.UserID, req.SourceInstanceID,
		req.TargetItemID, r.Header.Get(idempotencyHeader))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

// --- Wallet handlers ---

func (s *Server) createWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := s.wallets.CreateWallet(r.Context(), req.UserID, s.startingBalance); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, WalletResponse{UserID: req.UserID, Balance: s.startingBalance})
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := s.wallets.Balance(r.Context(), userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletResponse{UserID: userID, Balance: balance})
}

func (s *Server) adjustWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.IdempotencyKey == "" {
		writeError(w, "idempotency_key is required", http.StatusBadRequest)
		return
	}

	balance, err := s.wallets.Adjust(r.Context(), userID, req.Delta, req.IdempotencyKey)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletResponse{UserID: userID, Balance: balance})
}

// --- Inventory handler ---

func (s *Server) listInventory(w http.ResponseWriter, r *http.Request) {
	owned, err := s.items.List(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if owned == nil {
		owned = []model.OwnedItem{}
	}
	writeJSON(w, http.StatusOK, owned)
}

// --- Error mapping ---

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, catalog.ErrUnknownCase),
		errors.Is(err, catalog.ErrUnknownItem),
		errors.Is(err, inventory.ErrItemNotOwned),
		errors.Is(err, round.ErrNoActiveBet),
		errors.Is(err, ledger.ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrWalletExists),
		errors.Is(err, ledger.ErrReceiptUsed),
		errors.Is(err, round.ErrInvalidState),
		errors.Is(err, round.ErrRoundCrashed),
		errors.Is(err, session.ErrRequestKeyConflict),
		errors.Is(err, limits.ErrStakeLimitExceeded),
		errors.Is(err, limits.ErrOpenStakeLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, round.ErrInvalidBet),
		errors.Is(err, session.ErrMissingRequestKey),
		errors.Is(err, session.ErrInvalidCount),
		errors.Is(err, session.ErrInvalidUpgrade),
		errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAuthorityUnavailable),
		errors.Is(err, round.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
