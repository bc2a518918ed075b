// Package api exposes the ledger core over HTTP. Handlers stay thin:
// parse the request, invoke one ledger operation, map domain errors to
// status codes.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cmokmz/stock-exchange/internal/exchange"
	"github.com/cmokmz/stock-exchange/internal/model"
)

// Handler serves the exchange API.
type Handler struct {
	svc *exchange.Service
	hub *WSHub // optional
}

// NewHandler creates an API handler around the ledger service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewHandler(svc *exchange.Service, hub *WSHub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Routes mounts all API endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Post("/companies", h.RegisterCompany)
	r.Get("/companies/{companyID}/price", h.GetCompanyPrice)
	r.Post("/companies/{companyID}/reprice", h.RepriceCompany)
	r.Get("/companies/{companyID}/shares/count", h.CountCompanyShares)
	r.Post("/companies/{companyID}/shares/acquire", h.GrantShares)
	r.Get("/companies/{companyID}/trades", h.GetCompanyTrades)
	r.Post("/shares/issue", h.IssueShares)

	r.Post("/users", h.RegisterUser)
	r.Post("/users/{userID}/deposit", h.Deposit)
	r.Get("/users/{userID}/balance", h.GetUserBalance)
	r.Get("/users/{userID}/shares", h.GetUserShares)
	r.Get("/users/{userID}/trades", h.GetUserTrades)

	r.Post("/trade/acquire", h.AcquireShares)
	r.Post("/trade/sell", h.SellShares)
}

// --- Request types ---

// RegisterCompanyRequest is the JSON body for POST /companies.
// Price defaults to zero when omitted.
type RegisterCompanyRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// RepriceRequest is the JSON body for POST /companies/{id}/reprice.
type RepriceRequest struct {
	Percent decimal.Decimal `json:"percent"`
}

// IssueRequest is the JSON body for POST /shares/issue.
type IssueRequest struct {
	CompanyID int64 `json:"company_id"`
	Amount    int64 `json:"amount"`
}

// GrantRequest is the JSON body for POST /companies/{id}/shares/acquire.
type GrantRequest struct {
	UserID int64 `json:"user_id"`
	Amount int64 `json:"amount"`
}

// RegisterUserRequest is the JSON body for POST /users.
// Balance defaults to zero when omitted.
type RegisterUserRequest struct {
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
}

// DepositRequest is the JSON body for POST /users/{id}/deposit.
type DepositRequest struct {
	Delta decimal.Decimal `json:"delta"`
}

// TradeRequest is the JSON body for POST /trade/acquire and /trade/sell.
type TradeRequest struct {
	UserID    int64 `json:"user_id"`
	CompanyID int64 `json:"company_id"`
	Amount    int64 `json:"amount"`
}

// --- Company endpoints ---

// RegisterCompany handles POST /api/v1/companies.
func (h *Handler) RegisterCompany(w http.ResponseWriter, r *http.Request) {
	var req RegisterCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	company, err := h.svc.RegisterCompany(r.Context(), req.Name, req.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, company)
}

// GetCompanyPrice handles GET /api/v1/companies/{companyID}/price.
func (h *Handler) GetCompanyPrice(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathID(w, r, "companyID")
	if !ok {
		return
	}
	price, err := h.svc.CompanyPrice(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"price": price})
}

// RepriceCompany handles POST /api/v1/companies/{companyID}/reprice.
func (h *Handler) RepriceCompany(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathID(w, r, "companyID")
	if !ok {
		return
	}
	var req RepriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.Reprice(r.Context(), companyID, req.Percent); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CountCompanyShares handles GET /api/v1/companies/{companyID}/shares/count.
func (h *Handler) CountCompanyShares(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathID(w, r, "companyID")
	if !ok {
		return
	}
	n, err := h.svc.CountShares(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"total": n})
}

// IssueShares handles POST /api/v1/shares/issue.
func (h *Handler) IssueShares(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.IssueShares(r.Context(), req.CompanyID, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GrantShares handles POST /api/v1/companies/{companyID}/shares/acquire:
// the company-side allocation that assigns free shares without payment.
func (h *Handler) GrantShares(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathID(w, r, "companyID")
	if !ok {
		return
	}
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.GrantShares(r.Context(), req.UserID, companyID, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCompanyTrades handles GET /api/v1/companies/{companyID}/trades.
func (h *Handler) GetCompanyTrades(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathID(w, r, "companyID")
	if !ok {
		return
	}
	trades, err := h.svc.CompanyTrades(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- User endpoints ---

// RegisterUser handles POST /api/v1/users.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}

	user, err := h.svc.RegisterUser(r.Context(), req.Username, req.Balance)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Deposit handles POST /api/v1/users/{userID}/deposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	user, err := h.svc.Deposit(r.Context(), userID, req.Delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetUserBalance handles GET /api/v1/users/{userID}/balance.
// Reports the portfolio value: cash plus the current prices of all owned
// shares.
func (h *Handler) GetUserBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	value, err := h.svc.PortfolioValue(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": value})
}

// GetUserShares handles GET /api/v1/users/{userID}/shares.
func (h *Handler) GetUserShares(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	shares, err := h.svc.SharesOf(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if shares == nil {
		shares = []*model.Share{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(shares),
		"shares": shares,
	})
}

// GetUserTrades handles GET /api/v1/users/{userID}/trades.
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	trades, err := h.svc.TradesOf(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Trading endpoints ---

// AcquireShares handles POST /api/v1/trade/acquire.
func (h *Handler) AcquireShares(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.AcquireShares(r.Context(), req.UserID, req.CompanyID, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SellShares handles POST /api/v1/trade/sell.
func (h *Handler) SellShares(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.SellShares(r.Context(), req.UserID, req.CompanyID, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, name+" must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDomainError maps ledger errors to HTTP statuses: not-found is 404,
// every other domain error is the caller's fault (400), anything else is
// an infrastructure failure (500).
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case exchange.ErrorKind(err) == exchange.KindNotFound:
		writeError(w, err.Error(), http.StatusNotFound)
	case exchange.IsDomain(err):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
