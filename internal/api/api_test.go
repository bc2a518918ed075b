package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cmokmz/stock-exchange/internal/api"
	"github.com/cmokmz/stock-exchange/internal/exchange"
	"github.com/cmokmz/stock-exchange/internal/model"
	"github.com/cmokmz/stock-exchange/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates the API over an in-memory store with the full route
// tree mounted.
func newTestEnv(t *testing.T) chi.Router {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := exchange.NewService(ms, nil)
	handler := api.NewHandler(svc, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", handler.Routes)
	return r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createCompany(t *testing.T, router chi.Router, name string, price float64) model.Company {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/companies", api.RegisterCompanyRequest{Name: name, Price: d(price)})
	if w.Code != http.StatusCreated {
		t.Fatalf("create company: %d %s", w.Code, w.Body.String())
	}
	var c model.Company
	json.Unmarshal(w.Body.Bytes(), &c)
	return c
}

func createUser(t *testing.T, router chi.Router, username string, balance float64) model.User {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/users", api.RegisterUserRequest{Username: username, Balance: d(balance)})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", w.Code, w.Body.String())
	}
	var u model.User
	json.Unmarshal(w.Body.Bytes(), &u)
	return u
}

func issueShares(t *testing.T, router chi.Router, companyID, amount int64) {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/shares/issue", api.IssueRequest{CompanyID: companyID, Amount: amount})
	if w.Code != http.StatusNoContent {
		t.Fatalf("issue shares: %d %s", w.Code, w.Body.String())
	}
}

func getBalance(t *testing.T, router chi.Router, userID int64) decimal.Decimal {
	t.Helper()
	w := doJSON(t, router, "GET", fmt.Sprintf("/api/v1/users/%d/balance", userID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get balance: %d %s", w.Code, w.Body.String())
	}
	var resp map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp["balance"]
}

func getOwnedTotal(t *testing.T, router chi.Router, userID int64) int {
	t.Helper()
	w := doJSON(t, router, "GET", fmt.Sprintf("/api/v1/users/%d/shares", userID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get shares: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Total  int           `json:"total"`
		Shares []model.Share `json:"shares"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != len(resp.Shares) {
		t.Fatalf("total %d does not match shares %d", resp.Total, len(resp.Shares))
	}
	return resp.Total
}

// --- Companies ---

func TestRegisterCompany(t *testing.T) {
	router := newTestEnv(t)

	c := createCompany(t, router, "Apple", 10.0)
	if c.ID == 0 || c.Name != "Apple" || !c.Price.Equal(d(10)) {
		t.Errorf("unexpected company: %+v", c)
	}
}

func TestRegisterCompany_DuplicateName(t *testing.T) {
	router := newTestEnv(t)
	createCompany(t, router, "Apple", 10.0)

	w := doJSON(t, router, "POST", "/api/v1/companies", api.RegisterCompanyRequest{Name: "Apple", Price: d(10)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate name, got %d", w.Code)
	}
}

func TestRegisterCompany_MissingName(t *testing.T) {
	router := newTestEnv(t)
	w := doJSON(t, router, "POST", "/api/v1/companies", api.RegisterCompanyRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetCompanyPrice_NotFound(t *testing.T) {
	router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/companies/42/price", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// Register Dell at 5.0, issue 5 shares, reprice +50%: the price endpoint
// reports 7.5 and the share count is unchanged.
func TestRepriceFlow(t *testing.T) {
	router := newTestEnv(t)

	dell := createCompany(t, router, "Dell", 5.0)
	issueShares(t, router, dell.ID, 5)

	w := doJSON(t, router, "POST", fmt.Sprintf("/api/v1/companies/%d/reprice", dell.ID),
		api.RepriceRequest{Percent: d(50)})
	if w.Code != http.StatusNoContent {
		t.Fatalf("reprice: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "GET", fmt.Sprintf("/api/v1/companies/%d/price", dell.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("price: %d", w.Code)
	}
	var priceResp map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &priceResp)
	if !priceResp["price"].Equal(d(7.5)) {
		t.Errorf("expected price 7.5, got %s", priceResp["price"])
	}

	w = doJSON(t, router, "GET", fmt.Sprintf("/api/v1/companies/%d/shares/count", dell.ID), nil)
	var countResp map[string]int64
	json.Unmarshal(w.Body.Bytes(), &countResp)
	if countResp["total"] != 5 {
		t.Errorf("expected 5 shares, got %d", countResp["total"])
	}
}

func TestIssueShares_NegativeAmount(t *testing.T) {
	router := newTestEnv(t)
	dell := createCompany(t, router, "Dell", 5.0)

	w := doJSON(t, router, "POST", "/api/v1/shares/issue", api.IssueRequest{CompanyID: dell.ID, Amount: -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- Users and trading ---

// Full lifecycle over HTTP. The balance endpoint reports portfolio value
// (cash plus owned share prices), so it stays at 100 through acquire and
// sell, then rises by 0.6 when the company reprices +10% with one owned
// share priced 6.
func TestAcquireAndSellFlow(t *testing.T) {
	router := newTestEnv(t)

	hp := createCompany(t, router, "HP", 6.0)
	issueShares(t, router, hp.ID, 5)
	andrew := createUser(t, router, "Andrew", 0)

	if b := getBalance(t, router, andrew.ID); !b.Equal(d(0)) {
		t.Errorf("expected balance 0, got %s", b)
	}

	w := doJSON(t, router, "POST", fmt.Sprintf("/api/v1/users/%d/deposit", andrew.ID),
		api.DepositRequest{Delta: d(100)})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: %d %s", w.Code, w.Body.String())
	}
	if b := getBalance(t, router, andrew.ID); !b.Equal(d(100)) {
		t.Errorf("expected balance 100, got %s", b)
	}

	w = doJSON(t, router, "POST", "/api/v1/trade/acquire",
		api.TradeRequest{UserID: andrew.ID, CompanyID: hp.ID, Amount: 2})
	if w.Code != http.StatusNoContent {
		t.Fatalf("acquire: %d %s", w.Code, w.Body.String())
	}
	if n := getOwnedTotal(t, router, andrew.ID); n != 2 {
		t.Errorf("expected 2 owned shares, got %d", n)
	}
	// Cash 88 + 2 shares at 6 = 100.
	if b := getBalance(t, router, andrew.ID); !b.Equal(d(100)) {
		t.Errorf("expected portfolio 100 after acquire, got %s", b)
	}

	w = doJSON(t, router, "POST", "/api/v1/trade/sell",
		api.TradeRequest{UserID: andrew.ID, CompanyID: hp.ID, Amount: 1})
	if w.Code != http.StatusNoContent {
		t.Fatalf("sell: %d %s", w.Code, w.Body.String())
	}
	if n := getOwnedTotal(t, router, andrew.ID); n != 1 {
		t.Errorf("expected 1 owned share, got %d", n)
	}

	before := getBalance(t, router, andrew.ID) // 94 cash + 6 share
	w = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/companies/%d/reprice", hp.ID),
		api.RepriceRequest{Percent: d(10)})
	if w.Code != http.StatusNoContent {
		t.Fatalf("reprice: %d %s", w.Code, w.Body.String())
	}
	after := getBalance(t, router, andrew.ID)
	if !after.Sub(before).Equal(d(0.6)) {
		t.Errorf("expected balance to rise by 0.6, got %s -> %s", before, after)
	}
}

// User with balance 1.0 cannot buy a share priced 8.0; 400, balance intact.
func TestAcquire_InsufficientFunds(t *testing.T) {
	router := newTestEnv(t)

	asus := createCompany(t, router, "Asus", 8.0)
	issueShares(t, router, asus.ID, 5)
	user := createUser(t, router, "Alexandr", 1.0)

	w := doJSON(t, router, "POST", "/api/v1/trade/acquire",
		api.TradeRequest{UserID: user.ID, CompanyID: asus.ID, Amount: 1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if b := getBalance(t, router, user.ID); !b.Equal(d(1.0)) {
		t.Errorf("balance changed on failed acquire: %s", b)
	}
}

func TestRegisterUser_DuplicateUsername(t *testing.T) {
	router := newTestEnv(t)
	createUser(t, router, "andrew", 0)

	w := doJSON(t, router, "POST", "/api/v1/users", api.RegisterUserRequest{Username: "andrew"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate username, got %d", w.Code)
	}
}

func TestGetUserBalance_NotFound(t *testing.T) {
	router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/users/42/balance", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGrantSharesEndpoint(t *testing.T) {
	router := newTestEnv(t)

	hp := createCompany(t, router, "HP", 6.0)
	issueShares(t, router, hp.ID, 3)
	user := createUser(t, router, "andrew", 0)

	w := doJSON(t, router, "POST", fmt.Sprintf("/api/v1/companies/%d/shares/acquire", hp.ID),
		api.GrantRequest{UserID: user.ID, Amount: 2})
	if w.Code != http.StatusNoContent {
		t.Fatalf("grant: %d %s", w.Code, w.Body.String())
	}
	if n := getOwnedTotal(t, router, user.ID); n != 2 {
		t.Errorf("expected 2 owned shares, got %d", n)
	}

	// More than remain free.
	w = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/companies/%d/shares/acquire", hp.ID),
		api.GrantRequest{UserID: user.ID, Amount: 5})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestTradeHistoryEndpoints(t *testing.T) {
	router := newTestEnv(t)

	hp := createCompany(t, router, "HP", 6.0)
	issueShares(t, router, hp.ID, 5)
	user := createUser(t, router, "andrew", 100)

	doJSON(t, router, "POST", "/api/v1/trade/acquire",
		api.TradeRequest{UserID: user.ID, CompanyID: hp.ID, Amount: 2})
	doJSON(t, router, "POST", "/api/v1/trade/sell",
		api.TradeRequest{UserID: user.ID, CompanyID: hp.ID, Amount: 1})

	w := doJSON(t, router, "GET", fmt.Sprintf("/api/v1/users/%d/trades", user.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("user trades: %d", w.Code)
	}
	var trades []model.TradeRecord
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}

	w = doJSON(t, router, "GET", fmt.Sprintf("/api/v1/companies/%d/trades", hp.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("company trades: %d", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 2 {
		t.Errorf("expected 2 company trades, got %d", len(trades))
	}
}

func TestPathIDValidation(t *testing.T) {
	router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/companies/notanumber/price", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-integer id, got %d", w.Code)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	router := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/companies", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
