package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"vendapos/backend/internal/domain"
	"vendapos/backend/internal/service"
	"vendapos/backend/internal/store/memory"
	"vendapos/backend/internal/tenantdb"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	mem := memory.New()
	mem.SetHeadOffice(1)
	seedUser(t, mem, "admin", "admin123", "admin")
	seedUser(t, mem, "kasir", "kasir123", "cashier")

	svc := service.New(tenantdb.NewStatic(mem), nil, nil, 1, 0)
	auth := NewAuthManager("test-secret-key", time.Hour, mem)

	return New(svc, auth, nil, "*", "default"), mem
}

func seedUser(t *testing.T, mem *memory.Store, username, password, role string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	err = mem.CreateUser(context.Background(), domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func seedSellable(mem *memory.Store, code int, price string) domain.Product {
	return mem.AddProduct(domain.Product{
		CompanyID:        1,
		Code:             code,
		Description:      fmt.Sprintf("Product %d", code),
		Unit:             "UN",
		Price:            mustDec(price),
		Cost:             mustDec("1.00"),
		Active:           true,
		ProductActive:    true,
		AvailableForSale: true,
	})
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleMenu_IsPublic(t *testing.T) {
	api, mem := newTestAPI(t)
	seedSellable(mem, 101, "5.00")
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/menu?company_id=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["items"] == nil {
		t.Fatalf("expected items key, got %v", body)
	}
}

func TestListOrders_RequiresAuth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestConfirm_RequiresAdminRole(t *testing.T) {
	api, mem := newTestAPI(t)
	p := seedSellable(mem, 101, "5.00")
	order := mem.AddOrder(domain.PendingOrder{}, []domain.OrderLine{
		{ProductID: p.ID, Quantity: mustDec("1")},
	}, nil)
	handler := api.Handler()

	token := loginAs(t, handler, "kasir", "kasir123")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+order.ID+"/confirm", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestPlaceAndConfirmOrderOverHTTP(t *testing.T) {
	api, mem := newTestAPI(t)
	p := seedSellable(mem, 101, "10.00")
	handler := api.Handler()

	placePayload, _ := json.Marshal(domain.PlaceOrderRequest{
		Items: []domain.PlaceOrderItem{{ProductID: p.ID, Quantity: mustDec("2")}},
	})
	placeReq := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(placePayload))
	placeReq.Header.Set("Content-Type", "application/json")
	placeRec := httptest.NewRecorder()
	handler.ServeHTTP(placeRec, placeReq)
	if placeRec.Code != http.StatusCreated {
		t.Fatalf("place order: expected 201, got %d (body: %s)", placeRec.Code, placeRec.Body.String())
	}
	var placed domain.PendingOrder
	if err := json.NewDecoder(placeRec.Body).Decode(&placed); err != nil {
		t.Fatalf("decode placed order: %v", err)
	}

	token := loginAs(t, handler, "admin", "admin123")
	confirmReq := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+placed.ID+"/confirm", nil)
	confirmReq.Header.Set("Authorization", "Bearer "+token)
	confirmRec := httptest.NewRecorder()
	handler.ServeHTTP(confirmRec, confirmReq)
	if confirmRec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d (body: %s)", confirmRec.Code, confirmRec.Body.String())
	}

	var result domain.ConfirmationResult
	if err := json.NewDecoder(confirmRec.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Status != domain.OrderStatusConfirmed || result.SaleNumber != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// A second confirm of the same order maps to 409.
	retryRec := httptest.NewRecorder()
	retryReq := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+placed.ID+"/confirm", nil)
	retryReq.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(retryRec, retryReq)
	if retryRec.Code != http.StatusConflict {
		t.Fatalf("retry confirm: expected 409, got %d", retryRec.Code)
	}
}

func TestConfirm_MissingOrderMapsToNotFound(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "admin", "admin123")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/NO-SUCH/confirm", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCreateAccount_AdminOnly(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(domain.CreateAccountRequest{
		Username: "newcashier",
		Password: "secret1",
		Role:     "cashier",
	})

	cashierToken := loginAs(t, handler, "kasir", "kasir123")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/accounts", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cashierToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	adminToken := loginAs(t, handler, "admin", "admin123")
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/accounts", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.UserAccount
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if created.Username != "newcashier" || created.Role != "cashier" {
		t.Fatalf("unexpected account: %+v", created)
	}

	// The new account can log in right away.
	loginAs(t, handler, "newcashier", "secret1")

	// A duplicate username maps to 409.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/accounts", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestPlaceOrder_ValidationMapsToBadRequest(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(domain.PlaceOrderRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
