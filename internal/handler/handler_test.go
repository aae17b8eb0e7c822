package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/codeshop-system/internal/delivery"
	"github.com/mmeshcher/codeshop-system/internal/middleware"
	"github.com/mmeshcher/codeshop-system/internal/model"
	"github.com/mmeshcher/codeshop-system/internal/order"
	"github.com/mmeshcher/codeshop-system/internal/payment"
	"github.com/mmeshcher/codeshop-system/internal/repository"
	"github.com/mmeshcher/codeshop-system/internal/stock"
)

type stubReconciler struct {
	handleErr error

	charge    *payment.Charge
	chargeErr error

	topup    *model.Topup
	topupErr error
}

func (s *stubReconciler) HandleNotification(ctx context.Context, n *payment.Notification) error {
	return s.handleErr
}

func (s *stubReconciler) InitiateTopup(ctx context.Context, userID, amount int64) (*payment.Charge, error) {
	return s.charge, s.chargeErr
}

func (s *stubReconciler) TopupStatus(ctx context.Context, orderID string) (*model.Topup, error) {
	return s.topup, s.topupErr
}

type stubOrders struct {
	createOrder *model.Order
	createErr   error

	getOrder *model.Order
	getErr   error

	processResult *order.ProcessResult
	processErr    error

	cancelRefunded bool
	cancelErr      error

	stats *repository.OrderStatistics
}

func (s *stubOrders) CreateOrder(ctx context.Context, userID int64, packageType string) (*model.Order, error) {
	return s.createOrder, s.createErr
}

func (s *stubOrders) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return s.getOrder, s.getErr
}

func (s *stubOrders) OrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return nil, nil
}

func (s *stubOrders) DeliveryHistory(ctx context.Context, orderNumber string) ([]model.DeliveryRecord, error) {
	return nil, nil
}

func (s *stubOrders) ProcessOrder(ctx context.Context, orderID int64, deliver delivery.Func) (*order.ProcessResult, error) {
	return s.processResult, s.processErr
}

func (s *stubOrders) CancelOrder(ctx context.Context, orderID int64, refund bool) (bool, error) {
	return s.cancelRefunded, s.cancelErr
}

func (s *stubOrders) Statistics(ctx context.Context, days int) (*repository.OrderStatistics, error) {
	return s.stats, nil
}

type stubStock struct {
	bulk  *stock.BulkResult
	stats *stock.Stats
}

func (s *stubStock) AddCodesFromText(ctx context.Context, text, codeType string, addedBy int64) (*stock.BulkResult, error) {
	return s.bulk, nil
}

func (s *stubStock) DetailedStats(ctx context.Context) (*stock.Stats, error) {
	return s.stats, nil
}

type stubBalances struct {
	balance int64
}

func (s *stubBalances) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.balance, nil
}

func newTestHandler(t *testing.T, rec Reconciler, orders Orders, st Stock, balances Balances) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAdminAuth("test-token")

	return NewHandler(rec, orders, st, balances, nil, logger, auth, ":8001")
}

func TestWebhook_MalformedJSON(t *testing.T) {
	h := newTestHandler(t, &stubReconciler{}, &stubOrders{}, &stubStock{}, &stubBalances{})

	req := httptest.NewRequest(http.MethodPost, "/webhook/midtrans", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebhook_InvalidSignatureAnswers200(t *testing.T) {
	h := newTestHandler(t, &stubReconciler{handleErr: payment.ErrInvalidSignature}, &stubOrders{}, &stubStock{}, &stubBalances{})

	body, _ := json.Marshal(payment.Notification{OrderID: "TOPUP-42-20250101120000"})
	req := httptest.NewRequest(http.MethodPost, "/webhook/midtrans", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" {
		t.Fatalf("response status = %q, want error", resp.Status)
	}
}

func TestWebhook_InternalErrorAnswers200(t *testing.T) {
	h := newTestHandler(t, &stubReconciler{handleErr: errors.New("db down")}, &stubOrders{}, &stubStock{}, &stubBalances{})

	body, _ := json.Marshal(payment.Notification{OrderID: "TOPUP-42-20250101120000"})
	req := httptest.NewRequest(http.MethodPost, "/webhook/midtrans", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWebhook_Success(t *testing.T) {
	h := newTestHandler(t, &stubReconciler{}, &stubOrders{}, &stubStock{}, &stubBalances{})

	body, _ := json.Marshal(payment.Notification{OrderID: "TOPUP-42-20250101120000"})
	req := httptest.NewRequest(http.MethodPost, "/webhook/midtrans", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" {
		t.Fatalf("response status = %q, want success", resp.Status)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubReconciler{}, &stubOrders{}, &stubStock{}, &stubBalances{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "healthy" || resp["port"] != "8001" {
		t.Fatalf("response = %v", resp)
	}
}

func TestCreateOrder_ValidationError(t *testing.T) {
	orders := &stubOrders{createErr: order.ErrInsufficientBalance}
	h := newTestHandler(t, &stubReconciler{}, orders, &stubStock{}, &stubBalances{})

	body, _ := json.Marshal(createOrderRequest{UserID: 42, PackageType: "5_codes"})
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestCreateOrder_Success(t *testing.T) {
	orders := &stubOrders{
		createOrder: &model.Order{
			ID:          1,
			OrderNumber: "ORD-42-20250101120000-abcdef12",
			Quantity:    5,
			TotalPrice:  70000,
		},
		processResult: &order.ProcessResult{Success: true, Delivered: true},
	}
	h := newTestHandler(t, &stubReconciler{}, orders, &stubStock{}, &stubBalances{})

	body, _ := json.Marshal(createOrderRequest{UserID: 42, PackageType: "5_codes"})
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	var resp orderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Delivered || resp.OrderNumber != "ORD-42-20250101120000-abcdef12" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestRouter_AdminRoutesRequireToken(t *testing.T) {
	h := newTestHandler(t, &stubReconciler{}, &stubOrders{}, &stubStock{}, &stubBalances{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/balance/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/balance/42", nil)
	req.Header.Set("X-Admin-Token", "test-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRouter_WebhookIsPublic(t *testing.T) {
	h := newTestHandler(t, &stubReconciler{}, &stubOrders{}, &stubStock{}, &stubBalances{})
	router := h.SetupRouter()

	body, _ := json.Marshal(payment.Notification{OrderID: "TOPUP-42-20250101120000"})
	req := httptest.NewRequest(http.MethodPost, "/webhook/midtrans", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	orders := &stubOrders{getErr: repository.ErrOrderNotFound}
	h := newTestHandler(t, &stubReconciler{}, orders, &stubStock{}, &stubBalances{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/ORD-42-x", nil)
	req.Header.Set("X-Admin-Token", "test-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
