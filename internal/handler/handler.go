// Package handler содержит HTTP-обработчики сервиса: вебхук платёжного
// шлюза и внутренний API для слоя чат-интерфейса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/codeshop-system/internal/delivery"
	"github.com/mmeshcher/codeshop-system/internal/middleware"
	"github.com/mmeshcher/codeshop-system/internal/model"
	"github.com/mmeshcher/codeshop-system/internal/order"
	"github.com/mmeshcher/codeshop-system/internal/payment"
	"github.com/mmeshcher/codeshop-system/internal/repository"
	"github.com/mmeshcher/codeshop-system/internal/stock"
)

// Reconciler определяет контракт сверки платежей, используемый обработчиками.
type Reconciler interface {
	HandleNotification(ctx context.Context, n *payment.Notification) error
	InitiateTopup(ctx context.Context, userID, amount int64) (*payment.Charge, error)
	TopupStatus(ctx context.Context, orderID string) (*model.Topup, error)
}

// Orders определяет контракт жизненного цикла заказа, используемый обработчиками.
type Orders interface {
	CreateOrder(ctx context.Context, userID int64, packageType string) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	OrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	ProcessOrder(ctx context.Context, orderID int64, deliver delivery.Func) (*order.ProcessResult, error)
	CancelOrder(ctx context.Context, orderID int64, refund bool) (bool, error)
	DeliveryHistory(ctx context.Context, orderNumber string) ([]model.DeliveryRecord, error)
	Statistics(ctx context.Context, days int) (*repository.OrderStatistics, error)
}

// Stock определяет контракт склада, используемый обработчиками.
type Stock interface {
	AddCodesFromText(ctx context.Context, text, codeType string, addedBy int64) (*stock.BulkResult, error)
	DetailedStats(ctx context.Context) (*stock.Stats, error)
}

// Balances определяет контракт чтения баланса.
type Balances interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
}

// Handler реализует HTTP-обработчики сервиса.
type Handler struct {
	reconciler Reconciler
	orders     Orders
	stock      Stock
	balances   Balances
	deliver    delivery.Func // nil — только ручная доставка
	logger     *zap.Logger
	adminAuth  *middleware.AdminAuth
	runAddress string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(rec Reconciler, orders Orders, st Stock, balances Balances, deliver delivery.Func, logger *zap.Logger, adminAuth *middleware.AdminAuth, runAddress string) *Handler {
	return &Handler{
		reconciler: rec,
		orders:     orders,
		stock:      st,
		balances:   balances,
		deliver:    deliver,
		logger:     logger,
		adminAuth:  adminAuth,
		runAddress: runAddress,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Webhook принимает уведомление Midtrans о смене статуса платежа.
// Бизнес-ошибки (подпись, формат, неизвестный статус) отвечают 200, чтобы
// шлюз не ретраил заведомо невалидные уведомления; 400 — только для
// нечитаемого JSON.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var n payment.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "malformed JSON"})
		return
	}

	h.logger.Info("webhook received",
		zap.String("orderID", n.OrderID),
		zap.String("transactionStatus", n.TransactionStatus),
		zap.String("paymentType", n.PaymentType),
	)

	if err := h.reconciler.HandleNotification(r.Context(), &n); err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidSignature),
			errors.Is(err, payment.ErrMissingFields),
			errors.Is(err, payment.ErrMalformedOrderID),
			errors.Is(err, payment.ErrUnknownStatus):
			h.logger.Error("webhook rejected", zap.Error(err), zap.String("orderID", n.OrderID))
			writeJSON(w, http.StatusOK, statusResponse{Status: "error", Message: "invalid signature or missing fields"})
		default:
			h.logger.Error("webhook processing error", zap.Error(err), zap.String("orderID", n.OrderID))
			writeJSON(w, http.StatusOK, statusResponse{Status: "error", Message: "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Notification processed"})
}

// Health возвращает состояние сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	port := h.runAddress
	if _, p, err := net.SplitHostPort(h.runAddress); err == nil {
		port = p
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "codeshop-webhook",
		"port":    port,
	})
}

type createOrderRequest struct {
	UserID      int64  `json:"user_id"`
	PackageType string `json:"package_type"`
}

type orderResponse struct {
	OrderID        int64  `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	Status         string `json:"status"`
	DeliveryStatus string `json:"delivery_status,omitempty"`
	Quantity       int    `json:"quantity"`
	TotalPrice     int64  `json:"total_price"`
	Delivered      bool   `json:"delivered"`
}

// CreateOrder создаёт заказ и сразу запускает доставку.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 || req.PackageType == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), req.UserID, req.PackageType)
	if err != nil {
		if errors.Is(err, order.ErrValidation) ||
			errors.Is(err, order.ErrInsufficientBalance) ||
			errors.Is(err, order.ErrStockUnavailable) {
			writeJSON(w, http.StatusUnprocessableEntity, statusResponse{Status: "error", Message: err.Error()})
			return
		}
		h.logger.Error("create order error", zap.Error(err), zap.Int64("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	res, err := h.orders.ProcessOrder(r.Context(), o.ID, h.deliver)
	if err != nil {
		// Заказ создан, доставка не прошла: резерв сохранён, фоновый цикл
		// доберёт. Клиенту сообщаем номер заказа.
		h.logger.Warn("order created but delivery pending",
			zap.String("order", o.OrderNumber), zap.Error(err))
		writeJSON(w, http.StatusAccepted, orderResponse{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Status:      string(model.OrderStatusPending),
			Quantity:    o.Quantity,
			TotalPrice:  o.TotalPrice,
		})
		return
	}

	status := model.OrderStatusCompleted
	if !res.Delivered {
		status = model.OrderStatusPending
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Status:      string(status),
		Quantity:    o.Quantity,
		TotalPrice:  o.TotalPrice,
		Delivered:   res.Delivered,
	})
}

// GetOrder возвращает заказ по внешнему номеру.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	o, err := h.orders.GetOrderByNumber(r.Context(), number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		Status:         string(o.Status),
		DeliveryStatus: o.DeliveryStatus,
		Quantity:       o.Quantity,
		TotalPrice:     o.TotalPrice,
		Delivered:      o.DeliveryStatus == model.DeliveryStatusDelivered,
	})
}

// GetUserOrders возвращает историю заказов пользователя.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orders, err := h.orders.OrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get user orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse{
			OrderID:        o.ID,
			OrderNumber:    o.OrderNumber,
			Status:         string(o.Status),
			DeliveryStatus: o.DeliveryStatus,
			Quantity:       o.Quantity,
			TotalPrice:     o.TotalPrice,
			Delivered:      o.DeliveryStatus == model.DeliveryStatusDelivered,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetOrderDeliveries возвращает журнал попыток доставки заказа.
func (h *Handler) GetOrderDeliveries(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	records, err := h.orders.DeliveryHistory(r.Context(), number)
	if err != nil {
		h.logger.Error("get delivery history error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	type deliveryEntry struct {
		Method  string `json:"method"`
		Status  string `json:"status"`
		Error   string `json:"error,omitempty"`
		Created string `json:"created_at"`
	}

	resp := make([]deliveryEntry, 0, len(records))
	for _, rec := range records {
		resp = append(resp, deliveryEntry{
			Method:  rec.Method,
			Status:  rec.Status,
			Error:   rec.ErrorMessage,
			Created: rec.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ProcessOrder запускает (повторную) доставку заказа по номеру.
func (h *Handler) ProcessOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	o, err := h.orders.GetOrderByNumber(r.Context(), number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("process order error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	res, err := h.orders.ProcessOrder(r.Context(), o.ID, h.deliver)
	if err != nil {
		writeJSON(w, http.StatusOK, statusResponse{Status: "error", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"delivered": res.Delivered,
		"manual":    res.ManualDelivery,
	})
}

// CancelOrder отменяет заказ по номеру с возвратом средств.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	o, err := h.orders.GetOrderByNumber(r.Context(), number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("cancel order error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	refunded, err := h.orders.CancelOrder(r.Context(), o.ID, true)
	if err != nil {
		if errors.Is(err, order.ErrNotCancellable) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("cancel order error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"refunded": refunded,
	})
}

// GetBalance возвращает баланс пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.balances.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{
		"user_id": userID,
		"balance": balance,
	})
}

type topupRequest struct {
	UserID int64 `json:"user_id"`
	Amount int64 `json:"amount"`
}

// CreateTopup инициирует пополнение баланса через шлюз и возвращает
// реквизиты платежа.
func (h *Handler) CreateTopup(w http.ResponseWriter, r *http.Request) {
	var req topupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 || req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	charge, err := h.reconciler.InitiateTopup(r.Context(), req.UserID, req.Amount)
	if err != nil {
		h.logger.Error("initiate topup error", zap.Error(err), zap.Int64("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"order_id": charge.OrderID,
		"qr_url":   charge.QRURL,
	})
}

// GetTopup возвращает локальный статус пополнения.
func (h *Handler) GetTopup(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	t, err := h.reconciler.TopupStatus(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrMalformedOrderID):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrTopupNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("get topup error", zap.Error(err), zap.String("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": t.OrderID,
		"user_id":  t.UserID,
		"amount":   t.Amount,
		"status":   string(t.Status),
	})
}

type addStockRequest struct {
	Codes    string `json:"codes"`
	CodeType string `json:"code_type"`
	AddedBy  int64  `json:"added_by"`
}

// AddStock принимает пакет кодов (по одному в строке) и добавляет их на склад.
func (h *Handler) AddStock(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req addStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.stock.AddCodesFromText(r.Context(), req.Codes, req.CodeType, req.AddedBy)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, statusResponse{Status: "error", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"added":  res.Added,
		"failed": res.Failed,
		"errors": res.Errors,
	})
}

// Stats возвращает сводную статистику склада и заказов.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stockStats, err := h.stock.DetailedStats(r.Context())
	if err != nil {
		h.logger.Error("stock stats error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	orderStats, err := h.orders.Statistics(r.Context(), 30)
	if err != nil {
		h.logger.Error("order stats error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stock":  stockStats,
		"orders": orderStats,
	})
}
