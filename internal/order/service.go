// Package order реализует жизненный цикл заказа: валидацию, создание с
// компенсацией, доставку и отмену.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/codeshop-system/internal/delivery"
	"github.com/mmeshcher/codeshop-system/internal/model"
	"github.com/mmeshcher/codeshop-system/internal/repository"
)

// ErrValidation возвращается для запроса, не прошедшего проверку: неизвестный
// пакет, превышение лимита, нехватка баланса или остатков.
var (
	ErrValidation = errors.New("order validation failed")
	// ErrInsufficientBalance возвращается, когда баланса не хватает на пакет.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrStockUnavailable возвращается, когда склад не смог зарезервировать
	// запрошенное количество кодов.
	ErrStockUnavailable = errors.New("stock_unavailable")
	// ErrNotCancellable возвращается при попытке отменить завершённый или
	// уже отменённый заказ.
	ErrNotCancellable = errors.New("order cannot be cancelled")
)

// Ledger описывает операции над балансом, используемые заказами.
type Ledger interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	AddBalance(ctx context.Context, userID, amount int64) (int64, error)
	DeductBalance(ctx context.Context, userID, amount int64) (bool, error)
}

// Stock описывает операции склада, используемые заказами.
type Stock interface {
	ReserveCodes(ctx context.Context, orderID int64, codeType string, count int) ([]int64, error)
	ReleaseReservation(ctx context.Context, orderID int64) error
	ConsumeReserved(ctx context.Context, orderID int64) (int, error)
	ReservedCodes(ctx context.Context, orderID int64) ([]model.StockItem, error)
	CountAvailable(ctx context.Context, codeType string) (int, error)
}

// Repository описывает хранилище заказов.
type Repository interface {
	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, deliveryStatus string) error
	PendingOrderIDs(ctx context.Context, limit int) ([]int64, error)
	GetOrderStatistics(ctx context.Context, days int) (*repository.OrderStatistics, error)
	GetDeliveryRecords(ctx context.Context, orderNumber string) ([]model.DeliveryRecord, error)
}

// Service реализует машину состояний заказа. Баланс и склад — отдельные
// атомарные примитивы; их согласованность при создании заказа обеспечивает
// явная компенсация (возврат списанного), а не сквозная транзакция.
type Service struct {
	repo     Repository
	ledger   Ledger
	stock    Stock
	packages map[string]model.Package
	maxCodes int
	logger   *zap.Logger
}

// NewService создаёт сервис заказов с неизменяемой таблицей пакетов.
func NewService(repo Repository, ledger Ledger, stock Stock, packages map[string]model.Package, maxCodes int, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledger,
		stock:    stock,
		packages: packages,
		maxCodes: maxCodes,
		logger:   logger,
	}
}

// Validation — итог проверки запроса на заказ. Reason заполняется только
// для невалидного запроса и содержит конкретную нехватку.
type Validation struct {
	Valid          bool
	Reason         string
	Quantity       int
	Price          int64
	Balance        int64
	AvailableStock int
}

// Validate проверяет запрос на заказ: пакет, лимит количества, баланс,
// остатки. Ничего не резервирует — к моменту создания заказа условия могут
// измениться, и создание обязано откатиться само.
func (s *Service) Validate(ctx context.Context, userID int64, packageType string) (*Validation, error) {
	pkg, ok := s.packages[packageType]
	if !ok {
		return &Validation{Reason: fmt.Sprintf("invalid package type: %s", packageType)}, nil
	}

	v := &Validation{Quantity: pkg.Quantity, Price: pkg.Price}

	if pkg.Quantity > s.maxCodes {
		v.Reason = fmt.Sprintf("maximum %d codes per order", s.maxCodes)
		return v, nil
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	v.Balance = balance
	if balance < pkg.Price {
		v.Reason = fmt.Sprintf("insufficient balance: need Rp %d, have Rp %d", pkg.Price, balance)
		return v, nil
	}

	available, err := s.stock.CountAvailable(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("count stock: %w", err)
	}
	v.AvailableStock = available
	if available < pkg.Quantity {
		v.Reason = fmt.Sprintf("insufficient stock: need %d, available %d", pkg.Quantity, available)
		return v, nil
	}

	v.Valid = true
	return v, nil
}

// CreateOrder создаёт заказ: повторная валидация, списание баланса, запись
// заказа, резервирование кодов. Любой сбой после успешного списания
// компенсируется возвратом средств. Нехватка кодов при резервировании —
// жёсткий отказ: заказ помечается failed, частичный резерв освобождается,
// деньги возвращаются.
func (s *Service) CreateOrder(ctx context.Context, userID int64, packageType string) (*model.Order, error) {
	v, err := s.Validate(ctx, userID, packageType)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, fmt.Errorf("%w: %s", ErrValidation, v.Reason)
	}

	deducted, err := s.ledger.DeductBalance(ctx, userID, v.Price)
	if err != nil {
		return nil, fmt.Errorf("deduct balance: %w", err)
	}
	if !deducted {
		return nil, fmt.Errorf("%w: Rp %d", ErrInsufficientBalance, v.Price)
	}

	o := &model.Order{
		OrderNumber:   newOrderNumber(userID),
		UserID:        userID,
		PackageType:   packageType,
		Quantity:      v.Quantity,
		TotalPrice:    v.Price,
		PaymentMethod: "balance",
		Status:        model.OrderStatusPending,
	}

	orderID, err := s.repo.CreateOrder(ctx, o)
	if err != nil {
		s.refund(ctx, userID, v.Price, "order insert failed")
		return nil, fmt.Errorf("create order: %w", err)
	}
	o.ID = orderID

	reserved, err := s.stock.ReserveCodes(ctx, orderID, "", v.Quantity)
	if err != nil {
		s.refund(ctx, userID, v.Price, "reservation failed")
		_ = s.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusFailed, "")
		return nil, fmt.Errorf("reserve codes: %w", err)
	}

	if len(reserved) < v.Quantity {
		if relErr := s.stock.ReleaseReservation(ctx, orderID); relErr != nil {
			s.logger.Error("release partial reservation", zap.Error(relErr), zap.Int64("orderID", orderID))
		}
		s.refund(ctx, userID, v.Price, "stock shortfall")
		_ = s.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusFailed, "stock_unavailable")
		return nil, fmt.Errorf("%w: got %d/%d codes", ErrStockUnavailable, len(reserved), v.Quantity)
	}

	s.logger.Info("order created",
		zap.String("order", o.OrderNumber),
		zap.Int64("userID", userID),
		zap.String("package", packageType),
		zap.Int64("price", v.Price),
	)

	return o, nil
}

func (s *Service) refund(ctx context.Context, userID, amount int64, cause string) {
	if _, err := s.ledger.AddBalance(ctx, userID, amount); err != nil {
		// Деньги списаны, а вернуть не удалось: единственное, что можно
		// сделать без ручного вмешательства — оставить громкий след.
		s.logger.Error("refund failed, balance inconsistent",
			zap.Int64("userID", userID),
			zap.Int64("amount", amount),
			zap.String("cause", cause),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("balance refunded",
		zap.Int64("userID", userID),
		zap.Int64("amount", amount),
		zap.String("cause", cause),
	)
}

// ProcessResult — итог обработки заказа.
type ProcessResult struct {
	Success        bool
	Delivered      bool
	ManualDelivery bool
}

// ProcessOrder доставляет зарезервированные коды заказа. Идемпотентна:
// завершённый заказ возвращает успех без повторной доставки. При сбое
// доставки заказ остаётся pending с подстатусом delivery_failed, резерв
// сохраняется — вызов можно безопасно повторять.
func (s *Service) ProcessOrder(ctx context.Context, orderID int64, deliver delivery.Func) (*ProcessResult, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if o.Status == model.OrderStatusCompleted {
		return &ProcessResult{Success: true, Delivered: true}, nil
	}

	items, err := s.stock.ReservedCodes(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load reserved codes: %w", err)
	}
	if len(items) == 0 {
		_ = s.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusFailed, "no_codes")
		return nil, fmt.Errorf("no codes reserved for order %s", o.OrderNumber)
	}

	if len(items) != o.Quantity {
		s.logger.Warn("reserved code quantity mismatch, delivering what is reserved",
			zap.String("order", o.OrderNumber),
			zap.Int("expected", o.Quantity),
			zap.Int("got", len(items)),
		)
	}

	if deliver == nil {
		if err := s.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusPending, model.DeliveryStatusPendingManual); err != nil {
			return nil, err
		}
		return &ProcessResult{Success: true, ManualDelivery: true}, nil
	}

	codes := make([]string, 0, len(items))
	for _, it := range items {
		codes = append(codes, it.Code)
	}

	res, deliverErr := deliver(ctx, o.UserID, o.OrderNumber, codes)
	if deliverErr != nil || !res.Success {
		if err := s.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusPending, model.DeliveryStatusFailed); err != nil {
			return nil, err
		}
		if deliverErr == nil {
			deliverErr = errors.New("delivery rejected")
		}
		return &ProcessResult{}, fmt.Errorf("delivery failed: %w", deliverErr)
	}

	if _, err := s.stock.ConsumeReserved(ctx, orderID); err != nil {
		return nil, fmt.Errorf("consume reserved: %w", err)
	}
	if err := s.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusCompleted, model.DeliveryStatusDelivered); err != nil {
		return nil, err
	}

	s.logger.Info("order completed",
		zap.String("order", o.OrderNumber),
		zap.Int64("userID", o.UserID),
		zap.Int("codes", len(codes)),
		zap.String("method", res.Method),
	)

	return &ProcessResult{Success: true, Delivered: true}, nil
}

// CancelOrder отменяет заказ, освобождает резерв и при оплате с баланса
// возвращает деньги. Завершённый или уже отменённый заказ отменить нельзя.
func (s *Service) CancelOrder(ctx context.Context, orderID int64, refund bool) (refunded bool, err error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return false, err
	}

	if o.Status == model.OrderStatusCompleted || o.Status == model.OrderStatusCancelled {
		return false, fmt.Errorf("%w: order %s is %s", ErrNotCancellable, o.OrderNumber, o.Status)
	}

	if err := s.stock.ReleaseReservation(ctx, orderID); err != nil {
		return false, fmt.Errorf("release reservation: %w", err)
	}

	if refund && o.PaymentMethod == "balance" {
		if _, err := s.ledger.AddBalance(ctx, o.UserID, o.TotalPrice); err != nil {
			return false, fmt.Errorf("refund: %w", err)
		}
		refunded = true
	}

	if err := s.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusCancelled, o.DeliveryStatus); err != nil {
		return refunded, err
	}

	s.logger.Info("order cancelled",
		zap.String("order", o.OrderNumber),
		zap.Bool("refunded", refunded),
	)

	return refunded, nil
}

// BatchResult — итог пакетной обработки pending-заказов.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// ProcessPendingBatch обрабатывает недоставленные pending-заказы, старые
// первыми. Заказы обрабатываются последовательно: параллельная доставка
// штормила бы канал и ломала порядок для аудита.
func (s *Service) ProcessPendingBatch(ctx context.Context, deliver delivery.Func, maxOrders int) (*BatchResult, error) {
	ids, err := s.repo.PendingOrderIDs(ctx, maxOrders)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		r, err := s.ProcessOrder(ctx, id, deliver)
		res.Processed++
		if err == nil && r.Delivered {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	if res.Processed > 0 {
		s.logger.Info("pending batch processed",
			zap.Int("processed", res.Processed),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
		)
	}

	return res, nil
}

// GetOrderByNumber возвращает заказ по внешнему номеру.
func (s *Service) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return s.repo.GetOrderByNumber(ctx, strings.TrimSpace(number))
}

// OrdersByUser возвращает историю заказов пользователя, новые первыми.
func (s *Service) OrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// DeliveryHistory возвращает журнал попыток доставки заказа.
func (s *Service) DeliveryHistory(ctx context.Context, orderNumber string) ([]model.DeliveryRecord, error) {
	return s.repo.GetDeliveryRecords(ctx, strings.TrimSpace(orderNumber))
}

// Statistics возвращает сводку по заказам за последние days дней.
func (s *Service) Statistics(ctx context.Context, days int) (*repository.OrderStatistics, error) {
	return s.repo.GetOrderStatistics(ctx, days)
}

// newOrderNumber формирует внешний номер заказа ORD-<user>-<время WIB>-<случайный суффикс>.
func newOrderNumber(userID int64) string {
	ts := time.Now().In(model.WIB).Format("20060102150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ORD-%d-%s-%s", userID, ts, suffix)
}
