package payment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/codeshop-system/internal/model"
	"github.com/mmeshcher/codeshop-system/internal/notify"
)

// Repository описывает хранилище пополнений.
type Repository interface {
	CreateTopup(ctx context.Context, t *model.Topup) error
	GetTopup(ctx context.Context, orderID string) (*model.Topup, error)
	SetTopupStatus(ctx context.Context, orderID string, userID, amount int64, status model.TopupStatus) error
	ApplyTopupCredit(ctx context.Context, t *model.Topup) (alreadyApplied bool, newBalance int64, err error)
}

// Reconciler сверяет уведомления платёжного шлюза с локальными записями
// о пополнениях и применяет их к балансу ровно один раз. Шлюз доставляет
// уведомления по принципу at-least-once, поэтому дубликаты — норма,
// а не краевой случай.
type Reconciler struct {
	repo      Repository
	client    *Client // nil, если шлюз не настроен (создание платежей недоступно)
	notifier  notify.Notifier
	logger    *zap.Logger
	serverKey string
}

// NewReconciler создаёт Reconciler с указанным ключом проверки подписи.
func NewReconciler(repo Repository, client *Client, notifier notify.Notifier, logger *zap.Logger, serverKey string) *Reconciler {
	return &Reconciler{
		repo:      repo,
		client:    client,
		notifier:  notifier,
		logger:    logger,
		serverKey: serverKey,
	}
}

// InitiateTopup создаёт платёж в шлюзе и запись о пополнении в статусе
// pending. Пополнение будет применено к балансу только вебхуком.
func (r *Reconciler) InitiateTopup(ctx context.Context, userID, amount int64) (*Charge, error) {
	if r.client == nil {
		return nil, errors.New("payment gateway not configured")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("topup amount must be positive, got %d", amount)
	}

	charge, err := r.client.CreateQRISPayment(ctx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	err = r.repo.CreateTopup(ctx, &model.Topup{
		OrderID:       charge.OrderID,
		UserID:        userID,
		Amount:        amount,
		PaymentType:   "qris",
		TransactionID: charge.TransactionID,
		Status:        model.TopupStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("record topup: %w", err)
	}

	r.logger.Info("topup initiated",
		zap.String("orderID", charge.OrderID),
		zap.Int64("userID", userID),
		zap.Int64("amount", amount),
	)

	return charge, nil
}

// HandleNotification проверяет и применяет вебхук-уведомление шлюза.
// Ошибка проверки (подпись, формат order_id) означает, что уведомление
// отбрасывается и логируется; никакие данные не изменяются.
func (r *Reconciler) HandleNotification(ctx context.Context, n *Notification) error {
	if err := n.Verify(r.serverKey); err != nil {
		return err
	}

	status, err := n.Status()
	if err != nil {
		return err
	}

	userID, err := ParseTopupOrderID(n.OrderID)
	if err != nil {
		return err
	}

	amount, err := n.Amount()
	if err != nil {
		return err
	}

	switch status {
	case StatusSuccess:
		return r.applyTopup(ctx, n, userID, amount)
	case StatusPending:
		r.logger.Info("payment pending", zap.String("orderID", n.OrderID))
		return r.repo.SetTopupStatus(ctx, n.OrderID, userID, amount, model.TopupStatusPending)
	case StatusFailed:
		r.logger.Warn("payment failed", zap.String("orderID", n.OrderID),
			zap.String("transactionStatus", n.TransactionStatus))
		return r.repo.SetTopupStatus(ctx, n.OrderID, userID, amount, model.TopupStatusFailed)
	}

	return nil
}

// applyTopup зачисляет успешное пополнение на баланс. Идемпотентность
// обеспечивает транзакция хранилища: пополнение в статусе success повторно
// не зачисляется.
func (r *Reconciler) applyTopup(ctx context.Context, n *Notification, userID, amount int64) error {
	alreadyApplied, newBalance, err := r.repo.ApplyTopupCredit(ctx, &model.Topup{
		OrderID:       n.OrderID,
		UserID:        userID,
		Amount:        amount,
		PaymentType:   n.PaymentType,
		TransactionID: n.TransactionID,
	})
	if err != nil {
		return fmt.Errorf("apply topup credit: %w", err)
	}

	if alreadyApplied {
		r.logger.Warn("duplicate payment notification, already credited",
			zap.String("orderID", n.OrderID))
		return nil
	}

	r.logger.Info("balance credited",
		zap.String("orderID", n.OrderID),
		zap.Int64("userID", userID),
		zap.Int64("amount", amount),
		zap.Int64("newBalance", newBalance),
	)

	r.notifier.PaymentReceived(userID, amount, n.OrderID)

	return nil
}

// TopupStatus возвращает локальную запись о пополнении. Статус pending
// означает лишь «шлюз ещё не подтвердил»: истина о платеже всегда приходит
// уведомлением, локальная запись success никогда не выставляется без
// зачисления в той же транзакции.
func (r *Reconciler) TopupStatus(ctx context.Context, orderID string) (*model.Topup, error) {
	if _, err := ParseTopupOrderID(orderID); err != nil {
		return nil, err
	}
	return r.repo.GetTopup(ctx, orderID)
}
