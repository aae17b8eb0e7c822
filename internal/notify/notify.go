// Package notify определяет канал оповещений о событиях магазина.
package notify

import "go.uber.org/zap"

// Notifier — приёмник событий для оператора. Вызовы выполняются по принципу
// fire-and-forget: ядро не ждёт подтверждения и не реагирует на сбои
// оповещений.
type Notifier interface {
	PaymentReceived(userID, amount int64, orderID string)
	DeliveryFailed(orderNumber string, userID int64, reason string)
	LowStock(codeType string, available, threshold int)
}

// LogNotifier пишет события в журнал. Используется, когда внешний канал
// оповещений не настроен.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создаёт Notifier поверх zap-логгера.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// PaymentReceived фиксирует успешное пополнение баланса.
func (n *LogNotifier) PaymentReceived(userID, amount int64, orderID string) {
	n.logger.Info("payment received",
		zap.Int64("userID", userID),
		zap.Int64("amount", amount),
		zap.String("orderID", orderID),
	)
}

// DeliveryFailed фиксирует окончательный сбой доставки заказа.
func (n *LogNotifier) DeliveryFailed(orderNumber string, userID int64, reason string) {
	n.logger.Warn("delivery failed, manual intervention required",
		zap.String("order", orderNumber),
		zap.Int64("userID", userID),
		zap.String("reason", reason),
	)
}

// LowStock фиксирует падение остатков ниже порога.
func (n *LogNotifier) LowStock(codeType string, available, threshold int) {
	n.logger.Warn("low stock",
		zap.String("codeType", codeType),
		zap.Int("available", available),
		zap.Int("threshold", threshold),
	)
}
