// Package payment реализует взаимодействие с платёжным шлюзом Midtrans:
// создание платежей, проверку вебхук-уведомлений и идемпотентное применение
// пополнений к балансу.
package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/codeshop-system/internal/model"
)

// ErrInvalidSignature возвращается при несовпадении подписи уведомления.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMissingFields возвращается, если в уведомлении нет обязательных полей.
	ErrMissingFields = errors.New("missing required notification fields")
	// ErrMalformedOrderID возвращается для order_id, не соответствующего
	// формату TOPUP-<user>-<timestamp>.
	ErrMalformedOrderID = errors.New("malformed order id")
	// ErrUnknownStatus возвращается для неизвестного transaction_status.
	ErrUnknownStatus = errors.New("unknown transaction status")
)

// Status — внутренний трёхзначный статус платежа.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Notification — вебхук-уведомление Midtrans о смене статуса транзакции.
type Notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
	TransactionID     string `json:"transaction_id"`
	FraudStatus       string `json:"fraud_status"`
}

// Verify проверяет подпись уведомления: SHA-512 от конкатенации
// order_id + status_code + gross_amount + server_key, hex. Сравнение
// выполняется за постоянное время.
func (n *Notification) Verify(serverKey string) error {
	if n.OrderID == "" || n.StatusCode == "" || n.GrossAmount == "" ||
		n.SignatureKey == "" || n.TransactionStatus == "" {
		return ErrMissingFields
	}

	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + serverKey))
	expected := hex.EncodeToString(sum[:])

	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(n.SignatureKey))) != 1 {
		return ErrInvalidSignature
	}

	return nil
}

// Status переводит словарь статусов Midtrans во внутренний трёхзначный.
func (n *Notification) Status() (Status, error) {
	switch n.TransactionStatus {
	case "capture", "settlement":
		return StatusSuccess, nil
	case "pending":
		return StatusPending, nil
	case "deny", "cancel", "expire", "failure":
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownStatus, n.TransactionStatus)
	}
}

// Amount возвращает сумму уведомления в целых рупиях. Midtrans присылает
// gross_amount строкой, иногда с дробной частью ("50000.00").
func (n *Notification) Amount() (int64, error) {
	f, err := strconv.ParseFloat(n.GrossAmount, 64)
	if err != nil {
		return 0, fmt.Errorf("parse gross_amount %q: %w", n.GrossAmount, err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("non-positive gross_amount %q", n.GrossAmount)
	}
	return int64(f), nil
}

// ParseTopupOrderID извлекает идентификатор пользователя из внешнего
// идентификатора пополнения TOPUP-<userID>-<timestamp>. Искажённый
// идентификатор отклоняется: пользователь никогда не угадывается.
func ParseTopupOrderID(orderID string) (int64, error) {
	parts := strings.Split(orderID, "-")
	if len(parts) != 3 || parts[0] != "TOPUP" {
		return 0, fmt.Errorf("%w: %s", ErrMalformedOrderID, orderID)
	}

	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrMalformedOrderID, orderID)
	}

	if len(parts[2]) != 14 {
		return 0, fmt.Errorf("%w: %s", ErrMalformedOrderID, orderID)
	}
	if _, err := strconv.ParseUint(parts[2], 10, 64); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformedOrderID, orderID)
	}

	return userID, nil
}

// NewTopupOrderID формирует внешний идентификатор пополнения.
func NewTopupOrderID(userID int64) string {
	return fmt.Sprintf("TOPUP-%d-%s", userID, time.Now().In(model.WIB).Format("20060102150405"))
}
