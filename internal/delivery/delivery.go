// Package delivery описывает контракт доставки кодов и оркестрацию повторов.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/codeshop-system/internal/model"
	"github.com/mmeshcher/codeshop-system/internal/notify"
)

// Result — итог одной попытки доставки.
type Result struct {
	Success bool
	Method  string
}

// Func — функция доставки, предоставляемая слоем интерфейса (Discord-бот,
// канал, файл). Обязана переносить повторные вызовы для одного заказа:
// ядро помечает коды использованными только после успеха.
type Func func(ctx context.Context, userID int64, orderNumber string, codes []string) (Result, error)

// Recorder описывает журнал доставки.
type Recorder interface {
	RecordDelivery(ctx context.Context, rec *model.DeliveryRecord) error
}

// WithRetry оборачивает функцию доставки повторами с линейно растущей
// паузой (interval, 2*interval, ...). Каждая попытка фиксируется в журнале;
// окончательный сбой уходит оператору через notifier.
func WithRetry(fn Func, attempts int, interval time.Duration, recorder Recorder, notifier notify.Notifier, logger *zap.Logger) Func {
	if attempts < 1 {
		attempts = 1
	}

	return func(ctx context.Context, userID int64, orderNumber string, codes []string) (Result, error) {
		var res Result
		attempt := 0

		backoff := retry.WithMaxRetries(uint64(attempts-1), linearBackoff(interval))

		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			attempt++
			r, err := fn(ctx, userID, orderNumber, codes)
			res = r

			record := &model.DeliveryRecord{
				OrderNumber: orderNumber,
				UserID:      userID,
				Method:      r.Method,
				Status:      "success",
			}
			if err != nil || !r.Success {
				record.Status = "failed"
				if err != nil {
					record.ErrorMessage = err.Error()
				}
			}
			if recErr := recorder.RecordDelivery(ctx, record); recErr != nil {
				logger.Error("record delivery attempt", zap.Error(recErr))
			}

			if err != nil {
				logger.Warn("delivery attempt failed",
					zap.String("order", orderNumber),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				return retry.RetryableError(err)
			}
			if !r.Success {
				logger.Warn("delivery attempt rejected",
					zap.String("order", orderNumber),
					zap.Int("attempt", attempt),
				)
				return retry.RetryableError(fmt.Errorf("delivery rejected via %s", r.Method))
			}
			return nil
		})
		if err != nil {
			notifier.DeliveryFailed(orderNumber, userID, err.Error())
			return res, fmt.Errorf("deliver after %d attempts: %w", attempt, err)
		}

		return res, nil
	}
}

// linearBackoff возвращает паузы interval, 2*interval, 3*interval и так далее.
func linearBackoff(interval time.Duration) retry.Backoff {
	n := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return time.Duration(n) * interval, false
	})
}
