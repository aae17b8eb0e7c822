package order

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/codeshop-system/internal/delivery"
)

const sweepBatchSize = 10

// StartPendingSweep запускает фоновый цикл добивания застрявших
// pending-заказов. Выполняется не чаще одного прогона одновременно:
// если предыдущий прогон ещё идёт, очередной тик пропускается.
// Блокируется до отмены контекста.
func (s *Service) StartPendingSweep(ctx context.Context, deliver delivery.Func, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var busy atomic.Bool

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !busy.CompareAndSwap(false, true) {
				s.logger.Debug("pending sweep still running, skipping tick")
				continue
			}

			go func() {
				defer busy.Store(false)
				if _, err := s.ProcessPendingBatch(ctx, deliver, sweepBatchSize); err != nil && ctx.Err() == nil {
					s.logger.Error("pending sweep failed", zap.Error(err))
				}
			}()
		}
	}
}
