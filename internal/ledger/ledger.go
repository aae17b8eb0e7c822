// Package ledger реализует операции над балансом пользователя.
package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/codeshop-system/internal/repository"
)

// Repository описывает контракт хранилища балансов.
type Repository interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	AddBalance(ctx context.Context, userID, amount int64) (int64, error)
	DeductBalance(ctx context.Context, userID, amount int64) (bool, error)
}

// Ledger предоставляет атомарные операции над балансом. Вся сериализация
// конкурирующих изменений выполняется на уровне хранилища, поэтому Ledger
// безопасно вызывать из обработчика вебхуков и из слоя заказов одновременно.
type Ledger struct {
	repo   Repository
	logger *zap.Logger
}

// New создаёт Ledger поверх указанного хранилища.
func New(repo Repository, logger *zap.Logger) *Ledger {
	return &Ledger{repo: repo, logger: logger}
}

// GetBalance возвращает баланс пользователя. Для неизвестного пользователя — 0.
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return l.repo.GetBalance(ctx, userID)
}

// AddBalance увеличивает баланс и возвращает новое значение.
// Неположительная сумма отклоняется с repository.ErrInvalidAmount.
func (l *Ledger) AddBalance(ctx context.Context, userID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, repository.ErrInvalidAmount
	}

	newBalance, err := l.repo.AddBalance(ctx, userID, amount)
	if err != nil {
		return 0, err
	}

	l.logger.Info("balance credited",
		zap.Int64("userID", userID),
		zap.Int64("amount", amount),
		zap.Int64("newBalance", newBalance),
	)

	return newBalance, nil
}

// DeductBalance списывает сумму с баланса. Возвращает false без изменений,
// если средств недостаточно.
func (l *Ledger) DeductBalance(ctx context.Context, userID, amount int64) (bool, error) {
	if amount <= 0 {
		return false, repository.ErrInvalidAmount
	}

	ok, err := l.repo.DeductBalance(ctx, userID, amount)
	if err != nil {
		return false, err
	}

	if ok {
		l.logger.Info("balance deducted",
			zap.Int64("userID", userID),
			zap.Int64("amount", amount),
		)
	}

	return ok, nil
}
