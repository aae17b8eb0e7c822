package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetBalance возвращает баланс пользователя в рупиях. Для неизвестного
// пользователя возвращается 0: счёт создаётся лениво при первом пополнении.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// AddBalance атомарно увеличивает баланс пользователя и возвращает новое
// значение. Счёт создаётся при первом обращении.
func (r *PostgresRepository) AddBalance(ctx context.Context, userID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var newBalance int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO accounts (user_id, balance) VALUES ($1, $2)
			 ON CONFLICT (user_id)
			 DO UPDATE SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()
			 RETURNING balance`,
			userID, amount,
		).Scan(&newBalance)
	})
	if err != nil {
		return 0, fmt.Errorf("add balance: %w", err)
	}
	return newBalance, nil
}

// DeductBalance атомарно списывает сумму с баланса. Возвращает false без
// изменений, если средств недостаточно. Проверка и списание выполняются
// одним UPDATE, чтобы два конкурирующих заказа не ушли в минус по
// устаревшему чтению баланса.
func (r *PostgresRepository) DeductBalance(ctx context.Context, userID, amount int64) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	var deducted bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE accounts
			 SET balance = balance - $2, updated_at = now()
			 WHERE user_id = $1 AND balance >= $2`,
			userID, amount,
		)
		if err != nil {
			return err
		}
		deducted = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("deduct balance: %w", err)
	}
	return deducted, nil
}
