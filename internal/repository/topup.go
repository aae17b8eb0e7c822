package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/codeshop-system/internal/model"
)

// CreateTopup сохраняет запись об инициированном пополнении в статусе pending.
// Повторная вставка того же order_id — no-op.
func (r *PostgresRepository) CreateTopup(ctx context.Context, t *model.Topup) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO topups (order_id, user_id, amount, payment_type, transaction_id, status)
		 VALUES ($1, $2, $3, $4, $5, 'pending')
		 ON CONFLICT (order_id) DO NOTHING`,
		t.OrderID, t.UserID, t.Amount, t.PaymentType, t.TransactionID,
	)
	if err != nil {
		return fmt.Errorf("insert topup: %w", err)
	}
	return nil
}

// GetTopup возвращает запись о пополнении по внешнему идентификатору.
func (r *PostgresRepository) GetTopup(ctx context.Context, orderID string) (*model.Topup, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT order_id, user_id, amount, payment_type, transaction_id, status, created_at, updated_at
		 FROM topups WHERE order_id = $1`,
		orderID,
	)

	var t model.Topup
	var status string
	err := row.Scan(&t.OrderID, &t.UserID, &t.Amount, &t.PaymentType, &t.TransactionID,
		&status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTopupNotFound
		}
		return nil, fmt.Errorf("get topup: %w", err)
	}
	t.Status = model.TopupStatus(status)

	return &t, nil
}

// SetTopupStatus обновляет статус пополнения, не трогая баланс. Запись
// создаётся, если уведомление шлюза пришло раньше, чем пополнение было
// инициировано локально. Переход из success в другой статус запрещён.
func (r *PostgresRepository) SetTopupStatus(ctx context.Context, orderID string, userID, amount int64, status model.TopupStatus) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO topups (order_id, user_id, amount, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (order_id)
		 DO UPDATE SET status = EXCLUDED.status, updated_at = now()
		 WHERE topups.status <> 'success'`,
		orderID, userID, amount, string(status),
	)
	if err != nil {
		return fmt.Errorf("set topup status: %w", err)
	}
	return nil
}

// ApplyTopupCredit применяет успешное пополнение к балансу ровно один раз.
// Вся последовательность выполняется в одной транзакции: строка пополнения
// блокируется, статус success означает уже зачисленный платёж — повторное
// уведомление шлюза возвращает alreadyApplied без изменения баланса.
func (r *PostgresRepository) ApplyTopupCredit(ctx context.Context, t *model.Topup) (alreadyApplied bool, newBalance int64, err error) {
	err = r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var status string
		err = tx.QueryRow(ctx,
			`SELECT status FROM topups WHERE order_id = $1 FOR UPDATE`,
			t.OrderID,
		).Scan(&status)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock topup: %w", err)
		}

		if status == string(model.TopupStatusSuccess) {
			alreadyApplied = true
			return tx.Commit(ctx)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO topups (order_id, user_id, amount, payment_type, transaction_id, status)
			 VALUES ($1, $2, $3, $4, $5, 'pending')
			 ON CONFLICT (order_id)
			 DO UPDATE SET amount = EXCLUDED.amount,
			               payment_type = EXCLUDED.payment_type,
			               transaction_id = EXCLUDED.transaction_id,
			               updated_at = now()`,
			t.OrderID, t.UserID, t.Amount, t.PaymentType, t.TransactionID,
		)
		if err != nil {
			return fmt.Errorf("upsert topup: %w", err)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO accounts (user_id, balance) VALUES ($1, $2)
			 ON CONFLICT (user_id)
			 DO UPDATE SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()
			 RETURNING balance`,
			t.UserID, t.Amount,
		).Scan(&newBalance)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE topups SET status = 'success', updated_at = now() WHERE order_id = $1`,
			t.OrderID,
		)
		if err != nil {
			return fmt.Errorf("mark topup success: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return false, 0, err
	}
	return alreadyApplied, newBalance, nil
}
