package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/codeshop-system/internal/model"
)

// AddCode добавляет код на склад и возвращает его идентификатор.
func (r *PostgresRepository) AddCode(ctx context.Context, code, codeType string, isEncrypted bool, addedBy int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO stock (code, code_type, is_encrypted, added_by) VALUES ($1, $2, $3, $4) RETURNING id`,
		code, codeType, isEncrypted, addedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert stock code: %w", err)
	}
	return id, nil
}

// ReserveCodes атомарно резервирует до count доступных кодов указанного типа
// за заказом и возвращает их идентификаторы. При нехватке возвращает столько,
// сколько удалось захватить: откат — ответственность вызывающей стороны.
// FOR UPDATE SKIP LOCKED исключает выбор одной и той же строки двумя
// конкурирующими резервированиями.
func (r *PostgresRepository) ReserveCodes(ctx context.Context, orderID int64, codeType string, count int) ([]int64, error) {
	var ids []int64
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`UPDATE stock
			 SET state = 'reserved', reserved_for_order = $1
			 WHERE id IN (
			     SELECT id FROM stock
			     WHERE state = 'available' AND code_type = $2
			     LIMIT $3
			     FOR UPDATE SKIP LOCKED
			 )
			 RETURNING id`,
			orderID, codeType, count,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		ids = ids[:0]
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("reserve codes: %w", err)
	}
	return ids, nil
}

// ReleaseReservation возвращает все коды, зарезервированные за заказом,
// в состояние available. Повторный вызов — no-op.
func (r *PostgresRepository) ReleaseReservation(ctx context.Context, orderID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE stock
		 SET state = 'available', reserved_for_order = NULL
		 WHERE reserved_for_order = $1 AND state = 'reserved'`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// ConsumeReserved помечает все зарезервированные за заказом коды
// использованными и возвращает их количество. Допустимо только после
// успешной доставки.
func (r *PostgresRepository) ConsumeReserved(ctx context.Context, orderID int64) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE stock
		 SET state = 'consumed', consumed_at = now()
		 WHERE reserved_for_order = $1 AND state = 'reserved'`,
		orderID,
	)
	if err != nil {
		return 0, fmt.Errorf("consume reserved: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetReservedCodes возвращает коды, зарезервированные за заказом.
func (r *PostgresRepository) GetReservedCodes(ctx context.Context, orderID int64) ([]model.StockItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, code, code_type, is_encrypted
		 FROM stock
		 WHERE reserved_for_order = $1 AND state = 'reserved'
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reserved codes: %w", err)
	}
	defer rows.Close()

	var items []model.StockItem
	for rows.Next() {
		var it model.StockItem
		if err := rows.Scan(&it.ID, &it.Code, &it.CodeType, &it.IsEncrypted); err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		it.State = model.StockStateReserved
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// CountAvailable возвращает количество доступных кодов указанного типа.
func (r *PostgresRepository) CountAvailable(ctx context.Context, codeType string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock WHERE state = 'available' AND code_type = $1`,
		codeType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count available: %w", err)
	}
	return count, nil
}

// StockTypeSummary содержит счётчики склада по одному типу кодов.
type StockTypeSummary struct {
	CodeType  string
	Total     int
	Available int
	Reserved  int
	Consumed  int
}

// StockSummary возвращает счётчики склада, сгруппированные по типу кодов.
func (r *PostgresRepository) StockSummary(ctx context.Context) ([]StockTypeSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT code_type,
		        COUNT(*) AS total,
		        COUNT(*) FILTER (WHERE state = 'available') AS available,
		        COUNT(*) FILTER (WHERE state = 'reserved') AS reserved,
		        COUNT(*) FILTER (WHERE state = 'consumed') AS consumed
		 FROM stock
		 GROUP BY code_type
		 ORDER BY code_type`,
	)
	if err != nil {
		return nil, fmt.Errorf("select stock summary: %w", err)
	}
	defer rows.Close()

	var res []StockTypeSummary
	for rows.Next() {
		var s StockTypeSummary
		if err := rows.Scan(&s.CodeType, &s.Total, &s.Available, &s.Reserved, &s.Consumed); err != nil {
			return nil, fmt.Errorf("scan stock summary: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
