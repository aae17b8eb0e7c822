package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/codeshop-system/internal/model"
)

// RecordDelivery добавляет запись журнала доставки. Журнал только
// пополняется и на решения системы не влияет.
func (r *PostgresRepository) RecordDelivery(ctx context.Context, rec *model.DeliveryRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO deliveries (order_number, user_id, method, status, error_message)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.OrderNumber, rec.UserID, rec.Method, rec.Status, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// GetDeliveryRecords возвращает журнал доставки по номеру заказа.
func (r *PostgresRepository) GetDeliveryRecords(ctx context.Context, orderNumber string) ([]model.DeliveryRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_number, user_id, method, status, error_message, created_at
		 FROM deliveries
		 WHERE order_number = $1
		 ORDER BY created_at`,
		orderNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("select delivery records: %w", err)
	}
	defer rows.Close()

	var res []model.DeliveryRecord
	for rows.Next() {
		var rec model.DeliveryRecord
		if err := rows.Scan(&rec.ID, &rec.OrderNumber, &rec.UserID, &rec.Method,
			&rec.Status, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		res = append(res, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
