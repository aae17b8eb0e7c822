package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/codeshop-system/internal/model"
)

// CreateOrder сохраняет новый заказ в статусе pending и возвращает его
// внутренний идентификатор.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO orders (order_number, user_id, package_type, code_quantity, total_price, payment_method, status, delivery_status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', '')
		 RETURNING id`,
		o.OrderNumber, o.UserID, o.PackageType, o.Quantity, o.TotalPrice, o.PaymentMethod,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status string
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.PackageType, &o.Quantity,
		&o.TotalPrice, &o.PaymentMethod, &status, &o.DeliveryStatus, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

const orderColumns = `id, order_number, user_id, package_type, code_quantity,
	 total_price, payment_method, status, delivery_status, created_at`

// GetOrderByID возвращает заказ по внутреннему идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

// GetOrderByNumber возвращает заказ по внешнему номеру.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number)
	return scanOrder(row)
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// UpdateOrderStatus переводит заказ в новый статус и подстатус доставки.
// Заказ в конечном статусе (completed или cancelled) изменить нельзя.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, deliveryStatus string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $2, delivery_status = $3
		 WHERE id = $1 AND status NOT IN ('completed', 'cancelled')`,
		orderID, string(status), deliveryStatus,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrOrderTerminal
	}

	return nil
}

// PendingOrderIDs возвращает идентификаторы недоставленных pending-заказов,
// старые первыми.
func (r *PostgresRepository) PendingOrderIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM orders
		 WHERE status = 'pending' AND delivery_status <> 'delivered'
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// OrderStatistics содержит сводку по заказам за период.
type OrderStatistics struct {
	TotalOrders  int
	Completed    int
	Pending      int
	Failed       int
	Cancelled    int
	TotalRevenue int64
	TotalCodes   int
	UniqueUsers  int
}

// GetOrderStatistics возвращает сводку по заказам за последние days дней.
func (r *PostgresRepository) GetOrderStatistics(ctx context.Context, days int) (*OrderStatistics, error) {
	var s OrderStatistics
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE status = 'pending'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COUNT(*) FILTER (WHERE status = 'cancelled'),
		        COALESCE(SUM(total_price) FILTER (WHERE status = 'completed'), 0),
		        COALESCE(SUM(code_quantity) FILTER (WHERE status = 'completed'), 0),
		        COUNT(DISTINCT user_id)
		 FROM orders
		 WHERE created_at >= now() - make_interval(days => $1)`,
		days,
	).Scan(&s.TotalOrders, &s.Completed, &s.Pending, &s.Failed, &s.Cancelled,
		&s.TotalRevenue, &s.TotalCodes, &s.UniqueUsers)
	if err != nil {
		return nil, fmt.Errorf("select order statistics: %w", err)
	}
	return &s, nil
}
