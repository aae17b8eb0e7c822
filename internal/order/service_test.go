package order

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/codeshop-system/internal/delivery"
	"github.com/mmeshcher/codeshop-system/internal/model"
	"github.com/mmeshcher/codeshop-system/internal/repository"
)

type stubLedger struct {
	balance int64
}

func (s *stubLedger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.balance, nil
}

func (s *stubLedger) AddBalance(ctx context.Context, userID, amount int64) (int64, error) {
	s.balance += amount
	return s.balance, nil
}

func (s *stubLedger) DeductBalance(ctx context.Context, userID, amount int64) (bool, error) {
	if s.balance < amount {
		return false, nil
	}
	s.balance -= amount
	return true, nil
}

type stubStock struct {
	available int
	reserved  map[int64][]model.StockItem

	reserveErr   error
	reserveLimit int // ограничение сверх available, -1 — без ограничения
	consumed     map[int64]bool
	released     []int64
}

func newStubStock(available int) *stubStock {
	return &stubStock{
		available:    available,
		reserveLimit: -1,
		reserved:     make(map[int64][]model.StockItem),
		consumed:     make(map[int64]bool),
	}
}

func (s *stubStock) ReserveCodes(ctx context.Context, orderID int64, codeType string, count int) ([]int64, error) {
	if s.reserveErr != nil {
		return nil, s.reserveErr
	}
	n := count
	if s.available < n {
		n = s.available
	}
	if s.reserveLimit >= 0 && n > s.reserveLimit {
		n = s.reserveLimit
	}
	var ids []int64
	for i := 0; i < n; i++ {
		id := int64(i + 1)
		ids = append(ids, id)
		s.reserved[orderID] = append(s.reserved[orderID], model.StockItem{
			ID:   id,
			Code: "CODE-" + strings.Repeat("X", 5),
		})
	}
	s.available -= n
	return ids, nil
}

func (s *stubStock) ReleaseReservation(ctx context.Context, orderID int64) error {
	s.released = append(s.released, orderID)
	s.available += len(s.reserved[orderID])
	delete(s.reserved, orderID)
	return nil
}

func (s *stubStock) ConsumeReserved(ctx context.Context, orderID int64) (int, error) {
	n := len(s.reserved[orderID])
	s.consumed[orderID] = true
	delete(s.reserved, orderID)
	return n, nil
}

func (s *stubStock) ReservedCodes(ctx context.Context, orderID int64) ([]model.StockItem, error) {
	return s.reserved[orderID], nil
}

func (s *stubStock) CountAvailable(ctx context.Context, codeType string) (int, error) {
	return s.available, nil
}

type stubRepo struct {
	nextID int64
	orders map[int64]*model.Order

	createErr error
	pending   []int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{orders: make(map[int64]*model.Order)}
}

func (s *stubRepo) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	if s.createErr != nil {
		return 0, s.createErr
	}
	s.nextID++
	cp := *o
	cp.ID = s.nextID
	s.orders[cp.ID] = &cp
	return cp.ID, nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *stubRepo) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	for _, o := range s.orders {
		if o.OrderNumber == number {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (s *stubRepo) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return nil, nil
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, deliveryStatus string) error {
	o, ok := s.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.Status = status
	o.DeliveryStatus = deliveryStatus
	return nil
}

func (s *stubRepo) PendingOrderIDs(ctx context.Context, limit int) ([]int64, error) {
	return s.pending, nil
}

func (s *stubRepo) GetOrderStatistics(ctx context.Context, days int) (*repository.OrderStatistics, error) {
	return &repository.OrderStatistics{}, nil
}

func (s *stubRepo) GetDeliveryRecords(ctx context.Context, orderNumber string) ([]model.DeliveryRecord, error) {
	return nil, nil
}

func testPackages() map[string]model.Package {
	return map[string]model.Package{
		"1_code":  {Type: "1_code", Quantity: 1, Price: 15000},
		"5_codes": {Type: "5_codes", Quantity: 5, Price: 70000},
	}
}

func newTestService(ledger *stubLedger, stock *stubStock, repo *stubRepo) *Service {
	return NewService(repo, ledger, stock, testPackages(), 50, zap.NewNop())
}

func okDeliver(ctx context.Context, userID int64, orderNumber string, codes []string) (delivery.Result, error) {
	return delivery.Result{Success: true, Method: "test"}, nil
}

func failDeliver(ctx context.Context, userID int64, orderNumber string, codes []string) (delivery.Result, error) {
	return delivery.Result{}, errors.New("channel down")
}

func TestValidate_UnknownPackage(t *testing.T) {
	svc := newTestService(&stubLedger{}, newStubStock(0), newStubRepo())

	v, err := svc.Validate(context.Background(), 1, "999_codes")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.Valid {
		t.Fatalf("unknown package must not validate")
	}
}

func TestValidate_InsufficientBalance(t *testing.T) {
	svc := newTestService(&stubLedger{balance: 1000}, newStubStock(10), newStubRepo())

	v, err := svc.Validate(context.Background(), 1, "5_codes")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.Valid || !strings.Contains(v.Reason, "insufficient balance") {
		t.Fatalf("validation = %+v", v)
	}
}

func TestCreateAndProcessOrder_Success(t *testing.T) {
	ledger := &stubLedger{balance: 100000}
	stock := newStubStock(10)
	repo := newStubRepo()
	svc := newTestService(ledger, stock, repo)

	o, err := svc.CreateOrder(context.Background(), 42, "5_codes")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if ledger.balance != 30000 {
		t.Fatalf("balance after purchase = %d, want 30000", ledger.balance)
	}
	if len(stock.reserved[o.ID]) != 5 {
		t.Fatalf("reserved %d codes, want 5", len(stock.reserved[o.ID]))
	}
	if !strings.HasPrefix(o.OrderNumber, "ORD-42-") {
		t.Fatalf("order number = %q", o.OrderNumber)
	}

	res, err := svc.ProcessOrder(context.Background(), o.ID, okDeliver)
	if err != nil {
		t.Fatalf("process order: %v", err)
	}
	if !res.Delivered {
		t.Fatalf("order must be delivered")
	}
	if !stock.consumed[o.ID] {
		t.Fatalf("reserved codes must be consumed after delivery")
	}

	stored, _ := repo.GetOrderByID(context.Background(), o.ID)
	if stored.Status != model.OrderStatusCompleted || stored.DeliveryStatus != model.DeliveryStatusDelivered {
		t.Fatalf("order state = %s/%s", stored.Status, stored.DeliveryStatus)
	}
}

func TestCreateOrder_StockShortfallRefunds(t *testing.T) {
	ledger := &stubLedger{balance: 100000}
	stock := newStubStock(3)
	repo := newStubRepo()
	svc := newTestService(ledger, stock, repo)

	// Validate видит 3 доступных кода и отклоняет 5_codes ещё до списания.
	_, err := svc.CreateOrder(context.Background(), 42, "5_codes")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ledger.balance != 100000 {
		t.Fatalf("balance must be untouched, got %d", ledger.balance)
	}
}

func TestCreateOrder_ShortfallAfterValidationRefundsAndReleases(t *testing.T) {
	ledger := &stubLedger{balance: 100000}
	stock := newStubStock(5)
	repo := newStubRepo()
	svc := newTestService(ledger, stock, repo)

	// Конкурирующий заказ забирает коды между валидацией и резервированием.
	stock.reserveLimit = 3

	_, err := svc.CreateOrder(context.Background(), 42, "5_codes")
	if !errors.Is(err, ErrStockUnavailable) {
		t.Fatalf("expected ErrStockUnavailable, got %v", err)
	}

	if ledger.balance != 100000 {
		t.Fatalf("balance after refund = %d, want 100000", ledger.balance)
	}
	if len(stock.released) != 1 {
		t.Fatalf("partial reservation must be released, got %v", stock.released)
	}

	stored, _ := repo.GetOrderByID(context.Background(), 1)
	if stored.Status != model.OrderStatusFailed || stored.DeliveryStatus != "stock_unavailable" {
		t.Fatalf("order state = %s/%s", stored.Status, stored.DeliveryStatus)
	}
}

func TestCreateOrder_InsertFailureRefunds(t *testing.T) {
	ledger := &stubLedger{balance: 100000}
	stock := newStubStock(10)
	repo := newStubRepo()
	repo.createErr = errors.New("db down")
	svc := newTestService(ledger, stock, repo)

	if _, err := svc.CreateOrder(context.Background(), 42, "5_codes"); err == nil {
		t.Fatalf("expected error")
	}
	if ledger.balance != 100000 {
		t.Fatalf("balance after refund = %d, want 100000", ledger.balance)
	}
}

func TestProcessOrder_IdempotentForCompleted(t *testing.T) {
	ledger := &stubLedger{balance: 100000}
	stock := newStubStock(10)
	repo := newStubRepo()
	svc := newTestService(ledger, stock, repo)

	o, err := svc.CreateOrder(context.Background(), 42, "1_code")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.ProcessOrder(context.Background(), o.ID, okDeliver); err != nil {
		t.Fatalf("first process: %v", err)
	}

	delivered := 0
	counting := func(ctx context.Context, userID int64, orderNumber string, codes []string) (delivery.Result, error) {
		delivered++
		return delivery.Result{Success: true}, nil
	}

	res, err := svc.ProcessOrder(context.Background(), o.ID, counting)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if !res.Delivered || delivered != 0 {
		t.Fatalf("completed order must not be re-delivered (delivered=%d)", delivered)
	}
}

func TestProcessOrder_DeliveryFailureKeepsReservation(t *testing.T) {
	ledger := &stubLedger{balance: 100000}
	stock := newStubStock(10)
	repo := newStubRepo()
	svc := newTestService(ledger, stock, repo)

	o, err := svc.CreateOrder(context.Background(), 42, "5_codes")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := svc.ProcessOrder(context.Background(), o.ID, failDeliver); err == nil {
		t.Fatalf("expected delivery error")
	}

	if len(stock.reserved[o.ID]) != 5 {
		t.Fatalf("reservation must survive a failed delivery")
	}
	stored, _ := repo.GetOrderByID(context.Background(), o.ID)
	if stored.Status != model.OrderStatusPending || stored.DeliveryStatus != model.DeliveryStatusFailed {
		t.Fatalf("order state = %s/%s", stored.Status, stored.DeliveryStatus)
	}
}

func TestProcessOrder_NilDelivererMarksManual(t *testing.T) {
	ledger := &stubLedger{balance: 100000}
	stock := newStubStock(10)
	repo := newStubRepo()
	svc := newTestService(ledger, stock, repo)

	o, err := svc.CreateOrder(context.Background(), 42, "1_code")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	res, err := svc.ProcessOrder(context.Background(), o.ID, nil)
	if err != nil {
		t.Fatalf("process order: %v", err)
	}
	if !res.ManualDelivery {
		t.Fatalf("expected manual delivery result")
	}

	stored, _ := repo.GetOrderByID(context.Background(), o.ID)
	if stored.DeliveryStatus != model.DeliveryStatusPendingManual {
		t.Fatalf("delivery status = %q", stored.DeliveryStatus)
	}
}

func TestCancelOrder_RefundsAndReleases(t *testing.T) {
	ledger := &stubLedger{balance: 100000}
	stock := newStubStock(10)
	repo := newStubRepo()
	svc := newTestService(ledger, stock, repo)

	o, err := svc.CreateOrder(context.Background(), 42, "5_codes")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	refunded, err := svc.CancelOrder(context.Background(), o.ID, true)
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if !refunded {
		t.Fatalf("balance payment must be refunded")
	}
	if ledger.balance != 100000 {
		t.Fatalf("balance after cancel = %d, want 100000", ledger.balance)
	}
	if len(stock.reserved[o.ID]) != 0 {
		t.Fatalf("reservation must be released on cancel")
	}

	stored, _ := repo.GetOrderByID(context.Background(), o.ID)
	if stored.Status != model.OrderStatusCancelled {
		t.Fatalf("order status = %s", stored.Status)
	}
}

func TestCancelOrder_CompletedNotCancellable(t *testing.T) {
	ledger := &stubLedger{balance: 100000}
	stock := newStubStock(10)
	repo := newStubRepo()
	svc := newTestService(ledger, stock, repo)

	o, err := svc.CreateOrder(context.Background(), 42, "1_code")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.ProcessOrder(context.Background(), o.ID, okDeliver); err != nil {
		t.Fatalf("process order: %v", err)
	}

	if _, err := svc.CancelOrder(context.Background(), o.ID, true); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestProcessPendingBatch(t *testing.T) {
	ledger := &stubLedger{balance: 200000}
	stock := newStubStock(10)
	repo := newStubRepo()
	svc := newTestService(ledger, stock, repo)

	a, err := svc.CreateOrder(context.Background(), 42, "1_code")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	b, err := svc.CreateOrder(context.Background(), 42, "5_codes")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	repo.pending = []int64{a.ID, b.ID}

	res, err := svc.ProcessPendingBatch(context.Background(), okDeliver, 10)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if res.Processed != 2 || res.Succeeded != 2 {
		t.Fatalf("batch result = %+v", res)
	}
}
