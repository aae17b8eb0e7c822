// Package stock реализует работу со складом кодов: пополнение,
// резервирование, списание и статистику.
package stock

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/codeshop-system/internal/model"
	"github.com/mmeshcher/codeshop-system/internal/notify"
	"github.com/mmeshcher/codeshop-system/internal/repository"
	"github.com/mmeshcher/codeshop-system/internal/validation"
)

// DefaultCodeType — тип кода по умолчанию, унаследованный от исходного магазина.
const DefaultCodeType = "redfinger"

// ErrInvalidCode возвращается для кода недопустимой длины.
var ErrInvalidCode = errors.New("invalid code: must be 5..500 characters")

// Repository описывает контракт хранилища склада.
type Repository interface {
	AddCode(ctx context.Context, code, codeType string, isEncrypted bool, addedBy int64) (int64, error)
	ReserveCodes(ctx context.Context, orderID int64, codeType string, count int) ([]int64, error)
	ReleaseReservation(ctx context.Context, orderID int64) error
	ConsumeReserved(ctx context.Context, orderID int64) (int, error)
	GetReservedCodes(ctx context.Context, orderID int64) ([]model.StockItem, error)
	CountAvailable(ctx context.Context, codeType string) (int, error)
	StockSummary(ctx context.Context) ([]repository.StockTypeSummary, error)
}

// Cipher описывает контракт шифрования кодов перед сохранением.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// Service управляет складом кодов.
type Service struct {
	repo      Repository
	cipher    Cipher // nil, если шифрование выключено
	notifier  notify.Notifier
	logger    *zap.Logger
	threshold int
}

// NewService создаёт сервис склада. Если cipher равен nil, коды хранятся
// открытым текстом.
func NewService(repo Repository, cipher Cipher, notifier notify.Notifier, logger *zap.Logger, lowStockThreshold int) *Service {
	return &Service{
		repo:      repo,
		cipher:    cipher,
		notifier:  notifier,
		logger:    logger,
		threshold: lowStockThreshold,
	}
}

// AddCode добавляет один код на склад и возвращает его идентификатор.
// Сбой шифрования не блокирует приём кода: значение сохраняется открытым
// текстом, а предупреждение уходит в журнал. Доступность склада здесь
// важнее конфиденциальности.
func (s *Service) AddCode(ctx context.Context, code, codeType string, addedBy int64) (int64, error) {
	if !validation.IsValidStockCode(code) {
		return 0, ErrInvalidCode
	}
	if codeType == "" {
		codeType = DefaultCodeType
	}

	stored := code
	encrypted := false
	if s.cipher != nil {
		ct, err := s.cipher.Encrypt(code)
		if err != nil {
			s.logger.Warn("stock code encryption failed, storing plaintext",
				zap.Error(err), zap.String("codeType", codeType))
		} else {
			stored = ct
			encrypted = true
		}
	}

	id, err := s.repo.AddCode(ctx, stored, codeType, encrypted, addedBy)
	if err != nil {
		return 0, fmt.Errorf("add code: %w", err)
	}

	return id, nil
}

// BulkResult содержит итог пакетного добавления кодов.
type BulkResult struct {
	Added    int
	Failed   int
	StockIDs []int64
	Errors   []string
}

// AddCodesFromText разбирает текст с кодами (по одному в строке) и добавляет
// их на склад. Ошибки отдельных строк не прерывают загрузку.
func (s *Service) AddCodesFromText(ctx context.Context, text, codeType string, addedBy int64) (*BulkResult, error) {
	codes := validation.SplitCodes(text)
	if len(codes) == 0 {
		return nil, errors.New("no valid codes found")
	}

	res := &BulkResult{}
	for i, code := range codes {
		id, err := s.AddCode(ctx, code, codeType, addedBy)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d (%s): %s", i+1, maskSensitive(code), err))
			continue
		}
		res.Added++
		res.StockIDs = append(res.StockIDs, id)
	}

	s.logger.Info("bulk stock add",
		zap.Int64("addedBy", addedBy),
		zap.Int("added", res.Added),
		zap.Int("failed", res.Failed),
		zap.String("codeType", codeType),
	)

	s.checkStockAlert(ctx, codeType)

	return res, nil
}

// ReserveCodes атомарно резервирует до count кодов за заказом.
// При нехватке возвращает короткий список; откат — дело вызывающего.
func (s *Service) ReserveCodes(ctx context.Context, orderID int64, codeType string, count int) ([]int64, error) {
	if codeType == "" {
		codeType = DefaultCodeType
	}
	return s.repo.ReserveCodes(ctx, orderID, codeType, count)
}

// ReleaseReservation возвращает резерв заказа на склад. Идемпотентна.
func (s *Service) ReleaseReservation(ctx context.Context, orderID int64) error {
	return s.repo.ReleaseReservation(ctx, orderID)
}

// ConsumeReserved помечает резерв заказа использованным. Вызывается только
// после успешной доставки.
func (s *Service) ConsumeReserved(ctx context.Context, orderID int64) (int, error) {
	return s.repo.ConsumeReserved(ctx, orderID)
}

// ReservedCodes возвращает зарезервированные за заказом коды с уже
// расшифрованными значениями. Код, который не удалось расшифровать,
// возвращается как есть: потерять оплаченный код хуже, чем отдать сырое
// значение в журнал доставки.
func (s *Service) ReservedCodes(ctx context.Context, orderID int64) ([]model.StockItem, error) {
	items, err := s.repo.GetReservedCodes(ctx, orderID)
	if err != nil {
		return nil, err
	}

	for i := range items {
		if !items[i].IsEncrypted || s.cipher == nil {
			continue
		}
		plain, err := s.cipher.Decrypt(items[i].Code)
		if err != nil {
			s.logger.Error("stock code decryption failed",
				zap.Error(err), zap.Int64("stockID", items[i].ID))
			continue
		}
		items[i].Code = plain
	}

	return items, nil
}

// CountAvailable возвращает число доступных кодов указанного типа.
func (s *Service) CountAvailable(ctx context.Context, codeType string) (int, error) {
	if codeType == "" {
		codeType = DefaultCodeType
	}
	return s.repo.CountAvailable(ctx, codeType)
}

// Totals агрегирует счётчики склада по всем типам кодов.
type Totals struct {
	Total           int     `json:"total"`
	Available       int     `json:"available"`
	Reserved        int     `json:"reserved"`
	Consumed        int     `json:"consumed"`
	UtilizationRate float64 `json:"utilization_rate"`
}

// Stats — подробная статистика склада для наблюдаемости.
type Stats struct {
	ByType   map[string]repository.StockTypeSummary `json:"by_type"`
	Totals   Totals                                 `json:"totals"`
	LowStock bool                                   `json:"low_stock"`
}

// DetailedStats возвращает статистику склада по типам и в сумме.
func (s *Service) DetailedStats(ctx context.Context) (*Stats, error) {
	summary, err := s.repo.StockSummary(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByType: make(map[string]repository.StockTypeSummary, len(summary))}
	for _, t := range summary {
		stats.ByType[t.CodeType] = t
		stats.Totals.Total += t.Total
		stats.Totals.Available += t.Available
		stats.Totals.Reserved += t.Reserved
		stats.Totals.Consumed += t.Consumed
	}

	if stats.Totals.Total > 0 {
		stats.Totals.UtilizationRate = float64(stats.Totals.Consumed) / float64(stats.Totals.Total) * 100
	}
	stats.LowStock = stats.Totals.Available < s.threshold

	return stats, nil
}

func (s *Service) checkStockAlert(ctx context.Context, codeType string) {
	available, err := s.repo.CountAvailable(ctx, codeType)
	if err != nil {
		s.logger.Error("stock alert check failed", zap.Error(err))
		return
	}
	if available < s.threshold {
		s.notifier.LowStock(codeType, available, s.threshold)
	}
}

// maskSensitive прячет середину кода в журналах и сообщениях об ошибках.
func maskSensitive(code string) string {
	const show = 4
	if len(code) <= show*2 {
		return code
	}
	return code[:show] + "****" + code[len(code)-show:]
}
