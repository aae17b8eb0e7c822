// Package model содержит доменные сущности магазина кодов.
package model

import "time"

// WIB — часовой пояс магазина (Индонезия, UTC+7). Номера заказов и
// идентификаторы пополнений формируются по этому времени.
var WIB = time.FixedZone("WIB", 7*60*60)

// Account представляет счёт пользователя. Баланс хранится в наименьших
// единицах валюты (рупиях) и никогда не опускается ниже нуля.
type Account struct {
	UserID    int64
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockState описывает состояние единицы товара на складе.
type StockState string

const (
	StockStateAvailable StockState = "available"
	StockStateReserved  StockState = "reserved"
	StockStateConsumed  StockState = "consumed"
)

// StockItem представляет один код на складе. Поле Code содержит либо
// открытый текст, либо зашифрованное значение (см. IsEncrypted).
type StockItem struct {
	ID               int64
	Code             string
	CodeType         string
	IsEncrypted      bool
	State            StockState
	ReservedForOrder *int64
	AddedBy          int64
	AddedAt          time.Time
	ConsumedAt       *time.Time
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Подстатусы доставки заказа.
const (
	DeliveryStatusPendingManual = "pending_manual_delivery"
	DeliveryStatusFailed        = "delivery_failed"
	DeliveryStatusDelivered     = "delivered"
)

// Order описывает заказ пользователя на пакет кодов.
type Order struct {
	ID             int64
	OrderNumber    string
	UserID         int64
	PackageType    string
	Quantity       int
	TotalPrice     int64
	PaymentMethod  string
	Status         OrderStatus
	DeliveryStatus string
	CreatedAt      time.Time
}

// TopupStatus описывает статус пополнения баланса через платёжный шлюз.
type TopupStatus string

const (
	TopupStatusPending TopupStatus = "pending"
	TopupStatusSuccess TopupStatus = "success"
	TopupStatusFailed  TopupStatus = "failed"
)

// Topup описывает пополнение баланса. OrderID — внешний идентификатор
// формата TOPUP-<user>-<timestamp>, по которому шлюз присылает уведомления.
type Topup struct {
	OrderID       string
	UserID        int64
	Amount        int64
	PaymentType   string
	TransactionID string
	Status        TopupStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryRecord — запись журнала доставки. Только добавляется, никогда
// не изменяется; используется исключительно для диагностики.
type DeliveryRecord struct {
	ID           int64
	OrderNumber  string
	UserID       int64
	Method       string
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
}

// Package описывает продаваемый пакет кодов.
type Package struct {
	Type     string
	Quantity int
	Price    int64
	Label    string
}
