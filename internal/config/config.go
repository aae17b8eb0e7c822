// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/codeshop-system/internal/model"
)

// Config содержит параметры конфигурации сервиса магазина кодов.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	MidtransServerKey    string `env:"MIDTRANS_SERVER_KEY"`
	MidtransIsProduction bool   `env:"MIDTRANS_IS_PRODUCTION"`

	EncryptStockCodes bool   `env:"ENCRYPT_STOCK_CODES" envDefault:"true"`
	EncryptionKey     string `env:"ENCRYPTION_KEY"`

	AdminToken  string `env:"ADMIN_TOKEN"`
	DeliveryURL string `env:"DELIVERY_URL"`

	MaxCodesPerOrder      int           `env:"MAX_CODES_PER_ORDER" envDefault:"50"`
	LowStockThreshold     int           `env:"LOW_STOCK_THRESHOLD" envDefault:"10"`
	DeliveryRetryAttempts int           `env:"DELIVERY_RETRY_ATTEMPTS" envDefault:"3"`
	PendingSweepInterval  time.Duration `env:"PENDING_SWEEP_INTERVAL" envDefault:"60s"`

	Price1Code   int64 `env:"PRICE_1_CODE" envDefault:"15000"`
	Price5Codes  int64 `env:"PRICE_5_CODES" envDefault:"70000"`
	Price10Codes int64 `env:"PRICE_10_CODES" envDefault:"130000"`
	Price25Codes int64 `env:"PRICE_25_CODES" envDefault:"300000"`
	Price50Codes int64 `env:"PRICE_50_CODES" envDefault:"550000"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envServerKey := cfg.MidtransServerKey

	flag.StringVar(&cfg.RunAddress, "a", ":8001", "address and port for webhook HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.MidtransServerKey, "k", "", "midtrans server key")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envServerKey != "" {
		cfg.MidtransServerKey = envServerKey
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = ":8001"
	}

	if cfg.MidtransServerKey == "" {
		return nil, fmt.Errorf("midtrans server key is required")
	}
	if cfg.EncryptStockCodes && len(cfg.EncryptionKey) < 16 {
		return nil, fmt.Errorf("encryption key too short (min 16 chars)")
	}

	return cfg, nil
}

// Packages возвращает неизменяемую таблицу продаваемых пакетов.
// Таблица строится один раз из конфигурации и передаётся в компоненты
// при создании, а не читается как глобальное состояние.
func (c *Config) Packages() map[string]model.Package {
	return map[string]model.Package{
		"1_code":   {Type: "1_code", Quantity: 1, Price: c.Price1Code, Label: "1 Code"},
		"5_codes":  {Type: "5_codes", Quantity: 5, Price: c.Price5Codes, Label: "5 Codes"},
		"10_codes": {Type: "10_codes", Quantity: 10, Price: c.Price10Codes, Label: "10 Codes"},
		"25_codes": {Type: "25_codes", Quantity: 25, Price: c.Price25Codes, Label: "25 Codes"},
		"50_codes": {Type: "50_codes", Quantity: 50, Price: c.Price50Codes, Label: "50 Codes"},
	}
}
