package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPDeliverer отправляет коды сайдкару доставки (Discord-боту) по HTTP.
// Ядро ничего не знает про чат: для него это просто функция доставки.
type HTTPDeliverer struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPDeliverer создаёт доставщика, POST-ящего заказы на указанный URL.
func NewHTTPDeliverer(url string) *HTTPDeliverer {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil

	return &HTTPDeliverer{url: url, client: client}
}

type deliverRequest struct {
	UserID      int64    `json:"user_id"`
	OrderNumber string   `json:"order_number"`
	Codes       []string `json:"codes"`
}

type deliverResponse struct {
	Success bool   `json:"success"`
	Method  string `json:"method"`
	Error   string `json:"error,omitempty"`
}

// Deliver реализует delivery.Func.
func (d *HTTPDeliverer) Deliver(ctx context.Context, userID int64, orderNumber string, codes []string) (Result, error) {
	body, err := json.Marshal(deliverRequest{
		UserID:      userID,
		OrderNumber: orderNumber,
		Codes:       codes,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal delivery request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("do delivery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("delivery endpoint returned status %d", resp.StatusCode)
	}

	var dr deliverResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return Result{}, fmt.Errorf("decode delivery response: %w", err)
	}

	res := Result{Success: dr.Success, Method: dr.Method}
	if res.Method == "" {
		res.Method = "webhook"
	}
	if !dr.Success && dr.Error != "" {
		return res, fmt.Errorf("delivery rejected: %s", dr.Error)
	}

	return res, nil
}
