package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	sandboxBaseURL    = "https://api.sandbox.midtrans.com"
	productionBaseURL = "https://api.midtrans.com"
)

// Client инкапсулирует HTTP-взаимодействие с Charge API Midtrans.
type Client struct {
	baseURL    string
	serverKey  string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент Midtrans. При production=false используется песочница.
func NewClient(serverKey string, production bool) *Client {
	base := sandboxBaseURL
	if production {
		base = productionBaseURL
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = nil

	return &Client{
		baseURL:    base,
		serverKey:  serverKey,
		httpClient: client,
	}
}

// Charge — созданный в шлюзе платёж: внешний идентификатор и ссылка на QR-код.
type Charge struct {
	OrderID       string
	TransactionID string
	QRURL         string
}

type chargeRequest struct {
	PaymentType        string             `json:"payment_type"`
	TransactionDetails transactionDetails `json:"transaction_details"`
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type chargeResponse struct {
	StatusCode    string `json:"status_code"`
	StatusMessage string `json:"status_message"`
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Actions       []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"actions"`
}

// CreateQRISPayment создаёт QRIS-платёж на пополнение баланса и возвращает
// его реквизиты. Идентификатор заказа формируется здесь же — по нему вебхук
// позже сопоставит уведомление с пользователем.
func (c *Client) CreateQRISPayment(ctx context.Context, userID, amount int64) (*Charge, error) {
	orderID := NewTopupOrderID(userID)

	body, err := json.Marshal(chargeRequest{
		PaymentType: "qris",
		TransactionDetails: transactionDetails{
			OrderID:     orderID,
			GrossAmount: amount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal charge request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/charge", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	// Midtrans использует basic auth с server key в качестве имени пользователя.
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.serverKey+":")))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do charge request: %w", err)
	}
	defer resp.Body.Close()

	var cr chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}

	// Charge API кладёт код результата в тело, HTTP-статус почти всегда 200.
	if cr.StatusCode != "200" && cr.StatusCode != "201" {
		return nil, fmt.Errorf("charge rejected: %s %s", cr.StatusCode, cr.StatusMessage)
	}

	charge := &Charge{
		OrderID:       orderID,
		TransactionID: cr.TransactionID,
	}
	for _, a := range cr.Actions {
		if a.Name == "generate-qr-code" {
			charge.QRURL = a.URL
			break
		}
	}

	return charge, nil
}
