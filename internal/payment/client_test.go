package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

func newTestClient(baseURL string) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil

	return &Client{
		baseURL:    baseURL,
		serverKey:  testServerKey,
		httpClient: client,
	}
}

func TestCreateQRISPayment_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/charge" {
			t.Fatalf("path = %s, want /v2/charge", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Basic ") {
			t.Fatalf("authorization header = %q", auth)
		}

		var req chargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.PaymentType != "qris" || req.TransactionDetails.GrossAmount != 50000 {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status_code":    "201",
			"transaction_id": "tx-123",
			"order_id":       req.TransactionDetails.OrderID,
			"actions": []map[string]string{
				{"name": "generate-qr-code", "url": "https://api.example/qr/tx-123"},
			},
		})
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	charge, err := c.CreateQRISPayment(ctx, 42, 50000)
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	if !strings.HasPrefix(charge.OrderID, "TOPUP-42-") {
		t.Fatalf("order id = %q", charge.OrderID)
	}
	if charge.TransactionID != "tx-123" || charge.QRURL != "https://api.example/qr/tx-123" {
		t.Fatalf("charge = %+v", charge)
	}
}

func TestCreateQRISPayment_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status_code":    "401",
			"status_message": "unauthorized",
		})
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)

	if _, err := c.CreateQRISPayment(context.Background(), 42, 50000); err == nil {
		t.Fatalf("expected error for rejected charge")
	}
}
