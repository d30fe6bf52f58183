package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderInvoice is what a lightning backend hands back on creation.
type ProviderInvoice struct {
	PaymentHash    string
	PaymentRequest string
}

// Provider is a lightning invoice backend.
type Provider interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (*ProviderInvoice, error)
	IsPaid(ctx context.Context, paymentHash string) (bool, error)
}

const providerTimeout = 30 * time.Second

// LnbitsClient talks to an lnbits instance with an invoice-scoped API key.
type LnbitsClient struct {
	URL        string
	InvoiceKey string
	HTTPClient *http.Client
}

func NewLnbitsClient(url, invoiceKey string) *LnbitsClient {
	return &LnbitsClient{
		URL:        strings.TrimRight(url, "/"),
		InvoiceKey: invoiceKey,
		HTTPClient: &http.Client{Timeout: providerTimeout},
	}
}

func (c *LnbitsClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*ProviderInvoice, error) {
	body, err := json.Marshal(map[string]any{
		"out":    false,
		"amount": amountSats,
		"memo":   memo,
		"unit":   "sat",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lnbits request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/api/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create lnbits request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.InvoiceKey)

	var out struct {
		PaymentHash    string `json:"payment_hash"`
		PaymentRequest string `json:"payment_request"`
	}
	if err := doJSON(c.HTTPClient, req, &out); err != nil {
		return nil, fmt.Errorf("lnbits create invoice: %w", err)
	}
	if out.PaymentHash == "" || out.PaymentRequest == "" {
		return nil, fmt.Errorf("lnbits create invoice: incomplete response")
	}
	return &ProviderInvoice{PaymentHash: out.PaymentHash, PaymentRequest: out.PaymentRequest}, nil
}

func (c *LnbitsClient) IsPaid(ctx context.Context, paymentHash string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/api/v1/payments/"+paymentHash, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create lnbits request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.InvoiceKey)

	var out struct {
		Paid bool `json:"paid"`
	}
	if err := doJSON(c.HTTPClient, req, &out); err != nil {
		return false, fmt.Errorf("lnbits check invoice: %w", err)
	}
	return out.Paid, nil
}

// doJSON runs the request and decodes a 2xx JSON body into out.
func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s (status %d)", strings.TrimSpace(string(body)), resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
