package invoice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// LndClient talks to an lnd REST endpoint with an invoice macaroon.
// Payment hashes are stored hex encoded; lnd returns them base64 encoded.
type LndClient struct {
	URL        string
	Macaroon   string
	HTTPClient *http.Client
}

func NewLndClient(url, macaroonHex string) *LndClient {
	return &LndClient{
		URL:        strings.TrimRight(url, "/"),
		Macaroon:   macaroonHex,
		HTTPClient: &http.Client{Timeout: providerTimeout},
	}
}

func (c *LndClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*ProviderInvoice, error) {
	body, err := json.Marshal(map[string]any{
		"value": strconv.FormatInt(amountSats, 10),
		"memo":  memo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lnd request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/v1/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create lnd request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Grpc-Metadata-macaroon", c.Macaroon)

	var out struct {
		RHash          string `json:"r_hash"`
		PaymentRequest string `json:"payment_request"`
	}
	if err := doJSON(c.HTTPClient, req, &out); err != nil {
		return nil, fmt.Errorf("lnd create invoice: %w", err)
	}
	hash, err := base64.StdEncoding.DecodeString(out.RHash)
	if err != nil {
		return nil, fmt.Errorf("lnd create invoice: bad r_hash: %w", err)
	}
	if len(hash) == 0 || out.PaymentRequest == "" {
		return nil, fmt.Errorf("lnd create invoice: incomplete response")
	}
	return &ProviderInvoice{
		PaymentHash:    hex.EncodeToString(hash),
		PaymentRequest: out.PaymentRequest,
	}, nil
}

func (c *LndClient) IsPaid(ctx context.Context, paymentHash string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/v1/invoice/"+paymentHash, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create lnd request: %w", err)
	}
	req.Header.Set("Grpc-Metadata-macaroon", c.Macaroon)

	var out struct {
		State string `json:"state"`
	}
	if err := doJSON(c.HTTPClient, req, &out); err != nil {
		return false, fmt.Errorf("lnd check invoice: %w", err)
	}
	return out.State == "SETTLED", nil
}
