package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PaymentRail is the boundary to the external payment provider. The
// settlement worker treats it as a possibly-slow, possibly-failing call and
// wraps it in the same idempotency discipline as internal writes.
type PaymentRail interface {
	Capture(ctx context.Context, amount int64, currency, method string) (string, error)
}

// PaystackService talks to the Paystack API. Amounts are integer minor units
// (kobo) end to end.
type PaystackService struct {
	SecretKey string
	BaseURL   string
	client    *http.Client
}

type InitializePaymentResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type VerifyPaymentResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID              int64  `json:"id"`
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"` // kobo
		GatewayResponse string `json:"gateway_response"`
		PaidAt          string `json:"paid_at"`
		Channel         string `json:"channel"`
		Currency        string `json:"currency"`
	} `json:"data"`
}

type InitiateTransferResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Amount       int64  `json:"amount"`
		Currency     string `json:"currency"`
		Reason       string `json:"reason"`
		Status       string `json:"status"`
		TransferCode string `json:"transfer_code"`
		ID           int64  `json:"id"`
	} `json:"data"`
}

func NewPaystackService(secretKey string) *PaystackService {
	return &PaystackService{
		SecretKey: secretKey,
		BaseURL:   "https://api.paystack.co",
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (ps *PaystackService) makeRequest(ctx context.Context, method, endpoint string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, ps.BaseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+ps.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	return ps.client.Do(req)
}

// InitializePayment starts a hosted checkout for a wallet deposit.
func (ps *PaystackService) InitializePayment(ctx context.Context, email string, amount int64, reference, callbackURL string) (*InitializePaymentResponse, error) {
	payload := map[string]interface{}{
		"email":        email,
		"amount":       amount,
		"reference":    reference,
		"callback_url": callbackURL,
		"currency":     "NGN",
	}

	resp, err := ps.makeRequest(ctx, "POST", "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result InitializePaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Status {
		return nil, fmt.Errorf("paystack error: %s", result.Message)
	}
	return &result, nil
}

// VerifyPayment confirms a deposit after the gateway callback.
func (ps *PaystackService) VerifyPayment(ctx context.Context, reference string) (*VerifyPaymentResponse, error) {
	resp, err := ps.makeRequest(ctx, "GET", "/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result VerifyPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Status {
		return nil, fmt.Errorf("paystack error: %s", result.Message)
	}
	return &result, nil
}

// InitiateTransfer pays out from the platform balance.
func (ps *PaystackService) InitiateTransfer(ctx context.Context, recipientCode string, amount int64, reason, reference string) (*InitiateTransferResponse, error) {
	payload := map[string]interface{}{
		"source":    "balance",
		"reason":    reason,
		"amount":    amount,
		"recipient": recipientCode,
		"reference": reference,
	}

	resp, err := ps.makeRequest(ctx, "POST", "/transfer", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result InitiateTransferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Status {
		return nil, fmt.Errorf("paystack error: %s", result.Message)
	}
	return &result, nil
}

// Capture implements PaymentRail for settlement jobs.
func (ps *PaystackService) Capture(ctx context.Context, amount int64, currency, method string) (string, error) {
	payload := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"channel":  method,
	}
	resp, err := ps.makeRequest(ctx, "POST", "/charge", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Status {
		return "", fmt.Errorf("paystack error: %s", result.Message)
	}
	return result.Data.Reference, nil
}

// StubRail is the in-process rail used in development and tests.
type StubRail struct {
	// Err, when set, makes every capture fail. Lets tests simulate a
	// transient rail outage.
	Err error
}

func (r *StubRail) Capture(ctx context.Context, amount int64, currency, method string) (string, error) {
	if r.Err != nil {
		return "", r.Err
	}
	return fmt.Sprintf("stub-%d", time.Now().UnixNano()), nil
}
