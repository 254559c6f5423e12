package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"crowdlink/internal/apperror"
)

// PaymentService is the JSON-over-HTTPS client for the card payment
// processor. When the processor is not configured it runs in offline
// mode, synthesizing successful results so development and tests don't
// need credentials.
type PaymentService struct {
	BaseURL   string
	SecretKey string
	Client    *http.Client
	Enabled   bool
}

var paymentService *PaymentService

// GetPaymentService returns the singleton processor client.
func GetPaymentService() *PaymentService {
	if paymentService == nil {
		baseURL := os.Getenv("PAYMENT_API_URL")
		secret := os.Getenv("PAYMENT_SECRET_KEY")
		enabled := baseURL != "" && secret != ""
		if !enabled {
			logrus.Warn("PaymentService offline: missing PAYMENT_API_URL or PAYMENT_SECRET_KEY")
		}
		paymentService = &PaymentService{
			BaseURL:   baseURL,
			SecretKey: secret,
			Client:    &http.Client{Timeout: 10 * time.Second},
			Enabled:   enabled,
		}
	}
	return paymentService
}

// ChargeResult mirrors the processor's charge object.
type ChargeResult struct {
	ID       string `json:"id"`
	Paid     bool   `json:"paid"`
	Livemode bool   `json:"livemode"`
	Created  int64  `json:"created"`
	Card     struct {
		LastFour string `json:"last4"`
	} `json:"card"`
}

// RecipientResult mirrors the processor's bank-account recipient object.
type RecipientResult struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Livemode      bool   `json:"livemode"`
	Created       int64  `json:"created"`
	ActiveAccount struct {
		LastFour string `json:"last4"`
		Verified bool   `json:"verified"`
	} `json:"active_account"`
}

// TransferResult mirrors the processor's payout object.
type TransferResult struct {
	ID       string `json:"id"`
	Livemode bool   `json:"livemode"`
	Created  int64  `json:"created"`
}

// Charge charges a tokenized card for the given amount of cents.
func (s *PaymentService) Charge(cardToken string, amount int64, meta map[string]interface{}) (*ChargeResult, error) {
	if !s.Enabled {
		res := &ChargeResult{ID: "ch_" + uuid.NewString(), Paid: true, Created: time.Now().Unix()}
		res.Card.LastFour = "0000"
		return res, nil
	}
	var res ChargeResult
	err := s.post("/charges", map[string]interface{}{
		"amount":   amount,
		"currency": "usd",
		"card":     cardToken,
		"metadata": meta,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateRecipient registers a verified bank account for payouts.
func (s *PaymentService) CreateRecipient(accountToken, name, accountType, taxID string, meta map[string]interface{}) (*RecipientResult, error) {
	if !s.Enabled {
		res := &RecipientResult{ID: "rp_" + uuid.NewString(), Name: name, Created: time.Now().Unix()}
		res.ActiveAccount.LastFour = "0000"
		res.ActiveAccount.Verified = true
		return res, nil
	}
	payload := map[string]interface{}{
		"bank_account": accountToken,
		"name":         name,
		"type":         accountType,
		"metadata":     meta,
	}
	// the processor rejects an empty tax id outright
	if taxID != "" {
		payload["tax_id"] = taxID
	}
	var res RecipientResult
	if err := s.post("/recipients", payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Transfer pays out the given amount of cents to a registered recipient.
func (s *PaymentService) Transfer(recipientID string, amount int64, meta map[string]interface{}) (*TransferResult, error) {
	if !s.Enabled {
		return &TransferResult{ID: "tr_" + uuid.NewString(), Created: time.Now().Unix()}, nil
	}
	var res TransferResult
	err := s.post("/transfers", map[string]interface{}{
		"bank_account": recipientID,
		"amount":       amount,
		"metadata":     meta,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *PaymentService) post(path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, s.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.SecretKey)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := s.Client.Do(req)
	if err != nil {
		return apperror.Comm("payment_connect",
			"Could not reach the payment processor, please try again later", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusForbidden {
		return apperror.Comm("payment_declined",
			"The payment processor declined the request",
			fmt.Errorf("processor returned %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperror.Comm("payment_error",
			"The payment processor returned an unexpected error",
			fmt.Errorf("processor returned %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.Comm("payment_error",
			"The payment processor returned an unreadable response", err)
	}
	return nil
}
