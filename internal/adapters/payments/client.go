// Package payments is a Stripe-compatible REST client implementing
// billing.Gateway.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/dkeye/Liveroom/internal/billing"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrNotConfigured = errors.New("payment gateway secret key not configured")

// declineCodes are treated as hard declines; anything else is a gateway failure.
var declineCodes = map[string]bool{
	"card_declined":      true,
	"insufficient_funds": true,
}

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

type Client struct {
	http *resty.Client
	key  string
}

var _ billing.Gateway = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "Liveroom/1.0")
	if cfg.SecretKey != "" {
		http.SetAuthToken(cfg.SecretKey)
	}
	return &Client{http: http, key: cfg.SecretKey}
}

type objectRef struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiError struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

// CreateHold authorizes amount without capturing it.
func (c *Client) CreateHold(ctx context.Context, req billing.PaymentRequest) (string, error) {
	form := paymentForm(req)
	form.Set("capture_method", "manual")
	form.Set("confirmation_method", "manual")
	return c.post(ctx, "/v1/payment_intents", form)
}

// ChargeImmediate creates and confirms a card payment in one call.
func (c *Client) ChargeImmediate(ctx context.Context, req billing.PaymentRequest) (string, error) {
	form := paymentForm(req)
	form.Set("confirm", "true")
	form.Add("payment_method_types[]", "card")
	return c.post(ctx, "/v1/payment_intents", form)
}

func (c *Client) Transfer(ctx context.Context, req billing.TransferRequest) (string, error) {
	form := url.Values{}
	form.Set("amount", cents(req.Amount))
	form.Set("currency", req.Currency)
	form.Set("destination", req.Destination)
	setMetadata(form, req.Metadata)
	return c.post(ctx, "/v1/transfers", form)
}

func (c *Client) Refund(ctx context.Context, req billing.RefundRequest) (string, error) {
	form := url.Values{}
	form.Set("payment_intent", req.PaymentRef)
	form.Set("amount", cents(req.Amount))
	setMetadata(form, req.Metadata)
	return c.post(ctx, "/v1/refunds", form)
}

// Ping checks credentials by reading the account balance.
func (c *Client) Ping(ctx context.Context) error {
	if c.key == "" {
		return ErrNotConfigured
	}
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&apiErr).
		Get("/v1/balance")
	if err != nil {
		return fmt.Errorf("payment gateway unreachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("payment gateway error (status %d): %s", resp.StatusCode(), apiErr.Error.Message)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (string, error) {
	if c.key == "" {
		return "", ErrNotConfigured
	}
	var (
		result objectRef
		apiErr apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetFormDataFromValues(form).
		SetResult(&result).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return "", fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.IsError() {
		e := apiErr.Error
		if declineCodes[e.Code] || declineCodes[e.DeclineCode] {
			code := e.Code
			if declineCodes[e.DeclineCode] {
				code = e.DeclineCode
			}
			return "", &billing.DeclineError{Code: code, Message: e.Message}
		}
		log.Warn().Str("module", "payments").Str("path", path).Int("status", resp.StatusCode()).
			Str("code", e.Code).Msg("gateway error")
		return "", fmt.Errorf("POST %s (status %d): %s", path, resp.StatusCode(), e.Message)
	}
	if result.ID == "" {
		return "", fmt.Errorf("POST %s: response has no id", path)
	}
	return result.ID, nil
}

func paymentForm(req billing.PaymentRequest) url.Values {
	form := url.Values{}
	form.Set("amount", cents(req.Amount))
	form.Set("currency", req.Currency)
	form.Set("customer", req.CustomerRef)
	setMetadata(form, req.Metadata)
	return form
}

func setMetadata(form url.Values, meta map[string]string) {
	for k, v := range meta {
		form.Set("metadata["+k+"]", v)
	}
}

// cents renders a currency amount in minor units.
func cents(amount decimal.Decimal) string {
	return strconv.FormatInt(amount.Shift(2).Round(0).IntPart(), 10)
}
