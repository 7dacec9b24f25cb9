// Package stripe is a thin server-side client for the provider's REST
// surface: checkout sessions, customers and refunds. Only the handful of
// fields this service reads are decoded.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/venuehub/marketplace/internal/apperr"
	"github.com/venuehub/marketplace/internal/retry"
)

const (
	defaultBaseURL = "https://api.stripe.com"
	requestTimeout = 10 * time.Second
	maxAttempts    = 3
	retryBase      = 200 * time.Millisecond
)

// Client talks to the provider API with the secret key.
type Client struct {
	baseURL string
	secret  string
	hc      *http.Client
	log     *zap.SugaredLogger
}

// NewClient builds a client; baseURL is overridable for tests and mock
// gateways.
func NewClient(baseURL, secret string, log *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		hc:      &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

// CheckoutSession mirrors the provider's session object.
type CheckoutSession struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	Status            string `json:"status"`
	PaymentIntent     string `json:"payment_intent"`
	AmountTotal       int64  `json:"amount_total"`
	Currency          string `json:"currency"`
	ClientReferenceID string `json:"client_reference_id"`
}

// Customer mirrors the provider's customer object.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Refund mirrors the provider's refund object.
type Refund struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
}

// SessionParams describes a hosted checkout to create.
type SessionParams struct {
	AmountCents       int64
	Currency          string
	ProductName       string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	CustomerID        string
	IdempotencyKey    string
}

// CreateCheckoutSession opens a hosted payment page for the amount.
func (c *Client) CreateCheckoutSession(ctx context.Context, p SessionParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("client_reference_id", p.ClientReferenceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", p.Currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", p.ProductName)
	if p.CustomerID != "" {
		form.Set("customer", p.CustomerID)
	}
	var out CheckoutSession
	if err := c.post(ctx, "/v1/checkout/sessions", form, p.IdempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCheckoutSession fetches a session by id.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	var out CheckoutSession
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(id), nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCustomer registers a customer so future checkouts are linked.
func (c *Client) CreateCustomer(ctx context.Context, email string) (*Customer, error) {
	form := url.Values{}
	form.Set("email", email)
	var out Customer
	if err := c.post(ctx, "/v1/customers", form, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRefund refunds part or all of a payment intent. amountCents of
// zero refunds everything.
func (c *Client) CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64, idemKey string) (*Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", paymentIntentID)
	if amountCents > 0 {
		form.Set("amount", strconv.FormatInt(amountCents, 10))
	}
	var out Refund
	if err := c.post(ctx, "/v1/refunds", form, idemKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post retries transient failures; safe because every mutating call
// carries an idempotency key or is idempotent server-side.
func (c *Client) post(ctx context.Context, path string, form url.Values, idemKey string, out any) error {
	return retry.Do(ctx, maxAttempts, retryBase, func() error {
		return c.do(ctx, http.MethodPost, path, form, idemKey, out)
	})
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, idemKey string, out any) error {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "build provider request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "payment provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var ae apiError
		if err := json.NewDecoder(resp.Body).Decode(&ae); err != nil || ae.Error.Type == "" {
			if resp.StatusCode >= 500 {
				return apperr.New(apperr.Unavailable, fmt.Sprintf("provider returned %d", resp.StatusCode))
			}
			return apperr.New(apperr.Internal, fmt.Sprintf("provider returned %d", resp.StatusCode))
		}
		perr := apperr.ClassifyPayment(ae.Error.Type, ae.Error.Code, ae.Error.Message)
		c.log.Warnw("provider error", "path", path, "type", ae.Error.Type, "code", ae.Error.Code)
		return perr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.Internal, "decode provider response", err)
	}
	return nil
}
