package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	routeSessions  = "/v1/sessions"
	routeCharges   = "/v1/charges"
	routeHostedPay = "/v1/hosted/pay"

	headerMerchantID     = "X-Merchant-Id"
	headerSignature      = "X-Signature"
	headerIdempotencyKey = "Idempotency-Key"

	maxResponseBytes = 1 << 20
)

type Config struct {
	BaseURL       string
	MerchantID    string
	SharedSecret  string
	CallbackURL   string
	ReturnURL     string
	Timeout       time.Duration
	ChargeTimeout time.Duration

	// MaxTries bounds retries of calls that are safe to repeat.
	MaxTries             uint
	RetryInitialInterval time.Duration
	BreakerFailures      uint32
	BreakerOpenTimeout   time.Duration
}

func ConfigFrom(cfg config.GatewayConfig) Config {
	return Config{
		BaseURL:       cfg.BaseURL,
		MerchantID:    cfg.MerchantID,
		SharedSecret:  cfg.SharedSecret,
		CallbackURL:   cfg.CallbackURL,
		ReturnURL:     cfg.ReturnURL,
		Timeout:       cfg.Timeout,
		ChargeTimeout: cfg.ChargeTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 12 * time.Second
	}
	if c.ChargeTimeout <= 0 {
		c.ChargeTimeout = 20 * time.Second
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 200 * time.Millisecond
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = 30 * time.Second
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.MerchantID = strings.TrimSpace(c.MerchantID)
	return c
}

// Client talks to the hosted payment gateway. Every request is signed with
// the merchant secret and passes through a circuit breaker.
type Client struct {
	cfg     Config
	signer  *Signer
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" || cfg.MerchantID == "" {
		return nil, ErrInvalidConfig
	}
	signer, err := NewSigner(cfg.SharedSecret)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("gateway.client")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("gateway.breaker.state_changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		cfg:     cfg,
		signer:  signer,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		log:     log,
	}, nil
}

func (c *Client) Signer() *Signer { return c.signer }

type sessionPayload struct {
	MerchantID    string `json:"merchant_id"`
	CorrelationID string `json:"correlation_id"`
	Attempt       int    `json:"attempt"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CallbackURL   string `json:"callback_url,omitempty"`
	ReturnURL     string `json:"return_url,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	Description   string `json:"description,omitempty"`
	StoreToken    bool   `json:"store_token"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	HostedURL string `json:"hosted_url"`
}

type chargePayload struct {
	MerchantID  string `json:"merchant_id"`
	Reference   string `json:"reference"`
	Token       string `json:"token"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

type chargeResponse struct {
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	ResponseCode  string `json:"response_code"`
	Message       string `json:"message"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateSession opens a hosted payment session. The idempotency key is
// derived from correlation id and attempt, so retries reuse the same session.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if strings.TrimSpace(req.CorrelationID) == "" || req.Attempt <= 0 || req.Amount <= 0 {
		return Session{}, ErrInvalidRequest
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	body, err := Canonical(sessionPayload{
		MerchantID:    c.cfg.MerchantID,
		CorrelationID: req.CorrelationID,
		Attempt:       req.Attempt,
		Amount:        req.Amount,
		Currency:      currency,
		CallbackURL:   c.cfg.CallbackURL,
		ReturnURL:     c.cfg.ReturnURL,
		CustomerEmail: req.CustomerEmail,
		Description:   req.Description,
		StoreToken:    true,
	})
	if err != nil {
		return Session{}, err
	}

	idempotencyKey := fmt.Sprintf("session:%s:%d", req.CorrelationID, req.Attempt)
	resp, err := c.sendWithRetry(ctx, http.MethodPost, routeSessions, body, idempotencyKey)
	if err != nil {
		return Session{}, err
	}
	if resp.status >= http.StatusBadRequest {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidRequest, errorMessage(resp.body))
	}

	var out sessionResponse
	if err := json.Unmarshal(resp.body, &out); err != nil || strings.TrimSpace(out.SessionID) == "" {
		return Session{}, ErrUnexpectedResponse
	}

	fields := map[string]string{
		"amount":         strconv.FormatInt(req.Amount, 10),
		"correlation_id": req.CorrelationID,
		"currency":       currency,
		"merchant_id":    c.cfg.MerchantID,
		"session_id":     out.SessionID,
	}
	canonicalFields, err := Canonical(fields)
	if err != nil {
		return Session{}, err
	}

	return Session{
		ID:        out.SessionID,
		HostedURL: out.HostedURL,
		SignedRequest: SignedRequest{
			Action:    out.HostedURL,
			Fields:    fields,
			Signature: c.signer.Sign(routeHostedPay, canonicalFields),
		},
	}, nil
}

// ChargeToken charges a stored token once. The reference doubles as the
// idempotency key. A timeout or a failure after the request may have been
// written returns ErrOutcomeUnknown; declines are results, not errors.
func (c *Client) ChargeToken(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if strings.TrimSpace(req.Reference) == "" || strings.TrimSpace(req.Token) == "" || req.Amount <= 0 {
		return ChargeResult{}, ErrInvalidRequest
	}
	body, err := Canonical(chargePayload{
		MerchantID:  c.cfg.MerchantID,
		Reference:   req.Reference,
		Token:       req.Token,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		Description: req.Description,
	})
	if err != nil {
		return ChargeResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ChargeTimeout)
	defer cancel()

	resp, err := c.send(ctx, http.MethodPost, routeCharges, body, req.Reference)
	if err != nil {
		if errors.Is(err, ErrGatewayUnavailable) {
			return ChargeResult{}, err
		}
		c.log.Warn("gateway.charge.outcome_unknown", zap.String("reference", req.Reference), zap.Error(err))
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}

	switch {
	case resp.status == http.StatusPaymentRequired || resp.status < http.StatusBadRequest:
		return decodeCharge(resp.body)
	default:
		return ChargeResult{}, fmt.Errorf("%w: %s", ErrInvalidRequest, errorMessage(resp.body))
	}
}

// QueryCharge looks up a prior charge by reference.
func (c *Client) QueryCharge(ctx context.Context, reference string) (ChargeResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return ChargeResult{}, ErrInvalidRequest
	}
	route := routeCharges + "?reference=" + url.QueryEscape(reference)

	resp, err := c.sendWithRetry(ctx, http.MethodGet, route, nil, "")
	if err != nil {
		return ChargeResult{}, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return ChargeResult{}, ErrTransactionNotFound
	case resp.status == http.StatusPaymentRequired || resp.status < http.StatusBadRequest:
		return decodeCharge(resp.body)
	default:
		return ChargeResult{}, fmt.Errorf("%w: %s", ErrInvalidRequest, errorMessage(resp.body))
	}
}

type response struct {
	status int
	body   []byte
}

type serverStatusError struct {
	status int
}

func (e serverStatusError) Error() string {
	return "gateway responded " + strconv.Itoa(e.status)
}

func (c *Client) sendWithRetry(ctx context.Context, method, route string, body []byte, idempotencyKey string) (response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInitialInterval

	return backoff.Retry(ctx, func() (response, error) {
		resp, err := c.send(ctx, method, route, body, idempotencyKey)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrGatewayUnavailable) || isTransportError(err) {
			return response{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return response{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.cfg.MaxTries),
	)
}

// send returns ErrGatewayUnavailable when the request certainly was not
// processed (open breaker, refused connection, 5xx). Other transport errors
// are returned raw so callers can decide whether the outcome is unknown.
func (c *Client) send(ctx context.Context, method, route string, body []byte, idempotencyKey string) (response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+route, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set(headerMerchantID, c.cfg.MerchantID)
		req.Header.Set(headerSignature, c.signer.Sign(route, body))
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set(headerIdempotencyKey, idempotencyKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, serverStatusError{status: resp.StatusCode}
		}
		return response{status: resp.StatusCode, body: payload}, nil
	})
	if err != nil {
		var statusErr serverStatusError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return response{}, fmt.Errorf("%w: circuit open", ErrGatewayUnavailable)
		case errors.As(err, &statusErr):
			return response{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, statusErr)
		case isDialError(err):
			return response{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return response{}, err
	}
	return result.(response), nil
}

func decodeCharge(body []byte) (ChargeResult, error) {
	var out chargeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ChargeResult{}, ErrUnexpectedResponse
	}
	status := strings.ToLower(strings.TrimSpace(out.Status))
	if status != "approved" && status != "declined" {
		return ChargeResult{}, ErrUnexpectedResponse
	}
	return ChargeResult{
		TransactionID: strings.TrimSpace(out.TransactionID),
		Reference:     strings.TrimSpace(out.Reference),
		Approved:      status == "approved",
		ResponseCode:  strings.TrimSpace(out.ResponseCode),
		Message:       strings.TrimSpace(out.Message),
		Amount:        out.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(out.Currency)),
	}, nil
}

func errorMessage(body []byte) string {
	var out errorResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "gateway_request_failed"
	}
	if msg := strings.TrimSpace(out.Error.Message); msg != "" {
		return msg
	}
	if code := strings.TrimSpace(out.Error.Code); code != "" {
		return code
	}
	return "gateway_request_failed"
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTransportError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
