// Package mpesa implements ports.MobileMoneyGateway against the Safaricom
// Daraja API.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/config"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout = 30 * time.Second

	// Tokens are refreshed this long before the gateway expires them.
	tokenSafetyMargin = 60 * time.Second

	// Returned by the API when a bearer token is unknown or expired.
	codeInvalidToken = "404.001.03"

	maxReferenceLen   = 12
	maxDescriptionLen = 13
)

type Client struct {
	cfg        config.MpesaConfig
	baseURL    string
	httpClient *http.Client
	cache      ports.Cache
	tokens     singleflight.Group
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(cfg config.MpesaConfig, cache ports.Cache, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:     cfg,
		baseURL: cfg.APIBaseURL(),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

func (c *Client) tokenKey() string {
	return "mpesa:token:" + c.cfg.ShortCode
}

// AccessToken returns a cached bearer token, fetching a new one when the cached
// token is missing or inside the safety margin. Concurrent misses share one fetch.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	token, ok, err := c.cache.Get(ctx, c.tokenKey())
	if err != nil {
		c.logger.Warn("token cache read failed", "error", err)
	}
	if ok && token != "" {
		return token, nil
	}

	v, err, _ := c.tokens.Do(c.tokenKey(), func() (any, error) {
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.GatewayRequestDuration.WithLabelValues("token", outcome).Observe(time.Since(start).Seconds())
	}()

	url := c.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		outcome = "transport"
		return "", requestError("token request", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "transport"
		return "", domain.NewTransportError("token request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "transport"
		return "", domain.NewTransportError("token request", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := decodeAPIError(resp.StatusCode, body)
		if apiErr.IsRetryable() {
			outcome = "transport"
			return "", domain.NewTransportError("token request", apiErr)
		}
		outcome = "auth"
		return "", domain.NewAuthenticationError("M-Pesa rejected the consumer credentials", apiErr)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		outcome = "transport"
		return "", domain.NewTransportError("token request", fmt.Errorf("decode token response: %w", err))
	}
	if tr.AccessToken == "" {
		outcome = "auth"
		return "", domain.NewAuthenticationError("M-Pesa returned an empty access token", nil)
	}

	expiresIn, err := tr.ExpiresIn.Int64()
	if err != nil || expiresIn <= 0 {
		expiresIn = 3599
	}
	if ttl := time.Duration(expiresIn)*time.Second - tokenSafetyMargin; ttl > 0 {
		if err := c.cache.Set(ctx, c.tokenKey(), tr.AccessToken, ttl); err != nil {
			c.logger.Warn("token cache write failed", "error", err)
		}
	}

	c.logger.Debug("fetched M-Pesa access token", "expires_in", expiresIn)
	return tr.AccessToken, nil
}

// InitiateSTKPush sends a payment prompt to the customer's phone.
func (c *Client) InitiateSTKPush(ctx context.Context, req domain.STKPushRequest) (*domain.STKPushResponse, error) {
	phone, err := domain.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	amount := req.Amount.IntPart()
	if amount < 1 {
		return nil, domain.NewValidationError("STK push amount must be at least 1, got %s", req.Amount.String())
	}
	if req.CallbackURL == "" {
		return nil, domain.NewValidationError("callback URL is required")
	}

	description := req.Description
	if description == "" {
		description = "Payment"
	}

	timestamp := c.timestamp()
	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   c.cfg.TransactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.partyB(),
		PhoneNumber:       phone,
		CallBackURL:       req.CallbackURL,
		AccountReference:  truncate(req.Reference, maxReferenceLen),
		TransactionDesc:   truncate(description, maxDescriptionLen),
	}

	resp, raw, err := sendRequest[stkPushRequest, stkPushResponse](c, ctx, "stk push", "/mpesa/stkpush/v1/processrequest", &body)
	if err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, domain.NewGatewayRejectionError(resp.ResponseCode, resp.ResponseDescription)
	}
	if resp.CheckoutRequestID == "" {
		return nil, domain.NewTransportError("stk push", fmt.Errorf("accepted response without CheckoutRequestID"))
	}

	return &domain.STKPushResponse{
		MerchantRequestID:   resp.MerchantRequestID,
		CheckoutRequestID:   resp.CheckoutRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
		Raw:                 raw,
	}, nil
}

// QueryStatus polls the outcome of an STK push. A prompt the customer has not
// answered yet is reported as Pending rather than as an error.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*domain.STKQueryResponse, error) {
	if checkoutRequestID == "" {
		return nil, domain.NewValidationError("checkout request id is required")
	}

	timestamp := c.timestamp()
	body := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	resp, raw, err := sendRequest[stkQueryRequest, stkQueryResponse](c, ctx, "stk query", "/mpesa/stkpushquery/v1/query", &body)
	if err != nil {
		if apiErr, ok := IsAPIError(err); ok && apiErr.Code == codeStillProcessing {
			return &domain.STKQueryResponse{
				CheckoutRequestID: checkoutRequestID,
				Pending:           true,
				ResultDesc:        apiErr.Message,
			}, nil
		}
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, domain.NewGatewayRejectionError(resp.ResponseCode, resp.ResponseDescription)
	}

	out := &domain.STKQueryResponse{
		CheckoutRequestID: checkoutRequestID,
		ResultDesc:        resp.ResultDesc,
		Raw:               raw,
	}
	if resp.ResultCode == "" {
		out.Pending = true
		return out, nil
	}
	code, err := resp.ResultCode.Int64()
	if err != nil {
		return nil, domain.NewTransportError("stk query", fmt.Errorf("non-integer ResultCode %q", resp.ResultCode))
	}
	out.ResultCode = int(code)
	return out, nil
}

// RegisterCallbackURLs configures the C2B validation and confirmation endpoints
// for the shortcode.
func (c *Client) RegisterCallbackURLs(ctx context.Context, validationURL, confirmationURL string) (*domain.RegisterURLResponse, error) {
	if validationURL == "" || confirmationURL == "" {
		return nil, domain.NewValidationError("validation and confirmation URLs are required")
	}

	body := registerURLRequest{
		ShortCode:       c.cfg.ShortCode,
		ResponseType:    "Completed",
		ConfirmationURL: confirmationURL,
		ValidationURL:   validationURL,
	}

	resp, _, err := sendRequest[registerURLRequest, registerURLResponse](c, ctx, "register urls", "/mpesa/c2b/v1/registerurl", &body)
	if err != nil {
		return nil, err
	}
	if resp.ResponseCode != "" && resp.ResponseCode != "0" {
		return nil, domain.NewGatewayRejectionError(resp.ResponseCode, resp.ResponseDescription)
	}

	conversationID := resp.OriginatorConversationID
	if conversationID == "" {
		conversationID = resp.OriginatorCoversationID
	}
	return &domain.RegisterURLResponse{
		OriginatorConversationID: conversationID,
		ResponseCode:             resp.ResponseCode,
		ResponseDescription:      resp.ResponseDescription,
	}, nil
}

// sendRequest posts an authenticated JSON body and decodes a 200 response.
// Non-200 responses become domain errors wrapping an *APIError.
func sendRequest[Req any, Resp any](c *Client, ctx context.Context, op, path string, reqBody *Req) (*Resp, json.RawMessage, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshalling json: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, nil, requestError(op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.GatewayRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		outcome = "transport"
		return nil, nil, domain.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "transport"
		return nil, nil, domain.NewTransportError(op, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := decodeAPIError(resp.StatusCode, body)
		switch {
		case resp.StatusCode == http.StatusUnauthorized || apiErr.Code == codeInvalidToken:
			outcome = "auth"
			if err := c.cache.Delete(ctx, c.tokenKey()); err != nil {
				c.logger.Warn("token cache eviction failed", "error", err)
			}
			return nil, nil, domain.NewAuthenticationError("M-Pesa rejected the access token", apiErr)
		case apiErr.IsRetryable():
			outcome = "transport"
			return nil, nil, domain.NewTransportError(op, apiErr)
		default:
			outcome = "rejected"
			return nil, nil, &domain.DomainError{
				Code:    domain.ErrCodeGatewayRejection,
				Message: "gateway rejected request",
				Err:     apiErr,
			}
		}
	}

	var out Resp
	if err := json.Unmarshal(body, &out); err != nil {
		outcome = "transport"
		return nil, nil, domain.NewTransportError(op, fmt.Errorf("error decoding json response: %w", err))
	}
	return &out, json.RawMessage(body), nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && (er.ErrorCode != "" || er.ErrorMessage != "") {
		apiErr.Code = er.ErrorCode
		apiErr.Message = er.ErrorMessage
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// timestamp is the request time in the gateway's compact local format.
func (c *Client) timestamp() string {
	return c.now().In(domain.EastAfricaTime).Format(domain.CompactTimestampLayout)
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))
}

// partyB is the till number for buy-goods shortcodes and the shortcode itself
// for paybills.
func (c *Client) partyB() string {
	if c.cfg.PartyB != "" {
		return c.cfg.PartyB
	}
	return c.cfg.ShortCode
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// requestError reports a request that could not be built.
func requestError(op string, err error) error {
	return fmt.Errorf("build %s request: %w", op, err)
}
