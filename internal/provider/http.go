package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"OrderSettlement/internal/errs"
)

// StatusError is a non-2xx reply from the provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("provider http status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("provider http status %d", e.Code)
}

func (e *StatusError) Unwrap() error { return errs.ErrProvider }

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// IsTemporary classifies an adapter error for retry decisions. Transport
// errors count as temporary.
func IsTemporary(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return err != nil
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) BaseURL() string { return c.baseURL }

func (c *HTTPClient) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	body := map[string]any{
		"reference":   req.Reference,
		"amount":      req.Amount,
		"reason":      req.Reason,
		"method":      req.Method,
		"payer_name":  req.Payer.Name,
		"payer_email": req.Payer.Email,
		"payer_phone": req.Payer.Phone,
	}
	var resp struct {
		PaymentID string `json:"payment_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/payments", req.Reference, body, &resp); err != nil {
		return "", err
	}
	if resp.PaymentID == "" {
		return "", fmt.Errorf("%w: initiate returned no payment id", errs.ErrProvider)
	}
	return resp.PaymentID, nil
}

func (c *HTTPClient) QueryStatus(ctx context.Context, providerPaymentID string) (Status, error) {
	var resp statusPayload
	endpoint := c.baseURL + "/payments/" + url.PathEscape(providerPaymentID)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, "", nil, &resp); err != nil {
		return Status{}, err
	}
	if resp.PaymentID == "" {
		resp.PaymentID = providerPaymentID
	}
	st, err := resp.parse()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", errs.ErrProvider, err)
	}
	return st, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", errs.ErrProvider, err)
	}
	return nil
}
