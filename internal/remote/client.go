// Package remote talks to the POS API: transaction submission and the
// catalog snapshot pull.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kasirinaja/terminal/internal/domain"
)

const (
	DefaultTimeout = 15 * time.Second

	maxAckBody     = 1 << 20
	maxCatalogBody = 64 << 20
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Device     domain.DeviceContext
	HTTPClient *http.Client
	Now        func() time.Time
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
	device  domain.DeviceContext
	signer  *deviceSigner
}

// Ack is the server's acceptance of a submitted transaction.
type Ack struct {
	ServerID     string
	ServerNumber string
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Client{
		baseURL: base,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		device:  cfg.Device,
	}
	// A terminal without a device identity can still start; its
	// submissions fail and stay retryable until one is configured.
	if signer, err := newDeviceSigner(cfg.Device, cfg.Now); err == nil {
		c.signer = signer
	}
	return c, nil
}

// Device is the identity embedded in every payload.
func (c *Client) Device() domain.DeviceContext {
	return c.device
}

func (c *Client) SubmitSale(ctx context.Context, storeLocationID string, payload SalePayload) (Ack, error) {
	return c.submit(ctx, storeLocationID, "sale", payload)
}

func (c *Client) SubmitBill(ctx context.Context, storeLocationID string, payload BillPayload) (Ack, error) {
	return c.submit(ctx, storeLocationID, "bill", payload)
}

type ackData struct {
	SaleID        flexString `json:"sale_id"`
	ReceiptNumber flexString `json:"receipt_number"`
	BillID        flexString `json:"bill_id"`
	BillNumber    flexString `json:"bill_number"`
}

func (c *Client) submit(ctx context.Context, storeLocationID string, kind string, payload any) (Ack, error) {
	op := "submit " + kind
	if strings.TrimSpace(storeLocationID) == "" {
		return Ack{}, &LogicalError{Message: "store location is required"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("%s: encode payload: %w", op, err)
	}

	status, raw, err := c.do(ctx, op, http.MethodPost, c.endpoint("store-locations", storeLocationID, kind), body, maxAckBody)
	if err != nil {
		return Ack{}, err
	}

	var resp struct {
		Data *ackData `json:"data"`
	}
	if err := decodeBody(op, status, raw, &resp); err != nil {
		return Ack{}, err
	}
	if resp.Data == nil {
		return Ack{}, &LogicalError{Status: status, Message: "response has no data"}
	}

	ack := Ack{ServerID: string(resp.Data.SaleID), ServerNumber: string(resp.Data.ReceiptNumber)}
	if kind == "bill" {
		ack = Ack{ServerID: string(resp.Data.BillID), ServerNumber: string(resp.Data.BillNumber)}
	}
	if ack.ServerID == "" {
		return Ack{}, &LogicalError{Status: status, Message: "response is missing " + kind + "_id"}
	}
	return ack, nil
}

// FetchCatalog pulls the full mirror snapshot for one store location.
func (c *Client) FetchCatalog(ctx context.Context, businessLocationID string, storeLocationID string) (domain.CatalogSnapshot, error) {
	const op = "fetch catalog"
	if strings.TrimSpace(businessLocationID) == "" || strings.TrimSpace(storeLocationID) == "" {
		return domain.CatalogSnapshot{}, &LogicalError{Message: "business and store location are required"}
	}

	endpoint := c.endpoint("business-locations", businessLocationID, "store-locations", storeLocationID, "catalog")
	status, raw, err := c.do(ctx, op, http.MethodGet, endpoint, nil, maxCatalogBody)
	if err != nil {
		return domain.CatalogSnapshot{}, err
	}

	var resp struct {
		Data *domain.CatalogSnapshot `json:"data"`
		domain.CatalogSnapshot
	}
	if err := decodeBody(op, status, raw, &resp); err != nil {
		return domain.CatalogSnapshot{}, err
	}
	if resp.Data != nil {
		return *resp.Data, nil
	}
	return resp.CatalogSnapshot, nil
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return c.baseURL.JoinPath(escaped...).String()
}

// do runs one bounded request and returns the status and body. Only
// failures to obtain a response are reported here.
func (c *Client) do(ctx context.Context, op string, method string, endpoint string, body []byte, limit int64) (int, []byte, error) {
	if c.signer == nil {
		return 0, nil, &TransportError{Op: op, Err: domain.ErrInvalidDevice}
	}
	token, err := c.signer.sign()
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: fmt.Errorf("sign token: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Device-ID", c.device.DeviceID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return resp.StatusCode, raw, nil
}

// decodeBody applies the response classification: an error body is a
// logical failure at any status, a 5xx without one is transport, and an
// unreadable body is transport.
func decodeBody(op string, status int, raw []byte, dst any) error {
	if msg, ok := errorField(raw); ok {
		return &LogicalError{Status: status, Message: fallback(msg, http.StatusText(status))}
	}
	decodeErr := json.Unmarshal(raw, dst)

	switch {
	case status >= http.StatusInternalServerError:
		return &TransportError{Op: op, Status: status, Err: errors.New(http.StatusText(status))}
	case decodeErr != nil:
		return &TransportError{Op: op, Status: status, Err: fmt.Errorf("decode response: %w", decodeErr)}
	case status >= http.StatusBadRequest:
		msg := http.StatusText(status)
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &body) == nil && body.Message != "" {
			msg = body.Message
		}
		return &LogicalError{Status: status, Message: msg}
	}
	return nil
}

func errorField(raw []byte) (string, bool) {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &body) != nil || len(body.Error) == 0 || string(body.Error) == "null" {
		return "", false
	}
	var msg string
	if json.Unmarshal(body.Error, &msg) == nil {
		return msg, true
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body.Error, &obj) == nil {
		return obj.Message, true
	}
	return string(body.Error), true
}

func fallback(v string, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// flexString accepts ids sent as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", b)
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}
