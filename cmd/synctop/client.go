package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kasirinaja/terminal/internal/domain"
)

// apiClient talks to the terminal's local API.
type apiClient struct {
	base string
	http *http.Client
	csrf string
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *apiClient) summary(ctx context.Context) (domain.SyncCounts, error) {
	var counts domain.SyncCounts
	err := c.call(ctx, http.MethodGet, "/api/v1/sync/summary", &counts)
	return counts, err
}

func (c *apiClient) failedRecords(ctx context.Context, limit int) ([]domain.TransactionRecord, error) {
	var body struct {
		Records []domain.TransactionRecord `json:"records"`
	}
	q := url.Values{"sync_status": {string(domain.SyncFailed)}, "limit": {fmt.Sprint(limit)}}
	err := c.call(ctx, http.MethodGet, "/api/v1/records?"+q.Encode(), &body)
	return body.Records, err
}

func (c *apiClient) syncAll(ctx context.Context) (domain.SweepResult, error) {
	var result domain.SweepResult
	err := c.call(ctx, http.MethodPost, "/api/v1/sync", &result)
	return result, err
}

func (c *apiClient) refreshCatalog(ctx context.Context) (domain.CatalogResult, error) {
	var result domain.CatalogResult
	err := c.call(ctx, http.MethodPost, "/api/v1/catalog/refresh", &result)
	// A failed pull still carries a result worth showing.
	var status *statusError
	if errors.As(err, &status) && status.code == http.StatusBadGateway {
		return result, nil
	}
	return result, err
}

type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("local api returned %d", e.code)
	}
	return fmt.Sprintf("local api returned %d: %s", e.code, e.message)
}

// call decodes the response into dest. State-changing calls fetch a CSRF
// token first and refresh it once if the server rejects it.
func (c *apiClient) call(ctx context.Context, method string, path string, dest any) error {
	if method == http.MethodGet {
		return c.send(ctx, method, path, dest)
	}
	for attempt := 0; ; attempt++ {
		if c.csrf == "" {
			if err := c.fetchCSRF(ctx); err != nil {
				return err
			}
		}
		err := c.send(ctx, method, path, dest)
		var status *statusError
		if attempt == 0 && errors.As(err, &status) && status.code == http.StatusForbidden {
			c.csrf = ""
			continue
		}
		return err
	}
}

func (c *apiClient) fetchCSRF(ctx context.Context) error {
	var body struct {
		Token string `json:"csrf_token"`
	}
	if err := c.send(ctx, http.MethodGet, "/api/v1/csrf-token", &body); err != nil {
		return fmt.Errorf("fetch csrf token: %w", err)
	}
	c.csrf = body.Token
	return nil
}

func (c *apiClient) send(ctx context.Context, method string, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &body)
		if dest != nil {
			_ = json.Unmarshal(raw, dest)
		}
		return &statusError{code: resp.StatusCode, message: body.Error}
	}
	if dest == nil {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
