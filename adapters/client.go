package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/stocksync"
)

// apiClient is the shared HTTP plumbing for every external system we talk
// to: api-key header auth and a ticker-based rate limit, both configured per
// system through {PREFIX}_* environment variables.
type apiClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

// apiError carries the upstream status so callers can branch on it (404 for
// unknown handles, 410 for retired bulk endpoints).
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Body)
}

func newAPIClient(prefix string, defaultRatePerMin int64) (*apiClient, error) {
	baseURL := strings.TrimSpace(os.Getenv(prefix + "_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New(prefix + "_API_BASE_URL is not set")
	}
	apiKey := strings.TrimSpace(os.Getenv(prefix + "_API_KEY"))
	if apiKey == "" {
		return nil, errors.New(prefix + "_API_KEY is not set")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv(prefix + "_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	ratePerMin := defaultRatePerMin
	if v := strings.TrimSpace(os.Getenv(prefix + "_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ratePerMin = n
		}
	}
	interval := time.Minute / time.Duration(ratePerMin)

	return &apiClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) sendJSON(ctx context.Context, method string, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out any) error {
	select {
	case <-c.limiter:
	case <-req.Context().Done():
		return req.Context().Err()
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return stocksync.Transient(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return stocksync.Transient(apiErr)
		}
		return apiErr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func statusOf(err error) int {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
