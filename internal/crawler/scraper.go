package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"fedspend/pkg/utils"
)

// ErrUnexpectedStatusCode indicates an HTTP response with unexpected status.
var ErrUnexpectedStatusCode = errors.New("unexpected status code")

// defaultBufferSizeKb caps how much of a response body is read.
const defaultBufferSizeKb = 16 * 1024

// Scraper performs single HTTP exchanges against the search API. It never
// retries: a failed page is the fetcher's concern.
type Scraper struct {
	client       *http.Client
	headers      *utils.HTTPHelper
	bufferSizeKb int
}

// NewScraper creates a scraper with the given per-request timeout.
func NewScraper(timeout time.Duration, userAgent string) *Scraper {
	return NewScraperWithClient(&http.Client{Timeout: timeout}, userAgent)
}

// NewScraperWithClient creates a scraper around an existing HTTP client.
func NewScraperWithClient(client *http.Client, userAgent string) *Scraper {
	return &Scraper{
		client:       client,
		headers:      utils.NewHTTPHelperWithAgent(userAgent),
		bufferSizeKb: defaultBufferSizeKb,
	}
}

// PostJSONWithMetrics posts payload as JSON and returns (body, statusCode, duration, error).
// A non-200 status is returned as ErrUnexpectedStatusCode.
func (s *Scraper) PostJSONWithMetrics(ctx context.Context, url string, payload any) ([]byte, int, time.Duration, error) {
	startTime := time.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header = s.headers.BuildHeaders(nil)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, time.Since(startTime), fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	// Read with buffer limit
	// bufferSizeKb is in KB, convert to bytes
	limit := int64(s.bufferSizeKb) * 1024

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	duration := time.Since(startTime)

	if err != nil {
		return nil, resp.StatusCode, duration, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return data, resp.StatusCode, duration, fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}

	return data, resp.StatusCode, duration, nil
}
