// Package crawler fetches award pages from the spending search API.
package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fedspend/internal/crawler/groups"
	"fedspend/internal/logger"
)

// searchPath is appended to the API base URL.
const searchPath = "/search/spending_by_award/"

// TimePeriod bounds the action dates searched.
type TimePeriod struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// SearchFilters selects awards by period and type.
type SearchFilters struct {
	TimePeriod     []TimePeriod `json:"time_period"`
	AwardTypeCodes []string     `json:"award_type_codes"`
}

// SearchRequest is the body of a spending_by_award search.
type SearchRequest struct {
	Sort    string        `json:"sort"`
	Order   string        `json:"order"`
	Filters SearchFilters `json:"filters"`
	Fields  []string      `json:"fields"`
	Limit   int           `json:"limit"`
	Page    int           `json:"page"`
}

// NewSearchRequest builds a search for one page of a group, largest awards first.
func NewSearchRequest(g groups.Group, period TimePeriod, page, limit int) SearchRequest {
	return SearchRequest{
		Filters: SearchFilters{
			TimePeriod:     []TimePeriod{period},
			AwardTypeCodes: g.Codes,
		},
		Fields: g.Fields(),
		Sort:   "Award Amount",
		Order:  "desc",
		Limit:  limit,
		Page:   page,
	}
}

// PageSource returns one decoded search page.
type PageSource interface {
	SearchAwards(ctx context.Context, req SearchRequest) (any, error)
}

// Client calls the search endpoint over HTTP.
type Client struct {
	scraper *Scraper
	log     *logger.Logger
	baseURL string
}

// NewClient creates a new search client.
func NewClient(baseURL string, scraper *Scraper, log *logger.Logger) *Client {
	return &Client{
		scraper: scraper,
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Endpoint returns the full search URL.
func (c *Client) Endpoint() string {
	return c.baseURL + searchPath
}

// SearchAwards posts the request and decodes the body. Numbers are kept as
// json.Number so amounts are not rounded before extraction.
func (c *Client) SearchAwards(ctx context.Context, req SearchRequest) (any, error) {
	body, status, duration, err := c.scraper.PostJSONWithMetrics(ctx, c.Endpoint(), req)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", req.Page, err)
	}

	c.log.Debug(fmt.Sprintf("Page %d: HTTP %d, %d bytes in %v", req.Page, status, len(body), duration))

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("page %d: failed to decode response: %w", req.Page, err)
	}

	return doc, nil
}
