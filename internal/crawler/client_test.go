package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fedspend/internal/crawler/groups"
	"fedspend/internal/logger"
)

func setupMockSearchServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(server.URL+"/", NewScraper(5*time.Second, "test-agent"), logger.NewLogger("error"))
}

func TestClient_SearchAwards(t *testing.T) {
	var got SearchRequest

	client := setupMockSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search/spending_by_award/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}

		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q", ua)
		}

		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"Award ID":"A1","Award Amount":12345678901234567}],"page_metadata":{"page":1}}`))
	})

	g, _ := groups.Lookup("grants")

	doc, err := client.SearchAwards(context.Background(), NewSearchRequest(g, TimePeriod{StartDate: "2023-10-01", EndDate: "2024-09-30"}, 1, 100))
	if err != nil {
		t.Fatalf("SearchAwards returned error: %v", err)
	}

	if got.Limit != 100 || got.Page != 1 || got.Filters.AwardTypeCodes[0] != "02" {
		t.Errorf("server received %+v", got)
	}

	results := Results(doc)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	amount, ok := results[0].(map[string]any)["Award Amount"].(json.Number)
	if !ok || amount.String() != "12345678901234567" {
		t.Errorf("amount should decode as json.Number, got %#v", results[0])
	}
}

func TestClient_SearchAwards_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: ErrUnexpectedStatusCode,
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{not json`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupMockSearchServer(t, tt.handler)
			g, _ := groups.Lookup("contracts")

			_, err := client.SearchAwards(context.Background(), NewSearchRequest(g, TimePeriod{}, 1, 10))
			if err == nil {
				t.Fatal("expected error")
			}

			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_SearchAwards_SingleAttempt(t *testing.T) {
	var calls atomic.Int32

	client := setupMockSearchServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	g, _ := groups.Lookup("contracts")

	if _, err := client.SearchAwards(context.Background(), NewSearchRequest(g, TimePeriod{}, 1, 10)); !errors.Is(err, ErrUnexpectedStatusCode) {
		t.Fatalf("err = %v, want ErrUnexpectedStatusCode", err)
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestClient_WithFetcher(t *testing.T) {
	client := setupMockSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.Page == 1 {
			_, _ = w.Write([]byte(`{"results":[{"Award ID":"A","Recipient Name":"R","Award Amount":"10.5"},{"Award ID":"B","Recipient Name":"S","Award Amount":3}]}`))

			return
		}

		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	f := newTestFetcher(client, Options{PageSize: 2})

	res, err := f.FetchAll(context.Background(), contractsRequest(6))
	if err != nil {
		t.Fatalf("FetchAll returned error: %v", err)
	}

	if len(res.Records) != 2 || res.Records[0].AwardAmount != 10.5 {
		t.Errorf("unexpected records: %+v", res.Records)
	}

	if res.State != StateExhaustedEarly {
		t.Errorf("state = %s, want EXHAUSTED_EARLY", res.State)
	}
}

func TestValidateResponse(t *testing.T) {
	tests := []struct {
		name    string
		doc     any
		wantErr error
	}{
		{"not an object", []any{}, ErrResponseNotObject},
		{"nil", nil, ErrResponseNotObject},
		{"missing results", map[string]any{"page": 1}, ErrMissingResults},
		{"results not list", map[string]any{"results": "x"}, ErrResultsNotList},
		{"empty results", map[string]any{"results": []any{}}, nil},
		{"first not object", map[string]any{"results": []any{"x"}}, ErrNoIdentityFields},
		{"no basic fields", map[string]any{"results": []any{map[string]any{"foo": 1}}}, ErrNoIdentityFields},
		{"only amount", map[string]any{"results": []any{map[string]any{"Award Amount": 1}}}, nil},
		{"only second record bad", map[string]any{"results": []any{map[string]any{"Award ID": "A"}, "junk"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResponse(tt.doc)

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}

				if !IsValidResponse(tt.doc) {
					t.Error("IsValidResponse should be true")
				}

				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
