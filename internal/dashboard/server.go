package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"fedspend/internal/logger"
	"fedspend/internal/models"
	"fedspend/internal/report"
	"fedspend/internal/storage"
)

const (
	defaultPageSize = 100
	defaultTopN     = 20
)

// ServerOptions configures the HTTP API.
type ServerOptions struct {
	RatePerSec  float64
	RateBurst   int
	MaxPageSize int
}

// Server exposes the store over HTTP.
type Server struct {
	store   *Store
	limiter *rate.Limiter
	log     *logger.Logger
	router  chi.Router
	opts    ServerOptions
}

// NewServer builds the router.
func NewServer(store *Store, opts ServerOptions, log *logger.Logger) *Server {
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 1000
	}

	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}

	s := &Server{
		store:   store,
		limiter: rate.NewLimiter(limit, max(opts.RateBurst, 1)),
		log:     log,
		opts:    opts,
	}

	r := chi.NewRouter()
	r.Use(s.rateLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/summary", s.handleSummary)
		r.Get("/awards", s.handleAwards)
		r.Get("/aggregate/{field}", s.handleAggregate)
		r.Get("/options", s.handleOptions)
		r.Post("/reload", s.handleReload)
	})

	s.router = r

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Info(fmt.Sprintf("🚀 Dashboard API listening on %s", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.log.Info("Shutting down dashboard API")

		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.log.Warn(fmt.Sprintf("Rate limit exceeded: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr))
			writeError(w, http.StatusTooManyRequests, errors.New(http.StatusText(http.StatusTooManyRequests)))

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "loaded": false}

	if snap := s.store.Snapshot(); snap != nil {
		body["loaded"] = true
		body["records"] = snap.Set.Len()
		body["source"] = snap.Path
		body["modified_at"] = snap.ModTime.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	res, ok := s.query(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"filter":  res,
		"summary": report.Summarize(res.Records),
	})
}

func (s *Server) handleAwards(w http.ResponseWriter, r *http.Request) {
	res, ok := s.query(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	if strings.EqualFold(q.Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="federal_awards.csv"`)

		if err := storage.EncodeCSV(w, models.NewRecordSet(res.Records)); err != nil {
			s.log.Error(fmt.Sprintf("CSV export failed: %v", err))
		}

		return
	}

	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid page: %s", q.Get("page")))

		return
	}

	size, err := intParam(q.Get("page_size"), defaultPageSize)
	if err != nil || size < 1 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid page_size: %s", q.Get("page_size")))

		return
	}

	size = min(size, s.opts.MaxPageSize)

	// Pages past the end are empty; checked before multiplying so huge page
	// numbers cannot overflow.
	start := len(res.Records)
	if page-1 <= len(res.Records)/size {
		start = min((page-1)*size, len(res.Records))
	}

	end := min(start+size, len(res.Records))

	writeJSON(w, http.StatusOK, map[string]any{
		"filter":    res,
		"page":      page,
		"page_size": size,
		"total":     res.Final,
		"records":   res.Records[start:end],
	})
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	res, ok := s.query(w, r)
	if !ok {
		return
	}

	top, err := intParam(r.URL.Query().Get("top"), defaultTopN)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid top: %s", r.URL.Query().Get("top")))

		return
	}

	field := chi.URLParam(r, "field")

	groups, err := AggregateBy(res.Records, field)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"field":        field,
		"total_groups": len(groups),
		"groups":       TopN(groups, top),
	})
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	records, err := s.store.Records()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)

		return
	}

	writeJSON(w, http.StatusOK, FilterOptions(records))
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.store.Reload()
	if err != nil {
		s.log.Error(fmt.Sprintf("Reload failed: %v", err))

		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrNoSnapshot) {
			status = http.StatusNotFound
		}

		writeError(w, status, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": snap.Set.Len(),
		"source":  snap.Path,
	})
}

// query parses filters and runs them, writing an error response on failure.
func (s *Server) query(w http.ResponseWriter, r *http.Request) (Result, bool) {
	f, err := ParseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return Result{}, false
	}

	res, err := s.store.Query(f)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)

		return Result{}, false
	}

	return res, true
}

// ParseFilters reads filters from query parameters: start_from, start_to,
// agency, award_type, size, min_amount, max_amount and recipient.
func ParseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()

	var (
		f   Filters
		err error
	)

	if f.StartFrom, err = dateParam(q.Get("start_from")); err != nil {
		return f, fmt.Errorf("invalid start_from: %w", err)
	}

	if f.StartTo, err = dateParam(q.Get("start_to")); err != nil {
		return f, fmt.Errorf("invalid start_to: %w", err)
	}

	if f.Size, err = ParseSizeTier(q.Get("size")); err != nil {
		return f, err
	}

	if f.MinAmount, err = floatParam(q.Get("min_amount")); err != nil {
		return f, fmt.Errorf("invalid min_amount: %w", err)
	}

	if f.MaxAmount, err = floatParam(q.Get("max_amount")); err != nil {
		return f, fmt.Errorf("invalid max_amount: %w", err)
	}

	f.Agencies = q["agency"]
	f.AwardTypes = q["award_type"]
	f.RecipientSearch = q.Get("recipient")

	return f, nil
}

func dateParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	return time.Parse(dateLayout, s)
}

func floatParam(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("not a finite number: %s", s)
	}

	return &v, nil
}

func intParam(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}

	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
