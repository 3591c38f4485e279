package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"fedspend/internal/crawler/groups"
	"fedspend/internal/logger"
	"fedspend/internal/models"
	"fedspend/internal/normalizer"
)

// PageMax is the largest page size the search endpoint accepts.
const PageMax = 100

// ErrNoRecords is returned when a collection ends without any records.
var ErrNoRecords = errors.New("no records collected")

// FetchState is the fetcher's position in its lifecycle.
type FetchState string

// Fetch states.
const (
	StateIdle           FetchState = "IDLE"
	StateRequesting     FetchState = "REQUESTING"
	StateAccumulating   FetchState = "ACCUMULATING"
	StateDone           FetchState = "DONE"
	StateExhaustedEarly FetchState = "EXHAUSTED_EARLY"
	StateFailed         FetchState = "FAILED"
)

// Options tunes pagination.
type Options struct {
	PageSize               int
	MaxPages               int
	MaxConsecutiveFailures int
	Delay                  time.Duration
}

// DefaultOptions mirrors the collector defaults.
func DefaultOptions() Options {
	return Options{
		PageSize:               PageMax,
		MaxPages:               2000,
		MaxConsecutiveFailures: 5,
		Delay:                  time.Second,
	}
}

// FetchRequest asks for up to Target records of one group.
type FetchRequest struct {
	Group  groups.Group
	Period TimePeriod
	Target int
}

// FetchResult is everything accumulated by one collection.
type FetchResult struct {
	Tally        *normalizer.Tally
	Group        string
	State        FetchState
	Records      []models.Award
	Batches      []models.FetchBatch
	FailedPages  []int
	RequestsMade int
	RawCollected int
}

// Fetcher pulls pages sequentially, spacing requests with a rate limiter.
type Fetcher struct {
	source    PageSource
	extractor *normalizer.Extractor
	limiter   *rate.Limiter
	log       *logger.Logger
	now       func() time.Time
	opts      Options
	state     FetchState
}

// NewFetcher creates a fetcher. Zero option fields take their defaults.
func NewFetcher(source PageSource, extractor *normalizer.Extractor, opts Options, log *logger.Logger) *Fetcher {
	def := DefaultOptions()

	if opts.PageSize <= 0 || opts.PageSize > PageMax {
		opts.PageSize = def.PageSize
	}

	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}

	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}

	return &Fetcher{
		source:    source,
		extractor: extractor,
		limiter:   rate.NewLimiter(limit, 1),
		log:       log,
		now:       time.Now,
		opts:      opts,
		state:     StateIdle,
	}
}

// State returns the state of the most recent collection.
func (f *Fetcher) State() FetchState {
	return f.state
}

// PageCount returns how many requests a target needs, capped by MaxPages.
func (f *Fetcher) PageCount(target int) int {
	if target <= 0 {
		return 0
	}

	pages := (target + f.opts.PageSize - 1) / f.opts.PageSize
	if pages > f.opts.MaxPages {
		pages = f.opts.MaxPages
	}

	return pages
}

// FetchAll collects up to req.Target records. Failed pages are skipped. The
// result is returned even on error; the error is ErrNoRecords when nothing was
// collected, or the context error on cancellation.
func (f *Fetcher) FetchAll(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	result := &FetchResult{
		Group: req.Group.Name,
		Tally: normalizer.NewTally(),
	}

	pages := f.PageCount(req.Target)
	consecutiveFailures := 0

	f.state = StateRequesting
	f.log.Info(fmt.Sprintf("📡 Fetching up to %d %s records in %d pages", req.Target, req.Group.Name, pages))

	for page := 1; page <= pages; page++ {
		remaining := req.Target - result.RawCollected
		if remaining <= 0 {
			break
		}

		want := min(f.opts.PageSize, remaining)

		if err := f.limiter.Wait(ctx); err != nil {
			return f.finish(result, fmt.Errorf("fetch interrupted: %w", err))
		}

		f.state = StateRequesting
		doc, err := f.source.SearchAwards(ctx, NewSearchRequest(req.Group, req.Period, page, want))
		result.RequestsMade++

		if err == nil {
			err = ValidateResponse(doc)
		}

		if err != nil {
			if ctx.Err() != nil {
				return f.finish(result, fmt.Errorf("fetch interrupted: %w", ctx.Err()))
			}

			consecutiveFailures++
			result.FailedPages = append(result.FailedPages, page)
			result.Batches = append(result.Batches, models.FetchBatch{Page: page, Requested: want, Err: err})
			f.log.Warn(fmt.Sprintf("⚠️  Page %d failed, skipping: %v", page, err))

			if consecutiveFailures >= f.opts.MaxConsecutiveFailures {
				f.log.Error(fmt.Sprintf("❌ %d consecutive page failures, stopping", consecutiveFailures))

				break
			}

			continue
		}

		consecutiveFailures = 0
		f.state = StateAccumulating

		items := Results(doc)
		f.checkPageNumber(doc, page)

		fetchedAt := f.now().Format(time.RFC3339)
		records := f.extractor.Records(items, result.RawCollected, fetchedAt, result.Tally)

		result.RawCollected += len(items)
		result.Records = append(result.Records, records...)
		result.Batches = append(result.Batches, models.FetchBatch{
			Page:      page,
			Requested: want,
			Returned:  len(items),
			Records:   records,
		})

		f.log.Info(fmt.Sprintf("Page %d: %d results, %d kept (total %d)", page, len(items), len(records), len(result.Records)))

		if len(items) < want {
			f.state = StateExhaustedEarly
			f.log.Info(fmt.Sprintf("Source exhausted after page %d", page))

			break
		}
	}

	return f.finish(result, nil)
}

func (f *Fetcher) finish(result *FetchResult, err error) (*FetchResult, error) {
	switch {
	case len(result.Records) == 0:
		f.state = StateFailed
	case f.state != StateExhaustedEarly:
		f.state = StateDone
	}

	result.State = f.state

	if err != nil {
		return result, err
	}

	if f.state == StateFailed {
		return result, fmt.Errorf("%w: %s after %d requests", ErrNoRecords, result.Group, result.RequestsMade)
	}

	return result, nil
}

// checkPageNumber warns when the server reports a different page than requested.
func (f *Fetcher) checkPageNumber(doc any, page int) {
	meta := PageMetadata(doc)
	if meta == nil {
		return
	}

	got := normalizer.ExtractInt(meta, "page", int64(page))
	if got.Outcome == normalizer.OutcomeValue && got.Value != int64(page) {
		f.log.Warn(fmt.Sprintf("Requested page %d but server returned page %d", page, got.Value))
	}
}

// FetchGroups collects perGroup records from each group in turn and
// concatenates them. Groups that yield nothing are logged and skipped.
func (f *Fetcher) FetchGroups(ctx context.Context, gs []groups.Group, period TimePeriod, perGroup int) (*FetchResult, error) {
	combined := &FetchResult{
		Group: "all",
		Tally: normalizer.NewTally(),
	}

	for _, g := range gs {
		res, err := f.FetchAll(ctx, FetchRequest{Group: g, Period: period, Target: perGroup})

		combined.Tally.Merge(res.Tally)
		combined.Records = append(combined.Records, res.Records...)
		combined.Batches = append(combined.Batches, res.Batches...)
		combined.FailedPages = append(combined.FailedPages, res.FailedPages...)
		combined.RequestsMade += res.RequestsMade
		combined.RawCollected += res.RawCollected

		if err != nil {
			if ctx.Err() != nil {
				combined.State = StateFailed
				f.state = StateFailed

				return combined, err
			}

			f.log.Warn(fmt.Sprintf("No %s records: %v", g.Name, err))

			continue
		}

		f.log.Info(fmt.Sprintf("✅ %s: %d records", g.Name, len(res.Records)))
	}

	if len(combined.Records) == 0 {
		combined.State = StateFailed
		f.state = StateFailed

		return combined, fmt.Errorf("%w: all groups", ErrNoRecords)
	}

	combined.State = StateDone
	f.state = StateDone

	return combined, nil
}
