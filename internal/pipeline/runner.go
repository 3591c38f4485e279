// Package pipeline runs one collection: fetch, clean, assess, save, mirror and record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"fedspend/internal/crawler"
	"fedspend/internal/crawler/groups"
	"fedspend/internal/history"
	"fedspend/internal/logger"
	"fedspend/internal/normalizer"
	"fedspend/internal/sink"
	"fedspend/internal/storage"
)

// ErrQualityRejected is returned when the quality gate rejects the cleaned table.
var ErrQualityRejected = errors.New("data quality rejected")

// Recorder stores run history.
type Recorder interface {
	Record(ctx context.Context, r history.Run) error
}

// Options selects what one run collects.
type Options struct {
	Group         groups.Group
	Fallback      *groups.Group
	Period        crawler.TimePeriod
	Limit         int
	LimitPerGroup int
	AllGroups     bool
}

// RunReport describes a finished run.
type RunReport struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	SinkErr      error
	Fetch        *crawler.FetchResult
	Result       *normalizer.Result
	Save         *storage.SaveResult
	ID           string
	Group        string
	Status       string
	SinkRows     int
	UsedFallback bool
}

// Runner wires the collection stages together.
type Runner struct {
	fetcher   *crawler.Fetcher
	processor *normalizer.Processor
	writer    *storage.Writer
	sink      sink.Sink
	history   Recorder
	log       *logger.Logger
	now       func() time.Time
	newID     func() string
}

// NewRunner creates a runner. The sink and history recorder are optional.
func NewRunner(fetcher *crawler.Fetcher, processor *normalizer.Processor, writer *storage.Writer, snk sink.Sink, rec Recorder, log *logger.Logger) *Runner {
	return &Runner{
		fetcher:   fetcher,
		processor: processor,
		writer:    writer,
		sink:      snk,
		history:   rec,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Run performs one collection. The report is returned even when the run fails.
func (r *Runner) Run(ctx context.Context, opts Options) (*RunReport, error) {
	rep := &RunReport{
		ID:        r.newID(),
		Group:     opts.Group.Name,
		StartedAt: r.now(),
	}

	if opts.AllGroups {
		rep.Group = "all"
	}

	r.log.Info(fmt.Sprintf("🚀 Starting run %s for %s", rep.ID, rep.Group))

	err := r.run(ctx, opts, rep)

	rep.FinishedAt = r.now()

	switch {
	case err == nil:
		rep.Status = history.StatusSuccess
	case errors.Is(err, ErrQualityRejected):
		rep.Status = history.StatusRejected
	default:
		rep.Status = history.StatusFailed
	}

	r.record(rep, opts, err)

	if err != nil {
		r.log.Error(fmt.Sprintf("❌ Run %s %s: %v", rep.ID, rep.Status, err))

		return rep, err
	}

	r.log.Info(fmt.Sprintf("🎉 Run %s saved %s records in %s", rep.ID,
		humanize.Comma(int64(rep.Result.Set.Len())), rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond)))

	return rep, nil
}

func (r *Runner) run(ctx context.Context, opts Options, rep *RunReport) error {
	fetch, err := r.fetch(ctx, opts, rep)
	rep.Fetch = fetch

	if err != nil {
		return err
	}

	result, err := r.processor.Process(fetch.Records, fetch.Tally)
	rep.Result = result

	if err != nil {
		return fmt.Errorf("%w: %w", ErrQualityRejected, err)
	}

	saved, err := r.writer.Save(result.Set, storage.RunInfo{RunID: rep.ID, AwardGroup: rep.Group})
	rep.Save = saved

	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if r.sink != nil {
		rep.SinkRows, rep.SinkErr = r.sink.Write(ctx, result.Set.Records)
		if rep.SinkErr != nil {
			r.log.Warn(fmt.Sprintf("⚠️  Sink write failed, snapshot files are unaffected: %v", rep.SinkErr))
		}
	}

	return nil
}

// fetch collects records, retrying once with the fallback group when the
// primary group yields nothing.
func (r *Runner) fetch(ctx context.Context, opts Options, rep *RunReport) (*crawler.FetchResult, error) {
	if opts.AllGroups {
		return r.fetcher.FetchGroups(ctx, groups.All(), opts.Period, opts.LimitPerGroup)
	}

	res, err := r.fetcher.FetchAll(ctx, crawler.FetchRequest{Group: opts.Group, Period: opts.Period, Target: opts.Limit})
	if err == nil || !errors.Is(err, crawler.ErrNoRecords) || opts.Fallback == nil || opts.Fallback.Name == opts.Group.Name {
		return res, err
	}

	r.log.Warn(fmt.Sprintf("⚠️  No %s records, trying %s", opts.Group.Name, opts.Fallback.Name))

	rep.Group = opts.Fallback.Name
	rep.UsedFallback = true

	return r.fetcher.FetchAll(ctx, crawler.FetchRequest{Group: *opts.Fallback, Period: opts.Period, Target: opts.Limit})
}

func (r *Runner) record(rep *RunReport, opts Options, runErr error) {
	if r.history == nil {
		return
	}

	run := history.Run{
		ID:         rep.ID,
		AwardGroup: rep.Group,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Requested:  opts.Limit,
		Status:     rep.Status,
	}

	if opts.AllGroups {
		run.Requested = opts.LimitPerGroup * len(groups.All())
	}

	if rep.Fetch != nil {
		run.Fetched = len(rep.Fetch.Records)
		run.FailedPages = len(rep.Fetch.FailedPages)
		run.FetchState = string(rep.Fetch.State)
	}

	if rep.Save != nil && runErr == nil {
		run.Saved = rep.Save.Metadata.TotalRecords
		run.TotalAmount = rep.Save.Metadata.TotalAmount
		run.SnapshotPath = rep.Save.LatestCSV
	}

	if runErr != nil {
		run.Error = runErr.Error()
	}

	// Recorded even when the run's context was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.history.Record(ctx, run); err != nil {
		r.log.Warn(fmt.Sprintf("Could not record run history: %v", err))
	}
}
