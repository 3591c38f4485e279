package pipeline

import (
	"context"
	"fmt"

	"fedspend/internal/config"
	"fedspend/internal/crawler"
	"fedspend/internal/crawler/groups"
	"fedspend/internal/history"
	"fedspend/internal/logger"
	"fedspend/internal/normalizer"
	"fedspend/internal/sink"
	"fedspend/internal/storage"
)

// Service is a runner with the resources it opened.
type Service struct {
	*Runner
	closers []func()
}

// Close releases the history database and sink pool.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Build assembles a runner from configuration. A history database that
// cannot be opened is logged and skipped; a configured sink that cannot
// connect is an error.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Service, error) {
	c := cfg.Collector
	svc := &Service{}

	scraper := crawler.NewScraper(c.API.GetTimeout(), c.API.UserAgent)
	client := crawler.NewClient(c.API.BaseURL, scraper, log)
	fetcher := crawler.NewFetcher(client, normalizer.NewExtractor(log), crawler.Options{
		PageSize:               c.Collection.PageSize,
		MaxPages:               c.Collection.MaxPages,
		MaxConsecutiveFailures: c.Collection.MaxConsecutiveFailures,
		Delay:                  c.Collection.GetDelay(),
	}, log)

	processor := normalizer.NewProcessor(
		normalizer.NewCleaner(c.Cleaning.LossWarningRatio, log),
		normalizer.NewQualityGate(c.Quality.MaxCriticalRatio, c.Quality.ImplausibleAmount),
		log,
	)

	writer := storage.NewWriter(storage.Options{
		Dir:             c.Storage.DataDir,
		Prefix:          c.Storage.FilePrefix,
		BackupRetention: c.Storage.BackupRetention,
		MinFreeMB:       c.Storage.MinFreeMB,
	}, log)

	var rec Recorder

	if store, err := history.Open(c.Storage.HistoryPath()); err != nil {
		log.Warn(fmt.Sprintf("⚠️  Run history disabled: %v", err))
	} else {
		rec = store
		svc.closers = append(svc.closers, func() { _ = store.Close() })
	}

	var snk sink.Sink

	if c.Sink.Enabled() {
		pg, err := sink.OpenPostgres(ctx, sink.Options{
			DSN:       c.Sink.PostgresDSN,
			Schema:    c.Sink.Schema,
			BatchSize: c.Sink.BatchSize,
			MaxConns:  c.Sink.MaxConns,
		}, log)
		if err != nil {
			svc.Close()

			return nil, fmt.Errorf("failed to open sink: %w", err)
		}

		snk = pg
		svc.closers = append(svc.closers, pg.Close)
	}

	svc.Runner = NewRunner(fetcher, processor, writer, snk, rec, log)

	return svc, nil
}

// OptionsFromConfig derives run options from the collection settings.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	col := cfg.Collector.Collection

	g, ok := groups.Lookup(col.AwardGroup)
	if !ok {
		return Options{}, fmt.Errorf("%w: %s", config.ErrUnknownAwardGroup, col.AwardGroup)
	}

	opts := Options{
		Group:         g,
		Period:        crawler.TimePeriod{StartDate: col.StartDate, EndDate: col.EndDate},
		Limit:         col.Limit,
		LimitPerGroup: col.LimitPerGroup,
	}

	if col.FallbackGroup != "" {
		fb, ok := groups.Lookup(col.FallbackGroup)
		if !ok {
			return Options{}, fmt.Errorf("%w: %s", config.ErrUnknownFallbackGroup, col.FallbackGroup)
		}

		opts.Fallback = &fb
	}

	return opts, nil
}
