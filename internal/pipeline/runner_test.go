package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fedspend/internal/config"
	"fedspend/internal/crawler"
	"fedspend/internal/crawler/groups"
	"fedspend/internal/history"
	"fedspend/internal/logger"
	"fedspend/internal/models"
	"fedspend/internal/normalizer"
	"fedspend/internal/storage"
)

// MockRecorder is a mock implementation of Recorder.
type MockRecorder struct {
	Runs []history.Run
}

func (m *MockRecorder) Record(_ context.Context, r history.Run) error {
	m.Runs = append(m.Runs, r)

	return nil
}

// MockSink is a mock implementation of sink.Sink.
type MockSink struct {
	WriteFunc func(ctx context.Context, records []models.Award) (int, error)
	Written   int
}

func (m *MockSink) Write(ctx context.Context, records []models.Award) (int, error) {
	m.Written += len(records)

	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, records)
	}

	return len(records), nil
}

func (m *MockSink) Close() {}

// searchHandler serves totals[code] awards per group. With unknown set every
// award has a placeholder recipient and no amount.
func searchHandler(t *testing.T, totals map[string]int, unknown bool) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		var req crawler.SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		total := totals[req.Filters.AwardTypeCodes[0]]
		start := (req.Page - 1) * 100

		results := []map[string]any{}

		for i := start; i < total && len(results) < req.Limit; i++ {
			item := map[string]any{
				"Award ID":        fmt.Sprintf("%s-%d", req.Filters.AwardTypeCodes[0], i),
				"Award Amount":    float64(1_000_000 - i),
				"Awarding Agency": "Department of Energy",
				"Start Date":      "2024-01-02",
			}

			if unknown {
				item["Recipient Name"] = fmt.Sprintf("Unknown Vendor %d", i)
				item["Award Amount"] = 0
			} else {
				item["Recipient Name"] = fmt.Sprintf("Recipient %d", i%7)
			}

			results = append(results, item)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results":       results,
			"page_metadata": map[string]any{"page": req.Page},
		})
	}
}

type testEnv struct {
	runner   *Runner
	recorder *MockRecorder
	sink     *MockSink
	dir      string
}

func setupRunner(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	log := logger.NewLogger("error")
	dir := t.TempDir()

	client := crawler.NewClient(server.URL, crawler.NewScraper(5*time.Second, "test-agent"), log)
	fetcher := crawler.NewFetcher(client, normalizer.NewExtractor(log), crawler.Options{}, log)
	processor := normalizer.NewProcessor(normalizer.NewCleaner(0.5, log), normalizer.NewQualityGate(0.1, 1e12), log)
	writer := storage.NewWriter(storage.Options{Dir: dir, Prefix: "spending"}, log)

	env := &testEnv{recorder: &MockRecorder{}, sink: &MockSink{}, dir: dir}
	env.runner = NewRunner(fetcher, processor, writer, env.sink, env.recorder, log)
	env.runner.newID = func() string { return "run-1" }

	return env
}

func contractsOptions(limit int) Options {
	g, _ := groups.Lookup("contracts")
	fb, _ := groups.Lookup("grants")

	return Options{
		Group:    g,
		Fallback: &fb,
		Period:   crawler.TimePeriod{StartDate: "2023-10-01", EndDate: "2024-09-30"},
		Limit:    limit,
	}
}

func TestRunner_Run(t *testing.T) {
	env := setupRunner(t, searchHandler(t, map[string]int{"A": 250}, false))

	rep, err := env.runner.Run(context.Background(), contractsOptions(150))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if rep.Status != history.StatusSuccess || rep.Group != "contracts" || rep.UsedFallback {
		t.Errorf("unexpected report: %+v", rep)
	}

	if len(rep.Fetch.Records) != 150 || rep.Fetch.RequestsMade != 2 {
		t.Errorf("fetched %d records in %d requests", len(rep.Fetch.Records), rep.Fetch.RequestsMade)
	}

	if rep.Result.Set.Len() != 150 || env.sink.Written != 150 || rep.SinkRows != 150 {
		t.Errorf("saved %d, sink wrote %d", rep.Result.Set.Len(), env.sink.Written)
	}

	snap, err := storage.LoadLatest(env.dir, "spending")
	if err != nil || snap.Set.Len() != 150 {
		t.Fatalf("LoadLatest = %v, %v", snap, err)
	}

	doc, err := storage.ReadJSON(filepath.Join(env.dir, "spending_latest.json"))
	if err != nil || doc.Metadata.RunID != "run-1" || doc.Metadata.AwardGroup != "contracts" {
		t.Errorf("metadata = %+v, %v", doc.Metadata, err)
	}

	if len(env.recorder.Runs) != 1 {
		t.Fatalf("recorded %d runs", len(env.recorder.Runs))
	}

	run := env.recorder.Runs[0]
	if run.Saved != 150 || run.Requested != 150 || run.FetchState != "DONE" || run.Status != history.StatusSuccess {
		t.Errorf("unexpected history: %+v", run)
	}
}

func TestRunner_Run_Fallback(t *testing.T) {
	env := setupRunner(t, searchHandler(t, map[string]int{"02": 30}, false))

	rep, err := env.runner.Run(context.Background(), contractsOptions(50))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !rep.UsedFallback || rep.Group != "grants" || rep.Result.Set.Len() != 30 {
		t.Errorf("unexpected report: group=%s fallback=%t", rep.Group, rep.UsedFallback)
	}

	if rep.Fetch.State != crawler.StateExhaustedEarly {
		t.Errorf("state = %s", rep.Fetch.State)
	}
}

func TestRunner_Run_NoRecords(t *testing.T) {
	env := setupRunner(t, searchHandler(t, map[string]int{}, false))

	rep, err := env.runner.Run(context.Background(), contractsOptions(50))
	if !errors.Is(err, crawler.ErrNoRecords) {
		t.Fatalf("err = %v, want ErrNoRecords", err)
	}

	if rep.Status != history.StatusFailed || env.recorder.Runs[0].Error == "" {
		t.Errorf("failed run should be recorded: %+v", env.recorder.Runs)
	}

	if _, err := os.Stat(filepath.Join(env.dir, "spending_latest.csv")); !os.IsNotExist(err) {
		t.Error("no snapshot should be written")
	}
}

func TestRunner_Run_QualityRejected(t *testing.T) {
	env := setupRunner(t, searchHandler(t, map[string]int{"A": 20}, true))

	rep, err := env.runner.Run(context.Background(), contractsOptions(20))
	if !errors.Is(err, ErrQualityRejected) || !errors.Is(err, normalizer.ErrEmptyRecordSet) {
		t.Fatalf("err = %v, want quality rejection", err)
	}

	if rep.Status != history.StatusRejected || env.sink.Written != 0 {
		t.Errorf("rejected run: status=%s sink=%d", rep.Status, env.sink.Written)
	}

	if rep.Result == nil || rep.Result.Clean.UnknownZero != 20 {
		t.Errorf("clean report should be kept: %+v", rep.Result)
	}
}

func TestRunner_Run_SinkFailureIsWarning(t *testing.T) {
	env := setupRunner(t, searchHandler(t, map[string]int{"A": 10}, false))
	env.sink.WriteFunc = func(context.Context, []models.Award) (int, error) {
		return 0, errors.New("connection reset")
	}

	rep, err := env.runner.Run(context.Background(), contractsOptions(10))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if rep.SinkErr == nil || rep.Status != history.StatusSuccess {
		t.Errorf("sink failure should not fail the run: %+v", rep)
	}
}

func TestRunner_Run_AllGroups(t *testing.T) {
	env := setupRunner(t, searchHandler(t, map[string]int{"A": 100, "02": 100, "06": 3}, false))

	opts := contractsOptions(0)
	opts.AllGroups = true
	opts.LimitPerGroup = 5

	rep, err := env.runner.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if rep.Group != "all" || rep.Result.Set.Len() != 13 {
		t.Errorf("group=%s records=%d", rep.Group, rep.Result.Set.Len())
	}

	if env.recorder.Runs[0].Requested != 25 {
		t.Errorf("requested = %d, want 25", env.recorder.Runs[0].Requested)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("OptionsFromConfig returned error: %v", err)
	}

	if opts.Group.Name != "contracts" || opts.Fallback.Name != "grants" || opts.Limit != 1000 || opts.Period.StartDate != "2023-10-01" {
		t.Errorf("unexpected options: %+v", opts)
	}

	cfg.Collector.Collection.FallbackGroup = ""

	opts, _ = OptionsFromConfig(cfg)
	if opts.Fallback != nil {
		t.Error("empty fallback group should leave Fallback nil")
	}

	cfg.Collector.Collection.AwardGroup = "bonds"
	if _, err := OptionsFromConfig(cfg); !errors.Is(err, config.ErrUnknownAwardGroup) {
		t.Errorf("err = %v, want ErrUnknownAwardGroup", err)
	}
}

func TestBuild(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Collector.Storage.DataDir = t.TempDir()

	svc, err := Build(context.Background(), cfg, logger.NewLogger("error"))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	defer svc.Close()

	if svc.Runner == nil || svc.history == nil || svc.sink != nil {
		t.Errorf("unexpected service: %+v", svc.Runner)
	}

	if _, err := os.Stat(filepath.Join(cfg.Collector.Storage.DataDir, "history.db")); err != nil {
		t.Errorf("history database not created: %v", err)
	}
}
