package normalizer

import (
	"fmt"
	"sort"
	"strings"

	"fedspend/internal/logger"
	"fedspend/internal/models"
)

// CleanReport counts what each cleaning rule removed.
type CleanReport struct {
	Input       int  `json:"input"`
	BlankNames  int  `json:"blank_names"`
	UnknownZero int  `json:"unknown_zero"`
	Duplicates  int  `json:"duplicates"`
	Output      int  `json:"output"`
	LossWarning bool `json:"loss_warning"`
}

// Removed returns the total number of records dropped.
func (r CleanReport) Removed() int {
	return r.Input - r.Output
}

// RemovedPct returns the share of input removed, in percent.
func (r CleanReport) RemovedPct() float64 {
	if r.Input == 0 {
		return 0
	}

	return float64(r.Removed()) / float64(r.Input) * 100
}

// Cleaner removes unusable records and collapses duplicate award ids.
type Cleaner struct {
	log              *logger.Logger
	LossWarningRatio float64
}

// NewCleaner creates a cleaner that warns when more than lossWarningRatio of
// the input is removed.
func NewCleaner(lossWarningRatio float64, log *logger.Logger) *Cleaner {
	return &Cleaner{
		LossWarningRatio: lossWarningRatio,
		log:              log,
	}
}

// Clean returns a new slice ordered by award amount descending with unique
// award ids. The input slice is not modified.
func (c *Cleaner) Clean(records []models.Award) ([]models.Award, CleanReport) {
	report := CleanReport{Input: len(records)}

	kept := make([]models.Award, 0, len(records))

	for i := range records {
		r := records[i]

		name := strings.TrimSpace(r.RecipientName)
		if name == "" {
			report.BlankNames++

			continue
		}

		if r.AwardAmount == 0 && strings.Contains(strings.ToLower(name), "unknown") {
			report.UnknownZero++

			continue
		}

		kept = append(kept, r)
	}

	// Highest amount first so the first occurrence of an id is the one kept;
	// the stable sort resolves equal amounts to first seen.
	sortByAmountDesc(kept)

	seen := make(map[string]bool, len(kept))
	unique := kept[:0]

	for _, r := range kept {
		if seen[r.AwardID] {
			report.Duplicates++

			continue
		}

		seen[r.AwardID] = true
		unique = append(unique, r)
	}

	sortByAmountDesc(unique)

	report.Output = len(unique)
	report.LossWarning = float64(report.Removed()) > float64(report.Input)*c.LossWarningRatio
	c.logReport(report)

	return unique, report
}

func (c *Cleaner) logReport(report CleanReport) {
	if report.Removed() == 0 {
		c.log.Info(fmt.Sprintf("No cleaning needed: %d records maintained", report.Output))

		return
	}

	c.log.Info(fmt.Sprintf("🧹 Cleaned %d → %d records (%.1f%% removed)", report.Input, report.Output, report.RemovedPct()),
		"blank_names", report.BlankNames,
		"unknown_zero", report.UnknownZero,
		"duplicates", report.Duplicates)

	if report.LossWarning {
		c.log.Warn(fmt.Sprintf("⚠️  Lost %.1f%% of data during cleaning, check upstream data quality", report.RemovedPct()))
	}
}

func sortByAmountDesc(records []models.Award) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].AwardAmount > records[j].AwardAmount
	})
}
