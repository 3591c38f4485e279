// Package normalizer turns raw search results into a cleaned, quality-checked award table.
package normalizer

import (
	"fmt"
	"sort"

	"fedspend/internal/logger"
	"fedspend/internal/models"
)

// fieldErrorRatio is the share of input rows a field must fail on to be reported.
const fieldErrorRatio = 0.1

// Result is the outcome of cleaning and assessing accumulated records.
type Result struct {
	Set        models.RecordSet
	Profile    Profile
	Clean      CleanReport
	Assessment Assessment
}

// Processor handles data processing after fetching: profile, clean, assess.
type Processor struct {
	cleaner *Cleaner
	gate    *QualityGate
	log     *logger.Logger
}

// NewProcessor creates a new processor instance.
func NewProcessor(cleaner *Cleaner, gate *QualityGate, log *logger.Logger) *Processor {
	return &Processor{
		cleaner: cleaner,
		gate:    gate,
		log:     log,
	}
}

// Process cleans the accumulated records and runs the quality gate. The
// returned error is the gate's rejection reason, if any.
func (p *Processor) Process(records []models.Award, tally *Tally) (*Result, error) {
	if tally != nil {
		p.reportFieldErrors(tally)
	}

	profile := BuildProfile(records, p.gate.ImplausibleAmount)
	LogProfile(p.log, profile)

	cleaned, report := p.cleaner.Clean(records)
	set := models.NewRecordSet(cleaned)

	assessment := p.gate.Assess(set)
	for _, msg := range assessment.Messages() {
		p.log.Warn(fmt.Sprintf("Data quality: %s", msg))
	}

	result := &Result{
		Set:        set,
		Profile:    profile,
		Clean:      report,
		Assessment: assessment,
	}

	if !assessment.Accept {
		return result, fmt.Errorf("validation failed: %w", assessment.Err)
	}

	p.log.Info(fmt.Sprintf("✅ Quality gate passed for %d records", set.Len()))

	return result, nil
}

func (p *Processor) reportFieldErrors(tally *Tally) {
	if tally.Dropped > 0 {
		p.log.Info(fmt.Sprintf("Skipped %d records due to errors", tally.Dropped))
	}

	significant := tally.SignificantErrors(fieldErrorRatio)
	if len(significant) == 0 {
		return
	}

	fields := make([]string, 0, len(significant))
	for f := range significant {
		fields = append(fields, f)
	}

	sort.Strings(fields)

	for _, f := range fields {
		p.log.Warn(fmt.Sprintf("Significant field errors: %s: %d errors", f, significant[f]))
	}
}
