package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"fedspend/internal/logger"
	"fedspend/internal/models"
)

// Outcome classifies the result of extracting one field.
type Outcome int

// Extraction outcomes.
const (
	OutcomeValue Outcome = iota
	OutcomeMissing
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValue:
		return "value"
	case OutcomeMissing:
		return "missing"
	case OutcomeInvalid:
		return "invalid"
	}

	return "unknown"
}

// Extracted is a field value together with how it was obtained. Missing and
// invalid inputs still carry a usable Value (the fallback).
type Extracted[T any] struct {
	Value   T
	Reason  string
	Outcome Outcome
}

// Invalid reports whether the raw value failed conversion.
func (e Extracted[T]) Invalid() bool {
	return e.Outcome == OutcomeInvalid
}

// criticalFields are logged individually when they fail conversion.
var criticalFields = map[string]bool{
	"Award Amount":   true,
	"Award ID":       true,
	"Recipient Name": true,
}

// lookup returns the raw value and whether it counts as present.
func lookup(raw models.RawRecord, field string) (any, bool) {
	v, ok := raw[field]
	if !ok || v == nil {
		return nil, false
	}

	if s, isStr := v.(string); isStr {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" || strings.EqualFold(trimmed, "null") {
			return nil, false
		}
	}

	return v, true
}

// ExtractString reads a text field, trimming whitespace.
func ExtractString(raw models.RawRecord, field, fallback string) Extracted[string] {
	v, ok := lookup(raw, field)
	if !ok {
		return Extracted[string]{Value: fallback, Outcome: OutcomeMissing}
	}

	switch val := v.(type) {
	case string:
		return Extracted[string]{Value: strings.TrimSpace(val)}
	case json.Number:
		return Extracted[string]{Value: val.String()}
	case float64:
		return Extracted[string]{Value: strconv.FormatFloat(val, 'f', -1, 64)}
	case int:
		return Extracted[string]{Value: strconv.Itoa(val)}
	case int64:
		return Extracted[string]{Value: strconv.FormatInt(val, 10)}
	case bool:
		return Extracted[string]{Value: strconv.FormatBool(val)}
	}

	return Extracted[string]{
		Value:   fallback,
		Outcome: OutcomeInvalid,
		Reason:  fmt.Sprintf("unsupported type %T", v),
	}
}

// ExtractFloat reads a numeric field. Strings are parsed.
func ExtractFloat(raw models.RawRecord, field string, fallback float64) Extracted[float64] {
	v, ok := lookup(raw, field)
	if !ok {
		return Extracted[float64]{Value: fallback, Outcome: OutcomeMissing}
	}

	f, err := toFloat(v)
	if err != nil {
		return Extracted[float64]{Value: fallback, Outcome: OutcomeInvalid, Reason: err.Error()}
	}

	return Extracted[float64]{Value: f}
}

// ExtractMoney reads a monetary amount. Negative and non-finite values are invalid.
func ExtractMoney(raw models.RawRecord, field string) Extracted[float64] {
	res := ExtractFloat(raw, field, 0)
	if res.Outcome != OutcomeValue {
		return res
	}

	if math.IsNaN(res.Value) || math.IsInf(res.Value, 0) {
		return Extracted[float64]{Value: 0, Outcome: OutcomeInvalid, Reason: "non-finite amount"}
	}

	if res.Value < 0 {
		return Extracted[float64]{Value: 0, Outcome: OutcomeInvalid, Reason: fmt.Sprintf("negative amount %v", res.Value)}
	}

	return res
}

// ExtractInt reads an integer field. Integral floats are accepted.
func ExtractInt(raw models.RawRecord, field string, fallback int64) Extracted[int64] {
	v, ok := lookup(raw, field)
	if !ok {
		return Extracted[int64]{Value: fallback, Outcome: OutcomeMissing}
	}

	if n, isNum := v.(json.Number); isNum {
		if i, err := n.Int64(); err == nil {
			return Extracted[int64]{Value: i}
		}
	}

	if s, isStr := v.(string); isStr {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return Extracted[int64]{Value: i}
		}
	}

	f, err := toFloat(v)
	if err != nil {
		return Extracted[int64]{Value: fallback, Outcome: OutcomeInvalid, Reason: err.Error()}
	}

	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return Extracted[int64]{Value: fallback, Outcome: OutcomeInvalid, Reason: fmt.Sprintf("not an integer: %v", f)}
	}

	return Extracted[int64]{Value: int64(f)}
}

func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case json.Number:
		return val.Float64()
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	}

	return 0, fmt.Errorf("%w: %T", ErrNotNumeric, v)
}

// Tally accumulates extraction statistics. It is passed explicitly and
// merged across pages.
type Tally struct {
	FieldErrors map[string]int
	Input       int
	Processed   int
	Dropped     int
}

// NewTally creates an empty tally.
func NewTally() *Tally {
	return &Tally{FieldErrors: make(map[string]int)}
}

// Merge adds the counts of other into t.
func (t *Tally) Merge(other *Tally) {
	if other == nil {
		return
	}

	t.Input += other.Input
	t.Processed += other.Processed
	t.Dropped += other.Dropped

	for k, v := range other.FieldErrors {
		t.FieldErrors[k] += v
	}
}

// SignificantErrors returns fields whose error count exceeds ratio of the input rows.
func (t *Tally) SignificantErrors(ratio float64) map[string]int {
	out := make(map[string]int)

	for field, n := range t.FieldErrors {
		if float64(n) > float64(t.Input)*ratio {
			out[field] = n
		}
	}

	return out
}

// Extractor turns raw API result objects into typed awards.
type Extractor struct {
	log *logger.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(log *logger.Logger) *Extractor {
	return &Extractor{log: log}
}

// Record converts one result item. index is the zero-based position used for
// the placeholder id. The bool is false when the item is dropped.
func (e *Extractor) Record(item any, index int, fetchedAt string, tally *Tally) (models.Award, bool) {
	tally.Input++

	raw, ok := asRaw(item)
	if !ok {
		tally.Dropped++
		e.log.Debug(fmt.Sprintf("Record %d: not an object, skipping", index+1))

		return models.Award{}, false
	}

	var award models.Award

	for _, f := range models.Fields {
		if f.Source == "" {
			continue
		}

		switch f.Kind {
		case models.KindMoney:
			res := ExtractMoney(raw, f.Source)
			e.note(tally, f.Source, index, res.Outcome, res.Reason)
			f.SetMoney(&award, res.Value)
		case models.KindText:
			fallback := f.Fallback
			if f.Column == "award_id" {
				fallback = fmt.Sprintf("%s%d", models.UnknownIDPrefix, index+1)
			}

			res := ExtractString(raw, f.Source, fallback)
			e.note(tally, f.Source, index, res.Outcome, res.Reason)
			f.SetText(&award, res.Value)
		}
	}

	award.FetchedAt = fetchedAt

	if !award.HasIdentity() {
		tally.Dropped++
		e.log.Debug(fmt.Sprintf("Record %d: missing essential fields, skipping", index+1))

		return models.Award{}, false
	}

	tally.Processed++

	return award, true
}

// Records converts a page of result items. offset is the index of the first item
// within the whole collection.
func (e *Extractor) Records(items []any, offset int, fetchedAt string, tally *Tally) []models.Award {
	out := make([]models.Award, 0, len(items))

	for i, item := range items {
		if award, ok := e.Record(item, offset+i, fetchedAt, tally); ok {
			out = append(out, award)
		}
	}

	return out
}

func (e *Extractor) note(tally *Tally, field string, index int, outcome Outcome, reason string) {
	if outcome != OutcomeInvalid {
		return
	}

	tally.FieldErrors[field]++

	if criticalFields[field] {
		e.log.Warn(fmt.Sprintf("Record %d: error processing %s: %s", index+1, field, reason))
	}
}

func asRaw(item any) (models.RawRecord, bool) {
	switch v := item.(type) {
	case models.RawRecord:
		return v, true
	case map[string]any:
		return models.RawRecord(v), true
	}

	return nil, false
}
