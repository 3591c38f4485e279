package normalizer

import (
	"errors"
	"fmt"
	"strings"

	"fedspend/internal/models"
)

// Validation errors.
var (
	ErrNotNumeric            = errors.New("value is not numeric")
	ErrEmptyRecordSet        = errors.New("record set is empty")
	ErrMissingColumns        = errors.New("record set is missing required columns")
	ErrTooManyCriticalIssues = errors.New("too many critical data quality issues")
)

// RequiredColumns must be declared by every record set passed to the gate.
var RequiredColumns = []string{
	"award_id",
	"recipient_name",
	"award_amount",
	"awarding_agency",
	"fetched_at",
}

// Issues holds independent counts of quality problems.
type Issues struct {
	BlankNames         int `json:"blank_names"`
	NonPositiveAmounts int `json:"non_positive_amounts"`
	ImplausibleAmounts int `json:"implausible_amounts"`
	BlankAgencies      int `json:"blank_agencies"`
	DuplicateIDs       int `json:"duplicate_ids"`
}

// Critical returns the count of issues that can reject a set.
func (i Issues) Critical() int {
	return i.BlankNames + i.DuplicateIDs
}

// Any reports whether any issue was found.
func (i Issues) Any() bool {
	return i.BlankNames+i.NonPositiveAmounts+i.ImplausibleAmounts+i.BlankAgencies+i.DuplicateIDs > 0
}

// Assessment is the outcome of a quality check.
type Assessment struct {
	Err            error
	MissingColumns []string
	Issues         Issues
	Total          int
	Accept         bool
}

// Messages renders the found issues as human readable lines.
func (a Assessment) Messages() []string {
	var out []string

	if a.Issues.BlankNames > 0 {
		out = append(out, fmt.Sprintf("%d records with empty recipient names", a.Issues.BlankNames))
	}

	if a.Issues.NonPositiveAmounts > 0 {
		out = append(out, fmt.Sprintf("%d records with zero or negative award amounts", a.Issues.NonPositiveAmounts))
	}

	if a.Issues.ImplausibleAmounts > 0 {
		out = append(out, fmt.Sprintf("%d records with suspiciously large amounts", a.Issues.ImplausibleAmounts))
	}

	if a.Issues.BlankAgencies > 0 {
		out = append(out, fmt.Sprintf("%d records with empty agency names", a.Issues.BlankAgencies))
	}

	if a.Issues.DuplicateIDs > 0 {
		out = append(out, fmt.Sprintf("%d duplicate award IDs found", a.Issues.DuplicateIDs))
	}

	return out
}

// QualityGate decides whether a cleaned record set may be persisted.
type QualityGate struct {
	MaxCriticalRatio  float64
	ImplausibleAmount float64
}

// NewQualityGate creates a gate with the given thresholds.
func NewQualityGate(maxCriticalRatio, implausibleAmount float64) *QualityGate {
	return &QualityGate{
		MaxCriticalRatio:  maxCriticalRatio,
		ImplausibleAmount: implausibleAmount,
	}
}

// Assess checks the set. It never mutates it.
func (g *QualityGate) Assess(set models.RecordSet) Assessment {
	var missing []string

	for _, col := range RequiredColumns {
		if !set.HasColumn(col) {
			missing = append(missing, col)
		}
	}

	if len(missing) > 0 {
		return Assessment{
			Total:          set.Len(),
			MissingColumns: missing,
			Err:            fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", ")),
		}
	}

	if set.Len() == 0 {
		return Assessment{Err: ErrEmptyRecordSet}
	}

	var issues Issues

	seen := make(map[string]bool, set.Len())

	for i := range set.Records {
		r := &set.Records[i]

		if strings.TrimSpace(r.RecipientName) == "" {
			issues.BlankNames++
		}

		if r.AwardAmount <= 0 {
			issues.NonPositiveAmounts++
		}

		if r.AwardAmount > g.ImplausibleAmount {
			issues.ImplausibleAmounts++
		}

		if strings.TrimSpace(r.AwardingAgency) == "" {
			issues.BlankAgencies++
		}

		if seen[r.AwardID] {
			issues.DuplicateIDs++
		}

		seen[r.AwardID] = true
	}

	a := Assessment{
		Total:  set.Len(),
		Issues: issues,
		Accept: true,
	}

	if float64(issues.Critical()) > g.MaxCriticalRatio*float64(set.Len()) {
		a.Accept = false
		a.Err = fmt.Errorf("%w: %d of %d records", ErrTooManyCriticalIssues, issues.Critical(), set.Len())
	}

	return a
}
