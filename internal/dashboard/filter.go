// Package dashboard serves filtered and aggregated views of the latest snapshot.
package dashboard

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fedspend/internal/models"
	"fedspend/pkg/metadata"
	"fedspend/pkg/utils"
)

// ErrUnknownSizeTier is returned for an unrecognised recipient size.
var ErrUnknownSizeTier = errors.New("unknown recipient size tier")

// Recipient size tier bounds, on a recipient's total within the filtered rows.
const (
	LargeRecipientMin  = 1_000_000_000
	MediumRecipientMin = 100_000_000
)

// Share of removed rows that marks a filter combination as heavy or conflicting.
const (
	heavyRatio    = 0.75
	conflictRatio = 0.95
)

const dateLayout = "2006-01-02"

var strs = utils.NewStringHelper()

// SizeTier groups recipients by their total award amount.
type SizeTier string

// Size tiers. SizeAll disables the filter.
const (
	SizeAll    SizeTier = ""
	SizeLarge  SizeTier = "large"
	SizeMedium SizeTier = "medium"
	SizeSmall  SizeTier = "small"
)

// ParseSizeTier accepts "", "all", "large", "medium" or "small".
func ParseSizeTier(s string) (SizeTier, error) {
	switch t := SizeTier(strings.ToLower(strings.TrimSpace(s))); t {
	case SizeAll, "all":
		return SizeAll, nil
	case SizeLarge, SizeMedium, SizeSmall:
		return t, nil
	default:
		return SizeAll, fmt.Errorf("%w: %s", ErrUnknownSizeTier, s)
	}
}

func (t SizeTier) contains(total float64) bool {
	switch t {
	case SizeLarge:
		return total > LargeRecipientMin
	case SizeMedium:
		return total >= MediumRecipientMin && total <= LargeRecipientMin
	case SizeSmall:
		return total < MediumRecipientMin
	default:
		return true
	}
}

// Filters selects a subset of awards. Zero values disable a filter.
type Filters struct {
	StartFrom       time.Time `json:"start_from"`
	StartTo         time.Time `json:"start_to"`
	MinAmount       *float64  `json:"min_amount,omitempty"`
	MaxAmount       *float64  `json:"max_amount,omitempty"`
	Size            SizeTier  `json:"size"`
	RecipientSearch string    `json:"recipient_search"`
	Agencies        []string  `json:"agencies"`
	AwardTypes      []string  `json:"award_types"`
}

// Key returns a stable cache key for the filter combination.
func (f Filters) Key() string {
	canon := f
	canon.Agencies = sortedCopy(f.Agencies)
	canon.AwardTypes = sortedCopy(f.AwardTypes)
	canon.RecipientSearch = strings.ToLower(strings.TrimSpace(f.RecipientSearch))

	hash, err := metadata.HashJSON(canon)
	if err != nil {
		return ""
	}

	return hash[:16]
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)

	return out
}

// Conflict rates how much of the table a filter combination removed.
type Conflict string

// Conflict levels.
const (
	ConflictNone   Conflict = "none"
	ConflictHeavy  Conflict = "heavy"
	ConflictSevere Conflict = "conflict"
)

// Step records how many rows one filter removed.
type Step struct {
	Name    string `json:"name"`
	Removed int    `json:"removed"`
}

// Result is the outcome of applying filters.
type Result struct {
	Records  []models.Award `json:"-"`
	Steps    []Step         `json:"steps"`
	Conflict Conflict       `json:"conflict"`
	Initial  int            `json:"initial"`
	Final    int            `json:"final"`
	Cached   bool           `json:"cached"`
}

// RemovedRatio is the share of rows removed, 0 for an empty table.
func (r Result) RemovedRatio() float64 {
	if r.Initial == 0 {
		return 0
	}

	return float64(r.Initial-r.Final) / float64(r.Initial)
}

// Apply runs the filters in order: start date, agencies, award types,
// recipient size, amount bounds, recipient search. The input is not modified.
func Apply(records []models.Award, f Filters) Result {
	res := Result{Initial: len(records)}
	rows := records

	step := func(name string, keep func(*models.Award) bool) {
		out := make([]models.Award, 0, len(rows))

		for i := range rows {
			if keep(&rows[i]) {
				out = append(out, rows[i])
			}
		}

		res.Steps = append(res.Steps, Step{Name: name, Removed: len(rows) - len(out)})
		rows = out
	}

	if !f.StartFrom.IsZero() || !f.StartTo.IsZero() {
		step("date", func(a *models.Award) bool {
			d, ok := parseDate(a.StartDate)
			if !ok {
				return false
			}

			if !f.StartFrom.IsZero() && d.Before(f.StartFrom) {
				return false
			}

			return f.StartTo.IsZero() || !d.After(f.StartTo)
		})
	}

	if len(f.Agencies) > 0 {
		set := toSet(f.Agencies)
		step("agencies", func(a *models.Award) bool { return set[a.AwardingAgency] })
	}

	if len(f.AwardTypes) > 0 {
		set := toSet(f.AwardTypes)
		step("award_types", func(a *models.Award) bool { return set[a.ContractAwardType] })
	}

	if f.Size != SizeAll {
		totals := make(map[string]float64)
		for i := range rows {
			totals[rows[i].RecipientName] += rows[i].AwardAmount
		}

		step("size", func(a *models.Award) bool { return f.Size.contains(totals[a.RecipientName]) })
	}

	if f.MinAmount != nil {
		step("min_amount", func(a *models.Award) bool { return a.AwardAmount >= *f.MinAmount })
	}

	if f.MaxAmount != nil {
		step("max_amount", func(a *models.Award) bool { return a.AwardAmount <= *f.MaxAmount })
	}

	if q := strings.TrimSpace(f.RecipientSearch); q != "" {
		step("recipient", func(a *models.Award) bool { return strs.ContainsFold(a.RecipientName, q) })
	}

	res.Records = rows
	res.Final = len(rows)

	switch r := res.RemovedRatio(); {
	case r > conflictRatio:
		res.Conflict = ConflictSevere
	case r > heavyRatio:
		res.Conflict = ConflictHeavy
	default:
		res.Conflict = ConflictNone
	}

	return res
}

// parseDate reads the date part of an ISO date or timestamp.
func parseDate(s string) (time.Time, bool) {
	if len(s) < len(dateLayout) {
		return time.Time{}, false
	}

	d, err := time.Parse(dateLayout, s[:len(dateLayout)])
	if err != nil {
		return time.Time{}, false
	}

	return d, true
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}

	return set
}
