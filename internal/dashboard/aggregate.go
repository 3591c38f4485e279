package dashboard

import (
	"errors"
	"fmt"
	"sort"

	"fedspend/internal/models"
)

// ErrUnknownField is returned when grouping by a column that is not a text column.
var ErrUnknownField = errors.New("unknown group-by field")

// Group is the award amount statistics for one value of a column.
type Group struct {
	Key   string  `json:"key"`
	Total float64 `json:"total_award_amount"`
	Count int     `json:"count_awards"`
	Mean  float64 `json:"average_award_amount"`
	Max   float64 `json:"max_award_amount"`
}

// AggregateBy groups records by a text column and sums award amounts. Groups
// are sorted by total, largest first.
func AggregateBy(records []models.Award, column string) ([]Group, error) {
	field, ok := models.FieldByColumn(column)
	if !ok || field.Kind != models.KindText {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, column)
	}

	index := make(map[string]int)

	var groups []Group

	for i := range records {
		key := field.Text(&records[i])
		amount := records[i].AwardAmount

		idx, seen := index[key]
		if !seen {
			idx = len(groups)
			index[key] = idx
			groups = append(groups, Group{Key: key, Max: amount})
		}

		g := &groups[idx]
		g.Total += amount
		g.Count++

		if amount > g.Max {
			g.Max = amount
		}
	}

	for i := range groups {
		groups[i].Mean = groups[i].Total / float64(groups[i].Count)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Total > groups[j].Total
	})

	return groups, nil
}

// TopN returns the first n groups.
func TopN(groups []Group, n int) []Group {
	if n <= 0 || n >= len(groups) {
		return groups
	}

	return groups[:n]
}

// Options lists the values available to each filter.
type Options struct {
	Agencies      []string `json:"agencies"`
	AwardTypes    []string `json:"award_types"`
	SizeTiers     []string `json:"size_tiers"`
	EarliestStart string   `json:"earliest_start,omitempty"`
	LatestStart   string   `json:"latest_start,omitempty"`
	MinAmount     float64  `json:"min_amount"`
	MaxAmount     float64  `json:"max_amount"`
}

// FilterOptions collects distinct agencies and award types, the start date
// range and the amount range.
func FilterOptions(records []models.Award) Options {
	opts := Options{
		SizeTiers: []string{string(SizeLarge), string(SizeMedium), string(SizeSmall)},
	}

	agencies := make(map[string]bool)
	types := make(map[string]bool)

	var earliest, latest string

	for i := range records {
		r := &records[i]

		agencies[r.AwardingAgency] = true
		types[r.ContractAwardType] = true

		if i == 0 || r.AwardAmount < opts.MinAmount {
			opts.MinAmount = r.AwardAmount
		}

		if i == 0 || r.AwardAmount > opts.MaxAmount {
			opts.MaxAmount = r.AwardAmount
		}

		if d, ok := parseDate(r.StartDate); ok {
			day := d.Format(dateLayout)
			if earliest == "" || day < earliest {
				earliest = day
			}

			if day > latest {
				latest = day
			}
		}
	}

	opts.Agencies = sortedKeys(agencies)
	opts.AwardTypes = sortedKeys(types)
	opts.EarliestStart = earliest
	opts.LatestStart = latest

	return opts
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
