package normalizer

import (
	"fmt"
	"sort"
	"strings"

	"fedspend/internal/logger"
	"fedspend/internal/models"
)

// DuplicateGroup is an award id seen more than once.
type DuplicateGroup struct {
	AwardID string
	Count   int
}

// Profile summarizes data quality before cleaning.
type Profile struct {
	TopDuplicates     []DuplicateGroup
	Total             int
	BlankIDs          int
	DuplicateIDs      int
	UniqueIDs         int
	BlankRecipients   int
	UnknownRecipients int
	ZeroAmounts       int
	NegativeAmounts   int
	VeryLargeAmounts  int
}

// UniqueRatio is the share of unique award ids.
func (p Profile) UniqueRatio() float64 {
	if p.Total == 0 {
		return 0
	}

	return float64(p.UniqueIDs) / float64(p.Total)
}

// BuildProfile computes a quality profile. largeAmount is the threshold for
// very large amounts.
func BuildProfile(records []models.Award, largeAmount float64) Profile {
	p := Profile{Total: len(records)}
	counts := make(map[string]int, len(records))
	order := make([]string, 0, len(records))

	for i := range records {
		r := &records[i]

		if strings.TrimSpace(r.AwardID) == "" {
			p.BlankIDs++
		}

		if counts[r.AwardID] == 0 {
			order = append(order, r.AwardID)
		} else {
			p.DuplicateIDs++
		}

		counts[r.AwardID]++

		name := strings.TrimSpace(r.RecipientName)
		if name == "" {
			p.BlankRecipients++
		}

		if strings.Contains(strings.ToLower(name), "unknown") {
			p.UnknownRecipients++
		}

		switch {
		case r.AwardAmount == 0:
			p.ZeroAmounts++
		case r.AwardAmount < 0:
			p.NegativeAmounts++
		case r.AwardAmount > largeAmount:
			p.VeryLargeAmounts++
		}
	}

	p.UniqueIDs = len(counts)

	var dups []DuplicateGroup

	for _, id := range order {
		if counts[id] > 1 {
			dups = append(dups, DuplicateGroup{AwardID: id, Count: counts[id]})
		}
	}

	sort.SliceStable(dups, func(i, j int) bool { return dups[i].Count > dups[j].Count })

	if len(dups) > 5 {
		dups = dups[:5]
	}

	p.TopDuplicates = dups

	return p
}

// LogProfile writes the profile at debug level, duplicates at info.
func LogProfile(log *logger.Logger, p Profile) {
	if p.Total == 0 {
		log.Debug("Profile: no records to analyze")

		return
	}

	log.Debug("🔍 Data quality profile",
		"total", p.Total,
		"blank_ids", p.BlankIDs,
		"duplicate_ids", p.DuplicateIDs,
		"unique_ids", p.UniqueIDs,
		"unique_ratio", fmt.Sprintf("%.2f%%", p.UniqueRatio()*100),
		"blank_recipients", p.BlankRecipients,
		"unknown_recipients", p.UnknownRecipients,
		"zero_amounts", p.ZeroAmounts,
		"negative_amounts", p.NegativeAmounts,
		"very_large_amounts", p.VeryLargeAmounts)

	for _, d := range p.TopDuplicates {
		log.Info(fmt.Sprintf("Duplicate award id %s appears %d times", d.AwardID, d.Count))
	}
}
