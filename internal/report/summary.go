package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"fedspend/internal/history"
	"fedspend/internal/models"
	"fedspend/pkg/utils"
)

// TopLimit is how many entries each ranking keeps.
const TopLimit = 5

const nameWidth = 48

var strs = utils.NewStringHelper()

// Ranked is one entry of a top-N ranking by award amount.
type Ranked struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// Summary describes a cleaned record set.
type Summary struct {
	TopRecipients       []Ranked `json:"top_recipients"`
	TopAgencies         []Ranked `json:"top_agencies"`
	TopStates           []Ranked `json:"top_states"`
	TopIndustries       []Ranked `json:"top_industries"`
	Records             int      `json:"records"`
	UniqueRecipients    int      `json:"unique_recipients"`
	UniqueAgencies      int      `json:"unique_agencies"`
	TotalAmount         float64  `json:"total_amount"`
	MeanAmount          float64  `json:"mean_amount"`
	MaxAmount           float64  `json:"max_amount"`
	MinAmount           float64  `json:"min_amount"`
	Covid19Total        float64  `json:"covid_19_total"`
	InfrastructureTotal float64  `json:"infrastructure_total"`
}

// Summarize computes totals and top-5 rankings.
func Summarize(records []models.Award) Summary {
	s := Summary{Records: len(records)}

	recipients := make(map[string]*Ranked)
	agencies := make(map[string]*Ranked)
	states := make(map[string]*Ranked)
	industries := make(map[string]*Ranked)

	for i := range records {
		r := &records[i]

		s.TotalAmount += r.AwardAmount
		s.Covid19Total += r.Covid19Obligations + r.Covid19Outlays
		s.InfrastructureTotal += r.InfrastructureObligations + r.InfrastructureOutlays

		if i == 0 || r.AwardAmount > s.MaxAmount {
			s.MaxAmount = r.AwardAmount
		}

		if i == 0 || r.AwardAmount < s.MinAmount {
			s.MinAmount = r.AwardAmount
		}

		tally(recipients, r.RecipientName, r.AwardAmount)
		tally(agencies, r.AwardingAgency, r.AwardAmount)
		tally(states, r.StateCode, r.AwardAmount)

		// Grants and loans carry no industry code.
		if r.NAICSDescription != "" && r.NAICSDescription != "Unknown" {
			tally(industries, r.NAICSDescription, r.AwardAmount)
		}
	}

	if s.Records > 0 {
		s.MeanAmount = s.TotalAmount / float64(s.Records)
	}

	s.UniqueRecipients = len(recipients)
	s.UniqueAgencies = len(agencies)
	s.TopRecipients = top(recipients, TopLimit)
	s.TopAgencies = top(agencies, TopLimit)
	s.TopStates = top(states, TopLimit)
	s.TopIndustries = top(industries, TopLimit)

	return s
}

func tally(m map[string]*Ranked, key string, amount float64) {
	e, ok := m[key]
	if !ok {
		e = &Ranked{Name: key}
		m[key] = e
	}

	e.Total += amount
	e.Count++
}

func top(m map[string]*Ranked, n int) []Ranked {
	out := make([]Ranked, 0, len(m))
	for _, e := range m {
		out = append(out, *e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Total == out[j].Total {
			return out[i].Name < out[j].Name
		}

		return out[i].Total > out[j].Total
	})

	if len(out) > n {
		out = out[:n]
	}

	return out
}

// Dollars formats an amount as a comma-grouped dollar figure.
func Dollars(v float64) string {
	return "$" + humanize.CommafWithDigits(v, 2)
}

// WriteSummary prints the overview and rankings.
func WriteSummary(w io.Writer, s Summary) error {
	overview := &Table{Headers: []string{"Metric", "Value"}, Align: []Alignment{AlignLeft, AlignRight}}
	overview.AddRow("Records", humanize.Comma(int64(s.Records)))
	overview.AddRow("Unique recipients", humanize.Comma(int64(s.UniqueRecipients)))
	overview.AddRow("Unique agencies", humanize.Comma(int64(s.UniqueAgencies)))
	overview.AddRow("Total award amount", Dollars(s.TotalAmount))
	overview.AddRow("Average award", Dollars(s.MeanAmount))
	overview.AddRow("Largest award", Dollars(s.MaxAmount))
	overview.AddRow("Smallest award", Dollars(s.MinAmount))
	overview.AddRow("COVID-19 spending", Dollars(s.Covid19Total))
	overview.AddRow("Infrastructure spending", Dollars(s.InfrastructureTotal))

	var sb strings.Builder

	sb.WriteString("📊 Data Summary\n\n")
	sb.WriteString(overview.String())
	sb.WriteString("\n")

	sections := []struct {
		title string
		rows  []Ranked
	}{
		{"Top recipients", s.TopRecipients},
		{"Top agencies", s.TopAgencies},
		{"Top states", s.TopStates},
		{"Top industries", s.TopIndustries},
	}

	for _, sec := range sections {
		if len(sec.rows) == 0 {
			continue
		}

		fmt.Fprintf(&sb, "\n%s\n\n", sec.title)
		sb.WriteString(RankingTable(sec.rows).String())
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())

	return err
}

// RankingTable renders a ranking with truncated names.
func RankingTable(rows []Ranked) *Table {
	t := &Table{
		Headers: []string{"#", "Name", "Awards", "Total"},
		Align:   []Alignment{AlignRight, AlignLeft, AlignRight, AlignRight},
	}

	for i, r := range rows {
		t.AddRow(fmt.Sprint(i+1), strs.TruncateString(r.Name, nameWidth), humanize.Comma(int64(r.Count)), Dollars(r.Total))
	}

	return t
}

// RunsTable renders run history newest first.
func RunsTable(runs []history.Run) *Table {
	t := &Table{
		Headers: []string{"Run", "Started", "Group", "Status", "Fetched", "Saved", "Took", "Error"},
		Align:   []Alignment{AlignLeft, AlignLeft, AlignLeft, AlignLeft, AlignRight, AlignRight, AlignRight, AlignLeft},
	}

	for _, r := range runs {
		t.AddRow(
			shortID(r.ID),
			r.StartedAt.Local().Format(time.DateTime),
			r.AwardGroup,
			r.Status,
			humanize.Comma(int64(r.Fetched)),
			humanize.Comma(int64(r.Saved)),
			r.Duration().Round(time.Second).String(),
			strs.TruncateString(r.Error, 40),
		)
	}

	return t
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}
