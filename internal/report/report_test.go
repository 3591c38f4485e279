package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"fedspend/internal/history"
	"fedspend/internal/models"
)

func TestTable_Lines(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		want  []string
	}{
		{
			name:  "empty",
			table: Table{},
			want:  nil,
		},
		{
			name: "short columns padded to three",
			table: Table{
				Headers: []string{"A", "B"},
				Rows:    [][]string{{"x", "yy"}},
			},
			want: []string{
				"| A   | B   |",
				"| --- | --- |",
				"| x   | yy  |",
			},
		},
		{
			name: "right aligned",
			table: Table{
				Headers: []string{"Name", "Total"},
				Align:   []Alignment{AlignLeft, AlignRight},
				Rows:    [][]string{{"Acme", "$1.00"}, {"B", "$100.00"}},
			},
			want: []string{
				"| Name | Total   |",
				"| ---- | ------- |",
				"| Acme |   $1.00 |",
				"| B    | $100.00 |",
			},
		},
		{
			name: "ragged rows",
			table: Table{
				Headers: []string{"A"},
				Rows:    [][]string{{"1", "2"}},
			},
			want: []string{
				"| A   |     |",
				"| --- | --- |",
				"| 1   | 2   |",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.table.Lines()
			if strings.Join(got, "\n") != strings.Join(tt.want, "\n") {
				t.Errorf("Lines() =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(tt.want, "\n"))
			}
		})
	}
}

func TestTable_WideRunes(t *testing.T) {
	table := Table{Headers: []string{"Name", "X"}, Rows: [][]string{{"日本", "1"}, {"abcd", "2"}}}

	lines := table.Lines()
	width := runewidth.StringWidth(lines[0])

	for _, l := range lines {
		if runewidth.StringWidth(l) != width {
			t.Errorf("line %q has width %d, want %d", l, runewidth.StringWidth(l), width)
		}
	}
}

func award(recipient, agency, state, naics string, amount float64) models.Award {
	a := models.Defaults()
	a.RecipientName = recipient
	a.AwardingAgency = agency
	a.StateCode = state
	a.NAICSDescription = naics
	a.AwardAmount = amount

	return a
}

func TestSummarize(t *testing.T) {
	records := []models.Award{
		award("Acme", "DOD", "VA", "Engineering", 500),
		award("Acme", "DOD", "VA", "Engineering", 300),
		award("Beta", "DOE", "TX", "Unknown", 100),
		award("Gamma", "NASA", "TX", "Research", 50),
	}
	records[0].Covid19Outlays = 10
	records[3].InfrastructureObligations = 5

	s := Summarize(records)

	if s.Records != 4 || s.TotalAmount != 950 || s.MeanAmount != 237.5 || s.MaxAmount != 500 || s.MinAmount != 50 {
		t.Errorf("unexpected totals: %+v", s)
	}

	if s.UniqueRecipients != 3 || s.UniqueAgencies != 3 || s.Covid19Total != 10 || s.InfrastructureTotal != 5 {
		t.Errorf("unexpected counts: %+v", s)
	}

	if s.TopRecipients[0].Name != "Acme" || s.TopRecipients[0].Total != 800 || s.TopRecipients[0].Count != 2 {
		t.Errorf("unexpected top recipient: %+v", s.TopRecipients[0])
	}

	if s.TopStates[0].Name != "VA" || s.TopStates[1].Total != 150 {
		t.Errorf("unexpected states: %+v", s.TopStates)
	}

	if len(s.TopIndustries) != 2 {
		t.Errorf("unknown industry should be excluded: %+v", s.TopIndustries)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	if s.Records != 0 || s.MeanAmount != 0 || len(s.TopRecipients) != 0 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer

	records := []models.Award{award("Acme", "DOD", "VA", "Engineering", 1234567.891)}
	if err := WriteSummary(&buf, Summarize(records)); err != nil {
		t.Fatalf("WriteSummary returned error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Data Summary", "$1,234,567.89", "Top recipients", "1 | Acme"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunsTable(t *testing.T) {
	start := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	runs := []history.Run{{
		ID:         "0123456789abcdef",
		AwardGroup: "contracts",
		Status:     history.StatusRejected,
		StartedAt:  start,
		FinishedAt: start.Add(61 * time.Second),
		Fetched:    12000,
	}}

	out := RunsTable(runs).String()
	for _, want := range []string{"01234567 ", "rejected", "12,000", "1m1s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
