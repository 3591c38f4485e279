package normalizer

import (
	"errors"
	"reflect"
	"testing"

	"fedspend/internal/models"
)

func TestNewQualityGate(t *testing.T) {
	g := NewQualityGate(0.1, 1e12)
	if g == nil {
		t.Fatal("NewQualityGate returned nil")
	}
}

func TestQualityGate_Assess(t *testing.T) {
	g := NewQualityGate(0.1, 1e12)

	clean := make([]models.Award, 0, 20)
	for i := 0; i < 20; i++ {
		clean = append(clean, award(string(rune('a'+i)), "Recipient", float64(i+1)))
	}

	tests := []struct {
		name    string
		records []models.Award
		accept  bool
		wantErr error
		issues  Issues
	}{
		{
			name:    "clean set accepted",
			records: clean,
			accept:  true,
		},
		{
			name:    "empty set rejected",
			records: nil,
			accept:  false,
			wantErr: ErrEmptyRecordSet,
		},
		{
			name: "warnings only accepted",
			records: []models.Award{
				award("A", "x", 0),
				award("B", "y", 2e12),
				{AwardID: "C", RecipientName: "z", AwardAmount: 1},
			},
			accept: true,
			issues: Issues{NonPositiveAmounts: 1, ImplausibleAmounts: 1, BlankAgencies: 1},
		},
		{
			name: "critical issues rejected",
			records: []models.Award{
				award("A", "", 1),
				award("A", "x", 1),
				award("B", "y", 1),
			},
			accept:  false,
			wantErr: ErrTooManyCriticalIssues,
			issues:  Issues{BlankNames: 1, DuplicateIDs: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := g.Assess(models.NewRecordSet(tt.records))

			if a.Accept != tt.accept {
				t.Errorf("Accept = %v, want %v", a.Accept, tt.accept)
			}

			if tt.wantErr != nil && !errors.Is(a.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", a.Err, tt.wantErr)
			}

			if tt.wantErr == nil && a.Err != nil {
				t.Errorf("unexpected error: %v", a.Err)
			}

			if a.Issues != tt.issues {
				t.Errorf("Issues = %+v, want %+v", a.Issues, tt.issues)
			}
		})
	}
}

func TestQualityGate_ThresholdBoundary(t *testing.T) {
	g := NewQualityGate(0.1, 1e12)

	// 1 critical issue in 10 records is exactly 10%: accepted.
	records := make([]models.Award, 0, 10)
	for i := 0; i < 9; i++ {
		records = append(records, award(string(rune('a'+i)), "r", 1))
	}

	records = append(records, award("z", " ", 1))

	if a := g.Assess(models.NewRecordSet(records)); !a.Accept {
		t.Errorf("expected acceptance at exactly the threshold, got %v", a.Err)
	}

	records[0].RecipientName = ""

	if a := g.Assess(models.NewRecordSet(records)); a.Accept {
		t.Error("expected rejection above the threshold")
	}
}

func TestQualityGate_MissingColumns(t *testing.T) {
	g := NewQualityGate(0.1, 1e12)

	set := models.RecordSet{
		Columns: []string{"award_id", "recipient_name", "award_amount"},
		Records: []models.Award{award("A", "r", 1)},
	}

	a := g.Assess(set)
	if a.Accept {
		t.Fatal("expected rejection for missing columns")
	}

	if !errors.Is(a.Err, ErrMissingColumns) {
		t.Errorf("Err = %v, want ErrMissingColumns", a.Err)
	}

	want := []string{"awarding_agency", "fetched_at"}
	if !reflect.DeepEqual(a.MissingColumns, want) {
		t.Errorf("MissingColumns = %v, want %v", a.MissingColumns, want)
	}
}

func TestAssessment_Messages(t *testing.T) {
	a := Assessment{Issues: Issues{BlankNames: 2, DuplicateIDs: 1}}

	msgs := a.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", msgs)
	}

	if !a.Issues.Any() || a.Issues.Critical() != 3 {
		t.Errorf("unexpected issue totals: %+v", a.Issues)
	}
}
