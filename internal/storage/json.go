package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"fedspend/internal/models"
	"fedspend/pkg/metadata"
)

// DataSource names the upstream API in snapshot metadata.
const DataSource = "USAspending.gov API"

// ErrMalformedJSON is returned for JSON content that is not a snapshot document.
var ErrMalformedJSON = errors.New("malformed JSON snapshot")

// SnapshotMetadata summarizes a persisted snapshot.
type SnapshotMetadata struct {
	SavedAt             string   `json:"saved_at"`
	DataSource          string   `json:"data_source"`
	RunID               string   `json:"run_id,omitempty"`
	AwardGroup          string   `json:"award_group,omitempty"`
	FileFormatVersion   string   `json:"file_format_version"`
	ContentHash         string   `json:"content_hash"`
	Columns             []string `json:"columns"`
	TotalRecords        int      `json:"total_records"`
	TotalColumns        int      `json:"total_columns"`
	UniqueRecipients    int      `json:"unique_recipients"`
	UniqueAgencies      int      `json:"unique_agencies"`
	TotalAmount         float64  `json:"total_amount"`
	AverageAmount       float64  `json:"average_amount"`
	LargestAmount       float64  `json:"largest_amount"`
	SmallestAmount      float64  `json:"smallest_amount"`
	Covid19Total        float64  `json:"covid_19_total"`
	InfrastructureTotal float64  `json:"infrastructure_total"`
}

// Document is the JSON snapshot layout.
type Document struct {
	Metadata SnapshotMetadata `json:"metadata"`
	Records  []models.Award   `json:"records"`
}

// RunInfo identifies the run that produced a snapshot.
type RunInfo struct {
	RunID      string
	AwardGroup string
}

// BuildMetadata computes summary statistics and the content hash.
func BuildMetadata(set models.RecordSet, info RunInfo, now time.Time) (SnapshotMetadata, error) {
	stamp, err := metadata.Sign(set.Records, now)
	if err != nil {
		return SnapshotMetadata{}, err
	}

	meta := SnapshotMetadata{
		TotalRecords:      set.Len(),
		TotalColumns:      len(set.Columns),
		SavedAt:           now.Format(time.RFC3339),
		DataSource:        DataSource,
		RunID:             info.RunID,
		AwardGroup:        info.AwardGroup,
		FileFormatVersion: stamp.Version,
		ContentHash:       stamp.Hash,
		Columns:           set.Columns,
	}

	recipients := make(map[string]bool)
	agencies := make(map[string]bool)

	for i := range set.Records {
		r := &set.Records[i]

		meta.TotalAmount += r.AwardAmount
		meta.Covid19Total += r.Covid19Obligations + r.Covid19Outlays
		meta.InfrastructureTotal += r.InfrastructureObligations + r.InfrastructureOutlays

		if i == 0 || r.AwardAmount > meta.LargestAmount {
			meta.LargestAmount = r.AwardAmount
		}

		if i == 0 || r.AwardAmount < meta.SmallestAmount {
			meta.SmallestAmount = r.AwardAmount
		}

		recipients[r.RecipientName] = true
		agencies[r.AwardingAgency] = true
	}

	if set.Len() > 0 {
		meta.AverageAmount = meta.TotalAmount / float64(set.Len())
	}

	meta.UniqueRecipients = len(recipients)
	meta.UniqueAgencies = len(agencies)

	return meta, nil
}

// EncodeJSON writes an indented snapshot document.
func EncodeJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode JSON snapshot: %w", err)
	}

	return nil
}

// DecodeJSON reads a snapshot document.
func DecodeJSON(r io.Reader) (Document, error) {
	var doc Document

	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrMalformedJSON, err)
	}

	return doc, nil
}

// ReadJSON loads a JSON snapshot from disk.
func ReadJSON(path string) (Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	return DecodeJSON(file)
}

// RecordSet returns the document's records with its declared columns.
func (d Document) RecordSet() models.RecordSet {
	columns := d.Metadata.Columns
	if len(columns) == 0 {
		columns = models.ColumnNames()
	}

	return models.RecordSet{Columns: columns, Records: d.Records}
}

// VerifyContent checks the records against the stored content hash.
func (d Document) VerifyContent() error {
	_, err := metadata.Verify(d.Records, d.Metadata.ContentHash)

	return err
}
