package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fedspend/internal/normalizer"
)

// FileCheck is the post-save validation of one snapshot file.
type FileCheck struct {
	Name               string
	Path               string
	Format             string
	Error              string
	SizeBytes          int64
	Rows               int
	Columns            int
	Exists             bool
	HasRequiredColumns bool
	HasMetadata        bool
}

// Valid reports whether the file exists, parses and declares the required columns.
func (c FileCheck) Valid() bool {
	return c.Exists && c.Error == "" && c.HasRequiredColumns
}

// CheckIntegrity re-reads a written snapshot and confirms it holds expected
// rows. JSON snapshots must also match their content hash.
func CheckIntegrity(path string, expected int) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		set, err := ReadCSV(path)
		if err != nil {
			return "", err
		}

		if set.Len() != expected {
			return "", fmt.Errorf("row count mismatch: expected %d, got %d", expected, set.Len())
		}

		return fmt.Sprintf("CSV verified: %d rows", set.Len()), nil
	case ".json":
		doc, err := ReadJSON(path)
		if err != nil {
			return "", err
		}

		if len(doc.Records) != expected {
			return "", fmt.Errorf("record count mismatch: expected %d, got %d", expected, len(doc.Records))
		}

		if err := doc.VerifyContent(); err != nil {
			return "", err
		}

		return fmt.Sprintf("JSON verified: %d records", len(doc.Records)), nil
	default:
		return "", fmt.Errorf("unsupported snapshot format: %s", path)
	}
}

// ValidateFiles inspects each saved file. A file with a row count different
// from expected is reported with an error.
func ValidateFiles(paths []string, expected int) []FileCheck {
	checks := make([]FileCheck, 0, len(paths))

	for _, p := range paths {
		checks = append(checks, validateFile(p, expected))
	}

	return checks
}

func validateFile(path string, expected int) FileCheck {
	check := FileCheck{
		Name: filepath.Base(path),
		Path: path,
	}

	info, err := os.Stat(path)
	if err != nil {
		check.Error = err.Error()

		return check
	}

	check.Exists = true
	check.SizeBytes = info.Size()

	var columns []string

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		check.Format = "CSV"

		set, err := ReadCSV(path)
		if err != nil {
			check.Error = err.Error()

			return check
		}

		check.Rows = set.Len()
		columns = set.Columns
	case ".json":
		check.Format = "JSON"

		doc, err := ReadJSON(path)
		if err != nil {
			check.Error = err.Error()

			return check
		}

		check.HasMetadata = doc.Metadata.ContentHash != ""
		check.Rows = len(doc.Records)
		columns = doc.RecordSet().Columns
	default:
		check.Error = "unsupported format"

		return check
	}

	check.Columns = len(columns)
	check.HasRequiredColumns = hasAll(columns, normalizer.RequiredColumns)

	if check.Rows != expected {
		check.Error = fmt.Sprintf("expected %d rows, found %d", expected, check.Rows)
	}

	return check
}

func hasAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}

	for _, c := range want {
		if !set[c] {
			return false
		}
	}

	return true
}
