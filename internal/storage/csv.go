package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"fedspend/internal/models"
)

// ErrMalformedCSV is returned for CSV content that does not fit the schema.
var ErrMalformedCSV = errors.New("malformed CSV")

// naTokens are written as empty cells and read back as missing values.
var naTokens = map[string]bool{
	"":     true,
	"nan":  true,
	"NaN":  true,
	"null": true,
	"NULL": true,
	"None": true,
	"<NA>": true,
}

// IsNA reports whether a cell value counts as missing.
func IsNA(s string) bool {
	return naTokens[s]
}

// EncodeCSV writes the header and one row per record.
func EncodeCSV(w io.Writer, set models.RecordSet) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(models.ColumnNames()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := make([]string, len(models.Fields))

	for i := range set.Records {
		for j, f := range models.Fields {
			v := f.Format(&set.Records[i])
			if IsNA(v) {
				v = ""
			}

			row[j] = v
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i+1, err)
		}
	}

	cw.Flush()

	return cw.Error()
}

// DecodeCSV reads a CSV table. Columns outside the schema are ignored and
// missing cells take the column default.
func DecodeCSV(r io.Reader) (models.RecordSet, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return models.RecordSet{}, fmt.Errorf("%w: no header", ErrMalformedCSV)
		}

		return models.RecordSet{}, fmt.Errorf("%w: %w", ErrMalformedCSV, err)
	}

	fields := make([]*models.Field, len(header))
	columns := make([]string, 0, len(header))

	for i, name := range header {
		if f, ok := models.FieldByColumn(name); ok {
			fields[i] = &f
			columns = append(columns, name)
		}
	}

	set := models.RecordSet{Columns: columns}
	line := 1

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		line++

		if err != nil {
			return set, fmt.Errorf("%w: line %d: %w", ErrMalformedCSV, line, err)
		}

		award := models.Defaults()

		for i, cell := range rec {
			f := fields[i]
			if f == nil || IsNA(cell) {
				continue
			}

			if f.Kind == models.KindMoney {
				v, perr := strconv.ParseFloat(cell, 64)
				if perr != nil {
					return set, fmt.Errorf("%w: line %d: column %s: %w", ErrMalformedCSV, line, f.Column, perr)
				}

				f.SetMoney(&award, v)

				continue
			}

			f.SetText(&award, cell)
		}

		set.Records = append(set.Records, award)
	}

	return set, nil
}

// ReadCSV loads a CSV snapshot from disk.
func ReadCSV(path string) (models.RecordSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.RecordSet{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	return DecodeCSV(file)
}
