// Package storage persists award snapshots as CSV and JSON files with backups.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"fedspend/internal/logger"
	"fedspend/internal/models"
)

// Persistence errors.
var (
	ErrEmptySnapshot = errors.New("cannot save an empty record set")
	ErrNotWritable   = errors.New("data directory is not writable")
	ErrIntegrity     = errors.New("snapshot integrity check failed")
)

// File names inside the data directory.
const (
	BackupDirName     = "backups"
	SaveLogName       = "save_operations.log"
	ValidationLogName = "file_validation.log"
	writeTestName    = "temp_write_test.txt"
	timestampLayout   = "20060102_150405"
)

// Options configures a Writer.
type Options struct {
	Dir             string
	Prefix          string
	BackupRetention int
	MinFreeMB       int
}

// EnvReport describes the data directory before a save.
type EnvReport struct {
	FreeBytes uint64
	FreeKnown bool
	LowSpace  bool
}

// SaveResult lists everything a successful save produced.
type SaveResult struct {
	Metadata   SnapshotMetadata
	Timestamp  string
	CSVPath    string
	JSONPath   string
	LatestCSV  string
	LatestJSON string
	Backups    []string
	Checks     []FileCheck
	Warnings   []string
	Pruned     int
	Env        EnvReport
}

// Files returns the four snapshot files written.
func (r *SaveResult) Files() []string {
	return []string{r.CSVPath, r.LatestCSV, r.JSONPath, r.LatestJSON}
}

// Writer saves record sets to a data directory.
type Writer struct {
	log  *logger.Logger
	now  func() time.Time
	opts Options
}

// NewWriter creates a writer. Zero retention keeps 10 backups per type.
func NewWriter(opts Options, log *logger.Logger) *Writer {
	if opts.BackupRetention <= 0 {
		opts.BackupRetention = 10
	}

	if opts.Prefix == "" {
		opts.Prefix = "spending_data_useful"
	}

	return &Writer{
		log:  log,
		now:  time.Now,
		opts: opts,
	}
}

// LatestName returns the file name of the latest snapshot for ext ("csv" or "json").
func (w *Writer) LatestName(ext string) string {
	return fmt.Sprintf("%s_latest.%s", w.opts.Prefix, ext)
}

// CheckEnvironment creates the data directory, checks it is writable and
// checks free space. Only an unwritable directory is an error.
func (w *Writer) CheckEnvironment() (EnvReport, error) {
	var report EnvReport

	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return report, fmt.Errorf("%w: %w", ErrNotWritable, err)
	}

	testFile := filepath.Join(w.opts.Dir, writeTestName)
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return report, fmt.Errorf("%w: %w", ErrNotWritable, err)
	}

	if err := os.Remove(testFile); err != nil {
		return report, fmt.Errorf("%w: %w", ErrNotWritable, err)
	}

	free, err := freeBytes(w.opts.Dir)
	if err != nil {
		w.log.Warn(fmt.Sprintf("Could not check disk space: %v", err))

		return report, nil
	}

	report.FreeBytes = free
	report.FreeKnown = true
	report.LowSpace = free < uint64(w.opts.MinFreeMB)*1024*1024

	if report.LowSpace {
		w.log.Warn(fmt.Sprintf("⚠️  Low disk space: %s available", humanize.IBytes(free)))
	} else {
		w.log.Debug(fmt.Sprintf("Available disk space: %s", humanize.IBytes(free)))
	}

	return report, nil
}

// Save writes timestamped and latest CSV and JSON snapshots, verifies each,
// then backs up the latest files and appends to the operation logs.
func (w *Writer) Save(set models.RecordSet, info RunInfo) (*SaveResult, error) {
	if set.Len() == 0 {
		return nil, ErrEmptySnapshot
	}

	env, err := w.CheckEnvironment()
	if err != nil {
		return nil, err
	}

	now := w.now()
	ts := now.Format(timestampLayout)

	meta, err := BuildMetadata(set, info, now)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata: %w", err)
	}

	result := &SaveResult{
		Metadata:   meta,
		Timestamp:  ts,
		Env:        env,
		CSVPath:    filepath.Join(w.opts.Dir, fmt.Sprintf("%s_%s.csv", w.opts.Prefix, ts)),
		JSONPath:   filepath.Join(w.opts.Dir, fmt.Sprintf("%s_%s.json", w.opts.Prefix, ts)),
		LatestCSV:  filepath.Join(w.opts.Dir, w.LatestName("csv")),
		LatestJSON: filepath.Join(w.opts.Dir, w.LatestName("json")),
	}

	if env.LowSpace {
		result.Warnings = append(result.Warnings, "low disk space")
	}

	w.log.Info(fmt.Sprintf("💾 Saving %d records with %d columns to %s", set.Len(), len(set.Columns), w.opts.Dir))

	csvErr := w.writePair(result.CSVPath, result.LatestCSV, set.Len(), func(out io.Writer) error {
		return EncodeCSV(out, set)
	})

	doc := Document{Metadata: meta, Records: set.Records}
	jsonErr := w.writePair(result.JSONPath, result.LatestJSON, set.Len(), func(out io.Writer) error {
		return EncodeJSON(out, doc)
	})

	if err := errors.Join(csvErr, jsonErr); err != nil {
		return result, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}

	backups, pruned, err := w.Backup(ts)
	if err != nil {
		w.log.Warn(fmt.Sprintf("⚠️  Could not create backups: %v", err))
		result.Warnings = append(result.Warnings, "backup failed: "+err.Error())
	}

	result.Backups = backups
	result.Pruned = pruned

	result.Checks = ValidateFiles(result.Files(), set.Len())
	if err := w.appendValidationLog(now, result.Checks); err != nil {
		w.log.Warn(fmt.Sprintf("Could not write validation log: %v", err))
	}

	for _, c := range result.Checks {
		if !c.Valid() {
			return result, fmt.Errorf("%w: %s: %s", ErrIntegrity, c.Name, c.Error)
		}
	}

	if err := w.appendSaveLog(now, meta, result.Files()); err != nil {
		w.log.Warn(fmt.Sprintf("Could not write save log: %v", err))
	}

	w.log.Info(fmt.Sprintf("✅ Saved and validated %d files in %s", len(result.Files()), w.opts.Dir))

	return result, nil
}

// writePair writes the timestamped file, checks it, then does the same for latest.
func (w *Writer) writePair(stamped, latest string, expected int, encode func(io.Writer) error) error {
	for _, path := range []string{stamped, latest} {
		if err := writeAtomic(path, encode); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}

		msg, err := CheckIntegrity(path, expected)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}

		w.log.Debug(fmt.Sprintf("Integrity verified: %s (%s)", filepath.Base(path), msg))
	}

	return nil
}

// writeAtomic writes through a temp file and renames it into place so readers
// never observe a partial file.
func writeAtomic(path string, encode func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = encode(tmp); err != nil {
		_ = tmp.Close()

		return err
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	return nil
}

// Backup copies both latest files into the backups directory and prunes each
// type to the retention count. It returns the created paths and how many old
// backups were removed.
func (w *Writer) Backup(ts string) ([]string, int, error) {
	dir := filepath.Join(w.opts.Dir, BackupDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, 0, err
	}

	var created []string

	pruned := 0

	for _, ext := range []string{"csv", "json"} {
		name := w.LatestName(ext)
		src := filepath.Join(w.opts.Dir, name)

		if _, err := os.Stat(src); err != nil {
			continue
		}

		dst := filepath.Join(dir, fmt.Sprintf("backup_%s_%s", ts, name))
		if err := copyFile(src, dst); err != nil {
			return created, pruned, fmt.Errorf("failed to back up %s: %w", name, err)
		}

		created = append(created, dst)

		n, err := pruneBackups(dir, name, w.opts.BackupRetention)
		pruned += n

		if err != nil {
			return created, pruned, err
		}
	}

	if pruned > 0 {
		w.log.Info(fmt.Sprintf("Cleaned up %d old backups", pruned))
	}

	return created, pruned, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	if err := out.Close(); err != nil {
		return err
	}

	// Keep the source mtime so retention follows snapshot age.
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// pruneBackups keeps the newest keep backups of one latest file by mtime.
func pruneBackups(dir, latestName string, keep int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	type backup struct {
		mod  time.Time
		name string
	}

	var backups []backup

	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "backup_") || !strings.HasSuffix(e.Name(), "_"+latestName) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		backups = append(backups, backup{mod: info.ModTime(), name: e.Name()})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].mod.Equal(backups[j].mod) {
			return backups[i].name > backups[j].name
		}

		return backups[i].mod.After(backups[j].mod)
	})

	removed := 0

	for i := keep; i < len(backups); i++ {
		if err := os.Remove(filepath.Join(dir, backups[i].name)); err != nil {
			return removed, err
		}

		removed++
	}

	return removed, nil
}

func (w *Writer) appendValidationLog(now time.Time, checks []FileCheck) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "\n[%s] File Validation Results:\n", now.Format("2006-01-02 15:04:05"))
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	for _, c := range checks {
		fmt.Fprintf(&sb, "File: %s\n", c.Name)
		fmt.Fprintf(&sb, "  exists: %t\n", c.Exists)
		fmt.Fprintf(&sb, "  size_bytes: %d\n", c.SizeBytes)
		fmt.Fprintf(&sb, "  format: %s\n", c.Format)
		fmt.Fprintf(&sb, "  rows: %d\n", c.Rows)
		fmt.Fprintf(&sb, "  columns: %d\n", c.Columns)
		fmt.Fprintf(&sb, "  has_required_columns: %t\n", c.HasRequiredColumns)

		if c.Format == "JSON" {
			fmt.Fprintf(&sb, "  has_metadata: %t\n", c.HasMetadata)
		}

		if c.Error != "" {
			fmt.Fprintf(&sb, "  error: %s\n", c.Error)
		}

		sb.WriteString(strings.Repeat("-", 30) + "\n")
	}

	return appendFile(filepath.Join(w.opts.Dir, ValidationLogName), sb.String())
}

func (w *Writer) appendSaveLog(now time.Time, meta SnapshotMetadata, files []string) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "\n[%s] Successful Save Operation\n", now.Format("2006-01-02 15:04:05"))
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	if meta.RunID != "" {
		fmt.Fprintf(&sb, "Run: %s\n", meta.RunID)
	}

	fmt.Fprintf(&sb, "Records saved: %d\n", meta.TotalRecords)
	fmt.Fprintf(&sb, "Columns saved: %d\n", meta.TotalColumns)
	fmt.Fprintf(&sb, "Total award amount: $%s\n", humanize.CommafWithDigits(meta.TotalAmount, 2))
	fmt.Fprintf(&sb, "COVID-19 spending: $%s\n", humanize.CommafWithDigits(meta.Covid19Total, 2))
	fmt.Fprintf(&sb, "Infrastructure spending: $%s\n", humanize.CommafWithDigits(meta.InfrastructureTotal, 2))
	sb.WriteString("Files created:\n")

	for _, f := range files {
		size := int64(0)
		if info, err := os.Stat(f); err == nil {
			size = info.Size()
		}

		fmt.Fprintf(&sb, "  - %s: %s (%s bytes)\n", filepath.Base(f), humanize.Bytes(uint64(size)), humanize.Comma(size))
	}

	sb.WriteString(strings.Repeat("-", 50) + "\n")

	return appendFile(filepath.Join(w.opts.Dir, SaveLogName), sb.String())
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()

		return err
	}

	return f.Close()
}
