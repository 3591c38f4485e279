// Package sink mirrors saved snapshots into external stores.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fedspend/internal/logger"
	"fedspend/internal/models"
)

// ErrMissingDSN is returned when the sink is opened without a connection string.
var ErrMissingDSN = errors.New("postgres DSN is required")

// Sink receives cleaned award records after a successful save.
type Sink interface {
	Write(ctx context.Context, records []models.Award) (int, error)
	Close()
}

// DB is the subset of a pgx pool the sink needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Options configures the Postgres sink.
type Options struct {
	DSN       string
	Schema    string
	BatchSize int
	MaxConns  int
}

// PostgresSink upserts awards into "<schema>".federal_awards.
type PostgresSink struct {
	db        DB
	close     func()
	log       *logger.Logger
	schema    string
	batchSize int
}

// OpenPostgres connects a pool and ensures the awards table exists.
func OpenPostgres(ctx context.Context, opts Options, log *logger.Logger) (*PostgresSink, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, ErrMissingDSN
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}

	if opts.MaxConns <= 0 {
		opts.MaxConns = 2
	}

	cfg.MaxConns = int32(opts.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := NewPostgresSink(pool, opts, log)
	s.close = pool.Close

	if err := s.EnsureTable(ctx); err != nil {
		pool.Close()

		return nil, err
	}

	return s, nil
}

// NewPostgresSink wraps an existing connection.
func NewPostgresSink(db DB, opts Options, log *logger.Logger) *PostgresSink {
	if opts.Schema == "" {
		opts.Schema = "public"
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}

	return &PostgresSink{
		db:        db,
		close:     func() {},
		log:       log,
		schema:    opts.Schema,
		batchSize: opts.BatchSize,
	}
}

// Close releases the pool.
func (s *PostgresSink) Close() {
	s.close()
}

func (s *PostgresSink) table() string {
	return fmt.Sprintf(`"%s".federal_awards`, strings.ReplaceAll(s.schema, `"`, `""`))
}

// EnsureTable creates the schema and awards table if missing.
func (s *PostgresSink) EnsureTable(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL(s.schema, s.table())); err != nil {
		return fmt.Errorf("failed to create awards table: %w", err)
	}

	return nil
}

func createTableSQL(schema, table string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `CREATE SCHEMA IF NOT EXISTS "%s";`+"\n", strings.ReplaceAll(schema, `"`, `""`))
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", table)

	for _, f := range models.Fields {
		typ := "TEXT"
		if f.Kind == models.KindMoney {
			typ = "DOUBLE PRECISION NOT NULL DEFAULT 0"
		}

		if f.Column == "award_id" {
			typ = "TEXT PRIMARY KEY"
		}

		fmt.Fprintf(&sb, "\t%s %s,\n", f.Column, typ)
	}

	sb.WriteString("\tloaded_at TIMESTAMPTZ NOT NULL DEFAULT now()\n)")

	return sb.String()
}

func upsertSQL(table string) string {
	columns := models.ColumnNames()
	placeholders := make([]string, len(columns))
	updates := make([]string, 0, len(columns))

	for i, c := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)

		if c != "award_id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}

	updates = append(updates, "loaded_at = now()")

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (award_id) DO UPDATE SET %s",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ","), strings.Join(updates, ", "))
}

func rowArgs(a *models.Award) []any {
	args := make([]any, len(models.Fields))

	for i, f := range models.Fields {
		if f.Kind == models.KindMoney {
			args[i] = f.Money(a)
		} else {
			args[i] = f.Text(a)
		}
	}

	return args
}

// Write upserts records in batches and returns the number of rows affected.
// Records without an award id are skipped.
func (s *PostgresSink) Write(ctx context.Context, records []models.Award) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := upsertSQL(s.table())
	total := 0

	for i := 0; i < len(records); i += s.batchSize {
		j := min(i+s.batchSize, len(records))

		b := &pgx.Batch{}
		count := 0

		for k := i; k < j; k++ {
			if strings.TrimSpace(records[k].AwardID) == "" {
				continue
			}

			b.Queue(query, rowArgs(&records[k])...)
			count++
		}

		if count == 0 {
			continue
		}

		br := s.db.SendBatch(ctx, b)

		for k := 0; k < count; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()

				return total, fmt.Errorf("failed to upsert batch at record %d: %w", i, err)
			}

			total += int(tag.RowsAffected())
		}

		if err := br.Close(); err != nil {
			return total, fmt.Errorf("failed to close batch: %w", err)
		}
	}

	s.log.Info(fmt.Sprintf("🐘 Upserted %d awards into %s", total, s.table()))

	return total, nil
}
