package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fedspend/internal/config"
	"fedspend/internal/crawler/groups"
	"fedspend/internal/history"
	"fedspend/internal/logger"
	"fedspend/internal/pipeline"
	"fedspend/internal/report"
	"fedspend/internal/storage"
)

// collectFlags holds the overrides accepted by the collect command.
type collectFlags struct {
	group         string
	dataDir       string
	logLevel      string
	limit         int
	limitPerGroup int
	allGroups     bool
}

// loadConfig reads the .env file and the YAML config named by the root flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envPath, _ := cmd.Flags().GetString("env")
	cfgPath, _ := cmd.Flags().GetString("config")

	if envPath != "" {
		if err := config.LoadDotEnv(envPath); err != nil {
			return nil, codeError(exitConfig, "%v", err)
		}
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, codeError(exitConfig, "%v", err)
	}

	return cfg, nil
}

func newCollectCmd() *cobra.Command {
	var flags collectFlags

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch awards, clean them and save a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if err := applyCollectFlags(cmd, cfg, flags); err != nil {
				return err
			}

			return runCollect(cmd, cfg, flags.allGroups)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.group, "group", "", "Award group to collect ("+strings.Join(groups.Names(), ", ")+")")
	f.IntVar(&flags.limit, "limit", 0, "Target number of records")
	f.BoolVar(&flags.allGroups, "all-groups", false, "Collect every award group with a per-group limit")
	f.IntVar(&flags.limitPerGroup, "limit-per-group", 0, "Per-group target when --all-groups is set")
	f.StringVar(&flags.dataDir, "data-dir", "", "Directory for snapshots, backups and logs")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	return cmd
}

func applyCollectFlags(cmd *cobra.Command, cfg *config.Config, flags collectFlags) error {
	c := &cfg.Collector

	if cmd.Flags().Changed("group") {
		c.Collection.AwardGroup = flags.group
	}

	if cmd.Flags().Changed("limit") {
		c.Collection.Limit = flags.limit
	}

	if cmd.Flags().Changed("limit-per-group") {
		c.Collection.LimitPerGroup = flags.limitPerGroup
	}

	if flags.dataDir != "" {
		c.Storage.DataDir = flags.dataDir
	}

	if flags.logLevel != "" {
		c.Logging.Level = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return codeError(exitConfig, "invalid flags: %v", err)
	}

	if flags.allGroups && c.Collection.LimitPerGroup < 1 {
		return codeError(exitConfig, "invalid flags: --limit-per-group must be at least 1")
	}

	return nil
}

func runCollect(cmd *cobra.Command, cfg *config.Config, allGroups bool) error {
	log := logger.NewLoggerWithWriter(cmd.ErrOrStderr(), cfg.Collector.Logging.Level, cfg.Collector.Logging.Format)
	log.Info(fmt.Sprintf("⚙️  %s", cfg))

	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return codeError(exitConfig, "%v", err)
	}

	opts.AllGroups = allGroups

	svc, err := pipeline.Build(cmd.Context(), cfg, log)
	if err != nil {
		return codeError(exitRunFailed, "%v", err)
	}
	defer svc.Close()

	rep, err := svc.Run(cmd.Context(), opts)
	out := cmd.OutOrStdout()

	if err != nil {
		if errors.Is(err, pipeline.ErrQualityRejected) {
			writeRejection(out, rep)

			return codeError(exitQualityReject, "%v", err)
		}

		return codeError(exitRunFailed, "%v", err)
	}

	fmt.Fprintf(out, "Run %s (%s): %s records saved\n", rep.ID, rep.Group, humanize.Comma(int64(rep.Result.Set.Len())))

	for _, p := range rep.Save.Files() {
		fmt.Fprintf(out, "  %s\n", p)
	}

	fmt.Fprintln(out)

	return report.WriteSummary(out, report.Summarize(rep.Result.Set.Records))
}

func writeRejection(w io.Writer, rep *pipeline.RunReport) {
	if rep == nil || rep.Result == nil {
		return
	}

	fmt.Fprintf(w, "Run %s rejected by quality checks:\n", rep.ID)

	for _, msg := range rep.Result.Assessment.Messages() {
		fmt.Fprintf(w, "  - %s\n", msg)
	}

	if len(rep.Result.Assessment.MissingColumns) > 0 {
		fmt.Fprintf(w, "  - missing columns: %s\n", strings.Join(rep.Result.Assessment.MissingColumns, ", "))
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Summarize the latest saved snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			st := cfg.Collector.Storage

			snap, err := storage.LoadLatest(st.DataDir, st.FilePrefix)
			if err != nil {
				return codeError(exitRunFailed, "%v", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Snapshot %s (modified %s)\n\n", snap.Path, humanize.Time(snap.ModTime))

			return report.WriteSummary(out, report.Summarize(snap.Set.Records))
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-check the latest snapshot files against their metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			st := cfg.Collector.Storage
			jsonPath := filepath.Join(st.DataDir, st.FilePrefix+"_latest.json")
			csvPath := filepath.Join(st.DataDir, st.FilePrefix+"_latest.csv")

			doc, err := storage.ReadJSON(jsonPath)
			if err != nil {
				return codeError(exitRunFailed, "cannot read snapshot metadata: %v", err)
			}

			expected := doc.Metadata.TotalRecords
			out := cmd.OutOrStdout()
			failed := 0

			fmt.Fprintf(out, "🔍 Snapshot %s: %s records, hash %s\n",
				doc.Metadata.SavedAt, humanize.Comma(int64(expected)), doc.Metadata.ContentHash)

			for _, p := range []string{csvPath, jsonPath} {
				msg, err := storage.CheckIntegrity(p, expected)
				if err != nil {
					failed++

					fmt.Fprintf(out, "❌ %s: %v\n", filepath.Base(p), err)

					continue
				}

				fmt.Fprintf(out, "✅ %s: %s\n", filepath.Base(p), msg)
			}

			if failed > 0 {
				return codeError(exitRunFailed, "%d of 2 snapshot files failed verification", failed)
			}

			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent collection runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := history.Open(cfg.Collector.Storage.HistoryPath())
			if err != nil {
				return codeError(exitRunFailed, "%v", err)
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return codeError(exitRunFailed, "%v", err)
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet")

				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), report.RunsTable(runs).String())

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")

	return cmd
}

func newGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the award groups and their type codes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			t := &report.Table{Headers: []string{"Group", "Award type codes"}}

			for _, g := range groups.All() {
				t.AddRow(g.Name, strings.Join(g.Codes, ", "))
			}

			fmt.Fprintln(cmd.OutOrStdout(), t.String())
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()

			return enc.Encode(cfg.Redacted())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DefaultConfig().SaveConfig(args[0]); err != nil {
				return codeError(exitRunFailed, "%v", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ Default configuration written to %s\n", args[0])

			return nil
		},
	})

	return cmd
}
