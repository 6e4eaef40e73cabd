package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/evidence"
	"mercator-hq/warden/pkg/evidence/export"
	"mercator-hq/warden/pkg/evidence/recorder"
	"mercator-hq/warden/pkg/evidence/retention"
	"mercator-hq/warden/pkg/evidence/storage"
)

var evidenceFlags struct {
	db       string
	since    string
	until    string
	policy   string
	client   string
	model    string
	outcome  string
	kind     string
	minCost  float64
	limit    int
	offset   int
	format   string
	exportAs string
	output   string
	pretty   bool
	progress bool

	retentionDays int
	maxRecords    int64
	archivePath   string
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Query and maintain the audit trail",
	Long: `Query, export, verify, and prune the evidence records written by the
gateway. Records hold the governance decision for each request, never the
prompt or completion text.

Subcommands:
  query   - List records matching filters
  export  - Write matching records as JSON or CSV
  verify  - Check every record's digest
  prune   - Apply the retention policy now

Time flags accept RFC3339 timestamps or a duration meaning "this long ago":
  --since 24h --until 2026-01-02T00:00:00Z

Examples:
  # Recent blocks for one policy
  warden evidence query --since 1h --policy strict --outcome blocked

  # Export a day as CSV
  warden evidence export --since 2026-01-01T00:00:00Z --until 2026-01-02T00:00:00Z --format csv -o day.csv

  # Check the trail has not been altered
  warden evidence verify`,
}

var evidenceQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List records matching filters",
	Args:  cobra.NoArgs,
	RunE:  queryEvidence,
}

var evidenceExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write matching records as JSON or CSV",
	Long: `Stream every matching record, oldest first, to a file or stdout.
The JSON form is an array of records; the CSV form has one header row.`,
	Args: cobra.NoArgs,
	RunE: exportEvidence,
}

var evidenceVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every record's digest",
	Long: `Recompute the digest of every matching record and report any that do
not match. Exits non-zero when a record fails.`,
	Args: cobra.NoArgs,
	RunE: verifyEvidence,
}

var evidencePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy now",
	Long: `Delete records older than the retention period and, when a record cap is
set, the oldest records beyond it. Records are archived first when an
archive path is configured. Flags override the configured values.`,
	Args: cobra.NoArgs,
	RunE: pruneEvidence,
}

func init() {
	rootCmd.AddCommand(evidenceCmd)
	evidenceCmd.AddCommand(evidenceQueryCmd, evidenceExportCmd, evidenceVerifyCmd, evidencePruneCmd)

	pf := evidenceCmd.PersistentFlags()
	pf.StringVar(&evidenceFlags.db, "db", "", "evidence database path (uses config if not specified)")

	for _, c := range []*cobra.Command{evidenceQueryCmd, evidenceExportCmd, evidenceVerifyCmd} {
		f := c.Flags()
		f.StringVar(&evidenceFlags.since, "since", "", "records at or after this time")
		f.StringVar(&evidenceFlags.until, "until", "", "records at or before this time")
		f.StringVar(&evidenceFlags.policy, "policy", "", "filter by policy")
		f.StringVar(&evidenceFlags.client, "client", "", "filter by client identity")
		f.StringVar(&evidenceFlags.model, "model", "", "filter by routed model")
		f.StringVar(&evidenceFlags.outcome, "outcome", "", "filter by outcome (served, cached, blocked, canceled)")
		f.StringVar(&evidenceFlags.kind, "kind", "", "filter by blocked kind")
		f.Float64Var(&evidenceFlags.minCost, "min-cost", 0, "minimum actual cost")
	}

	evidenceQueryCmd.Flags().IntVar(&evidenceFlags.limit, "limit", evidence.DefaultQueryLimit, "max results")
	evidenceQueryCmd.Flags().IntVar(&evidenceFlags.offset, "offset", 0, "pagination offset")
	evidenceQueryCmd.Flags().StringVarP(&evidenceFlags.format, "format", "f", "text", "output format: text, json, yaml, csv")

	evidenceExportCmd.Flags().StringVar(&evidenceFlags.exportAs, "format", "json", "export format: json, csv")
	evidenceExportCmd.Flags().StringVarP(&evidenceFlags.output, "output", "o", "", "output file (default: stdout)")
	evidenceExportCmd.Flags().BoolVar(&evidenceFlags.pretty, "pretty", false, "indent JSON output")
	evidenceExportCmd.Flags().BoolVar(&evidenceFlags.progress, "progress", false, "report progress on stderr")

	evidencePruneCmd.Flags().IntVar(&evidenceFlags.retentionDays, "retention-days", 0, "delete records older than this many days")
	evidencePruneCmd.Flags().Int64Var(&evidenceFlags.maxRecords, "max-records", 0, "keep at most this many records")
	evidencePruneCmd.Flags().StringVar(&evidenceFlags.archivePath, "archive", "", "archive directory for deleted records")
}

// openEvidence opens the configured evidence store.
func openEvidence() (evidence.Storage, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := setupLogging(cfg, "error", true); err != nil {
		return nil, nil, err
	}

	path := cfg.Evidence.Path
	if evidenceFlags.db != "" {
		path = evidenceFlags.db
	} else if cfg.Evidence.Backend == "memory" {
		return nil, nil, cli.NewConfigError("evidence.backend", "the memory backend keeps no records between runs; pass --db")
	}

	scfg := storage.DefaultSQLiteConfig()
	scfg.Path = path
	store, err := storage.NewSQLiteStorage(scfg)
	if err != nil {
		return nil, nil, cli.NewCommandError("evidence", err)
	}
	return store, cfg, nil
}

// parseTimeFlag accepts an RFC3339 timestamp or a duration before now.
func parseTimeFlag(name, value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return nil, cli.NewConfigError("--"+name, fmt.Sprintf("%q is neither an RFC3339 time nor a positive duration", value))
	}
	t := now.Add(-d)
	return &t, nil
}

// buildQuery turns the filter flags into a query.
func buildQuery(now time.Time) (*evidence.Query, error) {
	since, err := parseTimeFlag("since", evidenceFlags.since, now)
	if err != nil {
		return nil, err
	}
	until, err := parseTimeFlag("until", evidenceFlags.until, now)
	if err != nil {
		return nil, err
	}
	q := &evidence.Query{
		Since:       since,
		Until:       until,
		Policy:      evidenceFlags.policy,
		Client:      evidenceFlags.client,
		Model:       evidenceFlags.model,
		Outcome:     evidenceFlags.outcome,
		BlockedKind: evidenceFlags.kind,
	}
	if evidenceFlags.minCost > 0 {
		minCost := evidenceFlags.minCost
		q.MinCost = &minCost
	}
	if err := q.Validate(); err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	return q, nil
}

// scan pages through every record matching q, oldest first, and sends
// them on the returned channel. The error channel yields at most one
// error once the record channel is closed.
func scan(ctx context.Context, store evidence.Storage, q *evidence.Query) (<-chan *evidence.Record, <-chan error) {
	out := make(chan *evidence.Record, 256)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)

		page := *q
		page.SortOrder = "asc"
		page.Limit = evidence.MaxQueryLimit
		page.Offset = 0
		for {
			records, err := store.Query(ctx, &page)
			if err != nil {
				errc <- err
				return
			}
			for _, r := range records {
				select {
				case out <- r:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			if len(records) < page.Limit {
				return
			}
			page.Offset += len(records)
		}
	}()
	return out, errc
}

// recordTable lists records one per row.
type recordTable []*evidence.Record

func (t recordTable) Header() []string {
	return []string{"TIME", "REQUEST", "POLICY", "CLIENT", "MODEL", "OUTCOME", "KIND", "COST", "PII"}
}

func (t recordTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, r := range t {
		kind := r.BlockedKind
		if kind == "" {
			kind = "-"
		}
		rows[i] = []string{
			r.RequestTime.UTC().Format(time.RFC3339),
			r.RequestID,
			r.Policy,
			r.Client,
			r.Model,
			r.Outcome,
			kind,
			fmt.Sprintf("$%.6f", r.ActualCost),
			strconv.Itoa(r.PIIFindings),
		}
	}
	return rows
}

func queryEvidence(cmd *cobra.Command, args []string) error {
	f, err := formatter(evidenceFlags.format)
	if err != nil {
		return err
	}
	q, err := buildQuery(time.Now())
	if err != nil {
		return err
	}
	q.Limit = evidenceFlags.limit
	q.Offset = evidenceFlags.offset
	if err := q.Validate(); err != nil {
		return cli.NewConfigError("--limit", err.Error())
	}

	store, _, err := openEvidence()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	records, err := store.Query(ctx, q)
	if err != nil {
		return cli.NewCommandError("evidence query", err)
	}
	total, err := store.Count(ctx, q)
	if err != nil {
		return cli.NewCommandError("evidence query", err)
	}

	out := cmd.OutOrStdout()
	if err := f.FormatTo(out, recordTable(records)); err != nil {
		return err
	}
	if cli.OutputFormat(evidenceFlags.format) == cli.FormatText {
		fmt.Fprintf(out, "\nShowing %d of %d records\n", len(records), total)
	}
	return nil
}

// streamExporter is implemented by every evidence exporter.
type streamExporter interface {
	ExportStream(ctx context.Context, ch <-chan *evidence.Record, w io.Writer) error
}

func exportEvidence(cmd *cobra.Command, args []string) error {
	var exporter streamExporter
	switch cli.OutputFormat(evidenceFlags.exportAs) {
	case cli.FormatJSON:
		exporter = export.NewJSONExporter(evidenceFlags.pretty)
	case cli.FormatCSV:
		exporter = export.NewCSVExporter(true)
	default:
		return cli.NewConfigError("--format", fmt.Sprintf("unsupported export format %q (use json or csv)", evidenceFlags.exportAs))
	}
	q, err := buildQuery(time.Now())
	if err != nil {
		return err
	}

	store, _, err := openEvidence()
	if err != nil {
		return err
	}
	defer store.Close()

	w := cmd.OutOrStdout()
	if evidenceFlags.output != "" {
		file, err := os.Create(evidenceFlags.output)
		if err != nil {
			return cli.NewCommandError("evidence export", err)
		}
		defer file.Close()
		w = file
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	records, errc := scan(ctx, store, q)
	if evidenceFlags.progress {
		total, err := store.Count(ctx, q)
		if err != nil {
			return cli.NewCommandError("evidence export", err)
		}
		records = withProgress(ctx, records, cli.NewProgressReporter(cmd.ErrOrStderr(), "Exporting"), total)
	}

	if err := exporter.ExportStream(ctx, records, w); err != nil {
		cancel()
		return cli.NewCommandError("evidence export", err)
	}
	if err := <-errc; err != nil {
		return cli.NewCommandError("evidence export", err)
	}
	return nil
}

// withProgress forwards records while reporting how many have passed.
func withProgress(ctx context.Context, in <-chan *evidence.Record, p cli.ProgressReporter, total int64) <-chan *evidence.Record {
	out := make(chan *evidence.Record)
	go func() {
		defer close(out)
		p.Start(total)
		var n int64
		for r := range in {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
			n++
			p.Update(n)
		}
		p.Finish()
	}()
	return out
}

func verifyEvidence(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(time.Now())
	if err != nil {
		return err
	}

	store, _, err := openEvidence()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	var checked, failed int
	records, errc := scan(ctx, store, q)
	for r := range records {
		checked++
		if !recorder.Verify(r) {
			failed++
			fmt.Fprintf(out, "✗ %s (request %s, %s): digest mismatch\n",
				r.ID, r.RequestID, r.RequestTime.UTC().Format(time.RFC3339))
		}
	}
	if err := <-errc; err != nil {
		return cli.NewCommandError("evidence verify", err)
	}

	if failed > 0 {
		fmt.Fprintf(out, "\n%d of %d records failed verification\n", failed, checked)
		return cli.NewCommandError("evidence verify", fmt.Errorf("%d records failed verification", failed))
	}
	fmt.Fprintf(out, "✓ %d records verified\n", checked)
	return nil
}

func pruneEvidence(cmd *cobra.Command, args []string) error {
	store, cfg, err := openEvidence()
	if err != nil {
		return err
	}
	defer store.Close()

	rc := retention.Config{
		RetentionDays: cfg.Evidence.RetentionDays,
		MaxRecords:    cfg.Evidence.MaxRecords,
		ArchivePath:   cfg.Evidence.ArchivePath,
	}
	if cmd.Flags().Changed("retention-days") {
		rc.RetentionDays = evidenceFlags.retentionDays
	}
	if cmd.Flags().Changed("max-records") {
		rc.MaxRecords = evidenceFlags.maxRecords
	}
	if evidenceFlags.archivePath != "" {
		rc.ArchivePath = evidenceFlags.archivePath
	}

	deleted, err := retention.NewPruner(store, rc).Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("evidence prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d records\n", deleted)
	return nil
}
