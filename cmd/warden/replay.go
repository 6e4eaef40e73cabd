package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cache"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/evidence"
	"mercator-hq/warden/pkg/limits/budget"
	"mercator-hq/warden/pkg/limits/ratelimit"
	"mercator-hq/warden/pkg/limits/storage"
	"mercator-hq/warden/pkg/pipeline"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/policy/manager"
	"mercator-hq/warden/pkg/processing/costs"
	"mercator-hq/warden/pkg/processing/pii"
	"mercator-hq/warden/pkg/processing/tokens"
	"mercator-hq/warden/pkg/providers"
	"mercator-hq/warden/pkg/proxy/types"
	"mercator-hq/warden/pkg/routing"
)

// maxReplayLine bounds one JSONL line.
const maxReplayLine = 4 << 20

var replayFlags struct {
	policyPath string
	policy     string
	client     string
	format     string
	progress   bool
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Dry-run recorded requests through the policies",
	Long: `Replay chat completion requests through the full governance pipeline
without contacting any upstream.

FILE holds one JSON object per line ("-" reads stdin). A line is either a
chat completion request or an envelope naming the policy and client:

  {"policy": "strict", "client": "team-a", "request": {"model": "gpt-4o", "messages": [...]}}

Counters, budgets, and the cache live in memory for the duration of the
replay, so later lines see the spend and quota used by earlier ones. With
no completion usage available, committed cost equals the estimate.

Examples:
  # Replay against the configured policies
  warden replay traffic.jsonl

  # Force every line through one policy, as JSON
  warden replay traffic.jsonl --policy strict --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&replayFlags.policyPath, "policies", "p", "", "override policy file or directory")
	replayCmd.Flags().StringVar(&replayFlags.policy, "policy", "", "policy for lines that name none")
	replayCmd.Flags().StringVar(&replayFlags.client, "client", "replay", "client identity for lines that name none")
	replayCmd.Flags().StringVarP(&replayFlags.format, "format", "f", "text", "output format: text, json, yaml, csv")
	replayCmd.Flags().BoolVar(&replayFlags.progress, "progress", false, "report progress on stderr")
}

// replayLine is the envelope form of an input line.
type replayLine struct {
	Policy  string                       `json:"policy"`
	Client  string                       `json:"client"`
	Request *types.ChatCompletionRequest `json:"request"`
}

// parseReplayLine accepts an envelope or a bare request.
func parseReplayLine(data []byte) (*replayLine, error) {
	var line replayLine
	if err := json.Unmarshal(data, &line); err != nil {
		return nil, err
	}
	if line.Request == nil {
		var req types.ChatCompletionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		line.Request = &req
	}
	if err := line.Request.Validate(); err != nil {
		return nil, err
	}
	return &line, nil
}

// replayRow is the outcome of one line.
type replayRow struct {
	Line           int     `json:"line" yaml:"line"`
	Policy         string  `json:"policy" yaml:"policy"`
	Client         string  `json:"client" yaml:"client"`
	RequestedModel string  `json:"requested_model" yaml:"requested_model"`
	Model          string  `json:"model" yaml:"model"`
	Outcome        string  `json:"outcome" yaml:"outcome"`
	BlockedKind    string  `json:"blocked_kind,omitempty" yaml:"blocked_kind,omitempty"`
	Reason         string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	EstimatedCost  float64 `json:"estimated_cost" yaml:"estimated_cost"`
	PIIFindings    int     `json:"pii_findings" yaml:"pii_findings"`
}

// replaySummary totals a replay.
type replaySummary struct {
	Lines     int              `json:"lines" yaml:"lines"`
	Served    int              `json:"served" yaml:"served"`
	Cached    int              `json:"cached" yaml:"cached"`
	Blocked   map[string]int   `json:"blocked" yaml:"blocked"`
	Invalid   int              `json:"invalid" yaml:"invalid"`
	TotalCost float64          `json:"total_cost" yaml:"total_cost"`
	ByPolicy  map[string]int64 `json:"by_policy" yaml:"by_policy"`
}

func (s *replaySummary) add(r replayRow) {
	s.Lines++
	switch r.Outcome {
	case evidence.OutcomeServed:
		s.Served++
		s.TotalCost += r.EstimatedCost
	case evidence.OutcomeCached:
		s.Cached++
	case evidence.OutcomeBlocked:
		s.Blocked[r.BlockedKind]++
	default:
		s.Invalid++
	}
	if r.Policy != "" {
		s.ByPolicy[r.Policy]++
	}
}

func (s replaySummary) String() string {
	blocked := 0
	for _, n := range s.Blocked {
		blocked += n
	}
	return fmt.Sprintf("%d lines: %d served, %d cached, %d blocked, %d invalid; estimated spend $%.4f",
		s.Lines, s.Served, s.Cached, blocked, s.Invalid, s.TotalCost)
}

// replayReport implements cli.Table over the rows.
type replayReport struct {
	Results []replayRow   `json:"results" yaml:"results"`
	Summary replaySummary `json:"summary" yaml:"summary"`
}

func (r *replayReport) Header() []string {
	return []string{"LINE", "POLICY", "CLIENT", "REQUESTED", "MODEL", "OUTCOME", "KIND", "EST COST", "PII"}
}

func (r *replayReport) Rows() [][]string {
	rows := make([][]string, len(r.Results))
	for i, row := range r.Results {
		kind := row.BlockedKind
		if kind == "" {
			kind = "-"
		}
		rows[i] = []string{
			strconv.Itoa(row.Line),
			row.Policy,
			row.Client,
			row.RequestedModel,
			row.Model,
			row.Outcome,
			kind,
			fmt.Sprintf("$%.6f", row.EstimatedCost),
			strconv.Itoa(row.PIIFindings),
		}
	}
	return rows
}

// replayer runs requests through an in-memory pipeline.
type replayer struct {
	pipeline *pipeline.Pipeline
	store    storage.Store
	last     pipeline.Event
}

func newReplayer(cfg *config.Config, policies pipeline.PolicySource) (*replayer, error) {
	r := &replayer{store: storage.NewMemoryStore()}

	estimator := tokens.NewSimpleEstimator(tokens.Config{
		CharsPerToken:     cfg.Limits.Tokens.CharsPerToken,
		MessageOverhead:   cfg.Limits.Tokens.MessageOverhead,
		DefaultCompletion: cfg.Limits.Tokens.DefaultCompletion,
	})
	prices := make(map[string]costs.ModelPrice, len(cfg.Limits.Prices))
	for model, p := range cfg.Limits.Prices {
		prices[model] = costs.ModelPrice{InputPer1K: p.InputPer1K, OutputPer1K: p.OutputPer1K}
	}
	mode := policy.FailureMode(cfg.Limits.FailureMode)

	var svc *cache.Service
	if cfg.Cache.IsEnabled() {
		var err error
		svc, err = cache.NewService(cache.NewStoreBackend(r.store), cache.Config{Digest: cache.Digest(cfg.Cache.Digest)})
		if err != nil {
			return nil, cli.NewConfigError("cache.digest", err.Error())
		}
	}

	p, err := pipeline.New(pipeline.Config{
		Policies: policies,
		Limiter:  ratelimit.NewLimiter(r.store, ratelimit.Config{FailureMode: mode}),
		Budget: budget.NewGuard(r.store, budget.Config{
			Estimator:   estimator,
			Calculator:  costs.NewCalculator(prices),
			FailureMode: mode,
		}),
		Forwarder: &providers.DryRun{},
		Detector:  pii.NewDetector(),
		Router:    routing.NewRouter(estimator),
		Cache:     svc,
		Sink:      pipeline.SinkFunc(func(_ context.Context, e pipeline.Event) { r.last = e }),
	})
	if err != nil {
		return nil, err
	}
	r.pipeline = p
	return r, nil
}

// replay runs one line and reports its outcome.
func (r *replayer) replay(ctx context.Context, n int, line *replayLine) replayRow {
	r.last = pipeline.Event{}
	_, err := r.pipeline.Process(ctx, &pipeline.Request{
		ID:         "replay-" + strconv.Itoa(n),
		PolicyName: line.Policy,
		Client:     line.Client,
		Body:       line.Request,
	})

	e := r.last
	row := replayRow{
		Line:           n,
		Policy:         e.Policy,
		Client:         line.Client,
		RequestedModel: e.RequestedModel,
		Model:          e.Model,
		EstimatedCost:  e.EstimatedCost,
		PIIFindings:    e.PIIFindings,
	}
	if row.Policy == "" {
		row.Policy = line.Policy
	}

	var v *pipeline.Violation
	switch {
	case errors.As(err, &v):
		row.Outcome = evidence.OutcomeBlocked
		row.BlockedKind = string(v.Kind)
		row.Reason = v.Reason
	case err != nil:
		row.Outcome = "error"
		row.Reason = err.Error()
	case e.CacheHit:
		row.Outcome = evidence.OutcomeCached
	default:
		row.Outcome = evidence.OutcomeServed
	}
	return row
}

func openReplayInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(path)
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := formatter(replayFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, "error", true); err != nil {
		return err
	}
	if replayFlags.policyPath != "" {
		cfg.Policy.Path = replayFlags.policyPath
	}
	mgr, err := manager.New(manager.Config{
		Path:          cfg.Policy.Path,
		DefaultPolicy: cfg.Policy.DefaultPolicy,
	}, nil)
	if err != nil {
		return cli.NewConfigError("policy.path", err.Error())
	}

	r, err := newReplayer(cfg, mgr)
	if err != nil {
		return err
	}
	defer r.store.Close()

	in, err := openReplayInput(args[0], cmd.InOrStdin())
	if err != nil {
		return cli.NewCommandError("replay", err)
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return cli.NewCommandError("replay", fmt.Errorf("read input: %w", err))
	}
	lines := strings.Split(string(data), "\n")

	var progress cli.ProgressReporter
	if replayFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "Replaying")
		progress.Start(int64(len(lines)))
	}

	report := &replayReport{Summary: replaySummary{
		Blocked:  map[string]int{},
		ByPolicy: map[string]int64{},
	}}
	ctx := cmd.Context()
	for i, raw := range lines {
		if progress != nil {
			progress.Update(int64(i + 1))
		}
		text := strings.TrimSpace(raw)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if len(text) > maxReplayLine {
			return cli.NewCommandError("replay", fmt.Errorf("line %d exceeds %d bytes", i+1, maxReplayLine))
		}
		if err := ctx.Err(); err != nil {
			if progress != nil {
				progress.Error(err)
			}
			return cli.NewCommandError("replay", err)
		}

		var row replayRow
		line, err := parseReplayLine([]byte(text))
		if err != nil {
			row = replayRow{Line: i + 1, Outcome: "invalid", Reason: err.Error()}
		} else {
			if line.Policy == "" {
				line.Policy = replayFlags.policy
			}
			if line.Client == "" {
				line.Client = replayFlags.client
			}
			row = r.replay(ctx, i+1, line)
		}
		report.Results = append(report.Results, row)
		report.Summary.add(row)
	}
	if progress != nil {
		progress.Finish()
	}

	out := cmd.OutOrStdout()
	if err := f.FormatTo(out, report); err != nil {
		return err
	}
	if cli.OutputFormat(replayFlags.format) == cli.FormatText {
		fmt.Fprintln(out)
		fmt.Fprintln(out, report.Summary.String())
	}
	return nil
}
