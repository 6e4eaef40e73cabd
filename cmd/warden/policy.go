package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/policy/manager"
)

var policyFlags struct {
	policyPath string
	listFormat string
	showFormat string
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect governance policies",
	Long: `Inspect the policies the gateway would load.

Subcommands:
  list  - Summarise every policy
  show  - Print one policy in full

Examples:
  # Summarise policies from the configured path
  warden policy list

  # Same, as JSON
  warden policy list --format json

  # Print the strict policy
  warden policy show strict`,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Summarise every policy",
	Args:  cobra.NoArgs,
	RunE:  listPolicies,
}

var policyShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Print one policy",
	Long: `Print one policy in full. The default output is YAML in the policy
file format, with defaults applied.`,
	Args: cobra.ExactArgs(1),
	RunE: showPolicy,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyShowCmd)

	policyCmd.PersistentFlags().StringVarP(&policyFlags.policyPath, "policies", "p", "", "override policy file or directory")
	policyListCmd.Flags().StringVarP(&policyFlags.listFormat, "format", "f", "text", "output format: text, json, yaml, csv")
	policyShowCmd.Flags().StringVarP(&policyFlags.showFormat, "format", "f", "yaml", "output format: yaml, json")
}

// loadPolicies loads the policy set named by the config, or by --policies.
func loadPolicies() (*manager.Snapshot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg, "error", true); err != nil {
		return nil, err
	}
	if policyFlags.policyPath != "" {
		cfg.Policy.Path = policyFlags.policyPath
	}
	mgr, err := manager.New(manager.Config{
		Path:          cfg.Policy.Path,
		DefaultPolicy: cfg.Policy.DefaultPolicy,
	}, nil)
	if err != nil {
		return nil, cli.NewConfigError("policy.path", err.Error())
	}
	return mgr.Snapshot(), nil
}

// policyRow summarises one policy.
type policyRow struct {
	Name          string  `json:"name" yaml:"name"`
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	MaxPerRequest float64 `json:"max_per_request" yaml:"max_per_request"`
	DailyCap      float64 `json:"daily_cap" yaml:"daily_cap"`
	PerMinute     int64   `json:"requests_per_minute" yaml:"requests_per_minute"`
	PIIAction     string  `json:"pii_action,omitempty" yaml:"pii_action,omitempty"`
	CacheTTL      int     `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	RoutingRules  int     `json:"routing_rules" yaml:"routing_rules"`
}

type policyTable []policyRow

func (t policyTable) Header() []string {
	return []string{"NAME", "ENABLED", "MAX/REQ", "DAILY CAP", "REQ/MIN", "PII", "CACHE TTL", "ROUTES"}
}

func (t policyTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, r := range t {
		pii := r.PIIAction
		if pii == "" {
			pii = "-"
		}
		rows[i] = []string{
			r.Name,
			strconv.FormatBool(r.Enabled),
			money(r.MaxPerRequest),
			money(r.DailyCap),
			count(r.PerMinute),
			pii,
			seconds(r.CacheTTL),
			strconv.Itoa(r.RoutingRules),
		}
	}
	return rows
}

func summarise(p *policy.Policy) policyRow {
	row := policyRow{
		Name:         p.Name,
		Enabled:      p.IsEnabled(),
		RoutingRules: len(p.Routing),
	}
	if p.CostLimits != nil {
		row.MaxPerRequest = p.CostLimits.MaxPerRequest
		row.DailyCap = p.CostLimits.DailyCap
	}
	if p.RateLimits != nil {
		row.PerMinute = p.RateLimits.RequestsPerMinute
	}
	if p.PIIEnabled() {
		row.PIIAction = string(p.PII.Action)
	}
	if p.CacheEnabled() {
		row.CacheTTL = p.Cache.TTLSeconds
	}
	return row
}

func money(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("$%.2f", v)
}

func count(v int64) string {
	if v <= 0 {
		return "-"
	}
	return strconv.FormatInt(v, 10)
}

func seconds(v int) string {
	if v <= 0 {
		return "-"
	}
	return strconv.Itoa(v) + "s"
}

func listPolicies(cmd *cobra.Command, args []string) error {
	f, err := formatter(policyFlags.listFormat)
	if err != nil {
		return err
	}
	snap, err := loadPolicies()
	if err != nil {
		return err
	}

	table := make(policyTable, 0, snap.Len())
	for _, name := range snap.Names() {
		p, _ := snap.Lookup(name)
		table = append(table, summarise(p))
	}
	return f.FormatTo(cmd.OutOrStdout(), table)
}

func showPolicy(cmd *cobra.Command, args []string) error {
	snap, err := loadPolicies()
	if err != nil {
		return err
	}
	p, ok := snap.Lookup(args[0])
	if !ok {
		return cli.NewCommandError("policy show", fmt.Errorf("policy %q not found (loaded: %v)", args[0], snap.Names()))
	}

	if cli.OutputFormat(policyFlags.showFormat) == cli.FormatYAML {
		data, err := policy.Marshal(p)
		if err != nil {
			return cli.NewCommandError("policy show", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	f, err := formatter(policyFlags.showFormat)
	if err != nil {
		return err
	}
	return f.FormatTo(cmd.OutOrStdout(), p)
}
