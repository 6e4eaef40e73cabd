package main

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/evidence"
	"mercator-hq/warden/pkg/pipeline"
)

const replayInput = `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hello"}]}
{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hello"}]}
# comments and blank lines are skipped

{"policy":"strict","client":"team-a","request":{"model":"gpt-4o-mini","messages":[{"role":"user","content":"mail a@b.com"}]}}
{"policy":"capped","request":{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}}
{"policy":"strict","client":"team-b","request":{"model":"gpt-4o-mini","messages":[{"role":"user","content":"one"}]}}
{"policy":"strict","client":"team-b","request":{"model":"gpt-4o-mini","messages":[{"role":"user","content":"two"}]}}
{"policy":"strict","client":"team-b","request":{"model":"gpt-4o-mini","messages":[{"role":"user","content":"three"}]}}
not json
`

func TestReplay(t *testing.T) {
	policies := writeFile(t, "policies.yaml", testPolicies)
	input := writeFile(t, "traffic.jsonl", replayInput)

	out, err := execute(t, "replay", input, "--policies", policies, "--format", "json")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	var report replayReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(report.Results) != 8 {
		t.Fatalf("got %d results, want 8", len(report.Results))
	}

	tests := []struct {
		line    int
		outcome string
		kind    pipeline.Kind
	}{
		{1, evidence.OutcomeServed, ""},
		{2, evidence.OutcomeCached, ""},
		{5, evidence.OutcomeBlocked, pipeline.KindPIIBlocked},
		{6, evidence.OutcomeBlocked, pipeline.KindCostLimit},
		{7, evidence.OutcomeServed, ""},
		{8, evidence.OutcomeServed, ""},
		{9, evidence.OutcomeBlocked, pipeline.KindRateLimited},
		{10, "invalid", ""},
	}
	for i, tt := range tests {
		got := report.Results[i]
		if got.Line != tt.line {
			t.Errorf("result %d: line = %d, want %d", i, got.Line, tt.line)
		}
		if got.Outcome != tt.outcome || got.BlockedKind != string(tt.kind) {
			t.Errorf("line %d: got %s/%s, want %s/%s", tt.line, got.Outcome, got.BlockedKind, tt.outcome, tt.kind)
		}
	}

	if report.Results[0].Policy != "default" || report.Results[0].Client != "replay" {
		t.Errorf("line 1 should use the default policy and client, got %q/%q",
			report.Results[0].Policy, report.Results[0].Client)
	}

	s := report.Summary
	if s.Served != 3 || s.Cached != 1 || s.Invalid != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.Blocked[string(pipeline.KindPIIBlocked)] != 1 || s.Blocked[string(pipeline.KindRateLimited)] != 1 {
		t.Errorf("blocked = %v", s.Blocked)
	}
}

func TestReplay_DefaultPolicyFlag(t *testing.T) {
	policies := writeFile(t, "policies.yaml", testPolicies)
	input := writeFile(t, "traffic.jsonl", `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"a@b.com"}]}`+"\n")

	out, err := execute(t, "replay", input, "--policies", policies, "--policy", "strict")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !strings.Contains(out, string(pipeline.KindPIIBlocked)) {
		t.Errorf("expected a PII block:\n%s", out)
	}
	if !strings.Contains(out, "1 lines: 0 served, 0 cached, 1 blocked, 0 invalid") {
		t.Errorf("missing summary:\n%s", out)
	}
}

func TestReplay_MissingFile(t *testing.T) {
	if _, err := execute(t, "replay", "/nonexistent/traffic.jsonl"); err == nil {
		t.Error("expected an error")
	}
}

func TestParseReplayLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		policy  string
		wantErr bool
	}{
		{"bare request", `{"model":"m","messages":[{"role":"user","content":"x"}]}`, "", false},
		{"envelope", `{"policy":"p","request":{"model":"m","messages":[{"role":"user","content":"x"}]}}`, "p", false},
		{"no messages", `{"model":"m","messages":[]}`, "", true},
		{"malformed", `{"model":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := parseReplayLine([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && line.Policy != tt.policy {
				t.Errorf("policy = %q, want %q", line.Policy, tt.policy)
			}
		})
	}
}
