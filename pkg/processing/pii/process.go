package pii

import (
	"fmt"

	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/proxy/types"
)

// Report summarises the findings of one side of an exchange.
type Report struct {
	Findings []Finding
	Action   policy.Action
}

// Count returns the number of findings.
func (r Report) Count() int {
	return len(r.Findings)
}

// Types returns the distinct entity types found.
func (r Report) Types() []string {
	return TypesOf(r.Findings)
}

// Process scans text under cfg and applies its action. A nil or disabled
// config returns text unchanged.
func (d *Detector) Process(text string, cfg *policy.PIIConfig) (string, []Finding, error) {
	if cfg == nil || !cfg.Enabled {
		return text, nil, nil
	}
	return d.Apply(text, d.Scan(text, cfg.Entities), cfg.Action)
}

// ProcessRequest applies cfg to every text segment of the request's
// messages. The returned request is a copy; req is never modified. Under
// the block action every message is scanned before the *BlockedError is
// returned, so the report is complete.
func (d *Detector) ProcessRequest(req *types.ChatCompletionRequest, cfg *policy.PIIConfig) (*types.ChatCompletionRequest, Report, error) {
	if cfg == nil || !cfg.Enabled {
		return req, Report{}, nil
	}

	out := req.Clone()
	report := Report{Action: cfg.Action}
	for i := range out.Messages {
		d.processMessage(&out.Messages[i], fmt.Sprintf("messages[%d].content", i), cfg, &report)
	}
	return out, report, d.blockErr(report)
}

// ProcessResponse applies cfg to every choice message of resp. The
// returned response is a copy; resp is never modified.
func (d *Detector) ProcessResponse(resp *types.ChatCompletionResponse, cfg *policy.PIIConfig) (*types.ChatCompletionResponse, Report, error) {
	if cfg == nil || !cfg.Enabled {
		return resp, Report{}, nil
	}

	out := *resp
	out.Choices = append([]types.Choice(nil), resp.Choices...)
	report := Report{Action: cfg.Action}
	for i := range out.Choices {
		d.processMessage(&out.Choices[i].Message, fmt.Sprintf("choices[%d].message.content", i), cfg, &report)
	}
	return &out, report, d.blockErr(report)
}

func (d *Detector) processMessage(msg *types.Message, location string, cfg *policy.PIIConfig, report *Report) {
	msg.MapText(func(text string) string {
		findings := d.Scan(text, cfg.Entities)
		if len(findings) == 0 {
			return text
		}
		action := cfg.Action
		if action == policy.ActionBlock {
			// Record only; the caller turns the report into an error.
			action = policy.ActionWarn
		}
		result, applied, _ := d.Apply(text, findings, action)
		for _, f := range applied {
			f.Location = location
			f.Action = cfg.Action
			report.Findings = append(report.Findings, f)
		}
		return result
	})
}

func (d *Detector) blockErr(report Report) error {
	if report.Action != policy.ActionBlock || len(report.Findings) == 0 {
		return nil
	}
	return &BlockedError{Types: report.Types(), Count: len(report.Findings)}
}
