package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"mercator-hq/warden/pkg/policy"
)

// Entity names.
const (
	Email      = "email"
	Phone      = "phone"
	SSN        = "ssn"
	CreditCard = "credit_card"
	APIKey     = "api_key"
	AWSKey     = "aws_key"
	IPAddress  = "ip_address"
)

type matcher struct {
	entity  string
	pattern *regexp.Regexp
	valid   func(string) bool
}

// catalog is in priority order.
var catalog = []matcher{
	{
		entity:  Email,
		pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	},
	{
		entity:  Phone,
		pattern: regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\(\d{3}\)\s?|\b\d{3}[-.\s]?)\d{3}[-.\s]?\d{4}\b`),
	},
	{
		entity:  SSN,
		pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9}\b`),
	},
	{
		entity:  CreditCard,
		pattern: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
		valid:   luhn,
	},
	{
		entity:  APIKey,
		pattern: regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}|\bpk_[A-Za-z0-9]{24,}|\bBearer\s+[A-Za-z0-9\-_.]{8,}`),
	},
	{
		entity:  AWSKey,
		pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b|aws_access_key_id\s*=\s*[A-Z0-9]{20}\b`),
	},
	{
		entity:  IPAddress,
		pattern: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`),
	},
}

// Entities returns the supported entity names in priority order.
func Entities() []string {
	out := make([]string, len(catalog))
	for i, m := range catalog {
		out[i] = m.entity
	}
	return out
}

// Finding is one detected entity. The matched value itself is not kept.
type Finding struct {
	// Type is the entity name.
	Type string `json:"type"`

	// Location names the message field the finding came from, when known.
	Location string `json:"location,omitempty"`

	// Start and End are byte offsets into the scanned text.
	Start int `json:"start"`
	End   int `json:"end"`

	// Fingerprint is the hex SHA-256 of the matched value.
	Fingerprint string `json:"fingerprint"`

	// Action is what was done with the match.
	Action policy.Action `json:"action,omitempty"`
}

// Detector scans text against the entity catalog. It is stateless and
// safe for concurrent use.
type Detector struct {
	matchers []matcher
	index    map[string]int
}

// NewDetector creates a detector over the full catalog.
func NewDetector() *Detector {
	d := &Detector{matchers: catalog, index: make(map[string]int, len(catalog))}
	for i, m := range catalog {
		d.index[m.entity] = i
	}
	return d
}

type candidate struct {
	priority   int
	start, end int
}

// Scan returns the findings for the given entities in text, ordered by
// position. An empty entity list scans for every entity. Overlapping
// matches are resolved earliest first, then longest, then by priority.
func (d *Detector) Scan(text string, entities []string) []Finding {
	if text == "" {
		return nil
	}

	enabled := d.enabled(entities)
	var cands []candidate
	for i, m := range d.matchers {
		if !enabled[i] {
			continue
		}
		for _, loc := range m.pattern.FindAllStringIndex(text, -1) {
			if m.valid != nil && !m.valid(text[loc[0]:loc[1]]) {
				continue
			}
			cands = append(cands, candidate{priority: i, start: loc[0], end: loc[1]})
		}
	}
	if len(cands) == 0 {
		return nil
	}

	sort.Slice(cands, func(a, b int) bool {
		ca, cb := cands[a], cands[b]
		if ca.start != cb.start {
			return ca.start < cb.start
		}
		if la, lb := ca.end-ca.start, cb.end-cb.start; la != lb {
			return la > lb
		}
		return ca.priority < cb.priority
	})

	findings := make([]Finding, 0, len(cands))
	lastEnd := -1
	for _, c := range cands {
		if c.start < lastEnd {
			continue
		}
		findings = append(findings, Finding{
			Type:        d.matchers[c.priority].entity,
			Start:       c.start,
			End:         c.end,
			Fingerprint: fingerprint(text[c.start:c.end]),
		})
		lastEnd = c.end
	}
	return findings
}

// Apply performs action on the findings in text. The findings must come
// from Scan on the same text. Block returns a *BlockedError when there is
// at least one finding.
func (d *Detector) Apply(text string, findings []Finding, action policy.Action) (string, []Finding, error) {
	if len(findings) == 0 {
		return text, findings, nil
	}

	out := make([]Finding, len(findings))
	for i, f := range findings {
		f.Action = action
		out[i] = f
	}

	switch action {
	case policy.ActionBlock:
		return text, out, &BlockedError{Types: TypesOf(out), Count: len(out)}
	case policy.ActionWarn:
		return text, out, nil
	case policy.ActionHash:
		return replace(text, out, func(f Finding, value string) string {
			return "[" + f.Type + ":" + fingerprint(value)[:8] + "]"
		}), out, nil
	default:
		return replace(text, out, func(f Finding, _ string) string {
			return "[" + strings.ToUpper(f.Type) + "]"
		}), out, nil
	}
}

// Redact replaces every catalog entity in text with its tag. It backs the
// log redaction handler.
func (d *Detector) Redact(text string) string {
	out, _, _ := d.Apply(text, d.Scan(text, nil), policy.ActionRedact)
	return out
}

// TypesOf returns the distinct entity types in findings, in catalog order.
func TypesOf(findings []Finding) []string {
	seen := make(map[string]bool, len(findings))
	for _, f := range findings {
		seen[f.Type] = true
	}
	var types []string
	for _, m := range catalog {
		if seen[m.entity] {
			types = append(types, m.entity)
		}
	}
	return types
}

func (d *Detector) enabled(entities []string) []bool {
	enabled := make([]bool, len(d.matchers))
	if len(entities) == 0 {
		for i := range enabled {
			enabled[i] = true
		}
		return enabled
	}
	for _, e := range entities {
		if i, ok := d.index[e]; ok {
			enabled[i] = true
		}
	}
	return enabled
}

func replace(text string, findings []Finding, tag func(Finding, string) string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	prev := 0
	for _, f := range findings {
		sb.WriteString(text[prev:f.Start])
		sb.WriteString(tag(f, text[f.Start:f.End]))
		prev = f.End
	}
	sb.WriteString(text[prev:])
	return sb.String()
}

func fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// luhn validates a card number that may contain spaces or dashes.
func luhn(s string) bool {
	sum, n := 0, 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c == ' ' || c == '-' {
			continue
		}
		digit := int(c - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
		n++
	}
	return n >= 13 && n <= 19 && sum%10 == 0
}
