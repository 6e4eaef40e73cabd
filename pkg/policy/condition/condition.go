package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Facts are the request attributes a condition can test.
type Facts struct {
	Model             string
	MaxTokens         int
	HasMaxTokens      bool
	Tokens            int
	MessageCount      int
	ContentLength     int
	LastMessageLength int
	Content           string
	LastMessage       string
}

// Condition is a compiled predicate.
type Condition interface {
	// Eval reports whether f satisfies the condition. It has no side effects.
	Eval(f Facts) bool

	// IsDefault reports whether this is the catch-all "default" condition.
	IsDefault() bool

	String() string
}

// Operator is a comparison operator.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpContains     Operator = "contains"
	OpStartsWith   Operator = "startswith"
	OpEndsWith     Operator = "endswith"
)

type fieldKind int

const (
	numericField fieldKind = iota
	stringField
)

// fields lists every attribute a condition may reference.
var fields = map[string]fieldKind{
	"max_tokens":          numericField,
	"tokens":              numericField,
	"message_count":       numericField,
	"content_length":      numericField,
	"last_message_length": numericField,
	"model":               stringField,
	"content":             stringField,
	"last_message":        stringField,
}

type defaultCond struct{}

func (defaultCond) Eval(Facts) bool { return true }
func (defaultCond) IsDefault() bool { return true }
func (defaultCond) String() string  { return "default" }

// Default is the catch-all condition.
var Default Condition = defaultCond{}

type comparison struct {
	field string
	op    Operator
	num   float64
	str   string
}

func (c *comparison) IsDefault() bool { return false }

func (c *comparison) String() string {
	if fields[c.field] == numericField {
		return fmt.Sprintf("request.%s %s %s", c.field, c.op, strconv.FormatFloat(c.num, 'f', -1, 64))
	}
	return fmt.Sprintf("request.%s %s %q", c.field, c.op, c.str)
}

func (c *comparison) Eval(f Facts) bool {
	if fields[c.field] == numericField {
		v, ok := numericValue(c.field, f)
		if !ok {
			return false
		}
		return compareNumbers(c.op, v, c.num)
	}
	return compareStrings(c.op, stringValue(c.field, f), c.str)
}

func numericValue(field string, f Facts) (float64, bool) {
	switch field {
	case "max_tokens":
		return float64(f.MaxTokens), f.HasMaxTokens
	case "tokens":
		return float64(f.Tokens), true
	case "message_count":
		return float64(f.MessageCount), true
	case "content_length":
		return float64(f.ContentLength), true
	case "last_message_length":
		return float64(f.LastMessageLength), true
	}
	return 0, false
}

func stringValue(field string, f Facts) string {
	switch field {
	case "model":
		return f.Model
	case "content":
		return f.Content
	case "last_message":
		return f.LastMessage
	}
	return ""
}

func compareNumbers(op Operator, a, b float64) bool {
	switch op {
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	}
	return false
}

func compareStrings(op Operator, a, b string) bool {
	switch op {
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	case OpContains:
		return strings.Contains(strings.ToLower(a), strings.ToLower(b))
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(a), strings.ToLower(b))
	case OpEndsWith:
		return strings.HasSuffix(strings.ToLower(a), strings.ToLower(b))
	}
	return false
}

type junction struct {
	and   bool
	terms []Condition
}

func (j *junction) IsDefault() bool { return false }

func (j *junction) Eval(f Facts) bool {
	for _, t := range j.terms {
		v := t.Eval(f)
		if j.and && !v {
			return false
		}
		if !j.and && v {
			return true
		}
	}
	return j.and
}

func (j *junction) String() string {
	sep := " or "
	if j.and {
		sep = " and "
	}
	parts := make([]string, len(j.terms))
	for i, t := range j.terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, sep)
}
