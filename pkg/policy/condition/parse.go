package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SyntaxError describes a condition that does not parse.
type SyntaxError struct {
	Input   string
	Pos     int
	Message string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid condition %q at offset %d: %s", e.Input, e.Pos, e.Message)
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOperator
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Parse compiles a condition string.
func Parse(input string) (Condition, error) {
	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}

	p := &parser{input: input, toks: toks}

	if len(toks) == 2 && toks[0].kind == tokIdent && strings.EqualFold(toks[0].text, "default") {
		return Default, nil
	}

	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return cond, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// built-in policies.
func MustParse(input string) Condition {
	c, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return c
}

type parser struct {
	input string
	toks  []token
	pos   int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...interface{}) error {
	return &SyntaxError{Input: p.input, Pos: t.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (Condition, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Condition{first}
	for p.keyword("or") {
		c, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, c)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &junction{and: false, terms: terms}, nil
}

func (p *parser) parseAnd() (Condition, error) {
	first, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	terms := []Condition{first}
	for p.keyword("and") {
		c, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		terms = append(terms, c)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &junction{and: true, terms: terms}, nil
}

func (p *parser) parseComparison() (Condition, error) {
	ft := p.next()
	if ft.kind != tokIdent {
		return nil, p.errorf(ft, "expected field, got %q", ft.text)
	}
	if strings.EqualFold(ft.text, "default") {
		return nil, p.errorf(ft, "default cannot be combined with other predicates")
	}

	name := strings.ToLower(strings.TrimPrefix(ft.text, "request."))
	kind, ok := fields[name]
	if !ok {
		return nil, p.errorf(ft, "unknown field %q", ft.text)
	}

	ot := p.next()
	var op Operator
	switch {
	case ot.kind == tokOperator:
		op = Operator(ot.text)
	case ot.kind == tokIdent:
		op = Operator(strings.ToLower(ot.text))
		if op != OpContains && op != OpStartsWith && op != OpEndsWith {
			return nil, p.errorf(ot, "unknown operator %q", ot.text)
		}
	default:
		return nil, p.errorf(ot, "expected operator, got %q", ot.text)
	}

	vt := p.next()
	c := &comparison{field: name, op: op}

	if kind == numericField {
		if ot.kind != tokOperator {
			return nil, p.errorf(ot, "operator %q needs a string field", op)
		}
		if vt.kind != tokNumber {
			return nil, p.errorf(vt, "field %s needs a numeric value", name)
		}
		n, err := strconv.ParseFloat(vt.text, 64)
		if err != nil {
			return nil, p.errorf(vt, "invalid number %q", vt.text)
		}
		c.num = n
		return c, nil
	}

	if op != OpEqual && op != OpNotEqual && ot.kind == tokOperator {
		return nil, p.errorf(ot, "operator %q is not valid for string field %s", op, name)
	}
	if vt.kind != tokString {
		return nil, p.errorf(vt, "field %s needs a quoted string value", name)
	}
	c.str = vt.text
	return c, nil
}

func tokenize(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		ch := rune(input[i])
		switch {
		case unicode.IsSpace(ch):
			i++

		case ch == '"' || ch == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(input) {
				c := input[i]
				if c == '\\' && i+1 < len(input) {
					sb.WriteByte(input[i+1])
					i += 2
					continue
				}
				if rune(c) == ch {
					closed = true
					i++
					break
				}
				sb.WriteByte(c)
				i++
			}
			if !closed {
				return nil, &SyntaxError{Input: input, Pos: start, Message: "unterminated string"}
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})

		case strings.ContainsRune("<>=!", ch):
			start := i
			if i+1 < len(input) && input[i+1] == '=' {
				i += 2
			} else {
				i++
			}
			text := input[start:i]
			if text == "=" || text == "!" {
				return nil, &SyntaxError{Input: input, Pos: start, Message: fmt.Sprintf("unknown operator %q", text)}
			}
			toks = append(toks, token{kind: tokOperator, text: text, pos: start})

		case unicode.IsDigit(ch) || (ch == '-' && i+1 < len(input) && unicode.IsDigit(rune(input[i+1]))):
			start := i
			i++
			for i < len(input) && (unicode.IsDigit(rune(input[i])) || input[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: input[start:i], pos: start})

		case unicode.IsLetter(ch) || ch == '_':
			start := i
			for i < len(input) && (unicode.IsLetter(rune(input[i])) || unicode.IsDigit(rune(input[i])) || input[i] == '_' || input[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: input[start:i], pos: start})

		default:
			return nil, &SyntaxError{Input: input, Pos: i, Message: fmt.Sprintf("unexpected character %q", ch)}
		}
	}
	toks = append(toks, token{kind: tokEOF, text: "end of input", pos: len(input)})
	return toks, nil
}
