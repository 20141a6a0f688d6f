package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/chatcore/internal/tools"
)

// ParseKind reports how a model output was interpreted. Anything other than
// ParseOK means the caller fell back to the documented default.
type ParseKind int

const (
	// ParseOK means the output was well formed and used as is.
	ParseOK ParseKind = iota

	// ParseMalformed means the output could not be read at all.
	ParseMalformed

	// ParseInvalid means the output was readable but broke a contract.
	ParseInvalid
)

func (k ParseKind) String() string {
	switch k {
	case ParseOK:
		return "ok"
	case ParseMalformed:
		return "malformed"
	case ParseInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("ParseKind(%d)", int(k))
	}
}

// Classification is the routing decision for a query.
type Classification string

const (
	Simple Classification = "SIMPLE"
	Multi  Classification = "MULTI"
)

var (
	classificationPattern = regexp.MustCompile(`(?i)\b(SIMPLE|MULTI)\b`)
	relevancePattern      = regexp.MustCompile(`(?i)Label:\s*([01])`)
	fencePattern          = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
)

// ParseClassification finds the first whole-word SIMPLE or MULTI, in any
// case. Anything else classifies as Multi.
func ParseClassification(output string) (Classification, ParseKind) {
	m := classificationPattern.FindStringSubmatch(output)
	if m == nil {
		return Multi, ParseMalformed
	}
	return Classification(strings.ToUpper(m[1])), ParseOK
}

// ParseRelevance reads a "Label: 0" or "Label: 1" judgment. Anything else
// scores 0.
func ParseRelevance(output string) (int, ParseKind) {
	m := relevancePattern.FindStringSubmatch(output)
	if m == nil {
		return 0, ParseMalformed
	}
	if m[1] == "1" {
		return 1, ParseOK
	}
	return 0, ParseOK
}

// ParseSubQueries reads a list of strings written either as JSON or with
// single-quoted items. Items are trimmed and empty items dropped. When the
// output is not such a list, or the list ends up empty, the result is the
// query alone.
func ParseSubQueries(output, query string) ([]string, ParseKind) {
	items, err := parseStringList(unfence(output))
	if err != nil {
		return []string{query}, ParseMalformed
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return []string{query}, ParseInvalid
	}
	return out, ParseOK
}

// PlanValidator checks a decoded plan against the tool contracts.
type PlanValidator interface {
	Validate(raw any) ([]tools.Call, error)
}

// ParseToolPlan reads a JSON list of {tool, params} calls and validates it.
// On failure it returns nil and the caller substitutes the default plan.
func ParseToolPlan(output string, v PlanValidator) ([]tools.Call, ParseKind, error) {
	var raw any
	if err := json.Unmarshal([]byte(unfence(output)), &raw); err != nil {
		return nil, ParseMalformed, err
	}
	calls, err := v.Validate(raw)
	if err != nil {
		return nil, ParseInvalid, err
	}
	return calls, ParseOK, nil
}

// unfence strips a surrounding markdown code fence, if any.
func unfence(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

var errNotStringList = errors.New("not a list of strings")

// parseStringList accepts a JSON array of strings or a bracketed list of
// single or double quoted strings, with an optional trailing comma.
func parseStringList(s string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err == nil {
		if items == nil {
			return nil, errNotStringList
		}
		return items, nil
	}

	p := &literalParser{s: s}
	p.skipSpace()
	if !p.consume('[') {
		return nil, errNotStringList
	}
	items = []string{}
	for {
		p.skipSpace()
		if p.consume(']') {
			break
		}
		item, err := p.str()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		p.skipSpace()
		if p.consume(',') {
			continue
		}
		if p.consume(']') {
			break
		}
		return nil, errNotStringList
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, errNotStringList
	}
	return items, nil
}

type literalParser struct {
	s   string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.s) && strings.ContainsRune(" \t\r\n", rune(p.s[p.pos])) {
		p.pos++
	}
}

func (p *literalParser) consume(c byte) bool {
	if p.pos < len(p.s) && p.s[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *literalParser) str() (string, error) {
	if p.pos >= len(p.s) {
		return "", errNotStringList
	}
	quote := p.s[p.pos]
	if quote != '\'' && quote != '"' {
		return "", errNotStringList
	}
	p.pos++

	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\n':
			return "", errNotStringList
		case c == '\\' && p.pos+1 < len(p.s):
			p.pos++
			switch e := p.s[p.pos]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '\'', '"':
				b.WriteByte(e)
			default:
				b.WriteByte('\\')
				b.WriteByte(e)
			}
			p.pos++
		default:
			r, size := utf8.DecodeRuneInString(p.s[p.pos:])
			b.WriteRune(r)
			p.pos += size
		}
	}
	return "", errNotStringList
}
