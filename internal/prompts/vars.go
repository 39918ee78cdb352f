package prompts

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Placeholder represents a single {{VAR:...}} occurrence with parsed options.
type Placeholder struct {
	Raw     string
	Name    string
	Options map[string]string // e.g., join, default
}

var (
	// Matches {{VAR:name|key=value|key2="quoted value"}}
	// Capture 1 = name, Capture 2 = options (may be empty)
	varPattern = regexp.MustCompile(`\{\{VAR:([a-zA-Z0-9_\-]+)((?:\|[^}]+)?)}}`)
	optPattern = regexp.MustCompile(`\|([^=|]+)=([^|]+)`) // key=value segments
)

var (
	// ErrUnknownVariable is returned when a template references a variable the renderer cannot supply.
	ErrUnknownVariable = errors.New("unknown template variable")
	// ErrMissingVariable is returned when a template omits a variable it must contain.
	ErrMissingVariable = errors.New("template is missing required variable")
)

// ParsePlaceholders returns all placeholder occurrences in order of appearance.
func ParsePlaceholders(body string) []Placeholder {
	matches := varPattern.FindAllStringSubmatchIndex(body, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, idx := range matches {
		raw := body[idx[0]:idx[1]]
		name := body[idx[2]:idx[3]]
		optsRaw := ""
		if len(idx) >= 6 && idx[4] != -1 {
			optsRaw = body[idx[4]:idx[5]]
		}
		out = append(out, Placeholder{Raw: raw, Name: name, Options: parseOptions(optsRaw)})
	}
	return out
}

func parseOptions(optsRaw string) map[string]string {
	opts := map[string]string{}
	if optsRaw == "" {
		return opts
	}
	for _, seg := range optPattern.FindAllStringSubmatch(optsRaw, -1) {
		key := strings.TrimSpace(seg[1])
		val := strings.TrimSpace(seg[2])
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		opts[strings.ToLower(key)] = decodeEscapes(val)
	}
	return opts
}

func decodeEscapes(s string) string {
	// Minimal decoding: \n, \t, \r, \; leave others as-is
	b := strings.Builder{}
	b.Grow(len(s))
	esc := false
	for _, r := range s {
		if !esc {
			if r == '\\' {
				esc = true
				continue
			}
			b.WriteRune(r)
			continue
		}
		switch r {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
		esc = false
	}
	if esc {
		b.WriteByte('\\')
	}
	return b.String()
}

// Template is a parsed prompt body whose placeholders have been checked
// against the variables its renderer supplies.
type Template struct {
	body     string
	defaults map[string]string
}

// ParseTemplate checks that every placeholder in body names one of known and
// that every name in required appears at least once. defaults supplies the
// value used when a variable renders empty and the placeholder has no default option.
func ParseTemplate(body string, known []string, required []string, defaults map[string]string) (*Template, error) {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}

	seen := map[string]bool{}
	var unknown []string
	for _, ph := range ParsePlaceholders(body) {
		if !knownSet[ph.Name] {
			unknown = append(unknown, ph.Name)
			continue
		}
		seen[ph.Name] = true
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, strings.Join(unknown, ", "))
	}
	for _, r := range required {
		if !seen[r] {
			return nil, fmt.Errorf("%w: %s", ErrMissingVariable, r)
		}
	}

	return &Template{body: body, defaults: defaults}, nil
}

// Render substitutes vars into the template. A variable with several values is
// joined with the placeholder's join option (", " when absent).
func (t *Template) Render(vars map[string][]string) string {
	matches := varPattern.FindAllStringSubmatchIndex(t.body, -1)
	var buf strings.Builder
	buf.Grow(len(t.body))
	last := 0
	for _, m := range matches {
		fullStart, fullEnd := m[0], m[1]
		name := t.body[m[2]:m[3]]
		optsRaw := ""
		if len(m) >= 6 && m[4] != -1 {
			optsRaw = t.body[m[4]:m[5]]
		}
		opts := parseOptions(optsRaw)

		buf.WriteString(t.body[last:fullStart])

		joinSep, ok := opts["join"]
		if !ok {
			joinSep = ", "
		}
		val := strings.Join(nonEmpty(vars[name]), joinSep)
		if val == "" {
			if def, ok := opts["default"]; ok {
				val = def
			} else {
				val = t.defaults[name]
			}
		}
		buf.WriteString(val)
		last = fullEnd
	}
	buf.WriteString(t.body[last:])
	return buf.String()
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
