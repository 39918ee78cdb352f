package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrUnrepairable is returned when no repair step produced valid JSON.
var ErrUnrepairable = errors.New("JSON repair failed")

// RepairReport lists the steps RepairJSON applied.
type RepairReport struct {
	Steps           []string `json:"steps"`
	CommentsDropped int      `json:"comments_dropped"`
}

// Repaired reports whether any step changed the input.
func (r RepairReport) Repaired() bool {
	return len(r.Steps) > 0
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
	singleQuotedRe  = regexp.MustCompile(`'([^']*)'`)
)

// repairStep rewrites s, returning it unchanged when the step does not apply.
type repairStep struct {
	name  string
	apply func(s string, report *RepairReport) string
}

// Steps run in this order; the jsonrepair library is the last resort.
var repairSteps = []repairStep{
	{"trailing_commas", func(s string, _ *RepairReport) string {
		return trailingCommaRe.ReplaceAllString(s, "$1")
	}},
	{"completion", func(s string, _ *RepairReport) string {
		return closeOpenScopes(s)
	}},
	{"comments_removed", stripComments},
	{"key_quotes", func(s string, _ *RepairReport) string {
		return bareKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	}},
	{"single_quotes", func(s string, _ *RepairReport) string {
		return singleQuotedRe.ReplaceAllString(s, `"$1"`)
	}},
}

// RepairJSON fixes the usual defects of model-written config and evaluation
// objects: trailing commas, truncated output, comments, bare keys and single
// quotes. Valid input is returned untouched with an empty report.
func RepairJSON(raw string) (string, RepairReport, error) {
	var report RepairReport
	if json.Valid([]byte(raw)) {
		return raw, report, nil
	}

	s := raw
	for _, step := range repairSteps {
		if len(report.Steps) > 0 && json.Valid([]byte(s)) {
			break
		}
		if next := step.apply(s, &report); next != s {
			s = next
			report.Steps = append(report.Steps, step.name)
		}
	}
	if json.Valid([]byte(s)) {
		return s, report, nil
	}

	if fixed, err := jsonrepair.JSONRepair(s); err == nil && fixed != s {
		report.Steps = append(report.Steps, "jsonrepair_library")
		if json.Valid([]byte(fixed)) {
			return fixed, report, nil
		}
		s = fixed
	}
	return s, report, ErrUnrepairable
}

// closeOpenScopes appends the closers of objects and arrays left open by a
// truncated response, innermost first.
func closeOpenScopes(s string) string {
	var open []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			open = append(open, '}')
		case '[':
			open = append(open, ']')
		case '}', ']':
			if n := len(open); n > 0 && open[n-1] == s[i] {
				open = open[:n-1]
			}
		}
	}
	if len(open) == 0 {
		return s
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(s))
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteByte(open[i])
	}
	return b.String()
}

func stripComments(s string, report *RepairReport) string {
	if !strings.Contains(s, "//") && !strings.Contains(s, "/*") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := lineCommentIndex(line); idx != -1 {
			lines[i] = line[:idx]
			report.CommentsDropped++
		}
	}
	s = strings.Join(lines, "\n")
	report.CommentsDropped += len(blockCommentRe.FindAllStringIndex(s, -1))
	return blockCommentRe.ReplaceAllString(s, "")
}

// lineCommentIndex finds a // that starts a comment outside a string literal,
// so URLs such as https://... survive.
func lineCommentIndex(line string) int {
	inString := false
	escaped := false
	for i := 0; i < len(line)-1; i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = inString
		case c == '"':
			inString = !inString
		case !inString && c == '/' && line[i+1] == '/':
			return i
		}
	}
	return -1
}
