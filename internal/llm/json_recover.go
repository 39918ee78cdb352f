package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject means the response held no {...} span.
var ErrNoJSONObject = errors.New("no JSON object found in response")

// RecoverJSONObject pulls the JSON object out of a model response: code fences
// are stripped, then the text from the first '{' to the last '}' is returned.
func RecoverJSONObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", ErrNoJSONObject
	}
	return s[start : end+1], nil
}

// DecodeResult describes what DecodeObject did.
type DecodeResult struct {
	Candidate string // text handed to the JSON decoder
	Repaired  bool
	Report    RepairReport
}

// DecodeObject recovers the JSON object in text and decodes it into target.
// With repair set, RepairJSON gets one chance before the decode error is returned.
func DecodeObject(text string, target interface{}, repair bool) (DecodeResult, error) {
	candidate, err := RecoverJSONObject(text)
	if err != nil {
		return DecodeResult{Candidate: text}, err
	}

	res := DecodeResult{Candidate: candidate}
	decodeErr := json.Unmarshal([]byte(candidate), target)
	if decodeErr == nil {
		return res, nil
	}
	if !repair {
		return res, fmt.Errorf("decode: %w", decodeErr)
	}

	fixed, report, repairErr := RepairJSON(candidate)
	res.Report = report
	if repairErr != nil {
		return res, fmt.Errorf("decode: %w", decodeErr)
	}
	if err := json.Unmarshal([]byte(fixed), target); err != nil {
		return res, fmt.Errorf("decode after repair: %w", err)
	}
	res.Candidate = fixed
	res.Repaired = report.Repaired()
	return res, nil
}

// Snippet returns at most n characters of s.
func Snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func retryContains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}
