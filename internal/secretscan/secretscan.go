// Package secretscan flags live-looking credentials that a model copied into
// an extracted config's examples or arguments.
package secretscan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/mcpharvest/pkg/models"
)

// Scanner runs the default gitleaks rule set over config fields.
type Scanner struct {
	detector *detect.Detector
}

// New loads the default gitleaks configuration.
func New() (*Scanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks rules: %w", err)
	}
	return &Scanner{detector: detector}, nil
}

// Warnings returns one warning per field that looks like it holds a real secret.
func (s *Scanner) Warnings(cfg models.ExtractedConfig) []string {
	var warnings []string

	names := make([]string, 0, len(cfg.Env))
	for name := range cfg.Env {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		example := cfg.Env[name].Example
		if strings.TrimSpace(example) == "" {
			continue
		}
		if rule := s.firstRule(fmt.Sprintf("%s=%s", name, example)); rule != "" {
			warnings = append(warnings, fmt.Sprintf("env %s example looks like a real secret (%s)", name, rule))
		}
	}

	for i, arg := range cfg.Args {
		if rule := s.firstRule(arg); rule != "" {
			warnings = append(warnings, fmt.Sprintf("args[%d] looks like a real secret (%s)", i, rule))
		}
	}
	return warnings
}

func (s *Scanner) firstRule(content string) string {
	findings := s.detector.DetectString(content)
	if len(findings) == 0 {
		return ""
	}
	return findings[0].RuleID
}
