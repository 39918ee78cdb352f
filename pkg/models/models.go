package models

import (
	"github.com/google/uuid"
)

// Repository inputs

// RepoMetadata is the hosting metadata captured by the crawler.
type RepoMetadata struct {
	Name        string   `json:"name"`
	FullName    string   `json:"full_name"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Homepage    string   `json:"homepage"`
	Topics      []string `json:"topics"`
	Stars       int      `json:"stars"`
	Forks       int      `json:"forks"`
}

// RepositoryDescriptor is one unit of work: a repository with its fetched files.
type RepositoryDescriptor struct {
	RepoID    uuid.UUID         `json:"repo_id"`
	GithubURL string            `json:"github_url"`
	Metadata  RepoMetadata      `json:"metadata"`
	Files     map[string]string `json:"files"` // filename -> content
}

// Extraction output

// EnvVar describes one environment variable an MCP server reads.
type EnvVar struct {
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Example     string `json:"example"`
}

// CallMetadata is the side-channel annotation attached to a freshly extracted config.
type CallMetadata struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
}

// ExtractedConfig is the installation record persisted for a repository.
type ExtractedConfig struct {
	Name       string            `json:"name"`
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Env        map[string]EnvVar `json:"env"`
	Install    *string           `json:"install"`
	Confidence *float64          `json:"confidence,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`

	LLM *CallMetadata `json:"-"`
}

// Clean returns the persisted form of the config: no call metadata, and
// args/env always present as [] and {}.
func (c ExtractedConfig) Clean() ExtractedConfig {
	out := c
	out.LLM = nil
	out.Args = append([]string{}, c.Args...)
	out.Env = make(map[string]EnvVar, len(c.Env))
	for k, v := range c.Env {
		out.Env[k] = v
	}
	if len(c.Warnings) > 0 {
		out.Warnings = append([]string(nil), c.Warnings...)
	}
	return out
}

// ExtractionStatus tags an ExtractionResult.
type ExtractionStatus string

const (
	ExtractionSucceeded ExtractionStatus = "extracted"
	ExtractionFailed    ExtractionStatus = "extraction_failed"
)

// ExtractionError is the failure variant of an extraction.
type ExtractionError struct {
	Error                string `json:"error"`
	RequiresManualReview bool   `json:"requires_manual_review"`
	RawResponse          string `json:"raw_response,omitempty"`
}

// ExtractionResult holds exactly one of Config or Failure, selected by Status.
type ExtractionResult struct {
	Status  ExtractionStatus `json:"status"`
	Config  *ExtractedConfig `json:"config,omitempty"`
	Failure *ExtractionError `json:"failure,omitempty"`
}

// Succeeded reports whether the result carries a config.
func (r ExtractionResult) Succeeded() bool {
	return r.Status == ExtractionSucceeded && r.Config != nil
}

// Reason returns the failure message, or "" for a successful result.
func (r ExtractionResult) Reason() string {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Error
}

// Validation output

// VerdictStatus is the terminal classification of an item.
type VerdictStatus string

const (
	StatusApproved    VerdictStatus = "approved"
	StatusNeedsReview VerdictStatus = "needs_review"
	StatusRejected    VerdictStatus = "rejected"
)

// Verdict is the validator's judgement of one config.
type Verdict struct {
	Status     VerdictStatus `json:"status"`
	Score      float64       `json:"score"` // 0..10, or -1 when the validator itself failed
	Confidence float64       `json:"confidence"`
	Issues     []string      `json:"issues"`
	Warnings   []string      `json:"warnings"`
}

// Statistics summarises the store.
type Statistics struct {
	Total              int            `json:"total"`
	WithConfig         int            `json:"with_config"`
	WithoutConfig      int            `json:"without_config"`
	ByStatus           map[string]int `json:"by_status"`
	AvgStarsWithConfig float64        `json:"avg_stars_with_config"`
}
