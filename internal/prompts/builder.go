package prompts

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mcpharvest/internal/capture"
	"github.com/mcpharvest/pkg/models"
)

const (
	// MaxFileChars is the per-file content cap, counted in characters.
	MaxFileChars = 15000
	// TruncationMarker is appended to content cut at MaxFileChars.
	TruncationMarker = "\n\n[... truncated ...]"
	// maxAuditNameLen caps the sanitized audit file stem.
	maxAuditNameLen = 200
)

// Variables available to extraction templates.
const (
	VarName         = "name"
	VarFullName     = "full_name"
	VarDescription  = "description"
	VarLanguage     = "language"
	VarTopics       = "topics"
	VarHomepage     = "homepage"
	VarStars        = "stars"
	VarForks        = "forks"
	VarFilesContent = "files_content"
)

var extractionVars = []string{
	VarName, VarFullName, VarDescription, VarLanguage, VarTopics,
	VarHomepage, VarStars, VarForks, VarFilesContent,
}

var extractionDefaults = map[string]string{
	VarName:        "unknown",
	VarFullName:    "unknown",
	VarDescription: "No description",
	VarLanguage:    "Unknown",
	VarTopics:      "None",
	VarHomepage:    "None",
	VarStars:       "0",
	VarForks:       "0",
}

// Builder renders extraction prompts and records each one to the audit sink.
type Builder struct {
	tpl  *Template
	sink capture.Sink
}

// NewBuilder parses template. Unknown variables, or a template without
// {{VAR:files_content}}, are rejected here rather than at render time.
func NewBuilder(template string, sink capture.Sink) (*Builder, error) {
	tpl, err := ParseTemplate(template, extractionVars, []string{VarFilesContent}, extractionDefaults)
	if err != nil {
		return nil, fmt.Errorf("extraction template: %w", err)
	}
	return &Builder{tpl: tpl, sink: sink}, nil
}

// NewBuilderFromFile reads the template from path.
func NewBuilderFromFile(path string, sink capture.Sink) (*Builder, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read extraction template: %w", err)
	}
	return NewBuilder(string(body), sink)
}

// Build renders the prompt for one repository. Output depends only on the
// arguments. The rendered prompt is written to the sink as <sanitized name>.txt.
func (b *Builder) Build(ctx context.Context, files map[string]string, meta models.RepoMetadata) string {
	prompt := b.tpl.Render(map[string][]string{
		VarName:         {meta.Name},
		VarFullName:     {meta.FullName},
		VarDescription:  {meta.Description},
		VarLanguage:     {meta.Language},
		VarTopics:       meta.Topics,
		VarHomepage:     {meta.Homepage},
		VarStars:        {strconv.Itoa(meta.Stars)},
		VarForks:        {strconv.Itoa(meta.Forks)},
		VarFilesContent: {FormatFiles(files)},
	})

	capture.Record(ctx, b.sink, AuditName(meta.Name)+".txt", []byte(prompt))
	return prompt
}

// FormatFiles renders files in filename order as fenced sections. Empty files
// are skipped and long ones truncated.
func FormatFiles(files map[string]string) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		content := files[name]
		if content == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s\n```\n%s\n```\n", name, Truncate(content, MaxFileChars))
	}
	return sb.String()
}

// Truncate cuts s to max characters and appends TruncationMarker when it does.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + TruncationMarker
}

var (
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	underscoreRuns  = regexp.MustCompile(`_+`)
)

// AuditName turns a repository name into a safe file stem.
func AuditName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	if len(s) > maxAuditNameLen {
		s = s[:maxAuditNameLen]
	}
	if s == "" {
		return "unknown"
	}
	return s
}
