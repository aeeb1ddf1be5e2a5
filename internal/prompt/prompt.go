// Package prompt loads the prompt pack: the tag vocabulary shared with the
// parser and the templates for the assembly and summary prompts.
// Override files support environment variable references via ${VAR}.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultPack []byte

// Pack is a versioned set of prompts.
type Pack struct {
	Version         int      `yaml:"version"`
	Vocabulary      []string `yaml:"vocabulary"`
	System          string   `yaml:"system"`
	Summary         string   `yaml:"summary"`
	Apology         string   `yaml:"apology"`
	SummaryFallback string   `yaml:"summary_fallback"`

	system  *template.Template
	summary *template.Template
}

// Info mirrors the gathered project fields shown to the model.
type Info struct {
	Name        string
	Description string
	Category    string
	Priority    string
	EDCDate     string
	FUDDate     string
}

// Snapshot is the state view rendered into the system prompt. Gathered task
// and team member lists are deliberately absent; only their counts appear.
type Snapshot struct {
	Today           string
	Step            string
	Info            Info
	TeamMemberCount int
	TaskCount       int
	Missing         []string
	Committed       bool
}

// Message is one line of the conversation fed to the summary prompt.
type Message struct {
	Role    string
	Content string
}

// SummaryInput feeds the summary template.
type SummaryInput struct {
	MaxWords int
	Messages []Message
}

// Default returns the embedded pack.
func Default() (*Pack, error) {
	return Parse(defaultPack)
}

// Load reads a pack from path. Fields the file leaves empty fall back to the
// embedded defaults.
func Load(path string) (*Pack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse builds a pack from YAML bytes, expanding ${VAR} references first.
func Parse(data []byte) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &p); err != nil {
		return nil, fmt.Errorf("prompt: parse: %w", err)
	}
	if err := p.fillDefaults(); err != nil {
		return nil, err
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pack) fillDefaults() error {
	var d Pack
	if err := yaml.Unmarshal(defaultPack, &d); err != nil {
		return fmt.Errorf("prompt: parse embedded pack: %w", err)
	}
	if p.Version == 0 {
		p.Version = d.Version
	}
	if len(p.Vocabulary) == 0 {
		p.Vocabulary = d.Vocabulary
	}
	if strings.TrimSpace(p.System) == "" {
		p.System = d.System
	}
	if strings.TrimSpace(p.Summary) == "" {
		p.Summary = d.Summary
	}
	if strings.TrimSpace(p.Apology) == "" {
		p.Apology = d.Apology
	}
	if strings.TrimSpace(p.SummaryFallback) == "" {
		p.SummaryFallback = d.SummaryFallback
	}
	return nil
}

var funcs = template.FuncMap{"join": strings.Join}

func (p *Pack) compile() error {
	var err error
	if p.system, err = template.New("system").Funcs(funcs).Option("missingkey=zero").Parse(p.System); err != nil {
		return fmt.Errorf("prompt: system template: %w", err)
	}
	if p.summary, err = template.New("summary").Funcs(funcs).Option("missingkey=zero").Parse(p.Summary); err != nil {
		return fmt.Errorf("prompt: summary template: %w", err)
	}
	return nil
}

// RenderSystem renders the assembly system prompt. A zero Today is filled
// with the current UTC date.
func (p *Pack) RenderSystem(s Snapshot) (string, error) {
	if s.Today == "" {
		s.Today = time.Now().UTC().Format("2006-01-02")
	}
	var buf bytes.Buffer
	if err := p.system.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("prompt: render system: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// RenderSummary renders the summarization prompt.
func (p *Pack) RenderSummary(in SummaryInput) (string, error) {
	if in.MaxWords <= 0 {
		in.MaxWords = 200
	}
	var buf bytes.Buffer
	if err := p.summary.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("prompt: render summary: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// envVarPattern matches ${VAR_NAME}. Bare $VAR is left alone so prompt text
// can mention prices.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}
