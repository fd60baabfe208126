// Package prompts holds the Spanish prompt catalogue used by the
// model-assisted stages. Prompts are embedded at build time and rendered
// with simple {name} placeholder substitution.
package prompts

import (
	"embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed es.yaml
var catalogueFS embed.FS

// Prompt names.
const (
	DebateProFraud    = "debate_pro_fraud"
	DebateProCustomer = "debate_pro_customer"
	ExplainCustomer   = "explain_customer"
	ExplainAudit      = "explain_audit"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Catalogue is a loaded set of named prompt templates.
type Catalogue struct {
	templates map[string]string
}

// Load parses the embedded catalogue.
func Load() (*Catalogue, error) {
	data, err := catalogueFS.ReadFile("es.yaml")
	if err != nil {
		return nil, fmt.Errorf("prompts: read catalogue: %w", err)
	}
	templates := map[string]string{}
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("prompts: parse catalogue: %w", err)
	}
	for _, name := range []string{DebateProFraud, DebateProCustomer, ExplainCustomer, ExplainAudit} {
		if templates[name] == "" {
			return nil, fmt.Errorf("prompts: catalogue missing %q", name)
		}
	}
	return &Catalogue{templates: templates}, nil
}

// Render substitutes {name} placeholders in the named template.
// Unknown templates and unresolved placeholders are errors.
func (c *Catalogue) Render(name string, vars map[string]string) (string, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("prompts: unknown template %q", name)
	}
	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	if m := placeholderRe.FindStringSubmatch(out); m != nil {
		return "", fmt.Errorf("prompts: template %q missing variable %q", name, m[1])
	}
	return out, nil
}
