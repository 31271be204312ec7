package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// ErrPromptNotFound marks the distinguishable "no template for this step"
// failure, as opposed to a template that exists but fails to render.
var ErrPromptNotFound = errors.New("no prompt template for step")

// StepDef is one step of a workflow definition: a stable name and the
// text/template source for its prompt.
type StepDef struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

// Definition describes a workflow: its ordered steps and which step is
// terminal. Definitions are loaded once at startup from a YAML file.
type Definition struct {
	Name         string    `yaml:"name"`
	Steps        []StepDef `yaml:"steps"`
	TerminalStep string    `yaml:"terminal_step"`
}

func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition: %w", err)
	}
	return ParseDefinition(data)
}

func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	if def.Name == "" {
		return nil, errors.New("workflow definition has no name")
	}
	if len(def.Steps) == 0 {
		return nil, errors.New("workflow definition has no steps")
	}
	if def.TerminalStep == "" {
		def.TerminalStep = def.Steps[len(def.Steps)-1].Name
	}
	return &def, nil
}

func (d *Definition) FirstStep() string {
	return d.Steps[0].Name
}

func (d *Definition) IsTerminal(step string) bool {
	return step == d.TerminalStep
}

func (d *Definition) step(name string) *StepDef {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i]
		}
	}
	return nil
}

// Renderer produces the instruction text for a workflow step. The default
// implementation renders the definition's text/template prompts; tests swap
// in stubs.
type Renderer interface {
	Render(step string, data map[string]any) (string, error)
}

type templateRenderer struct {
	def *Definition
}

func NewRenderer(def *Definition) Renderer {
	return &templateRenderer{def: def}
}

func (r *templateRenderer) Render(step string, data map[string]any) (string, error) {
	stepDef := r.def.step(step)
	if stepDef == nil || stepDef.Prompt == "" {
		return "", fmt.Errorf("%w: %q", ErrPromptNotFound, step)
	}
	tmpl, err := template.New(step).Option("missingkey=zero").Parse(stepDef.Prompt)
	if err != nil {
		return "", fmt.Errorf("invalid prompt template for step %q: %w", step, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt for step %q: %w", step, err)
	}
	return buf.String(), nil
}
