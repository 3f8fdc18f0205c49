package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona is the assistant's identity and tool policy, loaded from a
// YAML file so it can be edited without rebuilding.
type Persona struct {
	// Name is how the assistant refers to itself.
	Name string `yaml:"name"`

	// SystemPrompt is the persona text prepended to every turn.
	SystemPrompt string `yaml:"system_prompt"`

	// Tools declares the tool set offered to the model.
	Tools []ToolDef `yaml:"tools"`

	// GatedTools are locked until UnlockTool is called once per turn.
	GatedTools []string `yaml:"gated_tools"`

	// UnlockTool names the tool that unlocks the gated set.
	UnlockTool string `yaml:"unlock_tool"`

	// ProjectTools are the tools whose project_id argument marks a
	// project as accessed.
	ProjectTools []string `yaml:"project_tools"`
}

// ToolDef declares one tool. The input schema is written as YAML and
// converted to JSON for the provider wire format.
type ToolDef struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	InputSchema map[string]any `yaml:"input_schema"`
}

// SchemaJSON returns the tool's input schema as JSON. An absent schema
// becomes an empty object, which providers accept as "no parameters".
func (t ToolDef) SchemaJSON() (json.RawMessage, error) {
	schema := t.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("config: invalid input schema for tool %q: %w", t.Name, err)
	}
	return data, nil
}

// defaultPersona is used when no persona file exists yet.
func defaultPersona() *Persona {
	return &Persona{
		Name:         "aide",
		SystemPrompt: "You are aide, a concise personal assistant for a single user.",
	}
}

// LoadPersona reads the persona file. A missing file is not fatal: the
// assistant starts with a default persona and no tools. A file that
// exists but cannot be parsed is a configuration error and blocks
// startup.
func LoadPersona(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Printf("WARNING: config: persona file %s not found, using defaults", path)
		return defaultPersona(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to read persona file: %w", err)
	}

	var persona Persona
	if err := yaml.Unmarshal(data, &persona); err != nil {
		return nil, fmt.Errorf("config: failed to parse persona file %s: %w", path, err)
	}
	if persona.Name == "" {
		persona.Name = "aide"
	}

	if err := persona.validate(); err != nil {
		return nil, err
	}
	return &persona, nil
}

// validate checks the tool policy for internal consistency.
func (p *Persona) validate() error {
	known := make(map[string]bool, len(p.Tools))
	for _, tool := range p.Tools {
		if tool.Name == "" {
			return fmt.Errorf("config: persona declares a tool with no name")
		}
		if known[tool.Name] {
			return fmt.Errorf("config: persona declares tool %q twice", tool.Name)
		}
		known[tool.Name] = true
	}

	for _, gated := range p.GatedTools {
		if !known[gated] {
			return fmt.Errorf("config: gated tool %q is not declared", gated)
		}
	}
	if len(p.GatedTools) > 0 && p.UnlockTool == "" {
		return fmt.Errorf("config: gated tools declared but no unlock_tool set")
	}
	if p.UnlockTool != "" && !known[p.UnlockTool] {
		return fmt.Errorf("config: unlock tool %q is not declared", p.UnlockTool)
	}
	for _, name := range p.ProjectTools {
		if !known[name] {
			return fmt.Errorf("config: project tool %q is not declared", name)
		}
	}
	return nil
}
