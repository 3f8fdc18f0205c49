package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePersona(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPersonaParsesToolPolicy(t *testing.T) {
	path := writePersona(t, `
name: jeeves
system_prompt: You are Jeeves.
tools:
  - name: web_search
    description: Search the web.
    input_schema:
      type: object
      properties:
        query:
          type: string
  - name: run_code
    description: Run code in a project.
  - name: confirm_danger
    description: Confirm a dangerous action.
gated_tools: [run_code]
unlock_tool: confirm_danger
project_tools: [run_code]
`)

	persona, err := LoadPersona(path)
	require.NoError(t, err)

	assert.Equal(t, "jeeves", persona.Name)
	assert.Equal(t, "You are Jeeves.", persona.SystemPrompt)
	require.Len(t, persona.Tools, 3)
	assert.Equal(t, []string{"run_code"}, persona.GatedTools)
	assert.Equal(t, "confirm_danger", persona.UnlockTool)

	schema, err := persona.Tools[0].SchemaJSON()
	require.NoError(t, err)
	assert.Contains(t, string(schema), `"query"`)

	// A tool without a schema gets an empty object schema.
	schema, err = persona.Tools[1].SchemaJSON()
	require.NoError(t, err)
	assert.Contains(t, string(schema), `"type":"object"`)
}

func TestLoadPersonaMissingFileUsesDefaults(t *testing.T) {
	persona, err := LoadPersona(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "aide", persona.Name)
	assert.Empty(t, persona.Tools)
}

func TestLoadPersonaRejectsBadYAML(t *testing.T) {
	path := writePersona(t, "tools: [\n")
	_, err := LoadPersona(path)
	assert.Error(t, err)
}

func TestLoadPersonaRejectsInconsistentPolicy(t *testing.T) {
	cases := map[string]string{
		"undeclared gated tool": `
tools:
  - name: web_search
gated_tools: [run_code]
unlock_tool: web_search
`,
		"gated without unlock": `
tools:
  - name: run_code
gated_tools: [run_code]
`,
		"duplicate tool": `
tools:
  - name: web_search
  - name: web_search
`,
		"undeclared project tool": `
tools:
  - name: web_search
project_tools: [run_code]
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPersona(writePersona(t, content))
			assert.Error(t, err)
		})
	}
}
