package models

import (
	"fmt"
	"strings"
	"time"
)

// Recipe is an already-parsed session seed: instructions, an extension
// set, and named parameters substituted into the prompt before the first
// user turn.
type Recipe struct {
	Title        string            `json:"title,omitempty" yaml:"title"`
	Instructions string            `json:"instructions,omitempty" yaml:"instructions"`
	Prompt       string            `json:"prompt,omitempty" yaml:"prompt"`
	Parameters   map[string]string `json:"parameters,omitempty" yaml:"parameters"`
	Extensions   []ExtensionSpec   `json:"extensions,omitempty" yaml:"extensions"`
}

// ExtensionSpec declares one extension a recipe (or config) wants loaded.
type ExtensionSpec struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport,omitempty" yaml:"transport"` // "stdio" or "inprocess"
	Command   string            `json:"command,omitempty" yaml:"command"`
	Args      []string          `json:"args,omitempty" yaml:"args"`
	Env       map[string]string `json:"env,omitempty" yaml:"env"`
	Timeout   time.Duration     `json:"timeout,omitempty" yaml:"timeout"`

	// NonReentrant serializes calls to this extension even when the
	// dispatcher runs other calls concurrently.
	NonReentrant bool `json:"non_reentrant,omitempty" yaml:"non_reentrant"`
}

// Render substitutes {{param}} placeholders in the recipe prompt. A
// placeholder left unsubstituted is an error so a typo never reaches the
// model silently.
func (r *Recipe) Render() (string, error) {
	out := r.Prompt
	for k, v := range r.Parameters {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	if i := strings.Index(out, "{{"); i >= 0 {
		end := i + 24
		if end > len(out) {
			end = len(out)
		}
		return "", fmt.Errorf("recipe prompt references undefined parameter near %q", out[i:end])
	}
	return out, nil
}
