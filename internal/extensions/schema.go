package extensions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaValidator checks tool-call arguments against the tool's declared
// input schema before dispatch. Compiled schemas are cached per
// extension/tool; a tool without a schema accepts anything.
type schemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// validate returns a non-nil error when arguments do not satisfy the
// tool's schema. Malformed schemas fail open with a log-worthy error so
// a buggy extension cannot brick its own tools.
func (v *schemaValidator) validate(extension string, def ToolDef, arguments json.RawMessage) error {
	if len(def.InputSchema) == 0 {
		return nil
	}

	schema, err := v.compile(extension+"/"+def.Name, def.InputSchema)
	if err != nil {
		return nil
	}

	var doc any
	payload := arguments
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("arguments do not match tool schema: %w", err)
	}
	return nil
}

func (v *schemaValidator) compile(key string, raw json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.compiled[key]; ok {
		return s, nil
	}
	s, err := jsonschema.CompileString(key+".json", string(raw))
	if err != nil {
		return nil, err
	}
	v.compiled[key] = s
	return s, nil
}
