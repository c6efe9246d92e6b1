package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://artifacts-client.local/schemas/"

// Validator checks inbound payloads against the embedded JSON schemas, one
// per inbound event.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	v := &Validator{schemas: map[string]*jsonschema.Schema{}}
	for name := range inboundEvents {
		file := name + ".schema.json"
		b, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBaseURL+file, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		s, err := c.Compile(schemaBaseURL + file)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// Validate reports whether the payload of env satisfies its event schema.
// Events without a schema pass.
func (v *Validator) Validate(env Envelope) error {
	s, ok := v.schemas[env.Event]
	if !ok {
		return nil
	}
	var doc any
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	return nil
}
