package protocol

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://gridwarden.ai/schemas/"

var (
	// PayloadSchema validates the closed payload variant set. This is the
	// schema the pipeline's first stage evaluates.
	PayloadSchema = mustCompile("payload.schema.json")
	SubmitSchema  = mustCompile("submit.schema.json")
	HelloSchema   = mustCompile("hello.schema.json")
)

func mustCompile(name string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		panic(fmt.Sprintf("schemas: %v", err))
	}
	for _, e := range entries {
		f, err := schemaFS.Open(path.Join("schemas", e.Name()))
		if err != nil {
			panic(fmt.Sprintf("schemas: open %s: %v", e.Name(), err))
		}
		if err := c.AddResource(schemaBase+e.Name(), f); err != nil {
			panic(fmt.Sprintf("schemas: add %s: %v", e.Name(), err))
		}
	}
	s, err := c.Compile(schemaBase + name)
	if err != nil {
		panic(fmt.Sprintf("schemas: compile %s: %v", name, err))
	}
	return s
}

// ValidateSchema checks the payload against the embedded payload schema.
// The value is round-tripped through JSON because the validator operates
// on decoded JSON, not on Go structs.
func (p Payload) ValidateSchema() error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("payload marshal: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("payload decode: %w", err)
	}
	return PayloadSchema.Validate(v)
}

// ValidateMessage checks a raw wire frame against the schema for its type.
func ValidateMessage(schema *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}
