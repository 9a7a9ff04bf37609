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

// Validator checks raw inbound messages against the wire schemas before
// they are decoded into typed structs.
type Validator struct {
	hello *jsonschema.Schema
	cmd   *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	for _, name := range []string{"hello.schema.json", "cmd.schema.json"} {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	hello, err := c.Compile("hello.schema.json")
	if err != nil {
		return nil, err
	}
	cmd, err := c.Compile("cmd.schema.json")
	if err != nil {
		return nil, err
	}
	return &Validator{hello: hello, cmd: cmd}, nil
}

func (v *Validator) ValidateHello(raw []byte) error { return validate(v.hello, raw) }
func (v *Validator) ValidateCmd(raw []byte) error   { return validate(v.cmd, raw) }

func validate(s *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
