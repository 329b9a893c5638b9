package viewerproto

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var clientSchemaFiles = map[string]string{
	TypeSubscribe: "subscribe.schema.json",
	TypeView:      "view.schema.json",
	TypeSetBlock:  "set_block.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func clientSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		for _, name := range clientSchemaFiles {
			b, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("%s: %w", name, err)
				return
			}
		}
		out := map[string]*jsonschema.Schema{}
		for typ, name := range clientSchemaFiles {
			s, err := c.Compile(name)
			if err != nil {
				schemasErr = fmt.Errorf("%s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// ValidateClient checks a client message against the schema for its type
// and the protocol version.
func ValidateClient(msg []byte) (Base, error) {
	base, err := DecodeBase(msg)
	if err != nil {
		return base, err
	}
	all, err := clientSchemas()
	if err != nil {
		return base, err
	}
	s, ok := all[base.Type]
	if !ok {
		return base, fmt.Errorf("unknown message type %q", base.Type)
	}
	var doc any
	if err := json.Unmarshal(msg, &doc); err != nil {
		return base, err
	}
	if err := s.Validate(doc); err != nil {
		return base, err
	}
	if base.ProtocolVersion != Version {
		return base, fmt.Errorf("protocol_version %q, want %q", base.ProtocolVersion, Version)
	}
	return base, nil
}
