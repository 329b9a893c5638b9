package catalogs

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalid marks a configuration file that failed schema or semantic checks.
var ErrInvalid = errors.New("invalid catalog")

//go:embed schemas/*.json
var schemaFS embed.FS

type Catalogs struct {
	Blocks   *BlockCatalog
	Textures *TextureCatalog
	Themes   *ThemeCatalog
}

// Load reads blocks.json, textures.json and themes.yaml from configDir.
// Any failure is a configuration error; there is no partial result.
func Load(configDir string) (*Catalogs, error) {
	blocks, err := LoadBlocks(filepath.Join(configDir, "blocks.json"))
	if err != nil {
		return nil, err
	}
	textures, err := LoadTextures(filepath.Join(configDir, "textures.json"))
	if err != nil {
		return nil, err
	}
	themes, err := LoadThemes(filepath.Join(configDir, "themes.yaml"), blocks)
	if err != nil {
		return nil, err
	}
	return &Catalogs{Blocks: blocks, Textures: textures, Themes: themes}, nil
}

// MissingTextures lists texture keys referenced by block definitions that the
// texture catalog cannot resolve. Those faces render with the fallback material.
func (c *Catalogs) MissingTextures() []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range c.Blocks.IDs() {
		def, _ := c.Blocks.Def(id)
		for _, key := range def.Textures.Keys() {
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, ok := c.Textures.Lookup(key); !ok {
				out = append(out, key)
			}
		}
	}
	sort.Strings(out)
	return out
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

// validateDoc checks a JSON-compatible value against an embedded schema.
func validateDoc(file, schema string, doc any) error {
	s, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("%s: schema: %w", file, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w: %v", file, ErrInvalid, err)
	}
	return nil
}

// normalizeJSON round-trips v through encoding/json so the validator sees
// plain JSON types regardless of the decoder that produced v.
func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
