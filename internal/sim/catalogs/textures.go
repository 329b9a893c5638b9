package catalogs

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Texture describes a procedurally drawn block texture. The mesher treats it
// as opaque; renderers draw it from these fields.
type Texture struct {
	Key   string `json:"key"`
	Color string `json:"color"`
	Size  int    `json:"size,omitempty"`
	Bevel int    `json:"bevel,omitempty"`
	Light string `json:"light,omitempty"`
	Dark  string `json:"dark,omitempty"`
}

type TextureCatalog struct {
	ByKey  map[string]Texture
	Digest string
}

func LoadTextures(path string) (*TextureCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTextures(raw)
}

func ParseTextures(raw []byte) (*TextureCatalog, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("textures.json: %w", err)
	}
	if err := validateDoc("textures.json", "textures.schema.json", doc); err != nil {
		return nil, err
	}
	var m map[string]Texture
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("textures.json: %w", err)
	}
	out := &TextureCatalog{ByKey: make(map[string]Texture, len(m)), Digest: sha256Hex(raw)}
	for k, t := range m {
		t.Key = k
		if t.Size == 0 {
			t.Size = 64
		}
		if t.Light == "" {
			t.Light = "rgba(255,255,255,0.3)"
		}
		if t.Dark == "" {
			t.Dark = "rgba(0,0,0,0.2)"
		}
		out.ByKey[k] = t
	}
	return out, nil
}

func (c *TextureCatalog) Lookup(key string) (Texture, bool) {
	if c == nil {
		return Texture{}, false
	}
	t, ok := c.ByKey[key]
	return t, ok
}

func (c *TextureCatalog) Keys() []string {
	out := make([]string, 0, len(c.ByKey))
	for k := range c.ByKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
