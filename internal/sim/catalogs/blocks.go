package catalogs

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

type BlockID uint16

// Air is the absence of a block. No definition may claim it.
const Air BlockID = 0

const airName = "AIR"

// FaceTextures maps faces to texture keys. All is used for any face that has
// no specific key.
type FaceTextures struct {
	Top    string `json:"top,omitempty"`
	Bottom string `json:"bottom,omitempty"`
	Side   string `json:"side,omitempty"`
	All    string `json:"all,omitempty"`
}

func pick(key, all string) string {
	if key != "" {
		return key
	}
	return all
}

func (t FaceTextures) TopKey() string    { return pick(t.Top, t.All) }
func (t FaceTextures) BottomKey() string { return pick(t.Bottom, t.All) }
func (t FaceTextures) SideKey() string   { return pick(t.Side, t.All) }

// Keys returns the distinct resolved keys used by the three face classes.
func (t FaceTextures) Keys() []string {
	var out []string
	for _, k := range []string{t.TopKey(), t.BottomKey(), t.SideKey()} {
		if k == "" {
			continue
		}
		dup := false
		for _, o := range out {
			if o == k {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, k)
		}
	}
	return out
}

type Shading struct {
	Roughness         float64 `json:"roughness" yaml:"roughness"`
	Metalness         float64 `json:"metalness" yaml:"metalness"`
	Emissive          string  `json:"emissive,omitempty" yaml:"emissive,omitempty"`
	EmissiveIntensity float64 `json:"emissive_intensity,omitempty" yaml:"emissive_intensity,omitempty"`
	DoubleSided       bool    `json:"double_sided,omitempty" yaml:"double_sided,omitempty"`
}

// DefaultShading applies to blocks that declare no shading of their own.
func DefaultShading() Shading {
	return Shading{Roughness: 0.7, Metalness: 0}
}

type BlockDef struct {
	ID          BlockID      `json:"id"`
	Name        string       `json:"name"`
	Breakable   bool         `json:"breakable"`
	Transparent bool         `json:"transparent,omitempty"`
	Textures    FaceTextures `json:"textures"`
	Shading     Shading      `json:"shading"`
}

type blockFile struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Breakable   bool         `json:"breakable"`
	Transparent bool         `json:"transparent"`
	Textures    FaceTextures `json:"textures"`
	Shading     *Shading     `json:"shading"`
}

// BlockCatalog is the block registry. It is read-only after load; theme
// shading overrides produce a new catalog instead of mutating this one.
type BlockCatalog struct {
	Palette       []string
	Index         map[string]BlockID
	Defs          map[BlockID]BlockDef
	PaletteDigest string
	DefsDigest    string
}

func LoadBlocks(path string) (*BlockCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBlocks(raw)
}

func ParseBlocks(raw []byte) (*BlockCatalog, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	if err := validateDoc("blocks.json", "blocks.schema.json", doc); err != nil {
		return nil, err
	}

	var defs []blockFile
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	out := &BlockCatalog{
		Index:      map[string]BlockID{airName: Air},
		Defs:       make(map[BlockID]BlockDef, len(defs)),
		DefsDigest: sha256Hex(raw),
	}
	maxID := 0
	for _, d := range defs {
		name := strings.ToUpper(strings.TrimSpace(d.Name))
		switch {
		case d.ID == int(Air) || name == airName:
			return nil, fmt.Errorf("blocks.json: %w: id 0 and name AIR are reserved", ErrInvalid)
		case d.ID < 0 || d.ID > 0xFFFF:
			return nil, fmt.Errorf("blocks.json: %w: id %d out of range", ErrInvalid, d.ID)
		}
		id := BlockID(d.ID)
		if _, dup := out.Defs[id]; dup {
			return nil, fmt.Errorf("blocks.json: %w: duplicate id %d", ErrInvalid, d.ID)
		}
		if _, dup := out.Index[name]; dup {
			return nil, fmt.Errorf("blocks.json: %w: duplicate name %s", ErrInvalid, name)
		}
		if len(d.Textures.Keys()) == 0 {
			return nil, fmt.Errorf("blocks.json: %w: %s has no textures", ErrInvalid, name)
		}
		def := BlockDef{
			ID:          id,
			Name:        name,
			Breakable:   d.Breakable,
			Transparent: d.Transparent,
			Textures:    d.Textures,
			Shading:     DefaultShading(),
		}
		if d.Shading != nil {
			def.Shading = *d.Shading
		}
		out.Defs[id] = def
		out.Index[name] = id
		if d.ID > maxID {
			maxID = d.ID
		}
	}

	out.Palette = make([]string, maxID+1)
	out.Palette[Air] = airName
	for id, def := range out.Defs {
		out.Palette[id] = def.Name
	}
	palJSON, _ := json.Marshal(out.Palette)
	out.PaletteDigest = sha256Hex(palJSON)
	return out, nil
}

func (c *BlockCatalog) Def(id BlockID) (BlockDef, bool) {
	d, ok := c.Defs[id]
	return d, ok
}

func (c *BlockCatalog) ID(name string) (BlockID, bool) {
	id, ok := c.Index[strings.ToUpper(strings.TrimSpace(name))]
	return id, ok
}

// Known reports whether id is air or has a definition.
func (c *BlockCatalog) Known(id BlockID) bool {
	if id == Air {
		return true
	}
	_, ok := c.Defs[id]
	return ok
}

// SeeThrough reports whether faces behind id are visible. Air and transparent
// blocks are see-through; unknown ids are treated as air.
func (c *BlockCatalog) SeeThrough(id BlockID) bool {
	if id == Air {
		return true
	}
	d, ok := c.Defs[id]
	return !ok || d.Transparent
}

// IDs returns the defined ids in ascending order.
func (c *BlockCatalog) IDs() []BlockID {
	out := make([]BlockID, 0, len(c.Defs))
	for id := range c.Defs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WithShading returns a copy of the catalog with shading replaced for the
// named blocks. Unknown names are an error.
func (c *BlockCatalog) WithShading(overrides map[string]Shading) (*BlockCatalog, error) {
	if len(overrides) == 0 {
		return c, nil
	}
	cp := *c
	cp.Defs = make(map[BlockID]BlockDef, len(c.Defs))
	for id, d := range c.Defs {
		cp.Defs[id] = d
	}
	for name, sh := range overrides {
		id, ok := c.ID(name)
		if !ok || id == Air {
			return nil, fmt.Errorf("%w: shading override for unknown block %q", ErrInvalid, name)
		}
		d := cp.Defs[id]
		d.Shading = sh
		cp.Defs[id] = d
	}
	return &cp, nil
}
