package catalogs

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PaletteNames names the blocks a theme lays down, before resolution.
type PaletteNames struct {
	Surface    string `yaml:"surface" json:"surface"`
	SubSurface string `yaml:"sub_surface" json:"sub_surface"`
	DeepStone  string `yaml:"deep_stone" json:"deep_stone"`
}

// Palette is the resolved form of PaletteNames.
type Palette struct {
	Surface    BlockID
	SubSurface BlockID
	DeepStone  BlockID
}

type Terrain struct {
	NoiseScaleXZ float64      `yaml:"noise_scale_xz" json:"noise_scale_xz"`
	BaseHeight   float64      `yaml:"base_height" json:"base_height"`
	Amplitude    float64      `yaml:"amplitude" json:"amplitude"`
	StoneDepth   int          `yaml:"stone_depth" json:"stone_depth"`
	Palette      PaletteNames `yaml:"palette" json:"palette"`

	// Structure placement is parsed and validated but never placed.
	StructureChance float64 `yaml:"structure_chance,omitempty" json:"structure_chance,omitempty"`
	StructureBlock  string  `yaml:"structure_block,omitempty" json:"structure_block,omitempty"`
}

// Presentation is handed to renderers unchanged.
type Presentation struct {
	SkyColor             string  `yaml:"sky_color" json:"sky_color"`
	FogNearFactor        float64 `yaml:"fog_near_factor" json:"fog_near_factor"`
	FogFarFactor         float64 `yaml:"fog_far_factor" json:"fog_far_factor"`
	AmbientIntensity     float64 `yaml:"ambient_intensity" json:"ambient_intensity"`
	DirectionalIntensity float64 `yaml:"directional_intensity" json:"directional_intensity"`
}

type Theme struct {
	Name             string             `yaml:"name" json:"name"`
	Presentation     Presentation       `yaml:"presentation" json:"presentation"`
	Terrain          Terrain            `yaml:"terrain" json:"terrain"`
	ShadingOverrides map[string]Shading `yaml:"shading_overrides,omitempty" json:"shading_overrides,omitempty"`

	// Set by Resolve.
	Palette        Palette `yaml:"-" json:"-"`
	StructureBlock BlockID `yaml:"-" json:"-"`
	resolved       bool
}

// Resolved reports whether the palette names were checked against a block
// catalog.
func (t *Theme) Resolved() bool { return t != nil && t.resolved }

// Resolve validates the theme against blocks and fills in the palette ids.
func (t *Theme) Resolve(blocks *BlockCatalog) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: theme without name", ErrInvalid)
	}
	tr := t.Terrain
	if tr.NoiseScaleXZ <= 0 {
		return fmt.Errorf("%w: theme %s: noise_scale_xz must be > 0", ErrInvalid, t.Name)
	}
	if tr.Amplitude < 0 {
		return fmt.Errorf("%w: theme %s: amplitude must be >= 0", ErrInvalid, t.Name)
	}
	if tr.StoneDepth < 0 {
		return fmt.Errorf("%w: theme %s: stone_depth must be >= 0", ErrInvalid, t.Name)
	}
	if tr.StructureChance < 0 || tr.StructureChance > 1 {
		return fmt.Errorf("%w: theme %s: structure_chance must be in [0,1]", ErrInvalid, t.Name)
	}
	resolve := func(field, name string) (BlockID, error) {
		id, ok := blocks.ID(name)
		if !ok || id == Air {
			return Air, fmt.Errorf("%w: theme %s: %s names unknown block %q", ErrInvalid, t.Name, field, name)
		}
		return id, nil
	}
	var err error
	if t.Palette.Surface, err = resolve("surface", tr.Palette.Surface); err != nil {
		return err
	}
	if t.Palette.SubSurface, err = resolve("sub_surface", tr.Palette.SubSurface); err != nil {
		return err
	}
	if t.Palette.DeepStone, err = resolve("deep_stone", tr.Palette.DeepStone); err != nil {
		return err
	}
	if tr.StructureBlock != "" {
		if t.StructureBlock, err = resolve("structure_block", tr.StructureBlock); err != nil {
			return err
		}
	}
	for name := range t.ShadingOverrides {
		if id, ok := blocks.ID(name); !ok || id == Air {
			return fmt.Errorf("%w: theme %s: shading override for unknown block %q", ErrInvalid, t.Name, name)
		}
	}
	t.resolved = true
	return nil
}

type ThemeCatalog struct {
	ByName map[string]Theme
	Digest string
}

type themeFile struct {
	Themes []Theme `yaml:"themes"`
}

func LoadThemes(path string, blocks *BlockCatalog) (*ThemeCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseThemes(raw, blocks)
}

func ParseThemes(raw []byte, blocks *BlockCatalog) (*ThemeCatalog, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("themes.yaml: %w", err)
	}
	norm, err := normalizeJSON(doc)
	if err != nil {
		return nil, fmt.Errorf("themes.yaml: %w", err)
	}
	if err := validateDoc("themes.yaml", "themes.schema.json", norm); err != nil {
		return nil, err
	}

	var f themeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("themes.yaml: %w", err)
	}
	out := &ThemeCatalog{ByName: make(map[string]Theme, len(f.Themes)), Digest: sha256Hex(raw)}
	for _, th := range f.Themes {
		th.Name = strings.ToUpper(strings.TrimSpace(th.Name))
		if _, dup := out.ByName[th.Name]; dup {
			return nil, fmt.Errorf("themes.yaml: %w: duplicate theme %s", ErrInvalid, th.Name)
		}
		if err := th.Resolve(blocks); err != nil {
			return nil, fmt.Errorf("themes.yaml: %w", err)
		}
		out.ByName[th.Name] = th
	}
	return out, nil
}

// Get returns a copy of the named theme. Callers own the copy.
func (c *ThemeCatalog) Get(name string) (Theme, error) {
	th, ok := c.ByName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Theme{}, fmt.Errorf("%w: unknown theme %q (have %s)", ErrInvalid, name, strings.Join(c.Names(), ","))
	}
	return th, nil
}

func (c *ThemeCatalog) Names() []string {
	out := make([]string, 0, len(c.ByName))
	for n := range c.ByName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
