package mesh

import (
	"log"
	"sync"

	"kiddoverse.ai/internal/sim/catalogs"
)

// FallbackColor marks faces whose texture key has no image.
const FallbackColor = "#ff00ff"

type TextureSource interface {
	Lookup(key string) (catalogs.Texture, bool)
}

type MaterialKey struct {
	Texture           string
	Roughness         float64
	Metalness         float64
	Transparent       bool
	DoubleSided       bool
	Emissive          string
	EmissiveIntensity float64
}

// Material is immutable once created and shared by every chunk that uses
// its key.
type Material struct {
	ID       int
	Key      MaterialKey
	Texture  catalogs.Texture
	Fallback bool
}

// Color is the base color renderers should tint the texture with.
func (m *Material) Color() string {
	if m.Fallback {
		return FallbackColor
	}
	return m.Texture.Color
}

// MaterialCache memoizes materials by key. Entries are only ever added.
type MaterialCache struct {
	textures TextureSource
	logger   *log.Logger

	mu      sync.Mutex
	byKey   map[MaterialKey]*Material
	ordered []*Material
}

func NewMaterialCache(textures TextureSource, logger *log.Logger) *MaterialCache {
	if logger == nil {
		logger = log.Default()
	}
	return &MaterialCache{
		textures: textures,
		logger:   logger,
		byKey:    map[MaterialKey]*Material{},
	}
}

func KeyFor(textureKey string, def catalogs.BlockDef) MaterialKey {
	return MaterialKey{
		Texture:           textureKey,
		Roughness:         def.Shading.Roughness,
		Metalness:         def.Shading.Metalness,
		Transparent:       def.Transparent,
		DoubleSided:       def.Shading.DoubleSided,
		Emissive:          def.Shading.Emissive,
		EmissiveIntensity: def.Shading.EmissiveIntensity,
	}
}

// Resolve returns the material for textureKey drawn with def's shading,
// creating it on first use. A texture the source cannot find yields a
// fallback material instead of an error.
func (c *MaterialCache) Resolve(textureKey string, def catalogs.BlockDef) *Material {
	key := KeyFor(textureKey, def)

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.byKey[key]; ok {
		return m
	}
	m := &Material{ID: len(c.ordered), Key: key}
	var tex catalogs.Texture
	var ok bool
	if c.textures != nil {
		tex, ok = c.textures.Lookup(textureKey)
	}
	if ok {
		m.Texture = tex
	} else {
		m.Fallback = true
		m.Texture = catalogs.Texture{Key: textureKey, Color: FallbackColor}
		c.logger.Printf("mesh: texture %q not found for block %s; using fallback material", textureKey, def.Name)
	}
	c.byKey[key] = m
	c.ordered = append(c.ordered, m)
	return m
}

func (c *MaterialCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ordered)
}

// Materials returns every material in creation order.
func (c *MaterialCache) Materials() []*Material {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Material, len(c.ordered))
	copy(out, c.ordered)
	return out
}
