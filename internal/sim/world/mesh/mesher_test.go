package mesh

import (
	"bytes"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"kiddoverse.ai/internal/sim/catalogs"
)

func loadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	c, err := catalogs.Load(filepath.Join("..", "..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	return c
}

func blockID(t *testing.T, c *catalogs.Catalogs, name string) catalogs.BlockID {
	t.Helper()
	id, ok := c.Blocks.ID(name)
	if !ok {
		t.Fatalf("no block %s", name)
	}
	return id
}

type grid struct {
	size   int
	blocks []catalogs.BlockID
}

func newGrid(size int) *grid {
	return &grid{size: size, blocks: make([]catalogs.BlockID, size*size*size)}
}

func faceCount(b *Batch) int {
	if b == nil {
		return 0
	}
	return b.Faces()
}

func (g *grid) set(x, y, z int, id catalogs.BlockID) { g.blocks[(y*g.size+z)*g.size+x] = id }

func (g *grid) input() Input { return Input{Size: g.size, Blocks: g.blocks} }

func newTestMesher(c *catalogs.Catalogs, logger *log.Logger) *Mesher {
	return NewMesher(c.Blocks, NewMaterialCache(c.Textures, logger), 1, logger)
}

func TestIsolatedVoxelHasSixFaces(t *testing.T) {
	c := loadCatalogs(t)
	g := newGrid(3)
	g.set(1, 1, 1, blockID(t, c, "STONE"))
	b := newTestMesher(c, nil).Build(g.input())
	if faceCount(b) != 6 {
		t.Fatalf("faces=%d", faceCount(b))
	}
	if len(b.Positions) != 24 || len(b.Normals) != 24 || len(b.UVs) != 24 || len(b.Indices) != 36 {
		t.Fatalf("buffer sizes: %d %d %d %d", len(b.Positions), len(b.Normals), len(b.UVs), len(b.Indices))
	}
	if len(b.Groups) != 1 || b.Groups[0].Count != 36 {
		t.Fatalf("stone uses one material for all faces: %+v", b.Groups)
	}
	// cube [1,2]^3 centered at 1.5
	if !b.Center.ApproxEqual(mgl32.Vec3{1.5, 1.5, 1.5}) {
		t.Fatalf("center %v", b.Center)
	}
}

func TestFaceWindingMatchesNormal(t *testing.T) {
	for i, fd := range faces {
		f := Face(i)
		e1 := fd.corners[1].Sub(fd.corners[0])
		e2 := fd.corners[2].Sub(fd.corners[0])
		if !e1.Cross(e2).Normalize().ApproxEqual(f.Normal()) {
			t.Fatalf("face %d winds against its normal", f)
		}
		d := f.Dir()
		if !f.Normal().ApproxEqual(mgl32.Vec3{float32(d[0]), float32(d[1]), float32(d[2])}) {
			t.Fatalf("face %d normal %v does not point along %v", f, f.Normal(), d)
		}
	}
}

func TestEnclosedVoxelHasNoFaces(t *testing.T) {
	c := loadCatalogs(t)
	stone := blockID(t, c, "STONE")
	g := newGrid(3)
	for y := 0; y < 3; y++ {
		for z := 0; z < 3; z++ {
			for x := 0; x < 3; x++ {
				g.set(x, y, z, stone)
			}
		}
	}
	in := g.input()
	// Everything outside the chunk is stone too.
	in.Neighbor = func(x, y, z int) catalogs.BlockID { return stone }
	if b := newTestMesher(c, nil).Build(in); b != nil {
		t.Fatalf("fully enclosed chunk produced %d faces", b.Faces())
	}
	empty := newGrid(3)
	if b := newTestMesher(c, nil).Build(empty.input()); b != nil {
		t.Fatalf("air chunk produced geometry")
	}
}

func TestCenterVoxelCulledByOpaqueNeighbors(t *testing.T) {
	c := loadCatalogs(t)
	stone := blockID(t, c, "STONE")
	g := newGrid(3)
	g.set(1, 1, 1, stone)
	for _, d := range [][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}} {
		g.set(1+d[0], 1+d[1], 1+d[2], stone)
	}
	b := newTestMesher(c, nil).Build(g.input())
	// Six arms each show five faces; the center shows none.
	if faceCount(b) != 30 {
		t.Fatalf("faces=%d", faceCount(b))
	}
}

func TestTransparentNeighborKeepsFaces(t *testing.T) {
	c := loadCatalogs(t)
	stone := blockID(t, c, "STONE")
	leaves := blockID(t, c, "LEAVES")
	g := newGrid(2)
	g.set(0, 0, 0, stone)
	g.set(1, 0, 0, leaves)
	b := newTestMesher(c, nil).Build(g.input())
	// Stone keeps its +X face behind the leaves; the leaves lose their -X
	// face to the stone.
	if faceCount(b) != 11 {
		t.Fatalf("faces=%d", faceCount(b))
	}
}

func TestBoundaryUsesNeighbor(t *testing.T) {
	c := loadCatalogs(t)
	stone := blockID(t, c, "STONE")
	g := newGrid(2)
	g.set(1, 0, 0, stone)
	in := g.input()
	in.Origin = [3]int{10, 0, 0}
	var asked [][3]int
	in.Neighbor = func(x, y, z int) catalogs.BlockID {
		asked = append(asked, [3]int{x, y, z})
		if x == 12 {
			return stone
		}
		return catalogs.Air
	}
	b := newTestMesher(c, nil).Build(in)
	if faceCount(b) != 5 {
		t.Fatalf("faces=%d", faceCount(b))
	}
	found := false
	for _, p := range asked {
		if p == [3]int{12, 0, 0} {
			found = true
		}
	}
	if !found {
		t.Fatalf("neighbor not queried in world coordinates: %v", asked)
	}
}

func TestPerFaceTexturesAndGroups(t *testing.T) {
	c := loadCatalogs(t)
	grass := blockID(t, c, "GRASS")
	g := newGrid(1)
	g.set(0, 0, 0, grass)
	b := newTestMesher(c, nil).Build(g.input())
	if b == nil {
		t.Fatalf("no batch")
	}
	// +X,-X side; +Y top; -Y bottom; +Z,-Z side.
	want := []struct {
		tex   string
		count int
	}{
		{"grass_side", 12}, {"grass_top", 6}, {"dirt", 6}, {"grass_side", 12},
	}
	if len(b.Groups) != len(want) {
		t.Fatalf("groups=%d", len(b.Groups))
	}
	start := 0
	for i, w := range want {
		gr := b.Groups[i]
		if gr.Material.Key.Texture != w.tex || gr.Count != w.count || gr.Start != start {
			t.Fatalf("group %d = %s/%d@%d want %s/%d@%d", i, gr.Material.Key.Texture, gr.Count, gr.Start, w.tex, w.count, start)
		}
		start += gr.Count
	}
	if b.Groups[0].Material != b.Groups[3].Material {
		t.Fatalf("side material not shared")
	}
	if len(b.Materials()) != 3 {
		t.Fatalf("distinct materials=%d", len(b.Materials()))
	}
}

func TestMaterialCacheSharedAcrossBuilds(t *testing.T) {
	c := loadCatalogs(t)
	m := newTestMesher(c, nil)
	g := newGrid(2)
	g.set(0, 0, 0, blockID(t, c, "STONE"))
	a := m.Build(g.input())
	b := m.Build(g.input())
	if a.Groups[0].Material != b.Groups[0].Material {
		t.Fatalf("materials not memoized")
	}
	if m.Materials().Len() != 1 {
		t.Fatalf("cache len=%d", m.Materials().Len())
	}
}

func TestMissingTextureFallsBack(t *testing.T) {
	blocks, err := catalogs.ParseBlocks([]byte(`[{"id":1,"name":"GHOST","textures":{"all":"nope"}}]`))
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	textures, _ := catalogs.ParseTextures([]byte(`{}`))
	m := NewMesher(blocks, NewMaterialCache(textures, logger), 1, logger)
	g := newGrid(1)
	g.set(0, 0, 0, 1)
	b := m.Build(g.input())
	if faceCount(b) != 6 {
		t.Fatalf("fallback build failed")
	}
	mat := b.Groups[0].Material
	if !mat.Fallback || mat.Color() != FallbackColor {
		t.Fatalf("material: %+v", mat)
	}
	if strings.Count(buf.String(), "not found") != 1 {
		t.Fatalf("expected one warning, got %q", buf.String())
	}
}

func TestUnknownBlockSkipped(t *testing.T) {
	c := loadCatalogs(t)
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	g := newGrid(2)
	g.set(0, 0, 0, 999)
	g.set(1, 1, 1, 999)
	if b := newTestMesher(c, logger).Build(g.input()); b != nil {
		t.Fatalf("unknown block produced geometry")
	}
	if strings.Count(buf.String(), "no definition") != 1 {
		t.Fatalf("log: %q", buf.String())
	}
}

func TestMaterialKeyIncludesShading(t *testing.T) {
	c := loadCatalogs(t)
	cache := NewMaterialCache(c.Textures, nil)
	def, _ := c.Blocks.Def(blockID(t, c, "STONE"))
	a := cache.Resolve("stone", def)
	def.Shading.Metalness = 0.5
	b := cache.Resolve("stone", def)
	if a == b || a.ID == b.ID {
		t.Fatalf("different shading shared a material")
	}
	def.Shading.Metalness = 0.1
	if cache.Resolve("stone", def) != a {
		t.Fatalf("same key did not hit the cache")
	}
}

func TestBatchReleaseAndScene(t *testing.T) {
	c := loadCatalogs(t)
	m := newTestMesher(c, nil)
	g := newGrid(1)
	g.set(0, 0, 0, blockID(t, c, "DIRT"))
	s := NewScene()
	first := m.Build(g.input())
	s.Put([3]int{0, 0, 0}, mgl32.Vec3{}, first)
	v1 := s.Version()
	second := m.Build(g.input())
	s.Put([3]int{0, 0, 0}, mgl32.Vec3{}, second)
	if !first.Released() || first.Positions != nil {
		t.Fatalf("replaced batch not released")
	}
	if second.Released() || s.Version() <= v1 {
		t.Fatalf("new batch released or version stuck")
	}
	read := false
	s.Read([3]int{0, 0, 0}, func(n Node) { read = n.Batch == second })
	if !read {
		t.Fatalf("Read did not see the current batch")
	}
	if !s.Remove([3]int{0, 0, 0}) || !second.Released() || s.Len() != 0 {
		t.Fatalf("remove did not release")
	}
	second.Release()
}
