package gen

import (
	"math"
	"path/filepath"
	"slices"
	"testing"

	"kiddoverse.ai/internal/sim/catalogs"
)

func loadTheme(t *testing.T, name string) catalogs.Theme {
	t.Helper()
	c, err := catalogs.Load(filepath.Join("..", "..", "..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	th, err := c.Themes.Get(name)
	if err != nil {
		t.Fatalf("theme: %v", err)
	}
	return th
}

func TestNoiseDeterministicAndBounded(t *testing.T) {
	a := NewNoise(42)
	b := NewNoise(42)
	other := NewNoise(43)
	differs := false
	for i := 0; i < 2000; i++ {
		x := float64(i)*0.173 - 150
		y := float64(i)*-0.291 + 75
		va := a.Eval2(x, y)
		if va != b.Eval2(x, y) {
			t.Fatalf("seed 42 not deterministic at (%v,%v)", x, y)
		}
		if va < -1 || va > 1 || math.IsNaN(va) {
			t.Fatalf("out of range: %v", va)
		}
		if va != other.Eval2(x, y) {
			differs = true
		}
	}
	if !differs {
		t.Fatalf("seeds 42 and 43 produced identical fields")
	}
}

func TestNewRejectsUnresolvedTheme(t *testing.T) {
	if _, err := New(catalogs.Theme{Name: "RAW"}, 1, 16); err == nil {
		t.Fatalf("expected error for unresolved theme")
	}
	if _, err := New(loadTheme(t, "DEFAULT"), 1, 0); err == nil {
		t.Fatalf("expected error for chunk size 0")
	}
}

func TestGenerateDeterministic(t *testing.T) {
	th := loadTheme(t, "DEFAULT")
	g1, _ := New(th, 42, 16)
	g2, _ := New(th, 42, 16)
	for _, c := range [][3]int{{0, 0, 0}, {-1, 0, 3}, {2, 1, -5}, {0, -1, 0}} {
		a := g1.Generate(c[0], c[1], c[2])
		if len(a) != 16*16*16 {
			t.Fatalf("len=%d", len(a))
		}
		if !slices.Equal(a, g1.Generate(c[0], c[1], c[2])) || !slices.Equal(a, g2.Generate(c[0], c[1], c[2])) {
			t.Fatalf("chunk %v differs between runs", c)
		}
	}
}

func TestGenerateSeed42DefaultChunkOrigin(t *testing.T) {
	th := loadTheme(t, "DEFAULT")
	const s = 16
	g, err := New(th, 42, s)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	n := NewNoise(42)
	blocks := g.Generate(0, 0, 0)
	at := func(x, y, z int) catalogs.BlockID { return blocks[(y*s+z)*s+x] }

	checked := 0
	for z := 0; z < s; z++ {
		for x := 0; x < s; x++ {
			want := int(math.Floor(th.Terrain.BaseHeight + n.Eval2(float64(x)*th.Terrain.NoiseScaleXZ, float64(z)*th.Terrain.NoiseScaleXZ)*th.Terrain.Amplitude))
			if got := g.SurfaceHeight(x, z); got != want {
				t.Fatalf("surface (%d,%d)=%d want %d", x, z, got, want)
			}
			// Column ranges past this chunk when the surface is above y=15.
			if want >= 0 && want < s {
				if at(x, want, z) != th.Palette.Surface {
					t.Fatalf("surface voxel (%d,%d,%d)=%d", x, want, z, at(x, want, z))
				}
				if want+1 < s && at(x, want+1, z) != catalogs.Air {
					t.Fatalf("voxel above surface not air at (%d,%d)", x, z)
				}
				checked++
			}
			if d := want - th.Terrain.StoneDepth - 1; d >= 0 && d < s {
				if at(x, d, z) != th.Palette.DeepStone {
					t.Fatalf("deep stone (%d,%d,%d)=%d", x, d, z, at(x, d, z))
				}
			}
			if d := want - 1; d >= 0 && d < s && th.Terrain.StoneDepth > 0 {
				if at(x, d, z) != th.Palette.SubSurface {
					t.Fatalf("sub surface (%d,%d,%d)=%d", x, d, z, at(x, d, z))
				}
			}
		}
	}

	// The surface sits between 19.2-14.4 and 19.2+14.4, so some columns of
	// chunk (0,1,0) hold it when chunk (0,0,0) does not.
	upper := g.Generate(0, 1, 0)
	for z := 0; z < s; z++ {
		for x := 0; x < s; x++ {
			y := g.SurfaceHeight(x, z)
			if y >= s && y < 2*s {
				if upper[((y-s)*s+z)*s+x] != th.Palette.Surface {
					t.Fatalf("upper surface voxel mismatch at (%d,%d)", x, z)
				}
				checked++
			}
		}
	}
	if checked == 0 {
		t.Fatalf("no surface column fell inside chunks (0,0,0) or (0,1,0)")
	}
}

func TestClassifyBands(t *testing.T) {
	th := loadTheme(t, "SPACE")
	g, _ := New(th, 7, 16)
	surf := 10
	cases := []struct {
		y    int
		want catalogs.BlockID
	}{
		{surf + 1, catalogs.Air},
		{surf, th.Palette.Surface},
		{surf - 1, th.Palette.SubSurface},
		{surf - th.Terrain.StoneDepth, th.Palette.SubSurface},
		{surf - th.Terrain.StoneDepth - 1, th.Palette.DeepStone},
	}
	for _, c := range cases {
		if got := g.Classify(c.y, surf); got != c.want {
			t.Fatalf("Classify(%d,%d)=%d want %d", c.y, surf, got, c.want)
		}
	}
}
