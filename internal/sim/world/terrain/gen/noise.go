package gen

import (
	"math"

	"kiddoverse.ai/internal/sim/world/logic/mathx"
)

const (
	skew2   = 0.36602540378443864676 // (sqrt(3)-1)/2
	unskew2 = 0.21132486540518711775 // (3-sqrt(3))/6
)

var grad2 = [8][2]float64{
	{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
}

// Noise is seeded 2D simplex noise. It holds no state beyond the permutation
// table derived from the seed, so one instance may be shared by goroutines.
type Noise struct {
	seed int64
	perm [512]uint8
}

func NewNoise(seed int64) *Noise {
	n := &Noise{seed: seed}
	var p [256]uint8
	for i := range p {
		p[i] = uint8(i)
	}
	for i := 255; i > 0; i-- {
		j := int(mathx.Hash2(seed, i, 0x5eed) % uint64(i+1))
		p[i], p[j] = p[j], p[i]
	}
	for i := range n.perm {
		n.perm[i] = p[i&255]
	}
	return n
}

func (n *Noise) Seed() int64 { return n.seed }

// Eval2 returns noise at (x, y) in [-1, 1].
func (n *Noise) Eval2(x, y float64) float64 {
	s := (x + y) * skew2
	i := int(math.Floor(x + s))
	j := int(math.Floor(y + s))

	t := float64(i+j) * unskew2
	x0 := x - (float64(i) - t)
	y0 := y - (float64(j) - t)

	i1, j1 := 0, 1
	if x0 > y0 {
		i1, j1 = 1, 0
	}

	x1 := x0 - float64(i1) + unskew2
	y1 := y0 - float64(j1) + unskew2
	x2 := x0 - 1 + 2*unskew2
	y2 := y0 - 1 + 2*unskew2

	ii := i & 255
	jj := j & 255
	g0 := n.perm[ii+int(n.perm[jj])] & 7
	g1 := n.perm[ii+i1+int(n.perm[jj+j1])] & 7
	g2 := n.perm[ii+1+int(n.perm[jj+1])] & 7

	v := corner(grad2[g0], x0, y0) + corner(grad2[g1], x1, y1) + corner(grad2[g2], x2, y2)
	v *= 70
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func corner(g [2]float64, x, y float64) float64 {
	t := 0.5 - x*x - y*y
	if t < 0 {
		return 0
	}
	t *= t
	return t * t * (g[0]*x + g[1]*y)
}
