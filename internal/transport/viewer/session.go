package viewer

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"

	"kiddoverse.ai/internal/viewerproto"
)

type session struct {
	id       string
	loopback bool
	edits    *rate.Limiter
	chunks   *rate.Limiter
	results  chan viewerproto.EditResultMsg

	mu     sync.Mutex
	view   mgl32.Vec3
	radius int

	// Owned by the write loop.
	sent      map[[3]int]uint64
	materials int
}

func (s *session) setView(p mgl32.Vec3) {
	s.mu.Lock()
	s.view = p
	s.mu.Unlock()
}

func (s *session) getView() mgl32.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *session) setRadius(r int) {
	s.mu.Lock()
	s.radius = r
	s.mu.Unlock()
}

func (s *session) getRadius() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.radius
}

type meshNodeRef struct {
	key  [3]int
	dist int
}

func dist2(k, c [3]int) int {
	dx, dy, dz := k[0]-c[0], k[1]-c[1], k[2]-c[2]
	return dx*dx + dy*dy + dz*dz
}

func lessKey(a, b [3]int) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	if a[1] != b[1] {
		return a[1] < b[1]
	}
	return a[2] < b[2]
}
