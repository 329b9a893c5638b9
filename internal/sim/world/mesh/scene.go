package mesh

import (
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// Node places one chunk's batch in the scene.
type Node struct {
	Key     [3]int
	Origin  mgl32.Vec3
	Batch   *Batch
	Version uint64
}

// Scene is the live set of chunk batches handed to renderers. Batches are
// released only under the write lock; readers that touch buffers go
// through Read.
type Scene struct {
	mu      sync.RWMutex
	nodes   map[[3]int]Node
	version uint64
}

func NewScene() *Scene {
	return &Scene{nodes: map[[3]int]Node{}}
}

// Put installs batch at key, releasing whatever batch was there before.
func (s *Scene) Put(key [3]int, origin mgl32.Vec3, batch *Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.nodes[key]; ok && old.Batch != batch {
		old.Batch.Release()
	}
	s.version++
	s.nodes[key] = Node{Key: key, Origin: origin, Batch: batch, Version: s.version}
}

// Remove drops the node at key and releases its batch.
func (s *Scene) Remove(key [3]int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.nodes[key]
	if !ok {
		return false
	}
	old.Batch.Release()
	delete(s.nodes, key)
	s.version++
	return true
}

func (s *Scene) Get(key [3]int) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[key]
	return n, ok
}

// Read calls fn with the node at key while holding the read lock, so the
// batch cannot be released underneath fn. fn must not call back into s.
func (s *Scene) Read(key [3]int, fn func(Node)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[key]
	if ok {
		fn(n)
	}
	return ok
}

func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Version increases on every Put and Remove.
func (s *Scene) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Nodes returns the current nodes ordered by key.
func (s *Scene) Nodes() []Node {
	s.mu.RLock()
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})
	return out
}

// Clear releases every batch.
func (s *Scene) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, n := range s.nodes {
		n.Batch.Release()
		delete(s.nodes, k)
	}
	s.version++
}
