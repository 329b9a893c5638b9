package viewerproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/zstd"

	"kiddoverse.ai/internal/sim/world/mesh"
)

// CHUNK_MESH travels as a binary websocket message: a zstd frame wrapping a
// little-endian header followed by positions, normals, uvs, indices and
// draw groups.
var meshMagic = [4]byte{'K', 'V', 'M', '1'}

const (
	maxMeshVerts   = 1 << 22
	maxMeshIndices = 1 << 23
	maxMeshGroups  = 1 << 12
)

var ErrBadMesh = errors.New("bad chunk mesh")

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
)

type meshHeader struct {
	Magic   [4]byte
	Key     [3]int32
	Version uint64
	Origin  [3]float32
	Center  [3]float32
	Radius  float32
	Verts   uint32
	Indices uint32
	Groups  uint32
}

type GroupRef struct {
	Start    uint32
	Count    uint32
	Material uint32
}

// MeshFrame is a decoded CHUNK_MESH.
type MeshFrame struct {
	Key       [3]int
	Version   uint64
	Origin    mgl32.Vec3
	Center    mgl32.Vec3
	Radius    float32
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   []uint32
	Groups    []GroupRef
}

func (f *MeshFrame) Faces() int { return len(f.Indices) / 6 }

// EncodeMesh serializes a scene node. Call it inside Scene.Read so the batch
// stays alive.
func EncodeMesh(n mesh.Node) ([]byte, error) {
	b := n.Batch
	if b == nil || b.Released() {
		return nil, fmt.Errorf("%w: chunk %v has no geometry", ErrBadMesh, n.Key)
	}
	h := meshHeader{
		Magic:   meshMagic,
		Key:     [3]int32{int32(n.Key[0]), int32(n.Key[1]), int32(n.Key[2])},
		Version: n.Version,
		Origin:  n.Origin,
		Center:  b.Center,
		Radius:  b.Radius,
		Verts:   uint32(len(b.Positions)),
		Indices: uint32(len(b.Indices)),
		Groups:  uint32(len(b.Groups)),
	}
	groups := make([]GroupRef, len(b.Groups))
	for i, g := range b.Groups {
		groups[i] = GroupRef{Start: uint32(g.Start), Count: uint32(g.Count), Material: uint32(g.Material.ID)}
	}

	var buf bytes.Buffer
	buf.Grow(64 + len(b.Positions)*32 + len(b.Indices)*4)
	for _, v := range []any{h, b.Positions, b.Normals, b.UVs, b.Indices, groups} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	return encoder.EncodeAll(buf.Bytes(), nil), nil
}

func DecodeMesh(data []byte) (MeshFrame, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return MeshFrame{}, fmt.Errorf("%w: %v", ErrBadMesh, err)
	}
	r := bytes.NewReader(raw)
	var h meshHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return MeshFrame{}, fmt.Errorf("%w: header: %v", ErrBadMesh, err)
	}
	if h.Magic != meshMagic {
		return MeshFrame{}, fmt.Errorf("%w: magic %q", ErrBadMesh, h.Magic[:])
	}
	if h.Verts > maxMeshVerts || h.Indices > maxMeshIndices || h.Groups > maxMeshGroups {
		return MeshFrame{}, fmt.Errorf("%w: counts %d/%d/%d", ErrBadMesh, h.Verts, h.Indices, h.Groups)
	}
	f := MeshFrame{
		Key:       [3]int{int(h.Key[0]), int(h.Key[1]), int(h.Key[2])},
		Version:   h.Version,
		Origin:    h.Origin,
		Center:    h.Center,
		Radius:    h.Radius,
		Positions: make([]mgl32.Vec3, h.Verts),
		Normals:   make([]mgl32.Vec3, h.Verts),
		UVs:       make([]mgl32.Vec2, h.Verts),
		Indices:   make([]uint32, h.Indices),
		Groups:    make([]GroupRef, h.Groups),
	}
	for _, v := range []any{f.Positions, f.Normals, f.UVs, f.Indices, f.Groups} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return MeshFrame{}, fmt.Errorf("%w: body: %v", ErrBadMesh, err)
		}
	}
	if r.Len() != 0 {
		return MeshFrame{}, fmt.Errorf("%w: %d trailing bytes", ErrBadMesh, r.Len())
	}
	for _, idx := range f.Indices {
		if idx >= h.Verts {
			return MeshFrame{}, fmt.Errorf("%w: index %d out of range", ErrBadMesh, idx)
		}
	}
	return f, nil
}
