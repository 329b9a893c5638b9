package mesh

import "github.com/go-gl/mathgl/mgl32"

type Face uint8

const (
	FacePosX Face = iota
	FaceNegX
	FacePosY
	FaceNegY
	FacePosZ
	FaceNegZ
)

type faceClass uint8

const (
	classSide faceClass = iota
	classTop
	classBottom
)

type faceDef struct {
	dir     [3]int
	normal  mgl32.Vec3
	corners [4]mgl32.Vec3
	class   faceClass
}

// Corners wind counter-clockwise seen from outside the cube, so the two
// triangles 0-1-2 and 0-2-3 face along the normal.
var faces = [6]faceDef{
	FacePosX: {
		dir:    [3]int{1, 0, 0},
		normal: mgl32.Vec3{1, 0, 0},
		corners: [4]mgl32.Vec3{
			{0.5, -0.5, 0.5}, {0.5, -0.5, -0.5}, {0.5, 0.5, -0.5}, {0.5, 0.5, 0.5},
		},
		class: classSide,
	},
	FaceNegX: {
		dir:    [3]int{-1, 0, 0},
		normal: mgl32.Vec3{-1, 0, 0},
		corners: [4]mgl32.Vec3{
			{-0.5, -0.5, -0.5}, {-0.5, -0.5, 0.5}, {-0.5, 0.5, 0.5}, {-0.5, 0.5, -0.5},
		},
		class: classSide,
	},
	FacePosY: {
		dir:    [3]int{0, 1, 0},
		normal: mgl32.Vec3{0, 1, 0},
		corners: [4]mgl32.Vec3{
			{-0.5, 0.5, 0.5}, {0.5, 0.5, 0.5}, {0.5, 0.5, -0.5}, {-0.5, 0.5, -0.5},
		},
		class: classTop,
	},
	FaceNegY: {
		dir:    [3]int{0, -1, 0},
		normal: mgl32.Vec3{0, -1, 0},
		corners: [4]mgl32.Vec3{
			{-0.5, -0.5, -0.5}, {0.5, -0.5, -0.5}, {0.5, -0.5, 0.5}, {-0.5, -0.5, 0.5},
		},
		class: classBottom,
	},
	FacePosZ: {
		dir:    [3]int{0, 0, 1},
		normal: mgl32.Vec3{0, 0, 1},
		corners: [4]mgl32.Vec3{
			{-0.5, -0.5, 0.5}, {0.5, -0.5, 0.5}, {0.5, 0.5, 0.5}, {-0.5, 0.5, 0.5},
		},
		class: classSide,
	},
	FaceNegZ: {
		dir:    [3]int{0, 0, -1},
		normal: mgl32.Vec3{0, 0, -1},
		corners: [4]mgl32.Vec3{
			{0.5, -0.5, -0.5}, {-0.5, -0.5, -0.5}, {-0.5, 0.5, -0.5}, {0.5, 0.5, -0.5},
		},
		class: classSide,
	},
}

var quadUVs = [4]mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

// Dir is the unit step from a voxel to the neighbor across face f.
func (f Face) Dir() [3]int { return faces[f].dir }

func (f Face) Normal() mgl32.Vec3 { return faces[f].normal }
