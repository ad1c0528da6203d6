package mesh

import "github.com/go-gl/mathgl/mgl32"

// Face is one of the six axis-aligned voxel faces.
type Face uint8

const (
	PosX Face = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ
)

const FaceCount = 6

var faceNames = [FaceCount]string{"+X", "-X", "+Y", "-Y", "+Z", "-Z"}

func (f Face) String() string {
	if f < FaceCount {
		return faceNames[f]
	}
	return "?"
}

// Offset is the neighbour direction across the face.
func (f Face) Offset() (dx, dy, dz int) {
	switch f {
	case PosX:
		return 1, 0, 0
	case NegX:
		return -1, 0, 0
	case PosY:
		return 0, 1, 0
	case NegY:
		return 0, -1, 0
	case PosZ:
		return 0, 0, 1
	default:
		return 0, 0, -1
	}
}

func (f Face) Normal() mgl32.Vec3 {
	dx, dy, dz := f.Offset()
	return mgl32.Vec3{float32(dx), float32(dy), float32(dz)}
}

var (
	axisX = mgl32.Vec3{1, 0, 0}
	axisY = mgl32.Vec3{0, 1, 0}
	axisZ = mgl32.Vec3{0, 0, 1}
)

// quad returns the face corner at the voxel origin side plus the tangents
// u and v with u×v pointing along the face normal, so base, base+u,
// base+u+v, base+v winds counter-clockwise seen from outside.
func (f Face) quad() (base, u, v mgl32.Vec3) {
	switch f {
	case PosX:
		return axisX, axisY, axisZ
	case NegX:
		return mgl32.Vec3{}, axisZ, axisY
	case PosY:
		return axisY, axisZ, axisX
	case NegY:
		return mgl32.Vec3{}, axisX, axisZ
	case PosZ:
		return axisZ, axisX, axisY
	default:
		return mgl32.Vec3{}, axisY, axisX
	}
}
