// Package geomath provides the small amount of geodetic and rigid-transform
// math the streaming provider needs: WGS84 cartographic conversion,
// east-north-up frames, and composition/inversion of rotation+translation
// matrices.
//
// Matrix types come from go3d and are column-major: m[col][row].
package geomath

import (
	"math"

	"github.com/flywave/go3d/float64/mat3"
	"github.com/flywave/go3d/float64/mat4"
	"github.com/flywave/go3d/float64/quaternion"
	"github.com/flywave/go3d/float64/vec3"
)

// Ellipsoid is an oblate reference ellipsoid defined by its semi-axes.
type Ellipsoid struct {
	// Radii holds the x, y, z semi-axes in meters.
	Radii vec3.T
}

// WGS84 is the standard Earth reference ellipsoid.
var WGS84 = Ellipsoid{Radii: vec3.T{6378137.0, 6378137.0, 6356752.3142451793}}

// RadiiSquared returns the per-axis squared semi-axes.
func (e Ellipsoid) RadiiSquared() vec3.T {
	return vec3.T{
		e.Radii[0] * e.Radii[0],
		e.Radii[1] * e.Radii[1],
		e.Radii[2] * e.Radii[2],
	}
}

// CartographicToCartesian converts geodetic coordinates (radians, meters
// above the ellipsoid) to earth-centered earth-fixed cartesian meters.
func (e Ellipsoid) CartographicToCartesian(lon, lat, height float64) vec3.T {
	cosLat := math.Cos(lat)
	sinLat := math.Sin(lat)
	cosLon := math.Cos(lon)
	sinLon := math.Sin(lon)

	n := vec3.T{cosLat * cosLon, cosLat * sinLon, sinLat}

	r2 := e.RadiiSquared()
	k := vec3.T{r2[0] * n[0], r2[1] * n[1], r2[2] * n[2]}
	gamma := math.Sqrt(n[0]*k[0] + n[1]*k[1] + n[2]*k[2])

	return vec3.T{
		k[0]/gamma + height*n[0],
		k[1]/gamma + height*n[1],
		k[2]/gamma + height*n[2],
	}
}

// EastNorthUp returns the rotation whose columns are the east, north, and
// up unit vectors of the local tangent frame at the given geodetic
// position. This is the heading/pitch/roll-zero orientation used for nodes
// that declare no explicit rotation.
func EastNorthUp(lon, lat float64) mat3.T {
	cosLat := math.Cos(lat)
	sinLat := math.Sin(lat)
	cosLon := math.Cos(lon)
	sinLon := math.Sin(lon)

	var m mat3.T
	// east
	m[0][0], m[0][1], m[0][2] = -sinLon, cosLon, 0
	// north
	m[1][0], m[1][1], m[1][2] = -sinLat*cosLon, -sinLat*sinLon, cosLat
	// up
	m[2][0], m[2][1], m[2][2] = cosLat*cosLon, cosLat*sinLon, sinLat
	return m
}

// Mat3FromQuaternion builds a rotation matrix from a unit quaternion
// stored as [x, y, z, w].
func Mat3FromQuaternion(q *quaternion.T) mat3.T {
	x, y, z, w := q[0], q[1], q[2], q[3]

	xx, yy, zz := x*x, y*y, z*z
	xy, xz, yz := x*y, x*z, y*z
	wx, wy, wz := w*x, w*y, w*z

	var m mat3.T
	m[0][0], m[0][1], m[0][2] = 1-2*(yy+zz), 2*(xy+wz), 2*(xz-wy)
	m[1][0], m[1][1], m[1][2] = 2*(xy-wz), 1-2*(xx+zz), 2*(yz+wx)
	m[2][0], m[2][1], m[2][2] = 2*(xz+wy), 2*(yz-wx), 1-2*(xx+yy)
	return m
}

// TransposeMat3 returns the transpose, which for a rotation is its inverse.
func TransposeMat3(m *mat3.T) mat3.T {
	var t mat3.T
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			t[c][r] = m[r][c]
		}
	}
	return t
}

// MulMat3 returns a*b.
func MulMat3(a, b *mat3.T) mat3.T {
	var out mat3.T
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			out[c][r] = a[0][r]*b[c][0] + a[1][r]*b[c][1] + a[2][r]*b[c][2]
		}
	}
	return out
}

// MulMat3Vec3 returns m*v.
func MulMat3Vec3(m *mat3.T, v *vec3.T) vec3.T {
	return vec3.T{
		m[0][0]*v[0] + m[1][0]*v[1] + m[2][0]*v[2],
		m[0][1]*v[0] + m[1][1]*v[1] + m[2][1]*v[2],
		m[0][2]*v[0] + m[1][2]*v[1] + m[2][2]*v[2],
	}
}

// RigidTransform assembles a 4x4 affine from an orthonormal rotation and a
// translation. No scale component.
func RigidTransform(rot *mat3.T, translation *vec3.T) mat4.T {
	var m mat4.T
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			m[c][r] = rot[c][r]
		}
	}
	m[3][0] = translation[0]
	m[3][1] = translation[1]
	m[3][2] = translation[2]
	m[3][3] = 1
	return m
}

// InvertRigid inverts a rotation+translation affine without a general 4x4
// inverse: the inverse rotation is the transpose, and the inverse
// translation is -Rᵀt. Results are undefined if m carries scale or shear.
func InvertRigid(m *mat4.T) mat4.T {
	var rot mat3.T
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			rot[c][r] = m[c][r]
		}
	}
	rt := TransposeMat3(&rot)
	t := vec3.T{m[3][0], m[3][1], m[3][2]}
	it := MulMat3Vec3(&rt, &t)

	out := RigidTransform(&rt, &vec3.T{-it[0], -it[1], -it[2]})
	return out
}

// MulMat4 returns a*b.
func MulMat4(a, b *mat4.T) mat4.T {
	var out mat4.T
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			out[c][r] = a[0][r]*b[c][0] + a[1][r]*b[c][1] + a[2][r]*b[c][2] + a[3][r]*b[c][3]
		}
	}
	return out
}

// RotationOf extracts the upper-left 3x3 of an affine transform.
func RotationOf(m *mat4.T) mat3.T {
	var rot mat3.T
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			rot[c][r] = m[c][r]
		}
	}
	return rot
}
