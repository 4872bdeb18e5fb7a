package marker

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// rotationEpsilon is the rotation-vector norm below which the rotation is
// treated as identity.
const rotationEpsilon = 1e-12

// RotationMatrix expands a Rodrigues rotation vector into a row-major 3x3
// rotation matrix. Column j is the image of basis vector e_j.
func RotationMatrix(rvec [3]float64) [3][3]float64 {
	v := r3.Vec{X: rvec[0], Y: rvec[1], Z: rvec[2]}
	theta := r3.Norm(v)
	if theta < rotationEpsilon {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	rot := r3.NewRotation(theta, r3.Scale(1/theta, v))

	cols := [3]r3.Vec{
		rot.Rotate(r3.Vec{X: 1}),
		rot.Rotate(r3.Vec{Y: 1}),
		rot.Rotate(r3.Vec{Z: 1}),
	}
	var m [3][3]float64
	for j, c := range cols {
		m[0][j] = c.X
		m[1][j] = c.Y
		m[2][j] = c.Z
	}
	return m
}

// HeadingDegrees returns the rotation about the camera y axis encoded by a
// Rodrigues vector, in degrees within [-90, 90], signed by the right-hand
// rule about +y.
func HeadingDegrees(rvec [3]float64) float64 {
	m := RotationMatrix(rvec)
	return math.Atan2(-m[2][0], math.Hypot(m[2][1], m[2][2])) * 180 / math.Pi
}
