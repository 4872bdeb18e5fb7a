// Package marker defines the per-frame fiducial marker samples produced by the
// external detector and the conversions the controller needs from them.
//
// The detector owns corner detection and the perspective solve. This package
// only reads its output: a translation vector (camera frame, marker size
// units) and a Rodrigues rotation vector per marker.
package marker
