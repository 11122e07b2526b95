package model

import "time"

// Axis names the device orientation angle(s) a page is tuned against.
type Axis string

const (
	AxisAlpha     Axis = "alpha"      // yaw, compass-like, [0,360)
	AxisBeta      Axis = "beta"       // pitch, front-back tilt
	AxisGamma     Axis = "gamma"      // roll, left-right tilt
	AxisBetaGamma Axis = "beta_gamma" // beta and gamma must both match
)

// OrientationSample is one DeviceOrientationEvent reading, in degrees.
type OrientationSample struct {
	Alpha     float64   `json:"alpha"`
	Beta      float64   `json:"beta"`
	Gamma     float64   `json:"gamma"`
	Timestamp time.Time `json:"timestamp"`
}

// Vec3 is an acceleration vector in m/s².
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MotionSample is one DeviceMotionEvent reading. Either vector may be
// absent depending on what the platform reports.
type MotionSample struct {
	Acceleration                 *Vec3     `json:"acceleration,omitempty"`
	AccelerationIncludingGravity *Vec3     `json:"accelerationIncludingGravity,omitempty"`
	Timestamp                    time.Time `json:"timestamp"`
}

// Permissions records the outcome of the browser's one-shot sensor
// permission prompts. A denied sensor is never re-requested.
type Permissions struct {
	Orientation bool `json:"orientation"`
	Motion      bool `json:"motion"`
}

// GrantedPermissions is the state assumed before the client reports otherwise.
var GrantedPermissions = Permissions{Orientation: true, Motion: true}
