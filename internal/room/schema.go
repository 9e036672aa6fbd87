package room

import (
	"github.com/pion/webrtc/v4"
)

// Offer is stored at offer.
type Offer struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// AnswerEnvelope is stored at answer. The description is nested one level
// down for compatibility with the browser clients.
type AnswerEnvelope struct {
	Answer Answer `json:"answer"`
}

// Answer is the description inside an AnswerEnvelope.
type Answer struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one entry of a candidate collection. It is the JSON form of
// an ICE candidate init record.
type Candidate = webrtc.ICECandidateInit

// CameraFacing selects the front or back camera.
type CameraFacing string

const (
	FacingUser        CameraFacing = "user"
	FacingEnvironment CameraFacing = "environment"
)

// Valid reports whether f is one of the known facings.
func (f CameraFacing) Valid() bool {
	return f == FacingUser || f == FacingEnvironment
}

// Opposite returns the other camera.
func (f CameraFacing) Opposite() CameraFacing {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

// Controls is stored at controls. It is always written whole.
type Controls struct {
	Torch        bool         `json:"torch"`
	CameraFacing CameraFacing `json:"cameraFacing"`
}

// DeviceStatus is stored at status. BatteryLevel is a percentage and nil
// when the device has no battery reading.
type DeviceStatus struct {
	BatteryLevel *int  `json:"batteryLevel"`
	IsCharging   bool  `json:"isCharging"`
	LastOnline   int64 `json:"lastOnline"`
}

// Fields returns the status as an update map.
func (s DeviceStatus) Fields() map[string]any {
	var level any
	if s.BatteryLevel != nil {
		level = *s.BatteryLevel
	}
	return map[string]any{
		"batteryLevel": level,
		"isCharging":   s.IsCharging,
		"lastOnline":   s.LastOnline,
	}
}
