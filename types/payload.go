package types

import (
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when a payload's kind and populated variant disagree
var ErrInvalidPayload = errors.New("invalid event payload")

// PayloadKind discriminates the Payload union
type PayloadKind string

const (
	PayloadCCTV      PayloadKind = "cctv"
	PayloadTraffic   PayloadKind = "traffic"
	PayloadPollution PayloadKind = "pollution"
	PayloadStatus    PayloadKind = "status"
)

// CCTVPayload is emitted by camera devices
type CCTVPayload struct {
	CameraID   string  `json:"camera_id" bson:"camera_id"`
	Confidence float64 `json:"confidence" bson:"confidence"`
	FrameHash  string  `json:"frame_hash" bson:"frame_hash"`
}

// TrafficPayload is emitted by road sensors
type TrafficPayload struct {
	Lane         int     `json:"lane" bson:"lane"`
	VehicleCount int     `json:"vehicle_count" bson:"vehicle_count"`
	AvgSpeedKmh  float64 `json:"avg_speed_kmh" bson:"avg_speed_kmh"`
}

// PollutionPayload is emitted by air quality sensors
type PollutionPayload struct {
	PM25 float64 `json:"pm2_5" bson:"pm2_5"`
	CO   float64 `json:"co" bson:"co"`
}

// StatusPayload is the fallback for devices without a dedicated variant
type StatusPayload struct {
	Status string `json:"status" bson:"status"`
}

// Payload is a tagged union over the known device categories.
// Exactly the variant named by Kind is set. Extra carries forward-compatible
// fields and may accompany any variant.
type Payload struct {
	Kind      PayloadKind       `json:"kind" bson:"kind"`
	CCTV      *CCTVPayload      `json:"cctv,omitempty" bson:"cctv,omitempty"`
	Traffic   *TrafficPayload   `json:"traffic,omitempty" bson:"traffic,omitempty"`
	Pollution *PollutionPayload `json:"pollution,omitempty" bson:"pollution,omitempty"`
	Status    *StatusPayload    `json:"status,omitempty" bson:"status,omitempty"`
	Extra     map[string]string `json:"extra,omitempty" bson:"extra,omitempty"`
}

// Variant returns the populated variant for Kind
func (p Payload) Variant() (any, error) {
	set := 0
	for _, ok := range []bool{p.CCTV != nil, p.Traffic != nil, p.Pollution != nil, p.Status != nil} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("%w: %d variants set for kind %q", ErrInvalidPayload, set, p.Kind)
	}

	var v any
	switch p.Kind {
	case PayloadCCTV:
		if p.CCTV != nil {
			v = p.CCTV
		}
	case PayloadTraffic:
		if p.Traffic != nil {
			v = p.Traffic
		}
	case PayloadPollution:
		if p.Pollution != nil {
			v = p.Pollution
		}
	case PayloadStatus:
		if p.Status != nil {
			v = p.Status
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, p.Kind)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: kind %q has no matching variant", ErrInvalidPayload, p.Kind)
	}
	return v, nil
}

// Validate checks the union invariant
func (p Payload) Validate() error {
	_, err := p.Variant()
	return err
}

// NewCCTVPayload builds a camera payload
func NewCCTVPayload(cameraID string, confidence float64, frameHash string) Payload {
	return Payload{Kind: PayloadCCTV, CCTV: &CCTVPayload{CameraID: cameraID, Confidence: confidence, FrameHash: frameHash}}
}

// NewTrafficPayload builds a road sensor payload
func NewTrafficPayload(lane, vehicleCount int, avgSpeedKmh float64) Payload {
	return Payload{Kind: PayloadTraffic, Traffic: &TrafficPayload{Lane: lane, VehicleCount: vehicleCount, AvgSpeedKmh: avgSpeedKmh}}
}

// NewPollutionPayload builds an air quality payload
func NewPollutionPayload(pm25, co float64) Payload {
	return Payload{Kind: PayloadPollution, Pollution: &PollutionPayload{PM25: pm25, CO: co}}
}

// NewStatusPayload builds a status payload
func NewStatusPayload(status string) Payload {
	return Payload{Kind: PayloadStatus, Status: &StatusPayload{Status: status}}
}
