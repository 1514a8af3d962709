// Package simulator generates synthetic IoT device events for scenario runs
package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// DeviceTypes are the categories with dedicated payloads
var DeviceTypes = []types.DeviceType{types.DeviceCCTV, types.DeviceTraffic, types.DevicePollution}

var eventTypes = map[types.DeviceType][]string{
	types.DeviceCCTV:      {"motion_detected", "access_attempt", "frame_snapshot"},
	types.DeviceTraffic:   {"vehicle_count", "speed_sample", "congestion_alert"},
	types.DevicePollution: {"pm2_5_reading", "co_reading", "sensor_error"},
}

// Device emits events for one simulated sensor. The sequence of events is
// fully determined by the seed. A Device is not safe for concurrent use.
type Device struct {
	id         string
	deviceType types.DeviceType
	rng        *rand.Rand
}

// NewDevice creates a device whose events are reproducible from seed
func NewDevice(id string, deviceType types.DeviceType, seed int64) *Device {
	return &Device{
		id:         id,
		deviceType: deviceType,
		rng:        rand.New(rand.NewPCG(uint64(seed), 0)),
	}
}

// ID returns the device id
func (d *Device) ID() string {
	return d.id
}

// Type returns the device category
func (d *Device) Type() types.DeviceType {
	return d.deviceType
}

// GenerateEvent produces the next event stamped with now
func (d *Device) GenerateEvent(now time.Time) types.Event {
	choices, ok := eventTypes[d.deviceType]
	if !ok {
		choices = []string{"status"}
	}
	ev := types.Event{
		DeviceID:   d.id,
		DeviceType: d.deviceType,
		EventType:  choices[d.rng.IntN(len(choices))],
		EventTS:    now.UTC(),
	}

	switch d.deviceType {
	case types.DeviceCCTV:
		ev.Payload = types.NewCCTVPayload(
			d.id,
			round(d.uniform(0.5, 0.99), 3),
			fmt.Sprintf("frame_%d", d.rng.IntN(100000)),
		)
	case types.DeviceTraffic:
		ev.Payload = types.NewTrafficPayload(
			1+d.rng.IntN(4),
			d.rng.IntN(51),
			round(d.uniform(10, 120), 2),
		)
	case types.DevicePollution:
		ev.Payload = types.NewPollutionPayload(
			round(d.uniform(0, 300), 2),
			round(d.uniform(0, 50), 2),
		)
	default:
		ev.Payload = types.NewStatusPayload("ok")
	}
	return ev
}

func (d *Device) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*d.rng.Float64()
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
