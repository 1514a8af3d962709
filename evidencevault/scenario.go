package evidencevault

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/report"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/simulator"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const runKindScenario = "scenario"

var tamperModes = []types.TamperMode{types.TamperCorruptCiphertext, types.TamperCorruptHash}

// ScenarioOptions sizes a simulated run
type ScenarioOptions struct {
	Devices         int
	EventsPerDevice int

	// Seed picks the device categories; device i is itself seeded with i
	Seed int64
}

// ScenarioResult reports the collect+store timings of a run
type ScenarioResult struct {
	Devices         int
	EventsPerDevice int
	TotalEvents     int
	TotalTime       time.Duration
	AvgPerEvent     time.Duration
	Timeline        []report.TimelineEntry
}

// ScenarioSummary is the printable form of a ScenarioResult
type ScenarioSummary struct {
	Devices          int     `json:"devices"`
	EventsPerDevice  int     `json:"events_per_device"`
	TotalEvents      int     `json:"total_events"`
	TotalTimeS       float64 `json:"total_time_s"`
	AvgTimePerEventS float64 `json:"avg_time_per_event_s"`
}

// Summary converts durations to seconds
func (r *ScenarioResult) Summary() ScenarioSummary {
	return ScenarioSummary{
		Devices:          r.Devices,
		EventsPerDevice:  r.EventsPerDevice,
		TotalEvents:      r.TotalEvents,
		TotalTimeS:       r.TotalTime.Seconds(),
		AvgTimePerEventS: r.AvgPerEvent.Seconds(),
	}
}

// TamperResult is the outcome of a tamper drill
type TamperResult struct {
	TamperedIDs []int64
	Modes       map[int64]types.TamperMode
	Report      *types.VerificationReport
}

// Devices builds the simulated fleet for opts: ids dev-001.., categories drawn from opts.Seed
func Devices(opts ScenarioOptions) []*simulator.Device {
	rng := rand.New(rand.NewPCG(uint64(opts.Seed), 1))
	devices := make([]*simulator.Device, 0, opts.Devices)
	for i := 0; i < opts.Devices; i++ {
		dt := simulator.DeviceTypes[rng.IntN(len(simulator.DeviceTypes))]
		devices = append(devices, simulator.NewDevice(fmt.Sprintf("dev-%03d", i+1), dt, int64(i)))
	}
	return devices
}

// RunScenario collects EventsPerDevice events from each simulated device in
// turn and times every collect+store call.
func (v *Vault) RunScenario(ctx context.Context, opts ScenarioOptions) (*ScenarioResult, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	if opts.Devices <= 0 || opts.EventsPerDevice <= 0 {
		return nil, fmt.Errorf("%w: devices and events per device must be positive", ErrInvalidScenario)
	}

	total := opts.Devices * opts.EventsPerDevice
	runID := uuid.New().String()
	runCtx, err := v.coordinator.Start(ctx, runID, runKindScenario, total)
	if err != nil {
		return nil, fmt.Errorf("failed to start scenario: %w", err)
	}

	res, err := v.runScenario(runCtx, runID, opts)
	v.coordinator.Finish(runID, err)
	if err != nil {
		return nil, err
	}

	v.logger.Info().
		Str("runId", runID).
		Int("devices", res.Devices).
		Int("totalEvents", res.TotalEvents).
		Dur("totalTime", res.TotalTime).
		Dur("avgPerEvent", res.AvgPerEvent).
		Msg("Scenario finished")
	return res, nil
}

func (v *Vault) runScenario(ctx context.Context, runID string, opts ScenarioOptions) (*ScenarioResult, error) {
	res := &ScenarioResult{
		Devices:         opts.Devices,
		EventsPerDevice: opts.EventsPerDevice,
		Timeline:        make([]report.TimelineEntry, 0, opts.Devices*opts.EventsPerDevice),
	}

	var collectTime time.Duration
	start := time.Now()
	for _, d := range Devices(opts) {
		for i := 0; i < opts.EventsPerDevice; i++ {
			ev := d.GenerateEvent(v.now())

			t0 := time.Now()
			id, err := v.collector.CollectAndStore(ctx, ev)
			took := time.Since(t0)
			if err != nil {
				return nil, fmt.Errorf("failed to collect event %d of %s: %w", i+1, d.ID(), err)
			}

			collectTime += took
			res.TotalEvents++
			res.Timeline = append(res.Timeline, report.TimelineEntry{
				RecordID:   id,
				DeviceID:   d.ID(),
				DeviceType: d.Type(),
				Duration:   took,
				Timestamp:  v.now(),
			})
			v.coordinator.Step(runID)
		}
	}
	res.TotalTime = time.Since(start)
	res.AvgPerEvent = collectTime / time.Duration(res.TotalEvents)
	return res, nil
}

// TamperAndVerify corrupts max(1, ⌊n×fraction⌋) distinct records with a
// randomly chosen mode each and then verifies the whole store. A nil rng is
// seeded from the clock.
func (v *Vault) TamperAndVerify(ctx context.Context, fraction float64, rng *rand.Rand) (*TamperResult, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	if fraction < 0 || fraction > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidFraction, fraction)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	records, err := v.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	count := max(1, int(float64(len(records))*fraction))
	out := &TamperResult{Modes: make(map[int64]types.TamperMode, count)}
	for _, idx := range rng.Perm(len(records))[:count] {
		id := records[idx].ID
		mode := tamperModes[rng.IntN(len(tamperModes))]
		ok, err := v.store.Tamper(ctx, id, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to tamper record %d: %w", id, err)
		}
		if !ok {
			continue
		}
		out.TamperedIDs = append(out.TamperedIDs, id)
		out.Modes[id] = mode
	}

	v.logger.Warn().Ints64("recordIds", out.TamperedIDs).Msg("Tamper drill applied")

	if out.Report, err = v.VerifyAll(ctx); err != nil {
		return out, err
	}
	return out, nil
}
