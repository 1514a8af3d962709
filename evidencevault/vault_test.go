package evidencevault

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/audit"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/config"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/coordinator"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Audit.Type = config.AuditMemory
	cfg.LogLevel = "disabled"
	return cfg
}

func newVault(t *testing.T, cfg config.Config) *Vault {
	t.Helper()
	v, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close(context.Background()) })
	return v
}

func TestRunScenario(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, memoryConfig())

	res, err := v.RunScenario(ctx, ScenarioOptions{Devices: 3, EventsPerDevice: 2, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 6, res.TotalEvents)
	require.Len(t, res.Timeline, 6)
	for i, e := range res.Timeline {
		assert.Equal(t, int64(i+1), e.RecordID)
	}
	assert.Equal(t, "dev-001", res.Timeline[0].DeviceID)
	assert.Equal(t, "dev-003", res.Timeline[5].DeviceID)
	assert.Positive(t, res.AvgPerEvent)
	assert.GreaterOrEqual(t, res.TotalTime, res.AvgPerEvent)

	sum := res.Summary()
	assert.Equal(t, 6, sum.TotalEvents)
	assert.Equal(t, 2, sum.EventsPerDevice)

	seq, _ := v.Collector().State()
	assert.Equal(t, int64(6), seq)

	report, err := v.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, report.OK)
	assert.Zero(t, report.Bad)

	var scenarios int
	for _, run := range v.Coordinator().List() {
		if run.Kind == runKindScenario {
			scenarios++
			assert.Equal(t, coordinator.StatusCompleted, run.Status)
			assert.Equal(t, 6, run.Done)
		}
	}
	assert.Equal(t, 1, scenarios)
}

func TestDevicesAreDeterministic(t *testing.T) {
	opts := ScenarioOptions{Devices: 8, Seed: 99}
	a, b := Devices(opts), Devices(opts)
	require.Len(t, a, 8)
	for i := range a {
		assert.Equal(t, a[i].ID(), b[i].ID())
		assert.Equal(t, a[i].Type(), b[i].Type())
	}
	assert.Equal(t, "dev-008", a[7].ID())
}

func TestHashChainConfig(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.HashChain = true
	v := newVault(t, cfg)

	_, err := v.RunScenario(ctx, ScenarioOptions{Devices: 1, EventsPerDevice: 3})
	require.NoError(t, err)

	list, err := v.Store().ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Nil(t, list[0].PrevHash)
	for i := 1; i < len(list); i++ {
		require.NotNil(t, list[i].PrevHash)
		assert.Equal(t, list[i-1].EventHash, *list[i].PrevHash)
	}
}

func TestTamperAndVerify(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.RunLogPath = filepath.Join(t.TempDir(), "audit_log.txt")
	v := newVault(t, cfg)

	_, err := v.RunScenario(ctx, ScenarioOptions{Devices: 2, EventsPerDevice: 3})
	require.NoError(t, err)

	out, err := v.TamperAndVerify(ctx, 0.1, rand.New(rand.NewPCG(5, 5)))
	require.NoError(t, err)
	require.Len(t, out.TamperedIDs, 1, "at least one record is always tampered")
	tampered := out.TamperedIDs[0]
	assert.Contains(t, tamperModes, out.Modes[tampered])

	require.NotNil(t, out.Report)
	assert.Equal(t, 6, out.Report.Total)
	assert.Equal(t, 5, out.Report.OK)
	assert.Equal(t, 1, out.Report.Bad)
	for _, res := range out.Report.Results {
		if res.ID != tampered {
			assert.True(t, res.OK)
			continue
		}
		assert.False(t, res.OK)
		want := types.ReasonDecryptionFailed
		if out.Modes[tampered] == types.TamperCorruptHash {
			want = types.ReasonHashMismatch
		}
		assert.Equal(t, want, res.Reason)
	}

	data, err := os.ReadFile(cfg.RunLogPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "--- Verification Run @ "))
	assert.Contains(t, string(data), "Total: 6, OK: 5, Failed: 1\n")

	events, err := v.AuditLogger().GetEvents(ctx, map[string]interface{}{"eventType": audit.EventTypeEvidenceTamper})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTamperFractionBounds(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, memoryConfig())

	_, err := v.TamperAndVerify(ctx, 0.5, nil)
	assert.ErrorIs(t, err, ErrNoRecords)

	_, err = v.TamperAndVerify(ctx, 1.5, nil)
	assert.ErrorIs(t, err, ErrInvalidFraction)

	_, err = v.RunScenario(ctx, ScenarioOptions{Devices: 2, EventsPerDevice: 2})
	require.NoError(t, err)

	out, err := v.TamperAndVerify(ctx, 1, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, out.TamperedIDs)
	assert.Equal(t, 4, out.Report.Bad)
}

func TestInvalidScenario(t *testing.T) {
	v := newVault(t, memoryConfig())
	_, err := v.RunScenario(context.Background(), ScenarioOptions{Devices: 0, EventsPerDevice: 5})
	assert.ErrorIs(t, err, ErrInvalidScenario)
}

func TestSQLiteBackedVault(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "evidence.db")
	cfg.Audit.Enabled = false
	cfg.Cache.Enabled = false
	v := newVault(t, cfg)
	assert.Nil(t, v.AuditLogger())

	_, err := v.RunScenario(ctx, ScenarioOptions{Devices: 2, EventsPerDevice: 2, Seed: 3})
	require.NoError(t, err)
	report, err := v.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.OK)
}

func TestReopenedStoreIsRefused(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "evidence.db")
	cfg.Audit.Type = config.AuditMemory
	cfg.LogLevel = "disabled"

	v, err := New(ctx, cfg)
	require.NoError(t, err)
	_, err = v.RunScenario(ctx, ScenarioOptions{Devices: 2, EventsPerDevice: 2})
	require.NoError(t, err)
	report, err := v.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.OK)
	require.NoError(t, v.Close(ctx))

	_, err = New(ctx, cfg)
	require.ErrorIs(t, err, ErrStoreNotEmpty)
	assert.ErrorContains(t, err, "4 records")

	require.NoError(t, ResetStorage(ctx, cfg.Storage))
	require.NoError(t, ResetStorage(ctx, cfg.Storage), "reset of a missing store is a no-op")

	v = newVault(t, cfg)
	_, err = v.RunScenario(ctx, ScenarioOptions{Devices: 2, EventsPerDevice: 2})
	require.NoError(t, err)
	report, err = v.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 4, report.OK)
	assert.Zero(t, report.Bad)
}

func TestSQLiteTamperDrillAtDefaultScale(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "evidence.db")
	cfg.Audit.Type = config.AuditMemory
	cfg.LogLevel = "disabled"
	v := newVault(t, cfg)

	_, err := v.RunScenario(ctx, ScenarioOptions{Devices: 10, EventsPerDevice: 5})
	require.NoError(t, err)
	out, err := v.TamperAndVerify(ctx, 0.1, rand.New(rand.NewPCG(9, 9)))
	require.NoError(t, err)
	assert.Len(t, out.TamperedIDs, 5)
	assert.Equal(t, 50, out.Report.Total)
	assert.Equal(t, 45, out.Report.OK)
	assert.Equal(t, 5, out.Report.Bad)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = "csv"
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "invalid configuration")

	cfg = memoryConfig()
	cfg.Cache.TTL = 0
	_, err = New(context.Background(), cfg)
	assert.ErrorContains(t, err, "cache TTL must be at least 1 minute")
}

func TestClosedVault(t *testing.T) {
	v, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	require.NoError(t, v.Close(context.Background()))
	require.NoError(t, v.Close(context.Background()))

	_, err = v.RunScenario(context.Background(), ScenarioOptions{Devices: 1, EventsPerDevice: 1})
	assert.ErrorIs(t, err, ErrVaultClosed)
	_, err = v.VerifyAll(context.Background())
	assert.ErrorIs(t, err, ErrVaultClosed)
}
