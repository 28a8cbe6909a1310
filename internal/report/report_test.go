package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/regscout/internal/scan"
	"github.com/timzifer/regscout/remote"
)

func testSnapshot(t *testing.T) *scan.Snapshot {
	t.Helper()
	ts := time.Now()
	snap := scan.NewSnapshot(scan.ScanInfo{Timestamp: ts, Host: "192.0.2.10", Port: 502, UnitID: 1})
	require.NoError(t, snap.Restore(scan.SpaceHolding, 0, 0, false, ts))
	require.NoError(t, snap.Restore(scan.SpaceHolding, 5, 270, false, ts))
	require.NoError(t, snap.Restore(scan.SpaceInput, 2, 0, false, ts))
	require.NoError(t, snap.Restore(scan.SpaceCoil, 3, 1, true, ts))
	require.NoError(t, snap.Restore(scan.SpaceDiscrete, 4, 0, false, ts))
	return snap
}

func TestDefaultFilterDropsZeroReadings(t *testing.T) {
	filter, err := NewFilter("")
	require.NoError(t, err)
	require.Equal(t, DefaultFilter, filter.Source())

	summary, err := Build(testSnapshot(t), nil, filter)
	require.NoError(t, err)

	require.Len(t, summary.Matched, 2)
	require.Equal(t, 1, summary.Counts[scan.SpaceHolding])
	require.Equal(t, 0, summary.Counts[scan.SpaceInput])
	require.Equal(t, 1, summary.Counts[scan.SpaceCoil])
	require.Equal(t, 5, summary.TotalReadings)
	require.Equal(t, 0, summary.TotalFailures)
}

func TestCustomFilterSeesInterpretationFields(t *testing.T) {
	filter, err := NewFilter(`space == "holding_registers" && plausible && scaled > 20.0`)
	require.NoError(t, err)

	summary, err := Build(testSnapshot(t), nil, filter)
	require.NoError(t, err)
	require.Len(t, summary.Matched, 1)
	require.Equal(t, 5, summary.Matched[0].Address)
}

func TestFilterCompileError(t *testing.T) {
	_, err := NewFilter("raw !=")
	require.Error(t, err)

	_, err = NewFilter("address + 1")
	require.Error(t, err, "non-boolean expressions must be rejected at compile time")
}

func TestRegisterKeysSkipBitSpaces(t *testing.T) {
	filter, err := NewFilter("")
	require.NoError(t, err)
	summary, err := Build(testSnapshot(t), nil, filter)
	require.NoError(t, err)

	keys := summary.RegisterKeys()
	require.Equal(t, []scan.AddressKey{{Space: scan.SpaceHolding, Address: 5}}, keys)
}

func TestRenderSummary(t *testing.T) {
	filter, err := NewFilter("")
	require.NoError(t, err)
	failures := []scan.FailureRecord{
		{Space: scan.SpaceHolding, Address: 50, Kind: remote.FailureDeviceException, ExceptionCode: 2, Attempts: 1},
		{Space: scan.SpaceHolding, Address: 51, Kind: remote.FailureDeviceException, ExceptionCode: 2, Attempts: 1},
	}
	summary, err := Build(testSnapshot(t), failures, filter)
	require.NoError(t, err)

	var buf bytes.Buffer
	summary.Render(&buf)
	out := buf.String()

	require.Contains(t, out, "  HR5: 270 (0x010E)\n")
	require.Contains(t, out, "  C3: true\n")
	require.Contains(t, out, "Scan complete. Found:\n")
	require.Contains(t, out, "  - 1 active holding registers\n")
	require.Contains(t, out, "  - 0 active input registers\n")
	require.Contains(t, out, "  - 1 active coils\n")
	require.Contains(t, out, "  - 0 active discrete inputs\n")
	require.Contains(t, out, "  - 2 addresses failed [device_exception: 2]\n")
}

func TestRenderVolatility(t *testing.T) {
	keys := []scan.AddressKey{
		{Space: scan.SpaceHolding, Address: 5},
		{Space: scan.SpaceHolding, Address: 6},
		{Space: scan.SpaceHolding, Address: 7},
	}
	vol := map[scan.AddressKey]scan.Volatility{
		keys[0]: {Kind: scan.VolatilityVolatile, Changes: 4, Samples: 60},
		keys[1]: {Kind: scan.VolatilityStatic, Samples: 60},
		keys[2]: {Kind: scan.VolatilityUnobservable},
	}

	var buf bytes.Buffer
	RenderVolatility(&buf, vol, keys)
	out := buf.String()

	require.Contains(t, out, "  HR5 changed 4 times over 60 samples\n")
	require.Contains(t, out, "Monitoring complete: 1 volatile, 1 static, 1 unobservable\n")
}

func TestTotalConnectionFailure(t *testing.T) {
	empty := scan.NewSnapshot(scan.ScanInfo{})
	connection := []scan.FailureRecord{{Space: scan.SpaceHolding, Address: 0, Kind: remote.FailureConnection}}
	timeout := []scan.FailureRecord{{Space: scan.SpaceHolding, Address: 0, Kind: remote.FailureTimeout}}
	rejected := []scan.FailureRecord{{Space: scan.SpaceHolding, Address: 0, Kind: remote.FailureDeviceException}}

	require.True(t, TotalConnectionFailure(empty, connection))
	require.True(t, TotalConnectionFailure(empty, timeout))
	require.False(t, TotalConnectionFailure(empty, rejected), "an answering device is reachable")
	require.False(t, TotalConnectionFailure(empty, nil))
	require.False(t, TotalConnectionFailure(testSnapshot(t), connection))
}
