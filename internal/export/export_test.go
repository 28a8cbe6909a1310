package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/regscout/internal/scan"
)

func testSnapshot(t *testing.T) *scan.Snapshot {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, "2026-08-29T10:15:30.123456789Z")
	require.NoError(t, err)
	snap := scan.NewSnapshot(scan.ScanInfo{
		Timestamp: ts,
		Host:      "192.0.2.10",
		Port:      502,
		UnitID:    1,
		Ranges: []scan.AddressRange{
			{Space: scan.SpaceHolding, Start: 0, End: 10},
			{Space: scan.SpaceCoil, Start: 0, End: 8},
		},
	})
	require.NoError(t, snap.Restore(scan.SpaceHolding, 0, 0, false, ts))
	require.NoError(t, snap.Restore(scan.SpaceHolding, 5, 270, false, ts))
	require.NoError(t, snap.Restore(scan.SpaceInput, 10, 65535, false, ts))
	require.NoError(t, snap.Restore(scan.SpaceCoil, 3, 1, true, ts))
	require.NoError(t, snap.Restore(scan.SpaceDiscrete, 7, 0, false, ts))
	return snap
}

func TestWriteImportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap := testSnapshot(t)

	path, err := Write(dir, snap)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(path), "regscout_scan_"))
	require.True(t, strings.HasSuffix(path, ".json"))

	got, vol, err := Import(path)
	require.NoError(t, err)
	require.Nil(t, vol)
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Fatalf("snapshot changed across round trip (-want +got):\n%s", diff)
	}
}

func TestWriteMonitoredCarriesVolatility(t *testing.T) {
	dir := t.TempDir()
	snap := testSnapshot(t)
	vol := map[scan.AddressKey]scan.Volatility{
		{Space: scan.SpaceHolding, Address: 5}:  {Kind: scan.VolatilityVolatile, Changes: 3, Samples: 60},
		{Space: scan.SpaceInput, Address: 10}:   {Kind: scan.VolatilityStatic, Samples: 60},
		{Space: scan.SpaceHolding, Address: 99}: {Kind: scan.VolatilityUnobservable},
	}

	path, err := WriteMonitored(dir, snap, vol)
	require.NoError(t, err)
	require.Contains(t, filepath.Base(path), "_with_monitoring")

	_, gotVol, err := Import(path)
	require.NoError(t, err)
	if diff := cmp.Diff(vol, gotVol); diff != "" {
		t.Fatalf("volatility changed across round trip (-want +got):\n%s", diff)
	}
}

func TestWriteLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(dir, testSnapshot(t))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, strings.HasPrefix(entries[0].Name(), "."))
}

func TestSuccessiveWritesDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	snap := testSnapshot(t)

	first, err := Write(dir, snap)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := Write(dir, snap)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	for _, path := range []string{first, second} {
		got, _, err := Import(path)
		require.NoError(t, err)
		require.Equal(t, snap.Len(), got.Len())
	}
}

func TestFilenameLayout(t *testing.T) {
	ts, err := time.Parse(time.RFC3339Nano, "2026-08-29T10:15:30.000000042Z")
	require.NoError(t, err)
	require.Equal(t, "regscout_scan_20260829_101530.000000042.json", Filename(ts))
}

func TestDecodeRejectsMalformedTimestamp(t *testing.T) {
	doc := Encode(testSnapshot(t), nil)
	doc.ScanInfo.Timestamp = "yesterday"
	_, _, err := Decode(doc)
	require.Error(t, err)
}
