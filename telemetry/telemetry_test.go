package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func resetMetrics() {
	readsCounterLock.Lock()
	readsCounter = nil
	readsCounterLock.Unlock()
	failuresCounterLock.Lock()
	failuresCounter = nil
	failuresCounterLock.Unlock()
	narrowedCounterLock.Lock()
	narrowedCounter = nil
	narrowedCounterLock.Unlock()
	scanDurationGaugeLock.Lock()
	scanDurationGauge = nil
	scanDurationGaugeLock.Unlock()
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncReads("holding_registers", 10)
	collector.IncFailures("holding_registers", "timeout", 1)
	collector.IncNarrowed("holding_registers")
	collector.ObserveScanDuration(time.Second)
}

func TestPrometheusCollectorRegistersAndReusesMetrics(t *testing.T) {
	resetMetrics()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncReads("holding_registers", 10)
	collector.IncFailures("holding_registers", "timeout", 2)
	collector.IncNarrowed("holding_registers")
	collector.ObserveScanDuration(1500 * time.Millisecond)

	metrics, err := reg.Gather()
	require.NoError(t, err)
	byName := metricsByName(metrics)

	requireCounterValue(t, byName["regscout_reads_total"], 10)
	requireCounterValue(t, byName["regscout_read_failures_total"], 2)
	requireCounterValue(t, byName["regscout_narrowed_windows_total"], 1)

	gauge := byName["regscout_scan_duration_seconds"]
	require.NotNil(t, gauge)
	require.Len(t, gauge.Metric, 1)
	require.Equal(t, 1.5, gauge.Metric[0].Gauge.GetValue())

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.reads, again.reads)
	require.Same(t, collector.failures, again.failures)
	require.Same(t, collector.narrowed, again.narrowed)

	again.IncReads("holding_registers", 5)

	metrics, err = reg.Gather()
	require.NoError(t, err)
	requireCounterValue(t, metricsByName(metrics)["regscout_reads_total"], 15)
}

func TestPrometheusCollectorSkipsZeroCounts(t *testing.T) {
	resetMetrics()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncReads("holding_registers", 0)
	collector.IncFailures("holding_registers", "timeout", 0)

	// Vectors with no observed children are not gathered at all.
	metrics, err := reg.Gather()
	require.NoError(t, err)
	byName := metricsByName(metrics)
	require.NotContains(t, byName, "regscout_reads_total")
	require.NotContains(t, byName, "regscout_read_failures_total")
}

func metricsByName(metrics []*dto.MetricFamily) map[string]*dto.MetricFamily {
	byName := make(map[string]*dto.MetricFamily, len(metrics))
	for _, mf := range metrics {
		byName[mf.GetName()] = mf
	}
	return byName
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.NotNil(t, mf)
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
