package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the scan engine.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with the request loop.
type Collector interface {
	IncReads(space string, count int)
	IncFailures(space, kind string, count int)
	IncNarrowed(space string)
	ObserveScanDuration(d time.Duration)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncReads(string, int)              {}
func (noopCollector) IncFailures(string, string, int)   {}
func (noopCollector) IncNarrowed(string)                {}
func (noopCollector) ObserveScanDuration(time.Duration) {}

// PrometheusCollector exposes scan counters via Prometheus.
type PrometheusCollector struct {
	reads        *prometheus.CounterVec
	failures     *prometheus.CounterVec
	narrowed     *prometheus.CounterVec
	scanDuration prometheus.Gauge
}

var (
	readsCounter          *prometheus.CounterVec
	readsCounterLock      sync.Mutex
	failuresCounter       *prometheus.CounterVec
	failuresCounterLock   sync.Mutex
	narrowedCounter       *prometheus.CounterVec
	narrowedCounterLock   sync.Mutex
	scanDurationGauge     prometheus.Gauge
	scanDurationGaugeLock sync.Mutex
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	readsCounterLock.Lock()
	if readsCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regscout_reads_total",
			Help: "Number of addresses read successfully per object space.",
		}, []string{"space"})
		registered, err := registerCounterVec(reg, counter)
		if err != nil {
			readsCounterLock.Unlock()
			return nil, err
		}
		readsCounter = registered
	}
	readsCounterLock.Unlock()

	failuresCounterLock.Lock()
	if failuresCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regscout_read_failures_total",
			Help: "Number of addresses recorded as failed per object space and failure kind.",
		}, []string{"space", "kind"})
		registered, err := registerCounterVec(reg, counter)
		if err != nil {
			failuresCounterLock.Unlock()
			return nil, err
		}
		failuresCounter = registered
	}
	failuresCounterLock.Unlock()

	narrowedCounterLock.Lock()
	if narrowedCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regscout_narrowed_windows_total",
			Help: "Number of request windows re-planned at half width after repeated failures.",
		}, []string{"space"})
		registered, err := registerCounterVec(reg, counter)
		if err != nil {
			narrowedCounterLock.Unlock()
			return nil, err
		}
		narrowedCounter = registered
	}
	narrowedCounterLock.Unlock()

	scanDurationGaugeLock.Lock()
	if scanDurationGauge == nil {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regscout_scan_duration_seconds",
			Help: "Duration of the most recent scan pass.",
		})
		if err := reg.Register(gauge); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(prometheus.Gauge); ok {
					scanDurationGauge = existing
				} else {
					scanDurationGaugeLock.Unlock()
					return nil, err
				}
			} else {
				scanDurationGaugeLock.Unlock()
				return nil, err
			}
		} else {
			scanDurationGauge = gauge
		}
	}
	scanDurationGaugeLock.Unlock()

	return &PrometheusCollector{
		reads:        readsCounter,
		failures:     failuresCounter,
		narrowed:     narrowedCounter,
		scanDuration: scanDurationGauge,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, counter *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

// IncReads records successfully read addresses for an object space.
func (p *PrometheusCollector) IncReads(space string, count int) {
	if p == nil || p.reads == nil || count == 0 {
		return
	}
	p.reads.WithLabelValues(space).Add(float64(count))
}

// IncFailures records failed addresses for an object space and failure kind.
func (p *PrometheusCollector) IncFailures(space, kind string, count int) {
	if p == nil || p.failures == nil || count == 0 {
		return
	}
	p.failures.WithLabelValues(space, kind).Add(float64(count))
}

// IncNarrowed counts a window that was re-planned at half width.
func (p *PrometheusCollector) IncNarrowed(space string) {
	if p == nil || p.narrowed == nil {
		return
	}
	p.narrowed.WithLabelValues(space).Inc()
}

// ObserveScanDuration updates the gauge tracking the last scan duration.
func (p *PrometheusCollector) ObserveScanDuration(d time.Duration) {
	if p == nil || p.scanDuration == nil {
		return
	}
	p.scanDuration.Set(d.Seconds())
}
