// Package report renders the human-readable scan summary. Which readings
// count as interesting is decided by a filter expression evaluated per
// reading, defaulting to the non-zero rule the discovery workflow started
// with.
package report

import (
	"fmt"
	"io"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/timzifer/regscout/internal/scan"
	"github.com/timzifer/regscout/remote"
)

// DefaultFilter keeps readings whose raw value is non-zero.
const DefaultFilter = "raw != 0"

// Filter is a compiled per-reading match expression.
type Filter struct {
	source  string
	program *vm.Program
}

// NewFilter compiles a filter expression. The expression sees the fields of
// one reading (space, address, raw, bit, signed, scaled, plausible, hex) and
// must evaluate to a boolean. An empty source selects DefaultFilter.
func NewFilter(source string) (*Filter, error) {
	if source == "" {
		source = DefaultFilter
	}
	program, err := expr.Compile(source, expr.Env(filterEnv(scan.RawReading{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", source, err)
	}
	return &Filter{source: source, program: program}, nil
}

// Source returns the expression the filter was compiled from.
func (f *Filter) Source() string {
	return f.source
}

// Match evaluates the filter against one reading.
func (f *Filter) Match(r scan.RawReading) (bool, error) {
	out, err := expr.Run(f.program, filterEnv(r))
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.source, err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q did not evaluate to a boolean", f.source)
	}
	return matched, nil
}

func filterEnv(r scan.RawReading) map[string]interface{} {
	return map[string]interface{}{
		"space":     string(r.Space),
		"address":   r.Address,
		"raw":       int(r.Raw),
		"bit":       r.Bit,
		"signed":    int(r.Interp.Signed),
		"scaled":    r.Interp.Float.Scaled,
		"plausible": r.Interp.Float.Plausible,
		"hex":       r.Interp.Hex,
	}
}

// Summary aggregates one scan pass for display.
type Summary struct {
	Matched       []scan.RawReading
	Counts        map[scan.Space]int
	FailureCounts map[remote.FailureKind]int
	TotalReadings int
	TotalFailures int
}

// Build filters the snapshot and tallies readings and failures.
func Build(snap *scan.Snapshot, failures []scan.FailureRecord, filter *Filter) (*Summary, error) {
	summary := &Summary{
		Counts:        make(map[scan.Space]int),
		FailureCounts: make(map[remote.FailureKind]int),
		TotalReadings: snap.Len(),
		TotalFailures: len(failures),
	}
	for _, space := range scan.Spaces {
		for _, addr := range snap.Addresses(space) {
			reading, _ := snap.Reading(space, addr)
			matched, err := filter.Match(reading)
			if err != nil {
				return nil, err
			}
			if !matched {
				continue
			}
			summary.Matched = append(summary.Matched, reading)
			summary.Counts[space]++
		}
	}
	for _, failure := range failures {
		summary.FailureCounts[failure.Kind]++
	}
	return summary, nil
}

// RegisterKeys returns the matched register-space addresses, the subset worth
// re-sampling for changes.
func (s *Summary) RegisterKeys() []scan.AddressKey {
	var keys []scan.AddressKey
	for _, reading := range s.Matched {
		if reading.Space.Bits() {
			continue
		}
		keys = append(keys, reading.Key())
	}
	return keys
}

var spaceLabels = map[scan.Space]string{
	scan.SpaceHolding:  "HR",
	scan.SpaceInput:    "IR",
	scan.SpaceCoil:     "C",
	scan.SpaceDiscrete: "DI",
}

var spaceNames = map[scan.Space]string{
	scan.SpaceHolding:  "holding registers",
	scan.SpaceInput:    "input registers",
	scan.SpaceCoil:     "coils",
	scan.SpaceDiscrete: "discrete inputs",
}

// Render writes the matched readings and per-space totals.
func (s *Summary) Render(w io.Writer) {
	for _, reading := range s.Matched {
		label := spaceLabels[reading.Space]
		if reading.Space.Bits() {
			fmt.Fprintf(w, "  %s%d: %t\n", label, reading.Address, reading.Bit)
			continue
		}
		fmt.Fprintf(w, "  %s%d: %d (%s)\n", label, reading.Address, reading.Raw, reading.Interp.Hex)
	}
	fmt.Fprintln(w, "Scan complete. Found:")
	for _, space := range scan.Spaces {
		fmt.Fprintf(w, "  - %d active %s\n", s.Counts[space], spaceNames[space])
	}
	if s.TotalFailures > 0 {
		fmt.Fprintf(w, "  - %d addresses failed", s.TotalFailures)
		for kind, count := range s.FailureCounts {
			fmt.Fprintf(w, " [%s: %d]", kind, count)
		}
		fmt.Fprintln(w)
	}
}

// RenderVolatility writes the classification produced by a monitoring run.
func RenderVolatility(w io.Writer, vol map[scan.AddressKey]scan.Volatility, keys []scan.AddressKey) {
	static, volatile, unobservable := 0, 0, 0
	for _, key := range keys {
		v, ok := vol[key]
		if !ok {
			continue
		}
		switch v.Kind {
		case scan.VolatilityVolatile:
			volatile++
			fmt.Fprintf(w, "  %s%d changed %d times over %d samples\n", spaceLabels[key.Space], key.Address, v.Changes, v.Samples)
		case scan.VolatilityStatic:
			static++
		case scan.VolatilityUnobservable:
			unobservable++
		}
	}
	fmt.Fprintf(w, "Monitoring complete: %d volatile, %d static, %d unobservable\n", volatile, static, unobservable)
}

// TotalConnectionFailure reports whether the scan obtained no reading at all
// while every failure was connection-class. This is the "device unreachable"
// signature, distinct from an address space that merely rejects reads.
func TotalConnectionFailure(snap *scan.Snapshot, failures []scan.FailureRecord) bool {
	if snap != nil && snap.Len() > 0 {
		return false
	}
	if len(failures) == 0 {
		return false
	}
	for _, failure := range failures {
		if failure.Kind == remote.FailureDeviceException {
			return false
		}
	}
	return true
}
