// Package export serializes snapshots into timestamped JSON artifacts and
// reconstructs snapshots from them. The document layout follows the scan
// tooling that grew around the heat-pump controller: a scan_info header plus
// one address map per object space.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/timzifer/regscout/internal/scan"
)

// Document is the on-disk artifact layout.
type Document struct {
	ScanInfo         InfoEntry                  `json:"scan_info"`
	HoldingRegisters map[string]RegisterEntry   `json:"holding_registers"`
	InputRegisters   map[string]RegisterEntry   `json:"input_registers"`
	Coils            map[string]bool            `json:"coils"`
	DiscreteInputs   map[string]bool            `json:"discrete_inputs"`
	Volatility       map[string]VolatilityEntry `json:"volatility,omitempty"`
}

// InfoEntry is the scan metadata header.
type InfoEntry struct {
	Timestamp string       `json:"timestamp"`
	Host      string       `json:"host"`
	Port      int          `json:"port"`
	UnitID    uint8        `json:"unit_id"`
	Ranges    []RangeEntry `json:"ranges_scanned"`
}

// RangeEntry records one scanned address range.
type RangeEntry struct {
	Space string `json:"space"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// RegisterEntry is one 16-bit register reading with its candidate
// interpretations.
type RegisterEntry struct {
	Value  uint16     `json:"value"`
	Hex    string     `json:"hex"`
	Signed int16      `json:"signed"`
	Float  FloatEntry `json:"float_interpretation"`
}

// FloatEntry mirrors the decimal-scaled interpretation candidates.
type FloatEntry struct {
	TempCDiv10       float64  `json:"temp_c_div10"`
	TempCDiv100      float64  `json:"temp_c_div100"`
	PressureBarDiv10 float64  `json:"pressure_bar_div10"`
	Percentage       *float64 `json:"percentage"`
	Plausible        bool     `json:"plausible"`
	UnitGuess        string   `json:"unit_guess,omitempty"`
}

// VolatilityEntry is the per-address result of a monitoring run.
type VolatilityEntry struct {
	Kind    string `json:"kind"`
	Changes int    `json:"changes"`
	Samples int    `json:"samples"`
}

const (
	filePrefix        = "regscout_scan_"
	fileSuffix        = ".json"
	monitoringSuffix  = "_with_monitoring"
	timestampLayout   = "20060102_150405.000000000"
	infoTimestampForm = time.RFC3339Nano
)

// Filename returns the artifact name for an export happening at t. The
// nanosecond component keeps back-to-back exports from colliding.
func Filename(t time.Time) string {
	return filePrefix + t.Format(timestampLayout) + fileSuffix
}

// Write exports the snapshot into dir and returns the artifact path. The
// write is atomic: the document lands under a temporary name and is renamed
// once complete.
func Write(dir string, snap *scan.Snapshot) (string, error) {
	return write(dir, Filename(time.Now()), Encode(snap, nil))
}

// WriteMonitored exports the snapshot together with a volatility map. The
// artifact name carries a monitoring marker, mirroring the plain export name.
func WriteMonitored(dir string, snap *scan.Snapshot, vol map[scan.AddressKey]scan.Volatility) (string, error) {
	name := filePrefix + time.Now().Format(timestampLayout) + monitoringSuffix + fileSuffix
	return write(dir, name, Encode(snap, vol))
}

func write(dir, name string, doc *Document) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filePrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize artifact: %w", err)
	}
	return path, nil
}

// Encode turns a snapshot (and an optional volatility map) into the document
// layout.
func Encode(snap *scan.Snapshot, vol map[scan.AddressKey]scan.Volatility) *Document {
	doc := &Document{
		ScanInfo: InfoEntry{
			Timestamp: snap.Meta.Timestamp.Format(infoTimestampForm),
			Host:      snap.Meta.Host,
			Port:      snap.Meta.Port,
			UnitID:    snap.Meta.UnitID,
		},
		HoldingRegisters: registerEntries(snap, scan.SpaceHolding),
		InputRegisters:   registerEntries(snap, scan.SpaceInput),
		Coils:            bitEntries(snap, scan.SpaceCoil),
		DiscreteInputs:   bitEntries(snap, scan.SpaceDiscrete),
	}
	for _, r := range snap.Meta.Ranges {
		doc.ScanInfo.Ranges = append(doc.ScanInfo.Ranges, RangeEntry{
			Space: string(r.Space),
			Start: r.Start,
			End:   r.End,
		})
	}
	if len(vol) > 0 {
		doc.Volatility = make(map[string]VolatilityEntry, len(vol))
		for key, v := range vol {
			doc.Volatility[key.String()] = VolatilityEntry{
				Kind:    string(v.Kind),
				Changes: v.Changes,
				Samples: v.Samples,
			}
		}
	}
	return doc
}

func registerEntries(snap *scan.Snapshot, space scan.Space) map[string]RegisterEntry {
	entries := make(map[string]RegisterEntry, len(snap.Spaces[space]))
	for _, addr := range snap.Addresses(space) {
		r, _ := snap.Reading(space, addr)
		entries[strconv.Itoa(addr)] = RegisterEntry{
			Value:  r.Raw,
			Hex:    r.Interp.Hex,
			Signed: r.Interp.Signed,
			Float: FloatEntry{
				TempCDiv10:       r.Interp.Float.Scaled,
				TempCDiv100:      r.Interp.Float.Centi,
				PressureBarDiv10: r.Interp.Float.Scaled,
				Percentage:       r.Interp.Float.Percent,
				Plausible:        r.Interp.Float.Plausible,
				UnitGuess:        r.Interp.Float.UnitGuess,
			},
		}
	}
	return entries
}

func bitEntries(snap *scan.Snapshot, space scan.Space) map[string]bool {
	entries := make(map[string]bool, len(snap.Spaces[space]))
	for _, addr := range snap.Addresses(space) {
		r, _ := snap.Reading(space, addr)
		entries[strconv.Itoa(addr)] = r.Bit
	}
	return entries
}

// Import reconstructs a snapshot (and the volatility map, when the artifact
// carries one) from an exported document. Interpretations are re-derived from
// the raw values, so every candidate field is present after a round trip.
func Import(path string) (*scan.Snapshot, map[scan.AddressKey]scan.Volatility, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return Decode(&doc)
}

// Decode turns a document back into a snapshot. Per-reading timestamps are
// not part of the artifact; they are restored as the scan timestamp.
func Decode(doc *Document) (*scan.Snapshot, map[scan.AddressKey]scan.Volatility, error) {
	ts, err := time.Parse(infoTimestampForm, doc.ScanInfo.Timestamp)
	if err != nil {
		return nil, nil, fmt.Errorf("parse scan timestamp: %w", err)
	}
	meta := scan.ScanInfo{
		Timestamp: ts,
		Host:      doc.ScanInfo.Host,
		Port:      doc.ScanInfo.Port,
		UnitID:    doc.ScanInfo.UnitID,
	}
	for _, r := range doc.ScanInfo.Ranges {
		meta.Ranges = append(meta.Ranges, scan.AddressRange{
			Space: scan.Space(r.Space),
			Start: r.Start,
			End:   r.End,
		})
	}

	snap := scan.NewSnapshot(meta)
	if err := decodeRegisters(snap, scan.SpaceHolding, doc.HoldingRegisters, ts); err != nil {
		return nil, nil, err
	}
	if err := decodeRegisters(snap, scan.SpaceInput, doc.InputRegisters, ts); err != nil {
		return nil, nil, err
	}
	if err := decodeBits(snap, scan.SpaceCoil, doc.Coils, ts); err != nil {
		return nil, nil, err
	}
	if err := decodeBits(snap, scan.SpaceDiscrete, doc.DiscreteInputs, ts); err != nil {
		return nil, nil, err
	}

	var vol map[scan.AddressKey]scan.Volatility
	if len(doc.Volatility) > 0 {
		vol = make(map[scan.AddressKey]scan.Volatility, len(doc.Volatility))
		for key, entry := range doc.Volatility {
			parts := strings.SplitN(key, "/", 2)
			if len(parts) != 2 {
				return nil, nil, fmt.Errorf("malformed volatility key %q", key)
			}
			addr, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, nil, fmt.Errorf("malformed volatility key %q: %w", key, err)
			}
			vol[scan.AddressKey{Space: scan.Space(parts[0]), Address: addr}] = scan.Volatility{
				Kind:    scan.VolatilityKind(entry.Kind),
				Changes: entry.Changes,
				Samples: entry.Samples,
			}
		}
	}
	return snap, vol, nil
}

func decodeRegisters(snap *scan.Snapshot, space scan.Space, entries map[string]RegisterEntry, ts time.Time) error {
	for key, entry := range entries {
		addr, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("malformed %s address %q: %w", space, key, err)
		}
		if err := snap.Restore(space, addr, int(entry.Value), false, ts); err != nil {
			return err
		}
	}
	return nil
}

func decodeBits(snap *scan.Snapshot, space scan.Space, entries map[string]bool, ts time.Time) error {
	for key, bit := range entries {
		addr, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("malformed %s address %q: %w", space, key, err)
		}
		raw := 0
		if bit {
			raw = 1
		}
		if err := snap.Restore(space, addr, raw, bit, ts); err != nil {
			return err
		}
	}
	return nil
}
