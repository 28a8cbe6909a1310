package scan

import (
	"sort"
	"time"

	"github.com/timzifer/regscout/remote"
)

// ScanInfo records where and when a snapshot was taken.
type ScanInfo struct {
	Timestamp time.Time
	Host      string
	Port      int
	UnitID    uint8
	Ranges    []AddressRange
}

// RawReading is one successfully read address together with its candidate
// interpretations.
type RawReading struct {
	Space     Space
	Address   int
	Raw       uint16
	Bit       bool
	Timestamp time.Time
	Interp    Interpretation
}

// Key returns the address key of the reading.
func (r RawReading) Key() AddressKey {
	return AddressKey{Space: r.Space, Address: r.Address}
}

// FailureRecord accounts for an address the scan could not read. It is kept
// outside the snapshot so a partial scan remains a valid result.
type FailureRecord struct {
	Space         Space
	Address       int
	Kind          remote.FailureKind
	ExceptionCode byte
	Attempts      int
}

// Key returns the address key of the failed address.
func (f FailureRecord) Key() AddressKey {
	return AddressKey{Space: f.Space, Address: f.Address}
}

// Snapshot is the observable state collected by one scan pass. Every address
// present holds a successful reading; it is immutable once returned by Scan.
type Snapshot struct {
	Meta   ScanInfo
	Spaces map[Space]map[int]RawReading
}

// NewSnapshot creates an empty snapshot for the given scan metadata.
func NewSnapshot(meta ScanInfo) *Snapshot {
	spaces := make(map[Space]map[int]RawReading, len(Spaces))
	for _, space := range Spaces {
		spaces[space] = make(map[int]RawReading)
	}
	return &Snapshot{Meta: meta, Spaces: spaces}
}

func (s *Snapshot) insert(r RawReading) {
	readings, ok := s.Spaces[r.Space]
	if !ok {
		readings = make(map[int]RawReading)
		s.Spaces[r.Space] = readings
	}
	readings[r.Address] = r
}

// Restore inserts a reading rebuilt from a raw value, re-deriving its
// interpretations. It is used when reconstructing a snapshot from an export
// artifact.
func (s *Snapshot) Restore(space Space, address, raw int, bit bool, ts time.Time) error {
	interp, err := Interpret(space, raw, bit)
	if err != nil {
		return err
	}
	s.insert(RawReading{
		Space:     space,
		Address:   address,
		Raw:       uint16(raw),
		Bit:       bit,
		Timestamp: ts,
		Interp:    interp,
	})
	return nil
}

// Reading returns the reading stored for the address, if any.
func (s *Snapshot) Reading(space Space, address int) (RawReading, bool) {
	r, ok := s.Spaces[space][address]
	return r, ok
}

// Addresses returns the addresses recorded for a space in ascending order.
func (s *Snapshot) Addresses(space Space) []int {
	readings := s.Spaces[space]
	addrs := make([]int, 0, len(readings))
	for addr := range readings {
		addrs = append(addrs, addr)
	}
	sort.Ints(addrs)
	return addrs
}

// Len returns the total number of readings across all spaces.
func (s *Snapshot) Len() int {
	total := 0
	for _, readings := range s.Spaces {
		total += len(readings)
	}
	return total
}
