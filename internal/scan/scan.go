// Package scan implements the register-space discovery engine: it slices
// address ranges into batched Modbus reads, derives candidate interpretations
// for every raw value and accounts for every requested address as either a
// reading or a recorded failure.
package scan

import (
	"errors"
	"fmt"
)

// Space identifies one of the four Modbus object spaces.
type Space string

const (
	// SpaceHolding addresses read/write 16-bit holding registers.
	SpaceHolding Space = "holding_registers"
	// SpaceInput addresses read-only 16-bit input registers.
	SpaceInput Space = "input_registers"
	// SpaceCoil addresses read/write single bits.
	SpaceCoil Space = "coils"
	// SpaceDiscrete addresses read-only single bits.
	SpaceDiscrete Space = "discrete_inputs"
)

// Spaces lists all object spaces in scan order.
var Spaces = []Space{SpaceHolding, SpaceInput, SpaceCoil, SpaceDiscrete}

// Bits reports whether the space holds single-bit values.
func (s Space) Bits() bool {
	return s == SpaceCoil || s == SpaceDiscrete
}

// Valid reports whether the space is one of the four known object spaces.
func (s Space) Valid() bool {
	switch s {
	case SpaceHolding, SpaceInput, SpaceCoil, SpaceDiscrete:
		return true
	}
	return false
}

// AddressRange is a half-open address interval [Start, End) within one object
// space. It is immutable once handed to the scanner.
type AddressRange struct {
	Space Space
	Start int
	End   int
}

// Width returns the number of addresses covered by the range.
func (r AddressRange) Width() int {
	return r.End - r.Start
}

func (r AddressRange) validate() error {
	if !r.Space.Valid() {
		return fmt.Errorf("%w: unknown object space %q", ErrInvalidConfiguration, string(r.Space))
	}
	if r.Start < 0 {
		return fmt.Errorf("%w: range start %d must not be negative", ErrInvalidConfiguration, r.Start)
	}
	if r.End < r.Start {
		return fmt.Errorf("%w: range end %d before start %d", ErrInvalidConfiguration, r.End, r.Start)
	}
	if r.End > addressSpaceSize {
		return fmt.Errorf("%w: range end %d exceeds address space", ErrInvalidConfiguration, r.End)
	}
	return nil
}

// AddressKey identifies a single address within one object space.
type AddressKey struct {
	Space   Space
	Address int
}

func (k AddressKey) String() string {
	return fmt.Sprintf("%s/%d", k.Space, k.Address)
}

const addressSpaceSize = 65536

// ErrInvalidConfiguration marks configuration errors that are reported before
// any scanning starts.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ErrInvalidRawValue marks a decoding invariant violation. It indicates a bug
// in the transport layer and terminates the operation.
var ErrInvalidRawValue = errors.New("invalid raw value")
