package scan

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FloatInterpretation carries the decimal-scaled candidate readings of a raw
// register value. Scaled divides by ten, Centi by one hundred; Percent is only
// present while the raw value stays within a percentage-times-hundred range.
// Plausible flags a Scaled magnitude that would pass as a temperature or
// pressure on HVAC equipment.
type FloatInterpretation struct {
	Scaled    float64
	Divisor   float64
	UnitGuess string
	Plausible bool
	Centi     float64
	Percent   *float64
}

// Interpretation is the full candidate set derived from one raw value. All
// variants are computed unconditionally; none is authoritative. Bool is only
// set for the single-bit object spaces.
type Interpretation struct {
	Hex    string
	Signed int16
	Float  FloatInterpretation
	Bool   *bool
}

const (
	plausibleMin = -50.0
	plausibleMax = 150.0

	percentRawMax = 10000
)

// Interpret derives every candidate reading for a raw value. The raw value
// must fit an unsigned 16-bit register; anything else means the transport
// decoded garbage and fails with ErrInvalidRawValue.
func Interpret(space Space, raw int, bit bool) (Interpretation, error) {
	if raw < 0 || raw >= addressSpaceSize {
		return Interpretation{}, fmt.Errorf("%w: %d outside unsigned 16-bit range", ErrInvalidRawValue, raw)
	}

	scaled := decimal.New(int64(raw), -1)
	centi := decimal.New(int64(raw), -2)

	interp := Interpretation{
		Hex:    fmt.Sprintf("0x%04X", raw),
		Signed: int16(raw),
		Float: FloatInterpretation{
			Scaled:  scaled.InexactFloat64(),
			Divisor: 10,
			Centi:   centi.InexactFloat64(),
		},
	}

	// Plausibility is judged on the signed scaling so sub-zero temperatures
	// (raw values near 65535) are still recognised.
	signedScaled := decimal.New(int64(interp.Signed), -1).InexactFloat64()
	if signedScaled >= plausibleMin && signedScaled <= plausibleMax {
		interp.Float.Plausible = true
		interp.Float.UnitGuess = "°C"
	}
	if raw <= percentRawMax {
		pct := centi.InexactFloat64()
		interp.Float.Percent = &pct
	}
	if space.Bits() {
		b := bit
		interp.Bool = &b
	}
	return interp, nil
}
