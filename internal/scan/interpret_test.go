package scan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpretTypicalTemperature(t *testing.T) {
	interp, err := Interpret(SpaceHolding, 270, false)
	require.NoError(t, err)

	require.Equal(t, "0x010E", interp.Hex)
	require.Equal(t, int16(270), interp.Signed)
	require.Equal(t, 27.0, interp.Float.Scaled)
	require.Equal(t, 10.0, interp.Float.Divisor)
	require.True(t, interp.Float.Plausible)
	require.NotEmpty(t, interp.Float.UnitGuess)
	require.Equal(t, 2.7, interp.Float.Centi)
	require.NotNil(t, interp.Float.Percent)
	require.Equal(t, 2.7, *interp.Float.Percent)
	require.Nil(t, interp.Bool)
}

func TestInterpretTwosComplement(t *testing.T) {
	interp, err := Interpret(SpaceInput, 65535, false)
	require.NoError(t, err)

	require.Equal(t, "0xFFFF", interp.Hex)
	require.Equal(t, int16(-1), interp.Signed)
	require.Equal(t, 6553.5, interp.Float.Scaled)
	// -0.1 on the signed scaling still reads as a plausible temperature.
	require.True(t, interp.Float.Plausible)
}

func TestInterpretImplausibleValue(t *testing.T) {
	interp, err := Interpret(SpaceHolding, 40000, false)
	require.NoError(t, err)

	require.Equal(t, int16(-25536), interp.Signed)
	require.False(t, interp.Float.Plausible)
	require.Empty(t, interp.Float.UnitGuess)
	require.Nil(t, interp.Float.Percent)
}

func TestInterpretPercentBoundary(t *testing.T) {
	interp, err := Interpret(SpaceHolding, 10000, false)
	require.NoError(t, err)
	require.NotNil(t, interp.Float.Percent)
	require.Equal(t, 100.0, *interp.Float.Percent)

	interp, err = Interpret(SpaceHolding, 10001, false)
	require.NoError(t, err)
	require.Nil(t, interp.Float.Percent)
}

func TestInterpretBitSpaces(t *testing.T) {
	interp, err := Interpret(SpaceCoil, 1, true)
	require.NoError(t, err)
	require.NotNil(t, interp.Bool)
	require.True(t, *interp.Bool)

	interp, err = Interpret(SpaceDiscrete, 0, false)
	require.NoError(t, err)
	require.NotNil(t, interp.Bool)
	require.False(t, *interp.Bool)

	interp, err = Interpret(SpaceHolding, 1, true)
	require.NoError(t, err)
	require.Nil(t, interp.Bool)
}

func TestInterpretRejectsOutOfRangeRaw(t *testing.T) {
	_, err := Interpret(SpaceHolding, -1, false)
	require.ErrorIs(t, err, ErrInvalidRawValue)

	_, err = Interpret(SpaceHolding, 65536, false)
	require.ErrorIs(t, err, ErrInvalidRawValue)
}
