package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/require"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "i/o timeout" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }

func TestClassifyDeviceException(t *testing.T) {
	err := &modbus.ModbusError{FunctionCode: 0x83, ExceptionCode: 2}
	failure := Classify(err)
	require.Equal(t, FailureDeviceException, failure.Kind)
	require.Equal(t, byte(2), failure.ExceptionCode)
	require.ErrorIs(t, failure, error(err))
}

func TestClassifyWrappedDeviceException(t *testing.T) {
	err := fmt.Errorf("read holding registers: %w", &modbus.ModbusError{FunctionCode: 0x84, ExceptionCode: 4})
	failure := Classify(err)
	require.Equal(t, FailureDeviceException, failure.Kind)
	require.Equal(t, byte(4), failure.ExceptionCode)
}

func TestClassifyTimeout(t *testing.T) {
	failure := Classify(fakeTimeout{})
	require.Equal(t, FailureTimeout, failure.Kind)
	require.Zero(t, failure.ExceptionCode)
}

func TestClassifyWrappedTimeout(t *testing.T) {
	failure := Classify(fmt.Errorf("window read: %w", fakeTimeout{}))
	require.Equal(t, FailureTimeout, failure.Kind)
}

func TestClassifyConnection(t *testing.T) {
	failure := Classify(errors.New("connection refused"))
	require.Equal(t, FailureConnection, failure.Kind)
	require.Equal(t, "connection refused", failure.Error())
}
