package remote

import (
	"errors"
	"net"

	"github.com/goburrow/modbus"
)

// FailureKind sorts transport failures into the families the scan engine
// handles differently: timeouts and connection errors are retried and
// narrowed, device exceptions are recorded immediately.
type FailureKind string

const (
	// FailureTimeout means the device did not answer within the deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureDeviceException means the device explicitly rejected the request.
	FailureDeviceException FailureKind = "device_exception"
	// FailureConnection covers link-level errors such as an unreachable host
	// or a dropped connection.
	FailureConnection FailureKind = "connection"
)

// Failure is a classified transport error.
type Failure struct {
	Kind          FailureKind
	ExceptionCode byte
	Err           error
}

func (f Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}

// Unwrap exposes the underlying transport error.
func (f Failure) Unwrap() error {
	return f.Err
}

// Classify sorts a transport error into its failure kind. Protocol-level
// exception responses carry the device's exception code.
func Classify(err error) Failure {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return Failure{Kind: FailureDeviceException, ExceptionCode: mbErr.ExceptionCode, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Failure{Kind: FailureTimeout, Err: err}
	}
	return Failure{Kind: FailureConnection, Err: err}
}
