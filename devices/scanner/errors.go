package scanner

import (
	"errors"
	"fmt"
)

var (
	// ErrScanFailed matches any DeviceError from a scan.
	ErrScanFailed = errors.New("scanner: scan failed")

	// ErrPrintFailed matches any DeviceError from a print.
	ErrPrintFailed = errors.New("scanner: print failed")
)

// Operation names a device step.
type Operation int

const (
	OpScan Operation = iota
	OpPrint
)

func (o Operation) String() string {
	switch o {
	case OpScan:
		return "scan"
	case OpPrint:
		return "print"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// DeviceError reports a failed device step.
type DeviceError struct {
	Op Operation
	// Target is the device name for scans and the file for prints
	Target string
	// ExitCode is the command's exit status, or -1 if it never ran to an exit
	ExitCode int
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s %q failed (exit %d): %v", e.Op, e.Target, e.ExitCode, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrScanFailed and ErrPrintFailed by operation.
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrScanFailed:
		return e.Op == OpScan
	case ErrPrintFailed:
		return e.Op == OpPrint
	}
	return false
}
