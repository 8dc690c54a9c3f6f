package device

import (
	"gophernel/kernel"
	"io"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Any log output produced
	// while initializing is written to the supplied io.Writer.
	DriverInit(io.Writer) *kernel.Error
}
