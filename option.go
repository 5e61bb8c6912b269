package bthost

import (
	"time"
)

// DeviceOption is an interface which the device should implement to allow using configuration options
type DeviceOption interface {
	SetInquiryMode(mode string) error
	SetLocalName(name string) error
	SetLEConnectTimeout(time.Duration) error
	SetErrorHandler(handler func(error)) error
	SetPeerStore(path string) error

	SetTransportHCISocket(id int) error
	SetTransportH4Socket(addr string, timeout time.Duration) error
	SetTransportH4Uart(path string) error
}

// An Option is a configuration function, which configures the device.
type Option func(DeviceOption) error

// OptInquiryMode selects the inquiry result format requested from the
// controller: "standard", "rssi" or "extended".
func OptInquiryMode(mode string) Option {
	return func(opt DeviceOption) error {
		return opt.SetInquiryMode(mode)
	}
}

// OptLocalName sets the BR/EDR local name written during initialization.
func OptLocalName(name string) Option {
	return func(opt DeviceOption) error {
		return opt.SetLocalName(name)
	}
}

// OptLEConnectTimeout overrides the LE create connection timeout.
func OptLEConnectTimeout(d time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetLEConnectTimeout(d)
	}
}

// OptErrorHandler sets error handler
func OptErrorHandler(handler func(error)) Option {
	return func(opt DeviceOption) error {
		return opt.SetErrorHandler(handler)
	}
}

// OptPeerStore persists discovered peers and bonds to the given file.
func OptPeerStore(path string) Option {
	return func(opt DeviceOption) error {
		return opt.SetPeerStore(path)
	}
}

// OptTransportHCISocket set hci socket transport
func OptTransportHCISocket(id int) Option {
	return func(opt DeviceOption) error {
		return opt.SetTransportHCISocket(id)
	}
}

// OptTransportH4Socket set h4 socket transport
func OptTransportH4Socket(addr string, timeout time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetTransportH4Socket(addr, timeout)
	}
}

// OptTransportH4Uart set h4 uart transport
func OptTransportH4Uart(path string) Option {
	return func(opt DeviceOption) error {
		return opt.SetTransportH4Uart(path)
	}
}
