// Package adbusb carries ADB packets over a USB bulk endpoint pair.
//
// The package is split in two: a small [Device] interface describing what it
// needs from a USB host stack, and the transport built on top of it
// (interface claiming, packet framing, the zero-length-packet rule, and
// transfer error recovery). A Linux usbfs implementation of [Device] is
// provided; other platforms supply their own.
package adbusb

import (
	"errors"
	"fmt"
)

// ADB interface descriptor match (USB class codes).
const (
	ADBClass    = 0xFF
	ADBSubclass = 0x42
	ADBProtocol = 0x01
)

// Endpoint direction and attribute masks (USB 2.0 Spec §9.6.6).
const (
	EndpointDirectionOut = 0x00 // host to device
	EndpointDirectionIn  = 0x80 // device to host
	EndpointTypeBulk     = 0x02
)

// Errors which can be tested with [errors.Is].
var (
	ErrNoADBInterface = errors.New("no adb interface")    // no alt setting matches 0xFF/0x42/0x01 with an IN+OUT bulk pair
	ErrBusy           = errors.New("adb interface busy")  // another process holds the interface (usually a local adb server)
	ErrDisconnected   = errors.New("device disconnected") // the device went away
)

// TransientError wraps a transfer error which may be recovered by a
// clear-halt and retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient transfer error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if err is a recoverable transfer error.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Endpoint describes a USB endpoint.
type Endpoint struct {
	Address       uint8  // endpoint number with the direction bit
	Attributes    uint8  // transfer type bits
	MaxPacketSize uint16 // max packet size for the active speed
}

// Number returns the endpoint number without the direction bit.
func (e Endpoint) Number() uint8 {
	return e.Address &^ EndpointDirectionIn
}

// In returns true for a device-to-host endpoint.
func (e Endpoint) In() bool {
	return e.Address&EndpointDirectionIn != 0
}

// IsBulk returns true for a bulk endpoint.
func (e Endpoint) IsBulk() bool {
	return e.Attributes&0x03 == EndpointTypeBulk
}

// Interface describes one alternate setting of a USB interface.
type Interface struct {
	Number    uint8
	Alternate uint8
	Class     uint8
	Subclass  uint8
	Protocol  uint8
	Endpoints []Endpoint
}

// IsADB returns true if this alternate setting is an ADB function.
func (i Interface) IsADB() bool {
	return i.Class == ADBClass && i.Subclass == ADBSubclass && i.Protocol == ADBProtocol
}

// Configuration describes a USB configuration and its alternate settings.
type Configuration struct {
	Value      uint8
	Interfaces []Interface
}

// Device is the USB host collaborator. Implementations map these operations
// onto whatever host stack is available (usbfs on Linux, WebUSB in a
// browser, ...).
//
// Transfer errors are classified by wrapping: a [*TransientError] for
// conditions a clear-halt may recover (stalls), and an error matching
// [ErrDisconnected] once the device is gone.
type Device interface {
	// Open opens the device for I/O.
	Open() error
	// Close releases the device. It is safe to call more than once.
	Close() error

	// Configurations returns the device's configuration descriptors.
	Configurations() ([]Configuration, error)
	// ActiveConfiguration returns the bConfigurationValue of the active
	// configuration, or 0 if the device is unconfigured.
	ActiveConfiguration() (uint8, error)
	// SelectConfiguration activates a configuration.
	SelectConfiguration(value uint8) error

	// ClaimInterface claims an interface for exclusive use, failing with an
	// error matching [ErrBusy] if another driver or process holds it.
	ClaimInterface(num uint8) error
	// ReleaseInterface releases a claimed interface.
	ReleaseInterface(num uint8) error
	// SelectAlternate activates an alternate setting of a claimed interface.
	SelectAlternate(num, alt uint8) error

	// ClearHalt clears a halt/stall condition on an endpoint address.
	ClearHalt(address uint8) error

	// TransferIn reads up to length bytes from an IN endpoint.
	TransferIn(address uint8, length int) ([]byte, error)
	// TransferOut writes data to an OUT endpoint. A zero-length data slice
	// sends a zero-length packet.
	TransferOut(address uint8, data []byte) (int, error)

	// Disconnected returns a channel which is closed when the device is
	// unplugged. It is used only to trigger a disconnect.
	Disconnected() <-chan struct{}
}
