//go:build linux

package adbusb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// usbfs ioctl codes (linux/usbdevice_fs.h, 64-bit).
const (
	usbdevfsControl          = 0xc0185500
	usbdevfsBulk             = 0xc0185502
	usbdevfsSetInterface     = 0x80085504
	usbdevfsSetConfiguration = 0x80045505
	usbdevfsClaimInterface   = 0x8004550f
	usbdevfsReleaseInterface = 0x80045510
	usbdevfsClearHalt        = 0x80045515
)

type usbdevfsCtrlTransfer struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
	Timeout     uint32
	_           uint32
	Data        unsafe.Pointer
}

type usbdevfsBulkTransfer struct {
	Endpoint uint32
	Length   uint32
	Timeout  uint32
	_        uint32
	Data     unsafe.Pointer
}

// UsbfsDevice implements [Device] over a /dev/bus/usb device node.
type UsbfsDevice struct {
	Path string

	mu   sync.Mutex
	fd   int
	open bool

	cfgs []Configuration

	discOnce sync.Once
	disc     chan struct{}
}

var _ Device = (*UsbfsDevice)(nil)

// OpenUsbfs opens a usbfs device node and parses its descriptors.
func OpenUsbfs(path string) (*UsbfsDevice, error) {
	d := &UsbfsDevice{Path: path, fd: -1, disc: make(chan struct{})}
	if err := d.Open(); err != nil {
		return nil, err
	}
	return d, nil
}

// Open implements [Device].
func (d *UsbfsDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil
	}
	fd, err := unix.Open(d.Path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.Path, err)
	}
	d.fd = fd
	d.open = true

	// the device node contains the device descriptor followed by the raw
	// configuration descriptors
	raw, err := readDescriptors(fd)
	if err != nil {
		unix.Close(fd)
		d.fd, d.open = -1, false
		return fmt.Errorf("read descriptors from %s: %w", d.Path, err)
	}
	d.cfgs, err = parseConfigurations(raw)
	if err != nil {
		unix.Close(fd)
		d.fd, d.open = -1, false
		return fmt.Errorf("parse descriptors from %s: %w", d.Path, err)
	}
	return nil
}

// Close implements [Device].
func (d *UsbfsDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.open = false
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

// Configurations implements [Device].
func (d *UsbfsDevice) Configurations() ([]Configuration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, os.ErrClosed
	}
	return d.cfgs, nil
}

// ActiveConfiguration implements [Device] with a GET_CONFIGURATION control
// transfer.
func (d *UsbfsDevice) ActiveConfiguration() (uint8, error) {
	var value [1]byte
	ctrl := usbdevfsCtrlTransfer{
		RequestType: 0x80, // device-to-host, standard, device
		Request:     0x08, // GET_CONFIGURATION
		Length:      1,
		Timeout:     1000,
		Data:        unsafe.Pointer(&value[0]),
	}
	if _, err := d.ioctl(usbdevfsControl, unsafe.Pointer(&ctrl)); err != nil {
		return 0, err
	}
	return value[0], nil
}

// SelectConfiguration implements [Device].
func (d *UsbfsDevice) SelectConfiguration(value uint8) error {
	v := uint32(value)
	_, err := d.ioctl(usbdevfsSetConfiguration, unsafe.Pointer(&v))
	return err
}

// ClaimInterface implements [Device].
func (d *UsbfsDevice) ClaimInterface(num uint8) error {
	v := uint32(num)
	_, err := d.ioctl(usbdevfsClaimInterface, unsafe.Pointer(&v))
	return err
}

// ReleaseInterface implements [Device].
func (d *UsbfsDevice) ReleaseInterface(num uint8) error {
	v := uint32(num)
	_, err := d.ioctl(usbdevfsReleaseInterface, unsafe.Pointer(&v))
	return err
}

// SelectAlternate implements [Device].
func (d *UsbfsDevice) SelectAlternate(num, alt uint8) error {
	v := struct{ Interface, Alternate uint32 }{uint32(num), uint32(alt)}
	_, err := d.ioctl(usbdevfsSetInterface, unsafe.Pointer(&v))
	return err
}

// ClearHalt implements [Device].
func (d *UsbfsDevice) ClearHalt(address uint8) error {
	v := uint32(address)
	_, err := d.ioctl(usbdevfsClearHalt, unsafe.Pointer(&v))
	return err
}

// TransferIn implements [Device].
func (d *UsbfsDevice) TransferIn(address uint8, length int) ([]byte, error) {
	buf := make([]byte, length)
	bulk := usbdevfsBulkTransfer{
		Endpoint: uint32(address),
		Length:   uint32(length),
	}
	if length > 0 {
		bulk.Data = unsafe.Pointer(&buf[0])
	}
	n, err := d.ioctl(usbdevfsBulk, unsafe.Pointer(&bulk))
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// TransferOut implements [Device].
func (d *UsbfsDevice) TransferOut(address uint8, data []byte) (int, error) {
	bulk := usbdevfsBulkTransfer{
		Endpoint: uint32(address),
		Length:   uint32(len(data)),
	}
	if len(data) > 0 {
		bulk.Data = unsafe.Pointer(&data[0])
	}
	return d.ioctl(usbdevfsBulk, unsafe.Pointer(&bulk))
}

// Disconnected implements [Device].
func (d *UsbfsDevice) Disconnected() <-chan struct{} {
	return d.disc
}

// ioctl issues one usbfs ioctl and classifies the error.
func (d *UsbfsDevice) ioctl(req uintptr, arg unsafe.Pointer) (int, error) {
	d.mu.Lock()
	fd, open := d.fd, d.open
	d.mu.Unlock()
	if !open {
		return 0, os.ErrClosed
	}
	for {
		r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return 0, d.classify(errno)
		}
		return int(r), nil
	}
}

// classify maps usbfs errnos onto the transport error taxonomy.
func (d *UsbfsDevice) classify(errno unix.Errno) error {
	switch errno {
	case unix.ENODEV, unix.ESHUTDOWN:
		d.discOnce.Do(func() { close(d.disc) })
		return fmt.Errorf("%w: %v", ErrDisconnected, errno)
	case unix.EBUSY:
		return fmt.Errorf("%w: %v", ErrBusy, errno)
	case unix.EPIPE, unix.ETIMEDOUT, unix.EOVERFLOW, unix.EPROTO, unix.EILSEQ:
		return &TransientError{errno}
	}
	return errno
}

// readDescriptors reads the raw descriptor blob from an open usbfs fd.
func readDescriptors(fd int) ([]byte, error) {
	var raw []byte
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		if n == 0 {
			return raw, nil
		}
		raw = append(raw, buf[:n]...)
	}
}

// Standard descriptor types used by the walk (USB 2.0 Spec Table 9-5).
const (
	descriptorTypeDevice        = 0x01
	descriptorTypeConfiguration = 0x02
	descriptorTypeInterface     = 0x04
	descriptorTypeEndpoint      = 0x05
)

// parseConfigurations walks a device descriptor blob: the 18-byte device
// descriptor followed by each configuration's full descriptor hierarchy.
func parseConfigurations(raw []byte) ([]Configuration, error) {
	if len(raw) < 18 || raw[1] != descriptorTypeDevice {
		return nil, fmt.Errorf("missing device descriptor")
	}
	var cfgs []Configuration
	var cfg *Configuration
	var iface *Interface
	flush := func() {
		if iface != nil && cfg != nil {
			cfg.Interfaces = append(cfg.Interfaces, *iface)
		}
		iface = nil
	}
	for off := int(raw[0]); off+2 <= len(raw); {
		dlen, dtype := int(raw[off]), raw[off+1]
		if dlen < 2 || off+dlen > len(raw) {
			return nil, fmt.Errorf("truncated descriptor at offset %d", off)
		}
		desc := raw[off : off+dlen]
		switch dtype {
		case descriptorTypeConfiguration:
			if dlen < 9 {
				return nil, fmt.Errorf("short configuration descriptor")
			}
			flush()
			if cfg != nil {
				cfgs = append(cfgs, *cfg)
			}
			cfg = &Configuration{Value: desc[5]}
		case descriptorTypeInterface:
			if dlen < 9 || cfg == nil {
				return nil, fmt.Errorf("stray interface descriptor")
			}
			flush()
			iface = &Interface{
				Number:    desc[2],
				Alternate: desc[3],
				Class:     desc[5],
				Subclass:  desc[6],
				Protocol:  desc[7],
			}
		case descriptorTypeEndpoint:
			if dlen < 7 || iface == nil {
				break // class-specific or malformed; skip
			}
			iface.Endpoints = append(iface.Endpoints, Endpoint{
				Address:       desc[2],
				Attributes:    desc[3],
				MaxPacketSize: binary.LittleEndian.Uint16(desc[4:6]),
			})
		}
		off += dlen
	}
	flush()
	if cfg != nil {
		cfgs = append(cfgs, *cfg)
	}
	return cfgs, nil
}

// FindDevices scans /dev/bus/usb for devices exposing an ADB interface and
// returns their usbfs paths.
func FindDevices() ([]string, error) {
	var paths []string
	buses, err := filepath.Glob("/dev/bus/usb/*/*")
	if err != nil {
		return nil, err
	}
	for _, path := range buses {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			continue // no access or gone; not our problem
		}
		raw, err := readDescriptors(fd)
		unix.Close(fd)
		if err != nil {
			continue
		}
		cfgs, err := parseConfigurations(raw)
		if err != nil {
			continue
		}
		if _, _, ok := findADBInterface(cfgs); ok {
			paths = append(paths, path)
		}
	}
	return paths, nil
}
