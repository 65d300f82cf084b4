//go:build !linux

package adbusb

import "errors"

// FindDevices is only implemented over usbfs on Linux; other platforms
// supply their own [Device] implementation and discovery.
func FindDevices() ([]string, error) {
	return nil, errors.ErrUnsupported
}

// OpenUsbfs is only implemented on Linux.
func OpenUsbfs(path string) (Device, error) {
	return nil, errors.ErrUnsupported
}
