package adbusb

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/webadb/usbadb/adb/adbwire"
)

// settleDelay is how long to wait after selecting an alternate setting for
// the device to settle before resolving endpoints.
const settleDelay = 100 * time.Millisecond

// Conn is a packet-oriented duplex over the claimed ADB interface's bulk
// endpoint pair.
//
// Sends are serialised internally so a header and its payload are never
// interleaved with another packet. Receives must be issued from a single
// goroutine (the session read loop).
type Conn struct {
	dev   Device
	iface Interface
	in    Endpoint
	out   Endpoint

	wmu sync.Mutex
}

// Claim locates the ADB interface on dev and claims it.
//
// The device's active configuration is selected if it differs from the one
// containing the ADB interface, then the interface is claimed (failing with
// [ErrBusy] if some other process holds it, typically a running adb server),
// the alternate setting is selected if non-default, and both endpoints get a
// best-effort clear-halt.
func Claim(dev Device) (*Conn, error) {
	cfgs, err := dev.Configurations()
	if err != nil {
		return nil, fmt.Errorf("read configurations: %w", err)
	}

	cfg, iface, ok := findADBInterface(cfgs)
	if !ok {
		return nil, ErrNoADBInterface
	}

	if active, err := dev.ActiveConfiguration(); err != nil {
		return nil, fmt.Errorf("read active configuration: %w", err)
	} else if active != cfg.Value {
		if err := dev.SelectConfiguration(cfg.Value); err != nil {
			return nil, fmt.Errorf("select configuration %d: %w", cfg.Value, err)
		}
	}

	if err := dev.ClaimInterface(iface.Number); err != nil {
		if errors.Is(err, ErrBusy) {
			return nil, err
		}
		return nil, fmt.Errorf("claim interface %d: %w", iface.Number, err)
	}

	if iface.Alternate != 0 {
		if err := dev.SelectAlternate(iface.Number, iface.Alternate); err != nil {
			dev.ReleaseInterface(iface.Number)
			return nil, fmt.Errorf("select alternate %d: %w", iface.Alternate, err)
		}
		time.Sleep(settleDelay)
	}

	// resolve the endpoints from the now-active alternate setting
	in, out, ok := bulkPair(iface)
	if !ok {
		dev.ReleaseInterface(iface.Number)
		return nil, ErrNoADBInterface
	}

	// clear stale halts; errors here don't matter
	dev.ClearHalt(in.Address)
	dev.ClearHalt(out.Address)

	return &Conn{dev: dev, iface: iface, in: in, out: out}, nil
}

// findADBInterface returns the configuration and alternate setting matching
// the ADB class triple.
func findADBInterface(cfgs []Configuration) (Configuration, Interface, bool) {
	for _, cfg := range cfgs {
		for _, iface := range cfg.Interfaces {
			if iface.IsADB() {
				if _, _, ok := bulkPair(iface); ok {
					return cfg, iface, true
				}
			}
		}
	}
	return Configuration{}, Interface{}, false
}

// bulkPair resolves the IN and OUT bulk endpoints of an alternate setting.
// Exactly one of each is required.
func bulkPair(iface Interface) (in, out Endpoint, ok bool) {
	var nin, nout int
	for _, ep := range iface.Endpoints {
		if !ep.IsBulk() {
			continue
		}
		if ep.In() {
			in, nin = ep, nin+1
		} else {
			out, nout = ep, nout+1
		}
	}
	return in, out, nin == 1 && nout == 1
}

// InEndpoint returns the bulk IN endpoint.
func (c *Conn) InEndpoint() Endpoint { return c.in }

// OutEndpoint returns the bulk OUT endpoint.
func (c *Conn) OutEndpoint() Endpoint { return c.out }

// Device returns the underlying device.
func (c *Conn) Device() Device { return c.dev }

// SendPacket writes a packet as two transfers, header then payload. On a
// transient transfer error it clears the OUT endpoint halt and retries the
// whole packet once.
func (c *Conn) SendPacket(pkt adbwire.Packet) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	err := c.sendLocked(pkt)
	if err == nil || !IsTransient(err) {
		return err
	}

	if cherr := c.dev.ClearHalt(c.out.Address); cherr != nil {
		if errors.Is(cherr, ErrDisconnected) {
			return ErrDisconnected
		}
		return err
	}
	return c.sendLocked(pkt)
}

func (c *Conn) sendLocked(pkt adbwire.Packet) error {
	hdr, _ := pkt.Message.AppendBinary(nil)
	if err := c.transferOut(hdr); err != nil {
		return err
	}
	if pkt.DataLength != 0 {
		if err := c.transferOut(pkt.Payload); err != nil {
			return err
		}
	}
	return nil
}

// transferOut writes one transfer, followed by a zero-length packet when the
// length is a positive exact multiple of the OUT endpoint's max packet size.
// Without the terminator the device waits indefinitely for more data.
func (c *Conn) transferOut(data []byte) error {
	if _, err := c.dev.TransferOut(c.out.Address, data); err != nil {
		return err
	}
	if mps := int(c.out.MaxPacketSize); len(data) > 0 && len(data)%mps == 0 {
		if _, err := c.dev.TransferOut(c.out.Address, nil); err != nil {
			return err
		}
	}
	return nil
}

// RecvPacket reads the next valid packet. Reads that do not produce a
// 24-byte header, and headers whose magic does not match, are dropped and
// the read resynchronises on the next transfer.
func (c *Conn) RecvPacket() (adbwire.Packet, error) {
	for {
		buf, err := c.dev.TransferIn(c.in.Address, int(c.in.MaxPacketSize))
		if err != nil {
			return adbwire.Packet{}, err
		}
		if len(buf) != adbwire.MessageSize {
			continue // resynchronise
		}
		msg, ok := adbwire.DecodeMessage(buf)
		if !ok {
			continue // invalid magic; drop silently
		}
		pkt := adbwire.Packet{Message: msg}
		if msg.DataLength != 0 {
			pkt.Payload, err = c.recvPayload(int(msg.DataLength))
			if err != nil {
				return adbwire.Packet{}, err
			}
		}
		return pkt, nil
	}
}

// recvPayload reads exactly length payload bytes, requesting the declared
// remainder each transfer.
func (c *Conn) recvPayload(length int) ([]byte, error) {
	buf := make([]byte, 0, length)
	for len(buf) < length {
		chunk, err := c.dev.TransferIn(c.in.Address, length-len(buf))
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			continue
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

// Close releases the interface and closes the device. Errors from both are
// swallowed; by the time Close is called the device is often already gone.
func (c *Conn) Close() {
	c.dev.ReleaseInterface(c.iface.Number)
	c.dev.Close()
}
