package adbusb

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/webadb/usbadb/adb/adbwire"
)

// mockDevice scripts IN transfers and records everything else.
type mockDevice struct {
	cfgs []Configuration

	claimErr error

	calls []string // claim/release/select/clear-halt calls in order

	outs    [][]byte // recorded OUT transfers
	outErrs []error  // scripted errors for the next OUT transfers (nil = ok)

	ins    [][]byte // scripted IN transfers
	inErrs []error

	disc chan struct{}
}

var _ Device = (*mockDevice)(nil)

func adbConfig(inMPS, outMPS uint16) []Configuration {
	return []Configuration{{
		Value: 1,
		Interfaces: []Interface{
			{Number: 0, Class: 0x08, Subclass: 0x06, Protocol: 0x50, Endpoints: []Endpoint{
				{Address: 0x82, Attributes: EndpointTypeBulk, MaxPacketSize: 512},
				{Address: 0x02, Attributes: EndpointTypeBulk, MaxPacketSize: 512},
			}},
			{Number: 1, Class: ADBClass, Subclass: ADBSubclass, Protocol: ADBProtocol, Endpoints: []Endpoint{
				{Address: 0x81, Attributes: EndpointTypeBulk, MaxPacketSize: inMPS},
				{Address: 0x01, Attributes: EndpointTypeBulk, MaxPacketSize: outMPS},
			}},
		},
	}}
}

func (d *mockDevice) Open() error  { return nil }
func (d *mockDevice) Close() error { d.calls = append(d.calls, "close"); return nil }

func (d *mockDevice) Configurations() ([]Configuration, error) { return d.cfgs, nil }
func (d *mockDevice) ActiveConfiguration() (uint8, error)      { return 0, nil }
func (d *mockDevice) SelectConfiguration(value uint8) error {
	d.calls = append(d.calls, "select-config")
	return nil
}

func (d *mockDevice) ClaimInterface(num uint8) error {
	d.calls = append(d.calls, "claim")
	return d.claimErr
}

func (d *mockDevice) ReleaseInterface(num uint8) error {
	d.calls = append(d.calls, "release")
	return nil
}

func (d *mockDevice) SelectAlternate(num, alt uint8) error {
	d.calls = append(d.calls, "select-alt")
	return nil
}

func (d *mockDevice) ClearHalt(address uint8) error {
	d.calls = append(d.calls, "clear-halt")
	return nil
}

func (d *mockDevice) TransferIn(address uint8, length int) ([]byte, error) {
	if len(d.inErrs) != 0 {
		err := d.inErrs[0]
		d.inErrs = d.inErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(d.ins) == 0 {
		return nil, ErrDisconnected
	}
	buf := d.ins[0]
	d.ins = d.ins[1:]
	if len(buf) > length {
		buf = buf[:length]
	}
	return buf, nil
}

func (d *mockDevice) TransferOut(address uint8, data []byte) (int, error) {
	if len(d.outErrs) != 0 {
		err := d.outErrs[0]
		d.outErrs = d.outErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	d.outs = append(d.outs, bytes.Clone(data))
	return len(data), nil
}

func (d *mockDevice) Disconnected() <-chan struct{} {
	if d.disc == nil {
		d.disc = make(chan struct{})
	}
	return d.disc
}

func TestClaim(t *testing.T) {
	d := &mockDevice{cfgs: adbConfig(512, 512)}
	c, err := Claim(d)
	if err != nil {
		t.Fatal(err)
	}
	if c.InEndpoint().Address != 0x81 || c.OutEndpoint().Address != 0x01 {
		t.Errorf("wrong endpoints: in=%02X out=%02X", c.InEndpoint().Address, c.OutEndpoint().Address)
	}
	// active config 0 != 1, so the config must be selected before the claim,
	// then both endpoints get a best-effort clear-halt
	exp := []string{"select-config", "claim", "clear-halt", "clear-halt"}
	if len(d.calls) != len(exp) {
		t.Fatalf("calls: %v", d.calls)
	}
	for i := range exp {
		if d.calls[i] != exp[i] {
			t.Fatalf("calls: %v, expected %v", d.calls, exp)
		}
	}
}

func TestClaimNoInterface(t *testing.T) {
	for _, cfgs := range [][]Configuration{
		nil,
		{{Value: 1, Interfaces: []Interface{{Class: 0x08, Subclass: 0x06, Protocol: 0x50}}}},
		// matching class triple but no bulk IN endpoint
		{{Value: 1, Interfaces: []Interface{{
			Class: ADBClass, Subclass: ADBSubclass, Protocol: ADBProtocol,
			Endpoints: []Endpoint{{Address: 0x01, Attributes: EndpointTypeBulk, MaxPacketSize: 512}},
		}}}},
	} {
		if _, err := Claim(&mockDevice{cfgs: cfgs}); !errors.Is(err, ErrNoADBInterface) {
			t.Errorf("expected ErrNoADBInterface, got %v", err)
		}
	}
}

func TestClaimBusy(t *testing.T) {
	d := &mockDevice{cfgs: adbConfig(512, 512), claimErr: ErrBusy}
	if _, err := Claim(d); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func sendPacket(t *testing.T, c *Conn, cmd adbwire.Command, arg0, arg1 uint32, payload []byte) {
	t.Helper()
	pkt, err := adbwire.NewPacket(cmd, arg0, arg1, payload, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SendPacket(pkt); err != nil {
		t.Fatal(err)
	}
}

func TestSendZeroLengthPacketRule(t *testing.T) {
	// out endpoint max packet size 64
	d := &mockDevice{cfgs: adbConfig(512, 64)}
	c, err := Claim(d)
	if err != nil {
		t.Fatal(err)
	}

	// 64-byte payload: header, payload, then a terminating empty transfer
	d.outs = nil
	sendPacket(t, c, adbwire.A_WRTE, 1, 2, bytes.Repeat([]byte{0xAA}, 64))
	if lens := transferLens(d.outs); !slices.Equal(lens, []int{24, 64, 0}) {
		t.Errorf("64-byte payload transfers: %v", lens)
	}

	// 63-byte payload: no terminator
	d.outs = nil
	sendPacket(t, c, adbwire.A_WRTE, 1, 2, bytes.Repeat([]byte{0xAA}, 63))
	if lens := transferLens(d.outs); !slices.Equal(lens, []int{24, 63}) {
		t.Errorf("63-byte payload transfers: %v", lens)
	}

	// 128-byte payload is still one transfer plus the terminator
	d.outs = nil
	sendPacket(t, c, adbwire.A_WRTE, 1, 2, bytes.Repeat([]byte{0xAA}, 128))
	if lens := transferLens(d.outs); !slices.Equal(lens, []int{24, 128, 0}) {
		t.Errorf("128-byte payload transfers: %v", lens)
	}

	// control frame: just the header
	d.outs = nil
	sendPacket(t, c, adbwire.A_OKAY, 1, 2, nil)
	if lens := transferLens(d.outs); !slices.Equal(lens, []int{24}) {
		t.Errorf("control frame transfers: %v", lens)
	}
}

func TestSendHeaderZeroLengthPacket(t *testing.T) {
	// a 24-byte max packet size makes the header itself need a terminator
	d := &mockDevice{cfgs: adbConfig(512, 24)}
	c, err := Claim(d)
	if err != nil {
		t.Fatal(err)
	}
	d.outs = nil
	sendPacket(t, c, adbwire.A_OKAY, 1, 2, nil)
	if lens := transferLens(d.outs); !slices.Equal(lens, []int{24, 0}) {
		t.Errorf("header transfers: %v", lens)
	}
}

func TestSendRetryAfterTransient(t *testing.T) {
	d := &mockDevice{cfgs: adbConfig(512, 512)}
	c, err := Claim(d)
	if err != nil {
		t.Fatal(err)
	}

	d.calls = nil
	d.outs = nil
	d.outErrs = []error{&TransientError{errors.New("stall")}}
	sendPacket(t, c, adbwire.A_WRTE, 1, 2, []byte("hi"))

	// the halt is cleared and the whole packet resent
	if !slices.Equal(d.calls, []string{"clear-halt"}) {
		t.Errorf("calls: %v", d.calls)
	}
	if lens := transferLens(d.outs); !slices.Equal(lens, []int{24, 2}) {
		t.Errorf("transfers after retry: %v", lens)
	}
}

func TestSendRetryOnlyOnce(t *testing.T) {
	d := &mockDevice{cfgs: adbConfig(512, 512)}
	c, err := Claim(d)
	if err != nil {
		t.Fatal(err)
	}

	d.outErrs = []error{
		&TransientError{errors.New("stall")},
		&TransientError{errors.New("stall")},
	}
	pkt, _ := adbwire.NewPacket(adbwire.A_WRTE, 1, 2, []byte("hi"), 0)
	if err := c.SendPacket(pkt); !IsTransient(err) {
		t.Errorf("expected a transient error after the failed retry, got %v", err)
	}
}

func TestRecvResync(t *testing.T) {
	d := &mockDevice{cfgs: adbConfig(512, 512)}
	c, err := Claim(d)
	if err != nil {
		t.Fatal(err)
	}

	good, _ := adbwire.NewPacket(adbwire.A_WRTE, 7, 1, []byte("hi\n"), 0)
	hdr, _ := good.Message.MarshalBinary()

	bad := bytes.Clone(hdr)
	bad[20] ^= 0xFF // corrupt the magic

	d.ins = [][]byte{
		{0x01, 0x02, 0x03}, // short read: dropped
		bad,                // invalid magic: dropped silently
		hdr,
		[]byte("hi\n"),
	}

	pkt, err := c.RecvPacket()
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Command != adbwire.A_WRTE || !bytes.Equal(pkt.Payload, []byte("hi\n")) {
		t.Errorf("got %+v", pkt)
	}
}

func TestRecvSplitPayload(t *testing.T) {
	d := &mockDevice{cfgs: adbConfig(512, 512)}
	c, err := Claim(d)
	if err != nil {
		t.Fatal(err)
	}

	good, _ := adbwire.NewPacket(adbwire.A_WRTE, 7, 1, []byte("hello world"), 0)
	hdr, _ := good.Message.MarshalBinary()
	d.ins = [][]byte{hdr, []byte("hello "), []byte("world")}

	pkt, err := c.RecvPacket()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pkt.Payload, []byte("hello world")) {
		t.Errorf("payload: %q", pkt.Payload)
	}
}

func transferLens(outs [][]byte) []int {
	lens := make([]int, len(outs))
	for i, b := range outs {
		lens[i] = len(b)
	}
	return lens
}
