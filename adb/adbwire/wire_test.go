package adbwire

import (
	"bytes"
	"errors"
	"testing"
)

var commands = []Command{A_CNXN, A_AUTH, A_OPEN, A_OKAY, A_WRTE, A_CLSE}

func TestCommandString(t *testing.T) {
	for cmd, tag := range map[Command]string{
		A_CNXN: "CNXN",
		A_AUTH: "AUTH",
		A_OPEN: "OPEN",
		A_OKAY: "OKAY",
		A_WRTE: "WRTE",
		A_CLSE: "CLSE",
	} {
		if act := cmd.String(); act != tag {
			t.Errorf("command %08X: expected %q, got %q", uint32(cmd), tag, act)
		}
		parsed, err := ParseCommand(tag)
		if err != nil {
			t.Fatalf("parse %q: %v", tag, err)
		}
		if parsed != cmd {
			t.Errorf("parse %q: expected %08X, got %08X", tag, uint32(cmd), uint32(parsed))
		}
	}
	if _, err := ParseCommand("TOOLONG"); err == nil {
		t.Errorf("expected error for bad tag length")
	}
}

func TestParseCommandRoundTrip(t *testing.T) {
	for _, tag := range []string{"CNXN", "sync", "ABCD", "zz99"} {
		cmd, err := ParseCommand(tag)
		if err != nil {
			t.Fatalf("parse %q: %v", tag, err)
		}
		if act := cmd.String(); act != tag {
			t.Errorf("round-trip %q: got %q", tag, act)
		}
	}
}

func TestChecksum(t *testing.T) {
	for _, tc := range []struct {
		payload []byte
		sum     uint32
	}{
		{nil, 0},
		{[]byte{0}, 0},
		{[]byte{1, 2, 3}, 6},
		{[]byte("hi\n"), uint32('h' + 'i' + '\n')},
		{bytes.Repeat([]byte{0xFF}, 1000), 255000},
	} {
		if act := Checksum(tc.payload); act != tc.sum {
			t.Errorf("checksum of %d bytes: expected %08X, got %08X", len(tc.payload), tc.sum, act)
		}
	}
}

func TestPacketRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x00},
		[]byte("shell:echo hi\x00"),
		bytes.Repeat([]byte{0xA5}, 512),
		bytes.Repeat([]byte{0x00, 0xFF}, MaxPayloadSize/2),
	}
	for _, cmd := range commands {
		for _, payload := range payloads {
			pkt, err := NewPacket(cmd, 0x1234, 0xDEADBEEF, payload, MaxPayloadSize)
			if err != nil {
				t.Fatalf("%s: encode: %v", cmd, err)
			}
			if !pkt.IsMagicValid() {
				t.Fatalf("%s: encoded magic invalid", cmd)
			}
			if exp := Checksum(payload); pkt.DataCheck != exp {
				t.Fatalf("%s: encoded checksum %08X, expected %08X", cmd, pkt.DataCheck, exp)
			}
			if pkt.DataLength != uint32(len(payload)) {
				t.Fatalf("%s: encoded length %d, expected %d", cmd, pkt.DataLength, len(payload))
			}

			buf, err := pkt.MarshalBinary()
			if err != nil {
				t.Fatalf("%s: marshal: %v", cmd, err)
			}
			if len(buf) != MessageSize+len(payload) {
				t.Fatalf("%s: marshalled size %d", cmd, len(buf))
			}

			msg, ok := DecodeMessage(buf[:MessageSize])
			if !ok {
				t.Fatalf("%s: decode rejected valid header", cmd)
			}
			if msg != pkt.Message {
				t.Fatalf("%s: decoded %+v, expected %+v", cmd, msg, pkt.Message)
			}
			if !bytes.Equal(buf[MessageSize:], payload) {
				t.Fatalf("%s: payload mangled", cmd)
			}
		}
	}
}

func TestDecodeMessageRejects(t *testing.T) {
	pkt, err := NewPacket(A_OKAY, 1, 2, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	buf, _ := pkt.MarshalBinary()

	if _, ok := DecodeMessage(buf[:23]); ok {
		t.Errorf("decode accepted short header")
	}
	if _, ok := DecodeMessage(append(buf, 0)); ok {
		t.Errorf("decode accepted long header")
	}

	bad := bytes.Clone(buf)
	bad[20] ^= 0x01 // corrupt the magic
	if _, ok := DecodeMessage(bad); ok {
		t.Errorf("decode accepted invalid magic")
	}
}

func TestNewPacketTooLarge(t *testing.T) {
	if _, err := NewPacket(A_WRTE, 1, 2, make([]byte, 4097), 4096); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := NewPacket(A_WRTE, 1, 2, make([]byte, 4096), 4096); err != nil {
		t.Errorf("payload at the limit should encode: %v", err)
	}
	if _, err := NewPacket(A_WRTE, 1, 2, make([]byte, 4097), 0); err != nil {
		t.Errorf("zero max should not limit: %v", err)
	}
}
