// Package adbwire implements the lower level message framing used by the ADB
// transport protocol.
package adbwire

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

// Packet payload sizes (adb.h).
const (
	MaxPayloadSizeV1 = 4 * 1024
	MaxPayloadSize   = 1024 * 1024
)

// ADB protocol version (adb.h).
const (
	VersionMin          uint32 = 0x01000000 // original
	VersionSkipChecksum uint32 = 0x01000001 // skip checksum (Dec 2017)
)

type Command uint32

// Message commands (types.h).
const (
	A_CNXN Command = 0x4e584e43
	A_AUTH Command = 0x48545541
	A_OPEN Command = 0x4e45504f
	A_OKAY Command = 0x59414b4f
	A_WRTE Command = 0x45545257
	A_CLSE Command = 0x45534c43
)

// String returns the four-byte ASCII tag of the command in ascending address
// order.
func (c Command) String() string {
	return string(binary.LittleEndian.AppendUint32(nil, uint32(c)))
}

// ParseCommand converts a four-byte ASCII tag to its command value. It is the
// inverse of [Command.String] for every four-byte string.
func ParseCommand(tag string) (Command, error) {
	if len(tag) != 4 {
		return 0, fmt.Errorf("incorrect command tag length %d", len(tag))
	}
	return Command(binary.LittleEndian.Uint32([]byte(tag))), nil
}

// AUTH packets first argument.
const (
	AuthToken        uint32 = 1
	AuthSignature    uint32 = 2
	AuthRSAPublicKey uint32 = 3
)

const AuthTokenSize = 20

const MessageSize = 6 * 4

// ErrPayloadTooLarge is returned when encoding a packet whose payload exceeds
// the negotiated max payload size.
var ErrPayloadTooLarge = errors.New("payload too large")

// Message is the 24-byte packet header: six unsigned 32-bit words, all
// little-endian on the wire.
type Message struct {
	Command    Command // one of the six tag constants
	Arg0       uint32
	Arg1       uint32
	DataLength uint32 // payload byte count; zero for pure control frames
	DataCheck  uint32 // sum of the payload bytes mod 2^32
	Magic      uint32 // always Command ^ 0xFFFFFFFF
}

// Packet is a header together with its payload.
type Packet struct {
	Message
	Payload []byte
}

var (
	_ encoding.BinaryUnmarshaler = (*Message)(nil)
	_ encoding.BinaryAppender    = Message{}
	_ encoding.BinaryMarshaler   = Message{}
)

// Checksum sums the payload bytes mod 2^32. Senders fill DataCheck with it;
// receivers do not validate it.
func Checksum(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// NewPacket builds a packet for the provided command and payload, computing
// the length, checksum, and magic fields. It fails with [ErrPayloadTooLarge]
// if the payload exceeds maxPayload (zero means no limit).
func NewPacket(cmd Command, arg0, arg1 uint32, payload []byte, maxPayload uint32) (Packet, error) {
	if maxPayload != 0 && len(payload) > int(maxPayload) {
		return Packet{}, fmt.Errorf("%w (len=%d max=%d)", ErrPayloadTooLarge, len(payload), maxPayload)
	}
	return Packet{
		Message: Message{
			Command:    cmd,
			Arg0:       arg0,
			Arg1:       arg1,
			DataLength: uint32(len(payload)),
			DataCheck:  Checksum(payload),
			Magic:      uint32(cmd) ^ 0xFFFFFFFF,
		},
		Payload: payload,
	}, nil
}

// UnmarshalBinary decodes the six header words. The magic is not checked
// here; use [DecodeMessage] or [Message.IsMagicValid] for that.
func (m *Message) UnmarshalBinary(buf []byte) error {
	if len(buf) != MessageSize {
		return fmt.Errorf("header must be %d bytes, have %d", MessageSize, len(buf))
	}
	var w [6]uint32
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	*m = Message{
		Command:    Command(w[0]),
		Arg0:       w[1],
		Arg1:       w[2],
		DataLength: w[3],
		DataCheck:  w[4],
		Magic:      w[5],
	}
	return nil
}

// DecodeMessage decodes a 24-byte header, returning false if the buffer is
// not exactly [MessageSize] bytes or if the magic does not match the command.
// Frames failing this check are dropped by the caller.
func DecodeMessage(buf []byte) (Message, bool) {
	var m Message
	if m.UnmarshalBinary(buf) != nil {
		return Message{}, false
	}
	if !m.IsMagicValid() {
		return Message{}, false
	}
	return m, true
}

// AppendBinary appends the six header words in wire order.
func (m Message) AppendBinary(b []byte) ([]byte, error) {
	b = slices.Grow(b, MessageSize)
	for _, w := range [6]uint32{
		uint32(m.Command), m.Arg0, m.Arg1, m.DataLength, m.DataCheck, m.Magic,
	} {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b, nil
}

// MarshalBinary is like AppendBinary.
func (m Message) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(nil)
}

// IsMagicValid reports whether the magic word is the complement of the
// command, which every valid frame satisfies.
func (m Message) IsMagicValid() bool {
	return uint32(m.Command) == ^m.Magic
}

// AppendBinary appends the header followed by the payload.
func (p Packet) AppendBinary(b []byte) ([]byte, error) {
	var err error
	b = slices.Grow(b, MessageSize+len(p.Payload))
	b, err = p.Message.AppendBinary(b)
	if err != nil {
		return nil, err
	}
	return append(b, p.Payload...), nil
}

// MarshalBinary is like AppendBinary.
func (p Packet) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(nil)
}
