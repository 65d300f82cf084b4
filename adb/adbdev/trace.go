package adbdev

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/webadb/usbadb/adb/adbwire"
)

var debug *slog.Logger

func init() {
	if v, _ := strconv.ParseBool(os.Getenv("USBADB_TRACE")); v {
		debug = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	} else {
		debug = slog.New(slog.DiscardHandler)
	}
}

// Trace enables debug logging to the specified logger.
func Trace(logger *slog.Logger) {
	debug = logger
}

// SessionTrace is a set of hooks to run at various points in the lifecycle of
// a Session. Any particular hook may be nil. Functions may be called
// concurrently from different goroutines and at arbitrary times; they should
// avoid blocking for extended periods of time.
//
// These hooks should not be used for important logic. They are intended for
// debugging and metrics.
type SessionTrace struct {
	// PacketSent is called after a packet is sent.
	PacketSent func(pkt adbwire.Packet)

	// PacketReceived is called when a packet is received, before dispatch.
	PacketReceived func(pkt adbwire.Packet)

	// PacketDropped is called when a received packet matches no waiter and no
	// stream and is dropped.
	PacketDropped func(pkt adbwire.Packet)

	// Connected is called after the device's CNXN banner is processed.
	Connected func(banner string)

	// Authenticated is called when an AUTH round completes (a signature or
	// public key was sent).
	Authenticated func(pubkey bool)

	// StreamOpened is called once a stream's OPEN is confirmed.
	StreamOpened func(local, remote uint32, svc string)

	// StreamClosed is called when a stream is fully closed.
	StreamClosed func(local, remote uint32)

	// Kicked is called when the session terminates, with the reason (nil for
	// a clean disconnect).
	Kicked func(reason error)
}

func (t *SessionTrace) packetSent(pkt adbwire.Packet) {
	if t != nil && t.PacketSent != nil {
		t.PacketSent(pkt)
	}
}

func (t *SessionTrace) packetReceived(pkt adbwire.Packet) {
	if t != nil && t.PacketReceived != nil {
		t.PacketReceived(pkt)
	}
}

func (t *SessionTrace) packetDropped(pkt adbwire.Packet) {
	if t != nil && t.PacketDropped != nil {
		t.PacketDropped(pkt)
	}
}

func (t *SessionTrace) connected(banner string) {
	if t != nil && t.Connected != nil {
		t.Connected(banner)
	}
}

func (t *SessionTrace) authenticated(pubkey bool) {
	if t != nil && t.Authenticated != nil {
		t.Authenticated(pubkey)
	}
}

func (t *SessionTrace) streamOpened(local, remote uint32, svc string) {
	if t != nil && t.StreamOpened != nil {
		t.StreamOpened(local, remote, svc)
	}
}

func (t *SessionTrace) streamClosed(local, remote uint32) {
	if t != nil && t.StreamClosed != nil {
		t.StreamClosed(local, remote)
	}
}

func (t *SessionTrace) kicked(reason error) {
	if t != nil && t.Kicked != nil {
		t.Kicked(reason)
	}
}
