package adbdev

import (
	"sync"
	"time"

	"github.com/webadb/usbadb/adb/adbusb"
	"github.com/webadb/usbadb/adb/adbwire"
)

// Stream is one logical pipe multiplexed over the packet channel. The
// session owns the stream state; a Stream handle borrows from it for the
// stream's lifetime.
type Stream struct {
	s       *Session
	localID uint32
	svc     string

	ready chan struct{} // closed when the device's OKAY confirms the OPEN
	done  chan struct{} // closed when the stream closes for any reason
	ack   chan struct{} // one flow-control credit per in-flight WRTE

	mu        sync.Mutex
	remoteID  uint32 // 0 until the OPEN is confirmed
	data      []byte // ordered received payload
	closed    bool
	observers []func()
}

// Open opens a stream for a service, e.g. "shell:echo hi". It blocks until
// the device confirms the OPEN, fails with [ErrRejected] if the device
// closes the stream before confirming it, and with [ErrTimeout] if the
// device does not reply within the open deadline.
func (s *Session) Open(svc string) (*Stream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, s.diagErr(adbusb.ErrDisconnected)
	}
	if !s.connected {
		s.mu.Unlock()
		return nil, s.diagErr(ErrNotConnected)
	}
	s.nextLocal++
	st := &Stream{
		s:       s,
		localID: s.nextLocal,
		svc:     svc,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		ack:     make(chan struct{}, 1),
	}
	s.streams[st.localID] = st
	s.mu.Unlock()

	// the service name is NUL-terminated on the wire
	payload := append([]byte(svc), 0)
	if err := s.sendPacket(adbwire.A_OPEN, st.localID, 0, payload); err != nil {
		s.removeStream(st)
		return nil, s.diagErr(err)
	}

	t := time.NewTimer(s.opts.OpenTimeout)
	defer t.Stop()
	select {
	case <-st.ready:
		s.trace.streamOpened(st.localID, st.RemoteID(), svc)
		debug.Debug("stream opened", "local", st.localID, "remote", st.RemoteID(), "svc", svc)
		return st, nil
	case <-st.done:
		if st.confirmed() {
			// opened and already closed again; buffered data is still there
			return st, nil
		}
		s.removeStream(st)
		return nil, s.diagErr(ErrRejected)
	case <-t.C:
		s.removeStream(st)
		return nil, s.diagErr(ErrTimeout)
	}
}

// handleOkay processes OKAY(remote, local): the first OKAY for a stream
// confirms its OPEN and records the remote id; later ones are flow-control
// acks for data we sent.
func (s *Session) handleOkay(pkt adbwire.Packet) {
	st := s.stream(pkt.Arg1)
	if st == nil {
		s.trace.packetDropped(pkt)
		return
	}

	st.mu.Lock()
	if st.remoteID == 0 {
		st.remoteID = pkt.Arg0
		st.mu.Unlock()
		close(st.ready)
		return
	}
	st.mu.Unlock()

	select {
	case st.ack <- struct{}{}:
	default:
	}
}

// handleWrite processes WRTE(remote, local): the payload is appended to the
// stream's buffer and a bare OKAY is sent back immediately. This
// OKAY-per-WRTE scheme is the protocol's only flow control.
func (s *Session) handleWrite(pkt adbwire.Packet) {
	st := s.stream(pkt.Arg1)
	if st == nil {
		s.trace.packetDropped(pkt)
		return
	}

	st.mu.Lock()
	st.data = append(st.data, pkt.Payload...)
	st.mu.Unlock()

	s.sendPacket(adbwire.A_OKAY, st.localID, pkt.Arg0, nil)
}

// handleClose processes CLSE(remote, local). A close for a stream whose OPEN
// was never confirmed means the device rejected the service; no CLSE is sent
// in reply since there is no remote socket to address.
func (s *Session) handleClose(pkt adbwire.Packet) {
	st := s.stream(pkt.Arg1)
	if st == nil {
		s.trace.packetDropped(pkt)
		return
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	remote := st.remoteID
	observers := st.observers
	st.observers = nil
	close(st.done)
	st.mu.Unlock()

	s.removeStream(st)

	if remote == 0 {
		debug.Debug("stream rejected", "local", st.localID, "svc", st.svc)
		return
	}

	s.sendPacket(adbwire.A_CLSE, st.localID, remote, nil)
	for _, fn := range observers {
		fn()
	}
	s.trace.streamClosed(st.localID, remote)
	debug.Debug("stream closed by device", "local", st.localID, "remote", remote)
}

// LocalID returns the stream's local id.
func (st *Stream) LocalID() uint32 {
	return st.localID
}

// RemoteID returns the device's id for the stream, or 0 if the OPEN has not
// been confirmed.
func (st *Stream) RemoteID() uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.remoteID
}

func (st *Stream) confirmed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.remoteID != 0
}

// Closed returns true once the stream is closed.
func (st *Stream) Closed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

// Done returns a channel closed when the stream closes for any reason.
func (st *Stream) Done() <-chan struct{} {
	return st.done
}

// OnClose registers fn to run when the stream closes. If it is already
// closed, fn runs immediately.
func (st *Stream) OnClose(fn func()) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		fn()
		return
	}
	st.observers = append(st.observers, fn)
	st.mu.Unlock()
}

// Collect blocks until the stream closes or the deadline fires, whichever
// comes first, and returns everything received so far as a string. It never
// fails; on deadline the current buffer is returned. Collected bytes are not
// consumed.
func (st *Stream) Collect(timeout time.Duration) string {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-st.done:
	case <-t.C:
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return string(st.data)
}

// Bytes returns a copy of everything received so far.
func (st *Stream) Bytes() []byte {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]byte, len(st.data))
	copy(out, st.data)
	return out
}

// Send writes payload to the stream, splitting it at the negotiated max
// payload size and waiting for the device's flow-control ack after each
// chunk. It fails with [ErrClosed] if the stream is closed.
func (st *Stream) Send(payload []byte) error {
	st.mu.Lock()
	closed, remote := st.closed, st.remoteID
	st.mu.Unlock()
	if closed {
		return st.s.diagErr(ErrClosed)
	}
	if remote == 0 {
		return st.s.diagErr(ErrNotConnected)
	}

	max := int(st.s.MaxPayload())
	for len(payload) > 0 {
		chunk := payload[:min(len(payload), max)]
		payload = payload[len(chunk):]

		if err := st.s.sendPacket(adbwire.A_WRTE, st.localID, remote, chunk); err != nil {
			return st.s.diagErr(err)
		}

		t := time.NewTimer(st.s.opts.IOTimeout)
		select {
		case <-st.ack:
			t.Stop()
		case <-st.done:
			t.Stop()
			return st.s.diagErr(ErrClosed)
		case <-t.C:
			return st.s.diagErr(ErrTimeout)
		}
	}
	return nil
}

// Close closes the stream from the host side, telling the device if the
// stream was confirmed. It is safe to call more than once.
func (st *Stream) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	remote := st.remoteID
	observers := st.observers
	st.observers = nil
	close(st.done)
	st.mu.Unlock()

	st.s.removeStream(st)

	if remote != 0 {
		st.s.sendPacket(adbwire.A_CLSE, st.localID, remote, nil)
	}
	for _, fn := range observers {
		fn()
	}
	st.s.trace.streamClosed(st.localID, remote)
	return nil
}

// sessionClosed marks the stream closed without telling the device; the
// session is already gone.
func (st *Stream) sessionClosed() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	observers := st.observers
	st.observers = nil
	close(st.done)
	st.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}
