// Package adbdev drives an ADB daemon directly over a USB bulk endpoint
// pair: the CNXN/AUTH handshake, the packet read loop, and the stream
// multiplexer.
//
// A [Session] owns one connected device. All transport access is serialised
// through the session: one read loop goroutine receives packets and
// dispatches them in arrival order, and packet sends are atomic with respect
// to each other. Callers above may drive any number of concurrent streams.
package adbdev

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/webadb/usbadb/adb/adbauth"
	"github.com/webadb/usbadb/adb/adbusb"
	"github.com/webadb/usbadb/adb/adbwire"
)

const protocolVersion = adbwire.VersionSkipChecksum

// connectSettle is the pause between receiving the device CNXN and starting
// stream dispatch. Some devices drop frames sent immediately after their
// banner.
const connectSettle = 50 * time.Millisecond

// Read loop error-recovery budget: consecutive transient transfer failures
// tolerated, and the pause between retries.
const (
	readRetryLimit = 3
	readRetryPause = 200 * time.Millisecond
)

// HostFeatures is the feature list advertised in the host banner. It is the
// minimal set for the services this package uses; broader sets enable
// protocols (shell_v2, sendrecv_v2) it does not speak.
var HostFeatures = []string{"cmd", "stat_v2", "ls_v2", "fixed_push_mkdir"}

// Options configures a session. The zero value is usable.
type Options struct {
	// Features overrides [HostFeatures].
	Features []string

	// MaxPayload is the max payload offered in the host CNXN. It is replaced
	// by the device's value during the handshake. Defaults to 1 MiB.
	MaxPayload uint32

	// ConnectTimeout bounds the whole handshake. Defaults to 10 seconds.
	ConnectTimeout time.Duration

	// OpenTimeout bounds waiting for the device to confirm a stream OPEN.
	// Defaults to 5 seconds.
	OpenTimeout time.Duration

	// IOTimeout bounds waiting for the flow-control ack of a stream write.
	// Defaults to 5 seconds.
	IOTimeout time.Duration

	// ShellTimeout bounds collecting the output of the shell helpers.
	// Defaults to 15 seconds.
	ShellTimeout time.Duration

	// Trace, if set, receives lifecycle hooks.
	Trace *SessionTrace
}

func (o Options) withDefaults() Options {
	if o.Features == nil {
		o.Features = HostFeatures
	}
	if o.MaxPayload == 0 {
		o.MaxPayload = adbwire.MaxPayloadSize
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.OpenTimeout == 0 {
		o.OpenTimeout = 5 * time.Second
	}
	if o.IOTimeout == 0 {
		o.IOTimeout = 5 * time.Second
	}
	if o.ShellTimeout == 0 {
		o.ShellTimeout = 15 * time.Second
	}
	return o
}

// DeviceInfo is the identity parsed from the device CNXN banner.
type DeviceInfo struct {
	Serial  string `json:"serial"`
	Product string `json:"product"`
	Model   string `json:"model"`
}

// Snapshot is a diagnostics snapshot of a session, attached to surfaced
// errors and returned by [Session.Diagnostics].
type Snapshot struct {
	DeviceInfo
	MaxPayload uint32         `json:"max_payload"`
	Connected  bool           `json:"connected"`
	Packets    []PacketRecord `json:"packets"`
}

type waitResult struct {
	pkt adbwire.Packet
	err error
}

// waiter is one entry in the waiter registry: the first received frame whose
// predicate returns true removes the entry and resolves it.
type waiter struct {
	pred func(adbwire.Packet) bool
	ch   chan waitResult // buffered 1
}

func (w *waiter) resolve(pkt adbwire.Packet) {
	w.ch <- waitResult{pkt: pkt}
}

func (w *waiter) fail(err error) {
	w.ch <- waitResult{err: err}
}

// Session is the process-wide state for one connected device.
type Session struct {
	conn  *adbusb.Conn
	key   *adbauth.HostKey
	opts  Options
	trace *SessionTrace

	log packetLog

	mu         sync.Mutex
	maxPayload uint32
	info       DeviceInfo
	banner     *adbwire.Banner
	connected  bool
	closed     bool
	closeErr   error
	nextLocal  uint32
	streams    map[uint32]*Stream
	waiters    []*waiter
	sigSent    bool // a signature was sent this session
	pubSent    bool // the public key was sent this session

	done chan struct{}
}

// Connect claims the ADB interface on dev and performs the CNXN/AUTH
// handshake with the host key. On any failure the interface is released and
// the device closed; the returned error carries a diagnostics snapshot.
func Connect(dev adbusb.Device, key *adbauth.HostKey, opts Options) (*Session, error) {
	o := opts.withDefaults()
	s := &Session{
		key:        key,
		opts:       o,
		trace:      o.Trace,
		maxPayload: o.MaxPayload,
		streams:    map[uint32]*Stream{},
		done:       make(chan struct{}),
	}

	if err := dev.Open(); err != nil {
		return nil, s.diagErr(err)
	}
	conn, err := adbusb.Claim(dev)
	if err != nil {
		dev.Close()
		return nil, s.diagErr(err)
	}
	s.conn = conn

	go s.readLoop()
	go func() {
		select {
		case <-dev.Disconnected():
			s.fail(adbusb.ErrDisconnected)
		case <-s.done:
		}
	}()

	if err := s.handshake(); err != nil {
		s.fail(err)
		return nil, s.diagErr(err)
	}
	return s, nil
}

// handshake drives the connect state machine: send the host CNXN, then
// answer AUTH tokens (signature first, public key second) until the device
// answers with its own CNXN. A third token after the public key means the
// key was rejected.
func (s *Session) handshake() error {
	deadline := time.Now().Add(s.opts.ConnectTimeout)
	pred := func(p adbwire.Packet) bool {
		return p.Command == adbwire.A_CNXN || p.Command == adbwire.A_AUTH
	}

	// the waiter is always registered before the packet that elicits the
	// reply, so a fast device cannot race past the registry
	w := s.addWaiter(pred)
	banner := adbwire.HostBanner(s.opts.Features...).Encode()
	if err := s.sendPacket(adbwire.A_CNXN, protocolVersion, s.opts.MaxPayload, []byte(banner)); err != nil {
		return err
	}

	for {
		pkt, err := s.wait(w, time.Until(deadline))
		if err != nil {
			return err
		}

		switch pkt.Command {
		case adbwire.A_CNXN:
			return s.completeConnect(pkt)

		case adbwire.A_AUTH:
			if pkt.Arg0 != adbwire.AuthToken {
				debug.Warn("unexpected auth packet", "arg0", pkt.Arg0)
				w = s.addWaiter(pred)
				continue
			}
			w = s.addWaiter(pred)
			switch {
			case !s.sigSent:
				sig, err := s.key.Sign(pkt.Payload)
				if err != nil {
					return err
				}
				if err := s.sendPacket(adbwire.A_AUTH, adbwire.AuthSignature, 0, sig); err != nil {
					return err
				}
				s.sigSent = true
				s.trace.authenticated(false)

			case !s.pubSent:
				payload, err := s.key.AuthPayload()
				if err != nil {
					return err
				}
				if err := s.sendPacket(adbwire.A_AUTH, adbwire.AuthRSAPublicKey, 0, payload); err != nil {
					return err
				}
				s.pubSent = true
				s.trace.authenticated(true)
				debug.Info("sent public key, authorize on the device")

			default:
				// the device asked for yet another signature after getting
				// our public key; the user denied the prompt
				return ErrAuthRejected
			}
		}
	}
}

func (s *Session) completeConnect(pkt adbwire.Packet) error {
	var banner adbwire.Banner
	banner.Decode(string(pkt.Payload))

	s.mu.Lock()
	s.maxPayload = pkt.Arg1
	s.banner = &banner
	s.info = DeviceInfo{
		Serial:  banner.Props["ro.serialno"],
		Product: banner.Props["ro.product.name"],
		Model:   banner.Props["ro.product.model"],
	}
	s.mu.Unlock()

	// let the device settle before opening streams
	time.Sleep(connectSettle)

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	s.trace.connected(string(pkt.Payload))
	debug.Info("connected", "serial", s.info.Serial, "model", s.info.Model, "max_payload", pkt.Arg1)
	return nil
}

// readLoop receives packets and dispatches them in arrival order. Up to
// readRetryLimit consecutive transient failures are retried with a pause;
// anything more terminates the session.
func (s *Session) readLoop() {
	var transient int
	for {
		pkt, err := s.conn.RecvPacket()
		if err != nil {
			if s.isClosed() {
				return
			}
			if adbusb.IsTransient(err) && transient < readRetryLimit {
				transient++
				debug.Debug("transient read error", "err", err, "attempt", transient)
				time.Sleep(readRetryPause)
				continue
			}
			if !errors.Is(err, adbusb.ErrDisconnected) {
				err = errors.Join(adbusb.ErrDisconnected, err)
			}
			s.fail(err)
			return
		}
		transient = 0

		s.log.add(DirIn, pkt.Message)
		s.trace.packetReceived(pkt)
		s.dispatch(pkt)

		if s.isClosed() {
			return
		}
	}
}

// dispatch hands a received frame to the first matching waiter, or to the
// stream multiplexer once connected.
func (s *Session) dispatch(pkt adbwire.Packet) {
	s.mu.Lock()
	for i, w := range s.waiters {
		if w.pred(pkt) {
			s.waiters = slices.Delete(s.waiters, i, i+1)
			s.mu.Unlock()
			w.resolve(pkt)
			return
		}
	}
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		s.trace.packetDropped(pkt)
		return
	}

	switch pkt.Command {
	case adbwire.A_OKAY:
		s.handleOkay(pkt)
	case adbwire.A_WRTE:
		s.handleWrite(pkt)
	case adbwire.A_CLSE:
		s.handleClose(pkt)
	default:
		debug.Warn("dropping packet", "cmd", pkt.Command.String(), "arg0", pkt.Arg0, "arg1", pkt.Arg1)
		s.trace.packetDropped(pkt)
	}
}

// addWaiter appends a waiter to the registry. A waiter registered after the
// session died is failed immediately.
func (s *Session) addWaiter(pred func(adbwire.Packet) bool) *waiter {
	w := &waiter{pred: pred, ch: make(chan waitResult, 1)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		w.fail(adbusb.ErrDisconnected)
		return w
	}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()
	return w
}

// wait blocks until the waiter resolves, the timeout fires, or the session
// dies.
func (s *Session) wait(w *waiter, timeout time.Duration) (adbwire.Packet, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-w.ch:
		return r.pkt, r.err
	case <-t.C:
		s.removeWaiter(w)
		select {
		case r := <-w.ch: // resolved while we were timing out
			return r.pkt, r.err
		default:
		}
		return adbwire.Packet{}, ErrTimeout
	}
}

func (s *Session) removeWaiter(w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.waiters, w); i >= 0 {
		s.waiters = slices.Delete(s.waiters, i, i+1)
	}
}

// sendPacket builds and sends one packet, logging it on success.
func (s *Session) sendPacket(cmd adbwire.Command, arg0, arg1 uint32, payload []byte) error {
	s.mu.Lock()
	maxPayload, closed := s.maxPayload, s.closed
	s.mu.Unlock()
	if closed {
		return adbusb.ErrDisconnected
	}

	pkt, err := adbwire.NewPacket(cmd, arg0, arg1, payload, maxPayload)
	if err != nil {
		return err
	}
	if err := s.conn.SendPacket(pkt); err != nil {
		if errors.Is(err, adbusb.ErrDisconnected) {
			s.fail(err)
		}
		return err
	}
	s.log.add(DirOut, pkt.Message)
	s.trace.packetSent(pkt)
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fail terminates the session once: the read loop stops, waiters are failed
// with Disconnected, streams are closed and their observers notified, and
// the interface is released and the device closed (both errors swallowed).
func (s *Session) fail(reason error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.connected = false
	s.closeErr = reason
	waiters := s.waiters
	s.waiters = nil
	streams := s.streams
	s.streams = map[uint32]*Stream{}
	close(s.done)
	s.mu.Unlock()

	for _, w := range waiters {
		w.fail(adbusb.ErrDisconnected)
	}
	for _, st := range streams {
		st.sessionClosed()
	}
	s.conn.Close()
	s.trace.kicked(reason)
	debug.Info("session closed", "reason", reason)
}

// Disconnect closes the session. It is safe to call more than once.
func (s *Session) Disconnect() {
	s.fail(nil)
}

// Done returns a channel closed when the session terminates.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session terminated, nil for a clean disconnect
// or while still connected.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Info returns the device identity parsed from its CNXN banner.
func (s *Session) Info() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// DeviceFeatures returns the feature list from the device's CNXN banner.
func (s *Session) DeviceFeatures() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.banner == nil {
		return nil
	}
	return slices.Clone(s.banner.Features)
}

// MaxPayload returns the negotiated max payload size.
func (s *Session) MaxPayload() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPayload
}

// Diagnostics returns a snapshot including the most recent packets from the
// packet log.
func (s *Session) Diagnostics() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		DeviceInfo: s.info,
		MaxPayload: s.maxPayload,
		Connected:  s.connected && !s.closed,
	}
	s.mu.Unlock()
	snap.Packets = s.log.tail(snapshotPackets)
	return snap
}

func (s *Session) stream(local uint32) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[local]
}

func (s *Session) removeStream(st *Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams[st.localID] == st {
		delete(s.streams, st.localID)
	}
}
