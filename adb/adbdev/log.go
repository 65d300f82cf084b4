package adbdev

import (
	"sync"
	"time"

	"github.com/webadb/usbadb/adb/adbwire"
)

// packetLogSize is how many packet descriptors the session retains.
const packetLogSize = 200

// snapshotPackets is how many of those a diagnostics snapshot includes.
const snapshotPackets = 50

// Direction of a logged packet.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// PacketRecord describes one packet for diagnostics. Payloads are not
// retained.
type PacketRecord struct {
	Time       time.Time `json:"time"`
	Dir        Direction `json:"dir"`
	Command    string    `json:"command"`
	Arg0       uint32    `json:"arg0"`
	Arg1       uint32    `json:"arg1"`
	DataLength uint32    `json:"data_length"`
	DataCheck  uint32    `json:"data_check"`
}

// packetLog is a bounded circular buffer of packet descriptors.
type packetLog struct {
	mu   sync.Mutex
	recs [packetLogSize]PacketRecord
	next int
	len  int
}

func (l *packetLog) add(dir Direction, msg adbwire.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs[l.next] = PacketRecord{
		Time:       time.Now(),
		Dir:        dir,
		Command:    msg.Command.String(),
		Arg0:       msg.Arg0,
		Arg1:       msg.Arg1,
		DataLength: msg.DataLength,
		DataCheck:  msg.DataCheck,
	}
	l.next = (l.next + 1) % packetLogSize
	if l.len < packetLogSize {
		l.len++
	}
}

// tail returns the most recent n records, oldest first.
func (l *packetLog) tail(n int) []PacketRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > l.len {
		n = l.len
	}
	out := make([]PacketRecord, 0, n)
	for i := l.len - n; i < l.len; i++ {
		out = append(out, l.recs[(l.next-l.len+i+packetLogSize*2)%packetLogSize])
	}
	return out
}
