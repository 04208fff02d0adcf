/*
Copyright © 2026 unikernel-tools

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tcpsnap implements the TCP connection snapshot/restore codec:
// the wire format a live TCP connection is frozen into before a live
// update, and thawed back into after one. The TCP/IP stack itself is
// out of scope; this package only owns the TCB plus write/read-queue
// codec that pkg/serialize and pkg/restore hand opaque bytes through.
package tcpsnap

import (
	"bytes"
	"encoding/binary"
	"net"

	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
)

// Version is the snapshot format tag written ahead of every field.
// Unmarshal refuses a payload whose tag does not match: the codec on
// the new image must agree bit-for-bit with the one that produced the
// snapshot before any scalar field is trusted.
const Version uint32 = 1

// State mirrors the original 11-value TCP connection state machine.
// The exact integer values are load-bearing: they are the wire
// encoding written by State/PrevState below.
type State int8

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

func stateFromWire(v int8) (State, error) {
	if v < int8(StateClosed) || v > int8(StateTimeWait) {
		return 0, liveerr.Newf(liveerr.StateTagOutOfRange, "tcp state tag %d out of range", v)
	}
	return State(v), nil
}

// Socket is a bound IPv4 address/port pair.
type Socket struct {
	IP   net.IP
	Port uint16
}

// TCB is the subset of RFC 793 transmission control block fields the
// original snapshot carries verbatim across a live update.
type TCB struct {
	SndUna uint32
	SndNxt uint32
	SndWnd uint32
	SndUp  uint16
	SndWl1 uint32
	SndWl2 uint32
	ISS    uint32
	RcvNxt uint32
	RcvWnd uint32
	RcvUp  uint16
	IRS    uint32
	SndMSS uint16
}

// RTTM is the round-trip time estimator state, carried so the
// restored connection doesn't relearn its retransmission timeout from
// scratch.
type RTTM struct {
	SRTT   int64 // microseconds
	RTTVar int64 // microseconds
	RTO    int64 // microseconds
}

// WriteBuffer is one still-unacknowledged (or partially sent) segment
// of application data sitting in a connection's write queue. Unlike
// the original's per-buffer remaining/offset/acknowledged fields, this
// port tracks send progress once at the queue level (WriteQueue.Offset
// / WriteQueue.Acked), so a buffer only needs to carry its bytes.
type WriteBuffer struct {
	Data []byte
}

// WriteQueue is the ordered set of outbound buffers a connection
// hadn't finished flushing at snapshot time. Offset is how many bytes
// of the queue (counted across buffer boundaries) have already been
// handed to the network; Acked is how many of those have been
// acknowledged by the peer.
type WriteQueue struct {
	Current uint32
	Offset  uint32
	Acked   uint32
	Buffers []WriteBuffer
}

// ReadQueue is the inbound reassembly buffer: bytes the peer has sent
// that the application hadn't consumed yet at snapshot time. Seq is
// the sequence number of the first byte in Data; Hole marks a gap
// still outstanding before reassembly is contiguous (negative means no
// hole). Capacity is the buffer's total allocated size, which may
// exceed len(Data).
//
// Head is normally the original's bookkeeping cursor into a
// fixed-capacity ring; the original leaves it unset on some
// construction paths, which would make the wire value ambiguous. This
// port always writes Head as len(Data) (self-describing: "how many
// bytes of Capacity are valid") rather than replay that ambiguity —
// see DESIGN.md.
type ReadQueue struct {
	Seq      uint32
	Head     int32
	Hole     int32
	PushSeen bool
	Capacity int32
	Data     []byte
}

// Snapshot is a frozen TCP connection, in the field order spec.md §4.4
// requires: endpoints, TCB, state pair, RTT estimator, retransmit/
// dup-ACK counters, fast-recovery flags, queued-bytes, highest-ack
// pair, last-ack bookkeeping, retransmit-timer flag, write queue, read
// queue.
type Snapshot struct {
	Local  Socket
	Remote Socket
	TCB    TCB

	State     State
	PrevState State

	RTTM RTTM

	RtxAttempt int8
	SynRtx     int8
	DupAcks    uint8

	FastRecovery       bool
	RenoFastPacketSeen bool
	LimitedTx          bool

	QueuedBytes uint32

	HighestAck     uint32
	PrevHighestAck uint32
	LastAckedTS    int64 // microseconds, same clock as RTTM

	DelayedAck  bool
	LastAckSent uint32
	RtxRunning  bool

	WriteQ WriteQueue
	ReadQ  ReadQueue
}

// NeedsWakeup reports whether the connection's write queue held any
// bytes at capture time, meaning the destination stack must force-
// start its send queues once resume finishes (spec.md §4.4/§4.6;
// grounded on serialized_tcp::deserialize_from's `if (sendq_size() >
// 0) { slumbering_ip4.insert(&stack); }`). A queue whose buffers are
// all empty does not need a wakeup.
func (s Snapshot) NeedsWakeup() bool {
	for _, wb := range s.WriteQ.Buffers {
		if len(wb.Data) > 0 {
			return true
		}
	}
	return false
}

func writeSocket(buf *bytes.Buffer, s Socket) {
	var ip [4]byte
	copy(ip[:], s.IP.To4())
	buf.Write(ip[:])
	binary.Write(buf, binary.LittleEndian, s.Port) //nolint:errcheck
}

func readSocket(r *bytes.Reader, field string) (Socket, error) {
	var ip [4]byte
	if _, err := r.Read(ip[:]); err != nil {
		return Socket{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: "+field+" address", err)
	}
	var port uint16
	if err := binary.Read(r, binary.LittleEndian, &port); err != nil {
		return Socket{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: "+field+" port", err)
	}
	return Socket{IP: net.IPv4(ip[0], ip[1], ip[2], ip[3]), Port: port}, nil
}

// MarshalTCPSnapshot implements pkg/serialize.TCPMarshaler.
func (s Snapshot) MarshalTCPSnapshot() ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, Version) //nolint:errcheck

	writeSocket(&buf, s.Local)
	writeSocket(&buf, s.Remote)
	binary.Write(&buf, binary.LittleEndian, s.TCB) //nolint:errcheck

	binary.Write(&buf, binary.LittleEndian, int8(s.State))     //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, int8(s.PrevState)) //nolint:errcheck

	binary.Write(&buf, binary.LittleEndian, s.RTTM) //nolint:errcheck

	binary.Write(&buf, binary.LittleEndian, s.RtxAttempt) //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.SynRtx)     //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.DupAcks)    //nolint:errcheck

	binary.Write(&buf, binary.LittleEndian, s.FastRecovery)       //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.RenoFastPacketSeen) //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.LimitedTx)          //nolint:errcheck

	binary.Write(&buf, binary.LittleEndian, s.QueuedBytes) //nolint:errcheck

	binary.Write(&buf, binary.LittleEndian, s.HighestAck)     //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.PrevHighestAck) //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.LastAckedTS)    //nolint:errcheck

	binary.Write(&buf, binary.LittleEndian, s.DelayedAck)  //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.LastAckSent) //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.RtxRunning)  //nolint:errcheck

	binary.Write(&buf, binary.LittleEndian, s.WriteQ.Current)              //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.WriteQ.Offset)               //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.WriteQ.Acked)                //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, uint64(len(s.WriteQ.Buffers))) //nolint:errcheck
	for _, wb := range s.WriteQ.Buffers {
		binary.Write(&buf, binary.LittleEndian, uint64(len(wb.Data))) //nolint:errcheck
		buf.Write(wb.Data)
	}

	binary.Write(&buf, binary.LittleEndian, s.ReadQ.Seq)                     //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, int32(len(s.ReadQ.Data)))        //nolint:errcheck (self-describing Head, see ReadQueue)
	binary.Write(&buf, binary.LittleEndian, s.ReadQ.Hole)                    //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.ReadQ.PushSeen)                //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, s.ReadQ.Capacity)                //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, uint64(len(s.ReadQ.Data)))       //nolint:errcheck
	buf.Write(s.ReadQ.Data)

	return buf.Bytes(), nil
}

// Unmarshal decodes a Snapshot from the opaque payload handed back by
// pkg/restore.Restore.AsTCP. A version-tag mismatch or an out-of-range
// state tag are hard errors (liveerr.VersionMismatch /
// liveerr.StateTagOutOfRange); per spec.md §4.4 the caller must not
// zero the partition when Unmarshal fails this way, so an operator can
// inspect it.
func Unmarshal(payload []byte) (Snapshot, error) {
	r := bytes.NewReader(payload)
	var s Snapshot

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: version", err)
	}
	if version != Version {
		return Snapshot{}, liveerr.Newf(liveerr.VersionMismatch,
			"tcp snapshot format tag %d does not match %d", version, Version)
	}

	local, err := readSocket(r, "local")
	if err != nil {
		return Snapshot{}, err
	}
	s.Local = local
	remote, err := readSocket(r, "remote")
	if err != nil {
		return Snapshot{}, err
	}
	s.Remote = remote
	if err := binary.Read(r, binary.LittleEndian, &s.TCB); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: tcb", err)
	}

	var stateNow, statePrev int8
	if err := binary.Read(r, binary.LittleEndian, &stateNow); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: state", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &statePrev); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: prev state", err)
	}
	if s.State, err = stateFromWire(stateNow); err != nil {
		return Snapshot{}, err
	}
	if s.PrevState, err = stateFromWire(statePrev); err != nil {
		return Snapshot{}, err
	}

	if err := binary.Read(r, binary.LittleEndian, &s.RTTM); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: rttm", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.RtxAttempt); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: rtx_att", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.SynRtx); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: syn_rtx", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.DupAcks); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: dup_acks", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &s.FastRecovery); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: fast_recovery", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.RenoFastPacketSeen); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: reno_fast_packet_seen", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.LimitedTx); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: limited_tx", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &s.QueuedBytes); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: queued_bytes", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &s.HighestAck); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: highest_ack", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.PrevHighestAck); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: prev_highest_ack", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.LastAckedTS); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: last_acked_ts", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &s.DelayedAck); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: delayed_ack", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.LastAckSent); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: last_ack_sent", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.RtxRunning); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: rtx_running", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &s.WriteQ.Current); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: writeq current", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.WriteQ.Offset); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: writeq offset", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.WriteQ.Acked); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: writeq acked", err)
	}
	var wcount uint64
	if err := binary.Read(r, binary.LittleEndian, &wcount); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: writeq count", err)
	}
	s.WriteQ.Buffers = make([]WriteBuffer, 0, wcount)
	for i := uint64(0); i < wcount; i++ {
		var length uint64
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated write buffer header", err)
		}
		data := make([]byte, length)
		if _, err := readFull(r, data); err != nil {
			return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated write buffer body", err)
		}
		s.WriteQ.Buffers = append(s.WriteQ.Buffers, WriteBuffer{Data: data})
	}

	if err := binary.Read(r, binary.LittleEndian, &s.ReadQ.Seq); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: readq seq", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.ReadQ.Head); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: readq head", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.ReadQ.Hole); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: readq hole", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.ReadQ.PushSeen); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: readq push_seen", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.ReadQ.Capacity); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: readq capacity", err)
	}
	var rcount uint64
	if err := binary.Read(r, binary.LittleEndian, &rcount); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: readq data length", err)
	}
	s.ReadQ.Data = make([]byte, rcount)
	if _, err := readFull(r, s.ReadQ.Data); err != nil {
		return Snapshot{}, liveerr.Wrap(liveerr.SizeMismatch, "truncated tcp snapshot: readq data", err)
	}

	return s, nil
}

// readFull reads exactly len(dst) bytes or reports a truncation error;
// bytes.Reader.Read can return a short read at EOF, which must be
// treated as malformed input rather than silently accepted.
func readFull(r *bytes.Reader, dst []byte) (int, error) {
	n := 0
	for n < len(dst) {
		m, err := r.Read(dst[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, bytes.ErrTooLarge
		}
	}
	return n, nil
}
