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

package tcpsnap_test

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
	"github.com/unikernel-tools/liveupdate/pkg/tcpsnap"
)

func sample() tcpsnap.Snapshot {
	return tcpsnap.Snapshot{
		Local:  tcpsnap.Socket{IP: net.IPv4(10, 0, 0, 3), Port: 1337},
		Remote: tcpsnap.Socket{IP: net.IPv4(10, 0, 0, 2), Port: 443},
		TCB: tcpsnap.TCB{
			SndUna: 100, SndNxt: 200, SndWnd: 65535, SndUp: 0,
			SndWl1: 99, SndWl2: 199, ISS: 50, RcvNxt: 300,
			RcvWnd: 65535, RcvUp: 0, IRS: 250, SndMSS: 1460,
		},
		State:      tcpsnap.StateEstablished,
		PrevState:  tcpsnap.StateSynReceived,
		RTTM:       tcpsnap.RTTM{SRTT: 15000, RTTVar: 2000, RTO: 20000},
		RtxAttempt: 0,
		SynRtx:     1,
		DupAcks:    0,

		FastRecovery:       true,
		RenoFastPacketSeen: false,
		LimitedTx:          true,

		QueuedBytes: 11,

		HighestAck:     204,
		PrevHighestAck: 200,
		LastAckedTS:    12345,

		DelayedAck:  true,
		LastAckSent: 300,
		RtxRunning:  true,

		WriteQ: tcpsnap.WriteQueue{
			Current: 1,
			Offset:  4,
			Acked:   2,
			Buffers: []tcpsnap.WriteBuffer{
				{Data: []byte("hello world")},
				{Data: []byte{}},
			},
		},
		ReadQ: tcpsnap.ReadQueue{
			Seq:      300,
			Hole:     -1,
			PushSeen: true,
			Capacity: 4096,
			Data:     []byte("pending bytes"),
		},
	}
}

// TestSnapshotRoundTrip covers scenario S6: TCP connection state
// (including the write queue, read queue, and retransmit counters)
// survives a marshal/unmarshal cycle unchanged.
func TestSnapshotRoundTrip(t *testing.T) {
	want := sample()
	payload, err := want.MarshalTCPSnapshot()
	require.NoError(t, err)

	got, err := tcpsnap.Unmarshal(payload)
	require.NoError(t, err)

	require.True(t, want.Local.IP.Equal(got.Local.IP))
	require.Equal(t, want.Local.Port, got.Local.Port)
	require.True(t, want.Remote.IP.Equal(got.Remote.IP))
	require.Equal(t, want.Remote.Port, got.Remote.Port)
	require.Equal(t, want.TCB, got.TCB)
	require.Equal(t, want.State, got.State)
	require.Equal(t, want.PrevState, got.PrevState)
	require.Equal(t, want.RTTM, got.RTTM)
	require.Equal(t, want.RtxAttempt, got.RtxAttempt)
	require.Equal(t, want.SynRtx, got.SynRtx)
	require.Equal(t, want.DupAcks, got.DupAcks)
	require.Equal(t, want.FastRecovery, got.FastRecovery)
	require.Equal(t, want.RenoFastPacketSeen, got.RenoFastPacketSeen)
	require.Equal(t, want.LimitedTx, got.LimitedTx)
	require.Equal(t, want.QueuedBytes, got.QueuedBytes)
	require.Equal(t, want.HighestAck, got.HighestAck)
	require.Equal(t, want.PrevHighestAck, got.PrevHighestAck)
	require.Equal(t, want.LastAckedTS, got.LastAckedTS)
	require.Equal(t, want.DelayedAck, got.DelayedAck)
	require.Equal(t, want.LastAckSent, got.LastAckSent)
	require.Equal(t, want.RtxRunning, got.RtxRunning)

	require.Equal(t, want.WriteQ.Current, got.WriteQ.Current)
	require.Equal(t, want.WriteQ.Offset, got.WriteQ.Offset)
	require.Equal(t, want.WriteQ.Acked, got.WriteQ.Acked)
	require.Len(t, got.WriteQ.Buffers, len(want.WriteQ.Buffers))
	for i := range want.WriteQ.Buffers {
		require.Equal(t, want.WriteQ.Buffers[i].Data, got.WriteQ.Buffers[i].Data)
	}

	require.Equal(t, want.ReadQ.Seq, got.ReadQ.Seq)
	require.Equal(t, int32(len(want.ReadQ.Data)), got.ReadQ.Head)
	require.Equal(t, want.ReadQ.Hole, got.ReadQ.Hole)
	require.Equal(t, want.ReadQ.PushSeen, got.ReadQ.PushSeen)
	require.Equal(t, want.ReadQ.Capacity, got.ReadQ.Capacity)
	require.Equal(t, want.ReadQ.Data, got.ReadQ.Data)

	require.True(t, got.NeedsWakeup())
}

func TestUnmarshalRejectsVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, tcpsnap.Version+1) //nolint:errcheck

	_, err := tcpsnap.Unmarshal(buf.Bytes())
	require.Error(t, err)
	require.True(t, liveerr.Is(err, liveerr.VersionMismatch))
}

func TestUnmarshalRejectsOutOfRangeState(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, tcpsnap.Version) //nolint:errcheck
	buf.Write([]byte{10, 0, 0, 3})                           // local IP
	binary.Write(&buf, binary.LittleEndian, uint16(1337))    //nolint:errcheck
	buf.Write([]byte{10, 0, 0, 2})                           // remote IP
	binary.Write(&buf, binary.LittleEndian, uint16(443))     //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, tcpsnap.TCB{})   //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, int8(99))        //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, int8(0))         //nolint:errcheck

	_, err := tcpsnap.Unmarshal(buf.Bytes())
	require.Error(t, err)
	require.True(t, liveerr.Is(err, liveerr.StateTagOutOfRange))
}

func TestNeedsWakeupReflectsWriteQueue(t *testing.T) {
	empty := tcpsnap.Snapshot{}
	require.False(t, empty.NeedsWakeup())

	withData := tcpsnap.Snapshot{WriteQ: tcpsnap.WriteQueue{Buffers: []tcpsnap.WriteBuffer{{Data: []byte("x")}}}}
	require.True(t, withData.NeedsWakeup())
}
