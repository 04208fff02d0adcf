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

package restore_test

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
	"github.com/unikernel-tools/liveupdate/pkg/region"
	"github.com/unikernel-tools/liveupdate/pkg/restore"
	"github.com/unikernel-tools/liveupdate/pkg/serialize"
	"github.com/unikernel-tools/liveupdate/pkg/tcpsnap"
	"github.com/unikernel-tools/liveupdate/pkg/tcpsnap/fake"
)

func buildPartition(t *testing.T, fill func(s *serialize.Storage)) (*region.Region, region.Descriptor) {
	t.Helper()
	buf := make([]byte, region.HeaderSize+4096)
	r, err := region.New(buf, true)
	require.NoError(t, err)

	idx, err := r.CreatePartition("p")
	require.NoError(t, err)

	fill(serialize.New(r))

	require.NoError(t, r.FinishPartition(idx))
	require.NoError(t, r.Finalize())
	require.True(t, r.Validate())

	got, err := r.FindPartition("p")
	require.NoError(t, err)
	return r, r.Descriptor(got)
}

// TestScalarVectorRoundTrip covers scenario S1: a POD vector survives
// add/restore unchanged.
func TestScalarVectorRoundTrip(t *testing.T) {
	want := []int32{1, 1, 2, 3, 5, 8, 13, -42}
	r, d := buildPartition(t, func(s *serialize.Storage) {
		require.NoError(t, serialize.AddVector(s, 7, want))
	})

	cur := restore.New(r, d)
	require.True(t, cur.IsVector())
	require.Equal(t, uint16(7), cur.ID())
	got, err := restore.AsVector[int32](cur)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, cur.GoNext())
	require.True(t, cur.IsEnd())
}

// TestStringVectorRoundTripMixedLengths covers scenario S2.
func TestStringVectorRoundTripMixedLengths(t *testing.T) {
	want := []string{"", "a", "hello world", "unikernel-tools/liveupdate"}
	r, d := buildPartition(t, func(s *serialize.Storage) {
		require.NoError(t, s.AddStringVector(3, want))
	})

	cur := restore.New(r, d)
	require.True(t, cur.IsStringVector())
	got, err := cur.AsStringVector()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// TestTypeMismatchDoesNotAdvanceCursor covers scenario S3: reading an
// entry as the wrong type fails and leaves the cursor positioned on
// the same entry, so the caller can retry with the correct accessor.
func TestTypeMismatchDoesNotAdvanceCursor(t *testing.T) {
	r, d := buildPartition(t, func(s *serialize.Storage) {
		require.NoError(t, s.AddString(9, "not an int"))
	})

	cur := restore.New(r, d)
	_, err := cur.AsInt()
	require.Error(t, err)
	require.True(t, liveerr.Is(err, liveerr.TypeMismatch))

	require.True(t, cur.IsString())
	require.Equal(t, uint16(9), cur.ID())
	got, err := cur.AsString()
	require.NoError(t, err)
	require.Equal(t, "not an int", got)
}

// TestMarkerSkipsToNextStructure covers scenario S5: pop_marker walks
// past an unread structure's trailing entries to the next marker.
func TestMarkerSkipsToNextStructure(t *testing.T) {
	r, d := buildPartition(t, func(s *serialize.Storage) {
		require.NoError(t, s.AddInt(1, 10))
		require.NoError(t, s.AddString(2, "skip me"))
		require.NoError(t, s.PutMarker(100))
		require.NoError(t, s.AddInt(3, 20))
		require.NoError(t, s.PutMarker(200))
	})

	cur := restore.New(r, d)
	id, found := cur.PopMarker()
	require.True(t, found)
	require.Equal(t, uint16(100), id)

	v, err := cur.AsInt()
	require.NoError(t, err)
	require.Equal(t, int32(20), v)

	require.NoError(t, cur.PopMarkerID(200))
	require.True(t, cur.IsEnd())
}

func TestPopMarkerNotFoundReturnsEnd(t *testing.T) {
	r, d := buildPartition(t, func(s *serialize.Storage) {
		require.NoError(t, s.AddInt(1, 10))
	})

	cur := restore.New(r, d)
	_, found := cur.PopMarker()
	require.False(t, found)
	require.True(t, cur.IsEnd())
}

func TestGoNextPastEndFails(t *testing.T) {
	r, d := buildPartition(t, func(s *serialize.Storage) {
		require.NoError(t, s.AddInt(1, 1))
	})
	cur := restore.New(r, d)
	require.NoError(t, cur.GoNext())
	require.True(t, cur.IsEnd())
	err := cur.GoNext()
	require.Error(t, err)
	require.True(t, liveerr.Is(err, liveerr.WalkPastEnd))
}

func TestVectorSizeMismatchRejected(t *testing.T) {
	r, d := buildPartition(t, func(s *serialize.Storage) {
		require.NoError(t, serialize.AddVector(s, 1, []int64{1, 2, 3}))
	})
	cur := restore.New(r, d)
	_, err := restore.AsVector[int32](cur)
	require.Error(t, err)
	require.True(t, liveerr.Is(err, liveerr.SizeMismatch))
}

// TestConnectionRoundTrip covers scenario S6: a TCP connection
// snapshot stored with add_connection is recovered unchanged via
// as_tcp_connection's Go counterpart.
func TestConnectionRoundTrip(t *testing.T) {
	snap := tcpsnap.Snapshot{
		Local:       tcpsnap.Socket{IP: net.IPv4(10, 0, 0, 2), Port: 1337},
		Remote:      tcpsnap.Socket{IP: net.IPv4(10, 0, 0, 1), Port: 443},
		TCB:         tcpsnap.TCB{SndNxt: 42, RcvNxt: 99},
		State:       tcpsnap.StateEstablished,
		PrevState:   tcpsnap.StateSynReceived,
		RTTM:        tcpsnap.RTTM{SRTT: 1000, RTTVar: 200, RTO: 3000},
		SynRtx:      2,
		QueuedBytes: 6,
		HighestAck:  42,
		WriteQ:      tcpsnap.WriteQueue{Acked: 0, Buffers: []tcpsnap.WriteBuffer{{Data: []byte("queued")}}},
		ReadQ:       tcpsnap.ReadQueue{Seq: 99, Capacity: 4096},
	}
	conn := fake.New(snap)

	r, d := buildPartition(t, func(s *serialize.Storage) {
		require.NoError(t, s.AddConnection(0, conn))
	})

	cur := restore.New(r, d)
	payload, err := cur.AsTCP()
	require.NoError(t, err)
	got, err := tcpsnap.Unmarshal(payload)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}
}

// TestConnectionVersionMismatchIsHardError covers the version-tag
// guard: a payload whose format tag doesn't match Version must fail
// with VersionMismatch rather than being silently misread.
func TestConnectionVersionMismatchIsHardError(t *testing.T) {
	snap := tcpsnap.Snapshot{
		Local:  tcpsnap.Socket{IP: net.IPv4(10, 0, 0, 2), Port: 1337},
		Remote: tcpsnap.Socket{IP: net.IPv4(10, 0, 0, 1), Port: 443},
	}
	payload, err := snap.MarshalTCPSnapshot()
	require.NoError(t, err)
	// Corrupt the leading version tag in place.
	payload[0]++

	_, err = tcpsnap.Unmarshal(payload)
	require.Error(t, err)
	require.True(t, liveerr.Is(err, liveerr.VersionMismatch))
}

func TestCancelConsumesRemainder(t *testing.T) {
	r, d := buildPartition(t, func(s *serialize.Storage) {
		require.NoError(t, s.AddInt(1, 1))
		require.NoError(t, s.AddInt(2, 2))
		require.NoError(t, s.AddInt(3, 3))
	})
	cur := restore.New(r, d)
	cur.Cancel()
	require.True(t, cur.IsEnd())
}
