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

// Package serialize implements the append-only Storage writer that is
// handed to a user's registered serialization callback: the "S" half
// of spec §4.2. It never reads back what it has written; pkg/restore
// is the corresponding reader.
package serialize

import (
	"bytes"
	"encoding/binary"

	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
	"github.com/unikernel-tools/liveupdate/pkg/region"
)

// Storage is passed to a user's serialization callback once the
// system is ready to append typed entries into a named partition.
type Storage struct {
	r *region.Region
}

// New wraps a region for append-only writes inside one partition.
func New(r *region.Region) *Storage {
	return &Storage{r: r}
}

// PutMarker appends a zero-payload MARKER entry used by callers to
// delimit the end of a variable-length structure on restore.
func (s *Storage) PutMarker(id uint16) error {
	return s.r.Append(region.TypeMarker, id, nil)
}

// AddInt appends an INTEGER entry; the value is carried in the
// entry's length field rather than in payload bytes.
func (s *Storage) AddInt(id uint16, v int32) error {
	return s.r.AppendInt(id, v)
}

// AddString appends a STRING entry. The bytes are stored exactly as
// given, with no trailing NUL.
func (s *Storage) AddString(id uint16, v string) error {
	return s.r.Append(region.TypeString, id, []byte(v))
}

// AddBuffer appends a BUFFER entry of raw bytes.
func (s *Storage) AddBuffer(id uint16, v []byte) error {
	return s.r.Append(region.TypeBuffer, id, v)
}

// Scalar bounds the element types accepted by AddVector/AsVector: any
// fixed-size numeric type whose wire size is well-defined regardless
// of the compiler that built this image. Layout compatibility of
// user-defined struct PODs across builds is explicitly not
// guaranteed (see the open question in SPEC_FULL.md §9) — only these
// scalar kinds are safe to round-trip across a live update.
type Scalar interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// AddVector appends a VECTOR entry: a homogeneous POD array prefixed
// by an element count and element size. The serializer never
// interprets T; it only records its size so restore can reject a
// size mismatch.
func AddVector[T Scalar](s *Storage, id uint16, items []T) error {
	var zero T
	esize := binary.Size(zero)
	if esize <= 0 {
		return liveerr.Newf(liveerr.SizeMismatch, "type has no fixed wire size")
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint64(len(items))) //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, uint64(esize))      //nolint:errcheck
	for _, v := range items {
		binary.Write(&buf, binary.LittleEndian, v) //nolint:errcheck
	}
	return s.r.Append(region.TypeVector, id, buf.Bytes())
}

// AddStringVector appends a STRING_VECTOR entry: a length-prefixed
// count followed by length-prefixed strings, in order.
func (s *Storage) AddStringVector(id uint16, items []string) error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint64(len(items))) //nolint:errcheck
	for _, str := range items {
		binary.Write(&buf, binary.LittleEndian, uint32(len(str))) //nolint:errcheck
		buf.WriteString(str)
	}
	return s.r.Append(region.TypeStringVector, id, buf.Bytes())
}

// TCPMarshaler is implemented by a snapshot of a live TCP connection
// (pkg/tcpsnap.Snapshot). Keeping the dependency this direction (an
// interface here, not an import of pkg/tcpsnap) avoids a storage<->tcpsnap
// import cycle, matching the "registry of callbacks, not virtual
// dispatch" guidance for polymorphic payloads in SPEC_FULL.md §9.
type TCPMarshaler interface {
	MarshalTCPSnapshot() ([]byte, error)
}

// AddConnection appends a TCP entry: an opaque blob produced by the
// TCP snapshot codec.
func (s *Storage) AddConnection(id uint16, conn TCPMarshaler) error {
	payload, err := conn.MarshalTCPSnapshot()
	if err != nil {
		return err
	}
	return s.r.Append(region.TypeTCP, id, payload)
}

// StreamMarshaler is implemented by a polymorphic stream snapshot
// (e.g. a TLS session). SubID selects which deserializer restore
// should invoke; it is carried in the entry's id field, which means a
// STREAM entry's "id" is not a user-chosen tag like other entries.
type StreamMarshaler interface {
	SubID() uint16
	MarshalStream() ([]byte, error)
}

// AddStream appends a STREAM entry.
func (s *Storage) AddStream(m StreamMarshaler) error {
	payload, err := m.MarshalStream()
	if err != nil {
		return err
	}
	return s.r.Append(region.TypeStream, m.SubID(), payload)
}
