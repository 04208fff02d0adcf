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

// Package restore implements the forward-cursor Deserializer (Restore)
// that walks one partition's entries in the exact order they were
// serialized: the "R" half of spec §4.3.
package restore

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
	"github.com/unikernel-tools/liveupdate/pkg/region"
)

// Restore is a forward cursor over one partition's entries.
type Restore struct {
	buf         []byte
	end         int // entry-area offset one past the partition's last byte
	cur         region.EntryView
	extraChecks bool
}

// New positions a cursor at the first entry of the partition described
// by d within r. extraChecks is inherited from r, so a caller never
// has to track it separately from the region it came from.
func New(r *region.Region, d region.Descriptor) *Restore {
	rr := &Restore{buf: r.Bytes(), end: d.Offset + d.Length, extraChecks: r.ExtraChecks()}
	rr.cur = region.EntryAt(rr.buf, d.Offset)
	return rr
}

// payload returns the current entry's payload with its trailing
// extraChecks CRC32 (see region.Region.Append) verified and stripped,
// when extraChecks is enabled and the entry type carries one. A
// mismatch or too-short payload is a hard error: spec.md's EXTRA_CHECKS
// exists to catch silent corruption, not to paper over it.
func (rr *Restore) payload() ([]byte, error) {
	p := rr.cur.Payload
	if !rr.extraChecks {
		return p, nil
	}
	switch rr.cur.Type {
	case region.TypeEnd, region.TypeMarker, region.TypeInt:
		return p, nil
	}
	if len(p) < 4 {
		return nil, liveerr.Newf(liveerr.ChecksumMismatch,
			"entry id %d is too short to carry its extra-checks CRC", rr.cur.ID)
	}
	data, tail := p[:len(p)-4], p[len(p)-4:]
	want := binary.LittleEndian.Uint32(tail)
	if got := crc32.ChecksumIEEE(data); got != want {
		return nil, liveerr.Newf(liveerr.ChecksumMismatch,
			"entry id %d payload CRC %08x does not match stored %08x", rr.cur.ID, got, want)
	}
	return data, nil
}

// Type returns the current entry's type tag.
func (rr *Restore) Type() region.EntryType { return rr.cur.Type }

// ID returns the current entry's id field.
func (rr *Restore) ID() uint16 { return rr.cur.ID }

// Length returns the current entry's declared length (for INTEGER
// entries this is the stored value, not a byte count).
func (rr *Restore) Length() int { return rr.cur.Length }

// Data returns the current entry's raw payload bytes.
func (rr *Restore) Data() []byte { return rr.cur.Payload }

// NextID peeks at the id of the entry following the current one,
// without advancing the cursor. Returns 0 if the current entry is END.
func (rr *Restore) NextID() uint16 {
	if rr.IsEnd() {
		return 0
	}
	next := region.EntryAt(rr.buf, rr.cur.NextOffset())
	return next.ID
}

func (rr *Restore) IsEnd() bool          { return rr.cur.Type == region.TypeEnd }
func (rr *Restore) IsMarker() bool       { return rr.cur.Type == region.TypeMarker }
func (rr *Restore) IsInt() bool         { return rr.cur.Type == region.TypeInt }
func (rr *Restore) IsString() bool       { return rr.cur.Type == region.TypeString }
func (rr *Restore) IsBuffer() bool       { return rr.cur.Type == region.TypeBuffer }
func (rr *Restore) IsVector() bool       { return rr.cur.Type == region.TypeVector }
func (rr *Restore) IsStringVector() bool { return rr.cur.Type == region.TypeStringVector }
func (rr *Restore) IsTCP() bool          { return rr.cur.Type == region.TypeTCP }
func (rr *Restore) IsStream() bool       { return rr.cur.Type == region.TypeStream }

// GoNext advances the cursor to the next entry. It fails if the
// cursor is already positioned on END.
func (rr *Restore) GoNext() error {
	if rr.IsEnd() {
		return liveerr.New(liveerr.WalkPastEnd, "go_next called past END")
	}
	rr.cur = region.EntryAt(rr.buf, rr.cur.NextOffset())
	return nil
}

// PopMarker advances until it finds a MARKER (consuming it) or END.
// found is false if END was reached without encountering a marker.
func (rr *Restore) PopMarker() (id uint16, found bool) {
	for !rr.IsEnd() {
		if rr.IsMarker() {
			id = rr.cur.ID
			_ = rr.GoNext()
			return id, true
		}
		_ = rr.GoNext()
	}
	return 0, false
}

// PopMarkerID behaves like PopMarker but additionally validates that
// the found marker's id matches id.
func (rr *Restore) PopMarkerID(id uint16) error {
	got, found := rr.PopMarker()
	if !found {
		return liveerr.Newf(liveerr.WalkPastEnd, "no marker %d found before END", id)
	}
	if got != id {
		return liveerr.Newf(liveerr.WalkPastEnd, "expected marker %d, found %d", id, got)
	}
	return nil
}

// Cancel advances the cursor to END; it is always safe and never
// fails. The partition is considered fully consumed afterward.
func (rr *Restore) Cancel() {
	for !rr.IsEnd() {
		_ = rr.GoNext()
	}
}

func (rr *Restore) typeMismatch(want region.EntryType) error {
	return liveerr.Newf(liveerr.TypeMismatch,
		"entry id %d is %s, not %s", rr.cur.ID, rr.cur.Type, want)
}

// AsInt reads the current INTEGER entry's value.
func (rr *Restore) AsInt() (int32, error) {
	if !rr.IsInt() {
		return 0, rr.typeMismatch(region.TypeInt)
	}
	return int32(rr.cur.Length), nil
}

// AsString reads the current STRING entry.
func (rr *Restore) AsString() (string, error) {
	if !rr.IsString() {
		return "", rr.typeMismatch(region.TypeString)
	}
	p, err := rr.payload()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// AsBuffer reads the current BUFFER entry.
func (rr *Restore) AsBuffer() ([]byte, error) {
	if !rr.IsBuffer() {
		return nil, rr.typeMismatch(region.TypeBuffer)
	}
	p, err := rr.payload()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

// AsStringVector reads the current STRING_VECTOR entry.
func (rr *Restore) AsStringVector() ([]string, error) {
	if !rr.IsStringVector() {
		return nil, rr.typeMismatch(region.TypeStringVector)
	}
	p, err := rr.payload()
	if err != nil {
		return nil, err
	}
	buf := bytes.NewReader(p)
	var count uint64
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, liveerr.Wrap(liveerr.TypeMismatch, "truncated string vector header", err)
	}
	out := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		var n uint32
		if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
			return nil, liveerr.Wrap(liveerr.TypeMismatch, "truncated string vector item header", err)
		}
		item := make([]byte, n)
		if _, err := io.ReadFull(buf, item); err != nil {
			return nil, liveerr.Wrap(liveerr.TypeMismatch, "truncated string vector item body", err)
		}
		out = append(out, string(item))
	}
	return out, nil
}

// AsTCP returns the current TCP entry's opaque payload, for
// pkg/tcpsnap to decode against a concrete connection table. Kept
// decoupled from pkg/tcpsnap the same way pkg/serialize's
// TCPMarshaler is, to avoid an import cycle.
func (rr *Restore) AsTCP() ([]byte, error) {
	if !rr.IsTCP() {
		return nil, rr.typeMismatch(region.TypeTCP)
	}
	return rr.payload()
}

// AsStream returns the current STREAM entry's subid (carried in the
// id field) and opaque payload, for a caller-side subid registry to
// dispatch to the matching deserializer.
func (rr *Restore) AsStream() (subID uint16, payload []byte, err error) {
	if !rr.IsStream() {
		return 0, nil, rr.typeMismatch(region.TypeStream)
	}
	p, err := rr.payload()
	if err != nil {
		return 0, nil, err
	}
	return rr.cur.ID, p, nil
}

// AsVector reads the current VECTOR entry, validating that the stored
// element size matches sizeof(T) in this build. Only the element size
// is checked: no schema version is recorded for T.
func AsVector[T Scalar](rr *Restore) ([]T, error) {
	if !rr.IsVector() {
		return nil, rr.typeMismatch(region.TypeVector)
	}
	p, err := rr.payload()
	if err != nil {
		return nil, err
	}
	buf := bytes.NewReader(p)
	var count, esize uint64
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, liveerr.Wrap(liveerr.TypeMismatch, "truncated vector header", err)
	}
	if err := binary.Read(buf, binary.LittleEndian, &esize); err != nil {
		return nil, liveerr.Wrap(liveerr.TypeMismatch, "truncated vector header", err)
	}
	var zero T
	want := binary.Size(zero)
	if want <= 0 || uint64(want) != esize {
		return nil, liveerr.Newf(liveerr.SizeMismatch,
			"vector element size %d does not match sizeof(T)=%d", esize, want)
	}
	out := make([]T, count)
	for i := range out {
		if err := binary.Read(buf, binary.LittleEndian, &out[i]); err != nil {
			return nil, liveerr.Wrap(liveerr.TypeMismatch, "truncated vector body", err)
		}
	}
	return out, nil
}

// Scalar mirrors pkg/serialize.Scalar; duplicated rather than imported
// to keep pkg/restore free of a pkg/serialize dependency (both are
// leaves consumed by pkg/liveupdate, not by each other).
type Scalar interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}
