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

package region

import "encoding/binary"

// EntryType is the 16-bit type tag at the start of every entry.
type EntryType int16

const (
	// TypeEnd terminates a partition's (or the region's) entry list.
	TypeEnd EntryType = iota
	// TypeMarker delimits variable-length user structures; no payload.
	TypeMarker
	// TypeInt stores its value directly in the length field; no
	// payload bytes.
	TypeInt
	// TypeString stores raw bytes, no trailing NUL.
	TypeString
	// TypeBuffer stores an opaque raw byte span.
	TypeBuffer
	// TypeVector stores a homogeneous POD array, count+esize prefixed.
	TypeVector
	// TypeStringVector stores a length-prefixed list of strings.
	TypeStringVector
	// TypeTCP stores an opaque TCP connection snapshot.
	TypeTCP
	// TypeStream stores an opaque stream snapshot; the entry id field
	// carries the stream implementation's subid.
	TypeStream
)

func (t EntryType) String() string {
	switch t {
	case TypeEnd:
		return "END"
	case TypeMarker:
		return "MARKER"
	case TypeInt:
		return "INTEGER"
	case TypeString:
		return "STRING"
	case TypeBuffer:
		return "BUFFER"
	case TypeVector:
		return "VECTOR"
	case TypeStringVector:
		return "STRING_VECTOR"
	case TypeTCP:
		return "TCP"
	case TypeStream:
		return "STREAM"
	default:
		return "UNKNOWN"
	}
}

// EntryView is a decoded, read-only view of one entry, used by the
// restore cursor to walk a partition without repeatedly re-deriving
// offsets.
type EntryView struct {
	Type    EntryType
	ID      uint16
	Length  int
	Payload []byte
	// offset is this entry's byte offset within the entry area (i.e.
	// relative to HeaderSize), used to compute the next entry's offset.
	offset int
}

// Size is the total on-wire size of the entry, header included.
func (e EntryView) Size() int { return EntryHeaderSize + len(e.Payload) }

// EntryAt decodes the entry at byte offset `at` within the entry area
// of buf (buf is the full region, including its header).
func EntryAt(buf []byte, at int) EntryView {
	base := HeaderSize + at
	typ := EntryType(int16(binary.LittleEndian.Uint16(buf[base:])))
	id := binary.LittleEndian.Uint16(buf[base+2:])
	length := int(int32(binary.LittleEndian.Uint32(buf[base+4:])))
	var payload []byte
	// INTEGER entries carry their value directly in the length field
	// and write no payload bytes; treating a positive value as a byte
	// count would read past the entry or panic.
	if typ != TypeInt && length > 0 {
		payload = buf[base+EntryHeaderSize : base+EntryHeaderSize+length]
	}
	return EntryView{Type: typ, ID: id, Length: length, Payload: payload, offset: at}
}

// NextOffset returns the entry-area offset of the entry following e.
func (e EntryView) NextOffset() int { return e.offset + e.Size() }

// Offset returns e's own entry-area offset.
func (e EntryView) Offset() int { return e.offset }
