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

// Package region implements the LiveUpdate storage region: a header,
// a fixed-capacity partition table, and a contiguous area of typed
// entries, all packed little-endian into a caller-supplied byte
// slice. It owns no memory of its own; the caller is responsible for
// the slice's lifetime and for ensuring it lies outside the running
// image's heap and ELF extent (see InvalidRegion in pkg/liveerr).
//
// Entries are addressed by byte offset into the slice, never by Go
// pointer, so the same logic works whether the slice backs a real
// mmap'd region or, as in tests and cmd/liveupdatectl, a plain file
// read into memory.
package region

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
)

// MagicValue is written at offset 0 of every region.
const MagicValue uint64 = 0xBAADB33FDEADC0DE

// NameLen is the fixed, NUL-padded width of a partition name.
const NameLen = 16

// MaxPartitions bounds the partition table's capacity.
const MaxPartitions = 16

const (
	descNameOff   = 0
	descOffsetOff = NameLen
	descLengthOff = NameLen + 4
	descCRCOff    = NameLen + 8
	descSize      = NameLen + 12 // name + offset + length + crc
)

const (
	offMagic      = 0
	offCRC        = 8
	offPartitions = 12
	offLength     = 16
	offTable      = 20
	// HeaderSize is the fixed prefix occupied by the header and the
	// full partition table, regardless of how many partitions are in
	// use.
	HeaderSize = offTable + MaxPartitions*descSize
)

// EntryHeaderSize is the fixed TLV prefix of every entry: a 16-bit
// type tag, a 16-bit id, and a 32-bit length.
const EntryHeaderSize = 8

// Region wraps a caller-owned byte slice with LiveUpdate's on-disk
// layout. All methods operate directly on the slice; Region keeps no
// state of its own besides the checksum policy.
type Region struct {
	buf          []byte
	useChecksums bool
	extraChecks  bool
}

// Wrap attaches Region semantics to an existing, already-initialized
// buffer (used by Restore/Resume on a region written by a previous
// image).
func Wrap(buf []byte, useChecksums bool) *Region {
	return &Region{buf: buf, useChecksums: useChecksums}
}

// New initializes a fresh, empty header at the start of buf. buf must
// be at least HeaderSize bytes; the caller has already verified buf
// does not overlap the heap or kernel image (see InvalidRegion).
func New(buf []byte, useChecksums bool) (*Region, error) {
	if len(buf) < HeaderSize {
		return nil, liveerr.Newf(liveerr.InvalidRegion,
			"region of %d bytes is smaller than header size %d", len(buf), HeaderSize)
	}
	for i := range buf[:HeaderSize] {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[offMagic:], MagicValue)
	r := &Region{buf: buf, useChecksums: useChecksums}
	return r, nil
}

// Bytes returns the underlying buffer. Exposed so a caller can persist
// or transmit the region verbatim.
func (r *Region) Bytes() []byte { return r.buf }

// SetExtraChecks enables (or disables) a trailing per-entry payload
// CRC32, appended by Append to every entry that carries payload bytes
// and verified by pkg/restore on read (spec.md §6's EXTRA_CHECKS,
// layered on top of UseChecksums' partition-level CRC). It must be set
// consistently between the image that writes a partition and the one
// that later reads it back.
func (r *Region) SetExtraChecks(b bool) { r.extraChecks = b }

// ExtraChecks reports whether per-entry payload CRCs are enabled.
func (r *Region) ExtraChecks() bool { return r.extraChecks }

// Len returns the capacity of the underlying buffer.
func (r *Region) Len() int { return len(r.buf) }

func (r *Region) magic() uint64   { return binary.LittleEndian.Uint64(r.buf[offMagic:]) }
func (r *Region) crc() uint32     { return binary.LittleEndian.Uint32(r.buf[offCRC:]) }
func (r *Region) setCRC(v uint32) { binary.LittleEndian.PutUint32(r.buf[offCRC:], v) }

// Partitions returns the number of partition-table slots that have
// ever been created (a zeroed partition still occupies its slot; see
// ZeroPartition).
func (r *Region) Partitions() int {
	return int(binary.LittleEndian.Uint32(r.buf[offPartitions:]))
}

func (r *Region) setPartitions(n int) {
	binary.LittleEndian.PutUint32(r.buf[offPartitions:], uint32(n))
}

// UsedLength returns the number of entry-area bytes in use.
func (r *Region) UsedLength() int {
	return int(binary.LittleEndian.Uint32(r.buf[offLength:]))
}

func (r *Region) setUsedLength(n int) {
	binary.LittleEndian.PutUint32(r.buf[offLength:], uint32(n))
}

// StoredLength returns HeaderSize+UsedLength(), the number of bytes of
// buf actually occupied by the region.
func (r *Region) StoredLength() int {
	return HeaderSize + r.UsedLength()
}

func (r *Region) tableSlot(i int) []byte {
	off := offTable + i*descSize
	return r.buf[off : off+descSize]
}

// Descriptor is a decoded view of one partition-table slot.
type Descriptor struct {
	Name   string
	Offset int
	Length int
	CRC    uint32
}

func decodeDescriptor(slot []byte) Descriptor {
	nameRaw := slot[descNameOff : descNameOff+NameLen]
	n := NameLen
	for i, b := range nameRaw {
		if b == 0 {
			n = i
			break
		}
	}
	return Descriptor{
		Name:   string(nameRaw[:n]),
		Offset: int(binary.LittleEndian.Uint32(slot[descOffsetOff:])),
		Length: int(binary.LittleEndian.Uint32(slot[descLengthOff:])),
		CRC:    binary.LittleEndian.Uint32(slot[descCRCOff:]),
	}
}

func encodeDescriptor(slot []byte, d Descriptor) error {
	if len(d.Name) > NameLen {
		return liveerr.Newf(liveerr.NameTooLong, "partition name %q exceeds %d bytes", d.Name, NameLen)
	}
	for i := range slot[descNameOff : descNameOff+NameLen] {
		slot[descNameOff+i] = 0
	}
	copy(slot[descNameOff:], d.Name)
	binary.LittleEndian.PutUint32(slot[descOffsetOff:], uint32(d.Offset))
	binary.LittleEndian.PutUint32(slot[descLengthOff:], uint32(d.Length))
	binary.LittleEndian.PutUint32(slot[descCRCOff:], d.CRC)
	return nil
}

// CreatePartition allocates a new named partition starting at the
// current write cursor and returns its table index.
func (r *Region) CreatePartition(name string) (int, error) {
	if len(name) > NameLen {
		return 0, liveerr.Newf(liveerr.NameTooLong, "partition name %q exceeds %d bytes", name, NameLen)
	}
	n := r.Partitions()
	if n >= MaxPartitions {
		return 0, liveerr.New(liveerr.PartitionTableFull, "partition table is full")
	}
	if _, err := r.FindPartition(name); err == nil {
		return 0, liveerr.Newf(liveerr.DuplicateKey, "partition %q already exists", name)
	}
	if err := encodeDescriptor(r.tableSlot(n), Descriptor{Name: name, Offset: r.UsedLength()}); err != nil {
		return 0, err
	}
	r.setPartitions(n + 1)
	return n, nil
}

// FindPartition looks up a partition by name. When checksums are
// enabled, a partition whose stored CRC does not match its current
// entry bytes fails hard with ChecksumMismatch rather than being
// treated as not-found.
func (r *Region) FindPartition(name string) (int, error) {
	for i := 0; i < r.Partitions(); i++ {
		d := decodeDescriptor(r.tableSlot(i))
		if d.Name == "" || d.Name != name {
			continue
		}
		if r.useChecksums {
			got := r.partitionChecksum(d)
			if got != d.CRC {
				return 0, liveerr.Newf(liveerr.ChecksumMismatch, "corrupt partition %q", name)
			}
		}
		return i, nil
	}
	return 0, liveerr.Newf(liveerr.UnknownPartition, "no partition named %q", name)
}

// Descriptor returns the decoded table entry at idx.
func (r *Region) Descriptor(idx int) Descriptor {
	return decodeDescriptor(r.tableSlot(idx))
}

func (r *Region) entryAreaBase() int { return HeaderSize }

// entryBytes returns the slice of buf holding partition idx's entries.
func (r *Region) entryBytes(d Descriptor) []byte {
	base := r.entryAreaBase()
	return r.buf[base+d.Offset : base+d.Offset+d.Length]
}

func (r *Region) partitionChecksum(d Descriptor) uint32 {
	return crc32.ChecksumIEEE(r.entryBytes(d))
}

// Append writes one TLV entry at the current cursor. It does not
// advance any partition's recorded length (FinishPartition does
// that); it only advances the region-wide write cursor shared by
// whichever partition is currently open, mirroring the append-only,
// single-threaded semantics of storage_header::create_entry.
//
// After every append, a terminator entry is re-written at the new tip
// without being counted in UsedLength, so a reader walking a region
// that was interrupted mid-serialization never reads past valid bytes.
//
// When ExtraChecks is enabled, a trailing 4-byte CRC32 of payload is
// appended and counted as part of the entry's length; pkg/restore
// strips and verifies it transparently. TypeEnd and TypeMarker entries
// never carry a payload and are never CRC-guarded this way.
func (r *Region) Append(typ EntryType, id uint16, payload []byte) error {
	if r.extraChecks && typ != TypeEnd && typ != TypeMarker {
		sum := crc32.ChecksumIEEE(payload)
		guarded := make([]byte, len(payload)+4)
		copy(guarded, payload)
		binary.LittleEndian.PutUint32(guarded[len(payload):], sum)
		payload = guarded
	}
	cur := r.UsedLength()
	need := EntryHeaderSize + len(payload)
	if r.entryAreaBase()+cur+need+EntryHeaderSize > len(r.buf) {
		return liveerr.Newf(liveerr.InvalidRegion, "append of %d bytes would overflow region", need)
	}
	base := r.entryAreaBase() + cur
	binary.LittleEndian.PutUint16(r.buf[base:], uint16(typ))
	binary.LittleEndian.PutUint16(r.buf[base+2:], id)
	binary.LittleEndian.PutUint32(r.buf[base+4:], uint32(len(payload)))
	copy(r.buf[base+EntryHeaderSize:], payload)
	r.setUsedLength(cur + need)
	r.writeTipCanary()
	return nil
}

// AppendInt writes an INTEGER entry whose value is carried directly
// in the length field, with zero payload bytes, saving storage space
// versus a general buffer entry.
func (r *Region) AppendInt(id uint16, value int32) error {
	cur := r.UsedLength()
	need := EntryHeaderSize
	if r.entryAreaBase()+cur+need+EntryHeaderSize > len(r.buf) {
		return liveerr.New(liveerr.InvalidRegion, "append of int entry would overflow region")
	}
	base := r.entryAreaBase() + cur
	binary.LittleEndian.PutUint16(r.buf[base:], uint16(TypeInt))
	binary.LittleEndian.PutUint16(r.buf[base+2:], id)
	binary.LittleEndian.PutUint32(r.buf[base+4:], uint32(value))
	r.setUsedLength(cur + need)
	r.writeTipCanary()
	return nil
}

// writeTipCanary writes a provisional END entry at the current tip
// without counting it toward UsedLength, keeping a truncated region
// walkable up to the last fully-written entry.
func (r *Region) writeTipCanary() {
	base := r.entryAreaBase() + r.UsedLength()
	if base+EntryHeaderSize > len(r.buf) {
		return
	}
	binary.LittleEndian.PutUint16(r.buf[base:], uint16(TypeEnd))
	binary.LittleEndian.PutUint16(r.buf[base+2:], 0)
	binary.LittleEndian.PutUint32(r.buf[base+4:], 0)
}

// FinishPartition writes a terminal END entry, records the
// partition's length, and (if checksums are enabled) its CRC.
func (r *Region) FinishPartition(idx int) error {
	if err := r.Append(TypeEnd, 0, nil); err != nil {
		return err
	}
	slot := r.tableSlot(idx)
	d := decodeDescriptor(slot)
	d.Length = r.UsedLength() - d.Offset
	if r.useChecksums {
		d.CRC = r.partitionChecksum(d)
	} else {
		d.CRC = 0
	}
	return encodeDescriptor(slot, d)
}

// Finalize writes a final END entry outside any partition and
// computes the header CRC over the header and all entry bytes. After
// Finalize the region is read-only.
func (r *Region) Finalize() error {
	if err := r.Append(TypeEnd, 0, nil); err != nil {
		return err
	}
	if r.useChecksums {
		r.setCRC(0)
		r.setCRC(crc32.ChecksumIEEE(r.buf[:r.StoredLength()]))
	} else {
		r.setCRC(0)
	}
	return nil
}

// Validate reports whether the region's magic (and, if checksums are
// enabled, its CRC) are intact.
func (r *Region) Validate() bool {
	if r.magic() != MagicValue {
		return false
	}
	if !r.useChecksums {
		return true
	}
	saved := r.crc()
	r.setCRC(0)
	got := crc32.ChecksumIEEE(r.buf[:r.StoredLength()])
	r.setCRC(saved)
	return got == saved
}

// ZeroPartition wipes a partition's entry bytes and clears its table
// slot, then regenerates the header CRC so the region remains
// internally consistent. If no partitions remain live afterward, the
// whole header is zeroed (Zero).
func (r *Region) ZeroPartition(idx int) error {
	slot := r.tableSlot(idx)
	d := decodeDescriptor(slot)
	base := r.entryAreaBase() + d.Offset
	for i := 0; i < d.Length; i++ {
		r.buf[base+i] = 0
	}
	for i := range slot {
		slot[i] = 0
	}
	if r.livePartitions() == 0 {
		r.Zero()
		return nil
	}
	if r.useChecksums {
		r.setCRC(0)
		r.setCRC(crc32.ChecksumIEEE(r.buf[:r.StoredLength()]))
	}
	return nil
}

func (r *Region) livePartitions() int {
	n := 0
	for i := 0; i < r.Partitions(); i++ {
		if decodeDescriptor(r.tableSlot(i)).Name != "" {
			n++
		}
	}
	return n
}

// Zero wipes the entire header and entries area, including the magic,
// so Validate subsequently returns false.
func (r *Region) Zero() {
	n := r.StoredLength()
	if n > len(r.buf) {
		n = len(r.buf)
	}
	for i := 0; i < n; i++ {
		r.buf[i] = 0
	}
}
