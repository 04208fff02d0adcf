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

// Package elfscan validates and inspects the ELF image carried inside
// a live-update blob: the header lookup, class-specific expected-size
// computation, and program-header segment resolution that
// pkg/hotswap needs before it can safely replace the running kernel.
package elfscan

import (
	"encoding/binary"

	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
)

const (
	// SectorSize is the offset a bootloader-prepended blob is retried
	// at when no ELF header is found at offset 0.
	SectorSize = 512
	// MinimumSize is the smallest blob that could possibly hold a
	// legal ELF header and program header table.
	MinimumSize = 164

	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7F, 'E', 'L', 'F'

	eiClassOffset = 4
	class32       = 1
	class64       = 2
)

// Segment describes the single loadable program-header entry a live
// update image is expected to carry: the new kernel's code+data.
type Segment struct {
	FileOffset int64  // offset of the segment's bytes within the ELF image
	FileSize   int64  // p_filesz
	LoadAddr   uint64 // physical load address (p_paddr)
}

// Image is the result of scanning a live-update blob for a valid ELF
// header, in either of its two legal locations.
type Image struct {
	// HeaderOffset is 0 or SectorSize: where inside the blob the ELF
	// header itself starts.
	HeaderOffset int
	EntryPoint   uint64
	Segment      Segment
	// ExpectedSize is the total byte length the image claims to span,
	// computed the same way the original does: shnum*shentsize+shoff,
	// relative to HeaderOffset, matching
	// original_source/lib/LiveUpdate/src/update.cpp's expected_total.
	ExpectedSize int64
}

// Scan locates an ELF header in blob at offset 0 or at SectorSize (to
// skip a prepended bootloader sector), validates that blob is large
// enough to hold the image it describes, and resolves the entry point
// and load segment for the new kernel.
func Scan(blob []byte) (Image, error) {
	if len(blob) < MinimumSize {
		return Image{}, liveerr.Newf(liveerr.ElfInvalid, "blob too small to be a valid ELF (%d bytes)", len(blob))
	}
	// Only a missing/wrong magic falls through to the sector-offset
	// retry; a header that's present but describes a too-short blob
	// is a real ElfIncomplete failure, not grounds to look elsewhere.
	if len(blob) >= MinimumSize && hasMagic(blob) {
		return scanAt(blob, 0)
	}
	if len(blob) >= SectorSize+MinimumSize && hasMagic(blob[SectorSize:]) {
		return scanAt(blob, SectorSize)
	}
	return Image{}, liveerr.New(liveerr.ElfInvalid, "no ELF header found at offset 0 or sector 1")
}

func hasMagic(hdr []byte) bool {
	return len(hdr) >= 4 &&
		hdr[0] == elfMagic0 && hdr[1] == elfMagic1 && hdr[2] == elfMagic2 && hdr[3] == elfMagic3
}

func scanAt(blob []byte, at int) (Image, error) {
	if at+MinimumSize > len(blob) {
		return Image{}, liveerr.New(liveerr.ElfInvalid, "not enough room for an ELF header at this offset")
	}
	hdr := blob[at:]

	var img Image
	var err error
	switch hdr[eiClassOffset] {
	case class32:
		img, err = scan32(hdr)
	case class64:
		img, err = scan64(hdr)
	default:
		return Image{}, liveerr.New(liveerr.ElfMalformed, "unrecognized ELF class")
	}
	if err != nil {
		return Image{}, err
	}
	img.HeaderOffset = at

	if int64(len(blob)) < img.ExpectedSize || img.ExpectedSize < MinimumSize {
		return Image{}, liveerr.Newf(liveerr.ElfIncomplete,
			"blob length %d does not match expected ELF size %d", len(blob), img.ExpectedSize)
	}
	return img, nil
}

// Elf32_Ehdr layout (after e_ident[16]):
// e_type(2) e_machine(2) e_version(4) e_entry(4) e_phoff(4) e_shoff(4)
// e_flags(4) e_ehsize(2) e_phentsize(2) e_phnum(2) e_shentsize(2) e_shnum(2) e_shstrndx(2)
func scan32(hdr []byte) (Image, error) {
	const (
		offEntry     = 16 + 8
		offPhoff     = offEntry + 4
		offShoff     = offPhoff + 4
		offShentsize = offShoff + 4 + 4 + 2 + 2 + 2
		offShnum     = offShentsize + 2
	)
	entry := uint64(binary.LittleEndian.Uint32(hdr[offEntry:]))
	phoff := binary.LittleEndian.Uint32(hdr[offPhoff:])
	shoff := binary.LittleEndian.Uint32(hdr[offShoff:])
	shentsize := binary.LittleEndian.Uint16(hdr[offShentsize:])
	shnum := binary.LittleEndian.Uint16(hdr[offShnum:])

	seg, err := phdr32(hdr, int(phoff))
	if err != nil {
		return Image{}, err
	}
	return Image{
		EntryPoint:   entry,
		Segment:      seg,
		ExpectedSize: int64(shnum)*int64(shentsize) + int64(shoff),
	}, nil
}

// Elf32_Phdr: p_type(4) p_offset(4) p_vaddr(4) p_paddr(4) p_filesz(4) p_memsz(4) p_flags(4) p_align(4)
func phdr32(hdr []byte, phoff int) (Segment, error) {
	const phdrSize = 32
	if phoff+phdrSize > len(hdr) {
		return Segment{}, liveerr.New(liveerr.ElfMalformed, "program header table out of bounds")
	}
	p := hdr[phoff:]
	offset := binary.LittleEndian.Uint32(p[4:])
	paddr := binary.LittleEndian.Uint32(p[12:])
	filesz := binary.LittleEndian.Uint32(p[16:])
	return Segment{FileOffset: int64(offset), FileSize: int64(filesz), LoadAddr: uint64(paddr)}, nil
}

// Elf64_Ehdr layout (after e_ident[16]):
// e_type(2) e_machine(2) e_version(4) e_entry(8) e_phoff(8) e_shoff(8)
// e_flags(4) e_ehsize(2) e_phentsize(2) e_phnum(2) e_shentsize(2) e_shnum(2) e_shstrndx(2)
func scan64(hdr []byte) (Image, error) {
	const (
		offEntry     = 16 + 8
		offPhoff     = offEntry + 8
		offShoff     = offPhoff + 8
		offShentsize = offShoff + 8 + 4 + 2 + 2 + 2
		offShnum     = offShentsize + 2
	)
	if offShnum+2 > len(hdr) {
		return Image{}, liveerr.New(liveerr.ElfMalformed, "ELF64 header out of bounds")
	}
	entry := binary.LittleEndian.Uint64(hdr[offEntry:])
	phoff := binary.LittleEndian.Uint64(hdr[offPhoff:])
	shoff := binary.LittleEndian.Uint64(hdr[offShoff:])
	shentsize := binary.LittleEndian.Uint16(hdr[offShentsize:])
	shnum := binary.LittleEndian.Uint16(hdr[offShnum:])

	seg, err := phdr64(hdr, int(phoff))
	if err != nil {
		return Image{}, err
	}
	return Image{
		EntryPoint:   entry,
		Segment:      seg,
		ExpectedSize: int64(shnum)*int64(shentsize) + int64(shoff),
	}, nil
}

// Elf64_Phdr: p_type(4) p_flags(4) p_offset(8) p_vaddr(8) p_paddr(8) p_filesz(8) p_memsz(8) p_align(8)
func phdr64(hdr []byte, phoff int) (Segment, error) {
	const phdrSize = 56
	if phoff+phdrSize > len(hdr) {
		return Segment{}, liveerr.New(liveerr.ElfMalformed, "program header table out of bounds")
	}
	p := hdr[phoff:]
	offset := binary.LittleEndian.Uint64(p[8:])
	paddr := binary.LittleEndian.Uint64(p[24:])
	filesz := binary.LittleEndian.Uint64(p[32:])
	return Segment{FileOffset: int64(offset), FileSize: int64(filesz), LoadAddr: paddr}, nil
}
