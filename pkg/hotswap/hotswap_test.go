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

package hotswap_test

import (
	"context"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/unikernel-tools/liveupdate/pkg/hotswap"
	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
	"github.com/unikernel-tools/liveupdate/pkg/region"
	"github.com/unikernel-tools/liveupdate/pkg/restore"
	"github.com/unikernel-tools/liveupdate/pkg/serialize"
)

// buildELF32 mirrors pkg/elfscan's test fixture: a minimal but
// structurally valid ELF32 image with one program header and one
// section header entry.
func buildELF32(entry, phoff, shoff uint32, shnum, shentsize uint16, segOffset, segFilesz, segPaddr uint32, total int) []byte {
	buf := make([]byte, total)
	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = 1 // ELFCLASS32
	binary.LittleEndian.PutUint32(buf[16+8:], entry)
	binary.LittleEndian.PutUint32(buf[16+8+4:], phoff)
	binary.LittleEndian.PutUint32(buf[16+8+4+4:], shoff)
	binary.LittleEndian.PutUint16(buf[16+8+4+4+4+4+2+2+2:], shentsize)
	binary.LittleEndian.PutUint16(buf[16+8+4+4+4+4+2+2+2+2:], shnum)

	binary.LittleEndian.PutUint32(buf[int(phoff)+4:], segOffset)
	binary.LittleEndian.PutUint32(buf[int(phoff)+12:], segPaddr)
	binary.LittleEndian.PutUint32(buf[int(phoff)+16:], segFilesz)
	return buf
}

type fakeDevice struct {
	name     string
	flushed  *bool
	masked   *bool
}

func (d fakeDevice) Name() string { return d.name }
func (d fakeDevice) Flush(ctx context.Context) error {
	*d.flushed = true
	return nil
}
func (d fakeDevice) Mask() error {
	*d.masked = true
	return nil
}

func TestExecFullSequence(t *testing.T) {
	blob := buildELF32(0x9000, 52, 280, 1, 20, 100, 150, 0x300000, 300)
	location := make([]byte, region.HeaderSize+4096)

	var f1, m1, f2, m2 bool
	devices := hotswap.NewDeviceSet(
		fakeDevice{name: "nic0", flushed: &f1, masked: &m1},
		fakeDevice{name: "nic1", flushed: &f2, masked: &m2},
	)

	platform := &hotswap.NoopPlatform{}

	n, err := hotswap.Exec(hotswap.ExecOptions{
		Blob:         blob,
		Location:     location,
		UseChecksums: true,
		Platform:     platform,
		Devices:      devices,
		Partitions: []hotswap.PartitionWriter{
			{Name: "boot", Write: func(s *serialize.Storage) error {
				return s.AddInt(1, 42)
			}},
		},
	})
	require.NoError(t, err)
	require.Greater(t, n, region.HeaderSize)

	require.True(t, platform.Jumped)
	require.Equal(t, uint64(0x300000), platform.LastDestPhys)
	require.Equal(t, 150, platform.LastSrcLen)
	require.Equal(t, uint64(0x9000), platform.LastEntry)
	require.True(t, f1 && m1 && f2 && m2)

	rr := region.Wrap(location, true)
	require.True(t, rr.Validate())
	idx, err := rr.FindPartition("boot")
	require.NoError(t, err)
	d := rr.Descriptor(idx)
	cur := restore.New(rr, d)
	v, err := cur.AsInt()
	require.NoError(t, err)
	require.Equal(t, int32(42), v)
}

func TestExecRejectsTooSmallBlob(t *testing.T) {
	_, err := hotswap.Exec(hotswap.ExecOptions{
		Blob:     make([]byte, 10),
		Location: make([]byte, region.HeaderSize+64),
	})
	require.Error(t, err)
	require.True(t, liveerr.Is(err, liveerr.ElfInvalid))
}

func TestExecRejectsTooSmallLocation(t *testing.T) {
	blob := buildELF32(0x9000, 52, 280, 1, 20, 100, 150, 0x300000, 300)
	_, err := hotswap.Exec(hotswap.ExecOptions{
		Blob:     blob,
		Location: make([]byte, 4),
	})
	require.Error(t, err)
	require.True(t, liveerr.Is(err, liveerr.InvalidRegion))
}

func TestExecRejectsHeapOverlap(t *testing.T) {
	blob := buildELF32(0x9000, 52, 280, 1, 20, 100, 150, 0x300000, 300)
	location := make([]byte, region.HeaderSize+4096)

	_, err := hotswap.Exec(hotswap.ExecOptions{
		Blob:     blob,
		Location: location,
		Heap:     hotswap.StaticHeapExtent{Start: uintptr(unsafe.Pointer(&location[0])), Length: len(location)},
	})
	require.Error(t, err)
	require.True(t, liveerr.Is(err, liveerr.InvalidRegion))
}

func TestExecRunsWithExtraChecksEnabled(t *testing.T) {
	blob := buildELF32(0x9000, 52, 280, 1, 20, 100, 150, 0x300000, 300)
	location := make([]byte, region.HeaderSize+4096)

	n, err := hotswap.Exec(hotswap.ExecOptions{
		Blob:         blob,
		Location:     location,
		UseChecksums: true,
		ExtraChecks:  true,
		Platform:     &hotswap.NoopPlatform{},
		Partitions: []hotswap.PartitionWriter{
			{Name: "boot", Write: func(s *serialize.Storage) error {
				return s.AddString(1, "hello live update")
			}},
		},
	})
	require.NoError(t, err)
	require.Greater(t, n, region.HeaderSize)

	rr := region.Wrap(location, true)
	rr.SetExtraChecks(true)
	require.True(t, rr.Validate())
	idx, err := rr.FindPartition("boot")
	require.NoError(t, err)
	cur := restore.New(rr, rr.Descriptor(idx))
	got, err := cur.AsString()
	require.NoError(t, err)
	require.Equal(t, "hello live update", got)
}

func TestExecRejectsMalformedSegment(t *testing.T) {
	// segOffset 0 is treated as "no segment".
	blob := buildELF32(0x9000, 52, 280, 1, 20, 0, 150, 0x300000, 300)
	_, err := hotswap.Exec(hotswap.ExecOptions{
		Blob:     blob,
		Location: make([]byte, region.HeaderSize+4096),
	})
	require.Error(t, err)
	require.True(t, liveerr.Is(err, liveerr.ElfMalformed))
}
