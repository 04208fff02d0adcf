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

// Package hotswap implements the Update Executor: the eleven-step
// sequence that validates a candidate kernel image, serializes user
// state into a storage region, quiesces devices, and replaces the
// running image in place. Architecture-specific steps (interrupt
// masking, the trampoline copy-and-jump) live behind the Platform
// interface; everything else runs on ordinary Go slices.
package hotswap

import (
	"context"
	"unsafe"

	"github.com/unikernel-tools/liveupdate/pkg/elfscan"
	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
	"github.com/unikernel-tools/liveupdate/pkg/region"
	"github.com/unikernel-tools/liveupdate/pkg/serialize"
)

// PartitionWriter pairs a partition name with the user callback that
// populates it, mirroring the storage_callbacks map the original
// iterates over in step 7.
type PartitionWriter struct {
	Name  string
	Write func(*serialize.Storage) error
}

// RollbackPublisher hands the previous image's rollback blob to the
// platform's soft-reset store ahead of the jump (step 9), returning
// an opaque handle the trampoline preserves across it.
type RollbackPublisher interface {
	PublishSoftReset(blob []byte) (uintptr, error)
}

type noopPublisher struct{}

func (noopPublisher) PublishSoftReset([]byte) (uintptr, error) { return 0, nil }

// ExecOptions bundles everything Exec needs to replace the running
// image in place.
type ExecOptions struct {
	Blob       []byte
	Location   []byte
	Partitions []PartitionWriter

	UseChecksums  bool
	ZeroOldMemory bool
	ExtraChecks   bool // per-entry payload CRC32, in addition to UseChecksums' partition-level CRC
	HeapEnd       uint64 // zero-until bound for step 11; used only if ZeroOldMemory

	Platform     Platform
	Devices      *DeviceSet
	Publisher    RollbackPublisher
	RollbackBlob []byte

	// Heap guards the running image's ELF extent and current heap
	// against the storage location (step 2 of Exec). A nil Heap is
	// permissive — see HeapExtent.
	Heap HeapExtent
}

// addrOf returns buf's starting address as an integer, for comparison
// against a HeapExtent's guarded ranges. Go gives no other way to ask
// "where does this slice live" relative to the image/heap layout a
// real HeapExtent implementation tracks.
func addrOf(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

// Exec runs the Update Executor end to end: validate, write state,
// quiesce devices, publish the rollback handoff, and jump. It returns
// the number of bytes written to Location on success. It returns an
// error for a validation failure, or when writing user state,
// quiescing devices, publishing the rollback handoff or running the
// trampoline fails; a real Platform's trampoline never returns at all
// once called.
func Exec(opts ExecOptions) (int, error) {
	platform := opts.Platform
	if platform == nil {
		platform = &NoopPlatform{}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}

	// 1. disable preemption
	platform.DisableInterrupts()

	// 2. validate buffer
	if len(opts.Blob) < elfscan.MinimumSize {
		return 0, liveerr.New(liveerr.ElfInvalid, "buffer too small to be valid ELF")
	}
	if len(opts.Location) < region.HeaderSize {
		return 0, liveerr.New(liveerr.InvalidRegion, "storage location too small for a LiveUpdate header")
	}
	if opts.Heap != nil && opts.Heap.Overlaps(addrOf(opts.Location), len(opts.Location)) {
		return 0, liveerr.New(liveerr.InvalidRegion, "storage location overlaps the running image's ELF extent or heap")
	}

	// 3-4. locate ELF header, compute expected size
	img, err := elfscan.Scan(opts.Blob)
	if err != nil {
		return 0, err
	}

	// 5. entry point already resolved by elfscan.Scan (ELF entry field;
	// this port has no known-kernel-start symbol lookup)

	// 6. locate load target
	if img.Segment.FileOffset == 0 || img.Segment.LoadAddr == 0 || img.Segment.FileSize <= 64 {
		return 0, liveerr.New(liveerr.ElfMalformed, "ELF program header malformed")
	}
	segStart := img.HeaderOffset + int(img.Segment.FileOffset)
	if segStart < 0 || segStart+int(img.Segment.FileSize) > len(opts.Blob) {
		return 0, liveerr.New(liveerr.ElfIncomplete, "blob too short to contain its own load segment")
	}
	payload := opts.Blob[segStart : segStart+int(img.Segment.FileSize)]

	// 7. write user state
	n, err := Store(opts.Location, opts.Partitions, opts.UseChecksums, opts.ExtraChecks)
	if err != nil {
		return 0, err
	}

	// 8. quiesce devices
	if opts.Devices != nil {
		if err := opts.Devices.QuiesceAll(context.Background()); err != nil {
			return 0, err
		}
	}

	// 9. publish rollback handoff
	var handoff uintptr
	if len(opts.RollbackBlob) > elfscan.MinimumSize {
		handoff, err = publisher.PublishSoftReset(opts.RollbackBlob)
		if err != nil {
			return 0, err
		}
	}

	// 10-11. copy trampoline and jump
	var zeroUntil uint64
	if opts.ZeroOldMemory {
		zeroUntil = opts.HeapEnd
	}
	if err := platform.RunTrampoline(img.Segment.LoadAddr, payload, img.EntryPoint, handoff, zeroUntil); err != nil {
		return 0, err
	}
	return n, nil
}

// Store writes user state (step 7 of Exec) without validating or
// jumping to any ELF image: register_partition's callbacks run,
// finalize the header, and return the number of bytes written. This
// is the facade's `store(location)` operation (spec.md §6), used to
// snapshot state for a later resume without performing an image
// replacement. extraChecks enables EXTRA_CHECKS's per-entry payload
// CRC32, on top of useChecksums' partition-level CRC.
func Store(location []byte, partitions []PartitionWriter, useChecksums, extraChecks bool) (int, error) {
	r, err := region.New(location, useChecksums)
	if err != nil {
		return 0, err
	}
	r.SetExtraChecks(extraChecks)
	for _, p := range partitions {
		idx, err := r.CreatePartition(p.Name)
		if err != nil {
			return 0, err
		}
		if p.Write != nil {
			if err := p.Write(serialize.New(r)); err != nil {
				return 0, err
			}
		}
		if err := r.FinishPartition(idx); err != nil {
			return 0, err
		}
	}
	if err := r.Finalize(); err != nil {
		return 0, err
	}
	return r.StoredLength(), nil
}
