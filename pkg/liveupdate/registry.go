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

// Package liveupdate is the Resume Dispatcher and public facade tying
// together pkg/region, pkg/serialize, pkg/restore, pkg/hotswap, and
// pkg/rollback into the language-neutral API described in spec.md §6:
// register_partition, exec, store, is_resumable, resume, on_resume,
// stored_data_length, the rollback wrappers, os_is_liveupdated, and
// restore_environment.
package liveupdate

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/unikernel-tools/liveupdate/pkg/config"
	"github.com/unikernel-tools/liveupdate/pkg/hotswap"
	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
	"github.com/unikernel-tools/liveupdate/pkg/region"
	"github.com/unikernel-tools/liveupdate/pkg/restore"
	"github.com/unikernel-tools/liveupdate/pkg/rollback"
	"github.com/unikernel-tools/liveupdate/pkg/serialize"
	"github.com/unikernel-tools/liveupdate/pkg/tcpsnap"
)

// StorageFunc is a user-registered partition serialization callback.
type StorageFunc func(*serialize.Storage) error

// ResumeFunc is a user-supplied resume handler: either the default
// passed to Resume, or one registered per-id via OnResume.
type ResumeFunc func(*restore.Restore) error

// Logger is the subset of logrus's interface the registry needs for
// diagnostics; a *logrus.Logger satisfies it directly.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// WakeupNotifier is told about every TCP connection whose restored
// write queue was non-empty, once every resume handler for the
// partition has returned. It is the hosted stand-in for
// serialized_tcp::wakeup_ip_networks()'s "force-start the send queues
// of every slumbering IP stack" pass (spec.md §4.4/§4.6).
type WakeupNotifier interface {
	ForceStartSendQueues(local, remote tcpsnap.Socket)
}

// noopWakeup is the default WakeupNotifier for a hosted process with
// no real IP stack to kick.
type noopWakeup struct{}

func (noopWakeup) ForceStartSendQueues(tcpsnap.Socket, tcpsnap.Socket) {}

// Registry holds the partition-callback table, the legacy per-id
// resume registry, and the rollback controller: the three pieces of
// global mutable state spec.md §9 calls out, modeled as an explicit
// struct per SPEC_FULL.md §9 rather than package globals, with
// package-level convenience wrappers in api.go using a default
// instance.
type Registry struct {
	mu         sync.Mutex
	partitions map[string]StorageFunc
	order      []string
	onResume   map[uint16]ResumeFunc

	flags     config.Flags
	log       Logger
	platform  hotswap.Platform
	devices   *hotswap.DeviceSet
	publisher hotswap.RollbackPublisher
	rebooter  rollback.Rebooter
	rollback  *rollback.Controller
	wakeup    WakeupNotifier
	heap      hotswap.HeapExtent

	liveUpdated bool
}

// Option configures a Registry at construction time, following the
// functional-options pattern (WithLogger et al.).
type Option func(*Registry) error

// WithFlags overrides the configuration flags (default config.Defaults()).
func WithFlags(f config.Flags) Option {
	return func(reg *Registry) error { reg.flags = f; return nil }
}

// WithLogger overrides the diagnostic logger (default logrus.StandardLogger()).
func WithLogger(l Logger) Option {
	return func(reg *Registry) error { reg.log = l; return nil }
}

// WithPlatform supplies the architecture-specific Platform Exec drives
// (default hotswap.NoopPlatform, suitable for hosted tests/demos).
func WithPlatform(p hotswap.Platform) Option {
	return func(reg *Registry) error { reg.platform = p; return nil }
}

// WithDevices supplies the device set QuiesceAll drains before the jump.
func WithDevices(d *hotswap.DeviceSet) Option {
	return func(reg *Registry) error { reg.devices = d; return nil }
}

// WithPublisher supplies the soft-reset rollback handoff publisher.
func WithPublisher(p hotswap.RollbackPublisher) Option {
	return func(reg *Registry) error { reg.publisher = p; return nil }
}

// WithRebooter supplies the Rebooter RollbackNow invokes after exec.
func WithRebooter(r rollback.Rebooter) Option {
	return func(reg *Registry) error { reg.rebooter = r; return nil }
}

// WithWakeupNotifier supplies the WakeupNotifier Resume drives once
// resume handlers have run (default: a no-op, suitable for hosted
// tests/demos with no real IP stack to kick).
func WithWakeupNotifier(w WakeupNotifier) Option {
	return func(reg *Registry) error { reg.wakeup = w; return nil }
}

// WithHeapExtent supplies the HeapExtent Exec guards the storage
// location against in step 2 of the Update Executor (default nil,
// permissive — see hotswap.HeapExtent).
func WithHeapExtent(h hotswap.HeapExtent) Option {
	return func(reg *Registry) error { reg.heap = h; return nil }
}

// NewRegistry builds an empty Registry ready for RegisterPartition
// calls, applying opts in order. It is the explicit, test-constructible
// counterpart to the package-level convenience wrappers in api.go.
func NewRegistry(opts ...Option) (*Registry, error) {
	reg := &Registry{
		partitions: make(map[string]StorageFunc),
		onResume:   make(map[uint16]ResumeFunc),
		flags:      config.Defaults(),
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if err := opt(reg); err != nil {
			return nil, err
		}
	}
	if reg.rebooter == nil {
		reg.rebooter = panicRebooter{}
	}
	if reg.wakeup == nil {
		reg.wakeup = noopWakeup{}
	}
	reg.rollback = rollback.NewController(nil, execAdapter{reg}, reg.rebooter, reg.log)
	return reg, nil
}

// panicRebooter is the default Rebooter for a hosted process: there is
// no os::reboot() to call, so it panics, which RollbackNow already
// treats as a legitimate (if unusual) terminal path.
type panicRebooter struct{}

func (panicRebooter) Reboot() { panic("liveupdate: rollback requested a reboot with no Rebooter configured") }

// execAdapter lets Registry.Exec (which needs the full Registry to
// gather registered partitions) satisfy rollback.Execer without
// pkg/rollback importing this package.
type execAdapter struct{ reg *Registry }

func (e execAdapter) Exec(blob, location []byte) error {
	return e.reg.execRollback(blob, location)
}

// RegisterPartition registers fn as the serialization callback for a
// named partition. Registering the same name twice fails with
// DuplicateKey, matching register_partition's "refuses duplicate
// keys" contract; registration must precede any Exec/Store call.
func (reg *Registry) RegisterPartition(name string, fn StorageFunc) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.partitions[name]; exists {
		return liveerr.Newf(liveerr.DuplicateKey, "partition %q already registered", name)
	}
	reg.partitions[name] = fn
	reg.order = append(reg.order, name)
	return nil
}

// OnResume registers fn as the legacy per-id resume handler for id,
// taking precedence over Resume's default handler when any is
// registered (spec.md §4.6's "legacy code path").
func (reg *Registry) OnResume(id uint16, fn ResumeFunc) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.onResume[id] = fn
}

func (reg *Registry) writers() []hotswap.PartitionWriter {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]hotswap.PartitionWriter, 0, len(reg.order))
	for _, name := range reg.order {
		fn := reg.partitions[name]
		out = append(out, hotswap.PartitionWriter{
			Name: name,
			Write: func(s *serialize.Storage) error {
				if fn == nil {
					return nil
				}
				return fn(s)
			},
		})
	}
	return out
}

// Exec runs the Update Executor end to end against blob and location
// using every partition registered via RegisterPartition, the
// recorded rollback blob (if any), and this Registry's configured
// Platform/Devices/Publisher. It returns only on a pre-jump validation
// failure; a configured Platform's real trampoline never returns.
func (reg *Registry) Exec(blob, location []byte) error {
	reg.rollback.SetLocation(location)
	return reg.exec(blob, location, reg.writers())
}

// execRollback is the Execer pkg/rollback.Controller.RollbackNow drives:
// it re-runs the Update Executor against the rollback blob bypassing
// every registered partition's serialization callback, per spec.md
// §4.7 ("invokes the Update Executor against the rollback blob,
// bypassing user serialization").
func (reg *Registry) execRollback(blob, location []byte) error {
	return reg.exec(blob, location, nil)
}

func (reg *Registry) exec(blob, location []byte, partitions []hotswap.PartitionWriter) error {
	rollbackBlob := reg.rollback.RollbackBlob()
	_, err := hotswap.Exec(hotswap.ExecOptions{
		Blob:          blob,
		Location:      location,
		Partitions:    partitions,
		UseChecksums:  reg.flags.UseChecksums,
		ZeroOldMemory: reg.flags.ZeroOldMemory,
		ExtraChecks:   reg.flags.ExtraChecks,
		Platform:      reg.platform,
		Devices:       reg.devices,
		Publisher:     reg.publisher,
		RollbackBlob:  rollbackBlob,
		Heap:          reg.heap,
	})
	if err != nil {
		reg.log.Errorf("liveupdate: exec failed before jump: %v", err)
	}
	return err
}

// Store writes user state into location without validating or
// executing any ELF image, returning the number of bytes written.
// This is spec.md §6's `store(location) -> byte-count`.
func (reg *Registry) Store(location []byte) (int, error) {
	reg.rollback.SetLocation(location)
	return hotswap.Store(location, reg.writers(), reg.flags.UseChecksums, reg.flags.ExtraChecks)
}

// wrapRegion attaches Region semantics to an already-written location,
// carrying both checksum flags so a reader set up with different flags
// than the writer fails loudly instead of silently misreading entries.
func (reg *Registry) wrapRegion(location []byte) *region.Region {
	r := region.Wrap(location, reg.flags.UseChecksums)
	r.SetExtraChecks(reg.flags.ExtraChecks)
	return r
}

// IsResumable reports whether location holds a validly finalized
// region (magic, and CRC if checksums are enabled).
func (reg *Registry) IsResumable(location []byte) bool {
	return reg.wrapRegion(location).Validate()
}

// StoredDataLength returns the number of bytes of location occupied
// by a finalized region (header plus entries area in use).
func (reg *Registry) StoredDataLength(location []byte) (int, error) {
	r := reg.wrapRegion(location)
	if !r.Validate() {
		return 0, liveerr.New(liveerr.MagicMismatch, "storage location is not a valid region")
	}
	return r.StoredLength(), nil
}

// Resume locates the partition named key in location and invokes
// exactly one handler with a Restore cursor positioned at its first
// entry: any handlers registered via OnResume for ids present among
// the partition's top-level entries, if at least one is registered,
// otherwise def. After the handler(s) return, the dispatcher runs the
// TCP wakeup routine for every connection whose restored write queue
// was non-empty, then zeroes the partition (and the whole header too,
// if no partitions remain), per spec.md §4.4/§4.6. It returns false if
// location is not resumable, key does not name an existing partition,
// or a TCP entry in the partition fails a hard check (version-tag
// mismatch, out-of-range state tag, or a truncated write/read queue);
// in that last case the partition is deliberately left unzeroed so an
// operator can inspect it.
func (reg *Registry) Resume(location []byte, key string, def ResumeFunc) bool {
	r := reg.wrapRegion(location)
	if !r.Validate() {
		return false
	}
	idx, err := r.FindPartition(key)
	if err != nil {
		return false
	}
	d := r.Descriptor(idx)

	wakeups, err := scanTCPEntries(r, d)
	if err != nil {
		reg.log.Errorf("liveupdate: resume for partition %q aborted, partition left intact: %v", key, err)
		return false
	}

	cur := restore.New(r, d)

	reg.mu.Lock()
	handlers := reg.onResume
	reg.mu.Unlock()

	dispatched := false
	if len(handlers) > 0 {
		for !cur.IsEnd() {
			id := cur.ID()
			if fn, ok := handlers[id]; ok {
				if err := fn(cur); err != nil {
					reg.log.Errorf("liveupdate: resume handler for id %d failed: %v", id, err)
				}
				dispatched = true
			}
			if cur.IsEnd() {
				break
			}
			if err := cur.GoNext(); err != nil {
				break
			}
		}
	}
	if !dispatched && def != nil {
		cur = restore.New(r, d)
		if err := def(cur); err != nil {
			reg.log.Errorf("liveupdate: resume handler for partition %q failed: %v", key, err)
		}
	}

	for _, w := range wakeups {
		reg.wakeup.ForceStartSendQueues(w.local, w.remote)
	}

	if err := r.ZeroPartition(idx); err != nil {
		reg.log.Errorf("liveupdate: failed to zero partition %q after resume: %v", key, err)
	}
	return true
}

// tcpWakeup identifies one connection whose restored write queue was
// non-empty at snapshot time.
type tcpWakeup struct {
	local, remote tcpsnap.Socket
}

// scanTCPEntries walks every TCP entry in the partition described by d
// without disturbing the partition's own resume cursor, decoding each
// one to enforce spec.md §4.4's hard-error checks (version tag, state
// tag, truncated queues) up front and to collect the set of
// connections that need a post-resume wakeup.
func scanTCPEntries(r *region.Region, d region.Descriptor) ([]tcpWakeup, error) {
	var wakeups []tcpWakeup
	sc := restore.New(r, d)
	for {
		if sc.IsTCP() {
			payload, err := sc.AsTCP()
			if err != nil {
				return nil, err
			}
			snap, err := tcpsnap.Unmarshal(payload)
			if err != nil {
				return nil, err
			}
			if snap.NeedsWakeup() {
				wakeups = append(wakeups, tcpWakeup{local: snap.Local, remote: snap.Remote})
			}
		}
		if sc.IsEnd() {
			return wakeups, nil
		}
		if err := sc.GoNext(); err != nil {
			return nil, err
		}
	}
}

// SetLocation records the storage location RollbackNow replays exec
// against. Exec and Store already call this on every invocation; a
// caller driving RollbackNow without ever calling Exec/Store first
// (e.g. cmd/liveupdatectl's rollback command) must call it explicitly.
func (reg *Registry) SetLocation(location []byte) { reg.rollback.SetLocation(location) }

// SetRollbackBlob records blob as the known-good image RollbackNow
// falls back to.
func (reg *Registry) SetRollbackBlob(blob []byte) { reg.rollback.SetRollbackBlob(blob) }

// HasRollbackBlob reports whether a legal-sized rollback blob is recorded.
func (reg *Registry) HasRollbackBlob() bool { return reg.rollback.HasRollbackBlob() }

// RollbackNow replaces the running image with the recorded rollback
// blob (if any) and reboots. It never returns.
func (reg *Registry) RollbackNow(reason string) { reg.rollback.RollbackNow(reason) }

// MarkLiveUpdated records whether this process's current image was
// reached via a live update rather than a cold boot. A real unikernel
// sets this from the entry trampoline before any user code runs; this
// hosted facade has no such hook, so a caller sets it explicitly.
func (reg *Registry) MarkLiveUpdated(v bool) { reg.liveUpdated = v }

// OSIsLiveUpdated reports whether this process's image was reached via
// a live update.
func (reg *Registry) OSIsLiveUpdated() bool { return reg.liveUpdated }

// RestoreEnvironment re-enables interrupts after Exec returns an error
// before the jump; a configured Platform's RunTrampoline never returns
// on a real target, so this is only reached on the pre-jump error path.
func (reg *Registry) RestoreEnvironment() {
	if reg.platform != nil {
		reg.platform.RestoreInterrupts()
	}
}
