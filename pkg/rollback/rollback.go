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

// Package rollback implements the Rollback Controller: it remembers a
// known-good ELF blob and, on request, re-runs the Update Executor
// against it, then reboots and never returns, whether or not that
// succeeds.
package rollback

import (
	"github.com/unikernel-tools/liveupdate/pkg/elfscan"
)

// Execer re-runs the Update Executor against a rollback blob,
// bypassing user serialization callbacks. Implemented in production by
// pkg/liveupdate's adapter over pkg/hotswap.Exec; an interface here avoids an import
// cycle (pkg/liveupdate already imports both pkg/hotswap and
// pkg/rollback).
type Execer interface {
	Exec(blob []byte, location []byte) error
}

// Rebooter performs the unconditional reset rollback_now ends with.
// NewController supplies no default: RollbackNow calls Reboot on the
// Rebooter it was given, so a nil Rebooter panics there.
// pkg/liveupdate supplies a panicking default, since a hosted Go
// process has no equivalent of os::reboot().
type Rebooter interface {
	Reboot()
}

// Reporter receives the printf-style diagnostics rollback_now emits
// before rebooting (reason, and any rollback exec failure).
type Reporter interface {
	Errorf(format string, args ...interface{})
}

// Controller holds the rollback blob and drives RollbackNow, grounded
// on original_source/lib/LiveUpdate/src/rollback.cpp.
type Controller struct {
	blob      []byte
	location  []byte
	exec      Execer
	reboot    Rebooter
	log       Reporter
	panicHook func(reason string)
}

// NewController builds a Controller that will run exec against the
// supplied location when asked to roll back.
func NewController(location []byte, exec Execer, reboot Rebooter, log Reporter) *Controller {
	return &Controller{location: location, exec: exec, reboot: reboot, log: log}
}

// SetLocation updates the storage location RollbackNow replays exec
// against, for a caller that only learns the true location after
// construction (e.g. pkg/liveupdate.Registry.Exec's first call).
func (c *Controller) SetLocation(location []byte) {
	c.location = location
}

// SetRollbackBlob records buffer as the known-good image to fall back
// to, and registers RollbackNow as this process's panic hook (see
// Guard).
func (c *Controller) SetRollbackBlob(blob []byte) {
	// Deep-copy, matching softreset_service_handler's "make deep copy?"
	// — the caller's buffer may be reused or freed after this call.
	c.blob = append([]byte(nil), blob...)
	c.panicHook = c.RollbackNow
}

// HasRollbackBlob reports whether a rollback blob has been recorded
// and is at least long enough to be a legal ELF image.
func (c *Controller) HasRollbackBlob() bool {
	return len(c.blob) > elfscan.MinimumSize
}

// RollbackBlob returns a copy of the recorded blob, or nil if none is
// set, for handing forward through a soft-reset handoff (see
// pkg/hotswap.ExecOptions.RollbackBlob / RollbackPublisher).
func (c *Controller) RollbackBlob() []byte {
	if !c.HasRollbackBlob() {
		return nil
	}
	return append([]byte(nil), c.blob...)
}

// RollbackNow attempts to replace the running image with the
// recorded rollback blob, logging reason either way, then reboots.
// It never returns.
func (c *Controller) RollbackNow(reason string) {
	if c.HasRollbackBlob() {
		if c.log != nil {
			c.log.Errorf("performing rollback (%d bytes)... reason: %s", len(c.blob), reason)
		}
		if err := c.exec.Exec(c.blob, c.location); err != nil && c.log != nil {
			c.log.Errorf("rollback failed: %v", err)
		}
	} else if c.log != nil {
		c.log.Errorf("missing rollback data, rebooting... reason: %s", reason)
	}
	c.reboot.Reboot()
	panic("rollback: Rebooter.Reboot returned")
}

// OnPanic registers fn as the panic hook Guard invokes, mirroring
// os::on_panic(LiveUpdate::rollback_now). Go has no process-wide
// panic hook, so Guard is the opt-in equivalent; registering a new
// hook replaces the previous one, matching set_rollback_blob
// re-registering rollback_now on every call.
func (c *Controller) OnPanic(fn func(reason string)) {
	c.panicHook = fn
}

// Guard recovers a panic from fn, invoking the registered panic hook
// with the panic's message before re-panicking. It is optional
// ambient wiring, not required by any exported operation.
func (c *Controller) Guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if c.panicHook != nil {
				reason := "panic"
				if s, ok := r.(string); ok {
					reason = s
				}
				c.panicHook(reason)
			}
			panic(r)
		}
	}()
	fn()
}
