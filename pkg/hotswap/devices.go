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

package hotswap

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Device is one piece of hardware the Update Executor must quiesce
// before the trampoline jump: flush outstanding I/O, then mask its
// interrupt vector so it can't touch memory again before the jump.
type Device interface {
	Name() string
	Flush(ctx context.Context) error
	Mask() error
}

// DeviceSet quiesces an independent collection of devices. Order
// between devices is unconstrained, so QuiesceAll fans them out
// concurrently; it still blocks the caller until every device is
// quiesced or one fails, preserving the executor's "no operation may
// suspend past this call" contract.
type DeviceSet struct {
	devices []Device
}

// NewDeviceSet wraps a fixed collection of devices.
func NewDeviceSet(devices ...Device) *DeviceSet {
	return &DeviceSet{devices: devices}
}

// QuiesceAll flushes and masks every device, stopping at the first
// failure.
func (ds *DeviceSet) QuiesceAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range ds.devices {
		d := d
		g.Go(func() error {
			if err := d.Flush(gctx); err != nil {
				return err
			}
			return d.Mask()
		})
	}
	return g.Wait()
}
