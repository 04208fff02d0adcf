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

// Package fake provides an in-memory stand-in for a live TCP
// connection, for exercising pkg/tcpsnap and pkg/liveupdate without a
// real network stack (the real stack is out of scope; see
// tcpflow_save/tcpflow_resume in the original test harness this
// mirrors).
package fake

import "github.com/unikernel-tools/liveupdate/pkg/tcpsnap"

// Connection is a connection double that can be frozen into a
// tcpsnap.Snapshot and thawed back from one, standing in for
// net.tcp.Connection.
type Connection struct {
	snap tcpsnap.Snapshot
}

// New wraps an existing snapshot as a live connection double.
func New(snap tcpsnap.Snapshot) *Connection {
	return &Connection{snap: snap}
}

// MarshalTCPSnapshot implements pkg/serialize.TCPMarshaler.
func (c *Connection) MarshalTCPSnapshot() ([]byte, error) {
	return c.snap.MarshalTCPSnapshot()
}

// Snapshot returns the connection's current frozen state.
func (c *Connection) Snapshot() tcpsnap.Snapshot { return c.snap }

// Bind rehydrates the connection double from a restored snapshot, as
// deserialize_connection binds a freshly decoded serialized_tcp back
// onto a live net::TCP::insert_connection call.
func (c *Connection) Bind(snap tcpsnap.Snapshot) {
	c.snap = snap
}
