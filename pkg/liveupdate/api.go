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

package liveupdate

// defaultRegistry backs the package-level convenience wrappers below,
// the module-level singleton SPEC_FULL.md §9 calls for alongside the
// explicit, test-constructible Registry/NewRegistry.
var defaultRegistry, _ = NewRegistry()

// RegisterPartition registers fn against the default Registry.
func RegisterPartition(name string, fn StorageFunc) error {
	return defaultRegistry.RegisterPartition(name, fn)
}

// Exec runs the Update Executor against the default Registry.
func Exec(blob, location []byte) error {
	return defaultRegistry.Exec(blob, location)
}

// Store writes user state via the default Registry.
func Store(location []byte) (int, error) {
	return defaultRegistry.Store(location)
}

// IsResumable reports resumability via the default Registry.
func IsResumable(location []byte) bool {
	return defaultRegistry.IsResumable(location)
}

// Resume dispatches via the default Registry.
func Resume(location []byte, key string, def ResumeFunc) bool {
	return defaultRegistry.Resume(location, key, def)
}

// OnResume registers a legacy per-id handler on the default Registry.
func OnResume(id uint16, fn ResumeFunc) {
	defaultRegistry.OnResume(id, fn)
}

// StoredDataLength reports stored length via the default Registry.
func StoredDataLength(location []byte) (int, error) {
	return defaultRegistry.StoredDataLength(location)
}

// SetRollbackBlob records a rollback blob on the default Registry.
func SetRollbackBlob(blob []byte) {
	defaultRegistry.SetRollbackBlob(blob)
}

// HasRollbackBlob reports on the default Registry's rollback blob.
func HasRollbackBlob() bool {
	return defaultRegistry.HasRollbackBlob()
}

// RollbackNow rolls back via the default Registry. It never returns.
func RollbackNow(reason string) {
	defaultRegistry.RollbackNow(reason)
}

// OSIsLiveUpdated reports the default Registry's live-update flag.
func OSIsLiveUpdated() bool {
	return defaultRegistry.OSIsLiveUpdated()
}

// RestoreEnvironment re-enables interrupts on the default Registry.
func RestoreEnvironment() {
	defaultRegistry.RestoreEnvironment()
}
