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

package version

import (
	"runtime"

	"github.com/unikernel-tools/liveupdate/pkg/region"
)

var (
	// version is the liveupdatectl release version, overridden at
	// build time via -ldflags "-X .../internal/version.version=...".
	version = "v0.0.1"
	// gitCommit is the git sha1 the binary was built from.
	gitCommit = ""
)

// BuildInfo describes a liveupdatectl build: its own release version
// plus the storage wire format it was compiled against, so an operator
// comparing two binaries' `version --long` output can tell whether a
// region one wrote is safe for the other to resume.
type BuildInfo struct {
	// Version is the liveupdatectl release version.
	Version string `json:"version,omitempty"`
	// GitCommit is the git sha1.
	GitCommit string `json:"git_commit,omitempty"`
	// GoVersion is the version of the Go compiler used.
	GoVersion string `json:"go_version,omitempty"`
	// StorageMagic is the region header magic this build expects;
	// two builds disagreeing here cannot resume each other's regions.
	StorageMagic uint64 `json:"storage_magic,omitempty"`
	// PartitionNameLen is the fixed partition name width this build
	// packs and reads.
	PartitionNameLen int `json:"partition_name_len,omitempty"`
}

// GetVersion returns the liveupdatectl release version.
func GetVersion() string {
	return version
}

// Get returns this build's version and wire-format compatibility info.
func Get() BuildInfo {
	return BuildInfo{
		Version:          GetVersion(),
		GitCommit:        gitCommit,
		GoVersion:        runtime.Version(),
		StorageMagic:     region.MagicValue,
		PartitionNameLen: region.NameLen,
	}
}
