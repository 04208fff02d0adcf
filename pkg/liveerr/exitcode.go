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

package liveerr

// provides the process exit codes used by cmd/liveupdatectl.
//
// To add one, respect the structure: a comment that explains the
// error, then a named constant.

// Error reading or validating the storage region
const ExitInvalidRegion = 10

// Error validating header or partition checksums
const ExitChecksumMismatch = 11

// Requested partition does not exist
const ExitUnknownPartition = 12

// Malformed or incomplete ELF blob
const ExitElfInvalid = 13

// Unspecified internal failure
const ExitInternal = 14

// ExitCodeFor maps a Kind to the process exit code cmd/liveupdatectl
// should use. Kinds with no direct CLI surface fall back to
// ExitInternal.
func ExitCodeFor(k Kind) int {
	switch k {
	case InvalidRegion:
		return ExitInvalidRegion
	case ChecksumMismatch:
		return ExitChecksumMismatch
	case UnknownPartition:
		return ExitUnknownPartition
	case ElfInvalid, ElfIncomplete, ElfMalformed:
		return ExitElfInvalid
	default:
		return ExitInternal
	}
}
