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

// Package config loads the LiveUpdate core's ambient configuration
// flags: USE_CHECKSUMS, ZERO_OLD_MEMORY, EXTRA_CHECKS (spec.md §6),
// reading an optional YAML file and prefixed environment variables
// through viper before constructing a Flags value.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Flags mirrors spec.md §6's configuration surface.
type Flags struct {
	// UseChecksums enables header/partition CRC32 (default on).
	UseChecksums bool `mapstructure:"use_checksums"`
	// ZeroOldMemory zeroes the region between the new image end and the
	// old heap end during the trampoline (default off).
	ZeroOldMemory bool `mapstructure:"zero_old_memory"`
	// ExtraChecks appends a per-entry payload CRC32 on top of
	// UseChecksums' partition-level CRC (default off). It must match
	// between the image that stores a partition and the one that later
	// resumes it; pkg/region.Region.Append embeds the CRC and
	// pkg/restore.Restore verifies and strips it on read.
	ExtraChecks bool `mapstructure:"extra_checks"`
}

// Defaults returns the flag values spec.md §6 specifies when nothing
// overrides them.
func Defaults() Flags {
	return Flags{UseChecksums: true, ZeroOldMemory: false, ExtraChecks: false}
}

// EnvPrefix is the prefix environment variables are read under, e.g.
// LIVEUPDATE_USE_CHECKSUMS.
const EnvPrefix = "LIVEUPDATE"

// Load reads Flags from, in ascending priority: built-in defaults, an
// optional file named "liveupdate" (e.g. liveupdate.yaml) in configDir,
// which is always parsed as YAML whatever its extension, and
// LIVEUPDATE_-prefixed environment variables.
func Load(configDir string) (Flags, error) {
	v := viper.New()
	v.SetDefault("use_checksums", true)
	v.SetDefault("zero_old_memory", false)
	v.SetDefault("extra_checks", false)

	if configDir != "" {
		v.AddConfigPath(configDir)
		v.SetConfigName("liveupdate")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Flags{}, err
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var f Flags
	if err := v.Unmarshal(&f); err != nil {
		return Flags{}, err
	}
	return f, nil
}
