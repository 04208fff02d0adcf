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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/unikernel-tools/liveupdate/pkg/config"
	"github.com/unikernel-tools/liveupdate/pkg/liveupdate"
)

// loadLocation reads path into memory, growing it to at least size
// bytes with trailing zeros if it is shorter (or does not exist yet).
// The caller writes the (possibly modified) buffer back with
// saveLocation; this mirrors a unikernel treating a fixed physical
// range as the storage location, except here the range is a plain
// file so the CLI can run hosted.
func loadLocation(path string, size int) ([]byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(buf) < size {
		grown := make([]byte, size)
		copy(grown, buf)
		buf = grown
	}
	return buf, nil
}

func saveLocation(path string, buf []byte) error {
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// newRegistry builds a liveupdate.Registry from the flags and
// optional config-dir file, the CLI's equivalent of ReadConfigRun.
func newRegistry() (*liveupdate.Registry, config.Flags, error) {
	flags, err := config.Load(viper.GetString("config-dir"))
	if err != nil {
		return nil, config.Flags{}, err
	}
	if viper.GetBool("no-checksums") {
		flags.UseChecksums = false
	}
	reg, err := liveupdate.NewRegistry(liveupdate.WithFlags(flags))
	if err != nil {
		return nil, config.Flags{}, err
	}
	return reg, flags, nil
}
