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

package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unikernel-tools/liveupdate/pkg/config"
)

func TestDefaultsMatchSpec(t *testing.T) {
	f := config.Defaults()
	require.True(t, f.UseChecksums)
	require.False(t, f.ZeroOldMemory)
	require.False(t, f.ExtraChecks)
}

func TestLoadWithNoFileOrEnvReturnsDefaults(t *testing.T) {
	f, err := config.Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, config.Defaults(), f)
}

func TestLoadReadsEnvOverride(t *testing.T) {
	t.Setenv("LIVEUPDATE_ZERO_OLD_MEMORY", "true")
	t.Setenv("LIVEUPDATE_USE_CHECKSUMS", "false")

	f, err := config.Load(t.TempDir())
	require.NoError(t, err)
	require.True(t, f.ZeroOldMemory)
	require.False(t, f.UseChecksums)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/liveupdate.yaml"
	require.NoError(t, os.WriteFile(path, []byte("extra_checks: true\n"), 0o644))

	f, err := config.Load(dir)
	require.NoError(t, err)
	require.True(t, f.ExtraChecks)
}
