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
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
)

// NewRootCmd builds the liveupdatectl root command: a hosted demo and
// operational tool for driving pkg/liveupdate's facade against a
// file-backed storage region, the way a real unikernel would drive it
// against a fixed physical memory range.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liveupdatectl",
		Short: "Inspect and drive a LiveUpdate storage region",
	}
	cmd.PersistentFlags().Bool("debug", false, "Enable debug output")
	cmd.PersistentFlags().String("config-dir", "", "Directory to look for a liveupdate.yaml config file in")
	cmd.PersistentFlags().Bool("no-checksums", false, "Disable header/partition CRC32 (overrides config)")
	_ = viper.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("config-dir", cmd.PersistentFlags().Lookup("config-dir"))
	_ = viper.BindPFlag("no-checksums", cmd.PersistentFlags().Lookup("no-checksums"))
	return cmd
}

var rootCmd = NewRootCmd()

// Execute runs the root command, translating a *liveerr.Error into the
// matching process exit code via pkg/liveerr/exitcode.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if viper.GetBool("debug") {
			logrus.Errorf("%+v", err)
		}
		var kinder interface{ Kind() liveerr.Kind }
		if errors.As(err, &kinder) {
			os.Exit(liveerr.ExitCodeFor(kinder.Kind()))
		}
		os.Exit(liveerr.ExitInternal)
	}
}

func main() {
	Execute()
}
