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
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unikernel-tools/liveupdate/pkg/config"
	"github.com/unikernel-tools/liveupdate/pkg/liveupdate"
)

// exitRebooter stands in for the unikernel's os::reboot() in the
// hosted CLI: Reboot terminates the process instead of resetting the
// machine, so RollbackNow's "never returns" contract still holds from
// its caller's point of view.
type exitRebooter struct{ code int }

func (r exitRebooter) Reboot() { os.Exit(r.code) }

// NewRollbackCmd adds the rollback demo command: it loads a rollback
// blob from --blob, arms the registry with it, then calls RollbackNow
// exactly as a panic handler wired via Controller.Guard would. The
// process exits instead of rebooting.
func NewRollbackCmd(root *cobra.Command) *cobra.Command {
	var location string
	var blobPath string
	var reason string

	c := &cobra.Command{
		Use:   "rollback",
		Short: "Replay the rollback blob against a storage location and exit",
		Long: "rollback loads --blob as the known-good ELF image, runs the Update\n" +
			"Executor against it bypassing every registered partition, then\n" +
			"exits. This is the CLI's stand-in for rollback_now, which on a real\n" +
			"target never returns because it ends in a reboot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := loadLocation(location, 0)
			if err != nil {
				return err
			}
			blob, err := os.ReadFile(blobPath)
			if err != nil {
				return err
			}

			flags, err := config.Load(viper.GetString("config-dir"))
			if err != nil {
				return err
			}
			if viper.GetBool("no-checksums") {
				flags.UseChecksums = false
			}
			reg, err := liveupdate.NewRegistry(
				liveupdate.WithFlags(flags),
				liveupdate.WithRebooter(exitRebooter{code: 0}),
			)
			if err != nil {
				return err
			}

			reg.SetLocation(buf)
			reg.SetRollbackBlob(blob)
			if !reg.HasRollbackBlob() {
				cmd.Println("blob too small to be a legal rollback image, rebooting anyway")
			}

			// Persist buf as loaded before handing control to
			// RollbackNow: exitRebooter terminates the process inside
			// RollbackNow, so the header RollbackNow's Exec rewrites in
			// buf is never written back to the file.
			if err := saveLocation(location, buf); err != nil {
				return err
			}
			reg.RollbackNow(reason)
			return nil
		},
	}
	c.Flags().StringVar(&location, "location", "", "Path to the storage region file")
	c.Flags().StringVar(&blobPath, "blob", "", "Path to the rollback ELF image")
	c.Flags().StringVar(&reason, "reason", "cli rollback", "Reason recorded in the rollback log line")
	_ = c.MarkFlagRequired("location")
	_ = c.MarkFlagRequired("blob")
	root.AddCommand(c)
	return c
}

var _ = NewRollbackCmd(rootCmd)
