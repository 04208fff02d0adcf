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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unikernel-tools/liveupdate/pkg/region"
	"github.com/unikernel-tools/liveupdate/pkg/restore"
)

// NewInspectCmd adds a read-only diagnostic command, grounded on the
// teacher's cmd/state.go (prints installation state without mutating
// it). Unlike resume, inspect never zeroes anything: it exists purely
// to let an operator look at a region before deciding what to do with it.
func NewInspectCmd(root *cobra.Command) *cobra.Command {
	var location string

	c := &cobra.Command{
		Use:   "inspect",
		Short: "Print a storage region's header, partitions, and entries without consuming them",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := loadLocation(location, 0)
			if err != nil {
				return err
			}

			useChecksums := !viper.GetBool("no-checksums")
			r := region.Wrap(buf, useChecksums)
			cmd.Printf("valid: %v\n", r.Validate())
			cmd.Printf("partitions: %d\n", r.Partitions())
			cmd.Printf("stored length: %d bytes\n", r.StoredLength())

			for i := 0; i < r.Partitions(); i++ {
				d := r.Descriptor(i)
				if d.Name == "" {
					cmd.Printf("  [%d] <zeroed slot>\n", i)
					continue
				}
				cmd.Printf("  [%d] %q offset=%d length=%d crc=%#x\n", i, d.Name, d.Offset, d.Length, d.CRC)
				cur := restore.New(r, d)
				for !cur.IsEnd() {
					printEntry(cmd, cur)
					if err := cur.GoNext(); err != nil {
						break
					}
				}
			}
			return nil
		},
	}
	c.Flags().StringVar(&location, "location", "", "Path to the storage region file")
	_ = c.MarkFlagRequired("location")
	root.AddCommand(c)
	return c
}

var _ = NewInspectCmd(rootCmd)
