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

	"github.com/unikernel-tools/liveupdate/pkg/restore"
)

func NewResumeCmd(root *cobra.Command) *cobra.Command {
	var location string
	var partition string

	c := &cobra.Command{
		Use:   "resume",
		Short: "Dispatch a partition's entries to a default handler that prints them",
		Long: "resume is the CLI's Resume Dispatcher demo: it locates --partition in\n" +
			"--location, prints every entry it finds, then zeroes the partition\n" +
			"(and the whole region, if it was the last live partition) exactly as\n" +
			"a real resume callback would.",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := loadLocation(location, 0)
			if err != nil {
				return err
			}

			reg, _, err := newRegistry()
			if err != nil {
				return err
			}

			if !reg.IsResumable(buf) {
				cmd.Println("not resumable: region invalid or missing")
				return nil
			}

			found := reg.Resume(buf, partition, func(r *restore.Restore) error {
				for !r.IsEnd() {
					printEntry(cmd, r)
					if err := r.GoNext(); err != nil {
						return err
					}
				}
				return nil
			})
			if !found {
				cmd.Printf("no partition named %q\n", partition)
				return nil
			}
			return saveLocation(location, buf)
		},
	}
	c.Flags().StringVar(&location, "location", "", "Path to the storage region file")
	c.Flags().StringVar(&partition, "partition", "cli", "Partition name to resume")
	_ = c.MarkFlagRequired("location")
	root.AddCommand(c)
	return c
}

var _ = NewResumeCmd(rootCmd)

func printEntry(cmd *cobra.Command, r *restore.Restore) {
	switch {
	case r.IsMarker():
		cmd.Printf("  marker id=%d\n", r.ID())
	case r.IsInt():
		v, _ := r.AsInt()
		cmd.Printf("  int id=%d value=%d\n", r.ID(), v)
	case r.IsString():
		v, _ := r.AsString()
		cmd.Printf("  string id=%d value=%q\n", r.ID(), v)
	case r.IsBuffer():
		cmd.Printf("  buffer id=%d length=%d\n", r.ID(), r.Length())
	case r.IsVector():
		cmd.Printf("  vector id=%d length=%d\n", r.ID(), r.Length())
	case r.IsStringVector():
		v, _ := r.AsStringVector()
		cmd.Printf("  string_vector id=%d count=%d\n", r.ID(), len(v))
	case r.IsTCP():
		cmd.Printf("  tcp id=%d length=%d\n", r.ID(), r.Length())
	case r.IsStream():
		cmd.Printf("  stream subid=%d length=%d\n", r.ID(), r.Length())
	default:
		cmd.Printf("  unknown type id=%d length=%d\n", r.ID(), r.Length())
	}
}
