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
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unikernel-tools/liveupdate/pkg/serialize"
)

func NewStoreCmd(root *cobra.Command) *cobra.Command {
	var location string
	var size int
	var partition string
	var ints []string
	var strs []string

	c := &cobra.Command{
		Use:   "store",
		Short: "Serialize demo entries into a storage region file",
		Long: "store writes a fresh storage region to --location, registering one\n" +
			"partition populated from --int/--string flags. It is the hosted\n" +
			"equivalent of the Update Executor's step 7 without the ELF jump.",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := loadLocation(location, size)
			if err != nil {
				return err
			}

			reg, _, err := newRegistry()
			if err != nil {
				return err
			}

			entries, err := parseIDValuePairs(ints)
			if err != nil {
				return err
			}
			strEntries, err := parseIDStringPairs(strs)
			if err != nil {
				return err
			}

			if err := reg.RegisterPartition(partition, func(s *serialize.Storage) error {
				for _, e := range entries {
					if err := s.AddInt(e.id, e.value); err != nil {
						return err
					}
				}
				for _, e := range strEntries {
					if err := s.AddString(e.id, e.value); err != nil {
						return err
					}
				}
				return nil
			}); err != nil {
				return err
			}

			n, err := reg.Store(buf)
			if err != nil {
				return err
			}
			if err := saveLocation(location, buf); err != nil {
				return err
			}
			cmd.Printf("wrote %d bytes to %s\n", n, location)
			return nil
		},
	}
	c.Flags().StringVar(&location, "location", "", "Path to the storage region file")
	c.Flags().IntVar(&size, "size", 4096, "Minimum size in bytes to grow the region file to")
	c.Flags().StringVar(&partition, "partition", "cli", "Partition name to create")
	c.Flags().StringArrayVar(&ints, "int", nil, "id=value integer entry to add (repeatable)")
	c.Flags().StringArrayVar(&strs, "string", nil, "id=value string entry to add (repeatable)")
	_ = c.MarkFlagRequired("location")
	root.AddCommand(c)
	return c
}

var _ = NewStoreCmd(rootCmd)

type idIntPair struct {
	id    uint16
	value int32
}

type idStringPair struct {
	id    uint16
	value string
}

func splitIDValue(s string) (string, string, error) {
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected id=value, got %q", s)
	}
	return parts[0], parts[1], nil
}

func parseIDValuePairs(raw []string) ([]idIntPair, error) {
	out := make([]idIntPair, 0, len(raw))
	for _, s := range raw {
		idStr, valStr, err := splitIDValue(s)
		if err != nil {
			return nil, err
		}
		id, err := strconv.ParseUint(idStr, 10, 16)
		if err != nil {
			return nil, err
		}
		val, err := strconv.ParseInt(valStr, 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, idIntPair{id: uint16(id), value: int32(val)})
	}
	return out, nil
}

func parseIDStringPairs(raw []string) ([]idStringPair, error) {
	out := make([]idStringPair, 0, len(raw))
	for _, s := range raw {
		idStr, valStr, err := splitIDValue(s)
		if err != nil {
			return nil, err
		}
		id, err := strconv.ParseUint(idStr, 10, 16)
		if err != nil {
			return nil, err
		}
		out = append(out, idStringPair{id: uint16(id), value: valStr})
	}
	return out, nil
}
