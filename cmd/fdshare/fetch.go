// Copyright 2025 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/thediveo/fdshare/procfd"
	"github.com/thediveo/fdshare/sink"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch served file descriptors once and list them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			socket, _ := cmd.Flags().GetString("fd-socket")
			dmap, err := sink.Fetch(cmd.Context(), socket)
			if err != nil {
				return err
			}
			defer dmap.Close()
			out := cmd.OutOrStdout()
			for _, d := range dmap {
				resolved, err := procfd.Resolve(os.Getpid(), d.FD)
				if err != nil {
					resolved = "?"
				}
				fmt.Fprintf(out, "%s\t/proc/self/fd/%d -> %s\n", d.Path, d.FD, resolved)
			}
			return nil
		},
	}
	cmd.Flags().String("fd-socket", "", "abstract unix domain socket name of the descriptor source")
	_ = cmd.MarkFlagRequired("fd-socket")
	return cmd
}
