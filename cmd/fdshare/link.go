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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thediveo/fdshare/link"
)

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Publish served file descriptors as symbolic links",
		Long: "Fetch the file descriptors from a descriptor source and publish them\n" +
			"as symbolic links beneath the parent directory, then create the\n" +
			"marker file. Delete the marker file to remove the symbolic links\n" +
			"and the parent directory again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l := &link.Linker{}
			l.Socket, _ = cmd.Flags().GetString("fd-socket")
			l.Parent, _ = cmd.Flags().GetString("parent")
			l.Marker, _ = cmd.Flags().GetString("marker")
			l.Timeout, _ = cmd.Flags().GetDuration("timeout")
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return l.Execute(ctx)
		},
	}
	cmd.Flags().String("fd-socket", "", "abstract unix domain socket name of the descriptor source")
	cmd.Flags().String("parent", "", "directory to publish the symbolic links in; must not exist")
	cmd.Flags().String("marker", "", "marker file signalling readiness; must not exist")
	cmd.Flags().Duration("timeout", 0, "maximum time to wait for the marker; waits forever if zero")
	_ = cmd.MarkFlagRequired("fd-socket")
	_ = cmd.MarkFlagRequired("parent")
	_ = cmd.MarkFlagRequired("marker")
	return cmd
}
