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
	"github.com/thediveo/fdshare/source"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve open file descriptors on an abstract unix domain socket",
		Long: "Open the source paths of the configured bindings and serve them\n" +
			"together with their target paths to each client connecting to the\n" +
			"abstract unix domain socket with the expected effective UID.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			socket, _ := cmd.Flags().GetString("socket")
			uid, _ := cmd.Flags().GetUint32("client-uid")
			configPath, _ := cmd.Flags().GetString("config-path")
			src, err := source.Load(socket, uid, configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return src.Serve(ctx)
		},
	}
	cmd.Flags().String("socket", "", "abstract unix domain socket name, without leading '@'")
	cmd.Flags().Uint32("client-uid", uint32(os.Geteuid()), "effective UID clients must have")
	cmd.Flags().String("config-path", "", "path of the JSON or YAML bindings configuration")
	_ = cmd.MarkFlagRequired("socket")
	_ = cmd.MarkFlagRequired("config-path")
	return cmd
}
