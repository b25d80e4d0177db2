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
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envLogLevel is the environment variable used to set the log level when the
// “--log-level” flag isn't given.
const envLogLevel = "FDSHARE_LOG_LEVEL"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fdshare failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fdshare",
		Short: "Share open file descriptors via symbolic links",
		// We log errors ourselves.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logLevel(cmd.Flags())
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
			return nil
		},
	}
	rootCmd.PersistentFlags().String("log-level", "info",
		"log level: debug, info, warn, or error; overrides $"+envLogLevel)
	rootCmd.AddCommand(
		newServeCmd(),
		newLinkCmd(),
		newFetchCmd(),
	)
	return rootCmd
}

// logLevel returns the log level from the “--log-level” flag if given, else
// from the environment.
func logLevel(flags *pflag.FlagSet) (slog.Level, error) {
	name, _ := flags.GetString("log-level")
	if !flags.Changed("log-level") {
		if env, ok := os.LookupEnv(envLogLevel); ok {
			name = env
		}
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}
