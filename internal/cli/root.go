// Copyright 2026 The MakeMeAdmin CLI Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli implements the makemeadmin command surface. Every command is
// a thin client of the broker socket; no elevation decision is made here.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SharkByte561/MakeMeAdminCli/internal/config"
	"github.com/SharkByte561/MakeMeAdminCli/internal/transport/ipc"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, ipc.ErrBrokerNotRunning) {
			fmt.Fprintln(os.Stderr, "Error: the makemeadmin broker is not running (is it installed and started?)")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var socketPath string

	rootCmd := &cobra.Command{
		Use:           "makemeadmin",
		Short:         "Request time-boxed admin rights on this machine",
		Long:          "makemeadmin talks to the local elevation broker to grant, revoke, and inspect time-boxed membership in the privileged group.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", config.DefaultSocketPath, "Broker socket path")

	client := func() *ipc.Client { return ipc.NewClient(socketPath) }

	rootCmd.AddCommand(newAddCmd(client))
	rootCmd.AddCommand(newRemoveCmd(client))
	rootCmd.AddCommand(newStatusCmd(client))
	rootCmd.AddCommand(newExecCmd(client))
	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newUninstallCmd())

	return rootCmd
}

// brokerError turns a non-success broker reply into a CLI error.
func brokerError(resp *ipc.Response) error {
	if resp.Code != "" {
		return fmt.Errorf("%s (%s)", resp.Message, resp.Code)
	}
	return errors.New(resp.Message)
}
