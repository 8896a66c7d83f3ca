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

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SharkByte561/MakeMeAdminCli/internal/transport/ipc"
)

func newAddCmd(client func() *ipc.Client) *cobra.Command {
	var duration int

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Grant yourself time-boxed admin rights",
		Example: `  # Elevate for the configured default duration
  makemeadmin add

  # Elevate for 30 minutes (clamped to the configured maximum)
  makemeadmin add --duration 30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := client().Add(cmd.Context(), ipc.Request{Duration: duration})
			if err != nil {
				return err
			}
			if !resp.Success {
				return brokerError(resp)
			}
			cmd.Println(resp.Message)
			return nil
		},
	}

	cmd.Flags().IntVarP(&duration, "duration", "d", 0, "Minutes of admin rights (0 = broker default)")

	return cmd
}

func newRemoveCmd(client func() *ipc.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Give up admin rights now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := client().Remove(cmd.Context(), ipc.Request{})
			if err != nil {
				return err
			}
			if !resp.Success {
				return brokerError(resp)
			}
			cmd.Println(resp.Message)
			return nil
		},
	}
}

func newStatusCmd(client func() *ipc.Client) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show your current elevation state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := client().Status(cmd.Context(), ipc.Request{All: all})
			if err != nil {
				return err
			}
			if !resp.Success {
				return brokerError(resp)
			}
			cmd.Print(renderStatus(resp))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "List every active grant (requires admin rights)")

	return cmd
}

func renderStatus(resp *ipc.Response) string {
	if resp.ActiveUsers != nil {
		out := fmt.Sprintf("%s\n", resp.Message)
		for _, u := range resp.ActiveUsers {
			out += fmt.Sprintf("  %-24s granted %s, expires %s\n",
				u.Username,
				u.GrantedAt.Local().Format(time.RFC3339),
				u.ExpiresAt.Local().Format(time.RFC3339),
			)
		}
		return out
	}

	out := resp.Message + "\n"
	if resp.ExpiresAt != nil {
		out += fmt.Sprintf("  expires: %s\n", resp.ExpiresAt.Local().Format(time.RFC3339))
	}
	return out
}
