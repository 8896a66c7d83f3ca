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
	"strings"

	"github.com/spf13/cobra"

	"github.com/SharkByte561/MakeMeAdminCli/internal/transport/ipc"
)

func newExecCmd(client func() *ipc.Client) *cobra.Command {
	var workDir string

	cmd := &cobra.Command{
		Use:   "exec <program> [args...]",
		Short: "Launch a program with your active admin grant",
		Long:  "Asks the broker to launch a program in your session with your freshly granted group membership in effect. Requires an active grant from 'makemeadmin add'.",
		Example: `  makemeadmin exec /usr/bin/htop
  makemeadmin exec /usr/bin/systemctl status makemeadmind --workdir /tmp`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().Exec(cmd.Context(), ipc.Request{
				Program:          args[0],
				Arguments:        strings.Join(args[1:], " "),
				WorkingDirectory: workDir,
			})
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

	cmd.Flags().StringVar(&workDir, "workdir", "", "Working directory for the launched program")

	return cmd
}
