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

// Package bridge launches user-session processes on the strength of a
// broker-issued exec ticket. The broker runs as root; the launched process
// runs as the ticket's identity with that account's current group list,
// which is the whole point of relaunching after a grant. The bridge owns
// launch mechanics only; whether the caller deserved the launch was decided
// when the ticket was minted.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/logger"
	"github.com/SharkByte561/MakeMeAdminCli/internal/ticket"
)

var ErrTicketProgramMismatch = errors.New("bridge: ticket was issued for a different program")

// LaunchSpec describes the process to start.
type LaunchSpec struct {
	Program          string
	Arguments        string
	WorkingDirectory string
}

// Launcher verifies exec tickets and starts the approved program in its own
// session as the ticket's identity.
type Launcher struct {
	tickets *ticket.Service

	// Swapped in tests to avoid real processes and real accounts.
	start      func(cmd *exec.Cmd) error
	credential func(name string) (*syscall.Credential, error)
}

// NewLauncher creates a launcher verifying against the given ticket service.
func NewLauncher(tickets *ticket.Service) *Launcher {
	return &Launcher{
		tickets:    tickets,
		start:      func(cmd *exec.Cmd) error { return cmd.Start() },
		credential: credentialFor,
	}
}

// Launch verifies the ticket and starts the process. The ticket binds one
// program; a spec naming anything else is rejected even if the ticket is
// otherwise valid.
func (l *Launcher) Launch(ctx context.Context, rawTicket string, spec LaunchSpec) error {
	claims, err := l.tickets.Verify(rawTicket)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	if claims.Program != spec.Program {
		return ErrTicketProgramMismatch
	}

	cred, err := l.credential(claims.Identity)
	if err != nil {
		return fmt.Errorf("bridge: resolve %s: %w", claims.Identity, err)
	}

	cmd := exec.Command(spec.Program, strings.Fields(spec.Arguments)...)
	cmd.Dir = spec.WorkingDirectory
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Credential: cred}

	if err := l.start(cmd); err != nil {
		return fmt.Errorf("bridge: start %s: %w", spec.Program, err)
	}

	slog.InfoContext(ctx, "launched elevated-session program",
		logger.Identity(claims.Identity),
		logger.String("program", spec.Program),
	)

	// Best effort from here: the process runs in its own session. Wait only
	// to reap it.
	go cmd.Wait()
	return nil
}

// credentialFor reads the account's uid, gid and supplementary groups from
// the live account database, so a just-granted membership is in effect for
// the new process.
func credentialFor(identityName string) (*syscall.Credential, error) {
	u, err := user.Lookup(identityName)
	if err != nil {
		return nil, err
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, err
	}

	groupIDs, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	groups := make([]uint32, 0, len(groupIDs))
	for _, g := range groupIDs {
		parsed, parseErr := strconv.ParseUint(g, 10, 32)
		if parseErr != nil {
			continue
		}
		groups = append(groups, uint32(parsed))
	}

	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid), Groups: groups}, nil
}
