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

package sched

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Systemctl abstracts the systemctl invocations the scheduler needs, so
// tests exercise scheduling logic without a live systemd.
type Systemctl interface {
	DaemonReload(ctx context.Context) error
	EnableNow(ctx context.Context, unit string) error
	DisableNow(ctx context.Context, unit string) error
}

// ExecSystemctl shells out to systemctl.
type ExecSystemctl struct {
	Timeout time.Duration
}

func NewExecSystemctl() *ExecSystemctl {
	return &ExecSystemctl{Timeout: 30 * time.Second}
}

func (s *ExecSystemctl) DaemonReload(ctx context.Context) error {
	return s.run(ctx, "daemon-reload")
}

func (s *ExecSystemctl) EnableNow(ctx context.Context, unit string) error {
	return s.run(ctx, "enable", "--now", unit)
}

func (s *ExecSystemctl) DisableNow(ctx context.Context, unit string) error {
	err := s.run(ctx, "disable", "--now", unit)
	if err != nil && strings.Contains(err.Error(), "does not exist") {
		// Unit already gone; disabling it is a no-op, not a failure.
		return nil
	}
	return err
}

func (s *ExecSystemctl) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "systemctl", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
