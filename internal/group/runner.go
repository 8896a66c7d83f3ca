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

package group

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// RunResult carries everything the adapter needs to classify a tool
// invocation: the error (nil on exit 0) and captured output for diagnostic
// matching.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// CommandRunner invokes an OS tool. Mockable so adapter tests never spawn
// processes.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) RunResult
}

// ExecRunner runs tools via os/exec with a bounded timeout.
type ExecRunner struct {
	Timeout time.Duration
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: 15 * time.Second}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) RunResult {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}
	return res
}
