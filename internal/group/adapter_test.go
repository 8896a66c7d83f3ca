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
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner scripts tool invocations and records the calls it saw.
type fakeRunner struct {
	results map[string]RunResult // keyed by tool name
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) RunResult {
	f.calls = append(f.calls, fmt.Sprintf("%s %v", name, args))
	if res, ok := f.results[name]; ok {
		return res
	}
	return RunResult{}
}

// newTestAdapter wires an adapter whose membership lookup is driven by a
// mutable set instead of the account database.
func newTestAdapter(runner CommandRunner, members map[string]bool) *OSAdapter {
	a := NewOSAdapter("sudo", 27, runner, time.Millisecond)
	a.sleep = func(time.Duration) {}
	a.groupIDs = func(username string) ([]string, error) {
		if members[username] {
			return []string{"100", "27"}, nil
		}
		return []string{"100"}, nil
	}
	return a
}

func TestAddAlreadyMemberShortCircuits(t *testing.T) {
	runner := &fakeRunner{}
	a := newTestAdapter(runner, map[string]bool{"alice": true})

	res, err := a.Add(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, AddResultAlreadyMember, res)
	assert.Empty(t, runner.calls, "no mutation for an existing member")
}

func TestAddRunsPrimaryAndVerifies(t *testing.T) {
	members := map[string]bool{}
	runner := &fakeRunner{}
	a := newTestAdapter(runner, members)
	// The tool "succeeds" and membership becomes visible before the verify.
	a.sleep = func(time.Duration) { members["alice"] = true }

	res, err := a.Add(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, AddResultAdded, res)
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "gpasswd")
}

func TestAddFallsBackToUsermod(t *testing.T) {
	members := map[string]bool{}
	runner := &fakeRunner{results: map[string]RunResult{
		"gpasswd": {Err: errors.New("exit status 1"), Stderr: "gpasswd: permission denied"},
	}}
	a := newTestAdapter(runner, members)
	a.sleep = func(time.Duration) { members["alice"] = true }

	res, err := a.Add(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, AddResultAdded, res)
	require.Len(t, runner.calls, 2)
	assert.Contains(t, runner.calls[1], "usermod")
}

func TestAddVerifyFailureIsReported(t *testing.T) {
	// Both tools claim success but membership never materializes.
	runner := &fakeRunner{}
	a := newTestAdapter(runner, map[string]bool{})

	_, err := a.Add(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerifyFailed)
}

func TestAddBothToolsFail(t *testing.T) {
	runner := &fakeRunner{results: map[string]RunResult{
		"gpasswd": {Err: errors.New("exit status 1"), Stderr: "boom"},
		"usermod": {Err: errors.New("exit status 1"), Stderr: "boom"},
	}}
	a := newTestAdapter(runner, map[string]bool{})

	_, err := a.Add(context.Background(), "alice")
	require.Error(t, err)
}

func TestRemoveNonMemberShortCircuits(t *testing.T) {
	runner := &fakeRunner{}
	a := newTestAdapter(runner, map[string]bool{})

	res, err := a.Remove(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, RemoveResultWasNotMember, res)
	assert.Empty(t, runner.calls)
}

func TestRemoveFallbackNoopDiagnosticIsSuccess(t *testing.T) {
	members := map[string]bool{"alice": true}
	runner := &fakeRunner{results: map[string]RunResult{
		"gpasswd": {Err: errors.New("exit status 1"), Stderr: "gpasswd: cannot lock /etc/group"},
		"deluser": {Err: errors.New("exit status 6"), Stderr: "deluser: alice is not a member of sudo"},
	}}
	a := newTestAdapter(runner, members)
	// Membership disappears concurrently (e.g. a racing revocation job).
	a.sleep = func(time.Duration) { delete(members, "alice") }

	res, err := a.Remove(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, RemoveResultRemoved, res)
}

func TestRemoveVerifyStillMemberIsFailure(t *testing.T) {
	runner := &fakeRunner{}
	a := newTestAdapter(runner, map[string]bool{"alice": true})

	_, err := a.Remove(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerifyFailed)
}
