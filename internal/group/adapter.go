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

// Package group adapts the OS's privileged local group behind an idempotent
// add/remove/query interface. The group is pinned by numeric GID at startup;
// display names are only used to drive the OS tools.
package group

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"time"
)

// ErrVerifyFailed means the OS call reported success but the re-queried
// membership state did not match. Surfaced, never swallowed.
var ErrVerifyFailed = errors.New("group: post-condition verification failed")

// AddResult is the outcome of an Add call.
type AddResult string

const (
	AddResultAlreadyMember AddResult = "already_member"
	AddResultAdded         AddResult = "added"
)

// RemoveResult is the outcome of a Remove call.
type RemoveResult string

const (
	RemoveResultWasNotMember RemoveResult = "was_not_member"
	RemoveResultRemoved      RemoveResult = "removed"
)

// Adapter is the privileged-group membership interface the broker and the
// revocation procedure depend on.
type Adapter interface {
	GroupName() string
	IsMember(ctx context.Context, username string) (bool, error)
	Add(ctx context.Context, username string) (AddResult, error)
	Remove(ctx context.Context, username string) (RemoveResult, error)
}

// wellKnownNames are tried in order when no GID is configured. The first
// group that exists wins and its GID is pinned for the process lifetime.
var wellKnownNames = []string{"sudo", "wheel", "admin"}

// Resolve locates the privileged group. gid >= 0 pins it directly; a
// negative gid auto-resolves from the well-known names.
func Resolve(gid int) (name string, resolvedGID int, err error) {
	if gid >= 0 {
		g, err := user.LookupGroupId(strconv.Itoa(gid))
		if err != nil {
			return "", 0, fmt.Errorf("group: no group with gid %d: %w", gid, err)
		}
		return g.Name, gid, nil
	}
	for _, candidate := range wellKnownNames {
		g, err := user.LookupGroup(candidate)
		if err != nil {
			continue
		}
		resolved, err := strconv.Atoi(g.Gid)
		if err != nil {
			continue
		}
		return g.Name, resolved, nil
	}
	return "", 0, errors.New("group: no privileged group found (tried sudo, wheel, admin)")
}

// OSAdapter mutates membership through gpasswd with a usermod fallback,
// re-verifying the post-condition after a settle delay. Both the command
// runner and the membership lookup are injectable so tests never touch the
// real account database.
type OSAdapter struct {
	name   string
	gid    int
	runner CommandRunner
	settle time.Duration

	// groupIDs returns the gid strings a user belongs to, including the
	// primary group. Defaults to os/user.
	groupIDs func(username string) ([]string, error)
	sleep    func(time.Duration)
}

var _ Adapter = (*OSAdapter)(nil)

// NewOSAdapter builds an adapter for the group pinned by Resolve.
func NewOSAdapter(name string, gid int, runner CommandRunner, settle time.Duration) *OSAdapter {
	return &OSAdapter{
		name:     name,
		gid:      gid,
		runner:   runner,
		settle:   settle,
		groupIDs: lookupGroupIDs,
		sleep:    time.Sleep,
	}
}

func (a *OSAdapter) GroupName() string {
	return a.name
}

// IsMember queries current membership. This is ground truth: the grant
// store is only an advisory cache over this answer.
func (a *OSAdapter) IsMember(_ context.Context, username string) (bool, error) {
	gids, err := a.groupIDs(username)
	if err != nil {
		return false, fmt.Errorf("group: lookup %s: %w", username, err)
	}
	want := strconv.Itoa(a.gid)
	for _, gid := range gids {
		if gid == want {
			return true, nil
		}
	}
	return false, nil
}

// Add makes username a member. Adding an existing member is success, not an
// error. The mutation is re-verified after the settle delay because group
// changes are not always visible synchronously with the tool's exit.
func (a *OSAdapter) Add(ctx context.Context, username string) (AddResult, error) {
	member, err := a.IsMember(ctx, username)
	if err != nil {
		return "", err
	}
	if member {
		return AddResultAlreadyMember, nil
	}

	res := a.runner.Run(ctx, "gpasswd", "-a", username, a.name)
	if res.Err != nil && !addNoopDiagnostic(res) {
		fallback := a.runner.Run(ctx, "usermod", "-aG", a.name, username)
		if fallback.Err != nil && !addNoopDiagnostic(fallback) {
			return "", fmt.Errorf("group: add %s to %s: gpasswd: %v; usermod: %w",
				username, a.name, res.Err, fallback.Err)
		}
	}

	a.sleep(a.settle)
	member, err = a.IsMember(ctx, username)
	if err != nil {
		return "", err
	}
	if !member {
		return "", fmt.Errorf("group: add %s to %s: %w", username, a.name, ErrVerifyFailed)
	}
	return AddResultAdded, nil
}

// Remove takes username out of the group. Removing a non-member is success.
func (a *OSAdapter) Remove(ctx context.Context, username string) (RemoveResult, error) {
	member, err := a.IsMember(ctx, username)
	if err != nil {
		return "", err
	}
	if !member {
		return RemoveResultWasNotMember, nil
	}

	res := a.runner.Run(ctx, "gpasswd", "-d", username, a.name)
	if res.Err != nil && !removeNoopDiagnostic(res) {
		fallback := a.runner.Run(ctx, "deluser", username, a.name)
		if fallback.Err != nil && !removeNoopDiagnostic(fallback) {
			return "", fmt.Errorf("group: remove %s from %s: gpasswd: %v; deluser: %w",
				username, a.name, res.Err, fallback.Err)
		}
	}

	a.sleep(a.settle)
	member, err = a.IsMember(ctx, username)
	if err != nil {
		return "", err
	}
	if member {
		return "", fmt.Errorf("group: remove %s from %s: %w", username, a.name, ErrVerifyFailed)
	}
	return RemoveResultRemoved, nil
}

// addNoopDiagnostic recognizes the tools' "already in the target state"
// failures, which count as success.
func addNoopDiagnostic(res RunResult) bool {
	return strings.Contains(res.Stderr, "already a member") ||
		strings.Contains(res.Stderr, "already exists")
}

func removeNoopDiagnostic(res RunResult) bool {
	return strings.Contains(res.Stderr, "is not a member") ||
		strings.Contains(res.Stderr, "not a member")
}

func lookupGroupIDs(username string) ([]string, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	return u.GroupIds()
}
