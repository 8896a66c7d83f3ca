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

package identity

import (
	"errors"
	"os"
	"os/user"
	"strconv"
	"strings"
)

var ErrUnknownUser = errors.New("identity: unknown user")

// Identity is a caller identity as attached by the transport. Name is the
// canonical account name; UID is the stable numeric identifier the kernel
// reported, which survives account renames the way a Windows SID does.
type Identity struct {
	Name string
	UID  uint32
}

// SID returns the stable string form of the identity, used by policy rules
// that match on the numeric identifier instead of the account name.
func (i Identity) SID() string {
	return strconv.FormatUint(uint64(i.UID), 10)
}

func (i Identity) String() string {
	return i.Name
}

// Canonicalize normalizes an account name for comparison: lowercase, with
// any local-host qualifier ("<hostname>\name" or ".\name") stripped. The
// source system normalizes DOMAIN\user the same way.
func Canonicalize(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.IndexByte(name, '\\'); idx >= 0 {
		qualifier := name[:idx]
		host, _ := os.Hostname()
		if qualifier == "." || qualifier == strings.ToLower(host) {
			name = name[idx+1:]
		}
	}
	return name
}

// EqualsAsserted reports whether a caller-asserted account name refers to
// this identity. Empty assertions never match; callers that omit the name
// must be handled before the comparison.
func (i Identity) EqualsAsserted(asserted string) bool {
	if asserted == "" {
		return false
	}
	return Canonicalize(asserted) == i.Name
}

// FromUID resolves a kernel-reported uid to an Identity via the local
// account database.
func FromUID(uid uint32) (Identity, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return Identity{}, ErrUnknownUser
	}
	return Identity{Name: Canonicalize(u.Username), UID: uid}, nil
}

// Current returns the identity of the running process, used by the CLI to
// fill status output without a round trip.
func Current() (Identity, error) {
	u, err := user.Current()
	if err != nil {
		return Identity{}, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Name: Canonicalize(u.Username), UID: uint32(uid)}, nil
}
