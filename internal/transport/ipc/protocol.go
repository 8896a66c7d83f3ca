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

// Package ipc is the broker's local-machine transport: an HTTP/JSON protocol
// over a unix domain socket, one connection served at a time, with caller
// identity taken from the socket's kernel-attached peer credentials and
// never from the request body.
package ipc

import (
	"time"

	"github.com/SharkByte561/MakeMeAdminCli/internal/grant"
)

// Request is the body shared by all broker actions. Username is the
// caller-asserted account name; when present it must match the peer
// credential or the request is denied.
type Request struct {
	Username         string `json:"username,omitempty"`
	Duration         int    `json:"duration,omitempty"`
	All              bool   `json:"all,omitempty"`
	Program          string `json:"program,omitempty"`
	Arguments        string `json:"arguments,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

// Response is the fixed reply shape for every action. Optional fields are
// explicit pointers rather than conditionally attached properties, so the
// wire shape is the same for every outcome.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`

	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	GrantedAt *time.Time `json:"grantedAt,omitempty"`
	IsAdmin   *bool      `json:"isAdmin,omitempty"`
	Tracked   *bool      `json:"tracked,omitempty"`

	ActiveUsers []ActiveUser `json:"activeUsers,omitempty"`

	Ticket string `json:"ticket,omitempty"`
}

// ActiveUser is one row of a status(all) listing.
type ActiveUser struct {
	Username  string    `json:"username"`
	GrantedAt time.Time `json:"grantedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func activeUsersFromRecords(records []*grant.Record) []ActiveUser {
	out := make([]ActiveUser, 0, len(records))
	for _, r := range records {
		out = append(out, ActiveUser{
			Username:  r.Identity,
			GrantedAt: r.GrantedAt,
			ExpiresAt: r.ExpiresAt,
		})
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }
func boolPtr(b bool) *bool           { return &b }
