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

// Package grant defines the durable record of an identity's temporary
// privileged-group membership and the store it lives in.
package grant

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("grant: not found")

// Record tracks one identity's active elevation window.
//
// The store is an advisory cache: ground truth for "is this identity
// privileged right now" is always the OS group itself. The record exists to
// recover the revocation-job linkage and to display grant/expiry times.
type Record struct {
	Identity  string    `json:"identity"`
	GrantedAt time.Time `json:"grantedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	JobID     string    `json:"revocationJobId"`
}

// Expired reports whether the record's window has passed at the given time.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store is the durable grant record store. It is shared between the broker
// and every out-of-process revocation job, so implementations must read and
// write against current on-disk state, never a cached copy.
type Store interface {
	// Get returns the active record for an identity, or ErrNotFound.
	Get(ctx context.Context, identity string) (*Record, error)

	// List returns all active records in unspecified order.
	List(ctx context.Context) ([]*Record, error)

	// Put inserts or replaces the record for record.Identity. At most one
	// record per identity exists at any time.
	Put(ctx context.Context, record *Record) error

	// Delete removes the record for an identity. Deleting an absent record
	// is not an error.
	Delete(ctx context.Context, identity string) error

	// BrokerStartTime returns the time recorded by the last MarkBrokerStart.
	BrokerStartTime(ctx context.Context) (time.Time, error)

	// MarkBrokerStart records that the broker (re)started now.
	MarkBrokerStart(ctx context.Context, at time.Time) error

	Close() error
}
