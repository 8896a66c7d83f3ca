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

package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SharkByte561/MakeMeAdminCli/internal/grant"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grants.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestPutGetDelete(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second).UTC()
	rec := &grant.Record{
		Identity:  "alice",
		GrantedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
		JobID:     "makemeadmin-revoke-abc123",
	}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec.Identity, got.Identity)
	assert.True(t, rec.GrantedAt.Equal(got.GrantedAt))
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, rec.JobID, got.JobID)

	require.NoError(t, s.Delete(ctx, "alice"))
	_, err = s.Get(ctx, "alice")
	assert.ErrorIs(t, err, grant.ErrNotFound)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, grant.ErrNotFound)
}

func TestDeleteAbsentIsNoOp(t *testing.T) {
	s, _ := openTestStore(t)

	assert.NoError(t, s.Delete(context.Background(), "nobody"))
}

func TestPutReplacesExistingRecord(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second).UTC()
	require.NoError(t, s.Put(ctx, &grant.Record{
		Identity:  "alice",
		GrantedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
		JobID:     "makemeadmin-revoke-old",
	}))
	require.NoError(t, s.Put(ctx, &grant.Record{
		Identity:  "alice",
		GrantedAt: now.Add(5 * time.Minute),
		ExpiresAt: now.Add(65 * time.Minute),
		JobID:     "makemeadmin-revoke-new",
	}))

	// Exactly one record per identity.
	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "makemeadmin-revoke-new", records[0].JobID)
	assert.True(t, now.Add(65*time.Minute).Equal(records[0].ExpiresAt))
}

func TestListOrdersByIdentity(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, s.Put(ctx, &grant.Record{
			Identity:  name,
			GrantedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}))
	}

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alice", records[0].Identity)
	assert.Equal(t, "bob", records[1].Identity)
	assert.Equal(t, "carol", records[2].Identity)
}

func TestBrokerStartTimeRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	zero, err := s.BrokerStartTime(ctx)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkBrokerStart(ctx, at))

	got, err := s.BrokerStartTime(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(got))
}

func TestOpenRecoversCorruptDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database, not even close"), 0o600))

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Recovered())

	// Reinitialized empty and fully usable.
	records, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	// The corrupt original was preserved for inspection.
	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSecondHandleSeesCommittedWrites(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.Put(ctx, &grant.Record{
		Identity:  "alice",
		GrantedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	// A revocation job opens its own handle on the same file.
	other, err := Open(ctx, path)
	require.NoError(t, err)
	defer other.Close()

	got, err := other.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Identity)

	require.NoError(t, other.Delete(ctx, "alice"))

	_, err = s.Get(ctx, "alice")
	assert.ErrorIs(t, err, grant.ErrNotFound)
}
