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

package revoke

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SharkByte561/MakeMeAdminCli/internal/audit"
	"github.com/SharkByte561/MakeMeAdminCli/internal/grant"
	"github.com/SharkByte561/MakeMeAdminCli/internal/group"
	"github.com/SharkByte561/MakeMeAdminCli/internal/sched"
)

// mockGroups scripts membership state per call.
type mockGroups struct {
	member      bool
	removeErr   error
	removeCalls int
	memberCalls int
}

func (m *mockGroups) GroupName() string { return "sudo" }

func (m *mockGroups) IsMember(context.Context, string) (bool, error) {
	m.memberCalls++
	return m.member, nil
}

func (m *mockGroups) Add(context.Context, string) (group.AddResult, error) {
	return group.AddResultAdded, nil
}

func (m *mockGroups) Remove(context.Context, string) (group.RemoveResult, error) {
	m.removeCalls++
	if m.removeErr != nil {
		return "", m.removeErr
	}
	m.member = false
	return group.RemoveResultRemoved, nil
}

// mockStore is an in-memory grant.Store.
type mockStore struct {
	mu      sync.Mutex
	records map[string]*grant.Record
	delErr  error
}

func newMockStore() *mockStore {
	return &mockStore{records: map[string]*grant.Record{}}
}

func (m *mockStore) Get(_ context.Context, identity string) (*grant.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[identity]
	if !ok {
		return nil, grant.ErrNotFound
	}
	return r, nil
}

func (m *mockStore) List(context.Context) ([]*grant.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*grant.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) Put(_ context.Context, r *grant.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.Identity] = r
	return nil
}

func (m *mockStore) Delete(_ context.Context, identity string) error {
	if m.delErr != nil {
		return m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, identity)
	return nil
}

func (m *mockStore) BrokerStartTime(context.Context) (time.Time, error) { return time.Time{}, nil }
func (m *mockStore) MarkBrokerStart(context.Context, time.Time) error   { return nil }
func (m *mockStore) Close() error                                      { return nil }

// mockScheduler records cancellations.
type mockScheduler struct {
	cancelled []string
	cancelErr error
}

func (m *mockScheduler) EnsurePaths() error { return nil }

func (m *mockScheduler) ScheduleOneShot(_ context.Context, identity string, fireAt time.Time) (*sched.Job, error) {
	return &sched.Job{ID: "job-1", Identity: identity, FireAt: fireAt}, nil
}

func (m *mockScheduler) Cancel(_ context.Context, jobID string) error {
	m.cancelled = append(m.cancelled, jobID)
	return m.cancelErr
}

func newTestProcedure(groups *mockGroups, store *mockStore, scheduler *mockScheduler) *Procedure {
	p := New(groups, store, scheduler, audit.NewSlogLogger())
	p.delay = time.Millisecond
	return p
}

func TestRunRemovesMemberAndCleansUp(t *testing.T) {
	groups := &mockGroups{member: true}
	store := newMockStore()
	store.records["alice"] = &grant.Record{Identity: "alice", JobID: "job-7"}
	scheduler := &mockScheduler{}

	err := newTestProcedure(groups, store, scheduler).Run(context.Background(), "alice", "job-7")
	require.NoError(t, err)

	assert.Equal(t, 1, groups.removeCalls)
	_, err = store.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, grant.ErrNotFound)
	assert.Equal(t, []string{"job-7"}, scheduler.cancelled, "job self-deletes after the store update")
}

func TestRunAlreadyAbsentSkipsMutation(t *testing.T) {
	groups := &mockGroups{member: false}
	store := newMockStore()
	scheduler := &mockScheduler{}

	err := newTestProcedure(groups, store, scheduler).Run(context.Background(), "alice", "job-7")
	require.NoError(t, err)

	assert.Zero(t, groups.removeCalls, "idempotent path must not call the mutating API")
	assert.Equal(t, []string{"job-7"}, scheduler.cancelled)
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	groups := &mockGroups{member: true}
	flaky := &flakyGroups{inner: groups, failures: 2}
	store := newMockStore()
	scheduler := &mockScheduler{}
	p := newTestProcedure(groups, store, scheduler)
	p.groups = flaky

	err := p.Run(context.Background(), "alice", "job-7")
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls, "two failures plus the succeeding attempt")
}

// flakyGroups fails the first N Remove calls.
type flakyGroups struct {
	inner    *mockGroups
	failures int
	calls    int
}

func (f *flakyGroups) GroupName() string { return f.inner.GroupName() }

func (f *flakyGroups) IsMember(ctx context.Context, u string) (bool, error) {
	return f.inner.IsMember(ctx, u)
}

func (f *flakyGroups) Add(ctx context.Context, u string) (group.AddResult, error) {
	return f.inner.Add(ctx, u)
}

func (f *flakyGroups) Remove(ctx context.Context, u string) (group.RemoveResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("transient failure")
	}
	return f.inner.Remove(ctx, u)
}

func TestRunExhaustedAttemptsStillCleansUp(t *testing.T) {
	groups := &mockGroups{member: true, removeErr: errors.New("permanent failure")}
	store := newMockStore()
	store.records["alice"] = &grant.Record{Identity: "alice"}
	scheduler := &mockScheduler{}

	err := newTestProcedure(groups, store, scheduler).Run(context.Background(), "alice", "job-7")
	require.Error(t, err)

	assert.Equal(t, 3, groups.removeCalls, "exactly three attempts")
	// Record stays: membership was not revoked, so the grant is still live.
	_, getErr := store.Get(context.Background(), "alice")
	assert.NoError(t, getErr)
	// Self-cleanup still happens: a perpetually refiring job is worse than
	// a one-time failure surfaced via the audit log.
	assert.Equal(t, []string{"job-7"}, scheduler.cancelled)
}

func TestRunWithoutJobIDSkipsCancel(t *testing.T) {
	groups := &mockGroups{member: true}
	scheduler := &mockScheduler{}

	err := newTestProcedure(groups, newMockStore(), scheduler).Run(context.Background(), "alice", "")
	require.NoError(t, err)
	assert.Empty(t, scheduler.cancelled)
}

func TestRunWithUnavailableStoreStillRevokes(t *testing.T) {
	// When the grant database cannot be opened, the fired job runs over a
	// NopStore. Membership removal and unit self-cleanup must not depend on
	// the bookkeeping being alive.
	groups := &mockGroups{member: true}
	scheduler := &mockScheduler{}
	p := New(groups, grant.NopStore{}, scheduler, audit.NewSlogLogger())
	p.delay = time.Millisecond

	err := p.Run(context.Background(), "alice", "job-7")
	require.NoError(t, err)

	assert.Equal(t, 1, groups.removeCalls)
	assert.False(t, groups.member)
	assert.Equal(t, []string{"job-7"}, scheduler.cancelled)
}
