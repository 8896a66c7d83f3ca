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

package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SharkByte561/MakeMeAdminCli/internal/audit"
	"github.com/SharkByte561/MakeMeAdminCli/internal/broker"
	"github.com/SharkByte561/MakeMeAdminCli/internal/config"
	"github.com/SharkByte561/MakeMeAdminCli/internal/grant"
	"github.com/SharkByte561/MakeMeAdminCli/internal/group"
	"github.com/SharkByte561/MakeMeAdminCli/internal/identity"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/metrics"
	"github.com/SharkByte561/MakeMeAdminCli/internal/sched"
	"github.com/SharkByte561/MakeMeAdminCli/internal/ticket"
)

type stubStore struct {
	records map[string]*grant.Record
}

func (s *stubStore) Get(_ context.Context, name string) (*grant.Record, error) {
	r, ok := s.records[name]
	if !ok {
		return nil, grant.ErrNotFound
	}
	return r, nil
}

func (s *stubStore) List(context.Context) ([]*grant.Record, error) {
	var out []*grant.Record
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *stubStore) Put(_ context.Context, r *grant.Record) error {
	s.records[r.Identity] = r
	return nil
}

func (s *stubStore) Delete(_ context.Context, name string) error {
	delete(s.records, name)
	return nil
}

func (s *stubStore) BrokerStartTime(context.Context) (time.Time, error) { return time.Time{}, nil }
func (s *stubStore) MarkBrokerStart(context.Context, time.Time) error   { return nil }
func (s *stubStore) Close() error                                       { return nil }

type stubGroups struct {
	members map[string]bool
}

func (g *stubGroups) GroupName() string { return "sudo" }

func (g *stubGroups) IsMember(_ context.Context, name string) (bool, error) {
	return g.members[name], nil
}

func (g *stubGroups) Add(_ context.Context, name string) (group.AddResult, error) {
	if g.members[name] {
		return group.AddResultAlreadyMember, nil
	}
	g.members[name] = true
	return group.AddResultAdded, nil
}

func (g *stubGroups) Remove(_ context.Context, name string) (group.RemoveResult, error) {
	if !g.members[name] {
		return group.RemoveResultWasNotMember, nil
	}
	delete(g.members, name)
	return group.RemoveResultRemoved, nil
}

type stubScheduler struct {
	jobs int
}

func (s *stubScheduler) EnsurePaths() error { return nil }

func (s *stubScheduler) ScheduleOneShot(_ context.Context, name string, fireAt time.Time) (*sched.Job, error) {
	s.jobs++
	return &sched.Job{ID: "makemeadmin-revoke-test", Identity: name, FireAt: fireAt}, nil
}

func (s *stubScheduler) Cancel(context.Context, string) error { return nil }

type testServer struct {
	router http.Handler
	groups *stubGroups
	store  *stubStore
	self   identity.Identity
}

// newTestServer wires a real broker over stubs behind the real router. The
// peer credential is the test process's own uid so AuthMiddleware resolves
// it against the live account database.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	self, err := identity.Current()
	require.NoError(t, err)

	cfg := config.Default()
	store := &stubStore{records: make(map[string]*grant.Record)}
	groups := &stubGroups{members: make(map[string]bool)}
	b := broker.New(cfg, store, groups, &stubScheduler{},
		ticket.NewService([]byte("0123456789abcdef0123456789abcdef")),
		audit.NewSlogLogger(), nil)

	meter, err := metrics.New(context.Background(), metrics.Config{}, "test")
	require.NoError(t, err)
	router := NewRouter(NewHandler(b, groups, nil), NewRateLimiter(1000, 1000), meter)

	cred := identity.PeerCred{UID: uint32(os.Getuid()), PID: int32(os.Getpid())}
	withCred := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r.WithContext(WithPeerCred(r.Context(), cred)))
	})

	return &testServer{router: withCred, groups: groups, store: store, self: self}
}

func (ts *testServer) do(t *testing.T, path string, req Request) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, r)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w, resp
}

func TestAddGrantsCaller(t *testing.T) {
	ts := newTestServer(t)

	w, resp := ts.do(t, "/v1/add", Request{Duration: 30})
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, resp.Success)
	require.NotNil(t, resp.ExpiresAt)
	require.NotNil(t, resp.GrantedAt)
	assert.True(t, resp.ExpiresAt.After(*resp.GrantedAt))
	assert.True(t, ts.groups.members[ts.self.Name])
}

func TestAddRejectsForeignUsername(t *testing.T) {
	ts := newTestServer(t)

	w, resp := ts.do(t, "/v1/add", Request{Username: "definitely-someone-else", Duration: 15})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, broker.CodeIdentityMismatch, resp.Code)
	assert.False(t, ts.groups.members[ts.self.Name])
}

func TestRemoveNonMember(t *testing.T) {
	ts := newTestServer(t)

	w, resp := ts.do(t, "/v1/remove", Request{})
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "was not a member")
}

func TestStatusReportsUntracked(t *testing.T) {
	ts := newTestServer(t)
	ts.groups.members[ts.self.Name] = true

	w, resp := ts.do(t, "/v1/status", Request{})
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, resp.IsAdmin)
	require.NotNil(t, resp.Tracked)
	assert.True(t, *resp.IsAdmin)
	assert.False(t, *resp.Tracked)
	assert.Contains(t, resp.Message, "not tracked")
}

func TestStatusAllGatedOnElevation(t *testing.T) {
	ts := newTestServer(t)

	w, resp := ts.do(t, "/v1/status", Request{All: true})
	if os.Getuid() == 0 {
		// Root bypasses the membership gate.
		assert.Equal(t, http.StatusOK, w.Code)
		return
	}

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, broker.CodeNotAuthorized, resp.Code)

	// Elevated callers may list.
	ts.groups.members[ts.self.Name] = true
	w, resp = ts.do(t, "/v1/status", Request{All: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestExecRequiresGrantAndProgram(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, "/v1/exec", Request{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := ts.do(t, "/v1/exec", Request{Program: "/usr/bin/htop"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, broker.CodeNotAuthorized, resp.Code)

	_, addResp := ts.do(t, "/v1/add", Request{Duration: 15})
	require.True(t, addResp.Success)

	w, resp = ts.do(t, "/v1/exec", Request{Program: "/usr/bin/htop"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, resp.Ticket)
}

func TestRequestWithoutPeerCredRejected(t *testing.T) {
	ts := newTestServer(t)

	// Straight to the router, bypassing the credential injection.
	r := httptest.NewRequest(http.MethodPost, "/v1/add", bytes.NewReader([]byte("{}")))
	w := httptest.NewRecorder()
	ts.routerWithoutCred().ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func (ts *testServer) routerWithoutCred() http.Handler {
	// The injected handler is a wrapper; rebuilding the bare router keeps
	// this explicit.
	cfg := config.Default()
	b := broker.New(cfg, ts.store, ts.groups, &stubScheduler{},
		ticket.NewService([]byte("0123456789abcdef0123456789abcdef")),
		audit.NewSlogLogger(), nil)
	return NewRouter(NewHandler(b, ts.groups, nil), NewRateLimiter(1000, 1000), nil)
}

func TestHealthzUnauthenticated(t *testing.T) {
	ts := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	ts.routerWithoutCred().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}
