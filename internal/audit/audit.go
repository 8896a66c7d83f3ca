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

package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event types
const (
	TypeBrokerStarted    = "broker_started"
	TypeBrokerStopped    = "broker_stopped"
	TypeGrantIssued      = "grant_issued"
	TypeGrantRemoved     = "grant_removed"
	TypeGrantExpired     = "grant_expired"
	TypeIdentityMismatch = "identity_mismatch"
	TypePolicyDenied     = "policy_denied"
	TypeExecGranted      = "exec_granted"
	TypeExecDenied       = "exec_denied"
	TypeStoreReset       = "store_reset"
	TypeRevokeFailed     = "revoke_failed"
)

// Event represents an auditable action
type Event struct {
	Type      string         `json:"type"`
	Identity  string         `json:"identity,omitempty"`
	UID       uint32         `json:"uid,omitempty"`
	PID       int32          `json:"pid,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Logger defines the interface for audit logging. Implementations must not
// block the caller's critical path.
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using the process logger. It is the fallback
// sink and the default in tests.
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("identity", event.Identity),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.UID != 0 {
		attrs = append(attrs, slog.Int64("uid", int64(event.UID)))
	}
	if event.PID != 0 {
		attrs = append(attrs, slog.Int64("pid", int64(event.PID)))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}
	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range event.Metadata {
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}
