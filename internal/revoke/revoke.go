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

// Package revoke implements the idempotent revocation procedure executed by
// fired expiry jobs and by the broker's reconcile sweep.
package revoke

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/SharkByte561/MakeMeAdminCli/internal/audit"
	"github.com/SharkByte561/MakeMeAdminCli/internal/grant"
	"github.com/SharkByte561/MakeMeAdminCli/internal/group"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/logger"
	"github.com/SharkByte561/MakeMeAdminCli/internal/sched"
)

const (
	defaultAttempts = 3
	defaultDelay    = 5 * time.Second
)

// Procedure removes one identity from the privileged group, updates the
// grant store, and cleans up its own schedule entry. Every step is safe to
// repeat: a procedure racing a user-requested remove (or another procedure)
// treats "already gone" as success.
type Procedure struct {
	groups    group.Adapter
	store     grant.Store
	scheduler sched.Scheduler
	auditLog  audit.Logger

	attempts uint64
	delay    time.Duration
}

// New builds a procedure with the standard 3-attempt fixed-delay policy.
func New(groups group.Adapter, store grant.Store, scheduler sched.Scheduler, auditLog audit.Logger) *Procedure {
	return &Procedure{
		groups:    groups,
		store:     store,
		scheduler: scheduler,
		auditLog:  auditLog,
		attempts:  defaultAttempts,
		delay:     defaultDelay,
	}
}

// Run executes the procedure for one identity. jobID may be empty when the
// caller is not a scheduled job (reconcile sweep, uninstall).
//
// Cleanup of the schedule entry happens unconditionally and last, success
// or exhausted retries alike: the worst residual failure mode must be an
// orphaned no-op schedule entry, never a stale privileged membership and
// never a perpetually refiring revocation attempt.
func (p *Procedure) Run(ctx context.Context, identityName, jobID string) error {
	removeErr := p.removeWithRetry(ctx, identityName)

	if removeErr == nil {
		if err := p.store.Delete(ctx, identityName); err != nil {
			// Membership is already correct; a stale advisory record is
			// tolerable and will be reported as "not tracked" later.
			slog.ErrorContext(ctx, "revocation succeeded but grant record not deleted",
				logger.Identity(identityName),
				logger.Error(err),
			)
		}
		p.auditLog.Log(ctx, audit.Event{
			Type:     audit.TypeGrantExpired,
			Identity: identityName,
			Detail:   "membership revoked",
			Metadata: map[string]any{"job_id": jobID},
		})
	} else {
		slog.ErrorContext(ctx, "revocation exhausted all attempts",
			logger.Identity(identityName),
			logger.JobID(jobID),
			logger.Error(removeErr),
		)
		p.auditLog.Log(ctx, audit.Event{
			Type:     audit.TypeRevokeFailed,
			Identity: identityName,
			Detail:   removeErr.Error(),
			Metadata: map[string]any{"job_id": jobID},
		})
	}

	if jobID != "" {
		if err := p.scheduler.Cancel(ctx, jobID); err != nil {
			slog.ErrorContext(ctx, "revocation job self-cleanup failed",
				logger.JobID(jobID),
				logger.Error(err),
			)
		}
	}

	if removeErr != nil {
		return fmt.Errorf("revoke %s: %w", identityName, removeErr)
	}
	return nil
}

func (p *Procedure) removeWithRetry(ctx context.Context, identityName string) error {
	op := func() error {
		member, err := p.groups.IsMember(ctx, identityName)
		if err != nil {
			return err
		}
		if !member {
			// Already absent: success without touching the mutating API.
			return nil
		}
		// Remove handles the primary mechanism, the fallback, and the
		// post-condition verification.
		if _, err := p.groups.Remove(ctx, identityName); err != nil {
			return err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.delay), p.attempts-1),
		ctx,
	)
	return backoff.Retry(op, policy)
}
