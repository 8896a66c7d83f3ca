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

// Package broker implements the elevation decisions behind the IPC surface:
// identity verification, authorization, grant issue/removal, status, and
// the exec gate. The transport hands it a transport-authenticated identity;
// nothing here ever trusts a caller-supplied one.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SharkByte561/MakeMeAdminCli/internal/audit"
	"github.com/SharkByte561/MakeMeAdminCli/internal/config"
	"github.com/SharkByte561/MakeMeAdminCli/internal/grant"
	"github.com/SharkByte561/MakeMeAdminCli/internal/group"
	"github.com/SharkByte561/MakeMeAdminCli/internal/identity"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/logger"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/metrics"
	"github.com/SharkByte561/MakeMeAdminCli/internal/policy"
	"github.com/SharkByte561/MakeMeAdminCli/internal/sched"
	"github.com/SharkByte561/MakeMeAdminCli/internal/ticket"
)

// Broker holds the elevation core's collaborators. Construct with New and
// share freely; all methods are safe for concurrent use, though the
// transport serializes connections anyway.
type Broker struct {
	cfg       *config.Config
	policy    *policy.Evaluator
	store     grant.Store
	groups    group.Adapter
	scheduler sched.Scheduler
	tickets   *ticket.Service
	auditLog  audit.Logger
	meter     *metrics.Meter

	now func() time.Time
}

// New creates the broker core.
func New(
	cfg *config.Config,
	store grant.Store,
	groups group.Adapter,
	scheduler sched.Scheduler,
	tickets *ticket.Service,
	auditLog audit.Logger,
	meter *metrics.Meter,
) *Broker {
	return &Broker{
		cfg:       cfg,
		policy:    policy.New(cfg.Policy.AllowList, cfg.Policy.DenyList),
		store:     store,
		groups:    groups,
		scheduler: scheduler,
		tickets:   tickets,
		auditLog:  auditLog,
		meter:     meter,
		now:       time.Now,
	}
}

// AddResult is the outcome of a successful Add.
type AddResult struct {
	Record        *grant.Record
	AlreadyMember bool
	// Warning is set when the grant succeeded in degraded form (no
	// auto-expiry job could be created under the "warn" failure policy).
	Warning string
}

// RemoveResult is the outcome of a successful Remove.
type RemoveResult struct {
	WasNotMember bool
}

// StatusResult describes one identity's elevation state.
type StatusResult struct {
	IsAdmin bool
	// Tracked is false when the identity is elevated but this system has
	// no record of it (granted outside this system, or the store was
	// reinitialized after corruption).
	Tracked bool
	Record  *grant.Record
}

// ExecResult carries the signed ticket the desktop bridge requires.
type ExecResult struct {
	Ticket    string
	ExpiresAt time.Time
}

// verifySelf enforces the payload-vs-transport identity rule shared by all
// actions: an asserted name, when present, must refer to the caller.
func (b *Broker) verifySelf(ctx context.Context, caller identity.Identity, asserted, action string) *Error {
	if asserted == "" || caller.EqualsAsserted(asserted) {
		return nil
	}
	b.auditLog.Log(ctx, audit.Event{
		Type:     audit.TypeIdentityMismatch,
		Identity: caller.Name,
		UID:      caller.UID,
		Detail:   "payload identity does not match transport identity",
		Metadata: map[string]any{"asserted": asserted, "action": action},
	})
	if b.meter != nil {
		b.meter.RequestsDenied.Add(ctx, 1)
	}
	slog.WarnContext(ctx, "identity mismatch",
		logger.Identity(caller.Name),
		logger.Action(action),
		logger.String("asserted", asserted),
	)
	return errIdentityMismatch()
}

// Add grants the caller time-boxed membership in the privileged group and
// schedules its revocation.
func (b *Broker) Add(ctx context.Context, caller identity.Identity, asserted string, durationMinutes int) (*AddResult, error) {
	if errMismatch := b.verifySelf(ctx, caller, asserted, "add"); errMismatch != nil {
		return nil, errMismatch
	}

	decision := b.policy.IsAllowed(caller)
	if !decision.Allowed {
		b.auditLog.Log(ctx, audit.Event{
			Type:     audit.TypePolicyDenied,
			Identity: caller.Name,
			UID:      caller.UID,
			Detail:   "policy denied elevation",
			Metadata: map[string]any{"rule": decision.Rule},
		})
		if b.meter != nil {
			b.meter.RequestsDenied.Add(ctx, 1)
		}
		return nil, errNotAuthorized()
	}

	duration := b.cfg.Policy.ClampDuration(durationMinutes)
	grantedAt := b.now().UTC()
	expiresAt := grantedAt.Add(duration)

	// Supersede: an orphaned old job firing later would revoke the newer
	// grant early, so the old job must be gone before the new pair exists.
	// If it cannot be cancelled, the whole request fails.
	existing, err := b.store.Get(ctx, caller.Name)
	if err != nil && !errors.Is(err, grant.ErrNotFound) {
		return nil, NewError(CodeCorruptedState, "grant store unavailable")
	}
	if existing != nil && existing.JobID != "" {
		if err := b.scheduler.Cancel(ctx, existing.JobID); err != nil {
			slog.ErrorContext(ctx, "failed to cancel superseded revocation job",
				logger.Identity(caller.Name),
				logger.JobID(existing.JobID),
				logger.Error(err),
			)
			return nil, NewError(CodeSchedulingFailed, "could not supersede the existing expiry job; try again")
		}
	}

	addRes, err := b.groups.Add(ctx, caller.Name)
	if err != nil {
		slog.ErrorContext(ctx, "group add failed",
			logger.Identity(caller.Name),
			logger.GroupName(b.groups.GroupName()),
			logger.Error(err),
		)
		return nil, NewError(CodeMembershipOperationFailed, "could not add you to the privileged group")
	}

	result := &AddResult{AlreadyMember: addRes == group.AddResultAlreadyMember}

	job, schedErr := b.scheduler.ScheduleOneShot(ctx, caller.Name, expiresAt)
	jobID := ""
	if schedErr != nil {
		if b.cfg.Scheduler.OnScheduleFailure == "revoke" {
			// Fail closed: a grant with no expiry is worse than no grant.
			if addRes == group.AddResultAdded {
				if _, remErr := b.groups.Remove(ctx, caller.Name); remErr != nil {
					slog.ErrorContext(ctx, "rollback of unscheduled grant failed",
						logger.Identity(caller.Name),
						logger.Error(remErr),
					)
				}
			}
			return nil, NewError(CodeSchedulingFailed, "could not schedule automatic expiry; grant refused")
		}
		// Fail open with a warning: the source system's behavior. The
		// reconcile sweep becomes the only safety net for this grant.
		slog.WarnContext(ctx, "grant issued without expiry job",
			logger.Identity(caller.Name),
			logger.Error(schedErr),
		)
		result.Warning = "admin rights granted, but automatic expiry could not be scheduled"
	} else {
		jobID = job.ID
	}

	record := &grant.Record{
		Identity:  caller.Name,
		GrantedAt: grantedAt,
		ExpiresAt: expiresAt,
		JobID:     jobID,
	}
	if err := b.store.Put(ctx, record); err != nil {
		// Membership and expiry job are in place; the advisory record is
		// the only casualty.
		slog.ErrorContext(ctx, "failed to persist grant record",
			logger.Identity(caller.Name),
			logger.Error(err),
		)
	}
	result.Record = record

	b.auditLog.Log(ctx, audit.Event{
		Type:     audit.TypeGrantIssued,
		Identity: caller.Name,
		UID:      caller.UID,
		Detail:   "admin rights granted",
		Metadata: map[string]any{
			"expires_at": expiresAt,
			"job_id":     jobID,
			"duration":   duration.String(),
		},
	})
	if b.meter != nil {
		b.meter.GrantsIssued.Add(ctx, 1)
	}
	return result, nil
}

// Remove revokes the caller's grant. Removing a non-member succeeds.
func (b *Broker) Remove(ctx context.Context, caller identity.Identity, asserted string) (*RemoveResult, error) {
	if errMismatch := b.verifySelf(ctx, caller, asserted, "remove"); errMismatch != nil {
		return nil, errMismatch
	}

	removeRes, err := b.groups.Remove(ctx, caller.Name)
	if err != nil {
		slog.ErrorContext(ctx, "group remove failed",
			logger.Identity(caller.Name),
			logger.Error(err),
		)
		return nil, NewError(CodeMembershipOperationFailed, "could not remove you from the privileged group")
	}

	record, err := b.store.Get(ctx, caller.Name)
	if err == nil {
		if delErr := b.store.Delete(ctx, caller.Name); delErr != nil {
			slog.ErrorContext(ctx, "failed to delete grant record",
				logger.Identity(caller.Name),
				logger.Error(delErr),
			)
		}
		if record.JobID != "" {
			// Best effort: a cancel failure is harmless because the fired
			// job finds the membership already gone and no-ops.
			if cancelErr := b.scheduler.Cancel(ctx, record.JobID); cancelErr != nil {
				slog.WarnContext(ctx, "failed to cancel revocation job on remove",
					logger.JobID(record.JobID),
					logger.Error(cancelErr),
				)
			}
		}
	}

	b.auditLog.Log(ctx, audit.Event{
		Type:     audit.TypeGrantRemoved,
		Identity: caller.Name,
		UID:      caller.UID,
		Detail:   "admin rights removed on request",
		Metadata: map[string]any{"was_member": removeRes == group.RemoveResultRemoved},
	})
	if b.meter != nil {
		b.meter.GrantsRemoved.Add(ctx, 1)
	}
	return &RemoveResult{WasNotMember: removeRes == group.RemoveResultWasNotMember}, nil
}

// Status reports the caller's elevation state. The store is advisory: when
// it has no record, the live group membership decides, classified as
// "elevated but not tracked".
func (b *Broker) Status(ctx context.Context, caller identity.Identity, asserted string) (*StatusResult, error) {
	if errMismatch := b.verifySelf(ctx, caller, asserted, "status"); errMismatch != nil {
		return nil, errMismatch
	}

	isMember, err := b.groups.IsMember(ctx, caller.Name)
	if err != nil {
		return nil, NewError(CodeMembershipOperationFailed, "could not query group membership")
	}

	record, err := b.store.Get(ctx, caller.Name)
	if err != nil {
		if !errors.Is(err, grant.ErrNotFound) {
			slog.WarnContext(ctx, "grant store read failed during status",
				logger.Identity(caller.Name),
				logger.Error(err),
			)
		}
		return &StatusResult{IsAdmin: isMember, Tracked: false}, nil
	}
	return &StatusResult{IsAdmin: isMember, Tracked: true, Record: record}, nil
}

// StatusAll lists all tracked grants. Gating on the caller's own elevated
// rights is the transport's concern.
func (b *Broker) StatusAll(ctx context.Context) ([]*grant.Record, error) {
	records, err := b.store.List(ctx)
	if err != nil {
		return nil, NewError(CodeCorruptedState, "grant store unavailable")
	}
	return records, nil
}

// Exec gates the desktop bridge: a valid, unexpired, effective grant yields
// a signed launch ticket. The broker does not own process-launch mechanics.
func (b *Broker) Exec(ctx context.Context, caller identity.Identity, program string) (*ExecResult, error) {
	deny := func(detail string) error {
		b.auditLog.Log(ctx, audit.Event{
			Type:     audit.TypeExecDenied,
			Identity: caller.Name,
			UID:      caller.UID,
			Detail:   detail,
			Metadata: map[string]any{"program": program},
		})
		return NewError(CodeNotAuthorized, "exec requires an active admin grant")
	}

	record, err := b.store.Get(ctx, caller.Name)
	if err != nil {
		return nil, deny("no active grant")
	}
	if record.Expired(b.now()) {
		return nil, deny("grant expired")
	}
	member, err := b.groups.IsMember(ctx, caller.Name)
	if err != nil || !member {
		return nil, deny("grant not effective")
	}

	raw, err := b.tickets.Mint(caller.Name, program, record.ExpiresAt)
	if err != nil {
		return nil, NewError(CodeServiceUnavailable, "could not issue exec ticket")
	}

	b.auditLog.Log(ctx, audit.Event{
		Type:     audit.TypeExecGranted,
		Identity: caller.Name,
		UID:      caller.UID,
		Detail:   "exec ticket issued",
		Metadata: map[string]any{"program": program, "expires_at": record.ExpiresAt},
	})
	return &ExecResult{Ticket: raw, ExpiresAt: record.ExpiresAt}, nil
}
