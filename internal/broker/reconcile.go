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

package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SharkByte561/MakeMeAdminCli/internal/grant"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/logger"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/metrics"
	"github.com/SharkByte561/MakeMeAdminCli/internal/revoke"
)

const (
	reconcileSchedule = "@every 1m"

	// A grace period avoids racing healthy expiry jobs that are a few
	// seconds from firing.
	reconcileGrace = 2 * time.Minute
)

// Reconciler is the safety net behind the one-shot expiry jobs: it sweeps
// the grant store for records whose expiry is well past and revokes them.
// It is what makes grants under the "warn" schedule-failure policy, and
// grants whose jobs were lost while the machine was off, eventually expire.
type Reconciler struct {
	store     grant.Store
	procedure *revoke.Procedure
	meter     *metrics.Meter

	cron *cron.Cron
	now  func() time.Time
}

// NewReconciler builds a reconciler. meter may be nil.
func NewReconciler(store grant.Store, procedure *revoke.Procedure, meter *metrics.Meter) *Reconciler {
	return &Reconciler{
		store:     store,
		procedure: procedure,
		meter:     meter,
		now:       time.Now,
	}
}

// Start registers the periodic sweep and runs one immediately, covering
// grants that expired while the broker was down. Call Stop on shutdown.
func (r *Reconciler) Start(ctx context.Context) error {
	r.Sweep(ctx)

	c := cron.New()
	if _, err := c.AddFunc(reconcileSchedule, func() { r.Sweep(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the periodic sweep and waits for an in-flight one to finish.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep runs one reconcile pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	records, err := r.store.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "reconcile sweep could not list grants",
			logger.Component("reconciler"),
			logger.Error(err),
		)
		return
	}

	cutoff := r.now().Add(-reconcileGrace)
	for _, record := range records {
		if record.ExpiresAt.After(cutoff) {
			continue
		}
		slog.WarnContext(ctx, "reconcile sweep revoking overdue grant",
			logger.Component("reconciler"),
			logger.Identity(record.Identity),
			logger.ExpiresAt(record.ExpiresAt),
			logger.JobID(record.JobID),
		)
		// The procedure deletes the record itself; the stored job, if any,
		// is cancelled afterwards since it evidently never fired.
		if err := r.procedure.Run(ctx, record.Identity, record.JobID); err != nil {
			slog.ErrorContext(ctx, "reconcile sweep revocation failed",
				logger.Component("reconciler"),
				logger.Identity(record.Identity),
				logger.Error(err),
			)
			if r.meter != nil {
				r.meter.RevokeFailures.Add(ctx, 1)
			}
			continue
		}
		if r.meter != nil {
			r.meter.GrantsExpired.Add(ctx, 1)
		}
	}
}
