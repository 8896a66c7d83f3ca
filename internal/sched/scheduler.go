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

// Package sched creates and cancels the durable one-shot revocation jobs.
//
// Each grant gets a systemd service+timer unit pair written to disk. The
// timer fires at a fixed wall-clock time with Persistent=true, so a host
// that was off at the fire time runs the job at next boot instead of
// skipping it. The job executes the revocation binary with system privilege
// and no runtime dependency on the broker process.
package sched

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job identifies one scheduled revocation. The ID doubles as the systemd
// unit base name, so a stored ID is enough to find and remove the units
// later without any other state.
type Job struct {
	ID       string
	Identity string
	FireAt   time.Time
}

// Scheduler is the capability interface the broker and the revocation
// procedure use. Implementations must make Cancel idempotent: cancelling a
// job that no longer exists is success.
type Scheduler interface {
	// EnsurePaths idempotently creates the directories jobs live in.
	EnsurePaths() error

	// ScheduleOneShot registers a durable job that revokes identity's grant
	// at fireAt.
	ScheduleOneShot(ctx context.Context, identity string, fireAt time.Time) (*Job, error)

	// Cancel tears the job down: timer stopped, unit files removed. Also
	// used by the fired job itself as its self-cleanup step.
	Cancel(ctx context.Context, jobID string) error
}

// SystemdScheduler implements Scheduler with static unit files under the
// systemd system directory.
type SystemdScheduler struct {
	unitDir   string
	namespace string
	revokeBin string
	systemctl Systemctl
}

var _ Scheduler = (*SystemdScheduler)(nil)

// NewSystemdScheduler builds a scheduler. revokeBin is the absolute path of
// the revocation binary the fired timer executes.
func NewSystemdScheduler(unitDir, namespace, revokeBin string, systemctl Systemctl) *SystemdScheduler {
	return &SystemdScheduler{
		unitDir:   unitDir,
		namespace: namespace,
		revokeBin: revokeBin,
		systemctl: systemctl,
	}
}

func (s *SystemdScheduler) EnsurePaths() error {
	if err := os.MkdirAll(s.unitDir, 0o755); err != nil {
		return fmt.Errorf("sched: ensure unit dir: %w", err)
	}
	return nil
}

func (s *SystemdScheduler) ScheduleOneShot(ctx context.Context, identity string, fireAt time.Time) (*Job, error) {
	job := &Job{
		ID:       fmt.Sprintf("%s-%s", s.namespace, uuid.NewString()[:8]),
		Identity: identity,
		FireAt:   fireAt.UTC(),
	}

	if err := os.WriteFile(s.servicePath(job.ID), []byte(s.serviceUnit(job)), 0o644); err != nil {
		return nil, fmt.Errorf("sched: write service unit: %w", err)
	}
	if err := os.WriteFile(s.timerPath(job.ID), []byte(s.timerUnit(job)), 0o644); err != nil {
		os.Remove(s.servicePath(job.ID))
		return nil, fmt.Errorf("sched: write timer unit: %w", err)
	}

	if err := s.systemctl.DaemonReload(ctx); err != nil {
		s.removeUnits(job.ID)
		return nil, fmt.Errorf("sched: daemon-reload: %w", err)
	}
	if err := s.systemctl.EnableNow(ctx, job.ID+".timer"); err != nil {
		s.removeUnits(job.ID)
		return nil, fmt.Errorf("sched: enable timer: %w", err)
	}
	return job, nil
}

func (s *SystemdScheduler) Cancel(ctx context.Context, jobID string) error {
	if !strings.HasPrefix(jobID, s.namespace+"-") {
		return fmt.Errorf("sched: job id %q outside namespace %q", jobID, s.namespace)
	}

	_, statErr := os.Stat(s.timerPath(jobID))
	if errors.Is(statErr, os.ErrNotExist) {
		// Already cleaned up, perhaps by the job itself. Remove a stray
		// service unit if one survived and call it done.
		s.removeUnits(jobID)
		return nil
	}

	if err := s.systemctl.DisableNow(ctx, jobID+".timer"); err != nil {
		return fmt.Errorf("sched: disable timer: %w", err)
	}
	s.removeUnits(jobID)
	if err := s.systemctl.DaemonReload(ctx); err != nil {
		// Units are gone from disk; a failed reload leaves at worst a
		// stale in-memory unit pointing at nothing.
		return nil
	}
	return nil
}

func (s *SystemdScheduler) removeUnits(jobID string) {
	os.Remove(s.timerPath(jobID))
	os.Remove(s.servicePath(jobID))
}

func (s *SystemdScheduler) servicePath(jobID string) string {
	return filepath.Join(s.unitDir, jobID+".service")
}

func (s *SystemdScheduler) timerPath(jobID string) string {
	return filepath.Join(s.unitDir, jobID+".timer")
}

func (s *SystemdScheduler) serviceUnit(job *Job) string {
	return fmt.Sprintf(`[Unit]
Description=Revoke temporary admin rights for %s

[Service]
Type=oneshot
ExecStart=%s --identity %q --job %s
`, job.Identity, s.revokeBin, job.Identity, job.ID)
}

func (s *SystemdScheduler) timerUnit(job *Job) string {
	return fmt.Sprintf(`[Unit]
Description=Expiry timer for %s

[Timer]
OnCalendar=%s
AccuracySec=1s
Persistent=true

[Install]
WantedBy=timers.target
`, job.Identity, job.FireAt.Format("2006-01-02 15:04:05 UTC"))
}
