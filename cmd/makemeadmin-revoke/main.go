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

// makemeadmin-revoke is the payload of expiry timer units. It runs as root,
// fully out-of-band from the broker: it removes one identity from the
// privileged group, updates the shared grant database, and cleans up its
// own unit pair.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/SharkByte561/MakeMeAdminCli/internal/audit"
	"github.com/SharkByte561/MakeMeAdminCli/internal/config"
	"github.com/SharkByte561/MakeMeAdminCli/internal/grant"
	"github.com/SharkByte561/MakeMeAdminCli/internal/group"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/logger"
	"github.com/SharkByte561/MakeMeAdminCli/internal/revoke"
	"github.com/SharkByte561/MakeMeAdminCli/internal/sched"
	"github.com/SharkByte561/MakeMeAdminCli/internal/store/sqlite"
)

func main() {
	var (
		identityName = flag.String("identity", "", "Account whose grant is being revoked")
		jobID        = flag.String("job", "", "Unit base name of this expiry job")
	)
	flag.Parse()

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		cfg = config.Default()
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName + "-revoke",
	})

	if *identityName == "" {
		slog.Error("missing -identity")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	auditLog := audit.NewFileLogger(
		filepath.Join(cfg.Broker.StateDir, "audit.log"),
		audit.NewSlogLogger(),
	)
	defer auditLog.Close()

	// Membership removal matters more than record bookkeeping; a dead
	// store must not stop the revocation.
	var store grant.Store
	if s, err := sqlite.Open(ctx, filepath.Join(cfg.Broker.StateDir, "grants.db")); err != nil {
		slog.Error("grant database unavailable, revoking without bookkeeping", logger.Error(err))
		store = grant.NopStore{}
	} else {
		store = s
	}
	defer store.Close()

	groupName, gid, err := group.Resolve(cfg.Group.GID)
	if err != nil {
		slog.Error("failed to resolve privileged group", logger.Error(err))
		os.Exit(1)
	}
	groups := group.NewOSAdapter(groupName, gid, group.NewExecRunner(), cfg.Group.SettleDelay)

	exe, _ := os.Executable()
	scheduler := sched.NewSystemdScheduler(
		cfg.Scheduler.UnitDir,
		cfg.Scheduler.JobNamespace,
		exe,
		sched.NewExecSystemctl(),
	)

	procedure := revoke.New(groups, store, scheduler, auditLog)
	if err := procedure.Run(ctx, *identityName, *jobID); err != nil {
		slog.Error("revocation failed",
			logger.Identity(*identityName),
			logger.JobID(*jobID),
			logger.Error(err),
		)
		os.Exit(1)
	}

	slog.Info("revocation complete",
		logger.Identity(*identityName),
		logger.JobID(*jobID),
	)
}
