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

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/SharkByte561/MakeMeAdminCli/internal/audit"
	"github.com/SharkByte561/MakeMeAdminCli/internal/bridge"
	"github.com/SharkByte561/MakeMeAdminCli/internal/broker"
	"github.com/SharkByte561/MakeMeAdminCli/internal/config"
	"github.com/SharkByte561/MakeMeAdminCli/internal/group"
	"github.com/SharkByte561/MakeMeAdminCli/internal/installer"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/logger"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/metrics"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/tracing"
	"github.com/SharkByte561/MakeMeAdminCli/internal/revoke"
	"github.com/SharkByte561/MakeMeAdminCli/internal/sched"
	"github.com/SharkByte561/MakeMeAdminCli/internal/store/sqlite"
	"github.com/SharkByte561/MakeMeAdminCli/internal/ticket"
	"github.com/SharkByte561/MakeMeAdminCli/internal/transport/ipc"
)

func main() {
	// Load configuration; an unreadable or invalid file means defaults, not
	// a dead broker.
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		cfg = config.Default()
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		slog.Warn("configuration unusable, running with built-in defaults", logger.Error(err))
	}
	slog.Info("starting makemeadmin broker")

	ctx := context.Background()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	systemctl := sched.NewExecSystemctl()

	// Fail closed: the grant database and socket need their directories.
	if err := installer.New(cfg, systemctl).VerifyPaths(); err != nil {
		slog.Error("refusing to serve", logger.Error(err))
		os.Exit(1)
	}

	auditLog := audit.NewFileLogger(
		filepath.Join(cfg.Broker.StateDir, "audit.log"),
		audit.NewSlogLogger(),
	)
	defer auditLog.Close()

	store, err := sqlite.Open(ctx, filepath.Join(cfg.Broker.StateDir, "grants.db"))
	if err != nil {
		slog.Error("failed to open grant database", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()
	if store.Recovered() {
		auditLog.Log(ctx, audit.Event{
			Type:   audit.TypeStoreReset,
			Detail: "grant database was corrupt and has been reinitialized",
		})
	}
	if err := store.MarkBrokerStart(ctx, time.Now()); err != nil {
		slog.Warn("could not record broker start time", logger.Error(err))
	}

	key, err := ticket.LoadOrCreateKey(filepath.Join(cfg.Broker.StateDir, "ticket.key"))
	if err != nil {
		slog.Error("failed to load ticket key", logger.Error(err))
		os.Exit(1)
	}
	tickets := ticket.NewService(key)

	groupName, gid, err := group.Resolve(cfg.Group.GID)
	if err != nil {
		slog.Error("failed to resolve privileged group", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("privileged group resolved",
		logger.GroupName(groupName),
		logger.String("gid", strconv.Itoa(gid)),
	)
	groups := group.NewOSAdapter(groupName, gid, group.NewExecRunner(), cfg.Group.SettleDelay)

	scheduler := sched.NewSystemdScheduler(
		cfg.Scheduler.UnitDir,
		cfg.Scheduler.JobNamespace,
		revokeBinPath(),
		systemctl,
	)
	if err := scheduler.EnsurePaths(); err != nil {
		slog.Error("scheduler paths unavailable", logger.Error(err))
		os.Exit(1)
	}

	b := broker.New(cfg, store, groups, scheduler, tickets, auditLog, meter)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconciler := broker.NewReconciler(store, revoke.New(groups, store, scheduler, auditLog), meter)
	if err := reconciler.Start(runCtx); err != nil {
		slog.Error("failed to start reconciler", logger.Error(err))
		os.Exit(1)
	}
	defer reconciler.Stop()

	ln, err := ipc.Listen(cfg.Broker.SocketPath)
	if err != nil {
		slog.Error("failed to bind broker socket", logger.Error(err))
		os.Exit(1)
	}

	auditLog.Log(ctx, audit.Event{Type: audit.TypeBrokerStarted})
	slog.Info("listening", logger.String("socket", cfg.Broker.SocketPath))

	router := ipc.NewRouter(
		ipc.NewHandler(b, groups, bridge.NewLauncher(tickets)),
		ipc.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		meter,
	)
	if err := ipc.Serve(runCtx, ln, router, cfg.Broker.ReadTimeout); err != nil {
		slog.Error("broker server error", logger.Error(err))
	}

	auditLog.Log(ctx, audit.Event{Type: audit.TypeBrokerStopped})
	slog.Info("broker stopped")
}

// revokeBinPath locates the revocation helper next to this binary; expiry
// units invoke it by absolute path.
func revokeBinPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "/usr/local/bin/makemeadmin-revoke"
	}
	return filepath.Join(filepath.Dir(exe), "makemeadmin-revoke")
}
