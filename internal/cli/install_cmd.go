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

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/SharkByte561/MakeMeAdminCli/internal/audit"
	"github.com/SharkByte561/MakeMeAdminCli/internal/config"
	"github.com/SharkByte561/MakeMeAdminCli/internal/group"
	"github.com/SharkByte561/MakeMeAdminCli/internal/installer"
	"github.com/SharkByte561/MakeMeAdminCli/internal/revoke"
	"github.com/SharkByte561/MakeMeAdminCli/internal/sched"
	"github.com/SharkByte561/MakeMeAdminCli/internal/store/sqlite"
)

func newInstallCmd() *cobra.Command {
	var brokerBin string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install and start the elevation broker (root only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if os.Geteuid() != 0 {
				return fmt.Errorf("install must run as root")
			}

			cfg := loadInstallConfig()
			bin, err := resolveBrokerBin(brokerBin)
			if err != nil {
				return err
			}

			inst := installer.New(cfg, sched.NewExecSystemctl())
			if err := inst.Install(cmd.Context(), bin); err != nil {
				return err
			}
			cmd.Println("broker installed and started")
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerBin, "broker-bin", "", "Path to the makemeadmind binary (default: next to this binary)")

	return cmd
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the elevation broker (root only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if os.Geteuid() != 0 {
				return fmt.Errorf("uninstall must run as root")
			}

			cfg := loadInstallConfig()

			// Elevations must not outlive the tooling that revokes them.
			revoked, err := revokeAllGrants(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("revoke active grants: %w", err)
			}
			if revoked > 0 {
				cmd.Printf("revoked %d active grant(s)\n", revoked)
			}

			inst := installer.New(cfg, sched.NewExecSystemctl())
			if err := inst.Uninstall(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("broker removed")
			return nil
		},
	}
}

// revokeAllGrants removes every tracked elevation before the broker and its
// expiry jobs are torn down. Each grant's own revocation procedure runs, so
// the timer units clean themselves up too.
func revokeAllGrants(ctx context.Context, cfg *config.Config) (int, error) {
	dbPath := filepath.Join(cfg.Broker.StateDir, "grants.db")
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	auditLog := audit.NewFileLogger(
		filepath.Join(cfg.Broker.StateDir, "audit.log"),
		audit.NewSlogLogger(),
	)
	defer auditLog.Close()

	store, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return 0, fmt.Errorf("open grant database: %w", err)
	}
	defer store.Close()

	records, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list grants: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	groupName, gid, err := group.Resolve(cfg.Group.GID)
	if err != nil {
		return 0, fmt.Errorf("resolve privileged group: %w", err)
	}
	groups := group.NewOSAdapter(groupName, gid, group.NewExecRunner(), cfg.Group.SettleDelay)

	exe, _ := os.Executable()
	scheduler := sched.NewSystemdScheduler(
		cfg.Scheduler.UnitDir,
		cfg.Scheduler.JobNamespace,
		filepath.Join(filepath.Dir(exe), "makemeadmin-revoke"),
		sched.NewExecSystemctl(),
	)

	procedure := revoke.New(groups, store, scheduler, auditLog)
	var revoked int
	var lastErr error
	for _, record := range records {
		if err := procedure.Run(ctx, record.Identity, record.JobID); err != nil {
			lastErr = err
			continue
		}
		revoked++
	}
	return revoked, lastErr
}

func loadInstallConfig() *config.Config {
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		return config.Default()
	}
	return cfg
}

func resolveBrokerBin(flagValue string) (string, error) {
	if flagValue != "" {
		return filepath.Abs(flagValue)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate broker binary: %w", err)
	}
	bin := filepath.Join(filepath.Dir(exe), "makemeadmind")
	if _, err := os.Stat(bin); err != nil {
		return "", fmt.Errorf("broker binary not found at %s (use --broker-bin)", bin)
	}
	return bin, nil
}
