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

// Package installer registers the broker daemon as an autostart unit and
// creates the durable directories the broker fails closed without.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SharkByte561/MakeMeAdminCli/internal/config"
	"github.com/SharkByte561/MakeMeAdminCli/internal/sched"
)

const brokerUnitName = "makemeadmind.service"

const brokerUnitTemplate = `[Unit]
Description=MakeMeAdmin elevation broker
After=local-fs.target

[Service]
Type=simple
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`

// Installer creates and destroys the broker's footprint on the host.
type Installer struct {
	cfg       *config.Config
	systemctl sched.Systemctl
}

// New creates an installer.
func New(cfg *config.Config, systemctl sched.Systemctl) *Installer {
	return &Installer{cfg: cfg, systemctl: systemctl}
}

// Install creates the state directories, writes the broker unit pointing at
// brokerBin, and enables it.
func (i *Installer) Install(ctx context.Context, brokerBin string) error {
	// State dir holds the grant database and the ticket key; broker-only.
	if err := os.MkdirAll(i.cfg.Broker.StateDir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(i.cfg.Broker.SocketPath), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.MkdirAll(i.cfg.Scheduler.UnitDir, 0o755); err != nil {
		return fmt.Errorf("create unit directory: %w", err)
	}

	unitPath := filepath.Join(i.cfg.Scheduler.UnitDir, brokerUnitName)
	unit := fmt.Sprintf(brokerUnitTemplate, brokerBin)
	if err := os.WriteFile(unitPath, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("write broker unit: %w", err)
	}

	if err := i.systemctl.DaemonReload(ctx); err != nil {
		return err
	}
	return i.systemctl.EnableNow(ctx, brokerUnitName)
}

// Uninstall disables the broker unit and removes it. The caller revokes any
// active grants first; the state directory stays so the audit log survives
// removal.
func (i *Installer) Uninstall(ctx context.Context) error {
	if err := i.systemctl.DisableNow(ctx, brokerUnitName); err != nil {
		return err
	}

	unitPath := filepath.Join(i.cfg.Scheduler.UnitDir, brokerUnitName)
	if err := os.Remove(unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove broker unit: %w", err)
	}
	if err := os.Remove(i.cfg.Broker.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove socket: %w", err)
	}

	return i.systemctl.DaemonReload(ctx)
}

// VerifyPaths checks that the durable directories exist and are writable.
// The broker calls this at startup and refuses to serve when it fails.
func (i *Installer) VerifyPaths() error {
	for _, dir := range []string{i.cfg.Broker.StateDir, filepath.Dir(i.cfg.Broker.SocketPath)} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("required directory %s missing (run install first): %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		probe := filepath.Join(dir, ".write-probe")
		if err := os.WriteFile(probe, nil, 0o600); err != nil {
			return fmt.Errorf("directory %s not writable: %w", dir, err)
		}
		os.Remove(probe)
	}
	return nil
}
