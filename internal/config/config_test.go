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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	return dir
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
policy:
  default_duration_minutes: 30
  max_duration_minutes: 60
  deny:
    - guest
`)
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Policy.DefaultDurationMinutes)
	assert.Equal(t, 60, cfg.Policy.MaxDurationMinutes)
	assert.Equal(t, []string{"guest"}, cfg.Policy.DenyList)
	// Untouched sections keep defaults.
	assert.Equal(t, DefaultSocketPath, cfg.Broker.SocketPath)
}

func TestLoadRejectsInvertedDurationBounds(t *testing.T) {
	dir := writeConfig(t, `
policy:
  min_duration_minutes: 90
  default_duration_minutes: 15
  max_duration_minutes: 120
`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_duration_minutes")
}

func TestLoadRejectsDefaultAboveMax(t *testing.T) {
	dir := writeConfig(t, `
policy:
  default_duration_minutes: 200
`)
	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadRejectsUnknownFailurePolicy(t *testing.T) {
	dir := writeConfig(t, `
scheduler:
  on_schedule_failure: shrug
`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on_schedule_failure")
}

func TestClampDuration(t *testing.T) {
	p := PolicyConfig{DefaultDurationMinutes: 15, MinDurationMinutes: 5, MaxDurationMinutes: 60}

	assert.Equal(t, 15*time.Minute, p.ClampDuration(0), "unspecified takes the default")
	assert.Equal(t, 15*time.Minute, p.ClampDuration(-3), "non-positive takes the default")
	assert.Equal(t, 5*time.Minute, p.ClampDuration(1), "below min clamps up")
	assert.Equal(t, 60*time.Minute, p.ClampDuration(600), "above max clamps down")
	assert.Equal(t, 20*time.Minute, p.ClampDuration(20))
}
