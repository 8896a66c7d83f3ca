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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps the OpenTelemetry meter and the broker's instruments.
type Meter struct {
	meter metric.Meter

	GrantsIssued    metric.Int64Counter
	GrantsRemoved   metric.Int64Counter
	GrantsExpired   metric.Int64Counter
	RequestsDenied  metric.Int64Counter
	RevokeFailures  metric.Int64Counter
	RequestDuration metric.Float64Histogram
}

// New creates a new meter instance and registers the broker instruments.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	name := serviceName
	if !cfg.Enabled {
		name = "noop"
	}
	m := &Meter{meter: otel.Meter(name)}

	var err error
	if m.GrantsIssued, err = m.counter("makemeadmin.grants.issued", "Grants issued"); err != nil {
		return nil, err
	}
	if m.GrantsRemoved, err = m.counter("makemeadmin.grants.removed", "Grants removed on request"); err != nil {
		return nil, err
	}
	if m.GrantsExpired, err = m.counter("makemeadmin.grants.expired", "Grants revoked by expiry"); err != nil {
		return nil, err
	}
	if m.RequestsDenied, err = m.counter("makemeadmin.requests.denied", "Requests denied by identity check or policy"); err != nil {
		return nil, err
	}
	if m.RevokeFailures, err = m.counter("makemeadmin.revoke.failures", "Revocation attempts that exhausted retries"); err != nil {
		return nil, err
	}
	m.RequestDuration, err = m.meter.Float64Histogram(
		"makemeadmin.request.duration",
		metric.WithDescription("Broker request duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}

	return m, nil
}

func (m *Meter) counter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}
