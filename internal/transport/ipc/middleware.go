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

package ipc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/SharkByte561/MakeMeAdminCli/internal/broker"
	"github.com/SharkByte561/MakeMeAdminCli/internal/identity"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/logger"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/metrics"
)

// AuthMiddleware resolves the connection's peer credential to an account
// identity and attaches it to the request context. Requests on connections
// with no credential (or an unresolvable uid) are rejected; no handler runs
// without a transport-authenticated identity.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, ok := GetPeerCred(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, broker.CodeIdentityMismatch, "no peer credential on connection")
			return
		}

		id, err := identity.FromUID(cred.UID)
		if err != nil {
			slog.WarnContext(r.Context(), "peer uid has no account",
				logger.UID(cred.UID),
				logger.PID(cred.PID),
			)
			respondError(w, http.StatusUnauthorized, broker.CodeIdentityMismatch, "caller identity could not be resolved")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// LoggingMiddleware logs broker requests and records their duration.
// meter may be nil.
func LoggingMiddleware(meter *metrics.Meter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				elapsed := time.Since(start)
				id, _ := GetIdentity(r.Context())
				slog.InfoContext(r.Context(), "broker_request",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Action(r.URL.Path),
					logger.Identity(id.Name),
					logger.Duration(elapsed.Milliseconds()),
					logger.String("status", http.StatusText(ww.Status())),
				)
				if meter != nil {
					meter.RequestDuration.Record(r.Context(),
						float64(elapsed.Milliseconds()),
						metric.WithAttributes(attribute.String("action", r.URL.Path)),
					)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
