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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/SharkByte561/MakeMeAdminCli/internal/bridge"
	"github.com/SharkByte561/MakeMeAdminCli/internal/broker"
	"github.com/SharkByte561/MakeMeAdminCli/internal/group"
	"github.com/SharkByte561/MakeMeAdminCli/internal/identity"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/logger"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/metrics"
)

// Handler holds the IPC handlers and their dependencies.
type Handler struct {
	broker   *broker.Broker
	groups   group.Adapter
	launcher *bridge.Launcher
}

// NewHandler creates a new IPC handler. launcher may be nil when the
// desktop bridge is not deployed; exec then returns the ticket only.
func NewHandler(b *broker.Broker, groups group.Adapter, launcher *bridge.Launcher) *Handler {
	return &Handler{broker: b, groups: groups, launcher: launcher}
}

// NewRouter creates the broker socket router. meter may be nil.
func NewRouter(h *Handler, rateLimiter *RateLimiter, meter *metrics.Meter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "broker_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(LoggingMiddleware(meter))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.HealthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware)

		r.Post("/add", h.AddGrant)
		r.Post("/remove", h.RemoveGrant)
		r.Post("/status", h.Status)
		r.Post("/exec", h.Exec)
	})

	return r
}

// Serve runs the broker server on a listener from Listen. It returns when
// ctx is cancelled or the listener fails.
func Serve(ctx context.Context, ln net.Listener, router http.Handler, readTimeout time.Duration) error {
	srv := &http.Server{
		Handler:     router,
		ReadTimeout: readTimeout,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if u, ok := c.(interface{ Unwrap() net.Conn }); ok {
				c = u.Unwrap()
			}
			cred, err := identity.PeerCredFromConn(c)
			if err != nil {
				// AuthMiddleware rejects the request when no credential
				// reaches it.
				slog.WarnContext(ctx, "could not read peer credential", logger.Error(err))
				return ctx
			}
			return WithPeerCred(ctx, cred)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// HealthCheck reports broker liveness. Unauthenticated so unit monitors
// can probe it.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AddGrant handles the add action.
func (h *Handler) AddGrant(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.authedRequest(w, r)
	if !ok {
		return
	}

	res, err := h.broker.Add(r.Context(), id, req.Username, req.Duration)
	if err != nil {
		respondBrokerError(w, err)
		return
	}

	message := fmt.Sprintf("admin rights granted until %s", res.Record.ExpiresAt.Format(time.RFC3339))
	if res.AlreadyMember {
		message = fmt.Sprintf("admin rights extended until %s", res.Record.ExpiresAt.Format(time.RFC3339))
	}
	if res.Warning != "" {
		message = res.Warning
	}

	respondJSON(w, http.StatusOK, Response{
		Success:   true,
		Message:   message,
		GrantedAt: timePtr(res.Record.GrantedAt),
		ExpiresAt: timePtr(res.Record.ExpiresAt),
		IsAdmin:   boolPtr(true),
	})
}

// RemoveGrant handles the remove action.
func (h *Handler) RemoveGrant(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.authedRequest(w, r)
	if !ok {
		return
	}

	res, err := h.broker.Remove(r.Context(), id, req.Username)
	if err != nil {
		respondBrokerError(w, err)
		return
	}

	message := "admin rights removed"
	if res.WasNotMember {
		message = "was not a member of the privileged group"
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: message,
		IsAdmin: boolPtr(false),
	})
}

// Status handles the status action, including the privileged status(all)
// variant.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.authedRequest(w, r)
	if !ok {
		return
	}

	if req.All {
		h.statusAll(w, r, id)
		return
	}

	res, err := h.broker.Status(r.Context(), id, req.Username)
	if err != nil {
		respondBrokerError(w, err)
		return
	}

	resp := Response{
		Success: true,
		IsAdmin: boolPtr(res.IsAdmin),
		Tracked: boolPtr(res.Tracked),
	}
	switch {
	case res.Tracked:
		resp.Message = fmt.Sprintf("admin rights active until %s", res.Record.ExpiresAt.Format(time.RFC3339))
		resp.GrantedAt = timePtr(res.Record.GrantedAt)
		resp.ExpiresAt = timePtr(res.Record.ExpiresAt)
	case res.IsAdmin:
		resp.Message = "elevated but not tracked"
	default:
		resp.Message = "not elevated"
	}
	respondJSON(w, http.StatusOK, resp)
}

// statusAll is gated on the caller already holding elevated rights. The
// broker core does not enforce this; the transport does.
func (h *Handler) statusAll(w http.ResponseWriter, r *http.Request, id identity.Identity) {
	if id.UID != 0 {
		member, err := h.groups.IsMember(r.Context(), id.Name)
		if err != nil || !member {
			respondError(w, http.StatusForbidden, broker.CodeNotAuthorized, "listing all grants requires elevated rights")
			return
		}
	}

	records, err := h.broker.StatusAll(r.Context())
	if err != nil {
		respondBrokerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success:     true,
		Message:     fmt.Sprintf("%d active grant(s)", len(records)),
		ActiveUsers: activeUsersFromRecords(records),
	})
}

// Exec handles the desktop-bridge ticket action.
func (h *Handler) Exec(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.authedRequest(w, r)
	if !ok {
		return
	}

	if req.Program == "" {
		respondError(w, http.StatusBadRequest, "", "program is required")
		return
	}

	res, err := h.broker.Exec(r.Context(), id, req.Program)
	if err != nil {
		respondBrokerError(w, err)
		return
	}

	message := "exec ticket issued"
	if h.launcher != nil {
		err := h.launcher.Launch(r.Context(), res.Ticket, bridge.LaunchSpec{
			Program:          req.Program,
			Arguments:        req.Arguments,
			WorkingDirectory: req.WorkingDirectory,
		})
		if err != nil {
			slog.ErrorContext(r.Context(), "exec launch failed",
				logger.Identity(id.Name),
				logger.String("program", req.Program),
				logger.Error(err),
			)
			respondError(w, http.StatusInternalServerError, "", "could not launch program")
			return
		}
		message = "program launched"
	}

	respondJSON(w, http.StatusOK, Response{
		Success:   true,
		Message:   message,
		ExpiresAt: timePtr(res.ExpiresAt),
		Ticket:    res.Ticket,
	})
}

// authedRequest pulls the transport identity and decodes the body. It
// writes the error response itself when either fails.
func (h *Handler) authedRequest(w http.ResponseWriter, r *http.Request) (identity.Identity, Request, bool) {
	id, ok := GetIdentity(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, broker.CodeIdentityMismatch, "no transport identity")
		return identity.Identity{}, Request{}, false
	}

	var req Request
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "", "invalid request body")
			return identity.Identity{}, Request{}, false
		}
	}
	return id, req, true
}

func respondBrokerError(w http.ResponseWriter, err error) {
	var brokerErr *broker.Error
	if !errors.As(err, &brokerErr) {
		respondError(w, http.StatusInternalServerError, "", "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch brokerErr.Code {
	case broker.CodeIdentityMismatch, broker.CodeNotAuthorized:
		status = http.StatusForbidden
	case broker.CodeServiceUnavailable:
		status = http.StatusServiceUnavailable
	case broker.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	respondError(w, status, brokerErr.Code, brokerErr.Message)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, Response{
		Success: false,
		Message: message,
		Code:    code,
	})
}
