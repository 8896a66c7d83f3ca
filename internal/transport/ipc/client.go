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
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrBrokerNotRunning wraps connect failures so the CLI can print a useful
// hint instead of a raw dial error.
var ErrBrokerNotRunning = fmt.Errorf("broker not running")

// Client talks to the broker socket. The host in the base URL is a dummy;
// every request is dialed to the unix socket.
type Client struct {
	rest *resty.Client
}

// NewClient creates a client for the broker at socketPath.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	rest := resty.NewWithClient(&http.Client{Transport: transport}).
		SetBaseURL("http://makemeadmin").
		SetHeader("Content-Type", "application/json").
		SetTimeout(45 * time.Second)

	return &Client{rest: rest}
}

// Add requests elevation. A non-success reply comes back as a Response
// with Success=false, not as an error; errors are transport failures only.
func (c *Client) Add(ctx context.Context, req Request) (*Response, error) {
	return c.post(ctx, "/v1/add", req)
}

// Remove requests revocation.
func (c *Client) Remove(ctx context.Context, req Request) (*Response, error) {
	return c.post(ctx, "/v1/remove", req)
}

// Status queries elevation state.
func (c *Client) Status(ctx context.Context, req Request) (*Response, error) {
	return c.post(ctx, "/v1/status", req)
}

// Exec requests a desktop-bridge launch ticket.
func (c *Client) Exec(ctx context.Context, req Request) (*Response, error) {
	return c.post(ctx, "/v1/exec", req)
}

// Health probes broker liveness.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerNotRunning, err)
	}
	if resp.IsError() {
		return fmt.Errorf("broker unhealthy: %s", resp.Status())
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, req Request) (*Response, error) {
	var out Response
	if _, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerNotRunning, err)
	}
	return &out, nil
}
