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

	"github.com/SharkByte561/MakeMeAdminCli/internal/identity"
)

type contextKey string

const (
	peerCredKey contextKey = "peer_cred"
	identityKey contextKey = "identity"
)

// WithPeerCred attaches kernel-reported peer credentials to a connection
// context. Installed via http.Server.ConnContext.
func WithPeerCred(ctx context.Context, cred identity.PeerCred) context.Context {
	return context.WithValue(ctx, peerCredKey, cred)
}

// GetPeerCred retrieves the connection's peer credentials.
func GetPeerCred(ctx context.Context) (identity.PeerCred, bool) {
	cred, ok := ctx.Value(peerCredKey).(identity.PeerCred)
	return cred, ok
}

// WithIdentity attaches the resolved caller identity to a request context.
func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the transport-authenticated caller identity.
func GetIdentity(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(identity.Identity)
	return id, ok
}
