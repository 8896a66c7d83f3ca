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

package identity

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerCred is the credential triple the kernel attaches to a unix-socket
// connection. It cannot be forged by the peer.
type PeerCred struct {
	UID uint32
	GID uint32
	PID int32
}

// PeerCredFromConn reads SO_PEERCRED from a unix-socket connection.
func PeerCredFromConn(conn net.Conn) (PeerCred, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return PeerCred{}, fmt.Errorf("identity: not a unix socket connection: %T", conn)
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return PeerCred{}, fmt.Errorf("identity: syscall conn: %w", err)
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return PeerCred{}, fmt.Errorf("identity: control: %w", err)
	}
	if credErr != nil {
		return PeerCred{}, fmt.Errorf("identity: SO_PEERCRED: %w", credErr)
	}

	return PeerCred{UID: cred.Uid, GID: cred.Gid, PID: cred.Pid}, nil
}
