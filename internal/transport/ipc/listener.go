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
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// Listen binds the broker socket. A stale socket file from a previous run
// is removed first; the socket itself is world-connectable because the
// authorization decision belongs to the broker, not to file permissions.
func Listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o666); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return &serialListener{Listener: ln, slot: make(chan struct{}, 1)}, nil
}

// serialListener admits one connection at a time: Accept blocks until the
// previously accepted connection has closed. At most one caller's
// authenticated context is ever in play inside the broker.
type serialListener struct {
	net.Listener
	slot chan struct{}
}

func (l *serialListener) Accept() (net.Conn, error) {
	l.slot <- struct{}{}
	conn, err := l.Listener.Accept()
	if err != nil {
		<-l.slot
		return nil, err
	}
	return &serialConn{Conn: conn, release: func() { <-l.slot }}, nil
}

type serialConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *serialConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}

// Unwrap exposes the underlying connection so the server can read peer
// credentials from the real unix socket.
func (c *serialConn) Unwrap() net.Conn { return c.Conn }
