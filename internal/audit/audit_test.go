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

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestFileLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	fallback := &recordingLogger{}
	l := NewFileLogger(path, fallback)

	l.Log(context.Background(), Event{Type: TypeGrantIssued, Identity: "alice", UID: 1000})
	l.Log(context.Background(), Event{Type: TypeGrantRemoved, Identity: "alice"})
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var types []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		types = append(types, e.Type)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Equal(t, []string{TypeGrantIssued, TypeGrantRemoved}, types)
	assert.Zero(t, fallback.count(), "file sink healthy, fallback unused")
}

func TestFileLoggerFallsBackWhenFileUnavailable(t *testing.T) {
	// A directory path cannot be opened as a file.
	fallback := &recordingLogger{}
	l := NewFileLogger(t.TempDir(), fallback)

	l.Log(context.Background(), Event{Type: TypePolicyDenied, Identity: "bob"})
	require.NoError(t, l.Close())

	assert.Equal(t, 1, fallback.count())
}

func TestFileLoggerLogAfterCloseFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	fallback := &recordingLogger{}
	l := NewFileLogger(path, fallback)
	require.NoError(t, l.Close())

	// Must not panic on the closed event channel.
	l.Log(context.Background(), Event{Type: TypeBrokerStopped})

	assert.Equal(t, 1, fallback.count())
}

func TestFileLoggerConcurrentLogAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l := NewFileLogger(path, &recordingLogger{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Log(context.Background(), Event{Type: TypeGrantIssued, Identity: "alice"})
			}
		}()
	}
	require.NoError(t, l.Close())
	wg.Wait()
}
