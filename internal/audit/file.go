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
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// FileLogger appends events as JSON lines to an audit file. Writes go
// through a buffered channel so the broker's request path never blocks on
// disk; when the file sink is unavailable or the buffer is full, the event
// degrades to the fallback logger instead of being dropped.
type FileLogger struct {
	fallback Logger
	events   chan Event

	mu     sync.Mutex
	file   *os.File
	closed bool
	done   chan struct{}
}

const fileLoggerBuffer = 256

// NewFileLogger opens (or creates) the append-only audit file. Open failure
// is non-fatal: the returned logger forwards everything to the fallback.
func NewFileLogger(path string, fallback Logger) *FileLogger {
	l := &FileLogger{
		fallback: fallback,
		events:   make(chan Event, fileLoggerBuffer),
		done:     make(chan struct{}),
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		slog.Warn("audit file unavailable, using fallback sink",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	} else {
		l.file = f
	}

	go l.drain()
	return l
}

// Log enqueues the event. Never blocks: a full buffer, a missing file, or a
// logger that was already closed all fall back to the secondary sink.
func (l *FileLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	// The lock orders Log against Close; the channel send must not race
	// the close of l.events.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.file == nil {
		l.fallback.Log(ctx, event)
		return
	}
	select {
	case l.events <- event:
	default:
		l.fallback.Log(ctx, event)
	}
}

// Close flushes queued events and closes the file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.events)
	<-l.done

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *FileLogger) drain() {
	defer close(l.done)
	for event := range l.events {
		line, err := json.Marshal(event)
		if err != nil {
			l.fallback.Log(context.Background(), event)
			continue
		}
		line = append(line, '\n')
		if _, err := l.file.Write(line); err != nil {
			l.fallback.Log(context.Background(), event)
		}
	}
}
