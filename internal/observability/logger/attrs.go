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

package logger

import (
	"log/slog"
	"time"
)

// Common attribute keys for consistent logging across the application

// Request attributes
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Action(action string) slog.Attr {
	return slog.String("action", action)
}

func Duration(ms int64) slog.Attr {
	return slog.Int64("duration_ms", ms)
}

// Identity attributes
func Identity(name string) slog.Attr {
	return slog.String("identity", name)
}

func UID(uid uint32) slog.Attr {
	return slog.Int64("uid", int64(uid))
}

func PID(pid int32) slog.Attr {
	return slog.Int64("pid", int64(pid))
}

// Grant attributes
func JobID(id string) slog.Attr {
	return slog.String("job_id", id)
}

func ExpiresAt(t time.Time) slog.Attr {
	return slog.Time("expires_at", t)
}

func GroupName(name string) slog.Attr {
	return slog.String("group", name)
}

// Error attributes
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Component attributes
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}

// String creates a generic string attribute
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}
