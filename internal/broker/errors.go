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

package broker

import "fmt"

// Error is a protocol-level broker error with a stable machine code and a
// human-readable message. Denial messages state the rule that triggered
// without revealing whether a different identity exists or is privileged.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker error: %s (%s)", e.Code, e.Message)
}

// Broker error codes
const (
	CodeIdentityMismatch          = "identity_mismatch"
	CodeNotAuthorized             = "not_authorized"
	CodeServiceUnavailable        = "service_unavailable"
	CodeTimeout                   = "timeout"
	CodeMembershipOperationFailed = "membership_operation_failed"
	CodeSchedulingFailed          = "scheduling_failed"
	CodeCorruptedState            = "corrupted_state"
)

// NewError creates a new protocol error
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func errIdentityMismatch() *Error {
	return NewError(CodeIdentityMismatch, "requests may only target your own account")
}

func errNotAuthorized() *Error {
	return NewError(CodeNotAuthorized, "you are not authorized to request admin rights on this machine")
}
