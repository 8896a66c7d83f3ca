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

// Package policy decides whether an identity may be granted temporary
// membership in the privileged group. Evaluation is pure: rules in, verdict
// out, no stored state.
package policy

import (
	"path"
	"strings"

	"github.com/SharkByte561/MakeMeAdminCli/internal/identity"
)

// Decision is the outcome of a policy evaluation, with the rule that
// produced it for audit purposes.
type Decision struct {
	Allowed bool
	Rule    string // matched rule, empty when the default applied
}

// Evaluator holds the configured allow and deny lists.
//
// Precedence is deny > allow > default. An empty allow list means "allow
// unless denied": the tool is deployed opt-in on low-friction machines and
// an empty list locking everyone out would make first-run setup a trap.
type Evaluator struct {
	allow []string
	deny  []string
}

// New builds an evaluator. Rules are canonicalized once here so repeated
// evaluations don't re-normalize.
func New(allow, deny []string) *Evaluator {
	return &Evaluator{
		allow: canonicalizeRules(allow),
		deny:  canonicalizeRules(deny),
	}
}

// IsAllowed evaluates the identity against the rule lists. Deny rules win
// unconditionally.
func (e *Evaluator) IsAllowed(id identity.Identity) Decision {
	sid := id.SID()

	for _, rule := range e.deny {
		if ruleMatches(rule, id.Name, sid) {
			return Decision{Allowed: false, Rule: rule}
		}
	}
	for _, rule := range e.allow {
		if ruleMatches(rule, id.Name, sid) {
			return Decision{Allowed: true, Rule: rule}
		}
	}
	if len(e.allow) == 0 {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false}
}

// ruleMatches checks one rule against both representations of the identity,
// so lists stay correct whether they were written with account names,
// wildcard patterns, or numeric ids.
func ruleMatches(rule, name, sid string) bool {
	if rule == sid {
		return true
	}
	// path.Match on a pattern without metacharacters is an exact match, so
	// plain account-name rules take the same route as wildcards.
	if ok, err := path.Match(rule, name); err == nil && ok {
		return true
	}
	return false
}

func canonicalizeRules(rules []string) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
