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

package grant

import (
	"context"
	"time"
)

// NopStore is the degraded Store used when the grant database cannot be
// opened. The store is an advisory cache; membership removal and job
// cleanup must proceed even when bookkeeping is lost.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) Get(context.Context, string) (*Record, error) { return nil, ErrNotFound }

func (NopStore) List(context.Context) ([]*Record, error) { return nil, nil }

func (NopStore) Put(context.Context, *Record) error { return nil }

func (NopStore) Delete(context.Context, string) error { return nil }

func (NopStore) BrokerStartTime(context.Context) (time.Time, error) { return time.Time{}, nil }

func (NopStore) MarkBrokerStart(context.Context, time.Time) error { return nil }

func (NopStore) Close() error { return nil }
