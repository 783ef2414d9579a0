// Copyright 2024-2025 The rpcx-rs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rpcx

import (
	"errors"
	"fmt"
)

var (
	// ErrServerNotFound means selection produced no candidate server. It
	// is terminal: no connection is created and no failure policy applies.
	ErrServerNotFound = errors.New("server not found")

	// ErrClientNotFound reports a connection cache assertion failure: the
	// create path yielded neither a connection nor an error. It should
	// never be observed.
	ErrClientNotFound = errors.New("client still not found")

	// ErrShutdown is returned by every operation on a closed XClient.
	ErrShutdown = errors.New("xclient is shut down")
)

// ConnError wraps a failure to create or start the connection for a
// server key. Failure policies treat it like any other attempt failure,
// except Failbackup, which hedges immediately instead of waiting out its
// backup trigger.
type ConnError struct {
	Key string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Key, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}
