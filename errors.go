// Copyright 2025 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fdshare

import "errors"

// Kinds of errors; use [errors.Is] to check an error returned from any of the
// fdshare packages for its kind.
var (
	// ErrPrecondition signals that the publishing parent directory or the
	// marker already exists.
	ErrPrecondition = errors.New("precondition violated")
	// ErrConfiguration signals a malformed or unreadable binding list.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrEndpoint signals failure to bind, listen, connect, or accept.
	ErrEndpoint = errors.New("endpoint failure")
	// ErrProtocol signals a malformed transfer message, such as mismatching
	// lengths or counts, truncation, or descriptors in the reserved range.
	ErrProtocol = errors.New("protocol violation")
	// ErrIdentity signals a connecting peer with an unexpected effective UID.
	ErrIdentity = errors.New("peer identity mismatch")
	// ErrPublish signals failure to create the published symbolic link tree.
	ErrPublish = errors.New("publishing failed")
	// ErrTeardown signals failure to remove the published tree.
	ErrTeardown = errors.New("teardown failed")
)
