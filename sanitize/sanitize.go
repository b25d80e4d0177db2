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

package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ErrEscapes is wrapped by all errors returned from [Under].
var ErrEscapes = errors.New("path escapes its parent")

// Under returns the passed path made relative to parent, so that the returned
// path is always located strictly beneath parent. An absolute path is taken
// as relative to parent, thus "/foo/bar" under "/tmp" becomes "/tmp/foo/bar".
//
// Under rejects any path containing a “..” component, even if it would
// lexically resolve to a location inside parent: silently dropping such
// components would otherwise change where the path ends up. Under also
// rejects paths that resolve to parent itself.
func Under(parent, path string) (string, error) {
	if slices.Contains(strings.Split(path, "/"), "..") {
		return "", fmt.Errorf("%w: path %q must not refer to parents using '..'",
			ErrEscapes, path)
	}
	relpath := strings.TrimLeft(path, "/")
	if relpath == ".." || strings.HasPrefix(relpath, "../") {
		return "", fmt.Errorf("%w: path %q is outside of parent %q",
			ErrEscapes, path, parent)
	}
	if rel := filepath.Clean(relpath); rel == "." {
		return "", fmt.Errorf("%w: path %q does not descend from parent %q",
			ErrEscapes, path, parent)
	}
	return filepath.Join(parent, relpath), nil
}
