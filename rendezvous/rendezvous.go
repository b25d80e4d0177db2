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

package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Condition a Watch waits for.
type Condition int

const (
	// Created waits for the marker to come into existence.
	Created Condition = iota
	// Deleted waits for the marker to vanish.
	Deleted
)

func (c Condition) String() string {
	switch c {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("Condition(%d)", int(c))
}

// Occurrence of a watched condition.
type Occurrence struct {
	// Precheck is true if the condition already held when starting to iterate
	// the occurrences, without any filesystem event involved.
	Precheck bool
	// Op is the filesystem operation that triggered the occurrence; it is zero
	// for prechecks.
	Op fsnotify.Op
}

// Watch for a marker path being either created or deleted.
type Watch struct {
	path    string
	dir     string
	cond    Condition
	watcher *fsnotify.Watcher
}

// NewWatch establishes a watch for the specified condition of the marker at
// path. The directory containing the marker must exist. Callers must Close
// the returned Watch when done with it.
func NewWatch(path string, cond Condition) (*Watch, error) {
	if cond != Created && cond != Deleted {
		return nil, fmt.Errorf("invalid condition %s", cond)
	}
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("cannot watch for %s being %s: %w", path, cond, err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("cannot watch for %s being %s: %w", path, cond, err)
	}
	return &Watch{
		path:    path,
		dir:     filepath.Dir(path),
		cond:    cond,
		watcher: watcher,
	}, nil
}

// Close the watch, releasing its resources.
func (w *Watch) Close() error {
	return w.watcher.Close()
}

// Path of the watched marker.
func (w *Watch) Path() string { return w.path }

// Condition watched for.
func (w *Watch) Condition() Condition { return w.cond }

// Occurrences returns an iterator over the occurrences of the watched
// condition: first, if the condition already holds, an immediate occurrence
// with Precheck set, and then every matching filesystem event. The iterator
// ends with a final error when the context is done or watching fails.
//
// Removing or moving away the directory containing the marker counts as the
// marker getting deleted. When waiting for the marker to get created instead,
// the iterator ends with an error, as the marker cannot appear anymore.
func (w *Watch) Occurrences(ctx context.Context) iter.Seq2[Occurrence, error] {
	return func(yield func(Occurrence, error) bool) {
		holds, err := w.holds()
		if err != nil {
			yield(Occurrence{}, err)
			return
		}
		if holds && !yield(Occurrence{Precheck: true}, nil) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				yield(Occurrence{}, context.Cause(ctx))
				return
			case err, ok := <-w.watcher.Errors:
				if !ok {
					yield(Occurrence{}, fmt.Errorf("watch for %s being %s closed", w.path, w.cond))
					return
				}
				if !yield(Occurrence{}, fmt.Errorf("watching for %s being %s failed: %w", w.path, w.cond, err)) {
					return
				}
			case event, ok := <-w.watcher.Events:
				if !ok {
					yield(Occurrence{}, fmt.Errorf("watch for %s being %s closed", w.path, w.cond))
					return
				}
				if w.dirGone(event) {
					if w.cond == Created {
						yield(Occurrence{}, fmt.Errorf("cannot watch for %s being %s: directory %s gone",
							w.path, w.cond, w.dir))
						return
					}
					if !yield(Occurrence{Op: event.Op}, nil) {
						return
					}
					continue
				}
				if !w.matches(event) {
					continue
				}
				if !yield(Occurrence{Op: event.Op}, nil) {
					return
				}
			}
		}
	}
}

// Wait for the first occurrence of the watched condition, returning
// immediately if the condition already holds.
func (w *Watch) Wait(ctx context.Context) error {
	for _, err := range w.Occurrences(ctx) {
		return err
	}
	return nil // not reached, as Occurrences only ends after yielding.
}

// Wait for the marker at path to become created or deleted, returning
// immediately if the condition already holds.
func Wait(ctx context.Context, path string, cond Condition) error {
	w, err := NewWatch(path, cond)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	return w.Wait(ctx)
}

// Exists returns true if something exists at the path, without following a
// final symbolic link.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, err
}

// holds returns true if the watched condition currently holds.
func (w *Watch) holds() (bool, error) {
	exists, err := Exists(w.path)
	if err != nil {
		return false, fmt.Errorf("cannot check for %s being %s: %w", w.path, w.cond, err)
	}
	return exists == (w.cond == Created), nil
}

// matches returns true if the event signals the watched condition for the
// marker.
func (w *Watch) matches(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	switch w.cond {
	case Created:
		return event.Has(fsnotify.Create)
	case Deleted:
		return event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	}
	return false
}

// dirGone returns true if the event signals that the directory containing the
// marker has been removed or moved away.
func (w *Watch) dirGone(event fsnotify.Event) bool {
	return filepath.Clean(event.Name) == w.dir &&
		(event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename))
}
