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

package link

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/thediveo/fdshare"
	"github.com/thediveo/fdshare/procfd"
	"github.com/thediveo/fdshare/rendezvous"
	"github.com/thediveo/fdshare/sanitize"
	"github.com/thediveo/fdshare/sink"
)

// Publish a symbolic link beneath parent for each descriptor in dmap, then
// create the marker and wait for the marker to get deleted. Publish finally
// removes the parent directory with all its contents.
//
// Publish creates parent itself and fails with [fdshare.ErrPrecondition] if
// parent or marker already exist, leaving them untouched. If publishing fails
// after Publish has created parent, it removes parent again.
//
// The descriptors must stay open until Publish returns.
func Publish(ctx context.Context, parent, marker string, dmap sink.DescriptorMap, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	// Watch before creating the marker, so we cannot miss its deletion.
	watch, err := rendezvous.NewWatch(marker, rendezvous.Deleted)
	if err != nil {
		return fmt.Errorf("%w: %w", fdshare.ErrPublish, err)
	}
	defer func() { _ = watch.Close() }()

	if err := claim(parent); err != nil {
		return err
	}
	if err := publish(parent, dmap, log); err != nil {
		return errors.Join(err, teardown(parent))
	}
	if err := createMarker(marker); err != nil {
		return errors.Join(err, teardown(parent))
	}
	log.Info("published file descriptors",
		slog.String("parent", parent),
		slog.String("marker", marker),
		slog.Int("count", len(dmap)),
		slog.Int("pid", os.Getpid()))

	waitErr := watch.Wait(ctx)
	if waitErr != nil {
		log.Warn("stopped waiting for marker deletion",
			slog.String("marker", marker),
			slog.String("err", waitErr.Error()))
	}
	if err := teardown(parent); err != nil {
		return errors.Join(waitErr, err)
	}
	log.Info("tore down published file descriptors", slog.String("parent", parent))
	return waitErr
}

// claim exclusively creates the parent directory, creating the directories
// above it as necessary. Another publisher owning parent already is reported
// as [fdshare.ErrPrecondition].
func claim(parent string) error {
	if err := os.MkdirAll(filepath.Dir(parent), 0o755); err != nil {
		return fmt.Errorf("%w: %w", fdshare.ErrPublish, err)
	}
	if err := os.Mkdir(parent, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s already exists", fdshare.ErrPrecondition, parent)
		}
		return fmt.Errorf("%w: %w", fdshare.ErrPublish, err)
	}
	return nil
}

// createMarker exclusively creates the zero-length marker file.
func createMarker(marker string) error {
	f, err := os.OpenFile(marker, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s already exists", fdshare.ErrPrecondition, marker)
		}
		return fmt.Errorf("%w: cannot create marker: %w", fdshare.ErrPublish, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: cannot create marker: %w", fdshare.ErrPublish, err)
	}
	return nil
}

// publish a symbolic link for each descriptor beneath the already existing
// parent, creating intermediate directories as necessary.
func publish(parent string, dmap sink.DescriptorMap, log *slog.Logger) error {
	pid := os.Getpid()
	for _, d := range dmap {
		target, err := sanitize.Under(parent, d.Path)
		if err != nil {
			return fmt.Errorf("%w: %w", fdshare.ErrPublish, err)
		}
		if err := mkdirBeneath(parent, filepath.Dir(target)); err != nil {
			return err
		}
		if err := os.Symlink(procfd.Path(pid, d.FD), target); err != nil {
			return fmt.Errorf("%w: %w", fdshare.ErrPublish, err)
		}
		if log.Enabled(context.Background(), slog.LevelDebug) {
			referent, _ := procfd.Resolve(pid, d.FD)
			flags, _ := procfd.OpenFlags(pid, d.FD)
			log.Debug("published link",
				slog.String("link", target),
				slog.String("referent", referent),
				slog.String("open-flags", fmt.Sprintf("%#o", flags)))
		}
	}
	return nil
}

// mkdirBeneath creates the directory dir located beneath parent, including
// any missing intermediate directories. It never follows symbolic links: an
// existing component that isn't a real directory, such as an already
// published link, is an error.
func mkdirBeneath(parent, dir string) error {
	rel, err := filepath.Rel(parent, dir)
	if err != nil {
		return fmt.Errorf("%w: %w", fdshare.ErrPublish, err)
	}
	if rel == "." {
		return nil
	}
	path := parent
	for _, component := range strings.Split(rel, string(filepath.Separator)) {
		path = filepath.Join(path, component)
		info, err := os.Lstat(path)
		switch {
		case err == nil:
			if !info.IsDir() {
				return fmt.Errorf("%w: %s is not a directory", fdshare.ErrPublish, path)
			}
			continue
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: %w", fdshare.ErrPublish, err)
		}
		if err := os.Mkdir(path, 0o755); err != nil {
			return fmt.Errorf("%w: %w", fdshare.ErrPublish, err)
		}
	}
	return nil
}

// teardown removes the published tree.
func teardown(parent string) error {
	if err := os.RemoveAll(parent); err != nil {
		return fmt.Errorf("%w: %w", fdshare.ErrTeardown, err)
	}
	return nil
}
