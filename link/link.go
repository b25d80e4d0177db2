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
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/thediveo/fdshare"
	"github.com/thediveo/fdshare/daemon"
	"github.com/thediveo/fdshare/rendezvous"
	"github.com/thediveo/fdshare/sink"
	"github.com/thediveo/fdshare/transfer"
)

// LogName is the name of the background log file, located in the directory
// containing the publishing parent directory.
const LogName = "fdshare-link.log"

// Linker publishes the file descriptors of a descriptor source.
type Linker struct {
	// Socket is the abstract socket name of the descriptor source, without
	// any leading “@”.
	Socket string
	// Parent is the directory to publish the symbolic links in; it must not
	// exist yet.
	Parent string
	// Marker is the file signalling that publishing is complete; it must not
	// exist yet. Deleting it tears down the published links.
	Marker string
	// Exe is the executable to detach into; defaults to the current
	// executable.
	Exe string
	// Args are the arguments to start Exe with; defaults to the arguments of
	// the current process.
	Args []string
	// Timeout limits waiting for the marker to appear, if positive.
	Timeout time.Duration
	// Log receives structured log records; defaults to the slog default
	// logger when nil.
	Log *slog.Logger
}

// state handed off to the background.
type state struct {
	Parent string   `cbor:"parent"`
	Marker string   `cbor:"marker"`
	Paths  []string `cbor:"paths"`
}

var errChildExited = errors.New("background process terminated")

func (l *Linker) log() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// Execute publishes the file descriptors of the descriptor source. In the
// foreground, Execute returns as soon as the background has published all
// descriptors. In the background, Execute returns only after the published
// tree has been torn down.
func (l *Linker) Execute(ctx context.Context) error {
	var watch *rendezvous.Watch
	defer func() {
		if watch != nil {
			_ = watch.Close()
		}
	}()
	var files []*os.File
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	d := &daemon.Daemon{Exe: l.Exe, Args: l.Args}
	res, err := d.Detach(func() (*daemon.Handoff, error) {
		parent, marker, err := l.preconditions()
		if err != nil {
			return nil, err
		}
		watch, err = rendezvous.NewWatch(marker, rendezvous.Created)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fdshare.ErrPrecondition, err)
		}
		dmap, err := sink.Fetch(ctx, l.Socket)
		if err != nil {
			return nil, err
		}
		for _, desc := range dmap {
			files = append(files, os.NewFile(uintptr(desc.FD), desc.Path))
		}
		st, err := transfer.Marshal(state{Parent: parent, Marker: marker, Paths: dmap.Paths()})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fdshare.ErrPublish, err)
		}
		d.Dir = filepath.Dir(parent)
		d.LogPath = filepath.Join(d.Dir, LogName)
		l.log().Info("detaching into background",
			slog.String("parent", parent),
			slog.Int("count", len(dmap)),
			slog.String("log", d.LogPath))
		return &daemon.Handoff{State: st, Files: files}, nil
	})
	if err != nil {
		return err
	}
	if res.Outcome == daemon.NowBackground {
		return l.background(ctx, res.Handoff)
	}
	// The background has its own copies of the descriptors by now.
	for _, f := range files {
		_ = f.Close()
	}
	files = nil
	return l.foreground(ctx, watch, res.Child)
}

// preconditions returns the absolute parent and marker paths, or an error
// wrapping [fdshare.ErrPrecondition] if either already exists.
func (l *Linker) preconditions() (parent, marker string, err error) {
	if parent, err = filepath.Abs(l.Parent); err != nil {
		return "", "", fmt.Errorf("%w: %w", fdshare.ErrPrecondition, err)
	}
	if marker, err = filepath.Abs(l.Marker); err != nil {
		return "", "", fmt.Errorf("%w: %w", fdshare.ErrPrecondition, err)
	}
	for _, path := range []string{parent, marker} {
		exists, err := rendezvous.Exists(path)
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", fdshare.ErrPrecondition, err)
		}
		if exists {
			return "", "", fmt.Errorf("%w: %s already exists", fdshare.ErrPrecondition, path)
		}
	}
	return parent, marker, nil
}

// foreground waits for the marker to appear, for the background process to
// terminate, or for the optional timeout, whatever comes first.
func (l *Linker) foreground(ctx context.Context, watch *rendezvous.Watch, child *daemon.Child) error {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, l.Timeout,
			fmt.Errorf("%w: marker %s not created within %s",
				fdshare.ErrPublish, watch.Path(), l.Timeout))
		defer cancel()
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-child.Exited():
			cancel(errChildExited)
		case <-ctx.Done():
		}
	}()

	err := watch.Wait(ctx)
	switch {
	case err == nil:
		l.log().Info("published", slog.String("marker", watch.Path()),
			slog.Int("pid", child.Pid))
		return nil
	case errors.Is(err, errChildExited):
		if childErr := child.Err(); childErr != nil {
			return fmt.Errorf("%w: background process failed before creating marker: %w",
				fdshare.ErrPublish, childErr)
		}
		l.log().Info("background process completed", slog.Int("pid", child.Pid))
		return nil
	}
	return err
}

// background publishes the handed-off descriptors.
func (l *Linker) background(ctx context.Context, handoff *daemon.Handoff) error {
	defer handoff.Close()
	var st state
	if err := transfer.Unmarshal(handoff.State, &st); err != nil {
		return fmt.Errorf("%w: invalid handoff state: %w", fdshare.ErrProtocol, err)
	}
	if len(st.Paths) != len(handoff.Files) {
		return fmt.Errorf("%w: %d target paths, but %d file descriptors",
			fdshare.ErrProtocol, len(st.Paths), len(handoff.Files))
	}
	dmap := make(sink.DescriptorMap, 0, len(st.Paths))
	for idx, f := range handoff.Files {
		dmap = append(dmap, sink.Descriptor{Path: st.Paths[idx], FD: int(f.Fd())})
	}
	return Publish(ctx, st.Parent, st.Marker, dmap, l.log())
}
