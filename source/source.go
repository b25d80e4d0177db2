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

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/thediveo/fdshare"
	"github.com/thediveo/fdshare/config"
	"github.com/thediveo/fdshare/transfer"
	"github.com/thediveo/fdshare/uds"
	"golang.org/x/sys/unix"
)

// Source of file descriptors, served on an abstract unix domain socket.
type Source struct {
	// Socket is the abstract socket name to listen on, without any leading
	// “@”.
	Socket string
	// ClientUID is the only effective UID that clients are allowed to connect
	// with.
	ClientUID uint32
	// Bindings of source paths to (relative) target paths.
	Bindings []config.Binding
	// Log receives structured log records; defaults to the slog default
	// logger when nil.
	Log *slog.Logger

	// peerCredentials returns the credentials of the connected peer; nil
	// means asking the kernel via SO_PEERCRED.
	peerCredentials func(*uds.Conn) (*unix.Ucred, error)
}

// Load returns a Source serving the bindings from the configuration file at
// configPath.
func Load(socket string, clientUID uint32, configPath string) (*Source, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return &Source{
		Socket:    socket,
		ClientUID: clientUID,
		Bindings:  cfg.FileBindings,
	}, nil
}

func (s *Source) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Serve opens the source paths of all bindings, then listens for clients and
// sends each client that passes the peer credential check the target paths
// together with the corresponding file descriptors.
//
// Serve returns only when it cannot open the source paths, cannot listen, or
// fails accepting connections, or when the passed context gets cancelled. In
// the latter case, Serve waits for all in-flight transfers to finish and
// returns nil.
func (s *Source) Serve(ctx context.Context) error {
	log := s.log()

	files := make([]*os.File, 0, len(s.Bindings))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	paths := make([]string, 0, len(s.Bindings))
	fds := make([]int, 0, len(s.Bindings))
	for _, binding := range s.Bindings {
		f, err := os.Open(binding.SourcePath) // read-only, close-on-exec, never creates
		if err != nil {
			return fmt.Errorf("%w: cannot open source path: %w",
				fdshare.ErrConfiguration, err)
		}
		files = append(files, f)
		paths = append(paths, binding.TargetPath)
		fds = append(fds, int(f.Fd()))
	}
	msg, err := transfer.NewMessage(paths, fds)
	if err != nil {
		return err
	}

	l, err := uds.Listen(s.Socket)
	if err != nil {
		return fmt.Errorf("%w: cannot listen on @%s: %w",
			fdshare.ErrEndpoint, s.Socket, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer func() { _ = l.Close() }()
	log.Info("serving file descriptors",
		slog.String("socket", "@"+s.Socket),
		slog.Int("client-uid", int(s.ClientUID)),
		slog.Int("count", msg.Len()))

	// Make sure to keep our files open until all in-flight transfers are done,
	// as deferred functions run last-in first-out.
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := l.AcceptConn()
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
				log.Info("stopped serving file descriptors",
					slog.String("socket", "@"+s.Socket))
				return nil
			}
			return fmt.Errorf("%w: cannot accept on @%s: %w",
				fdshare.ErrEndpoint, s.Socket, err)
		}
		if err := s.authorize(conn); err != nil {
			log.Warn("dropping client connection", slog.String("err", err.Error()))
			_ = conn.Close()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve(conn, msg, log)
		}()
	}
}

// authorize checks the effective UID of the peer of the passed connection,
// returning an error wrapping [fdshare.ErrIdentity] if it doesn't match.
func (s *Source) authorize(conn *uds.Conn) error {
	peerCredentials := (*uds.Conn).PeerCredentials
	if s.peerCredentials != nil {
		peerCredentials = s.peerCredentials
	}
	cred, err := peerCredentials(conn)
	if err != nil {
		return fmt.Errorf("%w: %w", fdshare.ErrIdentity, err)
	}
	if cred.Uid != s.ClientUID {
		return fmt.Errorf("%w: peer PID %d has UID %d, expected UID %d",
			fdshare.ErrIdentity, cred.Pid, cred.Uid, s.ClientUID)
	}
	return nil
}

// serve sends the transfer message over the passed connection and then closes
// the connection. Failures are only logged.
func (s *Source) serve(conn *uds.Conn, msg *transfer.Message, log *slog.Logger) {
	defer func() { _ = conn.Close() }()
	id := petname.Generate(2, "-")
	if err := msg.Send(conn); err != nil {
		log.Error("cannot send file descriptors",
			slog.String("conn-id", id),
			slog.String("err", err.Error()))
		return
	}
	log.Debug("sent file descriptors",
		slog.String("conn-id", id),
		slog.Int("count", msg.Len()))
}
