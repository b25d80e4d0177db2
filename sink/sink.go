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

package sink

import (
	"context"
	"fmt"

	"github.com/thediveo/fdshare"
	"github.com/thediveo/fdshare/transfer"
	"github.com/thediveo/fdshare/uds"
	"golang.org/x/sys/unix"
)

// MinFD is the lowest file descriptor number a fetched descriptor is allowed
// to have; 0 to 2 are reserved for stdin, stdout, and stderr.
const MinFD = 3

// Descriptor is a fetched file descriptor together with its target path.
type Descriptor struct {
	Path string
	FD   int
}

// DescriptorMap is the ordered list of fetched descriptors.
type DescriptorMap []Descriptor

// Close all descriptors in the map.
func (m DescriptorMap) Close() {
	for _, d := range m {
		_ = unix.Close(d.FD)
	}
}

// FDs returns the file descriptor numbers in map order.
func (m DescriptorMap) FDs() []int {
	fds := make([]int, 0, len(m))
	for _, d := range m {
		fds = append(fds, d.FD)
	}
	return fds
}

// Paths returns the target paths in map order.
func (m DescriptorMap) Paths() []string {
	paths := make([]string, 0, len(m))
	for _, d := range m {
		paths = append(paths, d.Path)
	}
	return paths
}

// Fetch connects once to the descriptor source listening on the passed
// abstract socket name and returns the fetched descriptor map. The caller
// owns the returned descriptors. Fetch never returns a partial map: on error,
// all descriptors received so far have been closed.
func Fetch(ctx context.Context, socket string) (DescriptorMap, error) {
	conn, err := uds.Dial(ctx, socket)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot connect to @%s: %w",
			fdshare.ErrEndpoint, socket, err)
	}
	defer func() { _ = conn.Close() }()
	paths, fds, err := transfer.Receive(conn)
	if err != nil {
		return nil, err
	}
	fds, err = adopt(fds)
	if err != nil {
		return nil, err
	}
	dmap := make(DescriptorMap, 0, len(fds))
	for idx, fd := range fds {
		dmap = append(dmap, Descriptor{Path: paths[idx], FD: fd})
	}
	return dmap, nil
}

// adopt validates the passed received descriptors and replaces each with a
// duplicate at or above MinFD that has its close-on-exec flag cleared,
// closing the originally received descriptor. On error, adopt closes all
// passed descriptors as well as any duplicates made so far.
func adopt(fds []int) ([]int, error) {
	for _, fd := range fds {
		if fd < MinFD {
			closeAll(fds)
			return nil, fmt.Errorf("%w: received file descriptor %d in reserved range",
				fdshare.ErrProtocol, fd)
		}
	}
	dups := make([]int, 0, len(fds))
	for idx, fd := range fds {
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD, MinFD)
		if err != nil {
			closeAll(dups)
			closeAll(fds[idx:])
			return nil, fmt.Errorf("%w: cannot duplicate file descriptor %d: %w",
				fdshare.ErrProtocol, fd, err)
		}
		_ = unix.Close(fd)
		dups = append(dups, dup)
	}
	return dups, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
