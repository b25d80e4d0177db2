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

package transfer

import (
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/thediveo/fdshare"
	"github.com/thediveo/fdshare/uds"
	"golang.org/x/sys/unix"
)

const (
	// WordSize is the size in bytes of the length and count fields.
	WordSize = strconv.IntSize / 8
	// MaxFds is the maximum number of file descriptors the Linux kernel
	// accepts in a single SCM_RIGHTS control message (SCM_MAX_FD).
	MaxFds = 253
	// MaxPayloadLen limits the payload length a sender produces and a receiver
	// is willing to allocate for.
	MaxPayloadLen = 1 << 20
)

// Message is a transfer message consisting of an ordered list of target paths
// and a parallel list of file descriptors. Messages are immutable after
// construction, so a single Message can be sent over multiple connections
// concurrently.
//
// A Message does not own its file descriptors: they must stay open for as long
// as the Message is being sent.
type Message struct {
	paths   []string
	payload []byte
	fds     []int
}

// NewMessage returns a new transfer Message for the passed target paths and
// file descriptors, where the i-th path belongs to the i-th descriptor. It
// rejects messages that a [Receive] would refuse, such as more than [MaxFds]
// descriptors or a serialized path list beyond [MaxPayloadLen].
func NewMessage(paths []string, fds []int) (*Message, error) {
	if len(paths) != len(fds) {
		return nil, fmt.Errorf("%w: %d target paths, but %d file descriptors",
			fdshare.ErrProtocol, len(paths), len(fds))
	}
	if len(fds) > MaxFds {
		return nil, fmt.Errorf("%w: %d file descriptors exceed the maximum of %d",
			fdshare.ErrProtocol, len(fds), MaxFds)
	}
	if paths == nil {
		paths = []string{} // ...so it's an empty CBOR array instead of nil.
	}
	payload, err := Marshal(paths)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot serialize target paths: %w",
			fdshare.ErrProtocol, err)
	}
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: serialized target paths of %d bytes exceed the maximum of %d",
			fdshare.ErrProtocol, len(payload), MaxPayloadLen)
	}
	return &Message{
		paths:   slices.Clone(paths),
		payload: payload,
		fds:     slices.Clone(fds),
	}, nil
}

// Len returns the number of target paths and thus file descriptors.
func (m *Message) Len() int { return len(m.fds) }

// PayloadLen returns the length of the serialized target path list.
func (m *Message) PayloadLen() int { return len(m.payload) }

// Paths returns a copy of the target paths.
func (m *Message) Paths() []string { return slices.Clone(m.paths) }

// Send the message over the passed connection.
func (m *Message) Send(conn *uds.Conn) error {
	if _, err := conn.Write(word(len(m.payload))); err != nil {
		return fmt.Errorf("%w: cannot send target paths length: %w",
			fdshare.ErrEndpoint, err)
	}
	if _, err := conn.Write(word(len(m.fds))); err != nil {
		return fmt.Errorf("%w: cannot send number of file descriptors: %w",
			fdshare.ErrEndpoint, err)
	}
	if _, err := conn.SendWithFds(m.payload, m.fds...); err != nil {
		return fmt.Errorf("%w: cannot send file descriptors: %w",
			fdshare.ErrEndpoint, err)
	}
	return nil
}

// Receive a transfer message from the passed connection, returning the target
// paths and the received file descriptors. The caller takes ownership of the
// returned file descriptors. In case of any error, Receive closes all file
// descriptors received so far and doesn't return any.
func Receive(conn *uds.Conn) (paths []string, fds []int, err error) {
	payloadLen, err := receiveWord(conn, "target paths length")
	if err != nil {
		return nil, nil, err
	}
	if payloadLen > MaxPayloadLen {
		return nil, nil, fmt.Errorf("%w: announced target paths length %d exceeds maximum of %d",
			fdshare.ErrProtocol, payloadLen, MaxPayloadLen)
	}
	numFds, err := receiveWord(conn, "number of file descriptors")
	if err != nil {
		return nil, nil, err
	}
	if numFds > MaxFds {
		return nil, nil, fmt.Errorf("%w: announced number of file descriptors %d exceeds maximum of %d",
			fdshare.ErrProtocol, numFds, MaxFds)
	}

	payload := make([]byte, payloadLen)
	n, fds, truncated, err := conn.ReceiveWithFds(payload, int(numFds))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cannot receive file descriptors: %w",
			fdshare.ErrEndpoint, err)
	}
	fail := func(err error) ([]string, []int, error) {
		closeAll(fds)
		return nil, nil, err
	}
	if len(fds) != int(numFds) {
		return fail(fmt.Errorf("%w: received %d file descriptors, expected %d",
			fdshare.ErrProtocol, len(fds), numFds))
	}
	if n != int(payloadLen) {
		return fail(fmt.Errorf("%w: received %d bytes for target paths, expected %d",
			fdshare.ErrProtocol, n, payloadLen))
	}
	if truncated {
		return fail(fmt.Errorf("%w: expected %d bytes for target paths and %d file descriptors, but more were sent",
			fdshare.ErrProtocol, payloadLen, numFds))
	}
	if err := Unmarshal(payload, &paths); err != nil {
		return fail(fmt.Errorf("%w: cannot deserialize target paths: %w",
			fdshare.ErrProtocol, err))
	}
	if len(paths) != len(fds) {
		return fail(fmt.Errorf("%w: received %d target paths for %d file descriptors",
			fdshare.ErrProtocol, len(paths), len(fds)))
	}
	return paths, fds, nil
}

// receiveWord receives a single length or count field.
func receiveWord(conn *uds.Conn, field string) (uint64, error) {
	b := make([]byte, WordSize)
	n, fds, truncated, err := conn.ReceiveWithFds(b, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot receive %s: %w", fdshare.ErrEndpoint, field, err)
	}
	closeAll(fds)
	switch {
	case n == 0 && !truncated:
		return 0, fmt.Errorf("%w: cannot receive %s: %w",
			fdshare.ErrProtocol, field, io.ErrUnexpectedEOF)
	case n != WordSize || truncated || len(fds) != 0:
		return 0, fmt.Errorf("%w: invalid %s %v", fdshare.ErrProtocol, field, b[:n])
	}
	if WordSize == 8 {
		return binary.NativeEndian.Uint64(b), nil
	}
	return uint64(binary.NativeEndian.Uint32(b)), nil
}

// word returns the native representation of v.
func word(v int) []byte {
	b := make([]byte, WordSize)
	if WordSize == 8 {
		binary.NativeEndian.PutUint64(b, uint64(v))
	} else {
		binary.NativeEndian.PutUint32(b, uint32(v))
	}
	return b
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
