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

package uds

import (
	"context"
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Network is the network name of sequenced-packet unix domain sockets.
const Network = "unixpacket"

// Conn represents a sequenced-packet unix domain socket connection that can
// send and receive open file descriptors. It wraps [*net.UnixConn]. Use
// [NewPair] to create a pair of directly peer-to-peer connected Conn objects,
// or [Dial] to connect to a [Listener]. Use [Conn.SendWithFds] and
// [Conn.ReceiveWithFds] to transfer messages with open file descriptors
// piggybacked on.
type Conn struct {
	*net.UnixConn
}

// Listener accepts connections on an abstract unix domain socket name.
type Listener struct {
	*net.UnixListener
	name string
}

// Address returns the address of the passed name in the abstract namespace.
func Address(name string) *net.UnixAddr {
	return &net.UnixAddr{Name: "@" + name, Net: Network}
}

// Listen binds to the passed name in the abstract namespace and returns a
// Listener for it. The name must not be empty.
func Listen(name string) (*Listener, error) {
	if name == "" {
		return nil, errors.New("empty abstract socket name")
	}
	l, err := net.ListenUnix(Network, Address(name))
	if err != nil {
		return nil, err
	}
	return &Listener{UnixListener: l, name: name}, nil
}

// Name returns the abstract name the listener is bound to, without the
// leading “@”.
func (l *Listener) Name() string {
	return l.name
}

// AcceptConn waits for and returns the next connection to the listener.
func (l *Listener) AcceptConn() (*Conn, error) {
	unixconn, err := l.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return &Conn{UnixConn: unixconn}, nil
}

// Dial connects to the listener bound to the passed name in the abstract
// namespace.
func Dial(ctx context.Context, name string) (*Conn, error) {
	if name == "" {
		return nil, errors.New("empty abstract socket name")
	}
	var dialer net.Dialer
	netconn, err := dialer.DialContext(ctx, Network, Address(name).Name)
	if err != nil {
		return nil, err
	}
	unixconn, ok := netconn.(*net.UnixConn)
	if !ok {
		_ = netconn.Close()
		return nil, errors.New("not a unix domain socket")
	}
	return &Conn{UnixConn: unixconn}, nil
}

// NewPair returns a pair of peer-to-peer connected sequenced-packet unix
// domain sockets that can transfer open file descriptors across process
// boundaries.
func NewPair() (dupond, dupont *Conn, err error) {
	fdpair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, err
	}
	dupond, err = NewUnixConn(fdpair[0], "dupond")
	if err != nil {
		// fdpair[0] is always closed by now, but we don't want to leak
		// fdpair[1]...
		_ = unix.Close(fdpair[1])
		return nil, nil, err
	}
	dupont, err = NewUnixConn(fdpair[1], "dupont")
	if err != nil {
		_ = dupond.Close()
		return nil, nil, err
	}
	return dupond, dupont, nil
}

// SendWithFds sends the passed data as well as the passed file descriptors over
// the UDS connection in a single message, with the file descriptors in a
// single control message (ancillary data). When there are no file descriptors
// to send, SendWithFds doesn't send any control message at all.
func (c *Conn) SendWithFds(b []byte, fds ...int) (noob int, err error) {
	var oob []byte
	if len(fds) > 0 {
		// Please note that unix.UnixRights returns a single control message
		// consisting of the header as well as the fd payload.
		oob = unix.UnixRights(fds...)
	}
	_, noob, err = c.WriteMsgUnix(b, oob, nil)
	return noob, err
}

// ReceiveWithFds receives a single message into b, returning the number of
// bytes received as well as the file descriptors received in the message's
// SCM_RIGHTS control messages (ancillary data). At most maxfds file
// descriptors are accepted; any excess is dropped by the kernel and reported
// as truncation. Truncation is also reported when the message was larger than
// b.
//
// The caller is responsible for closing the returned file descriptors, even
// when truncated is true. In case of an error there are never any file
// descriptors returned.
func (c *Conn) ReceiveWithFds(b []byte, maxfds int) (n int, fds []int, truncated bool, err error) {
	// We're trying to do the reverse of what unix.UnixRights does: it packages
	// file descriptors as int32's and then there's control message header
	// overhead, but this is where unix.CmsgSpace gives us the correct number
	// for the amount of control message payload.
	oob := make([]byte, unix.CmsgSpace(maxfds*4))
	n, noob, flags, _, err := c.ReadMsgUnix(b, oob)
	if err != nil {
		return 0, nil, false, err
	}
	truncated = flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0
	cms, err := unix.ParseSocketControlMessage(oob[:noob])
	if err != nil {
		return 0, nil, false, err
	}
	for _, cm := range cms {
		if cm.Header.Level != unix.SOL_SOCKET || cm.Header.Type != unix.SCM_RIGHTS {
			continue // nah, don't understand, skip it.
		}
		rights, err := unix.ParseUnixRights(&cm)
		if err != nil {
			for _, fd := range fds {
				_ = unix.Close(fd)
			}
			return 0, nil, false, err
		}
		fds = append(fds, rights...)
	}
	return n, fds, truncated, nil
}

// PeerCredentials returns the credentials of the connected peer process, as
// recorded by the kernel at the time the connection was established.
func (c *Conn) PeerCredentials() (*unix.Ucred, error) {
	rawconn, err := c.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var crederr error
	if err := rawconn.Control(func(fd uintptr) {
		cred, crederr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, err
	}
	return cred, crederr
}

// NewUnixConn returns a *net.UnixConn for the passed unix domain socket fd;
// otherwise, it then returns an error in case of failure.
//
// Why do we want a UnixConn? Because it has ReadMsgUnix and WriteMsgUnix
// methods for receiving and sending out-of-band data, also known as “control
// information” or “ancillary data” (for instance, see sendmsg(2),
// https://www.man7.org/linux/man-pages/man2/sendmsg.2.html).
//
// Important: NewUnixConn always takes ownership of the passed file descriptor
// and will close it, even in case of error. A caller must not use the passed
// file descriptor anymore and the caller must not close the passed file
// descriptor themselves.
func NewUnixConn(udsfd int, nickname string) (*Conn, error) {
	f := os.NewFile(uintptr(udsfd), nickname)
	if f == nil {
		return nil, errors.New("not a file descriptor")
	}
	defer func() { _ = f.Close() }()
	netconn, err := net.FilePacketConn(f)
	if err != nil {
		return nil, err
	}
	unixconn, ok := netconn.(*net.UnixConn)
	if !ok {
		_ = netconn.Close()
		return nil, errors.New("not a unix domain socket")
	}
	return &Conn{UnixConn: unixconn}, nil
}
