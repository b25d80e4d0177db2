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

package procfd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Path returns the procfs path referencing the file descriptor fd of the
// process with the specified PID.
func Path(pid, fd int) string {
	return "/proc/" + strconv.Itoa(pid) + "/fd/" + strconv.Itoa(fd)
}

// Resolve returns what the file descriptor fd of process pid currently
// references, such as a file system path or “anon_inode:[pidfd]”.
func Resolve(pid, fd int) (string, error) {
	return os.Readlink(Path(pid, fd))
}

// Valid returns true if fd is an open file descriptor of the current process.
func Valid(fd int) bool {
	if fd < 0 {
		return false
	}
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// CloseOnExec returns true if the file descriptor fd of the current process
// has its close-on-exec flag set.
func CloseOnExec(fd int) (bool, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return false, err
	}
	return flags&unix.FD_CLOEXEC != 0, nil
}

// OpenFlags returns the file status flags (such as O_RDONLY, O_APPEND, ...)
// of the file descriptor fd of the process with the specified PID, as shown in
// the process's procfs fdinfo.
func OpenFlags(pid, fd int) (int, error) {
	fdinfo, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/fdinfo/" + strconv.Itoa(fd))
	if err != nil {
		return 0, err
	}
	for line := range strings.Lines(string(fdinfo)) {
		value, ok := strings.CutPrefix(line, "flags:\t")
		if !ok || value == "" {
			continue
		}
		flags, err := strconv.ParseInt(strings.TrimSpace(value), 8, 32)
		if err != nil {
			return 0, err
		}
		return int(flags), nil
	}
	return 0, fmt.Errorf("fd %d of process %d has no flags information", fd, pid)
}
