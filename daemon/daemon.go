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

package daemon

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/thediveo/fdshare"
	"github.com/thediveo/fdshare/procfd"
	"golang.org/x/sys/unix"
)

// EnvDetached marks a detached background process; its value is the number of
// handed-off files.
const EnvDetached = "FDSHARE_DETACHED_FILES"

const (
	stateFD     = 3 // pipe carrying the handoff state
	firstFileFD = 4 // first handed-off file
)

// Outcome of detaching: either still the original foreground process, or the
// detached background process.
type Outcome int

const (
	StillForeground Outcome = iota
	NowBackground
)

func (o Outcome) String() string {
	switch o {
	case StillForeground:
		return "foreground"
	case NowBackground:
		return "background"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Handoff is everything a detached background process inherits from its
// foreground: an opaque state and a list of open files.
type Handoff struct {
	State []byte
	Files []*os.File
}

// Close all handed-off files.
func (h *Handoff) Close() {
	for _, f := range h.Files {
		_ = f.Close()
	}
}

// Daemon describes how to detach into the background.
type Daemon struct {
	// Exe is the executable to start; defaults to “/proc/self/exe”.
	Exe string
	// Args are the arguments to start Exe with, without the program name;
	// defaults to the arguments of the current process.
	Args []string
	// Dir is the working directory of the background process; defaults to the
	// current working directory.
	Dir string
	// LogPath is the file receiving the stdout and stderr output of the
	// background process; the file is created if necessary and always appended
	// to.
	LogPath string
	// Env lists additional environment variables in “key=value” form.
	Env []string
}

// Result of detaching.
type Result struct {
	Outcome Outcome
	// Handoff is only set in the background.
	Handoff *Handoff
	// Child is only set in the foreground.
	Child *Child
}

// Child is the background process as seen from the foreground.
type Child struct {
	Pid  int
	done chan struct{}
	err  error
}

// Exited returns a channel that gets closed when the background process has
// terminated.
func (c *Child) Exited() <-chan struct{} { return c.done }

// Err returns nil if the background process terminated with exit code 0, and
// an error otherwise. Err must only be called after Exited has been closed.
func (c *Child) Err() error { return c.err }

// Detach into the background. When called in the foreground, Detach first
// calls prepare to get the state and files to hand off. It then starts the
// background process and returns with [StillForeground]. The caller remains
// responsible for closing the handed-off files. Detach marks the handed-off
// files close-on-exec, so the background process sees them only at their
// handoff positions starting at fd 4, and not additionally at their original
// descriptor numbers.
//
// When called in the detached background process, Detach doesn't call prepare
// but instead returns [NowBackground] together with the handed-off state and
// files.
func (d *Daemon) Detach(prepare func() (*Handoff, error)) (*Result, error) {
	if count, ok := os.LookupEnv(EnvDetached); ok {
		handoff, err := adopt(count)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: NowBackground, Handoff: handoff}, nil
	}
	handoff, err := prepare()
	if err != nil {
		return nil, err
	}
	if handoff == nil {
		handoff = &Handoff{}
	}
	child, err := d.spawn(handoff)
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: StillForeground, Child: child}, nil
}

// adopt the state and files handed off from the foreground.
func adopt(count string) (*Handoff, error) {
	_ = os.Unsetenv(EnvDetached)
	n, err := strconv.Atoi(count)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: invalid handoff file count %q", fdshare.ErrPublish, count)
	}
	for fd := stateFD; fd < firstFileFD+n; fd++ {
		if !procfd.Valid(fd) {
			return nil, fmt.Errorf("%w: missing handed-off file descriptor %d",
				fdshare.ErrPublish, fd)
		}
	}
	statef := os.NewFile(stateFD, "handoff-state")
	state, err := io.ReadAll(statef)
	_ = statef.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read handoff state: %w", fdshare.ErrPublish, err)
	}
	handoff := &Handoff{State: state}
	for idx := range n {
		handoff.Files = append(handoff.Files,
			os.NewFile(uintptr(firstFileFD+idx), "handoff-"+strconv.Itoa(idx)))
	}
	return handoff, nil
}

// spawn the background process, handing off the passed state and files.
func (d *Daemon) spawn(handoff *Handoff) (*Child, error) {
	exe := d.Exe
	if exe == "" {
		exe = "/proc/self/exe"
	}
	args := d.Args
	if args == nil {
		args = os.Args[1:]
	}

	// Open the log before spawning so that we can still report failure to do
	// so in the foreground.
	logf, err := os.OpenFile(d.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open log file: %w", fdshare.ErrPublish, err)
	}
	defer func() { _ = logf.Close() }()
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fdshare.ErrPublish, err)
	}
	defer func() { _ = devnull.Close() }()
	stater, statew, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create handoff pipe: %w", fdshare.ErrPublish, err)
	}
	defer func() { _ = statew.Close() }()
	for _, f := range handoff.Files {
		unix.CloseOnExec(int(f.Fd()))
	}

	cmd := exec.Command(exe, args...)
	cmd.Args[0] = os.Args[0]
	cmd.Dir = d.Dir
	cmd.Env = append(os.Environ(), d.Env...)
	cmd.Env = append(cmd.Env, EnvDetached+"="+strconv.Itoa(len(handoff.Files)))
	cmd.Stdin = devnull
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.ExtraFiles = append([]*os.File{stater}, handoff.Files...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	err = cmd.Start()
	_ = stater.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot start background process: %w", fdshare.ErrPublish, err)
	}

	child := &Child{Pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		child.err = cmd.Wait()
		close(child.done)
	}()

	if _, err := statew.Write(handoff.State); err != nil {
		_ = cmd.Process.Kill()
		<-child.done
		return nil, fmt.Errorf("%w: cannot hand off state: %w", fdshare.ErrPublish, err)
	}
	return child, nil
}
