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
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/fdooze"
	. "github.com/thediveo/success"
)

var _ = Describe("procfs fd references", func() {

	BeforeEach(func() {
		goodfds := Filedescriptors()
		DeferCleanup(func() {
			Expect(Filedescriptors()).NotTo(HaveLeakedFds(goodfds))
		})
	})

	It("returns references", func() {
		Expect(Path(42, 666)).To(Equal("/proc/42/fd/666"))
	})

	It("resolves references lazily", func() {
		dir := GinkgoT().TempDir()
		fd := Successful(unix.Open(dir, unix.O_RDONLY|unix.O_CLOEXEC, 0))
		Expect(Resolve(os.Getpid(), fd)).To(Equal(Successful(filepath.EvalSymlinks(dir))))
		Expect(unix.Close(fd)).To(Succeed())
		Expect(Resolve(os.Getpid(), fd)).Error().To(HaveOccurred())
	})

	It("rejects non-existing fds", func() {
		Expect(Valid(-1)).To(BeFalse())
		Expect(Valid(666_666)).To(BeFalse())
		Expect(CloseOnExec(666_666)).Error().To(HaveOccurred())
		Expect(OpenFlags(os.Getpid(), 666_666)).Error().To(HaveOccurred())
	})

	It("reports close-on-exec and open flags", func() {
		name := filepath.Join(GinkgoT().TempDir(), "file")
		Expect(os.WriteFile(name, []byte("42"), 0o600)).To(Succeed())

		fd := Successful(unix.Open(name, unix.O_RDONLY|unix.O_CLOEXEC, 0))
		defer func() { _ = unix.Close(fd) }()
		Expect(Valid(fd)).To(BeTrue())
		Expect(CloseOnExec(fd)).To(BeTrue())
		flags := Successful(OpenFlags(os.Getpid(), fd))
		Expect(flags & unix.O_ACCMODE).To(Equal(unix.O_RDONLY))

		wfd := Successful(unix.Open(name, unix.O_WRONLY|unix.O_APPEND, 0))
		defer func() { _ = unix.Close(wfd) }()
		Expect(CloseOnExec(wfd)).To(BeFalse())
		flags = Successful(OpenFlags(os.Getpid(), wfd))
		Expect(flags & unix.O_ACCMODE).To(Equal(unix.O_WRONLY))
		Expect(flags & unix.O_APPEND).NotTo(BeZero())
	})

})
