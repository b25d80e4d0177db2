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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/gexec"
	"github.com/spf13/pflag"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

// setenv sets the environment variable until the current node ends, or unsets
// it if value is empty.
func setenv(key, value string) {
	GinkgoHelper()
	old, ok := os.LookupEnv(key)
	if value == "" {
		Expect(os.Unsetenv(key)).To(Succeed())
	} else {
		Expect(os.Setenv(key, value)).To(Succeed())
	}
	DeferCleanup(func() {
		if ok {
			_ = os.Setenv(key, old)
			return
		}
		_ = os.Unsetenv(key)
	})
}

// fdshare runs the fdshare binary with the passed arguments.
func fdshare(args ...string) *gexec.Session {
	GinkgoHelper()
	return Successful(gexec.Start(exec.Command(fdshareBinary, args...), GinkgoWriter, GinkgoWriter))
}

var _ = Describe("fdshare command", func() {

	DescribeTable("determining the log level",
		func(env string, args []string, expected slog.Level, fails bool) {
			setenv(envLogLevel, env)
			flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
			flags.String("log-level", "info", "")
			Expect(flags.Parse(args)).To(Succeed())
			level, err := logLevel(flags)
			if fails {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(level).To(Equal(expected))
		},
		Entry("default", "", []string{}, slog.LevelInfo, false),
		Entry("environment", "debug", []string{}, slog.LevelDebug, false),
		Entry("flag overrides environment", "debug", []string{"--log-level=warn"}, slog.LevelWarn, false),
		Entry("invalid flag", "", []string{"--log-level=loud"}, slog.LevelInfo, true),
		Entry("invalid environment", "loud", []string{}, slog.LevelInfo, true),
	)

	It("rejects invalid log levels", func() {
		session := fdshare("--log-level=loud", "fetch", "--fd-socket=nada")
		Eventually(session).Within(5 * time.Second).Should(gexec.Exit(1))
	})

	It("requires flags", func() {
		session := fdshare("link", "--parent=/tmp/nada")
		Eventually(session).Within(5 * time.Second).Should(gexec.Exit(1))
	})

	It("fails for an invalid configuration", func() {
		cfg := filepath.Join(GinkgoT().TempDir(), "bindings.yaml")
		Expect(os.WriteFile(cfg, []byte("file-bindings: 42\n"), 0o600)).To(Succeed())
		session := fdshare("serve", "--socket=fdshare-cmd-test-nada", "--config-path="+cfg)
		Eventually(session).Within(5 * time.Second).Should(gexec.Exit(1))
		Expect(session.Err).To(gbytes.Say("invalid configuration"))
	})

	When("serving", func() {

		var tmpdir, socket string

		BeforeEach(func() {
			tmpdir = Successful(filepath.EvalSymlinks(GinkgoT().TempDir()))
			for _, name := range []string{"foo", "bar"} {
				Expect(os.WriteFile(filepath.Join(tmpdir, name), []byte(name+"-contents"), 0o600)).
					To(Succeed())
			}
			cfg := filepath.Join(tmpdir, "bindings.json")
			Expect(os.WriteFile(cfg, []byte(fmt.Sprintf(`{
    // the bindings
    "file-bindings": [
        { "source-path": %q, "target-path": "a/foo" },
        { "source-path": %q, "target-path": "b/bar" },
    ]
}`, filepath.Join(tmpdir, "foo"), filepath.Join(tmpdir, "bar"))), 0o600)).To(Succeed())

			socket = fmt.Sprintf("fdshare-cmd-test-%d-%s", os.Getpid(), petname.Generate(2, "-"))
			server := fdshare("serve", "--socket="+socket, "--config-path="+cfg)
			DeferCleanup(func() {
				server.Terminate()
				Eventually(server).Within(5 * time.Second).Should(gexec.Exit(0))
			})
			Eventually(server.Err).Within(5 * time.Second).Should(gbytes.Say("serving file descriptors"))
		})

		It("fetches", func() {
			session := fdshare("fetch", "--fd-socket="+socket)
			Eventually(session).Within(5 * time.Second).Should(gexec.Exit(0))
			Expect(session.Out).To(gbytes.Say(`a/foo\t/proc/self/fd/\d+ -> ` + regexp.QuoteMeta(filepath.Join(tmpdir, "foo")) + "\n"))
			Expect(session.Out).To(gbytes.Say(`b/bar\t/proc/self/fd/\d+ -> ` + regexp.QuoteMeta(filepath.Join(tmpdir, "bar")) + "\n"))
		})

		It("links and unlinks", func() {
			parent := filepath.Join(tmpdir, "published")
			marker := filepath.Join(tmpdir, "ready")
			session := fdshare("--log-level=debug", "link",
				"--fd-socket="+socket, "--parent="+parent, "--marker="+marker)
			Eventually(session).Within(10 * time.Second).Should(gexec.Exit(0))
			Expect(marker).To(BeAnExistingFile())

			Expect(os.ReadFile(filepath.Join(parent, "a/foo"))).To(Equal([]byte("foo-contents")))
			Expect(os.ReadFile(filepath.Join(parent, "b/bar"))).To(Equal([]byte("bar-contents")))
			target := Successful(os.Readlink(filepath.Join(parent, "a/foo")))
			Expect(target).To(MatchRegexp(`^/proc/\d+/fd/\d+$`))
			Expect(target).NotTo(HavePrefix("/proc/" + strconv.Itoa(session.Command.Process.Pid) + "/"))

			By("refusing to link into the same place twice")
			again := fdshare("link", "--fd-socket="+socket, "--parent="+parent, "--marker="+marker+"2")
			Eventually(again).Within(5 * time.Second).Should(gexec.Exit(1))
			Expect(again.Err).To(gbytes.Say("precondition violated"))

			By("tearing down after deleting the marker")
			Expect(os.Remove(marker)).To(Succeed())
			Eventually(parent).Within(5 * time.Second).ShouldNot(BeADirectory())
			Eventually(func() ([]byte, error) {
				return os.ReadFile(filepath.Join(tmpdir, "fdshare-link.log"))
			}).Within(5 * time.Second).Should(ContainSubstring("tore down"))
		})

	})

})
