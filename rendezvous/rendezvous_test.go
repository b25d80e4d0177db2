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

package rendezvous

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gleak"
	. "github.com/thediveo/fdooze"
	. "github.com/thediveo/success"
)

// waitInBackground waits on the passed watch on a separate go routine,
// returning a channel that receives the result of the wait.
func waitInBackground(ctx context.Context, w *Watch) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- w.Wait(ctx)
	}()
	return done
}

var _ = Describe("rendezvous", func() {

	var marker string

	BeforeEach(func() {
		goodfds := Filedescriptors()
		goodgos := Goroutines()
		DeferCleanup(func() {
			Eventually(Goroutines).Within(2 * time.Second).ProbeEvery(100 * time.Millisecond).
				ShouldNot(HaveLeaked(goodgos))
			Eventually(Filedescriptors).Within(2 * time.Second).ProbeEvery(100 * time.Millisecond).
				ShouldNot(HaveLeakedFds(goodfds))
		})
		marker = filepath.Join(GinkgoT().TempDir(), "marker")
	})

	It("stringifies conditions", func() {
		Expect(Created.String()).To(Equal("created"))
		Expect(Deleted.String()).To(Equal("deleted"))
		Expect(Condition(42).String()).To(Equal("Condition(42)"))
	})

	It("rejects invalid watches", func() {
		Expect(NewWatch(marker, Condition(42))).Error().To(HaveOccurred())
		Expect(NewWatch("/nada/nothing/marker", Created)).Error().To(HaveOccurred())
	})

	When("the condition already holds", func() {

		It("returns immediately for an existing marker", func(ctx context.Context) {
			Expect(os.WriteFile(marker, nil, 0o600)).To(Succeed())
			w := Successful(NewWatch(marker, Created))
			defer func() { _ = w.Close() }()
			Expect(w.Path()).To(Equal(marker))
			Expect(w.Condition()).To(Equal(Created))
			Eventually(waitInBackground(ctx, w)).Within(time.Second).Should(Receive(BeNil()))
		})

		It("returns immediately for an absent marker", func(ctx context.Context) {
			w := Successful(NewWatch(marker, Deleted))
			defer func() { _ = w.Close() }()
			Eventually(waitInBackground(ctx, w)).Within(time.Second).Should(Receive(BeNil()))
		})

		It("reports prechecks", func(ctx context.Context) {
			w := Successful(NewWatch(marker, Deleted))
			defer func() { _ = w.Close() }()
			for occ, err := range w.Occurrences(ctx) {
				Expect(err).NotTo(HaveOccurred())
				Expect(occ.Precheck).To(BeTrue())
				Expect(occ.Op).To(BeZero())
				break
			}
		})

	})

	When("the condition doesn't hold yet", func() {

		It("waits for the marker to get created", func(ctx context.Context) {
			w := Successful(NewWatch(marker, Created))
			defer func() { _ = w.Close() }()
			done := waitInBackground(ctx, w)
			Consistently(done).Within(250 * time.Millisecond).ShouldNot(Receive())
			Expect(os.WriteFile(filepath.Join(filepath.Dir(marker), "other"), nil, 0o600)).To(Succeed())
			Consistently(done).Within(250 * time.Millisecond).ShouldNot(Receive())
			Expect(os.WriteFile(marker, nil, 0o600)).To(Succeed())
			Eventually(done).Within(2 * time.Second).Should(Receive(BeNil()))
		})

		It("waits for the marker to get deleted", func(ctx context.Context) {
			Expect(os.WriteFile(marker, nil, 0o600)).To(Succeed())
			w := Successful(NewWatch(marker, Deleted))
			defer func() { _ = w.Close() }()
			done := waitInBackground(ctx, w)
			Consistently(done).Within(250 * time.Millisecond).ShouldNot(Receive())
			Expect(os.Remove(marker)).To(Succeed())
			Eventually(done).Within(2 * time.Second).Should(Receive(BeNil()))
		})

		It("treats renaming as creation and deletion", func(ctx context.Context) {
			elsewhere := filepath.Join(filepath.Dir(marker), "elsewhere")
			Expect(os.WriteFile(elsewhere, nil, 0o600)).To(Succeed())

			created := Successful(NewWatch(marker, Created))
			defer func() { _ = created.Close() }()
			done := waitInBackground(ctx, created)
			Expect(os.Rename(elsewhere, marker)).To(Succeed())
			Eventually(done).Within(2 * time.Second).Should(Receive(BeNil()))

			deleted := Successful(NewWatch(marker, Deleted))
			defer func() { _ = deleted.Close() }()
			done = waitInBackground(ctx, deleted)
			Expect(os.Rename(marker, elsewhere)).To(Succeed())
			Eventually(done).Within(2 * time.Second).Should(Receive(BeNil()))
		})

		It("treats a vanishing directory as deletion", func(ctx context.Context) {
			dir := filepath.Join(filepath.Dir(marker), "sub")
			Expect(os.Mkdir(dir, 0o700)).To(Succeed())
			nested := filepath.Join(dir, "marker")
			Expect(os.WriteFile(nested, nil, 0o600)).To(Succeed())

			w := Successful(NewWatch(nested, Deleted))
			defer func() { _ = w.Close() }()
			done := waitInBackground(ctx, w)
			Consistently(done).Within(250 * time.Millisecond).ShouldNot(Receive())
			Expect(os.Rename(dir, filepath.Join(filepath.Dir(dir), "moved"))).To(Succeed())
			Eventually(done).Within(2 * time.Second).Should(Receive(BeNil()))
		})

		It("gives up creation when the directory vanishes", func(ctx context.Context) {
			dir := filepath.Join(filepath.Dir(marker), "sub")
			Expect(os.Mkdir(dir, 0o700)).To(Succeed())

			w := Successful(NewWatch(filepath.Join(dir, "marker"), Created))
			defer func() { _ = w.Close() }()
			done := waitInBackground(ctx, w)
			Consistently(done).Within(250 * time.Millisecond).ShouldNot(Receive())
			Expect(os.Remove(dir)).To(Succeed())
			Eventually(done).Within(2 * time.Second).Should(Receive(
				MatchError(ContainSubstring("gone"))))
		})

		It("yields every occurrence", func(ctx context.Context) {
			w := Successful(NewWatch(marker, Created))
			defer func() { _ = w.Close() }()

			ops := make(chan fsnotify.Op)
			go func() {
				defer close(ops)
				count := 0
				for occ, err := range w.Occurrences(ctx) {
					if err != nil {
						return
					}
					ops <- occ.Op
					count++
					if count == 2 {
						return
					}
				}
			}()

			Expect(os.WriteFile(marker, nil, 0o600)).To(Succeed())
			Eventually(ops).Within(2 * time.Second).Should(Receive(Equal(fsnotify.Create)))
			Expect(os.Remove(marker)).To(Succeed())
			Expect(os.WriteFile(marker, nil, 0o600)).To(Succeed())
			Eventually(ops).Within(2 * time.Second).Should(Receive(Equal(fsnotify.Create)))
			Eventually(ops).Within(2 * time.Second).Should(BeClosed())
		})

		It("gives up when the context is cancelled", func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			defer cancel()
			Expect(Wait(ctx, marker, Created)).To(MatchError(context.DeadlineExceeded))
		})

		It("reports a closed watch", func(ctx context.Context) {
			w := Successful(NewWatch(marker, Created))
			done := waitInBackground(ctx, w)
			Expect(w.Close()).To(Succeed())
			Eventually(done).Within(2 * time.Second).Should(Receive(
				MatchError(ContainSubstring("closed"))))
		})

	})

	It("checks existence without following symbolic links", func() {
		Expect(os.Symlink("/nada/nothing", marker)).To(Succeed())
		Expect(Exists(marker)).To(BeTrue())
		Expect(Exists(marker + ".not")).To(BeFalse())
	})

})
