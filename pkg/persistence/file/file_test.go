// Copyright 2025 Statekit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package file_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/persistence"
	"github.com/statekit/statekit/pkg/persistence/file"
)

var _ = Describe("File store", func() {
	var (
		ctx   context.Context
		dir   string
		store *file.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()

		var err error
		store, err = file.NewStore(dir)
		Expect(err).ToNot(HaveOccurred())
	})

	It("creates the snapshot directory if needed", func() {
		nested := filepath.Join(dir, "a", "b")
		_, err := file.NewStore(nested)
		Expect(err).ToNot(HaveOccurred())

		info, err := os.Stat(nested)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("round-trips a snapshot through JSON on disk", func() {
		saved := container.State{
			"entries": map[string]any{"0xabc": map[string]any{"name": "Ada"}},
			"count":   float64(3),
		}
		Expect(store.Save(ctx, "AddressBook", saved)).To(Succeed())

		loaded, err := store.Load(ctx, "AddressBook")
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded).To(HaveKeyWithValue("count", float64(3)))
		Expect(loaded["entries"]).To(HaveKey("0xabc"))
	})

	It("writes one file per controller name", func() {
		Expect(store.Save(ctx, "A", container.State{})).To(Succeed())
		Expect(store.Save(ctx, "B", container.State{})).To(Succeed())

		Expect(filepath.Join(dir, "A.json")).To(BeAnExistingFile())
		Expect(filepath.Join(dir, "B.json")).To(BeAnExistingFile())
	})

	It("replaces the previous snapshot on save", func() {
		Expect(store.Save(ctx, "C", container.State{"v": float64(1)})).To(Succeed())
		Expect(store.Save(ctx, "C", container.State{"v": float64(2)})).To(Succeed())

		loaded, err := store.Load(ctx, "C")
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded).To(HaveKeyWithValue("v", float64(2)))
		Expect(loaded).To(HaveLen(1))
	})

	It("reports a missing snapshot as ErrNotFound", func() {
		_, err := store.Load(ctx, "Never")
		Expect(err).To(MatchError(persistence.ErrNotFound))
	})

	It("rejects controller names with path separators", func() {
		Expect(store.Save(ctx, "../escape", container.State{})).ToNot(Succeed())
		Expect(store.Save(ctx, `a\b`, container.State{})).ToNot(Succeed())
		Expect(store.Save(ctx, "", container.State{})).ToNot(Succeed())
	})

	It("deletes snapshots idempotently", func() {
		Expect(store.Save(ctx, "C", container.State{})).To(Succeed())
		Expect(store.Delete(ctx, "C")).To(Succeed())
		Expect(store.Delete(ctx, "C")).To(Succeed())
		Expect(filepath.Join(dir, "C.json")).ToNot(BeAnExistingFile())
	})

	It("fails to decode corrupted snapshots with a diagnostic error", func() {
		Expect(os.WriteFile(filepath.Join(dir, "Broken.json"), []byte("{not json"), 0o600)).To(Succeed())

		_, err := store.Load(ctx, "Broken")
		Expect(err).To(MatchError(ContainSubstring("Broken")))
	})
})
