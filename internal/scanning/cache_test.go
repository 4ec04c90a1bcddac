package scanning

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltCache", func() {
	var (
		tempDir string
		cache   *BoltCache
		err     error
	)

	BeforeEach(func() {
		tempDir, err = os.MkdirTemp("", "splitscan-cache-test-*")
		Expect(err).NotTo(HaveOccurred())

		cache, err = NewBoltCache(filepath.Join(tempDir, "cache.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cache.Close()
		os.RemoveAll(tempDir)
	})

	When("an image has not been scanned before", func() {
		It("should report a miss", func() {
			items, ok, getErr := cache.Get([]byte("some image"))
			Expect(getErr).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(items).To(BeNil())
		})
	})

	When("an extraction result is stored", func() {
		var stored []RawItem

		BeforeEach(func() {
			stored = []RawItem{
				{Name: "Pizza", Price: 12.0},
				{Name: "Soda", Price: 3.0},
			}
			Expect(cache.Put([]byte("some image"), stored)).To(Succeed())
		})

		It("should return it for the same image bytes", func() {
			items, ok, getErr := cache.Get([]byte("some image"))
			Expect(getErr).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(items).To(Equal(stored))
		})

		It("should miss for different image bytes", func() {
			_, ok, getErr := cache.Get([]byte("another image"))
			Expect(getErr).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	When("an empty extraction result is stored", func() {
		BeforeEach(func() {
			Expect(cache.Put([]byte("blurry image"), []RawItem{})).To(Succeed())
		})

		It("should hit with an empty result", func() {
			items, ok, getErr := cache.Get([]byte("blurry image"))
			Expect(getErr).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(items).To(BeEmpty())
		})
	})
})
