package zstore

import (
	"bytes"
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// buildBlock assembles a block body from ordered key/value pairs.
func buildBlock(interval int, pairs ...[2]string) (*block, error) {
	bld := blockBuilder{interval: interval}
	for _, kv := range pairs {
		bld.append([]byte(kv[0]), []byte(kv[1]))
	}
	return newBlock(bld.finish(), bytes.Compare)
}

var _ = Describe("block", func() {
	It("should reject short bodies", func() {
		_, err := newBlock([]byte{1, 0}, bytes.Compare)
		Expect(err).To(MatchError(ErrCorrupt))
	})

	It("should reject bad restart counts", func() {
		_, err := newBlock([]byte{0, 0, 0, 0}, bytes.Compare)
		Expect(err).To(MatchError(ErrCorrupt))

		_, err = newBlock([]byte{9, 0, 0, 0}, bytes.Compare)
		Expect(err).To(MatchError(ErrCorrupt))
	})

	It("should reject out-of-range restart offsets", func() {
		// one restart pointing past the (empty) entry area
		_, err := newBlock([]byte{5, 0, 0, 0, 1, 0, 0, 0}, bytes.Compare)
		Expect(err).To(MatchError(ErrCorrupt))
	})
})

var _ = Describe("blockCursor", func() {
	Describe("empty block", func() {
		It("should stay invalid", func() {
			b, err := buildBlock(16)
			Expect(err).NotTo(HaveOccurred())

			c := newBlockCursor(b)
			c.First()
			Expect(c.Valid()).To(BeFalse())
			Expect(c.Err()).NotTo(HaveOccurred())

			c.Seek([]byte("a"))
			Expect(c.Valid()).To(BeFalse())
		})
	})

	Describe("single entry", func() {
		var c *blockCursor

		BeforeEach(func() {
			b, err := buildBlock(16, [2]string{"a", "1"})
			Expect(err).NotTo(HaveOccurred())
			c = newBlockCursor(b)
		})

		It("should find the entry", func() {
			c.Seek([]byte("a"))
			Expect(c.Valid()).To(BeTrue())
			Expect(string(c.Key())).To(Equal("a"))
			Expect(string(c.Value())).To(Equal("1"))
		})

		It("should exhaust past the entry", func() {
			c.Seek([]byte("b"))
			Expect(c.Valid()).To(BeFalse())

			c.First()
			Expect(c.Valid()).To(BeTrue())
			c.Next()
			Expect(c.Valid()).To(BeFalse())
		})
	})

	Describe("multiple entries", func() {
		var pairs [][2]string
		var c *blockCursor

		// 50 keys across multiple restart points, with long shared
		// prefixes to exercise key reconstruction
		BeforeEach(func() {
			pairs = pairs[:0]
			for i := 0; i < 50; i++ {
				pairs = append(pairs, [2]string{
					fmt.Sprintf("key-%05d", i*2),
					fmt.Sprintf("val-%05d", i*2),
				})
			}

			b, err := buildBlock(4, pairs...)
			Expect(err).NotTo(HaveOccurred())
			c = newBlockCursor(b)
		})

		It("should reconstruct all keys in order", func() {
			c.First()
			for _, kv := range pairs {
				Expect(c.Valid()).To(BeTrue())
				Expect(string(c.Key())).To(Equal(kv[0]))
				Expect(string(c.Value())).To(Equal(kv[1]))
				c.Next()
			}
			Expect(c.Valid()).To(BeFalse())
			Expect(c.Err()).NotTo(HaveOccurred())
		})

		It("should seek to last", func() {
			c.Last()
			Expect(c.Valid()).To(BeTrue())
			Expect(string(c.Key())).To(Equal("key-00098"))
		})

		It("should seek exact and between keys", func() {
			c.Seek([]byte("key-00048"))
			Expect(c.Valid()).To(BeTrue())
			Expect(string(c.Key())).To(Equal("key-00048"))

			c.Seek([]byte("key-00049"))
			Expect(c.Valid()).To(BeTrue())
			Expect(string(c.Key())).To(Equal("key-00050"))

			c.Seek([]byte(""))
			Expect(c.Valid()).To(BeTrue())
			Expect(string(c.Key())).To(Equal("key-00000"))

			c.Seek([]byte("key-00099"))
			Expect(c.Valid()).To(BeFalse())
		})

		It("should resume iteration after a seek", func() {
			c.Seek([]byte("key-00090"))
			var got []string
			for c.Valid() {
				got = append(got, string(c.Key()))
				c.Next()
			}
			Expect(got).To(Equal([]string{"key-00090", "key-00092", "key-00094", "key-00096", "key-00098"}))
		})
	})

	Describe("corruption", func() {
		It("should latch an error on bad entries", func() {
			// entry header declares a value that exceeds the block
			body := []byte{
				0, 1, 100, 'a', // shared=0, nonShared=1, valueLen=100, key "a"
				0, 0, 0, 0, // restart 0
				1, 0, 0, 0, // numRestarts
			}
			b, err := newBlock(body, bytes.Compare)
			Expect(err).NotTo(HaveOccurred())

			c := newBlockCursor(b)
			c.First()
			Expect(c.Valid()).To(BeFalse())
			Expect(c.Err()).To(MatchError(ErrCorrupt))
		})
	})
})
