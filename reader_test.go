package zstore_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bsm/zstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("SSTable", func() {
	var subject *zstore.SSTable
	var opts *zstore.Options
	var ctx = context.Background()

	BeforeEach(func() {
		var err error
		opts = testOptions()
		subject, err = seedReader(100, opts)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = subject.Close()
	})

	It("should init", func() {
		Expect(subject.NumBlocks()).To(BeNumerically(">", 1))
		Expect(subject.Size()).To(BeNumerically(">", 0))
	})

	It("should Get/Append", func() {
		for i := 0; i < 100; i++ {
			key := []byte(fmt.Sprintf("key-%05d", i*2))
			val := fmt.Sprintf("val-%05d", i*2)
			Expect(subject.Get(ctx, key)).To(BeEquivalentTo(val), "for %s", key)
		}

		_, err := subject.Get(ctx, []byte("key-00001"))
		Expect(err).To(MatchError(zstore.ErrNotFound))
		_, err = subject.Get(ctx, []byte("key-00199"))
		Expect(err).To(MatchError(zstore.ErrNotFound))
		_, err = subject.Get(ctx, []byte("zzz"))
		Expect(err).To(MatchError(zstore.ErrNotFound))
	})

	It("should append to dst", func() {
		dst, err := subject.Append(ctx, []byte("prefix:"), []byte("key-00004"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(dst)).To(Equal("prefix:val-00004"))
	})

	It("should fail to open on truncated footers", func() {
		raw := bytes.Repeat([]byte{0}, 47)
		_, err := zstore.OpenReaderAt(ctx, bytes.NewReader(raw), int64(len(raw)), testOptions())
		Expect(err).To(MatchError(zstore.ErrCorrupt))
	})

	It("should fail to open on bad magic", func() {
		raw := bytes.Repeat([]byte{0}, 128)
		_, err := zstore.OpenReaderAt(ctx, bytes.NewReader(raw), int64(len(raw)), testOptions())
		Expect(err).To(MatchError(zstore.ErrCorrupt))
	})

	It("should populate the block cache", func() {
		before := opts.BlockCache.Len()
		Expect(before).To(BeNumerically(">=", 1)) // the index block

		_, err := subject.Get(ctx, []byte("key-00000"))
		Expect(err).NotTo(HaveOccurred())
		Expect(opts.BlockCache.Len()).To(Equal(before + 1))

		// a re-read hits the cache
		stats := opts.BlockCache.Stats()
		_, err = subject.Get(ctx, []byte("key-00000"))
		Expect(err).NotTo(HaveOccurred())
		Expect(opts.BlockCache.Stats().Hits).To(BeNumerically(">", stats.Hits))
		Expect(opts.BlockCache.Len()).To(Equal(before + 1))
	})

	Describe("with filter policy", func() {
		BeforeEach(func() {
			buf := new(bytes.Buffer)
			Expect(seedTableWith(buf, 100, &zstore.WriterOptions{
				BlockSize:    256,
				Compression:  zstore.NoCompression,
				FilterPolicy: zstore.BloomFilter(10),
			})).To(Succeed())

			opts = testOptions()
			opts.FilterPolicy = zstore.BloomFilter(10)

			var err error
			subject, err = zstore.OpenReaderAt(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len()), opts)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should Get", func() {
			for i := 0; i < 100; i++ {
				key := []byte(fmt.Sprintf("key-%05d", i*2))
				val := fmt.Sprintf("val-%05d", i*2)
				Expect(subject.Get(ctx, key)).To(BeEquivalentTo(val), "for %s", key)
			}

			_, err := subject.Get(ctx, []byte("key-00003"))
			Expect(err).To(MatchError(zstore.ErrNotFound))
		})

		It("should tolerate tables without a filter block", func() {
			// table written without a filter, opened with a policy
			plain, err := seedReader(10, opts)
			Expect(err).NotTo(HaveOccurred())
			defer plain.Close()

			Expect(plain.Get(ctx, []byte("key-00004"))).To(BeEquivalentTo("val-00004"))
		})
	})

	Describe("Cursor", func() {
		It("should iterate in order", func() {
			cur := subject.Cursor()
			defer cur.Close()

			Expect(cur.First(ctx)).To(Succeed())

			var prev []byte
			count := 0
			for cur.Valid() {
				if prev != nil {
					Expect(bytes.Compare(prev, cur.Key())).To(BeNumerically("<", 0))
				}
				prev = append(prev[:0], cur.Key()...)
				count++
				Expect(cur.Next(ctx)).To(Succeed())
			}
			Expect(count).To(Equal(100))
			Expect(string(prev)).To(Equal("key-00198"))
		})

		It("should seek", func() {
			cur := subject.Cursor()
			defer cur.Close()

			Expect(cur.Seek(ctx, []byte("key-00100"))).To(Succeed())
			Expect(cur.Valid()).To(BeTrue())
			Expect(string(cur.Key())).To(Equal("key-00100"))
			Expect(string(cur.Value())).To(Equal("val-00100"))

			Expect(cur.Seek(ctx, []byte("key-00101"))).To(Succeed())
			Expect(cur.Valid()).To(BeTrue())
			Expect(string(cur.Key())).To(Equal("key-00102"))

			Expect(cur.Seek(ctx, []byte("key-00000"))).To(Succeed())
			Expect(cur.Valid()).To(BeTrue())
			Expect(string(cur.Key())).To(Equal("key-00000"))
		})

		It("should exhaust on seeks past the end", func() {
			cur := subject.Cursor()
			defer cur.Close()

			Expect(cur.Seek(ctx, []byte("zzz"))).To(Succeed())
			Expect(cur.Valid()).To(BeFalse())

			Expect(cur.Next(ctx)).To(Succeed())
			Expect(cur.Valid()).To(BeFalse())
		})

		It("should seek to last", func() {
			cur := subject.Cursor()
			defer cur.Close()

			Expect(cur.Last(ctx)).To(Succeed())
			Expect(cur.Valid()).To(BeTrue())
			Expect(string(cur.Key())).To(Equal("key-00198"))
		})

		It("should err after close", func() {
			cur := subject.Cursor()
			Expect(cur.Close()).To(Succeed())
			Expect(cur.First(ctx)).To(MatchError("zstore: cursor was released"))
		})
	})

	Describe("table cache", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "zstore-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(dir)
		})

		seedFile := func(name string, sz int) string {
			path := filepath.Join(dir, name)
			buf := new(bytes.Buffer)
			Expect(seedTable(buf, sz)).To(Succeed())
			Expect(os.WriteFile(path, buf.Bytes(), 0o644)).To(Succeed())
			return path
		}

		It("should share open tables", func() {
			path := seedFile("000001.zst", 10)

			t1, err := zstore.Open(ctx, path, opts)
			Expect(err).NotTo(HaveOccurred())
			t2, err := zstore.Open(ctx, path, opts)
			Expect(err).NotTo(HaveOccurred())

			Expect(t1).To(BeIdenticalTo(t2))
			Expect(opts.TableCache.Len()).To(Equal(1))
			Expect(opts.TableCache.Stats().Hits).To(BeNumerically(">=", 1))

			Expect(t1.Close()).To(Succeed())
			Expect(t2.Close()).To(Succeed())
		})

		It("should not cache failed opens", func() {
			path := filepath.Join(dir, "missing.zst")
			_, err := zstore.Open(ctx, path, opts)
			Expect(err).To(HaveOccurred())
			Expect(opts.TableCache.Len()).To(Equal(0))
		})

		It("should keep evicted tables alive for open cursors", func() {
			path := seedFile("000001.zst", 10)

			table, err := zstore.Open(ctx, path, opts)
			Expect(err).NotTo(HaveOccurred())

			cur := table.Cursor()
			Expect(table.Close()).To(Succeed())
			opts.TableCache.Evict(path)
			Expect(opts.TableCache.Len()).To(Equal(0))

			Expect(cur.First(ctx)).To(Succeed())
			Expect(cur.Valid()).To(BeTrue())
			Expect(string(cur.Key())).To(Equal("key-00000"))
			Expect(cur.Close()).To(Succeed())
		})
	})
})
