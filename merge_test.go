package zstore_test

import (
	"bytes"
	"context"

	"github.com/bsm/zstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("CombinedCursor", func() {
	var ctx = context.Background()

	openWith := func(entries ...[2]string) *zstore.SSTable {
		buf := new(bytes.Buffer)
		twr := zstore.NewWriter(buf, &zstore.WriterOptions{Compression: zstore.NoCompression})
		for _, kv := range entries {
			Expect(twr.Append([]byte(kv[0]), []byte(kv[1]))).To(Succeed())
		}
		Expect(twr.Close()).To(Succeed())

		table, err := zstore.OpenReaderAt(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len()), testOptions())
		Expect(err).NotTo(HaveOccurred())
		return table
	}

	drain := func(cur *zstore.CombinedCursor) []string {
		var keys []string
		for cur.Valid() {
			keys = append(keys, string(cur.Key()))
			Expect(cur.Next(ctx)).To(Succeed())
		}
		return keys
	}

	It("should merge disjoint tables into a sorted stream", func() {
		t1 := openWith([2]string{"a", "1"}, [2]string{"c", "3"}, [2]string{"e", "5"})
		defer t1.Close()
		t2 := openWith([2]string{"b", "2"}, [2]string{"d", "4"}, [2]string{"f", "6"})
		defer t2.Close()

		subject := zstore.NewCombinedCursor(nil, t1.Cursor(), t2.Cursor())
		defer subject.Close()

		Expect(subject.First(ctx)).To(Succeed())
		Expect(drain(subject)).To(Equal([]string{"a", "b", "c", "d", "e", "f"}))
		Expect(subject.Valid()).To(BeFalse())
	})

	It("should seek across tables", func() {
		t1 := openWith([2]string{"a", "1"}, [2]string{"e", "5"})
		defer t1.Close()
		t2 := openWith([2]string{"b", "2"}, [2]string{"f", "6"})
		defer t2.Close()

		subject := zstore.NewCombinedCursor(nil, t1.Cursor(), t2.Cursor())
		defer subject.Close()

		Expect(subject.Seek(ctx, []byte("c"))).To(Succeed())
		Expect(drain(subject)).To(Equal([]string{"e", "f"}))

		Expect(subject.Seek(ctx, []byte("zzz"))).To(Succeed())
		Expect(subject.Valid()).To(BeFalse())
	})

	It("should prefer earlier cursors on equal keys", func() {
		newest := openWith([2]string{"k", "new"})
		defer newest.Close()
		oldest := openWith([2]string{"k", "old"})
		defer oldest.Close()

		subject := zstore.NewCombinedCursor(nil, newest.Cursor(), oldest.Cursor())
		defer subject.Close()

		Expect(subject.First(ctx)).To(Succeed())
		Expect(subject.Valid()).To(BeTrue())
		Expect(string(subject.Value())).To(Equal("new"))

		// the older version surfaces afterwards
		Expect(subject.Next(ctx)).To(Succeed())
		Expect(subject.Valid()).To(BeTrue())
		Expect(string(subject.Value())).To(Equal("old"))

		Expect(subject.Next(ctx)).To(Succeed())
		Expect(subject.Valid()).To(BeFalse())
	})

	It("should handle a single cursor", func() {
		t1 := openWith([2]string{"a", "1"}, [2]string{"b", "2"})
		defer t1.Close()

		subject := zstore.NewCombinedCursor(nil, t1.Cursor())
		defer subject.Close()

		Expect(subject.Last(ctx)).To(Succeed())
		Expect(string(subject.Key())).To(Equal("b"))
	})

	It("should handle no cursors", func() {
		subject := zstore.NewCombinedCursor(nil)
		defer subject.Close()

		Expect(subject.First(ctx)).To(Succeed())
		Expect(subject.Valid()).To(BeFalse())
	})
})
