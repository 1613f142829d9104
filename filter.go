package zstore

import (
	"encoding/binary"

	"github.com/golang/leveldb/bloom"
	"github.com/pkg/errors"
)

// FilterPolicy builds and queries the per-table filter payload. The
// filter is advisory: MayContain may return false positives, but never
// false negatives for keys that were passed to AppendFilter.
type FilterPolicy interface {
	// Name identifies the policy. It is stored in the metaindex block,
	// so changing it invalidates the filters of existing tables.
	Name() string
	// AppendFilter appends a filter covering keys to dst.
	AppendFilter(dst []byte, keys [][]byte) []byte
	// MayContain reports whether the filter may contain key.
	MayContain(filter, key []byte) bool
}

// BloomFilter returns a bloom-filter policy with the given number of
// bits per key. 10 bits yield a ~1% false-positive rate.
func BloomFilter(bitsPerKey int) FilterPolicy {
	return bloom.FilterPolicy(bitsPerKey)
}

// Filters are generated per 2KiB range of data-block offsets.
const filterBaseLg = 11

// filterBlockReader answers approximate membership queries against the
// filter block of a single table.
type filterBlockReader struct {
	policy  FilterPolicy
	data    []byte
	offsets int // offset of the filter-offset array
	num     int
	baseLg  uint
}

func newFilterBlockReader(policy FilterPolicy, data []byte) (*filterBlockReader, error) {
	if len(data) < 5 {
		return nil, errors.Wrap(ErrCorrupt, "filter block too short")
	}
	offsets := int(binary.LittleEndian.Uint32(data[len(data)-5:]))
	if offsets > len(data)-5 {
		return nil, errors.Wrap(ErrCorrupt, "bad filter offset array")
	}
	return &filterBlockReader{
		policy:  policy,
		data:    data,
		offsets: offsets,
		num:     (len(data) - 5 - offsets) / 4,
		baseLg:  uint(data[len(data)-1]),
	}, nil
}

// mayContain reports whether the data block starting at blockOffset may
// contain key. Out-of-range block offsets err on the side of a match.
func (r *filterBlockReader) mayContain(blockOffset uint64, key []byte) bool {
	i := int(blockOffset >> r.baseLg)
	if i >= r.num {
		return true
	}
	lo := int(binary.LittleEndian.Uint32(r.data[r.offsets+4*i:]))
	hi := int(binary.LittleEndian.Uint32(r.data[r.offsets+4*i+4:]))
	if lo == hi {
		return false // no keys in this range
	}
	if lo > hi || hi > r.offsets {
		return true
	}
	return r.policy.MayContain(r.data[lo:hi], key)
}

// filterWriter accumulates keys and emits the filter block body. Keys
// are stored flat with a start-offset directory so that appends never
// invalidate previously added keys.
type filterWriter struct {
	policy  FilterPolicy
	flat    []byte
	starts  []int
	offsets []uint32
	data    []byte
}

func newFilterWriter(policy FilterPolicy) *filterWriter {
	return &filterWriter{policy: policy}
}

func (w *filterWriter) addKey(key []byte) {
	w.starts = append(w.starts, len(w.flat))
	w.flat = append(w.flat, key...)
}

// startBlock must be called with the file offset of every new data
// block; it cuts filters for all 2KiB ranges before it.
func (w *filterWriter) startBlock(blockOffset uint64) {
	for idx := int(blockOffset >> filterBaseLg); len(w.offsets) < idx; {
		w.generate()
	}
}

func (w *filterWriter) generate() {
	w.offsets = append(w.offsets, uint32(len(w.data)))
	if len(w.starts) != 0 {
		keys := make([][]byte, len(w.starts))
		bounds := append(w.starts, len(w.flat))
		for i := range keys {
			keys[i] = w.flat[bounds[i]:bounds[i+1]]
		}
		w.data = w.policy.AppendFilter(w.data, keys)
		w.starts = w.starts[:0]
		w.flat = w.flat[:0]
	}
}

func (w *filterWriter) finish() []byte {
	if len(w.starts) != 0 {
		w.generate()
	}
	arrayOffset := uint32(len(w.data))
	var tmp [4]byte
	for _, off := range w.offsets {
		binary.LittleEndian.PutUint32(tmp[:], off)
		w.data = append(w.data, tmp[:4]...)
	}
	binary.LittleEndian.PutUint32(tmp[:], arrayOffset)
	w.data = append(w.data, tmp[:4]...)
	w.data = append(w.data, filterBaseLg)
	return w.data
}
