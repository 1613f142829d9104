package zstore

import (
	"bytes"
	"log"
	"os"
	"sync"
)

// Logger is the minimal logging surface consumed by the read path.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type stdLogger struct{ l *log.Logger }

func (s stdLogger) Infof(format string, args ...interface{})  { s.l.Printf("INFO "+format, args...) }
func (s stdLogger) Errorf(format string, args ...interface{}) { s.l.Printf("ERROR "+format, args...) }

// ReadErrorHandler decides whether a failed read should be retried.
// It receives the error and the number of attempts made so far.
type ReadErrorHandler func(err error, attempts int) bool

// Options define table reader specific options.
type Options struct {
	// BufferSize is the size threshold in bytes above which block reads
	// bypass the shared buffer pool and allocate exactly.
	// Default: 64KiB.
	BufferSize int

	// FilterPolicy is consulted before data blocks are read on point
	// lookups. It must match the policy the table was written with.
	// Default: nil (filters disabled).
	FilterPolicy FilterPolicy

	// Comparer orders keys. It must match the order the table was
	// written in.
	// Default: bytewise.
	Comparer Compare

	// BlockCache holds decoded index and data blocks.
	// Default: a process-wide cache of 8MiB.
	BlockCache *BlockCache

	// TableCache holds open tables, keyed by path.
	// Default: a process-wide cache of 128 entries.
	TableCache *TableCache

	// ReadErrorHandler is consulted on transient read failures.
	// Default: nil (no retries).
	ReadErrorHandler ReadErrorHandler

	// Logger receives diagnostics about retried reads and corrupt
	// blocks. Default: stdlib log to stderr.
	Logger Logger
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.BufferSize < 1 {
		oo.BufferSize = 1 << 16
	}
	if oo.Comparer == nil {
		oo.Comparer = bytes.Compare
	}
	if oo.BlockCache == nil {
		oo.BlockCache = defaultBlockCache()
	}
	if oo.TableCache == nil {
		oo.TableCache = defaultTableCache()
	}
	if oo.Logger == nil {
		oo.Logger = defaultLogger()
	}
	return &oo
}

// WriterOptions define writer specific options.
type WriterOptions struct {
	// BlockSize is the target uncompressed size in bytes of each table
	// block. A block is finished before an append would take it past
	// this size; a block holding a single larger entry can exceed it.
	// Default: 4KiB.
	BlockSize int

	// BlockRestartInterval is the number of keys between restart points
	// for prefix compression of keys.
	// Default: 16.
	BlockRestartInterval int

	// The compression codec to use.
	// Default: SnappyCompression.
	Compression Compression

	// FilterPolicy builds the filter block.
	// Default: nil (no filter block).
	FilterPolicy FilterPolicy

	// Comparer orders keys. Readers must use the same order.
	// Default: bytewise.
	Comparer Compare
}

func (o *WriterOptions) norm() *WriterOptions {
	var oo WriterOptions
	if o != nil {
		oo = *o
	}

	if oo.BlockSize < 1 {
		oo.BlockSize = 1 << 12
	}
	if oo.BlockRestartInterval < 1 {
		oo.BlockRestartInterval = 16
	}
	if !oo.Compression.isValid() {
		oo.Compression = SnappyCompression
	}
	if oo.Comparer == nil {
		oo.Comparer = bytes.Compare
	}
	return &oo
}

// --------------------------------------------------------------------

var (
	defaultOnce   sync.Once
	defBlockCache *BlockCache
	defTableCache *TableCache
	defLogger     Logger
)

func initDefaults() {
	defaultOnce.Do(func() {
		defBlockCache = NewBlockCache(8 << 20)
		defTableCache = NewTableCache(128)
		defLogger = stdLogger{l: log.New(os.Stderr, "zstore ", log.LstdFlags)}
	})
}

func defaultBlockCache() *BlockCache { initDefaults(); return defBlockCache }
func defaultTableCache() *TableCache { initDefaults(); return defTableCache }
func defaultLogger() Logger          { initDefaults(); return defLogger }
