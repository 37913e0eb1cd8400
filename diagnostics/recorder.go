// Package diagnostics is an optional observability sidecar for a running
// stage.Pipeline: it accumulates one StripeTrace per stripe and can flush
// them, ordered by block position, to a compressed trace file for later
// inspection. A pipeline never needs this package to function; it exists
// for the same reason markduplicates.Metrics exists alongside mark-duplicate
// processing -- to report what happened, not to drive it.
package diagnostics

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"

	"github.com/biogo/store/llrb"
	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"

	"github.com/blockarray/pario/pariopb"
	"github.com/blockarray/pario/stage"
)

// Compressor selects how Recorder compresses a flushed trace file.
type Compressor int

const (
	// CompressNone writes the concatenated, length-prefixed traces as-is.
	CompressNone Compressor = iota
	// CompressGzip uses klauspost/compress/gzip, the same compressor the
	// teacher's FASTA/BAM readers use for their own inputs.
	CompressGzip
	// CompressSnappy trades ratio for speed, matching the
	// NoCompressTmpFiles-vs-snappy choice cmd/bio-bam-sort/sorter makes for
	// its own intermediate files.
	CompressSnappy
)

type traceItem struct {
	trace *pariopb.StripeTrace
}

// Compare orders traceItems by stripe position, for the llrb.Tree Flush
// walks in order.
func (t *traceItem) Compare(o llrb.Comparable) int {
	other := o.(*traceItem)
	switch {
	case t.trace.Position < other.trace.Position:
		return -1
	case t.trace.Position > other.trace.Position:
		return 1
	default:
		return 0
	}
}

// Recorder accumulates a StripeTrace per stripe under a single mutex, then
// serializes them in block-position order on Flush.
type Recorder struct {
	mu         sync.Mutex
	compressor Compressor
	traces     llrb.Tree
}

// NewRecorder creates an empty Recorder.
func NewRecorder(compressor Compressor) *Recorder {
	return &Recorder{compressor: compressor}
}

// Observe builds a StripeTrace from one stripe's per-reader checksums (data
// range then parity range, worker-table order) and the number of readers
// that reported a timestamp mismatch, and records it.
func (r *Recorder) Observe(pos stage.BlockPosition, dataChecksums, parityChecksums []uint64, timestampMismatches int) {
	trace := &pariopb.StripeTrace{
		Position:               uint64(pos),
		DataCount:              uint32(len(dataChecksums)),
		ParityCount:            uint32(len(parityChecksums)),
		Checksums:              append(append([]uint64{}, dataChecksums...), parityChecksums...),
		TimestampMismatchCount: uint32(timestampMismatches),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces.Insert(&traceItem{trace: trace})
}

// Len reports how many stripes have been recorded.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.traces.Len()
}

// Flush serializes every recorded trace, in increasing block-position
// order, as length-prefixed pariopb.StripeTrace messages, compresses the
// result per the configured Compressor, and writes it to path.
func (r *Recorder) Flush(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var raw bytes.Buffer
	var encodeErr error
	r.traces.Do(func(item llrb.Comparable) bool {
		msg, err := pariopb.Encode(item.(*traceItem).trace)
		if err != nil {
			encodeErr = errors.E(err, "diagnostics: encode trace")
			return true
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(msg)))
		raw.Write(lenBuf[:])
		raw.Write(msg)
		return false
	})
	if encodeErr != nil {
		return encodeErr
	}

	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "diagnostics: create", path)
	}
	defer out.Close(ctx) // nolint: errcheck

	w := out.Writer(ctx)
	switch r.compressor {
	case CompressGzip:
		gw := gzip.NewWriter(w)
		if _, err := gw.Write(raw.Bytes()); err != nil {
			return errors.E(err, "diagnostics: gzip write")
		}
		if err := gw.Close(); err != nil {
			return errors.E(err, "diagnostics: gzip close")
		}
	case CompressSnappy:
		compressed := snappy.Encode(nil, raw.Bytes())
		if _, err := w.Write(compressed); err != nil {
			return errors.E(err, "diagnostics: snappy write")
		}
	default:
		if _, err := w.Write(raw.Bytes()); err != nil {
			return errors.E(err, "diagnostics: write")
		}
	}
	return nil
}
