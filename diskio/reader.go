package diskio

import (
	"github.com/dgryski/go-farm"
	"github.com/pkg/errors"

	"github.com/blockarray/pario/stage"
)

// Reader closes a fixed block size over a pair of stage.ReaderFunc values
// good enough to drive a real pipeline end to end: read blockSize bytes at
// Task.Position*blockSize from whichever *Handle the worker is bound to.
type Reader struct {
	blockSize int64
}

// NewReader builds a Reader for the given block size.
func NewReader(blockSize int) *Reader {
	return &Reader{blockSize: int64(blockSize)}
}

// ReadData implements the data-disk half of the stage.ReaderFunc contract.
func (r *Reader) ReadData(w *stage.Worker, t *stage.Task) {
	h, ok := w.Disk.(*Handle)
	if !ok {
		t.Result = &Result{Err: errors.Errorf("diskio: worker %d has no *Handle bound", w.Index())}
		return
	}
	r.read(h, t)
}

// ReadParity implements the parity-disk half of the stage.ReaderFunc
// contract.
func (r *Reader) ReadParity(w *stage.Worker, t *stage.Task) {
	h, ok := w.Parity.(*Handle)
	if !ok {
		t.Result = &Result{Err: errors.Errorf("diskio: parity worker %d has no *Handle bound", w.Index())}
		return
	}
	r.read(h, t)
}

func (r *Reader) read(h *Handle, t *stage.Task) {
	offset := int64(t.Position) * r.blockSize
	n, err := h.readAt(t.Buffer, offset)
	res := &Result{
		FileRef:    h.Path,
		FileOffset: offset,
		ReadSize:   n,
	}
	if err != nil {
		res.Err = errors.Wrapf(err, "diskio: read %s at %d", h.Path, offset)
	} else {
		res.Checksum = farm.Hash64(t.Buffer[:n])
	}
	t.Result = res
}
