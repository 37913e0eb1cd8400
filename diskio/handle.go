// Package diskio provides a reference implementation of the two reader
// callbacks stage.Pipeline expects (one for data disks, one for parity
// disks), plus a disk/parity handle type good enough for the integration
// tests and the pario-scrub command. A production caller is free to ignore
// this package entirely: stage.Pipeline treats Worker.Disk/Worker.Parity and
// Task.Result as opaque.
package diskio

import (
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

// Handle is a disk or parity target addressed by path -- a local file or
// anything github.com/grailbio/base/file understands, including s3:// URLs
// -- opened once and kept open for the life of a pipeline run.
type Handle struct {
	// Path is the handle's path, local or a file.File-supported URL.
	Path string

	f  file.File
	ra io.ReaderAt
}

// Open opens path for random-access block reads.
func Open(ctx context.Context, path string) (*Handle, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "diskio: open %s", path)
	}
	h := &Handle{Path: path, f: f}
	if ra, ok := f.Reader(ctx).(io.ReaderAt); ok {
		h.ra = ra
	}
	return h, nil
}

// Close releases the underlying file.
func (h *Handle) Close(ctx context.Context) error {
	return h.f.Close(ctx)
}

func (h *Handle) readAt(buf []byte, offset int64) (int, error) {
	if h.ra == nil {
		return 0, errors.Errorf("diskio: %s does not support random-access reads", h.Path)
	}
	n, err := h.ra.ReadAt(buf, offset)
	if err == io.EOF {
		err = nil
	}
	return n, err
}
