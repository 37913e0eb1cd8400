package diskio

// Result is the concrete shape the demo readers give to Task.Result. A
// production caller injecting its own reader callbacks is free to use a
// different type entirely -- stage.Pipeline never interprets Task.Result.
type Result struct {
	// Err is set if the read failed; the pipeline does not retry, so a
	// non-nil Err here is purely informational for whatever consumes
	// DataRead/ParityRead.
	Err error

	// FileRef is the path the block was read from.
	FileRef string

	// FileOffset is the byte offset within FileRef the read started at.
	FileOffset int64

	// ReadSize is the number of bytes actually read.
	ReadSize int

	// TimestampMismatch flags that the underlying file's modification time
	// didn't match what the caller expected when the handle was opened.
	// The demo readers never set this; it exists so a production reader
	// callback that tracks expected mtimes has somewhere to report it
	// without widening the Task type.
	TimestampMismatch bool

	// Checksum is a fast, non-cryptographic fingerprint of the bytes read,
	// useful for diagnostics (see the diagnostics package) and spotting
	// identical blocks across stripes without re-reading them.
	Checksum uint64
}
