package stage

import "github.com/grailbio/base/errors"

// HashKind selects which checksum primitive the startup RAM self-test uses
// to stamp and verify the pattern written into every buffer. The three
// options are interchangeable; none is faster-or-better enough in every
// situation to drop the other two, so the choice is left to the caller.
type HashKind int

const (
	// HashFarm uses github.com/dgryski/go-farm.
	HashFarm HashKind = iota
	// HashSeahash uses blainsmith.com/go/seahash.
	HashSeahash
	// HashHighway uses github.com/minio/highwayhash.
	HashHighway
)

// DefaultDepth is the default pipeline ring depth, matching the small
// constant the original design assumes (enough to keep every disk busy
// without racing arbitrarily far past the slowest).
const DefaultDepth = 8

// Config collects the parameters needed to build a Pipeline.
type Config struct {
	// Depth is the number of stripe slots in the ring, D in spec.md. Must
	// be >= 2: a ring of depth 1 could never have a slot to schedule ahead
	// of the one the caller is consuming.
	Depth int

	// BlockSize is the size, in bytes, of every per-reader buffer.
	BlockSize int

	// BufferWidth is the number of buffer slots reserved per ring slot. It
	// defaults to dataCount + 2*parityCount (data buffers, computed-parity
	// workspace, read-parity buffers) when zero, matching the layout the
	// original design's buffer_skew math assumes: a parity worker's buffer
	// always sits at dataCount+parityCount+localIndex, i.e. past a
	// workspace region exactly parityCount buffers wide. A caller may set
	// BufferWidth explicitly to reserve extra scratch space beyond that
	// workspace, but it must be at least dataCount+2*parityCount --
	// anything narrower would leave no room for that fixed workspace and
	// the read-parity buffers it precedes.
	BufferWidth int

	// SkipSelfTest disables the startup pattern self-test that detects bad
	// RAM in the buffer pool. Mirrors opt.skip_self in the original design.
	SkipSelfTest bool

	// SelfTestHash selects the checksum primitive for the self-test.
	SelfTestHash HashKind
}

// DefaultConfig is a reasonable starting point for production use: a depth
// of 8 stripes, no self-test skip, and the farm hash for verification.
var DefaultConfig = Config{
	Depth:        DefaultDepth,
	SelfTestHash: HashFarm,
}

func (c Config) validate(dataCount, parityCount int) error {
	if c.Depth < 2 {
		return errors.E("stage: Config.Depth must be >= 2, got", c.Depth)
	}
	if c.BlockSize <= 0 {
		return errors.E("stage: Config.BlockSize must be > 0, got", c.BlockSize)
	}
	if dataCount <= 0 {
		return errors.E("stage: at least one data disk is required")
	}
	if parityCount <= 0 {
		return errors.E("stage: at least one parity disk is required")
	}
	width := c.BufferWidth
	if width != 0 && width < dataCount+2*parityCount {
		return errors.E("stage: Config.BufferWidth", width, "too small for", dataCount+2*parityCount,
			"(", dataCount, "data +", parityCount, "workspace +", parityCount, "parity )")
	}
	return nil
}

func (c Config) bufferWidth(dataCount, parityCount int) int {
	if c.BufferWidth != 0 {
		return c.BufferWidth
	}
	return dataCount + 2*parityCount
}
