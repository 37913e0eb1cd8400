package stage_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/grailbio/testutil/assert"

	"github.com/blockarray/pario/stage"
)

// memDisk is a reader callback target: it just stamps its disk index and the
// requested position into the task's buffer, with no real I/O, so tests can
// run deterministically and without a filesystem.
type memDisk struct {
	index int
}

func countingReader(calls *int32) stage.ReaderFunc {
	return func(w *stage.Worker, t *stage.Task) {
		atomic.AddInt32(calls, 1)
		if len(t.Buffer) > 0 {
			t.Buffer[0] = byte(w.Index())
		}
		t.Result = int(t.Position)
	}
}

func newTestPipeline(t *testing.T, dataCount, parityCount, depth int) *stage.Pipeline {
	dataHandles := make([]interface{}, dataCount)
	for i := range dataHandles {
		dataHandles[i] = &memDisk{index: i}
	}
	parityHandles := make([]interface{}, parityCount)
	for i := range parityHandles {
		parityHandles[i] = &memDisk{index: i}
	}
	var calls int32
	cfg := stage.DefaultConfig
	cfg.Depth = depth
	cfg.BlockSize = 64
	cfg.SkipSelfTest = true
	p, err := stage.New(cfg, countingReader(&calls), dataHandles, countingReader(&calls), parityHandles)
	assert.NoError(t, err)
	return p
}

// TestOrderedDelivery covers S1: stripes must be handed back by ReadNext in
// strictly increasing block-position order, regardless of how fast any one
// disk's reader runs.
func TestOrderedDelivery(t *testing.T) {
	p := newTestPipeline(t, 3, 1, 4)
	p.Start(0, 20, func(interface{}, stage.BlockPosition) bool { return true }, nil)
	defer p.Close()
	defer p.Stop()

	var last stage.BlockPosition
	first := true
	for i := 0; i < 20; i++ {
		pos, bufs := p.ReadNext()
		assert.EQ(t, p.DataCount()+2*p.ParityCount(), len(bufs))
		if !first {
			assert.True(t, pos > last, "stripe position must increase")
		}
		first = false
		last = pos

		for j := 0; j < p.DataCount(); j++ {
			_, _, err := p.DataRead()
			assert.NoError(t, err)
		}
		for j := 0; j < p.ParityCount(); j++ {
			_, _, err := p.ParityRead()
			assert.NoError(t, err)
		}
	}
}

// TestEveryWorkerReportsOnce covers S2: DataRead/ParityRead deliver each
// worker's completion for a stripe exactly once before ReadNext may be
// called again.
func TestEveryWorkerReportsOnce(t *testing.T) {
	p := newTestPipeline(t, 2, 2, 3)
	p.Start(0, 5, func(interface{}, stage.BlockPosition) bool { return true }, nil)
	defer p.Close()
	defer p.Stop()

	for i := 0; i < 5; i++ {
		p.ReadNext()

		seen := make(map[int]bool)
		for j := 0; j < p.DataCount(); j++ {
			_, idx, err := p.DataRead()
			assert.NoError(t, err)
			assert.True(t, !seen[idx], "data worker reported twice in one stripe")
			seen[idx] = true
		}
		assert.EQ(t, p.DataCount(), len(seen))

		seenParity := make(map[int]bool)
		for j := 0; j < p.ParityCount(); j++ {
			_, idx, err := p.ParityRead()
			assert.NoError(t, err)
			assert.True(t, !seenParity[idx], "parity worker reported twice in one stripe")
			seenParity[idx] = true
		}
		assert.EQ(t, p.ParityCount(), len(seenParity))
	}
}

// TestIsEnabledSkipsPositions covers S4: positions the filter rejects are
// never returned by ReadNext.
func TestIsEnabledSkipsPositions(t *testing.T) {
	p := newTestPipeline(t, 2, 1, 4)
	isEnabled := func(_ interface{}, pos stage.BlockPosition) bool {
		return pos%2 == 0
	}
	p.Start(0, 10, isEnabled, nil)
	defer p.Close()
	defer p.Stop()

	for i := 0; i < 5; i++ {
		pos, _ := p.ReadNext()
		assert.EQ(t, stage.BlockPosition(0), pos%2)
		for j := 0; j < p.DataCount(); j++ {
			p.DataRead()
		}
		for j := 0; j < p.ParityCount(); j++ {
			p.ParityRead()
		}
	}
}

// TestStopUnblocksReaders covers S6: a Stop concurrent with a blocked
// DataRead/ParityRead call must wake it with ErrStopped rather than hang.
// The stripe's completions are drained exactly once, then one more call is
// made with no further ReadNext to satisfy it: that call has nothing left
// to observe and must block until Stop.
func TestStopUnblocksReaders(t *testing.T) {
	p := newTestPipeline(t, 2, 1, 4)
	p.Start(0, 1000, func(interface{}, stage.BlockPosition) bool { return true }, nil)
	p.ReadNext()
	for j := 0; j < p.DataCount(); j++ {
		_, _, err := p.DataRead()
		assert.NoError(t, err)
	}
	for j := 0; j < p.ParityCount(); j++ {
		_, _, err := p.ParityRead()
		assert.NoError(t, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var extraErr error
	go func() {
		defer wg.Done()
		_, _, err := p.DataRead()
		extraErr = err
	}()

	p.Stop()
	wg.Wait()
	p.Close()

	assert.EQ(t, stage.ErrStopped, extraErr)
}

// TestDiskIdentity covers the NoDisk convention: data tasks carry their
// disk index, parity tasks always carry NoDisk.
func TestDiskIdentity(t *testing.T) {
	p := newTestPipeline(t, 2, 2, 3)
	p.Start(0, 1, func(interface{}, stage.BlockPosition) bool { return true }, nil)
	defer p.Close()
	defer p.Stop()

	p.ReadNext()
	for j := 0; j < p.DataCount(); j++ {
		task, idx, err := p.DataRead()
		assert.NoError(t, err)
		assert.EQ(t, idx, task.Disk)
	}
	for j := 0; j < p.ParityCount(); j++ {
		task, _, err := p.ParityRead()
		assert.NoError(t, err)
		assert.EQ(t, stage.NoDisk, task.Disk)
	}
}
