package stage

import (
	"testing"
	"unsafe"

	"github.com/grailbio/testutil/assert"
	"golang.org/x/sys/unix"
)

func TestAlignedBufferAlignment(t *testing.T) {
	align := unix.Getpagesize()
	for _, size := range []int{1, 17, 4096, 4096 * 3} {
		buf := alignedBuffer(size)
		assert.EQ(t, size, len(buf))
		addr := uintptr(unsafe.Pointer(&buf[0]))
		assert.EQ(t, uintptr(0), addr%uintptr(align))
	}
}

func TestBufferPoolSelfTestAllHashKinds(t *testing.T) {
	for _, kind := range []HashKind{HashFarm, HashSeahash, HashHighway} {
		pool := newBufferPool(2, 3, 128)
		assert.NoError(t, pool.selfTest(kind))
	}
}

func TestBufferPoolVectorWidth(t *testing.T) {
	pool := newBufferPool(4, 5, 64)
	for s := 0; s < 4; s++ {
		assert.EQ(t, 5, len(pool.vector(s)))
		for i := 0; i < 5; i++ {
			assert.EQ(t, 64, len(pool.buffer(s, i)))
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig
	cfg.BlockSize = 4096

	assert.NoError(t, cfg.validate(3, 1))

	bad := cfg
	bad.Depth = 1
	assert.True(t, bad.validate(3, 1) != nil, "depth below 2 must be rejected")

	bad = cfg
	bad.BlockSize = 0
	assert.True(t, bad.validate(3, 1) != nil, "zero block size must be rejected")

	assert.True(t, cfg.validate(0, 1) != nil, "zero data disks must be rejected")
	assert.True(t, cfg.validate(3, 0) != nil, "zero parity disks must be rejected")

	bad = cfg
	bad.BufferWidth = 2
	assert.True(t, bad.validate(3, 1) != nil, "undersized BufferWidth must be rejected")
}

func TestConfigBufferWidthDefault(t *testing.T) {
	cfg := DefaultConfig
	assert.EQ(t, 3+2*2, cfg.bufferWidth(3, 2))

	cfg.BufferWidth = 9
	assert.EQ(t, 9, cfg.bufferWidth(3, 2))
}

// TestScheduleSlotDiskIdentity exercises scheduleSlot directly: data workers
// must carry their own disk index, parity workers must always carry
// NoDisk, and past blockMax a slot's tasks must be marked Empty rather than
// Ready.
func TestScheduleSlotDiskIdentity(t *testing.T) {
	dataHandles := []interface{}{"d0", "d1"}
	parityHandles := []interface{}{"p0"}
	noop := func(*Worker, *Task) {}

	cfg := DefaultConfig
	cfg.BlockSize = 32
	cfg.SkipSelfTest = true
	p, err := New(cfg, noop, dataHandles, noop, parityHandles)
	assert.NoError(t, err)

	p.blockMax = 10
	p.scheduleSlot(0, 5)
	for _, w := range p.workers {
		task := p.slots[0][w.gIndex]
		assert.EQ(t, TaskReady, task.State)
		if w.kind == DataWorker {
			assert.EQ(t, w.localIndex, task.Disk)
		} else {
			assert.EQ(t, NoDisk, task.Disk)
		}
	}

	p.scheduleSlot(0, 10)
	for _, w := range p.workers {
		task := p.slots[0][w.gIndex]
		assert.EQ(t, TaskEmpty, task.State)
	}
}
