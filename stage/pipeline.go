package stage

import (
	"runtime"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// ErrStopped is returned by DataRead/ParityRead when the pipeline has been
// asked to shut down while a call was blocked waiting for a completion.
var ErrStopped = errors.New("stage: pipeline stopped")

// IsEnabledFunc reports whether the given block position should be
// scheduled. It is called many times, must be cheap and side-effect free,
// and need not be monotone in either direction: the pipeline simply
// advances past positions it rejects.
type IsEnabledFunc func(arg interface{}, pos BlockPosition) bool

// Pipeline is the read-ahead staging core: a fixed-depth ring of stripe
// slots, a pool of per-disk reader workers, and the mutex-protected
// scheduler state that ties them together.
//
// All state shared with the workers -- slot states, readerIndex, done, and
// every worker's slotIndex -- lives behind a single mutex, per spec.md 9's
// "one coarse lock" note. blockNext and readyList are touched only from the
// caller's side: ReadNext advances blockNext and resets readyList before it
// takes the lock, and DataRead/ParityRead unlink readyList entries under it.
// The reader callbacks are the only
// work done outside that lock, and are the pipeline's sole source of
// parallelism.
type Pipeline struct {
	depth     int
	blockSize int

	dataBase, dataCount     int
	parityBase, parityCount int
	readerMax               int

	pool    *bufferPool
	workers []*Worker
	slots   [][]*Task // [depth][readerMax]*Task

	mu        sync.Mutex
	readDone  *sync.Cond // signalled by workers on completion
	readSched *sync.Cond // broadcast by the caller when the head advances, or on shutdown

	readerIndex int // the slot currently being consumed by the caller
	blockStart  BlockPosition
	blockNext   BlockPosition // the next position to schedule; caller-owned, unguarded
	blockMax    BlockPosition
	isEnabled   IsEnabledFunc
	arg         interface{}

	// readyList is a singly-linked list of not-yet-consumed worker indices
	// for the current stripe, expressed as an array of readerMax+1 small
	// integers: readyList[0] is the head, readyList[i+1] is the worker
	// after worker i, and the sentinel value readerMax terminates the
	// list. This keeps DataRead/ParityRead O(unconsumed) without a
	// heap-allocated queue, per spec.md 9.
	readyList []int

	done bool
}

// New allocates a Pipeline's slots, buffer pool, and workers. It does not
// start reading; call Start for that.
//
// dataReader/parityReader are invoked once per task, on the task's owning
// worker's goroutine, to fill in the task's Buffer and Result.
func New(cfg Config, dataReader ReaderFunc, dataHandles []interface{}, parityReader ReaderFunc, parityHandles []interface{}) (*Pipeline, error) {
	dataCount := len(dataHandles)
	parityCount := len(parityHandles)
	if err := cfg.validate(dataCount, parityCount); err != nil {
		return nil, err
	}
	if dataReader == nil || parityReader == nil {
		return nil, errors.E("stage: dataReader and parityReader must both be set")
	}

	readerMax := dataCount + parityCount
	width := cfg.bufferWidth(dataCount, parityCount)

	pool := newBufferPool(cfg.Depth, width, cfg.BlockSize)
	if !cfg.SkipSelfTest {
		if err := pool.selfTest(cfg.SelfTestHash); err != nil {
			return nil, err
		}
	}

	p := &Pipeline{
		depth:       cfg.Depth,
		blockSize:   cfg.BlockSize,
		dataBase:    0,
		dataCount:   dataCount,
		parityBase:  dataCount,
		parityCount: parityCount,
		readerMax:   readerMax,
		pool:        pool,
		slots:       make([][]*Task, cfg.Depth),
		readyList:   make([]int, readerMax+1),
	}
	p.readDone = sync.NewCond(&p.mu)
	p.readSched = sync.NewCond(&p.mu)

	for s := 0; s < cfg.Depth; s++ {
		row := make([]*Task, readerMax)
		for i := range row {
			row[i] = &Task{}
		}
		p.slots[s] = row
	}

	p.workers = make([]*Worker, readerMax)
	for i := 0; i < dataCount; i++ {
		p.workers[i] = &Worker{
			kind:       DataWorker,
			gIndex:     i,
			localIndex: i,
			bufferSkew: 0,
			diskID:     i,
			Disk:       dataHandles[i],
			fn:         dataReader,
			done:       make(chan struct{}),
		}
	}
	for j := 0; j < parityCount; j++ {
		i := dataCount + j
		p.workers[i] = &Worker{
			kind:       ParityWorker,
			gIndex:     i,
			localIndex: j,
			bufferSkew: parityCount,
			diskID:     NoDisk,
			Parity:     parityHandles[j],
			fn:         parityReader,
			done:       make(chan struct{}),
		}
	}

	return p, nil
}

// positionNext returns the next block position to schedule, skipping
// positions the filter rejects, and advances blockNext past it. Only the
// caller goroutine ever touches blockNext/blockMax/isEnabled, so this needs
// no lock -- mirroring the original design, where block_next is likewise
// untouched by worker threads.
func (p *Pipeline) positionNext() BlockPosition {
	for p.blockNext < p.blockMax && !p.isEnabled(p.arg, p.blockNext) {
		p.blockNext++
	}
	cur := p.blockNext
	p.blockNext++
	return cur
}

// scheduleSlot overwrites every worker's task at slot with a new pending (or
// empty, past end-of-range) task for pos. Once the workers are running, the
// caller must hold p.mu; Start primes the ring without it, before any worker
// goroutine exists.
func (p *Pipeline) scheduleSlot(slot int, pos BlockPosition) {
	row := p.slots[slot]
	for _, w := range p.workers {
		task := row[w.gIndex]
		if pos < p.blockMax {
			task.State = TaskReady
		} else {
			task.State = TaskEmpty
		}
		task.Position = pos
		task.Disk = w.diskID
		task.Buffer = p.pool.buffer(slot, w.bufferSkew+w.gIndex)
		task.Result = nil
	}
}

// Start begins read-ahead over [blockStart, blockMax), filtered by
// isEnabled, and launches one goroutine per reader worker.
func (p *Pipeline) Start(blockStart, blockMax BlockPosition, isEnabled IsEnabledFunc, arg interface{}) {
	p.blockStart = blockStart
	p.blockMax = blockMax
	p.isEnabled = isEnabled
	p.arg = arg
	p.blockNext = blockStart

	p.done = false
	p.readerIndex = p.depth - 1

	// Prime slots 0..D-2; the slot at reader_index (D-1) is left for the
	// first ReadNext call to fill, exactly as the original design defers
	// it.
	for i := 0; i < p.depth-1; i++ {
		pos := p.positionNext()
		p.scheduleSlot(i, pos)
	}

	// A fresh, fully-drained ready list: ReadNext's invariant check expects
	// this before the first schedule.
	p.readyList[0] = p.readerMax

	for _, w := range p.workers {
		w.slotIndex = 0
		go p.runWorker(w)
	}
}

// runWorker is a reader worker's goroutine body: force-complete slot 0's
// task to establish the slotIndex=0 baseline (the original design does this
// outside the main loop, since the worker launches already "caught up" to
// slot 0), then loop on workerStep until told to exit.
func (p *Pipeline) runWorker(w *Worker) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	p.execute(w, p.slots[0][w.gIndex])

	for {
		task, ok := p.workerStep(w)
		if !ok {
			return
		}
		p.execute(w, task)
	}
}

func (p *Pipeline) execute(w *Worker, task *Task) {
	if task.State != TaskReady {
		return
	}
	w.fn(w, task)
}

// workerStep is a worker's synchronization point with the pipeline: under
// the mutex, advance to the next slot if the ring isn't full for this
// worker, signalling the caller; otherwise wait for the caller to advance
// the head. Returns (nil, false) when told to shut down.
func (p *Pipeline) workerStep(w *Worker) (*Task, bool) {
	p.mu.Lock()
	for {
		if p.done {
			p.mu.Unlock()
			return nil, false
		}

		next := (w.slotIndex + 1) % p.depth
		if next == p.readerIndex {
			// Caught up with the caller: no room to advance.
			p.readSched.Wait()
			continue
		}

		w.slotIndex = next
		p.readDone.Signal()
		task := p.slots[w.slotIndex][w.gIndex]
		p.mu.Unlock()
		return task, true
	}
}

// ReadNext schedules the next block position into the slot the caller has
// just finished with, advances the caller to the following slot, and returns
// that slot's block position and its buffer vector. It does not wait for
// that slot's reads: a buffer may still be being filled when ReadNext
// returns, and DataRead/ParityRead hand out each worker's task only once its
// read has completed.
//
// ReadNext panics if called before the previous stripe's completions have
// all been consumed; this is a caller-contract violation, not a runtime
// condition, matching the assertion in the original design.
func (p *Pipeline) ReadNext() (BlockPosition, [][]byte) {
	pos := p.positionNext()

	if p.readyList[0] != p.readerMax {
		log.Panicf("stage: ReadNext called before stripe fully drained")
	}
	for i := 0; i <= p.readerMax; i++ {
		p.readyList[i] = i
	}

	p.mu.Lock()
	p.scheduleSlot(p.readerIndex, pos)
	p.readerIndex = (p.readerIndex + 1) % p.depth
	caller := p.slots[p.readerIndex][0].Position
	buffers := p.pool.vector(p.readerIndex)
	p.readSched.Broadcast()
	p.mu.Unlock()

	return caller, buffers
}

// rangeRead returns the next completed task whose worker's global index is
// in [base, base+count), along with that worker's local index, blocking
// until one is available. It implements both DataRead and ParityRead.
func (p *Pipeline) rangeRead(base, count int) (*Task, int, error) {
	p.mu.Lock()
	for {
		if p.done {
			p.mu.Unlock()
			return nil, 0, ErrStopped
		}

		index := p.readerIndex
		cell := 0
		for {
			i := p.readyList[cell]
			if i == p.readerMax {
				break
			}
			if base <= i && i < base+count {
				w := p.workers[i]
				if index != w.slotIndex {
					task := p.slots[p.readerIndex][i]
					p.readyList[cell] = p.readyList[i+1]
					pos := i - base
					p.mu.Unlock()
					return task, pos, nil
				}
			}
			cell = i + 1
		}

		p.readDone.Wait()
	}
}

// DataRead blocks until some data-range worker has a completed task for the
// current stripe, returning it exactly once per worker per stripe. The
// returned local index is the data-disk index the task belongs to.
func (p *Pipeline) DataRead() (*Task, int, error) {
	return p.rangeRead(p.dataBase, p.dataCount)
}

// ParityRead is the parity-range counterpart to DataRead.
func (p *Pipeline) ParityRead() (*Task, int, error) {
	return p.rangeRead(p.parityBase, p.parityCount)
}

// Stop signals shutdown and waits for every reader worker to exit.
//
// Unlike the original design (which only broadcasts read_sched, since its
// caller never blocks in a read concurrently with calling stop), Stop here
// also broadcasts readDone: an unrecoverable blocked goroutine is a Go
// runtime deadlock, not a harmless hang, so any DataRead/ParityRead call
// racing a shutdown is guaranteed to wake and observe done rather than leak.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.done = true
	p.readSched.Broadcast()
	p.readDone.Broadcast()
	p.mu.Unlock()

	for _, w := range p.workers {
		<-w.done
	}
}

// Close releases the pipeline's buffers and task slots. Call it after Stop.
func (p *Pipeline) Close() {
	p.slots = nil
	p.pool = nil
	p.workers = nil
	p.readyList = nil
}

// DataCount is the number of data-disk workers.
func (p *Pipeline) DataCount() int { return p.dataCount }

// ParityCount is the number of parity-disk workers.
func (p *Pipeline) ParityCount() int { return p.parityCount }

// Depth is the ring depth D.
func (p *Pipeline) Depth() int { return p.depth }
