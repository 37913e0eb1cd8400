// Package stage implements the read-ahead staging pipeline that sits between
// the disk-array scrub/sync/check/fix drivers and the per-disk block readers.
//
// For each block position in the logical stripe space, the caller needs
// every data-disk buffer and every parity-disk buffer for that position
// delivered together, so that parity can be computed or verified. Reading
// those buffers dominates wall time, so every disk is read by its own
// goroutine in parallel; the caller still consumes completed stripes in
// strict block-position order, and can pick up individual disk results as
// soon as each is ready instead of waiting on the slowest.
//
// Parity computation, on-disk metadata, and the actual per-block I/O are all
// the caller's concern; this package only stages buffers.
package stage

// BlockPosition identifies a stripe across the array.
type BlockPosition uint64

// TaskState is the lifecycle of a single reader's view of one ring slot.
//
// There is deliberately no explicit "done" state. A task's completion is
// inferred from its worker's slotIndex having advanced past the slot the
// caller is currently consuming -- see Pipeline.workerStep and
// Pipeline.rangeRead. This keeps the only synchronized per-task state down
// to one integer per worker.
type TaskState int

const (
	// TaskEmpty marks a slot past the end of the scheduled range. The
	// worker does nothing for it.
	TaskEmpty TaskState = iota
	// TaskReady marks a slot that must be read.
	TaskReady
)

func (s TaskState) String() string {
	switch s {
	case TaskEmpty:
		return "empty"
	case TaskReady:
		return "ready"
	default:
		return "invalid"
	}
}

// NoDisk is the Task.Disk value for parity tasks, which have no data-disk
// identity. The original C source only stores a disk identity for data
// workers and leaves it null for parity; this keeps the field populated for
// both (as the explicit sentinel) rather than omitted, per the open question
// in spec.md 9 -- callers that key off Disk never need a separate check for
// "is this a parity task".
const NoDisk = -1

// Task describes one block read. It is owned, for its lifetime, by exactly
// one (slot, worker) pair: while its owning worker holds the slot, the
// worker has exclusive access to Buffer and Result; once the caller has
// advanced past that slot (via ReadNext), the caller has exclusive access
// until the ring wraps back to the same slot D stripes later.
//
// Tasks are allocated once and reused in place; State, Position, Disk, and
// Result are reinitialized by the scheduler before each reuse.
type Task struct {
	State TaskState

	// Position is the BlockPosition this task refers to. All workers in a
	// slot share the same Position.
	Position BlockPosition

	// Buffer is this task's slice of the pool's preallocated, aligned
	// storage. Its contents are overwritten by the reader callback.
	Buffer []byte

	// Disk is the data-disk identifier for a data task, NoDisk for a
	// parity task.
	Disk int

	// Result holds whatever the reader callback wants to report -- file
	// reference, intra-file offset, read length, a timestamp-mismatch
	// flag, an error. The pipeline never interprets it.
	Result interface{}
}

// WorkerKind distinguishes a data-disk reader from a parity-disk reader.
type WorkerKind int

const (
	DataWorker WorkerKind = iota
	ParityWorker
)

func (k WorkerKind) String() string {
	if k == ParityWorker {
		return "parity"
	}
	return "data"
}

// ReaderFunc fills in task's Buffer and Result for one block read. It must
// not touch any of the pipeline's control state (State, Position, the ring,
// etc); the pipeline guarantees exclusive access to task and its buffer for
// the duration of the call.
type ReaderFunc func(w *Worker, t *Task)

// Worker is bound to a single disk handle (data or parity) for the life of
// the pipeline and runs its reader callback on its own goroutine, pinned to
// one OS thread via runtime.LockOSThread from the moment the goroutine
// starts until it exits. This mirrors the one-OS-thread-per-disk-handle model
// the original design assumes: the Go scheduler must never be free to
// multiplex two disks' blocking reads onto a single OS thread and serialize
// them.
type Worker struct {
	kind WorkerKind

	// gIndex is this worker's position in the full reader table,
	// [0, readerMax). It is used to address the ring's per-slot task and
	// buffer vectors.
	gIndex int

	// localIndex is this worker's stable index into the disk-handle table
	// (data) or parity-handle table (parity): [0, dataCount) or
	// [0, parityCount) respectively.
	localIndex int

	// bufferSkew is added to gIndex to locate this worker's buffer within
	// a slot's buffer vector. It is 0 for data workers (which occupy the
	// low range of the vector) and parityCount for parity workers (which
	// are skewed past both the data buffers and any workspace the caller
	// reserves for computed parity).
	bufferSkew int

	diskID int // stamped into every task this worker schedules

	// Disk is the data-disk handle for a data worker, nil for parity.
	Disk interface{}
	// Parity is the parity handle for a parity worker, nil for data.
	Parity interface{}

	fn ReaderFunc

	// slotIndex is the slot whose task this worker is reading (or has just
	// read), monotonic modulo the ring depth. The worker has completed a slot
	// once slotIndex has moved off it, so slotIndex != readerIndex means the
	// caller's current slot is done. All reads and writes happen under
	// Pipeline.mu; it is the sole completion signal (spec.md 4.4).
	slotIndex int

	done chan struct{}
}

// Kind reports whether this worker reads a data disk or a parity disk.
func (w *Worker) Kind() WorkerKind { return w.kind }

// Index is this worker's stable position in its own disk-handle table.
func (w *Worker) Index() int { return w.localIndex }
