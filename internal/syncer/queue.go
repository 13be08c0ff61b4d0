package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultQueueSize bounds the op queue when no size is configured.
const DefaultQueueSize = 64

// OpKind identifies a queued synchronization operation.
type OpKind int

const (
	OpSyncNote OpKind = iota
	OpDeleteNote
	OpSyncAll
	OpVerify
)

func (k OpKind) String() string {
	switch k {
	case OpSyncNote:
		return "sync_note"
	case OpDeleteNote:
		return "delete_note"
	case OpSyncAll:
		return "sync_all"
	case OpVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// Op is one queued operation. NoteID is empty for queue-wide ops.
type Op struct {
	Kind       OpKind
	NoteID     string
	EnqueuedAt time.Time
}

// Queue is a bounded single-consumer operation queue. Producers hand
// work to the daemon's consumer goroutine without blocking; a full
// queue rejects the op and the caller decides whether to retry, since
// the periodic sweep will pick up anything dropped here.
type Queue struct {
	ops    chan Op
	stopCh chan struct{}
	doneCh chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewQueue creates a queue holding up to size pending ops.
func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		ops:    make(chan Op, size),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
}

// Enqueue offers an op without blocking. It returns false when the
// queue is full or stopped.
func (q *Queue) Enqueue(op Op) bool {
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}

	// The lock orders the send against Stop: once Stop flips stopped,
	// no further op can enter the channel, so the drain is complete.
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	select {
	case q.ops <- op:
		return true
	default:
		q.logger.Warn("sync queue full, dropping operation",
			slog.String("kind", op.Kind.String()),
			slog.String("note_id", op.NoteID))
		return false
	}
}

// Len returns the number of ops waiting to be consumed.
func (q *Queue) Len() int {
	return len(q.ops)
}

// Start launches the consumer goroutine. The handler runs for each op
// in arrival order. Subsequent calls are no-ops.
func (q *Queue) Start(ctx context.Context, handler func(context.Context, Op)) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.run(ctx, handler)
}

func (q *Queue) run(ctx context.Context, handler func(context.Context, Op)) {
	defer close(q.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			// Drain ops accepted before the stop.
			for {
				select {
				case op := <-q.ops:
					handler(ctx, op)
				default:
					return
				}
			}
		case op := <-q.ops:
			handler(ctx, op)
		}
	}
}

// Stop rejects new ops, lets the consumer drain accepted ones, and
// waits for it to exit. Safe to call more than once.
func (q *Queue) Stop() {
	q.mu.Lock()
	alreadyStopped := q.stopped
	q.stopped = true
	started := q.started
	q.mu.Unlock()

	if !alreadyStopped {
		close(q.stopCh)
	}
	if started {
		<-q.doneCh
	}
}
