package multi

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/curly/pkg/request"
)

// Completion is a notification that an operation finished one attempt.
type Completion struct {
	Op  *request.Operation
	Err error
}

// Poller multiplexes many in-flight operations. A poller is owned by a
// single chunk run and is not safe for use by several callers.
type Poller interface {
	// Register adds a pending operation. The poller does not take over
	// the release duty.
	Register(op *request.Operation) error

	// Perform advances every registered operation as far as possible
	// without blocking. It returns ErrPerformAgain when it should be
	// called again right away and ErrPollerBroken when no further
	// progress is possible.
	Perform() error

	// Next pops one completion notification.
	Next() (Completion, bool)

	// Wait blocks until a completion is available or timeout elapses and
	// returns the number of available completions.
	Wait(timeout time.Duration) (int, error)

	// Remove unregisters op. Once Remove returns the poller no longer
	// touches op.
	Remove(op *request.Operation) error

	// Close removes every remaining operation.
	Close() error
}

// NewPollerFunc creates the poller of one chunk run.
type NewPollerFunc func(ctx context.Context) Poller

// goroutinePoller runs each registered operation on its own goroutine and
// queues the completions.
type goroutinePoller struct {
	ctx context.Context

	mu       sync.Mutex
	entries  map[*request.Operation]*pollEntry
	queued   []*request.Operation
	ready    []Completion
	notify   chan struct{}
	closed   bool
	inflight sync.WaitGroup
}

type pollEntry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates the default poller. Cancelling ctx breaks the poller.
func NewPoller(ctx context.Context) Poller {
	return &goroutinePoller{
		ctx:     ctx,
		entries: make(map[*request.Operation]*pollEntry),
		notify:  make(chan struct{}, 1),
	}
}

func (p *goroutinePoller) Register(op *request.Operation) error {
	if !op.Pending() {
		return ErrInvalidOperation
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPollerBroken
	}
	if _, exists := p.entries[op]; exists {
		return ErrAlreadyRegistered
	}

	p.entries[op] = &pollEntry{}
	p.queued = append(p.queued, op)
	return nil
}

func (p *goroutinePoller) Perform() error {
	if p.ctx.Err() != nil {
		return ErrPollerBroken
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPollerBroken
	}

	for _, op := range p.queued {
		entry, ok := p.entries[op]
		if !ok {
			continue
		}
		opCtx, cancel := context.WithCancel(p.ctx)
		entry.cancel = cancel
		entry.done = make(chan struct{})

		p.inflight.Add(1)
		go p.run(opCtx, op, entry.done)
	}
	p.queued = nil
	return nil
}

func (p *goroutinePoller) run(ctx context.Context, op *request.Operation, done chan struct{}) {
	defer p.inflight.Done()
	defer close(done)

	err := op.Perform(ctx)

	p.mu.Lock()
	if _, ok := p.entries[op]; ok {
		p.ready = append(p.ready, Completion{Op: op, Err: err})
	}
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *goroutinePoller) Next() (Completion, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.ready) > 0 {
		c := p.ready[0]
		p.ready = p.ready[1:]
		if _, ok := p.entries[c.Op]; ok {
			return c, true
		}
	}
	return Completion{}, false
}

func (p *goroutinePoller) Wait(timeout time.Duration) (int, error) {
	if n := p.pending(); n > 0 {
		return n, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.notify:
		return p.pending(), nil
	case <-timer.C:
		return p.pending(), nil
	case <-p.ctx.Done():
		return 0, ErrPollerBroken
	}
}

func (p *goroutinePoller) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ready)
}

func (p *goroutinePoller) Remove(op *request.Operation) error {
	p.mu.Lock()
	entry, ok := p.entries[op]
	if !ok {
		p.mu.Unlock()
		return ErrInvalidOperation
	}
	delete(p.entries, op)
	p.mu.Unlock()

	if entry.cancel != nil {
		entry.cancel()
		<-entry.done
	}
	return nil
}

func (p *goroutinePoller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = make(map[*request.Operation]*pollEntry)
	p.queued = nil
	p.ready = nil
	p.mu.Unlock()

	for _, entry := range entries {
		if entry.cancel != nil {
			entry.cancel()
		}
	}
	p.inflight.Wait()
	return nil
}
