package usage

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrMailboxFull is returned by Post when the worker's mailbox is full.
	ErrMailboxFull = errors.New("worker mailbox full")

	// ErrWorkerClosed is returned by Post after the worker has stopped.
	ErrWorkerClosed = errors.New("worker closed")
)

// WorkerFault describes a worker crash.
type WorkerFault struct {
	// Message is the fault description.
	Message string

	// Stack is the stack or stderr context captured at the fault, if any.
	Stack string
}

// Error implements the error interface.
func (f *WorkerFault) Error() string {
	return "usage worker fault: " + f.Message
}

// Observer receives worker output. Callbacks run on worker-owned goroutines
// and must not block.
type Observer struct {
	// OnMessage receives every message the worker emits.
	OnMessage func(Message)

	// OnError receives a fault that ended the worker.
	OnError func(error)

	// OnExit is called once when the worker stops after a shutdown request
	// or a forced stop. It is not called after a fault.
	OnExit func()
}

func (o Observer) message(m Message) {
	if o.OnMessage != nil {
		o.OnMessage(m)
	}
}

func (o Observer) fault(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

func (o Observer) exit() {
	if o.OnExit != nil {
		o.OnExit()
	}
}

// Handle is a running worker.
type Handle interface {
	// ID identifies the handle in logs.
	ID() string

	// Post enqueues msg without waiting for the worker. It returns
	// ErrMailboxFull or ErrWorkerClosed when the message was not accepted.
	Post(msg Message) error

	// Terminate force-stops the worker without flushing.
	Terminate() error

	// Done is closed once the worker has exited.
	Done() <-chan struct{}
}

// Source starts workers.
type Source interface {
	// Mode names the kind of worker the source starts.
	Mode() string

	// Start launches a worker wired to obs.
	Start(obs Observer) (Handle, error)
}

// InProcessSource starts workers as goroutines.
type InProcessSource struct {
	// MailboxSize bounds queued messages. Default: 1024
	MailboxSize int

	// NewProcessor builds the processor for each worker. Default: a Worker
	// keeping 256KB of each body.
	NewProcessor func() Processor
}

// Mode returns "inprocess".
func (s *InProcessSource) Mode() string {
	return "inprocess"
}

// Start launches a goroutine worker.
func (s *InProcessSource) Start(obs Observer) (Handle, error) {
	size := s.MailboxSize
	if size <= 0 {
		size = 1024
	}
	var proc Processor
	if s.NewProcessor != nil {
		proc = s.NewProcessor()
	} else {
		proc = NewWorker(0)
	}
	if proc == nil {
		return nil, errors.New("processor factory returned nil")
	}

	h := &goroutineHandle{
		id:      uuid.New().String(),
		mailbox: make(chan Message, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.run(proc, obs)
	return h, nil
}

// goroutineHandle runs a Processor on its own goroutine behind a bounded
// mailbox.
type goroutineHandle struct {
	id       string
	mailbox  chan Message
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	closed   atomic.Bool
}

func (h *goroutineHandle) ID() string {
	return h.id
}

func (h *goroutineHandle) Post(msg Message) error {
	if h.closed.Load() {
		return ErrWorkerClosed
	}
	select {
	case h.mailbox <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

func (h *goroutineHandle) Terminate() error {
	h.closed.Store(true)
	h.stopOnce.Do(func() { close(h.stop) })
	return nil
}

// Done is closed when the worker goroutine has returned.
func (h *goroutineHandle) Done() <-chan struct{} {
	return h.done
}

func (h *goroutineHandle) run(proc Processor, obs Observer) {
	defer close(h.done)
	defer h.closed.Store(true)
	defer func() {
		if r := recover(); r != nil {
			h.closed.Store(true)
			obs.fault(&WorkerFault{
				Message: fmt.Sprint(r),
				Stack:   string(debug.Stack()),
			})
		}
	}()

	for {
		select {
		case <-h.stop:
			h.closed.Store(true)
			obs.exit()
			return
		case msg := <-h.mailbox:
			if proc.Handle(msg, obs.message) {
				h.closed.Store(true)
				obs.exit()
				return
			}
		}
	}
}
