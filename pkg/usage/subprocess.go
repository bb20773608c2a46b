package usage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// maxWireLineBytes bounds one JSON line on the worker pipes.
const maxWireLineBytes = 16 << 20

// SubprocessSource starts workers as child processes speaking JSON lines
// over stdin and stdout ("relay worker").
type SubprocessSource struct {
	// Command is the executable. Default: the running binary.
	Command string

	// Args are passed to Command. Default: ["worker"]
	Args []string

	// Env is appended to the parent environment.
	Env []string

	// MailboxSize bounds queued messages. Default: 1024
	MailboxSize int
}

// Mode returns "subprocess".
func (s *SubprocessSource) Mode() string {
	return "subprocess"
}

// Start launches the worker process.
func (s *SubprocessSource) Start(obs Observer) (Handle, error) {
	command := s.Command
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve worker executable: %w", err)
		}
		command = exe
	}
	args := s.Args
	if args == nil {
		args = []string{"worker"}
	}
	size := s.MailboxSize
	if size <= 0 {
		size = 1024
	}

	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), s.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr := &tailBuffer{limit: 8 * 1024}
	cmd.Stderr = io.MultiWriter(os.Stderr, stderr)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	h := &processHandle{
		id:      uuid.New().String(),
		cmd:     cmd,
		mailbox: make(chan Message, size),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "usage.subprocess"),
	}

	var readerDone sync.WaitGroup
	readerDone.Add(1)
	go h.writeLoop(stdin)
	go func() {
		defer readerDone.Done()
		h.readLoop(stdout, obs)
	}()
	go func() {
		readerDone.Wait()
		h.wait(obs, stderr)
	}()

	return h, nil
}

type processHandle struct {
	id       string
	cmd      *exec.Cmd
	mailbox  chan Message
	done     chan struct{}
	closed   atomic.Bool
	killed   atomic.Bool
	shutdown atomic.Bool
	logger   *slog.Logger
}

func (h *processHandle) ID() string {
	return h.id
}

func (h *processHandle) Post(msg Message) error {
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

func (h *processHandle) Terminate() error {
	h.killed.Store(true)
	h.closed.Store(true)
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *processHandle) Done() <-chan struct{} {
	return h.done
}

func (h *processHandle) writeLoop(stdin io.WriteCloser) {
	defer stdin.Close()
	enc := json.NewEncoder(stdin)
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.mailbox:
			if err := enc.Encode(msg); err != nil {
				h.logger.Debug("worker stdin closed", "error", err)
				return
			}
			if msg.Type == TypeShutdown {
				h.shutdown.Store(true)
				return
			}
		}
	}
}

func (h *processHandle) readLoop(stdout io.Reader, obs Observer) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxWireLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, ok, err := DecodeMessage(line)
		if err != nil {
			h.logger.Warn("ignoring malformed worker output", "error", err)
			continue
		}
		if ok {
			obs.message(msg)
		}
	}
}

func (h *processHandle) wait(obs Observer, stderr *tailBuffer) {
	err := h.cmd.Wait()
	h.closed.Store(true)
	close(h.done)

	switch {
	case h.killed.Load():
		obs.exit()
	case err == nil && h.shutdown.Load():
		obs.exit()
	case err == nil:
		obs.fault(&WorkerFault{Message: "worker process exited unexpectedly", Stack: stderr.String()})
	default:
		obs.fault(&WorkerFault{Message: fmt.Sprintf("worker process failed: %v", err), Stack: stderr.String()})
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Serve runs a worker over JSON lines: control messages are read from r and
// worker output is written to w. It returns after a shutdown message, at EOF
// (flushing pending requests), or when ctx is cancelled.
func Serve(ctx context.Context, proc Processor, r io.Reader, w io.Writer) error {
	logger := slog.Default().With("component", "usage.serve")

	var writeErr error
	enc := json.NewEncoder(w)
	emit := func(m Message) {
		if writeErr != nil {
			return
		}
		writeErr = enc.Encode(m)
	}

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxWireLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				var err error
				select {
				case err = <-scanErr:
				default:
				}
				if f, ok := proc.(interface{ Flush(func(Message)) }); ok {
					f.Flush(emit)
				}
				if err != nil {
					return fmt.Errorf("failed to read control messages: %w", err)
				}
				return writeErr
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			msg, known, err := DecodeMessage(line)
			if err != nil {
				logger.Warn("ignoring malformed control message", "error", err)
				continue
			}
			if !known {
				continue
			}
			if proc.Handle(msg, emit) {
				return writeErr
			}
			if writeErr != nil {
				if errors.Is(writeErr, io.ErrClosedPipe) {
					return nil
				}
				return fmt.Errorf("failed to write worker output: %w", writeErr)
			}
		}
	}
}
