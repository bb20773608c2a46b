package usage

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/relay/pkg/telemetry/metrics"
)

// DefaultShutdownDelay is the grace period between a shutdown request and a
// forced stop.
const DefaultShutdownDelay = 10 * time.Second

// Restart backoff bounds applied to Post after a failed start or a fault.
const (
	DefaultRestartBackoff = 500 * time.Millisecond
	maxRestartBackoff     = 30 * time.Second
)

// degradedNote is logged with every worker fault.
const degradedNote = "usage statistics collection is degraded until the worker restarts"

// ErrRestartBackoff is returned to Post while a worker restart is delayed
// after a recent failure.
var ErrRestartBackoff = errors.New("usage worker restart backing off")

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// Source starts workers. Required.
	Source Source

	// Bus receives relayed summary and payload events. Default: DefaultBus()
	Bus *Bus

	// ShutdownDelay bounds how long a worker may take to exit after a
	// shutdown request. Default: 10s
	ShutdownDelay time.Duration

	// RestartBackoff is the first delay before Post starts a worker again
	// after a failed start or a fault. It doubles with every consecutive
	// failure up to 30s. Default: 500ms
	RestartBackoff time.Duration

	// Metrics is optional.
	Metrics *metrics.Collector

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Channel owns the single background usage worker. The worker is created
// lazily on first use and recreated after it faults or is terminated.
//
// All methods are safe for concurrent use and never wait for the worker.
type Channel struct {
	source        Source
	bus           *Bus
	shutdownDelay time.Duration
	backoff       time.Duration
	metrics       *metrics.Collector
	now           func() time.Time
	logger        *slog.Logger

	mu       sync.Mutex
	handle   Handle
	timer    *time.Timer
	failures int
	retryAt  time.Time

	// failing is set while failures > 0 so that relay can skip the lock.
	failing atomic.Bool
}

// NewChannel creates a channel. No worker is started until Acquire.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.Source == nil {
		return nil, errors.New("usage channel requires a worker source")
	}
	if cfg.Bus == nil {
		cfg.Bus = DefaultBus()
	}
	if cfg.ShutdownDelay <= 0 {
		cfg.ShutdownDelay = DefaultShutdownDelay
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = DefaultRestartBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Channel{
		source:        cfg.Source,
		bus:           cfg.Bus,
		shutdownDelay: cfg.ShutdownDelay,
		backoff:       cfg.RestartBackoff,
		metrics:       cfg.Metrics,
		now:           cfg.Now,
		logger:        slog.Default().With("component", "usage.channel"),
	}, nil
}

// handleRef lets observers attached before Start returns learn which handle
// they belong to. It is read and written under Channel.mu.
type handleRef struct {
	h Handle
}

// Acquire returns the live worker handle, starting a worker if there is none.
// It always attempts a start, even while Post is backing off.
func (c *Channel) Acquire() (Handle, error) {
	return c.acquire(false)
}

func (c *Channel) acquire(respectBackoff bool) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		return c.handle, nil
	}
	if respectBackoff && c.now().Before(c.retryAt) {
		return nil, ErrRestartBackoff
	}

	ref := &handleRef{}
	h, err := c.source.Start(Observer{
		OnMessage: c.relay,
		OnError:   func(err error) { c.onFault(ref, err) },
		OnExit:    func() { c.onExit(ref) },
	})
	if err != nil {
		c.recordFailure()
		c.logger.Error("failed to start usage worker",
			"mode", c.source.Mode(),
			"error", err,
			"retry_at", c.retryAt,
		)
		return nil, err
	}

	ref.h = h
	c.handle = h
	c.metrics.RecordWorkerStart(c.source.Mode())
	c.logger.Debug("usage worker started", "mode", c.source.Mode(), "worker", h.ID())
	return h, nil
}

// Current returns the live handle without starting one.
func (c *Channel) Current() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Post sends msg to the worker, starting it if needed. Failures are logged
// and counted; they never reach the caller. After a failed start or a fault,
// Post drops messages instead of starting a worker until the restart backoff
// has elapsed.
func (c *Channel) Post(msg Message) {
	h, err := c.acquire(true)
	if err != nil {
		c.metrics.RecordWorkerDropped(msg.Type)
		return
	}
	if err := h.Post(msg); err != nil {
		c.metrics.RecordWorkerDropped(msg.Type)
		c.logger.Debug("usage message dropped", "type", msg.Type, "worker", h.ID(), "error", err)
	}
}

// Terminate asks the worker to shut down and schedules a forced stop after
// the shutdown delay. It does not wait, and calling it again is harmless.
func (c *Channel) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.handle
	if h == nil {
		return
	}

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	if err := h.Post(ShutdownMessage()); err != nil {
		c.handle = nil
		if errors.Is(err, ErrWorkerClosed) {
			c.logger.Debug("worker already stopped", "worker", h.ID())
			return
		}
		// A live worker that cannot take the request is stopped now.
		c.logger.Warn("failed to request worker shutdown, stopping it",
			"worker", h.ID(),
			"error", err,
		)
		c.metrics.RecordWorkerForcedStop()
		_ = h.Terminate()
		return
	}

	c.timer = time.AfterFunc(c.shutdownDelay, func() { c.forceStop(h) })
}

func (c *Channel) forceStop(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != h {
		return
	}
	c.timer = nil
	c.handle = nil

	c.logger.Warn("usage worker did not exit within shutdown delay, stopping it",
		"worker", h.ID(),
		"shutdown_delay", c.shutdownDelay,
	)
	c.metrics.RecordWorkerForcedStop()
	_ = h.Terminate()
}

// recordFailure extends the restart backoff. c.mu must be held.
func (c *Channel) recordFailure() {
	delay := c.backoff << c.failures
	if delay > maxRestartBackoff || delay <= 0 {
		delay = maxRestartBackoff
	}
	c.failures++
	c.retryAt = c.now().Add(delay)
	c.failing.Store(true)
}

// resetFailures clears the restart backoff once a worker produces output.
func (c *Channel) resetFailures() {
	if !c.failing.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.retryAt = time.Time{}
	c.failing.Store(false)
}

// relay republishes worker output on the bus verbatim.
func (c *Channel) relay(msg Message) {
	c.resetFailures()

	var ev Event
	switch msg.Type {
	case TypeSummary:
		ev = Event{Type: TypeSummary, Data: msg.Summary}
	case TypePayload:
		ev = Event{Type: TypePayload, Data: msg.Payload}
	default:
		return
	}
	c.metrics.RecordWorkerEvent(msg.Type)
	c.bus.Publish(ev)
}

func (c *Channel) onFault(ref *handleRef, err error) {
	attrs := []any{"error", err, "note", degradedNote}
	var fault *WorkerFault
	if errors.As(err, &fault) && fault.Stack != "" {
		attrs = append(attrs, "stack", fault.Stack)
	}
	c.logger.Error("usage worker failed", attrs...)
	c.metrics.RecordWorkerFault()

	c.mu.Lock()
	defer c.mu.Unlock()
	if ref.h != nil && c.handle == ref.h {
		c.handle = nil
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.recordFailure()
	}
}

func (c *Channel) onExit(ref *handleRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref.h != nil && c.handle == ref.h {
		c.handle = nil
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.logger.Debug("usage worker exited", "worker", ref.h.ID())
	}
}
