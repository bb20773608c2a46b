package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/usage"
)

// unauthenticatedLabel is the account label for requests that were passed
// through with the client's own credentials.
const unauthenticatedLabel = "unauthenticated"

// RecorderConfig wires a Recorder.
type RecorderConfig struct {
	// Bus is the event bus to subscribe to. Required.
	Bus *usage.Bus

	// Storage receives payload events. Nil disables history persistence;
	// summaries are still applied.
	Storage Storage

	// Accounts receives per-account usage totals from summaries. Optional.
	Accounts accounts.Store

	// Metrics records token and cost counters. Optional.
	Metrics *metrics.Collector

	// Buffer is the subscription buffer size.
	// Default: 1000
	Buffer int

	// WriteTimeout bounds each storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// Recorder consumes summary and payload events from the bus. Payloads are
// stored as RequestRecords; summaries update account usage totals and token
// metrics.
type Recorder struct {
	cfg    RecorderConfig
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	cancel  func()
	done    chan struct{}
	running bool
}

// NewRecorder creates a recorder. It does nothing until Start.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1000
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Recorder{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "history.recorder"),
	}
}

// Start subscribes to the bus and processes events until Stop is called or
// ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	events, cancel := r.cfg.Bus.Subscribe(r.cfg.Buffer, usage.TypeSummary, usage.TypePayload)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx, events, r.done)

	r.logger.Info("history recorder started",
		"persist", r.cfg.Storage != nil,
		"buffer", r.cfg.Buffer,
	)
}

// Stop unsubscribes and waits for the event loop to drain.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	r.logger.Info("history recorder stopped")
}

func (r *Recorder) loop(ctx context.Context, events <-chan usage.Event, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.handle(ctx, ev); err != nil {
				r.logger.Warn("failed to record usage event",
					"type", ev.Type,
					"error", err,
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev usage.Event) error {
	switch ev.Type {
	case usage.TypeSummary:
		var s usage.Summary
		if err := json.Unmarshal(ev.Data, &s); err != nil {
			return err
		}
		return r.applySummary(ctx, &s)
	case usage.TypePayload:
		if r.cfg.Storage == nil {
			return nil
		}
		var p usage.Payload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		return r.store(ctx, &p)
	}
	return nil
}

func (r *Recorder) applySummary(ctx context.Context, s *usage.Summary) error {
	label := s.Account
	if label == "" {
		label = unauthenticatedLabel
	}
	r.cfg.Metrics.RecordUsage(label, s.Model,
		s.InputTokens, s.OutputTokens, s.CacheReadTokens, s.CacheCreationTokens, s.CostUSD)

	if r.cfg.Accounts == nil || s.Account == "" {
		return nil
	}
	if s.InputTokens == 0 && s.OutputTokens == 0 && s.CostUSD == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	acct, err := r.cfg.Accounts.GetByName(ctx, s.Account)
	if errors.Is(err, accounts.ErrNotFound) {
		r.logger.Debug("usage summary for unknown account", "account", s.Account)
		return nil
	}
	if err != nil {
		return err
	}
	return r.cfg.Accounts.AddUsageStats(ctx, acct.ID, accounts.UsageDelta{
		InputTokens:  s.InputTokens,
		OutputTokens: s.OutputTokens,
		CostUSD:      s.CostUSD,
	})
}

func (r *Recorder) store(ctx context.Context, p *usage.Payload) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	record := RecordFromPayload(p, r.now())
	if err := r.cfg.Storage.Store(ctx, record); err != nil {
		return err
	}
	r.logger.Debug("request recorded",
		"request_id", record.RequestID,
		"account", record.Account,
		"status_code", record.StatusCode,
	)
	return nil
}
