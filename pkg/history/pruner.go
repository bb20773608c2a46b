package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/relay/pkg/config"
)

// RetentionConfig controls history pruning.
type RetentionConfig struct {
	// RetentionDays is the age after which records are deleted. Zero or a
	// negative value disables age-based pruning.
	RetentionDays int

	// PruneSchedule is the cron expression for scheduled pruning. Empty
	// disables the scheduler.
	PruneSchedule string

	// MaxRecords caps the number of stored records. Zero means unlimited.
	MaxRecords int64
}

// RetentionConfigFrom converts the history configuration section.
func RetentionConfigFrom(cfg config.RetentionConfig) RetentionConfig {
	return RetentionConfig{
		RetentionDays: cfg.Days,
		PruneSchedule: cfg.Schedule,
		MaxRecords:    cfg.MaxRecords,
	}
}

// Pruner deletes history records by age and by count.
type Pruner struct {
	storage Storage
	config  RetentionConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewPruner creates a pruner for storage.
func NewPruner(storage Storage, cfg RetentionConfig) *Pruner {
	return &Pruner{
		storage: storage,
		config:  cfg,
		now:     time.Now,
		logger:  slog.Default().With("component", "history.pruner"),
	}
}

// Prune removes records older than the retention period, then the oldest
// records beyond MaxRecords. It returns the total number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.RetentionDays > 0 {
		cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)
		deleted, err := p.storage.DeleteBefore(ctx, cutoff)
		if err != nil {
			return total, &RetentionError{RetentionDays: p.config.RetentionDays, Cause: err}
		}
		total += deleted
		p.logger.Debug("pruned records by age",
			"deleted_count", deleted,
			"cutoff", cutoff,
		)
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return total, fmt.Errorf("prune by count failed: %w", err)
		}
		total += deleted
	}

	if total > 0 {
		p.logger.Info("history pruning completed",
			"total_deleted", total,
			"retention_days", p.config.RetentionDays,
			"max_records", p.config.MaxRecords,
		)
	}
	return total, nil
}

func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.storage.Count(ctx, &Query{})
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	if count <= p.config.MaxRecords {
		return 0, nil
	}

	excess := count - p.config.MaxRecords
	p.logger.Info("record count exceeds limit, pruning oldest",
		"current_count", count,
		"max_records", p.config.MaxRecords,
		"to_delete", excess,
	)
	return p.storage.DeleteOldest(ctx, excess)
}
