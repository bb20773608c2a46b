// Package history persists a record of every proxied request.
//
// The usage worker emits one payload and one summary per request. A Recorder
// subscribed to the event bus turns payloads into RequestRecords in a Storage
// backend (SQLite or memory) and applies summaries to per-account usage
// totals and token metrics. A Pruner deletes records by age and by count,
// and a Scheduler runs it on a cron schedule.
//
// # Usage
//
//	store, err := history.NewSQLiteStorage(&history.SQLiteConfig{Path: cfg.History.Path, WALMode: true})
//	rec := history.NewRecorder(history.RecorderConfig{Bus: usage.DefaultBus(), Storage: store, Accounts: accts})
//	rec.Start(ctx)
//	defer rec.Stop()
//
//	sched := history.NewScheduler(history.NewPruner(store, history.RetentionConfigFrom(cfg.History.Retention)))
//	if err := sched.Start(ctx); err != nil {
//	    return err
//	}
//
// Events come from a lossy bus; a recorder that falls behind misses events
// rather than slowing the proxy.
package history
