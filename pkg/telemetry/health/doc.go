// Package health provides liveness and readiness probes.
//
// Liveness (/health) answers 200 as long as the process serves HTTP.
// Readiness (/ready) runs every registered component check with a per-check
// timeout and answers 503 when any component is unhealthy:
//
//	checker := health.New(2*time.Second, version)
//	checker.RegisterCheck("accounts", func(ctx context.Context) error {
//	    _, err := store.List(ctx)
//	    return err
//	})
//	mux.Handle("/health", checker.LivenessHandler())
//	mux.Handle("/ready", checker.ReadinessHandler())
package health
