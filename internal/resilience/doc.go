// Package resilience groups the fault-tolerance building blocks used by the
// ingestion and publishing pipelines.
//
// The subpackages are:
//   - failure: error classification, the bounded failure history and pattern alerts
//   - circuitbreaker: named breakers over sony/gobreaker with a shared registry
//   - retry: per-operation retry policies executed through a breaker
//   - dlq: dead-letter routing and eligibility-gated replay
//
// Usage Example:
//
//	breakers := circuitbreaker.NewRegistry(nil)
//	exec := retry.NewExecutor(breakers, retry.WithRecorder(recorder))
//	err := exec.Execute(ctx, retry.OpFeedPoll, func(ctx context.Context) error {
//	    return poll(ctx)
//	})
package resilience
