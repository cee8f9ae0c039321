// Package multi runs many request operations in parallel.
//
// RunAll takes ownership of an OperationSet, partitions it into chunks of at
// most Options.Parallel operations and drives each chunk through a Poller
// until every operation completed. Completions are handled on a single
// control loop in the order the poller reports them: the completion
// callback runs for each success, failures are stored as failure markers,
// and every handle is released exactly once.
//
// Example usage:
//
//	set := multi.NewOperationSet[string]()
//	set.Add("home", builder.Build("https://example.com/", nil, "GET", request.NoCookie()))
//	set.Add("about", builder.Build("https://example.com/about", nil, "GET", request.NoCookie()))
//
//	results, err := multi.FetchAll(ctx, set, multi.Options{Parallel: 10, Throttle: time.Second})
//
// The scheduler:
//   - Registers valid pending operations, dropping the rest
//   - Processes chunks sequentially, at most one chunk per Throttle
//   - Never retries failed operations
//   - Aborts a chunk when its poller breaks, releasing what is left
//
// Results are keyed by the caller's keys. Dropped and abandoned operations
// are absent from the result rather than reported as failures.
package multi
