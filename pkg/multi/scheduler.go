package multi

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/curly/pkg/request"
)

// CompleteFunc turns the body of a successful operation into the value
// stored under key. It runs on the scheduler's control loop, so a slow
// callback delays polling of the remaining operations.
type CompleteFunc[K comparable, V any] func(body []byte, meta request.Meta, key K) V

// Options holds scheduler configuration.
type Options struct {
	// Parallel caps the operations in flight. Zero means one chunk.
	Parallel int

	// Throttle is the minimum wall-clock duration of each chunk when
	// the set is chunked.
	Throttle time.Duration

	// WaitTimeout bounds a single wait for completions (default: 1s).
	WaitTimeout time.Duration

	// Yield is the pause after a wait that returned no activity.
	Yield time.Duration

	// NewPoller creates the poller of each chunk (default: NewPoller).
	NewPoller NewPollerFunc

	// Logger overrides the scheduler logger.
	Logger *zerolog.Logger
}

// DefaultOptions returns the default scheduler options.
func DefaultOptions() Options {
	return Options{
		WaitTimeout: time.Second,
		Yield:       100 * time.Microsecond,
		NewPoller:   NewPoller,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = def.WaitTimeout
	}
	if o.Yield <= 0 {
		o.Yield = def.Yield
	}
	if o.NewPoller == nil {
		o.NewPoller = def.NewPoller
	}
	if o.Logger == nil {
		logger := log.With().Str("component", "scheduler").Logger()
		o.Logger = &logger
	}
	return o
}

// RunAll performs every operation of ops and returns the outcomes under
// the original keys. The scheduler takes ownership of all handles in ops
// and releases each one exactly once.
//
// With opts.Parallel > 0 and more operations than that, ops is processed
// in ordered chunks of opts.Parallel; each chunk then lasts at least
// opts.Throttle. Failed operations are never retried and appear as
// failure markers. Handles that cannot be registered, and handles still
// pending when a poller breaks, are absent from the result.
//
// A nil onComplete stores the raw body; for any V other than []byte
// RunAll then returns ErrNoCallback and leaves ops untouched. When ctx is
// done between chunks, the remaining chunks are released without being
// performed. Only a nil set or a missing callback yields an error.
func RunAll[K comparable, V any](ctx context.Context, ops *OperationSet[K], onComplete CompleteFunc[K, V], opts Options) (Results[K, V], error) {
	if ops == nil {
		return nil, ErrInvalidSet
	}
	if onComplete == nil {
		if _, ok := any(*new(V)).([]byte); !ok {
			return nil, ErrNoCallback
		}
		onComplete = rawBody[K, V]
	}
	opts = opts.withDefaults()
	logger := opts.Logger

	start := time.Now()
	chunks := ops.Chunks(opts.Parallel)
	results := make(Results[K, V], ops.Len())

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			abandon(logger, chunks[i:], err)
			break
		}

		chunkStart := time.Now()
		results.Merge(runChunk(ctx, chunk, onComplete, opts, i))

		if len(chunks) == 1 || opts.Throttle <= 0 {
			continue
		}
		remaining := opts.Throttle - time.Since(chunkStart)
		if remaining <= 0 {
			continue
		}

		logger.Debug().
			Int("chunk", i).
			Dur("throttle_wait", remaining).
			Msg("Throttling before next chunk")
		schedulerThrottleSeconds.Observe(remaining.Seconds())

		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	logger.Info().
		Int("operations", ops.Len()).
		Int("chunks", len(chunks)).
		Int("results", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Run complete")

	return results, nil
}

// FetchAll is RunAll storing raw bodies.
func FetchAll[K comparable](ctx context.Context, ops *OperationSet[K], opts Options) (Results[K, []byte], error) {
	return RunAll[K, []byte](ctx, ops, nil, opts)
}

func rawBody[K comparable, V any](body []byte, _ request.Meta, _ K) V {
	v, _ := any(body).(V)
	return v
}

// runChunk drives one chunk through a fresh poller until every registered
// operation completed or the poller broke.
func runChunk[K comparable, V any](ctx context.Context, chunk *OperationSet[K], onComplete CompleteFunc[K, V], opts Options, index int) Results[K, V] {
	logger := opts.Logger
	schedulerChunksTotal.Inc()

	poller := opts.NewPoller(ctx)
	defer poller.Close()

	keys := make(map[*request.Operation]K, chunk.Len())
	for _, key := range chunk.Keys() {
		op, _ := chunk.Get(key)
		if err := poller.Register(op); err != nil {
			drop(logger, op, key, err)
			continue
		}
		keys[op] = key
	}
	schedulerInflight.Add(float64(len(keys)))

	results := make(Results[K, V], len(keys))
	finish := func(c Completion) {
		key, ok := keys[c.Op]
		if !ok {
			return
		}
		delete(keys, c.Op)
		schedulerInflight.Dec()

		body, meta, _ := c.Op.Result()
		if c.Err != nil {
			results[key] = Outcome[V]{Meta: meta, Err: c.Err}
			schedulerCompletionsTotal.WithLabelValues("failure").Inc()
			logger.Debug().Err(c.Err).Interface("key", key).Str("op_id", c.Op.ID()).Msg("Operation failed")
		} else {
			results[key] = Outcome[V]{Value: onComplete(body, meta, key), Meta: meta}
			schedulerCompletionsTotal.WithLabelValues("success").Inc()
			logger.Debug().Interface("key", key).Str("op_id", c.Op.ID()).Int("status_code", meta.StatusCode).Msg("Operation completed")
		}

		_ = poller.Remove(c.Op)
		release(logger, c.Op)
	}

	var broken error
	for len(keys) > 0 {
		if err := performAll(poller); err != nil {
			broken = err
			break
		}
		for {
			c, ok := poller.Next()
			if !ok {
				break
			}
			finish(c)
		}
		if len(keys) == 0 {
			break
		}

		n, err := poller.Wait(opts.WaitTimeout)
		if err != nil {
			broken = err
			break
		}
		if n == 0 {
			time.Sleep(opts.Yield)
		}
	}

	if broken != nil {
		schedulerAbortsTotal.Inc()
		logger.Error().
			Err(broken).
			Int("chunk", index).
			Int("completed", len(results)).
			Int("abandoned", len(keys)).
			Msg("Poller broke, aborting chunk")

		for op := range keys {
			_ = poller.Remove(op)
			release(logger, op)
			schedulerInflight.Dec()
			schedulerDroppedTotal.WithLabelValues("aborted").Inc()
		}
	}

	return results
}

// abandon releases every handle of chunks that will not run.
func abandon[K comparable](logger *zerolog.Logger, chunks []*OperationSet[K], cause error) {
	abandoned := 0
	for _, chunk := range chunks {
		for _, key := range chunk.Keys() {
			op, _ := chunk.Get(key)
			if op == nil {
				continue
			}
			release(logger, op)
			schedulerDroppedTotal.WithLabelValues("aborted").Inc()
			abandoned++
		}
	}
	logger.Warn().
		Err(cause).
		Int("chunks", len(chunks)).
		Int("abandoned", abandoned).
		Msg("Context done, skipping remaining chunks")
}

// performAll calls Perform until it reports no further immediate progress.
func performAll(poller Poller) error {
	for {
		err := poller.Perform()
		if errors.Is(err, ErrPerformAgain) {
			continue
		}
		return err
	}
}

func drop[K comparable](logger *zerolog.Logger, op *request.Operation, key K, err error) {
	reason := "invalid"
	if errors.Is(err, ErrAlreadyRegistered) {
		reason = "duplicate"
	} else if !errors.Is(err, ErrInvalidOperation) {
		reason = "register_failed"
	}
	schedulerDroppedTotal.WithLabelValues(reason).Inc()
	logger.Warn().Err(err).Interface("key", key).Str("reason", reason).Msg("Dropping operation")

	// A duplicate handle is released through the key that registered it.
	if reason != "duplicate" {
		release(logger, op)
	}
}

func release(logger *zerolog.Logger, op *request.Operation) {
	if err := op.Release(); err != nil && !errors.Is(err, request.ErrReleased) {
		logger.Warn().Err(err).Str("op_id", op.ID()).Msg("Release failed")
	}
}
