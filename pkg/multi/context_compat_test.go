package multi

import (
	"context"
	"testing"
)

// testContext mirrors testing.T.Context (Go 1.24+): it returns a context
// that is canceled when the test finishes.
func testContext(tb testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)
	return ctx
}
