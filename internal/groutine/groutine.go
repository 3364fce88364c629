package groutine

import (
	"context"
	"runtime/pprof"
)

const labelKey = "goroutine_name"

// Go runs fn on a new goroutine labelled with name for pprof, then calls
// each onExit in order once fn returns:
//
//	wg.Add(1)
//	groutine.Go(ctx, "hr-chain-7", runChain, wg.Done)
//
// A nil parentCtx is treated as context.Background().
func Go(parentCtx context.Context, name string, fn func(ctx context.Context), onExit ...func()) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	go pprof.Do(parentCtx, pprof.Labels(labelKey, name), func(ctx context.Context) {
		defer func() {
			for _, f := range onExit {
				f()
			}
		}()
		fn(ctx)
	})
}
