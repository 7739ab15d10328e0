package util

import "context"

// MergeContexts derives from ctx1, keeping its values and deadline, and is
// also cancelled with the cause of ctx2 once ctx2 is done
func MergeContexts(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancelCause(ctx1)
	stop := context.AfterFunc(ctx2, func() {
		cancel(context.Cause(ctx2))
	})

	return merged, func() {
		stop()
		cancel(context.Canceled)
	}
}
