package safe

import (
	"dmchat/tools/errs"

	"go.uber.org/zap"
)

// Go starts f on a new goroutine that recovers from panic, so that one
// misbehaving connection cannot crash the hub.
func Go(log *zap.Logger, name string, f func()) {
	go Run(log, name, f)
}

// Run calls f and converts a panic into an error log entry.
func Run(log *zap.Logger, name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			if log == nil {
				log = zap.L()
			}
			log.Error("goroutine panic recovered",
				zap.String("task", name),
				zap.Error(errs.ErrPanic(r)),
				zap.Stack("stack"))
		}
	}()
	f()
}
