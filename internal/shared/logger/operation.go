package logger

import (
	"context"
	"time"
)

// Operation times one step of a run. Records it emits carry the operation
// name and the attributes given to StartOp.
type Operation struct {
	log   *Logger
	ctx   context.Context
	start time.Time
}

// StartOp logs the start of name at debug level and returns its handle.
func (l *Logger) StartOp(ctx context.Context, name string, args ...any) *Operation {
	op := &Operation{
		log:   l.With(args...),
		ctx:   withOperation(ctx, name),
		start: time.Now(),
	}
	op.scoped().Debug("operation started")
	return op
}

// Progress logs an intermediate step at debug level.
func (op *Operation) Progress(msg string, args ...any) {
	op.scoped().Debug(msg, append(args, "elapsed", time.Since(op.start))...)
}

// Complete logs success at info level.
func (op *Operation) Complete(msg string, args ...any) {
	op.scoped().Info(msg, append(args, "duration", time.Since(op.start))...)
}

// Fail logs err at error level.
func (op *Operation) Fail(err error, msg string, args ...any) {
	op.log.ErrorCtx(op.ctx, msg, err, append(args, "duration", time.Since(op.start))...)
}

func (op *Operation) scoped() *Logger {
	return op.log.WithContext(op.ctx)
}
