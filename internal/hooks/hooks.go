// Package hooks runs the caller-supplied callbacks that bracket every
// mutating operation. Before-hooks run ahead of any write and abort the
// operation on failure; after-hooks run once the write has committed.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
)

// Hook type names, used in invocation metadata and hook error events.
const (
	TypeBefore = "beforeAction"
	TypeAfter  = "afterAction"
)

// Version stamps every hook invocation.
const Version = "1.0.0"

// Invocation is the metadata handed to each hook alongside the item.
type Invocation struct {
	// Operation is the broker operation being bracketed.
	Operation string `json:"operation"`
	// HookType is TypeBefore or TypeAfter.
	HookType string `json:"hookType"`
	// Index is the hook's position in its sequence.
	Index int `json:"index"`
	// Timestamp is when the hook was invoked, UTC.
	Timestamp time.Time `json:"timestamp"`
	// Version is the invocation metadata version.
	Version string `json:"version"`
}

// Hook is one callback. The context carries the per-hook timeout; hooks
// that block past it are abandoned.
type Hook func(ctx context.Context, item *model.Item, queueID string, inv Invocation) error

// Set carries the hooks an operation was called with.
type Set struct {
	Before []Hook
	After  []Hook
}

// Runner executes hook sequences with the configured cap and timeout.
type Runner struct {
	timeout  time.Duration
	maxPerOp int
	log      logger.Logger
	bus      *events.Bus
}

// NewRunner builds a runner from broker settings. A nil bus disables hook
// error events.
func NewRunner(cfg config.Broker, bus *events.Bus, log logger.Logger) *Runner {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	timeout := cfg.HookTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxPerOp := cfg.MaxHooksPerOperation
	if maxPerOp <= 0 {
		maxPerOp = 10
	}
	return &Runner{
		timeout:  timeout,
		maxPerOp: maxPerOp,
		log:      log.WithComponent(logger.ComponentHooks),
		bus:      bus,
	}
}

// RunBefore executes the before sequence. A failure means the operation
// must not proceed; no state has been written yet.
func (r *Runner) RunBefore(ctx context.Context, op, queueID string, item *model.Item, hooks []Hook) error {
	return r.run(ctx, op, TypeBefore, queueID, item, hooks)
}

// RunAfter executes the after sequence. The operation has already
// committed, so a failure only surfaces, it does not roll anything back.
func (r *Runner) RunAfter(ctx context.Context, op, queueID string, item *model.Item, hooks []Hook) error {
	return r.run(ctx, op, TypeAfter, queueID, item, hooks)
}

func (r *Runner) run(ctx context.Context, op, hookType, queueID string, item *model.Item, hooks []Hook) error {
	if len(hooks) == 0 {
		return nil
	}
	if len(hooks) > r.maxPerOp {
		r.log.Warn("hook limit exceeded, dropping extras",
			"operation", op, "hook_type", hookType,
			"registered", len(hooks), "limit", r.maxPerOp)
		hooks = hooks[:r.maxPerOp]
	}
	for i, hook := range hooks {
		inv := Invocation{
			Operation: op,
			HookType:  hookType,
			Index:     i,
			Timestamp: time.Now().UTC(),
			Version:   Version,
		}
		if err := r.invoke(ctx, hook, item, queueID, inv); err != nil {
			r.log.Error("hook failed",
				"operation", op, "hook_type", hookType, "index", i,
				"queue_id", queueID, "error", err.Error())
			r.emitHookError(hookType, op, queueID, i, err)
			qe := qerrors.Wrap(qerrors.KindHook, op, err).WithQueue(queueID)
			if item != nil {
				qe = qe.WithItem(item.ID)
			}
			return qe
		}
	}
	return nil
}

// invoke runs a single hook under the per-hook timeout. A panicking hook
// becomes a PanicError; a hook that outlives the timeout is abandoned.
func (r *Runner) invoke(ctx context.Context, hook Hook, item *model.Item, queueID string, inv Invocation) error {
	hctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- &qerrors.PanicError{
					Value:      rec,
					Stacktrace: string(debug.Stack()),
				}
			}
		}()
		done <- hook(hctx, item, queueID, inv)
	}()

	select {
	case err := <-done:
		return err
	case <-hctx.Done():
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", qerrors.ErrHookTimeout, r.timeout)
		}
		return hctx.Err()
	}
}

func (r *Runner) emitHookError(hookType, op, queueID string, index int, err error) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(events.HookErrorType(hookType), queueID, map[string]interface{}{
		"operation": op,
		"index":     index,
		"error":     err.Error(),
	})
}
