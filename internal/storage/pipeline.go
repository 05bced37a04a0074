package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/qerrors"
)

// Pipelined queues the commands issued by fn and executes them in one
// round trip. Commands that fail individually come back as classified
// errors carrying their position in the batch, joined into one error.
func (s *Store) Pipelined(ctx context.Context, op string, fn func(pipe redis.Pipeliner) error) ([]redis.Cmder, error) {
	var cmds []redis.Cmder
	err := s.execute(ctx, op, func(ctx context.Context) error {
		var execErr error
		cmds, execErr = s.client.Pipelined(ctx, fn)
		return pipelineError(op, cmds, execErr)
	})
	return cmds, err
}

// TxPipelined is Pipelined wrapped in MULTI/EXEC so the batch applies
// atomically.
func (s *Store) TxPipelined(ctx context.Context, op string, fn func(pipe redis.Pipeliner) error) ([]redis.Cmder, error) {
	var cmds []redis.Cmder
	err := s.execute(ctx, op, func(ctx context.Context) error {
		var execErr error
		cmds, execErr = s.client.TxPipelined(ctx, fn)
		return pipelineError(op, cmds, execErr)
	})
	return cmds, err
}

// pipelineError folds per-command failures into one error. Each failed
// command keeps its index so callers can report exactly which write in a
// batch was rejected. redis.Nil results are not failures.
func pipelineError(op string, cmds []redis.Cmder, execErr error) error {
	if execErr == nil || errors.Is(execErr, redis.Nil) {
		return nil
	}
	var failed []error
	for i, cmd := range cmds {
		cmdErr := cmd.Err()
		if cmdErr == nil || errors.Is(cmdErr, redis.Nil) {
			continue
		}
		classified := qerrors.Classify(op, cmdErr)
		var qe *qerrors.Error
		if errors.As(classified, &qe) {
			qe.Index = i
		}
		failed = append(failed, classified)
	}
	if len(failed) == 0 {
		return qerrors.Classify(op, execErr)
	}
	return errors.Join(failed...)
}
