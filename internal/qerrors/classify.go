package qerrors

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Classify maps an arbitrary error from the storage layer into the broker
// taxonomy. Every Redis command result funnels through here exactly once so
// the rest of the codebase can branch on Kind instead of driver internals.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	// Already classified upstream; keep the original context.
	var qe *Error
	if errors.As(err, &qe) {
		return err
	}

	switch {
	case errors.Is(err, redis.Nil):
		return Wrap(KindNotFound, op, err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return Wrap(KindCircuitOpen, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindStorage, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindTimeout, op, err)
		}
		return Wrap(KindStorage, op, err)
	}

	// go-redis surfaces server-side errors as plain strings; the common
	// prefixes are stable across versions.
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "WRONGTYPE"),
		strings.HasPrefix(msg, "ERR"),
		strings.HasPrefix(msg, "READONLY"),
		strings.HasPrefix(msg, "LOADING"),
		strings.HasPrefix(msg, "CLUSTERDOWN"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "client is closed"),
		strings.Contains(msg, "connection pool timeout"):
		return Wrap(KindStorage, op, err)
	}

	return Wrap(KindUnknown, op, err)
}
