// Package storage is the Redis adapter underneath the broker. Every command
// funnels through a single execute path that gates on connection readiness,
// passes through the circuit breaker and classifies driver errors into the
// broker's error taxonomy.
package storage

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
)

// Reconnect backoff bounds. The wait doubles per failed attempt and is
// capped so a long outage does not push retries apart indefinitely.
const (
	reconnectInitialWait = 1 * time.Second
	reconnectMaxWait     = 30 * time.Second
)

// Store wraps a Redis client with lazy connection handling, a circuit
// breaker and error classification. It is safe for concurrent use.
type Store struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	log     logger.Logger
	cfg     config.Redis

	readyCh   chan struct{}
	readyOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// New builds a Store from configuration. No connection is made until
// Connect or, with lazy connect, the first command.
func New(cfg config.Redis, breakerCfg config.Breaker, log logger.Logger) *Store {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	s := &Store{
		cfg:     cfg,
		log:     log.WithComponent(logger.ComponentStorage),
		readyCh: make(chan struct{}),
	}
	s.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.CommandTimeout,
		WriteTimeout: cfg.CommandTimeout,
		MaxRetries:   cfg.MaxRetriesPerRequest,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	if breakerCfg.Enabled {
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "redis",
			MaxRequests: breakerCfg.HalfOpenRequests,
			Timeout:     breakerCfg.CooldownPeriod,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerCfg.FailureThreshold
			},
			IsSuccessful: isBreakerSuccess,
			OnStateChange: func(name string, from, to gobreaker.State) {
				s.log.Warn("circuit breaker state changed",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return s
}

// isBreakerSuccess decides which results count against the breaker. Only
// connectivity failures should open it; a missing key or a server-side
// command error is still a completed round trip.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "client is closed"),
		strings.Contains(msg, "connection pool timeout"),
		strings.HasPrefix(msg, "LOADING"),
		strings.HasPrefix(msg, "CLUSTERDOWN"):
		return false
	}
	return true
}

// Connect dials Redis and marks the adapter ready. With lazy connect the
// first command calls this instead.
func (s *Store) Connect(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return qerrors.Classify("storage.connect", err)
	}
	s.markReady()
	return nil
}

func (s *Store) markReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
		s.log.Info("redis connection established", "addr", s.cfg.Addr(), "db", s.cfg.DB)
	})
}

// Ready reports whether the initial connection has been established.
func (s *Store) Ready() bool {
	select {
	case <-s.readyCh:
		return true
	default:
		return false
	}
}

// ReadyChan is closed once the initial connection succeeds.
func (s *Store) ReadyChan() <-chan struct{} {
	return s.readyCh
}

// WaitForConnection blocks until the adapter is ready or the timeout
// elapses. Failed attempts back off with doubling waits up to
// reconnectMaxWait. A timeout of zero falls back to the configured
// connect timeout.
func (s *Store) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	const op = "storage.waitForConnection"
	if s.Ready() {
		return nil
	}
	if s.isClosed() {
		return qerrors.Wrap(qerrors.KindStorage, op, qerrors.ErrClosed)
	}
	if timeout <= 0 {
		timeout = s.cfg.ConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := reconnectInitialWait
	for attempt := 1; ; attempt++ {
		err := s.Connect(ctx)
		if err == nil {
			return nil
		}
		if s.isClosed() {
			return qerrors.Wrap(qerrors.KindStorage, op, qerrors.ErrClosed)
		}
		s.log.Debug("redis not reachable, backing off",
			"attempt", attempt, "wait", wait.String(), "error", err.Error())
		select {
		case <-ctx.Done():
			return qerrors.Wrap(qerrors.KindTimeout, op, qerrors.ErrConnectionTimeout)
		case <-time.After(wait):
		}
		wait *= 2
		if wait > reconnectMaxWait {
			wait = reconnectMaxWait
		}
	}
}

// execute is the single funnel for every Redis command. It gates on
// readiness, applies the command timeout, passes through the breaker and
// classifies whatever comes back.
func (s *Store) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.isClosed() {
		return qerrors.Wrap(qerrors.KindStorage, op, qerrors.ErrClosed)
	}
	if !s.Ready() {
		// Lazy connect and the offline queue both translate to "block
		// until connected" here; with neither enabled unready commands
		// fail fast.
		if !s.cfg.LazyConnect && !s.cfg.EnableOfflineQueue {
			return qerrors.Wrap(qerrors.KindStorage, op, qerrors.ErrNotReady)
		}
		if err := s.WaitForConnection(ctx, s.cfg.ConnectTimeout); err != nil {
			return err
		}
	}

	run := func() error {
		cmdCtx := ctx
		if s.cfg.CommandTimeout > 0 {
			var cancel context.CancelFunc
			cmdCtx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
			defer cancel()
		}
		return fn(cmdCtx)
	}

	var err error
	if s.breaker != nil {
		_, err = s.breaker.Execute(func() (interface{}, error) {
			return nil, run()
		})
	} else {
		err = run()
	}
	if err != nil {
		return qerrors.Classify(op, err)
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Ping round-trips the server and reports the latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := s.execute(ctx, "ping", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Healthy reports whether a ping currently succeeds.
func (s *Store) Healthy(ctx context.Context) bool {
	_, err := s.Ping(ctx)
	return err == nil
}

// BreakerState reports the circuit breaker state, or "disabled" when the
// breaker is not configured.
func (s *Store) BreakerState() string {
	if s.breaker == nil {
		return "disabled"
	}
	return s.breaker.State().String()
}

// Close releases the connection pool. Commands issued afterwards fail
// with ErrClosed. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.client.Close(); err != nil {
		return qerrors.Classify("storage.close", err)
	}
	s.log.Info("redis connection closed")
	return nil
}
