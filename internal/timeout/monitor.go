package timeout

import (
	"context"
	"time"

	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// Start launches the background sweep loop. Safe to call once; repeat
// calls while running are no-ops.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run(m.stopCh, m.doneCh)
	m.log.Info("timeout monitor started", "interval", m.interval.String())
}

func (m *Monitor) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
			if _, err := m.CheckAllTimedOut(ctx); err != nil {
				m.log.Error("timeout sweep failed", "error", err.Error())
			}
			cancel()
		}
	}
}

// Stop halts the loop and waits for any in-flight sweep to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()
	<-done
	m.log.Info("timeout monitor stopped")
}

// CheckTimedOutJobs finalizes every tracked job of the queue whose
// deadline passed. Returns how many jobs were timed out.
func (m *Monitor) CheckTimedOutJobs(ctx context.Context, queueID string) (int, error) {
	const op = "timeout.CheckTimedOutJobs"
	start := time.Now()

	keys, err := m.store.ScanKeys(ctx, storage.TimeoutPattern(queueID))
	if err != nil {
		m.observe(op, queueID, start, err)
		return 0, err
	}

	now := time.Now()
	timedOut := 0
	for _, key := range keys {
		fields, err := m.store.HGetAll(ctx, key)
		if err != nil {
			m.observe(op, queueID, start, err)
			return timedOut, err
		}
		tracker := model.TimeoutTrackerFromHash(fields)
		if tracker == nil || tracker.JobID == "" {
			continue
		}
		if tracker.Status != model.StatusPending && tracker.Status != model.StatusProcessing {
			continue
		}
		if tracker.TimeoutAt.After(now) {
			continue
		}
		if err := m.finalizeTimedOut(ctx, op, queueID, tracker.JobID); err != nil {
			m.log.Warn("failed to finalize timed-out job",
				"queue_id", queueID, "job_id", tracker.JobID, "error", err.Error())
			continue
		}
		timedOut++
	}

	m.observe(op, queueID, start, nil)
	return timedOut, nil
}

// CheckAllTimedOut sweeps every queue. Per-queue failures are logged and
// do not stop the sweep.
func (m *Monitor) CheckAllTimedOut(ctx context.Context) (int, error) {
	queues, err := m.mgr.GetAllQueues(ctx, queue.ListOptions{})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, q := range queues {
		n, err := m.CheckTimedOutJobs(ctx, q.ID)
		if err != nil {
			m.log.Error("timeout sweep failed for queue", "queue_id", q.ID, "error", err.Error())
			continue
		}
		total += n
	}
	return total, nil
}
