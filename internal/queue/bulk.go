package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/model"
)

// Bulk batches run bulkBatchSize per-item operations concurrently, then
// wait at least bulkPageInterval before the next page so a large batch
// cannot monopolize the connection pool.
const (
	bulkBatchSize    = 10
	bulkPageInterval = 10 * time.Millisecond
)

// BulkEntry pairs one payload with its add options.
type BulkEntry struct {
	Data interface{}
	Opts AddOptions
}

// bulkOutcome is one slot of a batch result, written by exactly one
// worker goroutine.
type bulkOutcome struct {
	id   string
	item *model.Item
	err  error
}

// bulkPages walks the indices page by page: every index in a page runs
// concurrently, pages run in order, and the limiter spaces page starts.
// A cancelled context marks the remaining indices instead of dropping
// them silently.
func bulkPages(ctx context.Context, n int, visit func(i int), cancelled func(i int, err error)) {
	limiter := rate.NewLimiter(rate.Every(bulkPageInterval), 1)
	for pageStart := 0; pageStart < n; pageStart += bulkBatchSize {
		if err := limiter.Wait(ctx); err != nil {
			for i := pageStart; i < n; i++ {
				cancelled(i, err)
			}
			return
		}
		end := pageStart + bulkBatchSize
		if end > n {
			end = n
		}
		var g errgroup.Group
		for i := pageStart; i < end; i++ {
			g.Go(func() error {
				visit(i)
				return nil
			})
		}
		// Workers report through their outcome slot, never through the group.
		_ = g.Wait()
	}
}

func collectBulk(outcomes []bulkOutcome) *model.BulkResult {
	res := &model.BulkResult{Successful: make([]string, 0, len(outcomes))}
	for _, o := range outcomes {
		if o.err != nil {
			res.Failed++
			res.Errors = append(res.Errors, model.BulkError{ItemID: o.id, Error: o.err.Error()})
			continue
		}
		res.Successful = append(res.Successful, o.id)
		if o.item != nil {
			res.Items = append(res.Items, o.item)
		}
	}
	return res
}

// BulkAddItems adds a batch of payloads. Each entry succeeds or fails on
// its own; the result ties every failure to the id the item would have
// carried.
func (m *Manager) BulkAddItems(ctx context.Context, queueID string, entries []BulkEntry) (*model.BulkResult, error) {
	const op = "queue.BulkAddItems"
	start := time.Now()

	if len(entries) == 0 {
		return &model.BulkResult{Successful: []string{}}, nil
	}
	// One existence check gates the whole batch.
	if _, err := m.loadQueue(ctx, op, queueID); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	outcomes := make([]bulkOutcome, len(entries))
	bulkPages(ctx, len(entries),
		func(i int) {
			opts := entries[i].Opts
			if opts.ItemID == "" {
				// Assign the id up front so a failed entry is still
				// identifiable in the error list.
				opts.ItemID = uuid.New().String()
			}
			item, err := m.AddToQueue(ctx, queueID, entries[i].Data, opts)
			if err != nil {
				outcomes[i] = bulkOutcome{id: opts.ItemID, err: err}
				return
			}
			outcomes[i] = bulkOutcome{id: item.ID, item: item}
		},
		func(i int, err error) {
			outcomes[i] = bulkOutcome{id: entries[i].Opts.ItemID, err: err}
		})

	res := collectBulk(outcomes)
	m.log.Info("bulk add finished", "queue_id", queueID,
		"succeeded", len(res.Successful), "failed", res.Failed)
	m.observe(op, queueID, start, nil)
	return res, nil
}

// BulkUpdateItemStatus sets the status of a batch of items.
func (m *Manager) BulkUpdateItemStatus(ctx context.Context, queueID string, itemIDs []string, status model.ItemStatus) (*model.BulkResult, error) {
	const op = "queue.BulkUpdateItemStatus"
	start := time.Now()

	if len(itemIDs) == 0 {
		return &model.BulkResult{Successful: []string{}}, nil
	}
	if _, err := m.loadQueue(ctx, op, queueID); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	updates := map[string]interface{}{"status": status}
	outcomes := make([]bulkOutcome, len(itemIDs))
	bulkPages(ctx, len(itemIDs),
		func(i int) {
			item, err := m.UpdateItem(ctx, queueID, itemIDs[i], updates, hooks.Set{})
			outcomes[i] = bulkOutcome{id: itemIDs[i], item: item, err: err}
		},
		func(i int, err error) {
			outcomes[i] = bulkOutcome{id: itemIDs[i], err: err}
		})

	res := collectBulk(outcomes)
	m.log.Info("bulk status update finished", "queue_id", queueID, "status", string(status),
		"succeeded", len(res.Successful), "failed", res.Failed)
	m.observe(op, queueID, start, nil)
	return res, nil
}

// BulkDeleteItems removes a batch of items by id.
func (m *Manager) BulkDeleteItems(ctx context.Context, queueID string, itemIDs []string) (*model.BulkResult, error) {
	const op = "queue.BulkDeleteItems"
	start := time.Now()

	if len(itemIDs) == 0 {
		return &model.BulkResult{Successful: []string{}}, nil
	}
	if _, err := m.loadQueue(ctx, op, queueID); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	outcomes := make([]bulkOutcome, len(itemIDs))
	bulkPages(ctx, len(itemIDs),
		func(i int) {
			item, err := m.DeleteItemFromQueue(ctx, queueID, itemIDs[i], hooks.Set{})
			outcomes[i] = bulkOutcome{id: itemIDs[i], item: item, err: err}
		},
		func(i int, err error) {
			outcomes[i] = bulkOutcome{id: itemIDs[i], err: err}
		})

	res := collectBulk(outcomes)
	m.log.Info("bulk delete finished", "queue_id", queueID,
		"succeeded", len(res.Successful), "failed", res.Failed)
	m.observe(op, queueID, start, nil)
	return res, nil
}
