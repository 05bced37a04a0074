package broker

import "context"

// CreateQueue registers a queue under queueID.
func (b *Broker) CreateQueue(ctx context.Context, name, queueID string, options map[string]string) (*Queue, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.CreateQueue(ctx, name, queueID, options)
}

// GetQueue returns a queue's metadata.
func (b *Broker) GetQueue(ctx context.Context, queueID string) (*Queue, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.GetQueue(ctx, queueID)
}

// GetAllQueues lists every known queue.
func (b *Broker) GetAllQueues(ctx context.Context, opts ListOptions) ([]*Queue, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.GetAllQueues(ctx, opts)
}

// UpdateQueue applies metadata updates to a queue.
func (b *Broker) UpdateQueue(ctx context.Context, queueID string, updates map[string]string) (*Queue, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.UpdateQueue(ctx, queueID, updates)
}

// DeleteQueue removes a queue and everything keyed under it.
func (b *Broker) DeleteQueue(ctx context.Context, queueID string) (*Queue, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.DeleteQueue(ctx, queueID)
}

// RenameQueue moves a queue and its contents to a new id.
func (b *Broker) RenameQueue(ctx context.Context, oldID, newID string) (*Queue, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.RenameQueue(ctx, oldID, newID)
}

// PauseQueue stops a queue from accepting or releasing items.
func (b *Broker) PauseQueue(ctx context.Context, queueID string) (*Queue, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.PauseQueue(ctx, queueID)
}

// ResumeQueue lifts a pause.
func (b *Broker) ResumeQueue(ctx context.Context, queueID string) (*Queue, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.ResumeQueue(ctx, queueID)
}

// ClearQueue drops every item and returns how many were removed.
func (b *Broker) ClearQueue(ctx context.Context, queueID string) (int64, error) {
	if err := b.ready(ctx); err != nil {
		return 0, err
	}
	return b.mgr.ClearQueue(ctx, queueID)
}
