package broker

// The event surface is process-local and does no I/O, so unlike the
// operation methods it is not gated on readiness. Listeners attached
// right after NewDeferred observe initialization events.

// OnEvent attaches a listener to every event. The returned id removes
// it.
func (b *Broker) OnEvent(fn Listener) (int, error) {
	return b.bus.Subscribe(fn)
}

// OnQueueEvent attaches a listener to one queue's events.
func (b *Broker) OnQueueEvent(queueID string, fn Listener) (int, error) {
	return b.bus.SubscribeQueue(queueID, fn)
}

// RemoveListener detaches a listener by id.
func (b *Broker) RemoveListener(id int) {
	b.bus.Unsubscribe(id)
}

// RemoveQueueListeners detaches every listener of one queue.
func (b *Broker) RemoveQueueListeners(queueID string) {
	b.bus.RemoveQueueListeners(queueID)
}

// Use installs middleware over event delivery.
func (b *Broker) Use(mw Middleware) {
	b.bus.Use(mw)
}

// EventAuditLog returns the retained event ring, oldest first. Empty
// unless events.enable_audit_log is set.
func (b *Broker) EventAuditLog() []Envelope {
	return b.bus.AuditLog()
}
