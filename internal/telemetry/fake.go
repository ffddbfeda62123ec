package telemetry

import "sync"

// FakePublisher records published telemetry for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains every published event.
	Events []Event
	// Statuses contains every published status.
	Statuses []Status
	// Payloads contains the JSON payloads in publish order.
	Payloads [][]byte
	// PublishError, if set, is returned by both publish methods.
	PublishError error
	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishEvent records the event.
func (f *FakePublisher) PublishEvent(e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatEvent(e)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, e)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishStatus records the status.
func (f *FakePublisher) PublishStatus(s Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatStatus(s)
	if err != nil {
		return err
	}
	f.Statuses = append(f.Statuses, s)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// EventKinds returns the kinds of all recorded events in order.
func (f *FakePublisher) EventKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, len(f.Events))
	for i, e := range f.Events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Snapshot returns copies of the recorded events and statuses.
func (f *FakePublisher) Snapshot() ([]Event, []Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.Events...), append([]Status(nil), f.Statuses...)
}
