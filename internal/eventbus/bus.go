package eventbus

// Capacity is the bounded size of the event channel: producers block once it
// fills, and no event is ever silently dropped.
const Capacity = 2048

// Bus is a multi-producer, single-consumer bounded channel of Events. The
// watcher, the HTTP query handler, and configuration-reload plumbing all hold
// a *Bus and call its typed Send methods; only the index daemon ever reads
// from Events().
type Bus struct {
	events chan Event
}

// New creates a Bus with the standard bounded capacity.
func New() *Bus {
	return &Bus{events: make(chan Event, Capacity)}
}

// Events returns the consumer-side channel. Only the daemon should range over
// this.
func (b *Bus) Events() <-chan Event {
	return b.events
}

// SendCreated pushes a Created event. It blocks if the bus is full.
func (b *Bus) SendCreated(paths []string) {
	b.events <- Event{Kind: KindCreated, Paths: paths}
}

// SendUpdated pushes an Updated event. It blocks if the bus is full.
func (b *Bus) SendUpdated(paths []string) {
	b.events <- Event{Kind: KindUpdated, Paths: paths}
}

// SendRemoved pushes a Removed event. It blocks if the bus is full.
func (b *Bus) SendRemoved(paths []string) {
	b.events <- Event{Kind: KindRemoved, Paths: paths}
}

// SendConfigReloaded pushes a ConfigReloaded event naming the configuration
// file that changed.
func (b *Bus) SendConfigReloaded(configPath string) {
	b.events <- Event{Kind: KindConfigReloaded, ConfigPath: configPath}
}

// SendTerminate pushes the Terminate event. It must be the last event any
// caller sends once the daemon is being shut down.
func (b *Bus) SendTerminate() {
	b.events <- Event{Kind: KindTerminate}
}

// SendQuery constructs a fresh oneshot reply channel, embeds it in a Query
// event, and returns the receive side. The daemon guarantees it will send
// exactly one []QueryResult (or never send at all if it terminates first).
func (b *Bus) SendQuery(paths []string) <-chan []QueryResult {
	reply := make(chan []QueryResult, 1)
	b.events <- Event{Kind: KindQuery, Paths: paths, Reply: reply}
	return reply
}

// Close closes the underlying channel. Only the component responsible for the
// bus's lifetime (the process's main wiring) should call this, after the
// daemon has drained and returned.
func (b *Bus) Close() {
	close(b.events)
}
