package uploader

import "sync"

// EventType selects the notifications a Listener receives.
type EventType int

const (
	// EventProgress fires after every confirmed chunk, and with zero progress on cancel.
	EventProgress EventType = iota
	// EventComplete fires once the file is stored on the server.
	EventComplete
	// EventError fires for every failure, fatal or not.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventProgress:
		return "progress"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a notification of a Session.
type Event struct {
	Type EventType
	// Progress is set for EventProgress.
	Progress Progress
	// Err is set for EventError.
	Err error
}

// Listener receives events on the goroutine running the session. It must not block;
// it may call Pause, Resume or Cancel.
type Listener func(Event)

type subscription struct {
	id       int
	listener Listener
}

type bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[EventType][]subscription
}

func newBus() *bus {
	return &bus{subs: map[EventType][]subscription{}}
}

func (b *bus) on(t EventType, l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, listener: l})

	var once sync.Once
	return func() {
		once.Do(func() { b.off(t, id) })
	}
}

func (b *bus) off(t EventType, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *bus) emit(e Event) {
	b.mu.Lock()
	subs := b.subs[e.Type]
	b.mu.Unlock()

	for _, s := range subs {
		s.listener(e)
	}
}
