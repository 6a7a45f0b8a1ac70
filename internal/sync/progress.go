package sync

import (
	gosync "sync"
)

// EventKind identifies an upload lifecycle milestone.
type EventKind int

const (
	// EventStart is emitted once before the first wave.
	EventStart EventKind = iota
	// EventProgress is emitted after each wave completes.
	EventProgress
	// EventComplete is emitted once after all waves succeed.
	EventComplete
	// EventError is emitted instead of EventComplete when a batch fails.
	EventError
)

// String returns the lower-case event name.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
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

// Event is a progress milestone for one dispatch (upload, update or delete).
type Event struct {
	Kind       EventKind
	UploadID   string
	Collection string
	Action     string

	// TotalTasks is the number of batches; set on Start and Complete.
	TotalTasks int

	// Completed and Total count finished and planned batches; set on Progress.
	Completed int
	Total     int

	// Err is the failure; set on Error.
	Err error
}

// Progress broadcasts Events to any number of listeners. Emitting with no
// listeners is a no-op. Listeners run synchronously on the emitting
// goroutine, in subscription order, and must not block.
type Progress struct {
	mu        gosync.Mutex
	nextID    int
	listeners map[int]func(Event)
	order     []int
}

// NewProgress creates an empty Progress.
func NewProgress() *Progress {
	return &Progress{listeners: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it.
func (p *Progress) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.order = append(p.order, id)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.listeners[id]; !ok {
			return
		}
		delete(p.listeners, id)
		for i, v := range p.order {
			if v == id {
				p.order = append(p.order[:i:i], p.order[i+1:]...)
				break
			}
		}
	}
}

// Channel subscribes a buffered channel of size buf. Events that do not fit
// are dropped rather than blocking the upload. The returned function
// unsubscribes and closes the channel.
func (p *Progress) Channel(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	var (
		mu     gosync.Mutex
		closed bool
	)
	unsub := p.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	return ch, func() {
		unsub()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

// Emit delivers ev to every current listener. A nil Progress is valid and
// drops every event.
func (p *Progress) Emit(ev Event) {
	if p == nil {
		return
	}
	p.mu.Lock()
	fns := make([]func(Event), 0, len(p.order))
	for _, id := range p.order {
		fns = append(fns, p.listeners[id])
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
