package dropdir

import (
	"context"
	"time"
)

// settled is delivered once a path has been quiet for the settle period.
type settled struct {
	path string
	gen  uint64
}

// debouncer delays a path until no event has touched it for settle. It is
// owned by one goroutine; timer callbacks only send on ready.
type debouncer struct {
	ctx    context.Context
	settle time.Duration
	ready  chan settled
	next   uint64
	timers map[string]pending
}

type pending struct {
	timer *time.Timer
	gen   uint64
}

func newDebouncer(ctx context.Context, settle time.Duration) *debouncer {
	return &debouncer{
		ctx:    ctx,
		settle: settle,
		ready:  make(chan settled),
		timers: make(map[string]pending),
	}
}

// touch (re)starts the quiet period for path. A timer that has already fired
// is replaced, so its delivery becomes stale.
func (d *debouncer) touch(path string) {
	if p, ok := d.timers[path]; ok && p.timer.Stop() {
		p.timer.Reset(d.settle)
		return
	}
	d.next++
	ev := settled{path: path, gen: d.next}
	t := time.AfterFunc(d.settle, func() {
		select {
		case d.ready <- ev:
		case <-d.ctx.Done():
		}
	})
	d.timers[path] = pending{timer: t, gen: ev.gen}
}

// done reports whether ev is the latest timer for its path and forgets the
// path if so. Stale deliveries return false and must be ignored.
func (d *debouncer) done(ev settled) bool {
	p, ok := d.timers[ev.path]
	if !ok || p.gen != ev.gen {
		return false
	}
	delete(d.timers, ev.path)
	return true
}

func (d *debouncer) stop() {
	for _, p := range d.timers {
		p.timer.Stop()
	}
}
