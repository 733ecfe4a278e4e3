package remote

import "sync"

// feed is the Subscription every backend hands out. Backends call deliver
// for each change and end when the underlying stream stops.
type feed struct {
	table  Table
	events []EventType
	fn     func(Notification)

	// leave runs once on Unsubscribe, before the feed ends.
	leave func()

	mu   sync.Mutex
	done chan struct{}
	err  error
	shut bool
}

func newFeed(table Table, events []EventType, fn func(Notification)) *feed {
	if len(events) == 0 {
		events = []EventType{EventAll}
	}
	return &feed{table: table, events: events, fn: fn, done: make(chan struct{})}
}

// deliver passes n to the callback if the feed is open and wants n.Type.
func (f *feed) deliver(n Notification) {
	f.mu.Lock()
	shut := f.shut
	f.mu.Unlock()
	if shut {
		return
	}
	for _, e := range f.events {
		if e.matches(n.Type) {
			f.fn(n)
			return
		}
	}
}

func (f *feed) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shut {
		return
	}
	f.shut = true
	f.err = err
	close(f.done)
}

func (f *feed) Done() <-chan struct{} { return f.done }

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *feed) Unsubscribe() {
	f.mu.Lock()
	shut := f.shut
	f.mu.Unlock()
	if shut {
		return
	}
	if f.leave != nil {
		f.leave()
	}
	f.end(nil)
}
