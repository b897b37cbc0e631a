package monitor

import "sync/atomic"

// liveItems counts items with a bound sampler, process-wide. It feeds
// server diagnostics; registration happens on sampler bind and release
// on unbind. The item tracks its own registration so a double unbind
// never drives the count negative.
var liveItems atomic.Int64

// LiveItems returns the number of items currently bound to a sampler.
func LiveItems() int64 {
	return liveItems.Load()
}

func (it *Item) register() {
	if !it.registered {
		it.registered = true
		liveItems.Add(1)
	}
}

func (it *Item) unregister() {
	if it.registered {
		it.registered = false
		liveItems.Add(-1)
	}
}
