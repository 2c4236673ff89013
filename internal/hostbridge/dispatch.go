package hostbridge

import "log"

// Dispatcher marshals host calls onto the thread the host requires.
// Viewer and browser operations must not run concurrently with each
// other; Sync blocks until fn ran, Async queues fn and returns.
type Dispatcher interface {
	Sync(fn func())
	Async(fn func())
}

// DirectDispatcher runs everything on the calling goroutine. Suitable
// for hosts without a thread-affinity requirement, and for tests.
type DirectDispatcher struct{}

func (DirectDispatcher) Sync(fn func())  { fn() }
func (DirectDispatcher) Async(fn func()) { fn() }

// SerialDispatcher funnels all calls through a single goroutine,
// preserving submission order. It models a host UI thread.
type SerialDispatcher struct {
	queue chan func()
	done  chan struct{}
}

// NewSerialDispatcher starts the dispatch goroutine.
func NewSerialDispatcher() *SerialDispatcher {
	d := &SerialDispatcher{
		queue: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *SerialDispatcher) loop() {
	defer close(d.done)
	for fn := range d.queue {
		fn()
	}
}

func (d *SerialDispatcher) Sync(fn func()) {
	ran := make(chan struct{})
	d.queue <- func() {
		defer close(ran)
		fn()
	}
	<-ran
}

func (d *SerialDispatcher) Async(fn func()) {
	select {
	case d.queue <- fn:
	default:
		// Queue full; run inline rather than drop the call.
		log.Printf("[hostbridge] dispatch queue full, running call inline")
		fn()
	}
}

// Close stops the dispatch goroutine after draining queued calls.
func (d *SerialDispatcher) Close() {
	close(d.queue)
	<-d.done
}
