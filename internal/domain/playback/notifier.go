package playback

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type subscription struct {
	id uint64
	l  Listener
}

// Notifier fans engine events out to listeners. Publish never blocks; events
// are delivered in publish order on a single goroutine, so listeners may call
// back into the engine.
type Notifier struct {
	mu      sync.Mutex
	pending []Event
	subs    []subscription
	nextID  uint64
	seq     uint64
	closed  bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewNotifier creates a notifier and starts its delivery goroutine.
func NewNotifier() *Notifier {
	n := &Notifier{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Subscribe registers l and returns a function that removes it.
func (n *Notifier) Subscribe(l Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscription{id: id, l: l})

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s.id == id {
				n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish stamps ev with the next sequence number and queues it for delivery.
// A progress event replaces an undelivered progress event queued right before
// it and takes over its sequence number. Events published after Close are
// dropped.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if last := len(n.pending) - 1; ev.Type == EventProgress && last >= 0 && n.pending[last].Type == EventProgress {
		ev.Seq = n.pending[last].Seq
		n.pending[last] = ev
	} else {
		n.seq++
		ev.Seq = n.seq
		n.pending = append(n.pending, ev)
	}
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Close delivers any queued events and stops the delivery goroutine.
// It must not be called from a listener.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.done)
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.wake:
			n.drain()
		case <-n.done:
			n.drain()
			return
		}
	}
}

func (n *Notifier) drain() {
	for {
		n.mu.Lock()
		batch := n.pending
		n.pending = nil
		subs := append([]subscription(nil), n.subs...)
		n.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			for _, s := range subs {
				deliver(s.l, ev)
			}
		}
	}
}

func deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(ev.Type)).Msg("Event listener panicked")
		}
	}()
	l.OnEvent(ev)
}
