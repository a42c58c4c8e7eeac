package transport

import (
	"fmt"
	"sync"

	"github.com/easylayer/blockchain-provider/internal/universal"
)

// Fanout delivers new-block events to many subscribers. Delivery is
// defensive: a subscriber that panics or has no error handler cannot block
// or drop delivery to the others.
type Fanout struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*fanoutSub

	// onEmpty, when set, runs after the last subscriber leaves.
	onEmpty func()
}

type fanoutSub struct {
	onBlock BlockHandler
	onError ErrorHandler
}

func NewFanout() *Fanout {
	return &Fanout{subs: make(map[uint64]*fanoutSub)}
}

// SetOnEmpty registers a hook invoked when the subscriber count drops to
// zero (used to tear down push channels nobody listens to).
func (f *Fanout) SetOnEmpty(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEmpty = fn
}

func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Add registers a subscriber and returns its Subscription handle.
func (f *Fanout) Add(onBlock BlockHandler, onError ErrorHandler) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = &fanoutSub{onBlock: onBlock, onError: onError}
	return &fanoutHandle{f: f, id: id}
}

type fanoutHandle struct {
	f    *Fanout
	once sync.Once
	id   uint64
}

func (h *fanoutHandle) Unsubscribe() {
	h.once.Do(func() {
		h.f.mu.Lock()
		delete(h.f.subs, h.id)
		empty := len(h.f.subs) == 0
		onEmpty := h.f.onEmpty
		h.f.mu.Unlock()
		if empty && onEmpty != nil {
			onEmpty()
		}
	})
}

// Publish hands the block to every subscriber in turn. A panicking callback
// is reported to that subscriber's own onError; the loop continues.
func (f *Fanout) Publish(block *universal.Block) {
	for _, s := range f.snapshot() {
		deliver(s, block)
	}
}

// PublishError reports a stream-level error (e.g. a dropped push channel)
// to every subscriber.
func (f *Fanout) PublishError(err error) {
	for _, s := range f.snapshot() {
		if s.onError != nil {
			s.onError(err)
		}
	}
}

func (f *Fanout) snapshot() []*fanoutSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fanoutSub, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s)
	}
	return out
}

func deliver(s *fanoutSub, block *universal.Block) {
	defer func() {
		if r := recover(); r != nil && s.onError != nil {
			s.onError(fmt.Errorf("subscriber callback panicked: %v", r))
		}
	}()
	s.onBlock(block)
}
