package broadcast

import (
	"context"
	"errors"
	"sync"

	"surveyor/internal/model"
)

var ErrClosed = errors.New("broadcast: channel closed")

// Channel is one participant's endpoint on the broadcast channel of a single
// survey. Delivery order equals publish order for a single sender; there is
// no total order across senders.
type Channel interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe returns a stream of changes and a cancel func. The stream is
	// closed by cancel or by Close.
	Subscribe() (<-chan Change, func())
	Close() error
}

// Opener scopes channels to a survey id. Tabs editing different surveys
// never see each other's changes.
type Opener interface {
	Open(ctx context.Context, surveyID model.ID) (Channel, error)
}

// mailbox is an unbounded FIFO between a producer that must never block and
// a consumer reading from out.
type mailbox struct {
	mu     sync.Mutex
	queue  []Change
	notify chan struct{}
	out    chan Change
	done   chan struct{}
	once   sync.Once
}

func newMailbox() *mailbox {
	m := &mailbox{
		notify: make(chan struct{}, 1),
		out:    make(chan Change),
		done:   make(chan struct{}),
	}
	go m.pump()
	return m
}

func (m *mailbox) push(c Change) {
	m.mu.Lock()
	m.queue = append(m.queue, c)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.notify:
				continue
			case <-m.done:
				return
			}
		}
		c := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- c:
		case <-m.done:
			return
		}
	}
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}

// fanout tracks the subscribers of one endpoint.
type fanout struct {
	mu     sync.Mutex
	subs   map[*mailbox]struct{}
	closed bool
}

func newFanout() *fanout {
	return &fanout{subs: map[*mailbox]struct{}{}}
}

func (f *fanout) subscribe() (<-chan Change, func()) {
	m := newMailbox()
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		m.close()
		return m.out, func() {}
	}
	f.subs[m] = struct{}{}
	f.mu.Unlock()
	return m.out, func() {
		f.mu.Lock()
		delete(f.subs, m)
		f.mu.Unlock()
		m.close()
	}
}

func (f *fanout) deliver(c Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for m := range f.subs {
		m.push(c)
	}
}

func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for m := range f.subs {
		m.close()
	}
	f.subs = map[*mailbox]struct{}{}
}

func (f *fanout) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
