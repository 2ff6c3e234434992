package broadcast

import (
	"context"
	"sync"

	"surveyor/internal/model"
)

// Bus is an in-process broadcast channel. Every Open call yields an
// independent endpoint (one per tab); a change published on one endpoint is
// delivered to every other endpoint open on the same survey, never back to
// the publisher.
type Bus struct {
	mu   sync.Mutex
	hubs map[model.ID]*busHub
}

type busHub struct {
	mu        sync.Mutex
	endpoints map[*busEndpoint]struct{}
}

func NewBus() *Bus {
	return &Bus{hubs: map[model.ID]*busHub{}}
}

func (b *Bus) hubFor(surveyID model.ID) *busHub {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.hubs[surveyID]
	if h == nil {
		h = &busHub{endpoints: map[*busEndpoint]struct{}{}}
		b.hubs[surveyID] = h
	}
	return h
}

func (b *Bus) Open(_ context.Context, surveyID model.ID) (Channel, error) {
	h := b.hubFor(surveyID)
	ep := &busEndpoint{hub: h, surveyID: surveyID, out: newFanout()}
	h.mu.Lock()
	h.endpoints[ep] = struct{}{}
	h.mu.Unlock()
	return ep, nil
}

// Endpoints reports how many endpoints are open on a survey.
func (b *Bus) Endpoints(surveyID model.ID) int {
	h := b.hubFor(surveyID)
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.endpoints)
}

type busEndpoint struct {
	hub      *busHub
	surveyID model.ID
	out      *fanout
}

func (e *busEndpoint) Publish(ctx context.Context, c Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.out.isClosed() {
		return ErrClosed
	}
	c.SurveyID = e.surveyID
	// Holding the hub lock while delivering keeps one sender's changes in
	// publish order at every receiver.
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	for other := range e.hub.endpoints {
		if other == e {
			continue
		}
		other.out.deliver(c)
	}
	return nil
}

func (e *busEndpoint) Subscribe() (<-chan Change, func()) {
	return e.out.subscribe()
}

func (e *busEndpoint) Close() error {
	e.hub.mu.Lock()
	delete(e.hub.endpoints, e)
	e.hub.mu.Unlock()
	e.out.close()
	return nil
}
