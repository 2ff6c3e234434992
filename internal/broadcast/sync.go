package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"surveyor/internal/model"

	"github.com/google/uuid"
)

// Applier applies a change received from another tab directly to a local
// model. It must not issue persistence calls for the change.
type Applier interface {
	ApplyChange(ctx context.Context, c Change) error
}

// ErrStale marks a change that refers to an entity not present locally.
// Receivers drop such changes silently.
var ErrStale = errors.New("broadcast: stale change")

// Synchronizer connects one editor to a survey's broadcast channel.
type Synchronizer struct {
	ch       Channel
	in       <-chan Change
	stop     func()
	surveyID model.ID
	sender   string
	log      *slog.Logger

	pubMu sync.Mutex
	seq   uint64

	mu      sync.Mutex
	lastSeq map[string]uint64
}

func NewSynchronizer(ch Channel, surveyID model.ID, log *slog.Logger) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	sender := uuid.NewString()
	// Subscribe now so changes published before Run starts are queued.
	in, stop := ch.Subscribe()
	return &Synchronizer{
		ch:       ch,
		in:       in,
		stop:     stop,
		surveyID: surveyID,
		sender:   sender,
		log:      log.With("survey", surveyID, "sender", sender),
		lastSeq:  map[string]uint64{},
	}
}

// Open opens the survey's channel through o and wraps it.
func Open(ctx context.Context, o Opener, surveyID model.ID, log *slog.Logger) (*Synchronizer, error) {
	ch, err := o.Open(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	return NewSynchronizer(ch, surveyID, log), nil
}

func (s *Synchronizer) Sender() string { return s.sender }

// Publish stamps and publishes changes in order.
func (s *Synchronizer) Publish(ctx context.Context, changes ...Change) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	for _, c := range changes {
		s.seq++
		c.SurveyID = s.surveyID
		c.Sender = s.sender
		c.Seq = s.seq
		if err := s.ch.Publish(ctx, c); err != nil {
			return err
		}
		s.log.Debug("broadcast: published", "change", c.String(), "seq", c.Seq)
	}
	return nil
}

// Run applies received changes to a until ctx is done or the channel closes.
// Changes are handled one at a time, in arrival order. Run must not be
// called more than once.
func (s *Synchronizer) Run(ctx context.Context, a Applier) error {
	in := s.in
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-in:
			if !ok {
				return nil
			}
			if !s.accept(c) {
				continue
			}
			if err := a.ApplyChange(ctx, c); err != nil {
				if errors.Is(err, ErrStale) {
					s.log.Debug("broadcast: dropped stale change", "change", c.String(), "from", c.Sender)
					continue
				}
				s.log.Warn("broadcast: apply failed", "change", c.String(), "from", c.Sender, "err", err)
			}
		}
	}
}

// accept filters own echoes, foreign surveys and replayed sequence numbers.
func (s *Synchronizer) accept(c Change) bool {
	if c.SurveyID != s.surveyID || c.Sender == s.sender {
		return false
	}
	if c.Sender == "" || c.Seq == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Seq <= s.lastSeq[c.Sender] {
		return false
	}
	s.lastSeq[c.Sender] = c.Seq
	return true
}

func (s *Synchronizer) Close() error {
	s.stop()
	return s.ch.Close()
}
