// Package editor is the survey editing state engine: an in-memory survey
// model that is changed optimistically, persisted through a remote.API and
// committed or rolled back per mutation.
package editor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/remote"
)

// Publisher receives committed changes for other tabs. *broadcast.Synchronizer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, changes ...broadcast.Change) error
}

type Options struct {
	Logger    *slog.Logger
	Publisher Publisher
	Now       func() time.Time
}

type draftKey struct {
	kind  broadcast.Kind
	id    model.ID
	field string
}

// Editor owns one survey being edited. All methods are safe for concurrent
// use; remote calls are made without holding the model lock.
type Editor struct {
	api remote.API
	ids *TempIDs
	log *slog.Logger
	now func() time.Time

	pubMu sync.RWMutex
	pub   Publisher

	mu        sync.RWMutex
	survey    model.Survey
	answers   model.Answers
	drafts    map[draftKey]any
	lastSaved time.Time
	// placed holds the temporary ids this editor handed out that are still
	// waiting for their create to commit.
	placed map[model.ID]bool

	watchMu  sync.Mutex
	watchers map[chan struct{}]struct{}
}

func New(api remote.API, s model.Survey, opts Options) *Editor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s = s.Clone()
	if s.Settings == nil {
		s.Settings = map[model.ID]model.QuestionSettings{}
	}
	s.SortByPosition()
	return &Editor{
		api:      api,
		ids:      NewTempIDs(now),
		log:      log.With("survey", s.ID),
		now:      now,
		pub:      opts.Publisher,
		survey:   s,
		answers:  model.Answers{},
		drafts:   map[draftKey]any{},
		placed:   map[model.ID]bool{},
		watchers: map[chan struct{}]struct{}{},
	}
}

// Open loads the survey from api and returns an editor for it.
func Open(ctx context.Context, api remote.API, surveyID model.ID, opts Options) (*Editor, error) {
	s, err := api.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, classify("load survey", broadcast.KindSurvey, surveyID, err)
	}
	return New(api, s, opts), nil
}

func (e *Editor) SetPublisher(p Publisher) {
	e.pubMu.Lock()
	e.pub = p
	e.pubMu.Unlock()
}

func (e *Editor) SurveyID() model.ID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.survey.ID
}

// Snapshot returns a deep copy of the current model.
func (e *Editor) Snapshot() model.Survey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.survey.Clone()
}

func (e *Editor) Answers() model.Answers {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.answers.Clone()
}

func (e *Editor) LastSaved() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSaved
}

// HasDrafts reports whether any live edit has not been committed yet.
func (e *Editor) HasDrafts() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.drafts) > 0
}

// Watch returns a channel that receives a signal after every model change.
// Signals coalesce; a slow reader sees at least one after the latest change.
func (e *Editor) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.watchMu.Lock()
	e.watchers[ch] = struct{}{}
	e.watchMu.Unlock()
	cancel := func() {
		e.watchMu.Lock()
		delete(e.watchers, ch)
		e.watchMu.Unlock()
	}
	return ch, cancel
}

func (e *Editor) notify() {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	for ch := range e.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *Editor) publish(ctx context.Context, changes []broadcast.Change) {
	if len(changes) == 0 {
		return
	}
	e.pubMu.RLock()
	p := e.pub
	e.pubMu.RUnlock()
	if p == nil {
		return
	}
	// The mutation is already persisted; a lost broadcast only delays other
	// tabs until their next reload.
	if err := p.Publish(ctx, changes...); err != nil {
		e.log.Warn("editor: broadcast failed", "changes", len(changes), "err", err)
	}
}

// Reload replaces the model with the persisted survey. Pending placeholders
// and uncommitted live edits survive the reload.
func (e *Editor) Reload(ctx context.Context) error {
	id := e.SurveyID()
	fresh, err := e.api.GetSurvey(ctx, id)
	if err != nil {
		return classify("reload survey", broadcast.KindSurvey, id, err)
	}
	e.mu.Lock()
	e.replaceLocked(fresh)
	e.mu.Unlock()
	e.notify()
	e.log.Debug("editor: reloaded")
	return nil
}

func (e *Editor) replaceLocked(fresh model.Survey) {
	fresh = fresh.Clone()
	if fresh.Settings == nil {
		fresh.Settings = map[model.ID]model.QuestionSettings{}
	}
	fresh.SortByPosition()
	old := e.survey

	for _, g := range old.Groups {
		if e.ownsLocked(g.ID) {
			if ng, _ := fresh.FindGroup(g.ID); ng == nil {
				fresh.Groups = append(fresh.Groups, g.Clone())
			}
		}
		for _, q := range g.Questions {
			if e.ownsLocked(q.ID) {
				if ng, _ := fresh.FindGroup(q.GroupID); ng != nil {
					if nq, _, _ := fresh.FindQuestion(q.ID); nq == nil {
						ng.Questions = append(ng.Questions, q.Clone())
						if qs, ok := old.Settings[q.ID]; ok {
							fresh.Settings[q.ID] = qs.Clone()
						}
					}
				}
				continue
			}
			for _, o := range q.Options {
				if !e.ownsLocked(o.ID) {
					continue
				}
				if nq, _, _ := fresh.FindQuestion(q.ID); nq != nil {
					if no, _, _ := fresh.FindOption(o.ID); no == nil {
						nq.Options = append(nq.Options, o.Clone())
					}
				}
			}
		}
	}
	fresh.RenumberGroups()
	for gi := range fresh.Groups {
		g := &fresh.Groups[gi]
		g.RenumberQuestions()
		for qi := range g.Questions {
			g.Questions[qi].RenumberOptions()
		}
	}
	e.survey = fresh

	for k := range e.drafts {
		base, ok := getField(&e.survey, k.kind, k.id, k.field)
		cur, curOK := getField(&old, k.kind, k.id, k.field)
		if !ok || !curOK {
			delete(e.drafts, k)
			continue
		}
		e.drafts[k] = base
		if err := setField(&e.survey, k.kind, k.id, k.field, cur); err != nil {
			delete(e.drafts, k)
		}
	}
}
