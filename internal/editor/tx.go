package editor

import (
	"context"
	"sort"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/remote"
)

// mutation is one optimistic edit: apply runs under the write lock and
// returns its undo step, persist talks to the store without the lock and
// returns the commit step, which runs under the lock and yields the changes
// to broadcast.
type mutation struct {
	op   string
	kind broadcast.Kind
	id   model.ID

	apply   func() (undo func(), err error)
	persist func(ctx context.Context) (commit func() []broadcast.Change, err error)
}

func (e *Editor) run(ctx context.Context, m mutation) error {
	e.mu.Lock()
	undo, err := m.apply()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.notify()

	commit, err := m.persist(ctx)
	if err != nil {
		err = classify(m.op, m.kind, m.id, err)
		e.mu.Lock()
		if undo != nil {
			undo()
		}
		e.mu.Unlock()
		e.notify()
		e.log.Warn("editor: rolled back", "op", m.op, "kind", m.kind, "id", m.id, "err", err)
		return err
	}

	var changes []broadcast.Change
	e.mu.Lock()
	if commit != nil {
		changes = commit()
	}
	e.lastSaved = e.now()
	e.mu.Unlock()
	e.notify()
	e.log.Debug("editor: committed", "op", m.op, "kind", m.kind, "id", m.id)
	e.publish(ctx, changes)
	return nil
}

// move is one position change produced by a local reorder.
type move struct {
	id       model.ID
	from, to int
}

// diffPositions compares positions before and after a reorder. Pending
// entities are skipped; their creation carries the position.
func diffPositions(before map[model.ID]int, after []model.ID, pending map[model.ID]bool) []move {
	out := []move{}
	for i, id := range after {
		if pending[id] {
			continue
		}
		if from, ok := before[id]; ok && from != i+1 {
			out = append(out, move{id: id, from: from, to: i + 1})
		}
	}
	return out
}

// persistPositions writes each new position. When one write fails, the
// positions already written are put back on a best-effort basis.
func (e *Editor) persistPositions(ctx context.Context, kind broadcast.Kind, moves []move) error {
	update := func(id model.ID, pos int) error {
		f := remote.Fields{FieldPosition: pos}
		var err error
		switch kind {
		case broadcast.KindGroup:
			_, err = e.api.UpdateGroup(ctx, id, f)
		case broadcast.KindQuestion:
			_, err = e.api.UpdateQuestion(ctx, id, f)
		case broadcast.KindOption:
			_, err = e.api.UpdateOption(ctx, id, f)
		}
		return err
	}
	for i, m := range moves {
		if err := update(m.id, m.to); err != nil {
			for _, done := range moves[:i] {
				if cerr := update(done.id, done.from); cerr != nil {
					e.log.Warn("editor: restore position", "kind", kind, "id", done.id, "err", cerr)
				}
			}
			return err
		}
	}
	return nil
}

func positionChanges(kind broadcast.Kind, moves []move) []broadcast.Change {
	out := make([]broadcast.Change, 0, len(moves))
	for _, m := range moves {
		c, err := broadcast.SetField(kind, m.id, FieldPosition, m.to, 0)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// rankBy returns a sort key that follows order, placing unknown ids last.
func rankBy(order []model.ID) func(model.ID) int {
	idx := make(map[model.ID]int, len(order))
	for i, id := range order {
		idx[id] = i
	}
	return func(id model.ID) int {
		if i, ok := idx[id]; ok {
			return i
		}
		return len(order)
	}
}

func reorderGroups(s *model.Survey, order []model.ID) {
	rank := rankBy(order)
	sort.SliceStable(s.Groups, func(i, j int) bool { return rank(s.Groups[i].ID) < rank(s.Groups[j].ID) })
	s.RenumberGroups()
}

func reorderQuestions(g *model.Group, order []model.ID) {
	rank := rankBy(order)
	sort.SliceStable(g.Questions, func(i, j int) bool { return rank(g.Questions[i].ID) < rank(g.Questions[j].ID) })
	g.RenumberQuestions()
}

func reorderOptions(q *model.Question, order []model.ID) {
	rank := rankBy(order)
	sort.SliceStable(q.Options, func(i, j int) bool { return rank(q.Options[i].ID) < rank(q.Options[j].ID) })
	q.RenumberOptions()
}

// clampPosition maps a 1-based target position into [1, n].
func clampPosition(pos, n int) int {
	if pos < 1 {
		return 1
	}
	if pos > n {
		return n
	}
	return pos
}

func moveSlice[T any](xs []T, from, to int) []T {
	if from == to {
		return xs
	}
	x := xs[from]
	xs = append(xs[:from], xs[from+1:]...)
	xs = append(xs[:to], append([]T{x}, xs[to:]...)...)
	return xs
}

func insertAt[T any](xs []T, i int, x T) []T {
	if i < 0 {
		i = 0
	}
	if i > len(xs) {
		i = len(xs)
	}
	return append(xs[:i], append([]T{x}, xs[i:]...)...)
}
