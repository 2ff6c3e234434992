package model

import (
	"fmt"
	"sort"
)

// Clone returns a deep copy of the survey. Nothing in the copy aliases s.
func (s Survey) Clone() Survey {
	out := s
	out.Groups = make([]Group, len(s.Groups))
	for i, g := range s.Groups {
		out.Groups[i] = g.Clone()
	}
	if s.Settings != nil {
		out.Settings = make(map[ID]QuestionSettings, len(s.Settings))
		for k, v := range s.Settings {
			out.Settings[k] = v.Clone()
		}
	}
	return out
}

func (g Group) Clone() Group {
	out := g
	out.Questions = make([]Question, len(g.Questions))
	for i, q := range g.Questions {
		out.Questions[i] = q.Clone()
	}
	return out
}

func (q Question) Clone() Question {
	out := q
	if q.MaxLength != nil {
		v := *q.MaxLength
		out.MaxLength = &v
	}
	if q.Points != nil {
		v := *q.Points
		out.Points = &v
	}
	out.Options = make([]Option, len(q.Options))
	for i, o := range q.Options {
		out.Options[i] = o.Clone()
	}
	return out
}

func (o Option) Clone() Option {
	out := o
	if o.Image != nil {
		v := *o.Image
		out.Image = &v
	}
	if o.IsCorrect != nil {
		v := *o.IsCorrect
		out.IsCorrect = &v
	}
	return out
}

func (qs QuestionSettings) Clone() QuestionSettings {
	out := qs
	if qs.Conditions != nil {
		out.Conditions = make([]Condition, len(qs.Conditions))
		for i, c := range qs.Conditions {
			out.Conditions[i] = c
			if c.TargetQuestionID != nil {
				v := *c.TargetQuestionID
				out.Conditions[i].TargetQuestionID = &v
			}
		}
	}
	if qs.AllowedFileTypes != nil {
		out.AllowedFileTypes = append([]string(nil), qs.AllowedFileTypes...)
	}
	return out
}

func (s *Survey) FindGroup(id ID) (*Group, int) {
	for i := range s.Groups {
		if s.Groups[i].ID == id {
			return &s.Groups[i], i
		}
	}
	return nil, -1
}

// FindQuestion returns the question, its owning group and its index in the group.
func (s *Survey) FindQuestion(id ID) (*Question, *Group, int) {
	for gi := range s.Groups {
		g := &s.Groups[gi]
		for qi := range g.Questions {
			if g.Questions[qi].ID == id {
				return &g.Questions[qi], g, qi
			}
		}
	}
	return nil, nil, -1
}

// FindOption returns the option, its owning question and its index in the question.
func (s *Survey) FindOption(id ID) (*Option, *Question, int) {
	for gi := range s.Groups {
		g := &s.Groups[gi]
		for qi := range g.Questions {
			q := &g.Questions[qi]
			for oi := range q.Options {
				if q.Options[oi].ID == id {
					return &q.Options[oi], q, oi
				}
			}
		}
	}
	return nil, nil, -1
}

// QuestionOrder returns question ids in flattened group→question display order.
func (s *Survey) QuestionOrder() []ID {
	out := []ID{}
	for _, g := range s.Groups {
		for _, q := range g.Questions {
			out = append(out, q.ID)
		}
	}
	return out
}

// Precedes reports whether a occurs strictly before b in display order.
func (s *Survey) Precedes(a, b ID) bool {
	ia, ib := -1, -1
	for i, id := range s.QuestionOrder() {
		if id == a {
			ia = i
		}
		if id == b {
			ib = i
		}
	}
	return ia >= 0 && ib >= 0 && ia < ib
}

// SortByPosition orders groups, questions and options by their position field.
// Ties keep their current relative order.
func (s *Survey) SortByPosition() {
	sort.SliceStable(s.Groups, func(i, j int) bool { return s.Groups[i].Position < s.Groups[j].Position })
	for gi := range s.Groups {
		g := &s.Groups[gi]
		sort.SliceStable(g.Questions, func(i, j int) bool { return g.Questions[i].Position < g.Questions[j].Position })
		for qi := range g.Questions {
			q := &g.Questions[qi]
			sort.SliceStable(q.Options, func(i, j int) bool { return q.Options[i].Position < q.Options[j].Position })
		}
	}
}

// RenumberOptions assigns contiguous 1-based positions in slice order and
// returns the ids whose position changed.
func (q *Question) RenumberOptions() []ID {
	changed := []ID{}
	for i := range q.Options {
		if q.Options[i].Position != i+1 {
			q.Options[i].Position = i + 1
			changed = append(changed, q.Options[i].ID)
		}
	}
	return changed
}

func (g *Group) RenumberQuestions() []ID {
	changed := []ID{}
	for i := range g.Questions {
		if g.Questions[i].Position != i+1 {
			g.Questions[i].Position = i + 1
			changed = append(changed, g.Questions[i].ID)
		}
	}
	return changed
}

func (s *Survey) RenumberGroups() []ID {
	changed := []ID{}
	for i := range s.Groups {
		if s.Groups[i].Position != i+1 {
			s.Groups[i].Position = i + 1
			changed = append(changed, s.Groups[i].ID)
		}
	}
	return changed
}

// CheckIntegrity verifies parent references and position contiguity.
func (s *Survey) CheckIntegrity() error {
	type key struct {
		kind string
		id   ID
	}
	seen := map[key]bool{}
	note := func(kind string, id ID) error {
		if id == 0 {
			return fmt.Errorf("%s with unset id", kind)
		}
		k := key{kind: kind, id: id}
		if seen[k] {
			return fmt.Errorf("duplicate %s id %d", kind, id)
		}
		seen[k] = true
		return nil
	}
	for gi, g := range s.Groups {
		if err := note("group", g.ID); err != nil {
			return err
		}
		if g.Position != gi+1 {
			return fmt.Errorf("group %d: position %d, want %d", g.ID, g.Position, gi+1)
		}
		for qi, q := range g.Questions {
			if err := note("question", q.ID); err != nil {
				return err
			}
			if q.GroupID != g.ID {
				return fmt.Errorf("question %d: group id %d does not match owner %d", q.ID, q.GroupID, g.ID)
			}
			if q.Position != qi+1 {
				return fmt.Errorf("question %d: position %d, want %d", q.ID, q.Position, qi+1)
			}
			for oi, o := range q.Options {
				if err := note("option", o.ID); err != nil {
					return err
				}
				if o.QuestionID != q.ID {
					return fmt.Errorf("option %d: question id %d does not match owner %d", o.ID, o.QuestionID, q.ID)
				}
				if o.Position != oi+1 {
					return fmt.Errorf("option %d: position %d, want %d", o.ID, o.Position, oi+1)
				}
			}
		}
	}
	return nil
}
