// Package visibility decides which questions a respondent sees.
package visibility

import (
	"fmt"
	"strings"

	"surveyor/internal/model"
)

type Mode int

const (
	// Design mode renders every question; conditions are not consulted.
	Design Mode = iota
	// Respondent mode renders only questions whose conditions are satisfied.
	Respondent
)

// IsVisible reports whether questionID is shown given the recorded answers.
// A question without conditions is always visible; otherwise any satisfied
// condition makes it visible. It never mutates its inputs.
func IsVisible(questionID model.ID, answers model.Answers, settings map[model.ID]model.QuestionSettings) bool {
	qs, ok := settings[questionID]
	if !ok || len(qs.Conditions) == 0 {
		return true
	}
	for _, c := range qs.Conditions {
		if satisfied(questionID, c, answers) {
			return true
		}
	}
	return false
}

func satisfied(questionID model.ID, c model.Condition, answers model.Answers) bool {
	switch c.Kind {
	case model.ConditionQuestion:
	case model.ConditionParticipant:
		if c.TargetQuestionID == nil || *c.TargetQuestionID != questionID {
			return false
		}
	default:
		return false
	}
	a, ok := answers[c.SourceQuestionID]
	if !ok {
		return false
	}
	return a.Contains(c.RequiredOptionID)
}

// Visible returns the questions to render, in display order.
func Visible(mode Mode, s *model.Survey, answers model.Answers) []model.Question {
	out := []model.Question{}
	if s == nil {
		return out
	}
	for _, g := range s.Groups {
		for _, q := range g.Questions {
			if mode == Design || IsVisible(q.ID, answers, s.Settings) {
				out = append(out, q)
			}
		}
	}
	return out
}

// ParseAnswers reads answers written as "<questionId>=<optionId>[,<optionId>...]".
// Repeating a question id merges its option ids.
func ParseAnswers(specs []string) (model.Answers, error) {
	out := model.Answers{}
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		qs, opts, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("answer %q: want <questionId>=<optionId>[,...]", spec)
		}
		qid, err := model.ParseID(strings.TrimSpace(qs))
		if err != nil {
			return nil, fmt.Errorf("answer %q: %w", spec, err)
		}
		a := out[qid]
		for _, o := range strings.Split(opts, ",") {
			o = strings.TrimSpace(o)
			if o == "" {
				continue
			}
			oid, err := model.ParseID(o)
			if err != nil {
				return nil, fmt.Errorf("answer %q: %w", spec, err)
			}
			if !a.Contains(oid) {
				a.OptionIDs = append(a.OptionIDs, oid)
			}
		}
		out[qid] = a
	}
	return out, nil
}
