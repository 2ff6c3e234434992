package visibility

import (
	"testing"

	"surveyor/internal/model"

	"github.com/stretchr/testify/assert"
)

func cond(source, option model.ID) model.Condition {
	return model.Condition{Kind: model.ConditionQuestion, SourceQuestionID: source, RequiredOptionID: option}
}

func participant(source, option, target model.ID) model.Condition {
	return model.Condition{Kind: model.ConditionParticipant, SourceQuestionID: source, RequiredOptionID: option, TargetQuestionID: &target}
}

func TestIsVisible(t *testing.T) {
	const q = model.ID(20)
	tests := []struct {
		name     string
		settings map[model.ID]model.QuestionSettings
		answers  model.Answers
		want     bool
	}{
		{"no settings", nil, nil, true},
		{"no conditions", map[model.ID]model.QuestionSettings{q: model.DefaultSettings()}, nil, true},
		{
			"unanswered source",
			map[model.ID]model.QuestionSettings{q: {Conditions: []model.Condition{cond(10, 11)}}},
			model.Answers{},
			false,
		},
		{
			"matching single answer",
			map[model.ID]model.QuestionSettings{q: {Conditions: []model.Condition{cond(10, 11)}}},
			model.Answers{10: model.SingleAnswer(11)},
			true,
		},
		{
			"other option chosen",
			map[model.ID]model.QuestionSettings{q: {Conditions: []model.Condition{cond(10, 11)}}},
			model.Answers{10: model.SingleAnswer(12)},
			false,
		},
		{
			"multi answer contains option",
			map[model.ID]model.QuestionSettings{q: {Conditions: []model.Condition{cond(10, 11)}}},
			model.Answers{10: model.MultiAnswer(12, 11)},
			true,
		},
		{
			"any condition suffices",
			map[model.ID]model.QuestionSettings{q: {Conditions: []model.Condition{cond(10, 11), cond(15, 16)}}},
			model.Answers{15: model.SingleAnswer(16)},
			true,
		},
		{
			"participant condition for this question",
			map[model.ID]model.QuestionSettings{q: {Conditions: []model.Condition{participant(10, 11, q)}}},
			model.Answers{10: model.SingleAnswer(11)},
			true,
		},
		{
			"participant condition for another question",
			map[model.ID]model.QuestionSettings{q: {Conditions: []model.Condition{participant(10, 11, 99)}}},
			model.Answers{10: model.SingleAnswer(11)},
			false,
		},
		{
			"dangling source",
			map[model.ID]model.QuestionSettings{q: {Conditions: []model.Condition{cond(404, 405)}}},
			model.Answers{10: model.SingleAnswer(11)},
			false,
		},
		{
			"unknown kind",
			map[model.ID]model.QuestionSettings{q: {Conditions: []model.Condition{{Kind: "role", SourceQuestionID: 10, RequiredOptionID: 11}}}},
			model.Answers{10: model.SingleAnswer(11)},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsVisible(q, tt.answers, tt.settings))
		})
	}
}

func TestIsVisibleDoesNotMutate(t *testing.T) {
	settings := map[model.ID]model.QuestionSettings{2: {Conditions: []model.Condition{cond(1, 5)}}}
	answers := model.Answers{1: model.SingleAnswer(5)}
	wantSettings := map[model.ID]model.QuestionSettings{2: settings[2].Clone()}
	wantAnswers := answers.Clone()

	IsVisible(2, answers, settings)
	assert.Equal(t, wantSettings, settings)
	assert.Equal(t, wantAnswers, answers)
}

func TestVisible(t *testing.T) {
	s := &model.Survey{
		Groups: []model.Group{
			{ID: 1, Questions: []model.Question{{ID: 2}, {ID: 3}}},
			{ID: 4, Questions: []model.Question{{ID: 5}}},
		},
		Settings: map[model.ID]model.QuestionSettings{
			3: {Conditions: []model.Condition{cond(2, 9)}},
			5: {Conditions: []model.Condition{cond(2, 8)}},
		},
	}
	ids := func(qs []model.Question) []model.ID {
		out := []model.ID{}
		for _, q := range qs {
			out = append(out, q.ID)
		}
		return out
	}

	assert.Equal(t, []model.ID{2, 3, 5}, ids(Visible(Design, s, nil)))
	assert.Equal(t, []model.ID{2}, ids(Visible(Respondent, s, nil)))
	assert.Equal(t, []model.ID{2, 5}, ids(Visible(Respondent, s, model.Answers{2: model.SingleAnswer(8)})))
	assert.Empty(t, Visible(Respondent, nil, nil))
}

func TestParseAnswers(t *testing.T) {
	got, err := ParseAnswers([]string{"10=11", "20=21,22", "20=22,23", " "})
	assert.NoError(t, err)
	assert.Equal(t, model.Answers{
		10: model.SingleAnswer(11),
		20: model.MultiAnswer(21, 22, 23),
	}, got)

	for _, bad := range []string{"10", "x=1", "10=y"} {
		_, err := ParseAnswers([]string{bad})
		assert.Error(t, err, bad)
	}
}
