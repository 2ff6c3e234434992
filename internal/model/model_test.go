package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Survey {
	five := 5
	return Survey{
		ID:    1,
		Title: "Feedback",
		Groups: []Group{{
			ID: 2, SurveyID: 1, Position: 1,
			Questions: []Question{{
				ID: 3, GroupID: 2, Position: 1, Type: TypeShortText, MaxLength: &five,
				Options: []Option{},
			}, {
				ID: 4, GroupID: 2, Position: 2, Type: TypeYesNo,
				Options: []Option{{ID: 5, QuestionID: 4, Position: 1, Text: "Yes"}, {ID: 6, QuestionID: 4, Position: 2, Text: "No"}},
			}},
		}},
		Settings: map[ID]QuestionSettings{4: {Required: RequiredSoft, DefaultScenario: 1, Conditions: []Condition{{Kind: ConditionQuestion, SourceQuestionID: 3, RequiredOptionID: 9}}}},
	}
}

func TestIDSpaces(t *testing.T) {
	assert.True(t, ID(812).Durable())
	assert.False(t, ID(812).Temporary())
	assert.True(t, ID(-1700000000000).Temporary())
	assert.False(t, ID(0).Durable() || ID(0).Temporary())

	id, err := ParseID("812")
	require.NoError(t, err)
	assert.Equal(t, ID(812), id)
	_, err = ParseID("abc")
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	s := sample()
	c := s.Clone()
	require.Equal(t, s, c)

	*c.Groups[0].Questions[0].MaxLength = 10
	c.Groups[0].Questions[1].Options[0].Text = "Si"
	c.Settings[4].Conditions[0].RequiredOptionID = 10

	assert.Equal(t, 5, *s.Groups[0].Questions[0].MaxLength)
	assert.Equal(t, "Yes", s.Groups[0].Questions[1].Options[0].Text)
	assert.Equal(t, ID(9), s.Settings[4].Conditions[0].RequiredOptionID)
}

func TestFinders(t *testing.T) {
	s := sample()
	g, gi := s.FindGroup(2)
	require.NotNil(t, g)
	assert.Equal(t, 0, gi)

	q, owner, qi := s.FindQuestion(4)
	require.NotNil(t, q)
	assert.Equal(t, ID(2), owner.ID)
	assert.Equal(t, 1, qi)

	o, oq, oi := s.FindOption(6)
	require.NotNil(t, o)
	assert.Equal(t, ID(4), oq.ID)
	assert.Equal(t, 1, oi)

	missing, _, _ := s.FindOption(99)
	assert.Nil(t, missing)

	assert.Equal(t, []ID{3, 4}, s.QuestionOrder())
	assert.True(t, s.Precedes(3, 4))
	assert.False(t, s.Precedes(4, 3))
	assert.False(t, s.Precedes(3, 99))
}

func TestCheckIntegrity(t *testing.T) {
	s := sample()
	require.NoError(t, s.CheckIntegrity())

	gap := sample()
	gap.Groups[0].Questions[1].Options[1].Position = 3
	assert.Error(t, gap.CheckIntegrity())

	orphan := sample()
	orphan.Groups[0].Questions[1].Options[0].QuestionID = 3
	assert.Error(t, orphan.CheckIntegrity())

	dup := sample()
	dup.Groups[0].Questions[1].ID = 3
	dup.Groups[0].Questions[1].Options[0].QuestionID = 3
	dup.Groups[0].Questions[1].Options[1].QuestionID = 3
	assert.Error(t, dup.CheckIntegrity())
}

func TestSortAndRenumber(t *testing.T) {
	s := sample()
	q := &s.Groups[0].Questions[1]
	q.Options[0].Position, q.Options[1].Position = 2, 1
	s.SortByPosition()
	assert.Equal(t, "No", q.Options[0].Text)

	q.Options = q.Options[1:]
	assert.Equal(t, []ID{5}, q.RenumberOptions())
	assert.Empty(t, q.RenumberOptions())
}

func TestQuestionTypes(t *testing.T) {
	for _, qt := range QuestionTypes() {
		spec := qt.Spec()
		assert.NotEmpty(t, spec.Label, qt)
		if !spec.Choice {
			assert.Empty(t, spec.DefaultOptions, qt)
		}
	}
	qt, err := ParseQuestionType(" Multi-Choice ")
	require.NoError(t, err)
	assert.Equal(t, TypeMultiChoice, qt)
	_, err = ParseQuestionType("essay")
	assert.Error(t, err)

	assert.True(t, TypeFileUpload.AllowsSetting(SettingMaxFileSize))
	assert.False(t, TypeSingleChoice.AllowsSetting(SettingMaxFileSize))
}

func TestSettingsForTypeAndValidate(t *testing.T) {
	qs := DefaultSettings()
	qs.MaxFileSizeKB = 100
	qs.AllowedFileTypes = []string{"pdf"}
	require.NoError(t, qs.Validate(TypeFileUpload))
	assert.Error(t, qs.Validate(TypeShortText))

	stripped := qs.ForType(TypeShortText)
	assert.Zero(t, stripped.MaxFileSizeKB)
	assert.Nil(t, stripped.AllowedFileTypes)
	require.NoError(t, stripped.Validate(TypeShortText))

	bad := DefaultSettings()
	bad.Required = "sometimes"
	assert.Error(t, bad.Validate(TypeShortText))

	pending := DefaultSettings()
	pending.Conditions = []Condition{{Kind: ConditionQuestion, SourceQuestionID: -5, RequiredOptionID: 3}}
	assert.Error(t, pending.Validate(TypeShortText))
}

func TestSurveyJSONRoundTrip(t *testing.T) {
	s := sample()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	var back Survey
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, s.Settings, back.Settings)
	assert.Equal(t, s.QuestionOrder(), back.QuestionOrder())
}
