package editor

import (
	"context"
	"sync"
	"testing"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/remote"
	"surveyor/internal/visibility"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddQuestionReconcilesTemporaryID(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	fx.mem.SetNextID(812)

	var (
		inFlight model.Survey
		once     sync.Once
	)
	fx.mem.Delay = func(op string) {
		if op == "CreateQuestion" {
			once.Do(func() { inFlight = e.Snapshot() })
		}
	}

	q, err := e.AddQuestion(ctx, fx.group, QuestionDraft{Text: "Would you recommend us?", Type: model.TypeSingleChoice})
	require.NoError(t, err)

	placeholder := inFlight.Groups[0].Questions[1]
	assert.Equal(t, model.ID(-1700000000000), placeholder.ID)
	assert.True(t, placeholder.Pending)
	assert.Equal(t, "Would you recommend us?", placeholder.Text)
	require.Len(t, placeholder.Options, 2)
	for _, o := range placeholder.Options {
		assert.True(t, o.ID.Temporary())
		assert.Equal(t, placeholder.ID, o.QuestionID)
	}
	_, ok := inFlight.Settings[placeholder.ID]
	assert.True(t, ok, "placeholder has default settings")

	assert.Equal(t, model.ID(812), q.ID)
	assert.Equal(t, []model.ID{813, 814}, []model.ID{q.Options[0].ID, q.Options[1].ID})

	s := e.Snapshot()
	requireSettled(t, s)
	assert.Equal(t, []model.ID{fx.question, 812}, s.QuestionOrder())
	_, ok = s.Settings[812]
	assert.True(t, ok)
	_, ok = s.Settings[placeholder.ID]
	assert.False(t, ok)

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	assert.Equal(t, findQuestion(t, stored, 812), findQuestion(t, s, 812))
}

func TestAddQuestionIsAtomic(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	before := e.Snapshot()

	fx.mem.FailOn("CreateOption", 2, remote.NewUnavailableError("connection reset"))
	_, err := e.AddQuestion(ctx, fx.group, QuestionDraft{Text: "Rate us", Type: model.TypeYesNo})

	var re RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, before, e.Snapshot())

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{fx.question}, stored.QuestionOrder(), "created question is removed again")
}

func TestAddQuestionRejectsUnknownType(t *testing.T) {
	fx := seed(t)
	e := open(t, fx)
	_, err := e.AddQuestion(context.Background(), fx.group, QuestionDraft{Type: "essay"})
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestAddGroupRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	before := e.Snapshot()

	fx.mem.FailOn("CreateGroup", 1, remote.NewForbiddenError("read only"))
	_, err := e.AddGroup(ctx, "Extra")
	require.Error(t, err)
	assert.Equal(t, before, e.Snapshot())

	g, err := e.AddGroup(ctx, "  ")
	require.NoError(t, err)
	assert.Equal(t, defaultGroupTitle, g.Title)
	assert.Equal(t, 2, g.Position)
	requireSettled(t, e.Snapshot())
}

func TestStaleWriteIsRejectedAndRestored(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)

	// Another tab saves first and moves the stored version on.
	_, err := fx.mem.UpdateQuestion(ctx, fx.question, remote.Fields{"text": "Where did you find us?", "version": 1})
	require.NoError(t, err)

	require.NoError(t, e.SetField(broadcast.KindQuestion, fx.question, FieldText, "How did you find us?"))
	err = e.CommitField(ctx, broadcast.KindQuestion, fx.question, FieldText)

	var ce ConflictError
	require.ErrorAs(t, err, &ce)
	assert.True(t, IsReloadRequired(err))
	assert.Equal(t, "How did you hear about us?", findQuestion(t, e.Snapshot(), fx.question).Text)
	assert.False(t, e.HasDrafts())

	require.NoError(t, e.Reload(ctx))
	q := findQuestion(t, e.Snapshot(), fx.question)
	assert.Equal(t, "Where did you find us?", q.Text)
	assert.Equal(t, 2, q.Version)
}

func TestMoveOptionFailureRestoresOrder(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	before := e.Snapshot()

	fx.mem.FailOn("UpdateOption", 2, remote.NewUnavailableError("connection reset"))
	err := e.MoveOption(ctx, fx.options[2], 1)

	var re RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, before, e.Snapshot())

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	assert.Equal(t, []string{"Friend", "Search", "Ad"}, optionTexts(findQuestion(t, stored, fx.question)))
	require.NoError(t, stored.CheckIntegrity())
}

func TestMoveOptionPersistsChangedPositions(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)

	require.NoError(t, e.MoveOption(ctx, fx.options[2], 1))
	q := findQuestion(t, e.Snapshot(), fx.question)
	assert.Equal(t, []string{"Ad", "Friend", "Search"}, optionTexts(q))

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	assert.Equal(t, q, findQuestion(t, stored, fx.question))
}

func TestDeleteOptionRenumbers(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	require.NoError(t, e.SetAnswer(fx.question, model.SingleAnswer(fx.options[0])))

	require.NoError(t, e.DeleteOption(ctx, fx.options[0]))
	s := e.Snapshot()
	requireSettled(t, s)
	assert.Equal(t, []string{"Search", "Ad"}, optionTexts(findQuestion(t, s, fx.question)))
	assert.Empty(t, e.Answers())

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	assert.Equal(t, findQuestion(t, s, fx.question), findQuestion(t, stored, fx.question))
}

func TestDeleteOptionFailureRestoresAnswer(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	require.NoError(t, e.SetAnswer(fx.question, model.SingleAnswer(fx.options[1])))
	before := e.Snapshot()

	fx.mem.FailOn("DeleteOption", 1, remote.NewUnavailableError("timeout"))
	require.Error(t, e.DeleteOption(ctx, fx.options[1]))
	assert.Equal(t, before, e.Snapshot())
	assert.Equal(t, model.Answers{fx.question: model.SingleAnswer(fx.options[1])}, e.Answers())
}

func TestDeletedSourceLeavesConditionDangling(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	follow, err := fx.mem.CreateQuestion(ctx, fx.group, remote.Fields{"text": "Who referred you?", "type": "short_text"})
	require.NoError(t, err)
	e := open(t, fx)

	require.NoError(t, e.AddCondition(ctx, follow.ID, model.Condition{
		Kind:             model.ConditionQuestion,
		SourceQuestionID: fx.question,
		RequiredOptionID: fx.options[0],
	}))
	require.NoError(t, e.SetAnswer(fx.question, model.SingleAnswer(fx.options[0])))
	assert.True(t, e.IsVisible(follow.ID))

	require.NoError(t, e.DeleteQuestion(ctx, fx.question))

	assert.Len(t, e.Settings(follow.ID).Conditions, 1, "condition is kept")
	assert.False(t, e.IsVisible(follow.ID))
	assert.Empty(t, e.Visible(visibility.Respondent))
	assert.Len(t, e.Visible(visibility.Design), 1)
	requireSettled(t, e.Snapshot())
}

func TestAddConditionValidation(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	later, err := fx.mem.CreateQuestion(ctx, fx.group, remote.Fields{"text": "Again?", "type": "yes_no"})
	require.NoError(t, err)
	yes, err := fx.mem.CreateOption(ctx, later.ID, remote.Fields{"text": "Yes"})
	require.NoError(t, err)
	e := open(t, fx)

	var ve ValidationError
	err = e.AddCondition(ctx, fx.question, model.Condition{Kind: model.ConditionQuestion, SourceQuestionID: later.ID, RequiredOptionID: yes.ID})
	require.ErrorAs(t, err, &ve, "source must come first")

	err = e.AddCondition(ctx, later.ID, model.Condition{Kind: model.ConditionQuestion, SourceQuestionID: fx.question, RequiredOptionID: yes.ID})
	require.ErrorAs(t, err, &ve, "option must belong to the source")

	target := fx.question
	err = e.AddCondition(ctx, later.ID, model.Condition{Kind: model.ConditionParticipant, SourceQuestionID: fx.question, RequiredOptionID: fx.options[1], TargetQuestionID: &target})
	require.ErrorAs(t, err, &ve, "participant condition targets its own question")

	self := later.ID
	require.NoError(t, e.AddCondition(ctx, later.ID, model.Condition{Kind: model.ConditionParticipant, SourceQuestionID: fx.question, RequiredOptionID: fx.options[1], TargetQuestionID: &self}))
	require.NoError(t, e.RemoveCondition(ctx, later.ID, 0))
	assert.Empty(t, e.Settings(later.ID).Conditions)
	require.ErrorAs(t, e.RemoveCondition(ctx, later.ID, 0), &ve)
}

func TestUpdateSettingsValidatesTypeFields(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)

	next := model.DefaultSettings()
	next.MaxFileSizeKB = 512
	var ve ValidationError
	require.ErrorAs(t, e.UpdateSettings(ctx, fx.question, next), &ve)

	require.NoError(t, e.SetRequired(ctx, fx.question, model.RequiredHard))
	assert.Equal(t, model.RequiredHard, e.Settings(fx.question).Required)

	fx.mem.FailOn("UpdateSettings", 1, remote.NewUnavailableError("down"))
	require.Error(t, e.SetRequired(ctx, fx.question, model.RequiredSoft))
	assert.Equal(t, model.RequiredHard, e.Settings(fx.question).Required)
}

func TestChangeQuestionTypeReplacesOptions(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	calls := len(fx.mem.Calls())

	require.NoError(t, e.ChangeQuestionType(ctx, fx.question, model.TypeYesNo))

	s := e.Snapshot()
	requireSettled(t, s)
	q := findQuestion(t, s, fx.question)
	assert.Equal(t, model.TypeYesNo, q.Type)
	assert.Equal(t, []string{"Yes", "No"}, optionTexts(q))

	assert.Equal(t, []string{
		"CreateOption", "CreateOption", "UpdateQuestion",
		"DeleteOption", "DeleteOption", "DeleteOption",
	}, fx.mem.Calls()[calls:])

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	assert.Equal(t, q, findQuestion(t, stored, fx.question))
}

func TestChangeQuestionTypeFailureRestores(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	before := e.Snapshot()

	fx.mem.FailOn("UpdateQuestion", 1, remote.NewUnavailableError("down"))
	err := e.ChangeQuestionType(ctx, fx.question, model.TypeYesNo)
	require.Error(t, err)
	assert.Equal(t, before, e.Snapshot())

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	q := findQuestion(t, stored, fx.question)
	assert.Equal(t, model.TypeSingleChoice, q.Type)
	assert.Equal(t, []string{"Friend", "Search", "Ad"}, optionTexts(q))
}

func TestChangeQuestionTypeCreateFailureRestores(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	before := e.Snapshot()

	fx.mem.FailOn("CreateOption", 2, remote.NewUnavailableError("connection reset"))
	err := e.ChangeQuestionType(ctx, fx.question, model.TypeYesNo)
	var re RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, before, e.Snapshot())

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	q := findQuestion(t, stored, fx.question)
	assert.Equal(t, model.TypeSingleChoice, q.Type)
	assert.Equal(t, []string{"Friend", "Search", "Ad"}, optionTexts(q), "the option created before the failure is deleted again")
}

func TestChangeQuestionTypeDeleteFailureRestoresType(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	before := e.Snapshot()

	fx.mem.FailOn("DeleteOption", 2, remote.NewUnavailableError("connection reset"))
	err := e.ChangeQuestionType(ctx, fx.question, model.TypeYesNo)
	var ce ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, fx.question, ce.ID)
	assert.Equal(t, before, e.Snapshot())

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	q := findQuestion(t, stored, fx.question)
	assert.Equal(t, model.TypeSingleChoice, q.Type)
	texts := optionTexts(q)
	assert.NotContains(t, texts, "Yes")
	assert.NotContains(t, texts, "No")
}

func TestMoveQuestionAcrossGroups(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	g2, err := e.AddGroup(ctx, "More")
	require.NoError(t, err)
	other, err := e.AddQuestion(ctx, g2.ID, QuestionDraft{Text: "Anything else?", Type: model.TypeLongText})
	require.NoError(t, err)

	require.NoError(t, e.MoveQuestion(ctx, fx.question, g2.ID, 1))
	s := e.Snapshot()
	requireSettled(t, s)
	assert.Empty(t, s.Groups[0].Questions)
	assert.Equal(t, []model.ID{fx.question, other.ID}, s.QuestionOrder())

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	assert.Equal(t, s.QuestionOrder(), stored.QuestionOrder())
	require.NoError(t, stored.CheckIntegrity())
}

func TestMoveGroupFailureRestores(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	_, err := e.AddGroup(ctx, "Second")
	require.NoError(t, err)
	before := e.Snapshot()

	fx.mem.FailOn("UpdateGroup", 1, remote.NewUnavailableError("down"))
	require.Error(t, e.MoveGroup(ctx, fx.group, 2))
	assert.Equal(t, before, e.Snapshot())

	require.NoError(t, e.MoveGroup(ctx, fx.group, 2))
	s := e.Snapshot()
	assert.Equal(t, fx.group, s.Groups[1].ID)
	requireSettled(t, s)
}

func TestDeleteGroupRollsBack(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)
	before := e.Snapshot()

	fx.mem.FailOn("DeleteGroup", 1, remote.NewUnavailableError("down"))
	require.Error(t, e.DeleteGroup(ctx, fx.group))
	assert.Equal(t, before, e.Snapshot())

	require.NoError(t, e.DeleteGroup(ctx, fx.group))
	s := e.Snapshot()
	assert.Empty(t, s.Groups)
	assert.Empty(t, s.Settings)
}

func TestPendingEntityWaitsForConfirmation(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)

	entered := make(chan struct{})
	release := make(chan struct{})
	fx.mem.Delay = func(op string) {
		if op == "CreateGroup" {
			close(entered)
			<-release
		}
	}
	type result struct {
		g   model.Group
		err error
	}
	done := make(chan result, 1)
	go func() {
		g, err := e.AddGroup(ctx, "Later")
		done <- result{g, err}
	}()
	<-entered

	tmp := e.Snapshot().Groups[1]
	require.True(t, tmp.ID.Temporary())
	require.True(t, tmp.Pending)

	require.NoError(t, e.SetField(broadcast.KindGroup, tmp.ID, FieldTitle, "Later questions"))
	var pe PendingError
	require.ErrorAs(t, e.CommitField(ctx, broadcast.KindGroup, tmp.ID, FieldTitle), &pe)
	_, err := e.AddQuestion(ctx, tmp.ID, QuestionDraft{Text: "Too early"})
	require.ErrorAs(t, err, &pe)

	close(release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "Later questions", res.g.Title, "typing survives confirmation")

	require.NoError(t, e.CommitField(ctx, broadcast.KindGroup, res.g.ID, FieldTitle))
	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	g, _ := stored.FindGroup(res.g.ID)
	require.NotNil(t, g)
	assert.Equal(t, "Later questions", g.Title)
	requireSettled(t, e.Snapshot())
}

func TestSetAnswerValidation(t *testing.T) {
	fx := seed(t)
	e := open(t, fx)
	var ve ValidationError
	require.ErrorAs(t, e.SetAnswer(fx.question, model.MultiAnswer(fx.options[0], fx.options[1])), &ve)
	require.ErrorAs(t, e.SetAnswer(fx.question, model.SingleAnswer(999)), &ve)

	require.NoError(t, e.SetAnswer(fx.question, model.SingleAnswer(fx.options[2])))
	require.NoError(t, e.SetAnswer(fx.question, model.Answer{}))
	assert.Empty(t, e.Answers())
}
