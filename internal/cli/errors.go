package cli

import (
	"context"
	"fmt"
	"strings"

	"surveyor/internal/model"
	"surveyor/internal/remote"
	"surveyor/internal/web"
)

type usageError struct {
	arg string
	msg string
}

func (e usageError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.arg, e.msg)
}

func errUsage(arg, msg string) error {
	return usageError{arg: arg, msg: msg}
}

// parseID parses a durable entity id from a positional argument.
func parseID(arg, s string) (model.ID, error) {
	id, err := model.ParseID(strings.TrimSpace(s))
	if err != nil || !id.Durable() {
		return 0, errUsage(arg, fmt.Sprintf("%q is not a saved id", s))
	}
	return id, nil
}

// locate finds the survey that owns an entity. Entity ids come from one
// sequence, so each survey is loaded until one holds the id.
func locate(ctx context.Context, be web.Backend, kind string, id model.ID) (model.ID, error) {
	list, err := be.ListSurveys(ctx)
	if err != nil {
		return 0, err
	}
	for _, summary := range list {
		sv, err := be.GetSurvey(ctx, summary.ID)
		if err != nil {
			if remote.CodeOf(err) == remote.CodeNotFound {
				continue
			}
			return 0, err
		}
		if owns(&sv, kind, id) {
			return sv.ID, nil
		}
	}
	return 0, remote.NewNotFoundError(fmt.Sprintf("%s %d not found", kind, id))
}

func owns(sv *model.Survey, kind string, id model.ID) bool {
	switch kind {
	case "group":
		g, _ := sv.FindGroup(id)
		return g != nil
	case "question":
		q, _, _ := sv.FindQuestion(id)
		return q != nil
	case "option":
		o, _, _ := sv.FindOption(id)
		return o != nil
	}
	return false
}
