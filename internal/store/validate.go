package store

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"surveyor/internal/model"
	"surveyor/internal/remote"

	"github.com/go-playground/validator/v10"
)

// Payload rules, checked on the row about to be written.
type surveyPayload struct {
	Title string `json:"title" validate:"max=200"`
}

type groupPayload struct {
	Title    string `json:"title" validate:"max=200"`
	Position int    `json:"position" validate:"gte=1"`
}

type questionPayload struct {
	Code      string `json:"code" validate:"max=64"`
	Text      string `json:"text" validate:"max=2000"`
	HelpText  string `json:"helpText" validate:"max=10000"`
	Type      string `json:"type" validate:"required,qtype"`
	Position  int    `json:"position" validate:"gte=1"`
	MaxLength *int   `json:"maxLength" validate:"omitempty,gte=1,lte=100000"`
	Points    *int   `json:"points" validate:"omitempty,gte=0"`
}

type optionPayload struct {
	Text     string  `json:"text" validate:"max=1000"`
	Position int     `json:"position" validate:"gte=1"`
	Image    *string `json:"image" validate:"omitempty,max=2048"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("qtype", func(fl validator.FieldLevel) bool {
		return model.QuestionType(fl.Field().String()).Valid()
	})
	return v
}

// check validates payload and turns rule failures into remote invalid
// errors that name the offending field.
func (s *Store) check(payload any) error {
	err := s.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return remote.NewInvalidError(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return remote.NewInvalidError(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + ": is required"
	case "max":
		return fmt.Sprintf("%s: must be at most %s characters", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s: must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s: must be at most %s", fe.Field(), fe.Param())
	case "qtype":
		return fmt.Sprintf("%s: unknown question type %q", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
	}
}

func groupRules(g model.Group) groupPayload {
	return groupPayload{Title: g.Title, Position: g.Position}
}

func questionRules(q model.Question) questionPayload {
	return questionPayload{
		Code: q.Code, Text: q.Text, HelpText: q.HelpText, Type: string(q.Type),
		Position: q.Position, MaxLength: q.MaxLength, Points: q.Points,
	}
}

func optionRules(o model.Option) optionPayload {
	return optionPayload{Text: o.Text, Position: o.Position, Image: o.Image}
}

// checkVersion enforces the version token when f touches a content field.
// It reports whether the write changes content (and so bumps the version).
func checkVersion(f remote.Fields, current int, contentFields ...string) (bool, error) {
	if !f.Has(contentFields...) {
		return false, nil
	}
	var v int
	ok, err := f.Decode(remote.FieldVersion, &v)
	if err != nil || !ok {
		return true, err
	}
	if v != current {
		return false, remote.NewConflictError(fmt.Sprintf("version %d is stale (current %d)", v, current))
	}
	return true, nil
}
