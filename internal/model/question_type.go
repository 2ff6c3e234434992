package model

import (
	"fmt"
	"sort"
	"strings"
)

type QuestionType string

const (
	TypeSingleChoice QuestionType = "single_choice"
	TypeMultiChoice  QuestionType = "multi_choice"
	TypeDropdown     QuestionType = "dropdown"
	TypeScale        QuestionType = "scale"
	TypeRating       QuestionType = "rating"
	TypeNPS          QuestionType = "nps"
	TypeSlider       QuestionType = "slider"
	TypeRanking      QuestionType = "ranking"
	TypeMatrix       QuestionType = "matrix"
	TypeMatrixMulti  QuestionType = "matrix_multi"
	TypeYesNo        QuestionType = "yes_no"
	TypeGender       QuestionType = "gender"
	TypeShortText    QuestionType = "short_text"
	TypeLongText     QuestionType = "long_text"
	TypeEmail        QuestionType = "email"
	TypeNumber       QuestionType = "number"
	TypeDate         QuestionType = "date"
	TypeTime         QuestionType = "time"
	TypeFileUpload   QuestionType = "file_upload"
	TypeStatement    QuestionType = "statement"
)

// SettingsField names a type-specific QuestionSettings field.
type SettingsField string

const (
	SettingMaxFileSize      SettingsField = "maxFileSizeKb"
	SettingAllowedFileTypes SettingsField = "allowedFileTypes"
	SettingNumericOnly      SettingsField = "numericOnly"
)

// DefaultOption is a template used to seed options for a freshly typed question.
type DefaultOption struct {
	Text          string
	IsSubquestion bool
}

// TypeSpec is the per-type lookup entry that replaces scattered type checks.
type TypeSpec struct {
	Label string
	// Multi means the answer is a set of option ids rather than a single one.
	Multi bool
	// Choice means answers refer to options (and the type can source conditions).
	Choice         bool
	DefaultOptions []DefaultOption
	Settings       []SettingsField
	MaxLength      bool
}

var typeSpecs = map[QuestionType]TypeSpec{
	TypeSingleChoice: {Label: "Single choice", Choice: true, DefaultOptions: opts("Option 1", "Option 2")},
	TypeMultiChoice:  {Label: "Multiple choice", Choice: true, Multi: true, DefaultOptions: opts("Option 1", "Option 2")},
	TypeDropdown:     {Label: "Dropdown", Choice: true, DefaultOptions: opts("Option 1", "Option 2", "Option 3")},
	TypeScale:        {Label: "Scale", Choice: true, DefaultOptions: opts("1", "2", "3", "4", "5")},
	TypeRating:       {Label: "Rating", Choice: true, DefaultOptions: opts("1", "2", "3", "4", "5")},
	TypeNPS:          {Label: "Net promoter score", Choice: true, DefaultOptions: opts("0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10")},
	TypeSlider:       {Label: "Slider", Settings: []SettingsField{SettingNumericOnly}},
	TypeRanking:      {Label: "Ranking", Choice: true, Multi: true, DefaultOptions: opts("Item 1", "Item 2", "Item 3")},
	TypeMatrix: {Label: "Matrix", Choice: true, DefaultOptions: []DefaultOption{
		{Text: "Row 1", IsSubquestion: true},
		{Text: "Row 2", IsSubquestion: true},
		{Text: "Column 1"},
		{Text: "Column 2"},
	}},
	TypeMatrixMulti: {Label: "Matrix (multiple)", Choice: true, Multi: true, DefaultOptions: []DefaultOption{
		{Text: "Row 1", IsSubquestion: true},
		{Text: "Column 1"},
		{Text: "Column 2"},
	}},
	TypeYesNo:      {Label: "Yes / No", Choice: true, DefaultOptions: opts("Yes", "No")},
	TypeGender:     {Label: "Gender", Choice: true, DefaultOptions: opts("Female", "Male", "Other", "Prefer not to say")},
	TypeShortText:  {Label: "Short text", MaxLength: true, Settings: []SettingsField{SettingNumericOnly}},
	TypeLongText:   {Label: "Long text", MaxLength: true},
	TypeEmail:      {Label: "Email", MaxLength: true},
	TypeNumber:     {Label: "Number", Settings: []SettingsField{SettingNumericOnly}},
	TypeDate:       {Label: "Date"},
	TypeTime:       {Label: "Time"},
	TypeFileUpload: {Label: "File upload", Settings: []SettingsField{SettingMaxFileSize, SettingAllowedFileTypes}},
	TypeStatement:  {Label: "Statement"},
}

func opts(texts ...string) []DefaultOption {
	out := make([]DefaultOption, 0, len(texts))
	for _, t := range texts {
		out = append(out, DefaultOption{Text: t})
	}
	return out
}

func (t QuestionType) Valid() bool {
	_, ok := typeSpecs[t]
	return ok
}

// Spec returns the lookup entry for t. Unknown types get a zero TypeSpec.
func (t QuestionType) Spec() TypeSpec {
	return typeSpecs[t]
}

func (t QuestionType) AllowsSetting(f SettingsField) bool {
	for _, s := range typeSpecs[t].Settings {
		if s == f {
			return true
		}
	}
	return false
}

func ParseQuestionType(s string) (QuestionType, error) {
	t := QuestionType(strings.ToLower(strings.TrimSpace(s)))
	t = QuestionType(strings.ReplaceAll(string(t), "-", "_"))
	if !t.Valid() {
		return "", fmt.Errorf("unknown question type: %q", s)
	}
	return t, nil
}

// QuestionTypes returns every known type, sorted by name.
func QuestionTypes() []QuestionType {
	out := make([]QuestionType, 0, len(typeSpecs))
	for t := range typeSpecs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ForType clears the type-specific fields that t does not support.
func (qs QuestionSettings) ForType(t QuestionType) QuestionSettings {
	out := qs.Clone()
	if !t.AllowsSetting(SettingMaxFileSize) {
		out.MaxFileSizeKB = 0
	}
	if !t.AllowsSetting(SettingAllowedFileTypes) {
		out.AllowedFileTypes = nil
	}
	if !t.AllowsSetting(SettingNumericOnly) {
		out.NumericOnly = false
	}
	return out
}

// Validate checks settings against the owning question's type.
func (qs QuestionSettings) Validate(t QuestionType) error {
	if !qs.Required.Valid() {
		return fmt.Errorf("required: unknown mode %q", qs.Required)
	}
	if qs.DefaultScenario < 1 {
		return fmt.Errorf("defaultScenario: must be at least 1")
	}
	if qs.MaxFileSizeKB < 0 {
		return fmt.Errorf("maxFileSizeKb: must not be negative")
	}
	checks := []struct {
		set   bool
		field SettingsField
	}{
		{qs.MaxFileSizeKB != 0, SettingMaxFileSize},
		{len(qs.AllowedFileTypes) > 0, SettingAllowedFileTypes},
		{qs.NumericOnly, SettingNumericOnly},
	}
	for _, c := range checks {
		if c.set && !t.AllowsSetting(c.field) {
			return fmt.Errorf("%s: not supported by %s questions", c.field, t)
		}
	}
	for i, c := range qs.Conditions {
		switch c.Kind {
		case ConditionQuestion:
		case ConditionParticipant:
			if c.TargetQuestionID == nil {
				return fmt.Errorf("conditions[%d]: participant condition needs a target question", i)
			}
		default:
			return fmt.Errorf("conditions[%d]: unknown kind %q", i, c.Kind)
		}
		if !c.SourceQuestionID.Durable() || !c.RequiredOptionID.Durable() {
			return fmt.Errorf("conditions[%d]: source question and option must be saved first", i)
		}
	}
	return nil
}
