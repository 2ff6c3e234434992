package publish

import (
	"bytes"
	"fmt"
	"strings"

	"surveyor/internal/model"
)

type RenderOptions struct {
	// IncludeIDs appends entity ids so the document can be mapped back to
	// CLI commands.
	IncludeIDs bool
}

// RenderSurveyMarkdown writes the survey in display order: one section per
// group, one numbered entry per question with its options, required mode and
// the conditions that gate it.
func RenderSurveyMarkdown(sv model.Survey, opt RenderOptions) string {
	var buf bytes.Buffer
	writeLn := func(s string) {
		buf.WriteString(s)
		buf.WriteString("\n")
	}
	withID := func(s string, id model.ID) string {
		if !opt.IncludeIDs {
			return s
		}
		return fmt.Sprintf("%s `#%d`", s, id)
	}

	title := strings.TrimSpace(sv.Title)
	if title == "" {
		title = "Untitled survey"
	}
	writeLn("# " + withID(title, sv.ID))
	writeLn("")

	labels := questionLabels(&sv)
	n := 0
	for _, g := range sv.Groups {
		writeLn("## " + withID(strings.TrimSpace(g.Title), g.ID))
		writeLn("")
		if len(g.Questions) == 0 {
			writeLn("_No questions._")
			writeLn("")
			continue
		}
		for _, q := range g.Questions {
			n++
			qs, ok := sv.Settings[q.ID]
			if !ok {
				qs = model.DefaultSettings()
			}
			head := fmt.Sprintf("%d. **%s**", n, escape(questionText(q)))
			if qs.Required == model.RequiredHard {
				head += " *(required)*"
			} else if qs.Required == model.RequiredSoft {
				head += " *(recommended)*"
			}
			head += " · " + q.Type.Spec().Label
			writeLn(withID(head, q.ID))

			if help := strings.TrimSpace(q.HelpText); help != "" {
				for _, line := range strings.Split(help, "\n") {
					writeLn("   > " + line)
				}
			}
			for _, c := range qs.Conditions {
				writeLn("   - _Shown if " + describeCondition(&sv, labels, c) + "_")
			}
			for _, o := range q.Options {
				box := "( )"
				if q.Type.Spec().Multi {
					box = "[ ]"
				}
				if o.IsSubquestion {
					box = "row:"
				}
				line := "   - " + box + " " + escape(o.Text)
				if o.IsCorrect != nil && *o.IsCorrect {
					line += " ✓"
				}
				writeLn(withID(line, o.ID))
			}
			writeLn("")
		}
	}
	return buf.String()
}

func questionText(q model.Question) string {
	t := strings.TrimSpace(q.Text)
	if t == "" {
		t = "(untitled question)"
	}
	if q.Code != "" {
		t = q.Code + ". " + t
	}
	return t
}

// questionLabels numbers questions in display order for condition text.
func questionLabels(sv *model.Survey) map[model.ID]string {
	out := map[model.ID]string{}
	for i, id := range sv.QuestionOrder() {
		out[id] = fmt.Sprintf("question %d", i+1)
	}
	return out
}

func describeCondition(sv *model.Survey, labels map[model.ID]string, c model.Condition) string {
	src, ok := labels[c.SourceQuestionID]
	if !ok {
		return "a deleted question was answered (never)"
	}
	opt := "a deleted option"
	if o, owner, _ := sv.FindOption(c.RequiredOptionID); o != nil && owner.ID == c.SourceQuestionID {
		opt = fmt.Sprintf("%q", o.Text)
	}
	s := src + " is answered " + opt
	if c.Kind == model.ConditionParticipant && c.TargetQuestionID != nil {
		if t, ok := labels[*c.TargetQuestionID]; ok {
			s += " (participant rule for " + t + ")"
		}
	}
	return s
}

var mdEscaper = strings.NewReplacer("*", `\*`, "_", `\_`, "`", "\\`")

func escape(s string) string {
	return mdEscaper.Replace(strings.TrimSpace(s))
}
