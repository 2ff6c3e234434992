package web

import (
	"html/template"
	"net/http"
	"strings"

	"surveyor/internal/model"
	"surveyor/internal/remote"
	"surveyor/internal/visibility"
)

var previewTmpl = template.Must(template.New("preview").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<main id="survey-preview" data-survey-id="{{.SurveyID}}" data-mode="{{.Mode}}">
<h1>{{.Title}}</h1>
{{- range .Questions}}
<section class="question" id="q-{{.ID}}">
  <h2><span class="code">{{.Code}}</span> {{.Text}}{{if .Required}} <span class="required">*</span>{{end}}</h2>
  {{- if .Help}}<div class="help">{{.Help}}</div>{{end}}
  {{- if .Options}}
  <ul class="options">
  {{- range .Options}}
    <li{{if .Selected}} class="selected"{{end}}{{if .Row}} data-row="true"{{end}}>{{.Text}}</li>
  {{- end}}
  </ul>
  {{- end}}
</section>
{{- else}}
<p class="empty">No questions to show.</p>
{{- end}}
</main>
</body>
</html>
`))

type previewVM struct {
	SurveyID  model.ID
	Title     string
	Mode      string
	Questions []previewQuestion
}

type previewQuestion struct {
	ID       model.ID      `json:"id"`
	Code     string        `json:"code"`
	Text     string        `json:"text"`
	Type     string        `json:"type"`
	Required bool          `json:"required"`
	Help     template.HTML `json:"-"`
	Options  []previewOpt  `json:"options,omitempty"`
}

type previewOpt struct {
	ID       model.ID `json:"id"`
	Text     string   `json:"text"`
	Row      bool     `json:"row,omitempty"`
	Selected bool     `json:"selected,omitempty"`
}

// handlePreview renders what a respondent would see given the answers in
// the query (?answer=<questionId>=<optionId>[,...], repeatable). mode=design
// lists every question. format=json returns the same data as JSON.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	answers, err := visibility.ParseAnswers(q["answer"])
	if err != nil {
		s.writeErr(w, r, remote.NewInvalidError(err.Error()))
		return
	}
	mode, modeName := visibility.Respondent, "respondent"
	if strings.EqualFold(q.Get("mode"), "design") {
		mode, modeName = visibility.Design, "design"
	}
	sv, err := s.backend.GetSurvey(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	vm := buildPreview(&sv, mode, modeName, answers)

	if strings.EqualFold(q.Get("format"), "json") {
		writeJSON(w, http.StatusOK, vm.Questions)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := previewTmpl.Execute(w, vm); err != nil {
		s.log.Error("web: preview render failed", "survey", id, "err", err)
	}
}

func buildPreview(sv *model.Survey, mode visibility.Mode, modeName string, answers model.Answers) previewVM {
	vm := previewVM{SurveyID: sv.ID, Title: sv.Title, Mode: modeName, Questions: []previewQuestion{}}
	for _, q := range visibility.Visible(mode, sv, answers) {
		pq := previewQuestion{
			ID:       q.ID,
			Code:     q.Code,
			Text:     q.Text,
			Type:     string(q.Type),
			Required: sv.Settings[q.ID].Required == model.RequiredHard,
			Help:     renderMarkdownHTML(q.HelpText),
		}
		a := answers[q.ID]
		for _, o := range q.Options {
			pq.Options = append(pq.Options, previewOpt{ID: o.ID, Text: o.Text, Row: o.IsSubquestion, Selected: a.Contains(o.ID)})
		}
		vm.Questions = append(vm.Questions, pq)
	}
	return vm
}
