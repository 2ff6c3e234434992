package tui

import (
	"fmt"
	"strings"

	"surveyor/internal/editor"
	"surveyor/internal/model"
	"surveyor/internal/visibility"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
)

// surveyChangedMsg is delivered whenever the editor's model changes, either
// from a local answer or from another tab.
type surveyChangedMsg struct{}

// row is one line the cursor can rest on: a question header (opt < 0) or one
// of its options.
type row struct {
	q   int
	opt int
}

type appModel struct {
	editor *editor.Editor
	keys   keyMap
	help   help.Model

	mode      visibility.Mode
	questions []model.Question
	answers   model.Answers
	rows      []row
	cursor    int
	offset    int

	width  int
	height int

	title   string
	status  string
	watch   <-chan struct{}
	unwatch func()
}

func newModel(e *editor.Editor) appModel {
	ch, cancel := e.Watch()
	m := appModel{
		editor:  e,
		keys:    defaultKeyMap(),
		help:    help.New(),
		mode:    visibility.Respondent,
		width:   80,
		height:  24,
		watch:   ch,
		unwatch: cancel,
	}
	m.refresh()
	return m
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return surveyChangedMsg{}
	}
}

func (m appModel) Init() tea.Cmd {
	return waitForChange(m.watch)
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.scrollToCursor()
		return m, nil

	case surveyChangedMsg:
		m.refresh()
		return m, waitForChange(m.watch)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.unwatch != nil {
				m.unwatch()
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			m.move(-1)
		case key.Matches(msg, m.keys.Down):
			m.move(1)
		case key.Matches(msg, m.keys.Select):
			m.selectCurrent()
		case key.Matches(msg, m.keys.Mode):
			if m.mode == visibility.Respondent {
				m.mode = visibility.Design
				m.status = "design mode: every question is shown"
			} else {
				m.mode = visibility.Respondent
				m.status = "respondent mode"
			}
			m.refresh()
		case key.Matches(msg, m.keys.Clear):
			m.editor.ClearAnswers()
			m.status = "answers cleared"
			m.refresh()
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil
	}
	return m, nil
}

// refresh rebuilds the rows from the editor, keeping the cursor on the same
// question or option when it is still visible.
func (m *appModel) refresh() {
	var keepQ, keepO model.ID
	if cur, ok := m.currentRow(); ok {
		q := m.questions[cur.q]
		keepQ = q.ID
		if cur.opt >= 0 {
			keepO = q.Options[cur.opt].ID
		}
	}

	s := m.editor.Snapshot()
	m.title = s.Title
	m.questions = m.editor.Visible(m.mode)
	m.answers = m.editor.Answers()
	m.rows = nil
	for qi, q := range m.questions {
		m.rows = append(m.rows, row{q: qi, opt: -1})
		for oi := range q.Options {
			m.rows = append(m.rows, row{q: qi, opt: oi})
		}
	}

	m.cursor = 0
	for i, r := range m.rows {
		q := m.questions[r.q]
		if q.ID != keepQ {
			continue
		}
		if r.opt < 0 {
			m.cursor = i
			if keepO == 0 {
				break
			}
			continue
		}
		if q.Options[r.opt].ID == keepO {
			m.cursor = i
			break
		}
	}
	m.scrollToCursor()
}

func (m appModel) currentRow() (row, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return row{}, false
	}
	return m.rows[m.cursor], true
}

func (m *appModel) move(delta int) {
	if len(m.rows) == 0 {
		return
	}
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	m.status = ""
	m.scrollToCursor()
}

func (m *appModel) selectCurrent() {
	cur, ok := m.currentRow()
	if !ok {
		return
	}
	q := m.questions[cur.q]
	if cur.opt < 0 {
		m.status = ""
		return
	}
	o := q.Options[cur.opt]
	if o.IsSubquestion {
		m.status = "rows are labels; pick a column"
		return
	}

	prev := m.answers[q.ID]
	var next model.Answer
	switch {
	case q.Type.Spec().Multi:
		ids := make([]model.ID, 0, len(prev.OptionIDs)+1)
		for _, id := range prev.OptionIDs {
			if id != o.ID {
				ids = append(ids, id)
			}
		}
		if !prev.Contains(o.ID) {
			ids = append(ids, o.ID)
		}
		next = model.MultiAnswer(ids...)
	case prev.Contains(o.ID):
		next = model.Answer{}
	default:
		next = model.SingleAnswer(o.ID)
	}
	if err := m.editor.SetAnswer(q.ID, next); err != nil {
		m.status = editor.Message(err)
		return
	}
	m.status = ""
	m.refresh()
}

func (m appModel) bodyHeight() int {
	h := m.height - 4 - lipgloss.Height(m.help.View(m.keys))
	if h < 1 {
		h = 1
	}
	return h
}

func (m *appModel) scrollToCursor() {
	h := m.bodyHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+h {
		m.offset = m.cursor - h + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m appModel) View() string {
	var b strings.Builder
	mode := "respondent"
	if m.mode == visibility.Design {
		mode = "design"
	}
	header := styleTitle.Render(m.title) + "  " + styleMuted.Render(fmt.Sprintf("[%s, %d shown]", mode, len(m.questions)))
	b.WriteString(xansi.Truncate(header, m.width, "…"))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(styleMuted.Render("No questions to show."))
		b.WriteString("\n")
	}
	h := m.bodyHeight()
	end := m.offset + h
	if end > len(m.rows) {
		end = len(m.rows)
	}
	for i := m.offset; i < end; i++ {
		line := m.renderRow(m.rows[i])
		line = xansi.Truncate(line, m.width-2, "…")
		if i == m.cursor {
			line = styleCursor.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
		if r := m.rows[i]; r.opt < 0 && i == m.cursor {
			if ht := renderHelpText(m.questions[r.q].HelpText, m.width-4); ht != "" {
				b.WriteString(lipgloss.NewStyle().PaddingLeft(4).Render(ht))
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(styleStatus.Render(xansi.Truncate(m.status, m.width, "…")))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m appModel) renderRow(r row) string {
	q := m.questions[r.q]
	if r.opt < 0 {
		label := q.Text
		if strings.TrimSpace(label) == "" {
			label = "(untitled question)"
		}
		if q.Code != "" {
			label = q.Code + ". " + label
		}
		out := styleQuestion.Render(label)
		if m.editor.Settings(q.ID).Required != model.RequiredOff {
			out += styleRequired.Render(" *")
		}
		spec := q.Type.Spec()
		out += "  " + styleMuted.Render(spec.Label)
		if !spec.Choice {
			out += styleMuted.Render(" (free response)")
		}
		return out
	}
	o := q.Options[r.opt]
	if o.IsSubquestion {
		return "    " + styleMuted.Render(o.Text)
	}
	box := "( )"
	if q.Type.Spec().Multi {
		box = "[ ]"
	}
	if m.answers[q.ID].Contains(o.ID) {
		box = "(•)"
		if q.Type.Spec().Multi {
			box = "[x]"
		}
	}
	return "  " + box + " " + o.Text
}
