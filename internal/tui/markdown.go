package tui

import (
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
)

var (
	mdRendererMu sync.Mutex
	// Keyed by style and wrap width.
	mdRenderers = map[string]*glamour.TermRenderer{}
)

// renderHelpText renders a question's markdown help text without document
// margins so it lines up under the question.
func renderHelpText(md string, width int) string {
	md = strings.TrimSpace(md)
	if md == "" {
		return ""
	}
	if width < 10 {
		width = 10
	}
	style := markdownStyle()
	key := style + ":" + strconv.Itoa(width)

	mdRendererMu.Lock()
	r := mdRenderers[key]
	if r == nil {
		cfg := styles.DarkStyleConfig
		switch style {
		case "light":
			cfg = styles.LightStyleConfig
		case "notty":
			cfg = styles.NoTTYStyleConfig
		}
		zero := uint(0)
		cfg.Document.Margin = &zero
		cfg.Paragraph.Margin = &zero
		rr, err := glamour.NewTermRenderer(
			glamour.WithStyles(cfg),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			mdRendererMu.Unlock()
			return md
		}
		mdRenderers[key] = rr
		r = rr
	}
	mdRendererMu.Unlock()

	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}
