// Package publish exports surveys as Markdown documents.
package publish

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"surveyor/internal/model"
)

type WriteOptions struct {
	Overwrite bool
	Render    RenderOptions
}

type WriteResult struct {
	Written []string `json:"written"`
}

// WriteSurvey renders sv to <toDir>/surveys/<id>.md.
func WriteSurvey(sv model.Survey, toDir string, opt WriteOptions) (WriteResult, error) {
	if !sv.ID.Durable() {
		return WriteResult{}, errors.New("survey has not been saved")
	}
	toDir = strings.TrimSpace(toDir)
	if toDir == "" {
		return WriteResult{}, errors.New("missing --to")
	}
	toDir = filepath.Clean(toDir)

	md := RenderSurveyMarkdown(sv, opt.Render)

	outDir := filepath.Join(toDir, "surveys")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return WriteResult{}, err
	}
	outPath := filepath.Join(outDir, sv.ID.String()+".md")
	if err := writeFile(outPath, []byte(md), opt.Overwrite); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Written: []string{outPath}}, nil
}

func writeFile(path string, b []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.New("file exists (use --overwrite): " + path)
		}
	}
	return os.WriteFile(path, b, 0o644)
}
