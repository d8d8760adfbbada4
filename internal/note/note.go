package note

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"clip_bot/internal/model"
)

type frontmatter struct {
	Title       string `yaml:"title"`
	Source      string `yaml:"source"`
	Author      string `yaml:"author,omitempty"`
	Description string `yaml:"description,omitempty"`
	Site        string `yaml:"site,omitempty"`
	Published   string `yaml:"published,omitempty"`
	Clipped     string `yaml:"clipped"`
	Error       bool   `yaml:"error,omitempty"`
}

// Render formats a clip as a Markdown document with a YAML frontmatter
// block, a blank line, and the body.
func Render(clip *model.ClipResult, clippedAt time.Time) (string, error) {
	fm := frontmatter{
		Title:       clip.Title,
		Source:      clip.URL,
		Author:      clip.Author,
		Description: clip.Description,
		Site:        clip.SiteName,
		Published:   clip.Published,
		Clipped:     clippedAt.UTC().Format(time.RFC3339),
		Error:       clip.IsError,
	}
	out, err := yaml.Marshal(&fm)
	if err != nil {
		return "", fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(out)
	b.WriteString("---\n\n")
	b.WriteString(clip.Content)
	b.WriteString("\n")
	return b.String(), nil
}

// Build renders a clip into a note stored under folder.
func Build(folder string, clip *model.ClipResult, src Source) (model.Note, error) {
	content, err := Render(clip, src.At)
	if err != nil {
		return model.Note{}, err
	}
	return model.Note{
		Path:    folder + BuildFilename(clip.Title, src),
		Content: content,
	}, nil
}
