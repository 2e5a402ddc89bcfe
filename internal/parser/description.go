package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyDescription is returned when a description file has no usable text.
var ErrEmptyDescription = errors.New("job description is empty")

// JobDescription is a structured job description.
type JobDescription struct {
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	Requirements []string `yaml:"requirements"`
}

// Render flattens the description into the text sent to the scorer.
func (d JobDescription) Render() string {
	var b strings.Builder
	if d.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", d.Title)
	}
	if d.Description != "" {
		b.WriteString(strings.TrimSpace(d.Description))
		b.WriteString("\n")
	}
	if len(d.Requirements) > 0 {
		b.WriteString("\nRequirements:\n")
		for _, r := range d.Requirements {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(r))
		}
	}
	return strings.TrimSpace(b.String())
}

// LoadDescription reads a job description file. YAML files use the
// title/description/requirements layout, Markdown files may carry the same
// keys in frontmatter, and anything else is taken as plain text.
func LoadDescription(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read description: %w", err)
	}
	return ParseDescription(filepath.Ext(path), data)
}

// ParseDescription parses description content by file extension.
func ParseDescription(ext string, data []byte) (string, error) {
	var d JobDescription

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return "", fmt.Errorf("parse description yaml: %w", err)
		}

	case ".md", ".markdown":
		doc, err := ParseMarkdown(string(data))
		if err != nil {
			return "", err
		}
		d.Title = doc.Title
		d.Description = doc.GetFrontmatterString("description")
		if body := strings.TrimSpace(doc.Content); body != "" {
			d.Description = strings.TrimSpace(d.Description + "\n\n" + body)
		}
		d.Requirements = doc.GetFrontmatterStringSlice("requirements")

	default:
		d.Description = string(data)
	}

	text := d.Render()
	if text == "" {
		return "", ErrEmptyDescription
	}
	return text, nil
}
