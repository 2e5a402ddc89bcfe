// Package parser reads Markdown resumes and job description files.
package parser

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	emphasis     = regexp.MustCompile("(\\*\\*|\\*|`)([^*`]+)(\\*\\*|\\*|`)")
	linkRegex    = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
)

// MarkdownDoc represents a parsed Markdown document.
type MarkdownDoc struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from frontmatter or first h1
	Title string

	// Main content (after frontmatter)
	Content string
}

// ParseMarkdown parses a Markdown document. Invalid YAML frontmatter is an
// error.
func ParseMarkdown(content string) (*MarkdownDoc, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	doc := &MarkdownDoc{
		Frontmatter: make(map[string]any),
	}

	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx >= 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil {
				return nil, fmt.Errorf("parse frontmatter: %w", err)
			}
			if doc.Frontmatter == nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)

	return doc, nil
}

func extractTitle(fm map[string]any, content string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if name, ok := fm["name"].(string); ok && name != "" {
		return name
	}

	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}

	return ""
}

// PlainText renders the body without Markdown markup, so resumes written in
// Markdown reach the scorer as plain prose. A title that only appears in the
// frontmatter leads the text.
func (d *MarkdownDoc) PlainText() string {
	var b strings.Builder
	if d.Title != "" && !strings.Contains(d.Content, d.Title) {
		b.WriteString(d.Title)
		b.WriteString("\n\n")
	}
	scanner := bufio.NewScanner(strings.NewReader(d.Content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if match := headingRegex.FindStringSubmatch(line); len(match) > 0 {
			line = strings.TrimSpace(match[2])
		}
		line = linkRegex.ReplaceAllString(line, "$1")
		line = emphasis.ReplaceAllString(line, "$2")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
