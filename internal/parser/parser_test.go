package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkdown(t *testing.T) {
	content := `---
title: Jane Doe
tags: [go, k8s]
---
# Resume

## Experience
Built **payment** systems in ` + "`Go`" + `.

## Education
BSc, see [portfolio](https://example.com).
`

	doc, err := ParseMarkdown(content)
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", doc.Title)
	assert.Equal(t, []any{"go", "k8s"}, doc.Frontmatter["tags"])

	plain := doc.PlainText()
	assert.True(t, strings.HasPrefix(plain, "Jane Doe\n\nResume\n"), plain)
	assert.Contains(t, plain, "Experience\nBuilt payment systems in Go.")
	assert.Contains(t, plain, "BSc, see portfolio.")
	assert.NotContains(t, plain, "#")
}

func TestPlainTextTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"title only in frontmatter", "---\nname: Jane Doe\n---\nGo engineer\n", "Jane Doe\n\nGo engineer"},
		{"title repeated in body", "---\ntitle: Jane Doe\n---\n# Jane Doe\nGo engineer\n", "Jane Doe\nGo engineer"},
		{"title from heading", "# Jane Doe\nGo engineer\n", "Jane Doe\nGo engineer"},
		{"no title", "Go engineer\n", "Go engineer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseMarkdown(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.PlainText())
		})
	}
}

func TestParseMarkdownTitleFromHeading(t *testing.T) {
	doc, err := ParseMarkdown("# John Smith\r\nSenior engineer\r\n")
	require.NoError(t, err)
	assert.Equal(t, "John Smith", doc.Title)
	assert.Empty(t, doc.Frontmatter)
}

func TestParseMarkdownInvalidFrontmatter(t *testing.T) {
	_, err := ParseMarkdown("---\ntitle: [unclosed\n---\nbody")
	assert.Error(t, err)
}

func TestParseDescription(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		data string
		want string
	}{
		{
			name: "yaml",
			ext:  ".yaml",
			data: "title: Backend Engineer\ndescription: Build APIs.\nrequirements:\n  - Go\n  - PostgreSQL\n",
			want: "Title: Backend Engineer\n\nBuild APIs.\n\nRequirements:\n- Go\n- PostgreSQL",
		},
		{
			name: "markdown frontmatter",
			ext:  ".md",
			data: "---\ntitle: SRE\nrequirements: [Linux]\n---\nKeep things running.\n",
			want: "Title: SRE\n\nKeep things running.\n\nRequirements:\n- Linux",
		},
		{
			name: "plain text",
			ext:  ".txt",
			data: "  Looking for a data engineer.  \n",
			want: "Looking for a data engineer.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDescription(tt.ext, []byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDescriptionEmpty(t *testing.T) {
	_, err := ParseDescription(".txt", []byte("   \n"))
	assert.ErrorIs(t, err, ErrEmptyDescription)

	_, err = ParseDescription(".yml", []byte("title: [broken"))
	assert.Error(t, err)
}

func TestLoadDescription(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yml")
	require.NoError(t, os.WriteFile(path, []byte("title: QA\n"), 0o644))

	got, err := LoadDescription(path)
	require.NoError(t, err)
	assert.Equal(t, "Title: QA", got)

	_, err = LoadDescription(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
